// Package permission evaluates UI-configured tool permission rules for
// streamed engine sessions. Rules express user preferences, not a
// security boundary.
package permission

import (
	"regexp"
	"strings"
)

// ShellTool is the tool name the prefixed-command rule form applies to.
const ShellTool = "Bash"

// bashRule captures the Bash(<prefix>:*) rule shape used by the UI.
var bashRule = regexp.MustCompile(`^Bash\((.+):\*\)$`)

// MatchesToolPermission reports whether a stored rule matches a tool
// call. Two forms are supported: an exact tool-name match, and the
// Bash(<prefix>:*) shorthand which matches shell commands starting with
// the given prefix. The matcher is intentionally this narrow; rule sets
// in the wild depend on exactly these two cases.
func MatchesToolPermission(rule, toolName string, input any) bool {
	if rule == "" || toolName == "" {
		return false
	}

	if rule == toolName {
		return true
	}

	m := bashRule.FindStringSubmatch(rule)
	if toolName != ShellTool || m == nil {
		return false
	}

	command := CommandText(input)
	if command == "" {
		return false
	}

	return hasCommandPrefix(command, m[1])
}

// hasCommandPrefix reports whether command starts with prefix at a word
// boundary: "git status" matches prefix "git", "gitx status" does not.
func hasCommandPrefix(command, prefix string) bool {
	if !strings.HasPrefix(command, prefix) {
		return false
	}
	if len(command) == len(prefix) {
		return true
	}
	return command[len(prefix)] == ' ' || command[len(prefix)] == '\t'
}

// CommandText extracts the textual command from a shell tool input,
// which arrives either as a bare string or as an object with a
// "command" field. Anything else yields "".
func CommandText(input any) string {
	switch v := input.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if cmd, ok := v["command"].(string); ok {
			return strings.TrimSpace(cmd)
		}
	}
	return ""
}
