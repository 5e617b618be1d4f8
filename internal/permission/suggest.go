package permission

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// shellCommand is one parsed invocation inside a shell command line.
type shellCommand struct {
	Name       string
	Subcommand string // first non-flag argument, e.g. "commit" in "git commit"
}

// SuggestRules derives remember-entry candidates for an escalated shell
// tool call. For "git commit -m msg && npm install" it suggests
// Bash(git commit:*) and Bash(npm install:*). The result rides along on
// the permission request so the client can offer one-click rules; the
// matcher itself stays prefix-based.
func SuggestRules(command string) []string {
	commands, err := parseShellCommand(command)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var rules []string
	for _, cmd := range commands {
		// cd only changes directories; a rule for it is never useful.
		if cmd.Name == "cd" {
			continue
		}
		prefix := cmd.Name
		if cmd.Subcommand != "" {
			prefix = cmd.Name + " " + cmd.Subcommand
		}
		rule := fmt.Sprintf("Bash(%s:*)", prefix)
		if !seen[rule] {
			seen[rule] = true
			rules = append(rules, rule)
		}
	}
	return rules
}

// parseShellCommand parses a command line into its invocations.
func parseShellCommand(command string) ([]shellCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	var commands []shellCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := extractCall(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})

	return commands, nil
}

func extractCall(call *syntax.CallExpr) *shellCommand {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &shellCommand{Name: wordToString(call.Args[0])}
	if cmd.Name == "" {
		return nil
	}

	for _, arg := range call.Args[1:] {
		argStr := wordToString(arg)
		if cmd.Subcommand == "" && !strings.HasPrefix(argStr, "-") {
			cmd.Subcommand = argStr
			break
		}
	}

	return cmd
}

// wordToString flattens a syntax.Word into plain text. Dynamic parts
// (expansions, substitutions) become placeholders.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}
