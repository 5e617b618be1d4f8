package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coderelay/coderelay/pkg/types"
)

func TestResolveOptionsDefaults(t *testing.T) {
	resolved := resolveOptions(&Options{}, "sonnet")

	assert.Equal(t, "default", resolved.PermissionMode)
	assert.Equal(t, "sonnet", resolved.Model)
	assert.Equal(t, "", resolved.Resume)
	assert.NotNil(t, resolved.AllowedTools)
	assert.NotNil(t, resolved.DisallowedTools)
	assert.Empty(t, resolved.AllowedTools)
	assert.Empty(t, resolved.DisallowedTools)
	assert.Equal(t, []string{"project", "user", "local"}, resolved.SettingSources)
}

func TestResolveOptionsExplicitModelWins(t *testing.T) {
	resolved := resolveOptions(&Options{Model: "opus"}, "sonnet")

	assert.Equal(t, "opus", resolved.Model)
}

func TestResolveOptionsSkipPermissions(t *testing.T) {
	resolved := resolveOptions(&Options{
		ToolsSettings: &types.ToolsSettings{SkipPermissions: true},
	}, "sonnet")

	assert.Equal(t, "bypassPermissions", resolved.PermissionMode)
}

func TestResolveOptionsPlanModeWinsOverSkip(t *testing.T) {
	resolved := resolveOptions(&Options{
		PermissionMode: "plan",
		ToolsSettings:  &types.ToolsSettings{SkipPermissions: true},
	}, "sonnet")

	assert.Equal(t, "plan", resolved.PermissionMode)
}

func TestResolveOptionsPlanModeAddsReadOnlyTools(t *testing.T) {
	resolved := resolveOptions(&Options{
		PermissionMode: "plan",
		ToolsSettings:  &types.ToolsSettings{AllowedTools: []string{"Read", "Grep"}},
	}, "sonnet")

	assert.Contains(t, resolved.AllowedTools, "Grep")
	for _, tool := range planModeTools {
		assert.Contains(t, resolved.AllowedTools, tool)
	}

	// Read was already present; it must not be duplicated.
	count := 0
	for _, tool := range resolved.AllowedTools {
		if tool == "Read" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestResolveOptionsResumeCarriesSessionID(t *testing.T) {
	resolved := resolveOptions(&Options{SessionID: "sess-9"}, "sonnet")

	assert.Equal(t, "sess-9", resolved.Resume)
}

func TestResolveOptionsCopiesToolLists(t *testing.T) {
	settings := &types.ToolsSettings{
		AllowedTools:    []string{"Read"},
		DisallowedTools: []string{"WebFetch"},
	}
	resolved := resolveOptions(&Options{ToolsSettings: settings}, "sonnet")

	settings.AllowedTools[0] = "Write"
	settings.DisallowedTools[0] = "Bash"

	assert.Equal(t, []string{"Read"}, resolved.AllowedTools)
	assert.Equal(t, []string{"WebFetch"}, resolved.DisallowedTools)
}
