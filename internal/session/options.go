package session

import (
	"github.com/coderelay/coderelay/internal/engine"
	"github.com/coderelay/coderelay/internal/permission"
	"github.com/coderelay/coderelay/pkg/types"
)

// Options are the caller-supplied options for one stream, as they
// arrive from the client before resolution.
type Options struct {
	// SessionID resumes an existing engine session when set.
	SessionID      string               `json:"sessionId,omitempty"`
	Cwd            string               `json:"cwd,omitempty"`
	ToolsSettings  *types.ToolsSettings `json:"toolsSettings,omitempty"`
	PermissionMode string               `json:"permissionMode,omitempty"`
	Images         []types.InlineImage  `json:"images,omitempty"`
	Model          string               `json:"model,omitempty"`
}

// planModeTools are added to the allow list in plan mode so the engine
// can explore and draft without prompting for read-only work.
var planModeTools = []string{
	"Read",
	"Task",
	"exit_plan_mode",
	"TodoRead",
	"TodoWrite",
	"WebFetch",
	"WebSearch",
}

// resolveOptions maps caller options to engine options. Tool lists are
// always materialized: an absent list is an empty list, never an
// implicit "allow everything".
func resolveOptions(opts *Options, defaultModel string) *engine.Options {
	settings := opts.ToolsSettings
	if settings == nil {
		settings = &types.ToolsSettings{}
	}

	mode := opts.PermissionMode
	if mode == "" {
		mode = string(permission.ModeDefault)
	}
	if settings.SkipPermissions && mode != string(permission.ModePlan) {
		mode = string(permission.ModeBypass)
	}

	allowed := make([]string, 0, len(settings.AllowedTools)+len(planModeTools))
	allowed = append(allowed, settings.AllowedTools...)
	if mode == string(permission.ModePlan) {
		for _, tool := range planModeTools {
			if !contains(allowed, tool) {
				allowed = append(allowed, tool)
			}
		}
	}

	disallowed := make([]string, 0, len(settings.DisallowedTools))
	disallowed = append(disallowed, settings.DisallowedTools...)

	model := opts.Model
	if model == "" {
		model = defaultModel
	}

	return &engine.Options{
		Cwd:             opts.Cwd,
		PermissionMode:  mode,
		AllowedTools:    allowed,
		DisallowedTools: disallowed,
		Model:           model,
		Resume:          opts.SessionID,
		SettingSources:  []string{"project", "user", "local"},
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
