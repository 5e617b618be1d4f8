// Package engine defines the boundary to the external agent query
// engine and ships a subprocess-backed implementation of it. The
// coordinator only ever sees the Engine and Stream interfaces.
package engine

import (
	"context"

	"github.com/coderelay/coderelay/pkg/types"
)

// Behavior is the outcome of a tool approval callback.
type Behavior string

const (
	BehaviorAllow Behavior = "allow"
	BehaviorDeny  Behavior = "deny"
)

// ToolDecision is the coordinator's answer to a tool-use request.
type ToolDecision struct {
	Behavior Behavior
	// UpdatedInput replaces the tool input when allowing. Required on
	// allow; engines treat a nil input as empty.
	UpdatedInput any
	// Message explains a denial to the model.
	Message string
}

// ToolApprovalFunc is invoked by the engine before every tool call.
// ctx carries the engine's per-call cancellation signal; when it fires
// the engine is no longer interested in the answer.
type ToolApprovalFunc func(ctx context.Context, toolName string, input any) (*ToolDecision, error)

// Options are the resolved options for one query.
type Options struct {
	Cwd             string
	PermissionMode  string
	AllowedTools    []string
	DisallowedTools []string
	Model           string
	// Resume restarts an existing engine session by id.
	Resume         string
	SettingSources []string
	MCPServers     types.MCPServers
	CanUseTool     ToolApprovalFunc
}

// Engine produces response streams for prompts.
type Engine interface {
	// Query starts a stream. The returned stream is an ordered, finite
	// sequence of messages unless interrupted.
	Query(ctx context.Context, prompt string, opts *Options) (Stream, error)
}

// Stream is one in-flight engine response.
type Stream interface {
	// Recv blocks for the next message. It returns io.EOF when the
	// engine has finished producing, including after an interrupt.
	Recv() (*types.EngineMessage, error)
	// Interrupt asks the engine to stop producing early. The stream
	// still terminates through Recv returning io.EOF.
	Interrupt() error
}
