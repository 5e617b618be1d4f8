package event

import "github.com/coderelay/coderelay/pkg/types"

// SessionCreatedData is the payload for session-created events,
// emitted exactly once when a brand-new session receives its id.
type SessionCreatedData struct {
	SessionID string `json:"sessionId"`
}

// ClaudeResponseData wraps one engine message forwarded to the client.
type ClaudeResponseData struct {
	Data      *types.EngineMessage `json:"data"`
	SessionID string               `json:"sessionId"`
}

// TokenBudgetData is the payload for token-budget events.
type TokenBudgetData struct {
	Data      *types.TokenBudget `json:"data"`
	SessionID string             `json:"sessionId"`
}

// PermissionRequestData asks the client to approve or deny a tool call.
// Suggestions are optional remember-entry hints derived from the
// command; empty for non-shell tools.
type PermissionRequestData struct {
	RequestID   string   `json:"requestId"`
	ToolName    string   `json:"toolName"`
	Input       any      `json:"input"`
	Suggestions []string `json:"suggestions,omitempty"`
	SessionID   string   `json:"sessionId"`
}

// PermissionCancelledData tells the client a pending approval prompt is
// dead. Reason is "timeout" or "cancelled".
type PermissionCancelledData struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason"`
	SessionID string `json:"sessionId"`
}

// ClaudeCompleteData is the payload for claude-complete events.
type ClaudeCompleteData struct {
	SessionID    string `json:"sessionId"`
	ExitCode     int    `json:"exitCode"`
	IsNewSession bool   `json:"isNewSession"`
}

// ClaudeErrorData is the payload for claude-error events.
type ClaudeErrorData struct {
	Error     string `json:"error"`
	SessionID string `json:"sessionId"`
}

// SessionID extracts the session id an event belongs to, or "" when the
// payload carries none.
func (e Event) SessionID() string {
	switch data := e.Data.(type) {
	case SessionCreatedData:
		return data.SessionID
	case ClaudeResponseData:
		return data.SessionID
	case TokenBudgetData:
		return data.SessionID
	case PermissionRequestData:
		return data.SessionID
	case PermissionCancelledData:
		return data.SessionID
	case ClaudeCompleteData:
		return data.SessionID
	case ClaudeErrorData:
		return data.SessionID
	}
	return ""
}
