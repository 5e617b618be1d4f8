// Package types contains the wire types shared between the stream
// coordinator, the transport layer, and the engine boundary.
package types

import "encoding/json"

// EngineMessage is a single event produced by the query engine stream.
// The payload is forwarded to clients as-is; only the fields the
// coordinator inspects are typed.
type EngineMessage struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// Message carries the raw engine payload (assistant turns, tool
	// results, system notices). Opaque to the coordinator.
	Message json.RawMessage `json:"message,omitempty"`

	// Result fields, present on the terminal "result" message.
	Result     string                `json:"result,omitempty"`
	IsError    bool                  `json:"is_error,omitempty"`
	ModelUsage map[string]ModelUsage `json:"modelUsage,omitempty"`
}

// ModelUsage holds per-model token counters from a result message.
// Cumulative counters track the whole session; the plain counters are
// per-call fallbacks.
type ModelUsage struct {
	InputTokens              int `json:"inputTokens,omitempty"`
	OutputTokens             int `json:"outputTokens,omitempty"`
	CacheReadInputTokens     int `json:"cacheReadInputTokens,omitempty"`
	CacheCreationInputTokens int `json:"cacheCreationInputTokens,omitempty"`

	CumulativeInputTokens              int `json:"cumulativeInputTokens,omitempty"`
	CumulativeOutputTokens             int `json:"cumulativeOutputTokens,omitempty"`
	CumulativeCacheReadInputTokens     int `json:"cumulativeCacheReadInputTokens,omitempty"`
	CumulativeCacheCreationInputTokens int `json:"cumulativeCacheCreationInputTokens,omitempty"`
}

// TokenBudget is the derived used/ceiling pair reported to clients.
type TokenBudget struct {
	Used  int `json:"used"`
	Total int `json:"total"`
}

// Decision is a client's answer to a pending tool approval. Transient;
// never persisted.
type Decision struct {
	Allow         bool   `json:"allow"`
	UpdatedInput  any    `json:"updatedInput,omitempty"`
	Message       string `json:"message,omitempty"`
	RememberEntry string `json:"rememberEntry,omitempty"`
	Cancelled     bool   `json:"cancelled,omitempty"`
}

// ToolsSettings is the caller-supplied tool permission configuration.
type ToolsSettings struct {
	AllowedTools    []string `json:"allowedTools,omitempty"`
	DisallowedTools []string `json:"disallowedTools,omitempty"`
	SkipPermissions bool     `json:"skipPermissions,omitempty"`
}

// InlineImage is a raw inline image payload attached to a prompt,
// encoded as a data URL ("data:image/png;base64,...").
type InlineImage struct {
	Data string `json:"data"`
}

// MCPServers maps server names to their raw configuration. The
// coordinator never interprets these; they pass through to the engine.
type MCPServers map[string]json.RawMessage
