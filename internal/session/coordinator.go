package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/coderelay/coderelay/internal/approval"
	"github.com/coderelay/coderelay/internal/attachment"
	"github.com/coderelay/coderelay/internal/config"
	"github.com/coderelay/coderelay/internal/engine"
	"github.com/coderelay/coderelay/internal/event"
	"github.com/coderelay/coderelay/internal/logging"
	"github.com/coderelay/coderelay/internal/permission"
	"github.com/coderelay/coderelay/internal/usage"
	"github.com/coderelay/coderelay/pkg/types"
)

// Transport delivers events to the connected client. Send is
// fire-and-forget; the coordinator assumes only that the call returns.
type Transport interface {
	Send(ev event.Event)
}

// SessionBinder is optionally implemented by transports that want to
// learn the session id once it is captured.
type SessionBinder interface {
	BindSession(sessionID string)
}

// Limits are the runtime-tunable knobs of the coordinator.
type Limits struct {
	// ApprovalTimeout bounds how long an escalated tool call waits for
	// a client decision before being denied.
	ApprovalTimeout time.Duration
	// TokenBudget is the ceiling paired with usage reports.
	TokenBudget int
}

// Coordinator drives one engine stream per Run call: it starts the
// query, intercepts tool calls through the permission rules and the
// approval broker, forwards every engine message to the transport in
// order, and keeps the registry in sync with the stream lifecycle.
type Coordinator struct {
	engine      engine.Engine
	registry    *Registry
	approvals   *approval.Broker
	attachments *attachment.Store

	defaultModel string

	mu     sync.RWMutex
	limits Limits
}

// NewCoordinator wires a coordinator from its collaborators.
func NewCoordinator(
	eng engine.Engine,
	registry *Registry,
	approvals *approval.Broker,
	attachments *attachment.Store,
	limits Limits,
	defaultModel string,
) *Coordinator {
	if limits.TokenBudget <= 0 {
		limits.TokenBudget = usage.DefaultBudget
	}
	return &Coordinator{
		engine:       eng,
		registry:     registry,
		approvals:    approvals,
		attachments:  attachments,
		limits:       limits,
		defaultModel: defaultModel,
	}
}

// SetLimits replaces the runtime limits; applies to calls made after it.
func (c *Coordinator) SetLimits(limits Limits) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits = limits
}

// Limits returns the current runtime limits.
func (c *Coordinator) Limits() Limits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limits
}

// Registry exposes the session registry for out-of-band control.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// ResolveApproval delivers a client decision to a pending tool
// approval. Safe to call with unknown or already-settled request ids.
func (c *Coordinator) ResolveApproval(requestID string, decision *types.Decision) {
	c.approvals.Resolve(requestID, decision)
}

// AbortSession interrupts a running session out of band.
func (c *Coordinator) AbortSession(sessionID string) error {
	return c.registry.Abort(sessionID)
}

// ActiveSessions returns the ids of all running sessions.
func (c *Coordinator) ActiveSessions() []string {
	return c.registry.ListIDs()
}

// IsSessionActive reports whether a session is currently running.
func (c *Coordinator) IsSessionActive(sessionID string) bool {
	return c.registry.IsActive(sessionID)
}

// runPhase is the lifecycle of one Run call.
type runPhase int

const (
	// phasePendingID: streaming has started but no message has carried a
	// session id yet.
	phasePendingID runPhase = iota
	phaseStreaming
	phaseCompleted
	phaseErrored
)

// runState is the per-Run mutable state shared with the approval
// callback, which the engine may invoke from its own goroutine.
type runState struct {
	mu        sync.Mutex
	sessionID string
	resumed   bool
	phase     runPhase
}

func newRunState(sessionID string) *runState {
	r := &runState{sessionID: sessionID, resumed: sessionID != ""}
	if r.resumed {
		r.phase = phaseStreaming
	}
	return r
}

func (r *runState) id() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// capture records the first observed session id and moves the run to
// the streaming phase. Returns true only for the transition from
// unknown to known; session-created piggybacks on that single edge.
func (r *runState) capture(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != phasePendingID || r.sessionID != "" {
		return false
	}
	r.sessionID = sessionID
	r.phase = phaseStreaming
	return true
}

func (r *runState) finish(phase runPhase) {
	r.mu.Lock()
	r.phase = phase
	r.mu.Unlock()
}

// Run executes one streamed interaction to completion or failure.
//
// A brand-new session emits session-created exactly once, before any
// response event. Stream errors clean up, emit claude-error, and
// propagate to the caller. Normal exhaustion unregisters the session,
// releases attachments, and emits claude-complete.
func (c *Coordinator) Run(ctx context.Context, prompt string, opts *Options, tr Transport) error {
	if opts == nil {
		opts = &Options{}
	}

	run := newRunState(opts.SessionID)

	resolved := resolveOptions(opts, c.defaultModel)
	resolved.MCPServers = config.LoadMCPServers(opts.Cwd)

	finalPrompt, attachments := c.attachments.Materialize(prompt, opts.Images, opts.Cwd)

	rules := permission.NewRuleSet(
		permission.Mode(resolved.PermissionMode),
		resolved.AllowedTools,
		resolved.DisallowedTools,
	)
	resolved.CanUseTool = c.approvalCallback(rules, tr, run)

	logging.Info().
		Str("sessionID", run.id()).
		Str("model", resolved.Model).
		Str("permissionMode", resolved.PermissionMode).
		Msg("starting engine stream")

	stream, err := c.engine.Query(ctx, finalPrompt, resolved)
	if err != nil {
		run.finish(phaseErrored)
		attachments.Cleanup()
		c.sendError(tr, run.id(), err)
		return fmt.Errorf("engine query: %w", err)
	}

	// Resuming a known session: register immediately so it is
	// abortable before the first event arrives.
	if run.resumed {
		c.registry.Add(run.id(), stream, attachments.Cleanup)
	}

	if err := c.consume(stream, run, attachments, tr); err != nil {
		run.finish(phaseErrored)
		if id := run.id(); id != "" {
			c.registry.Remove(id)
		}
		attachments.Cleanup()
		c.sendError(tr, run.id(), err)
		return err
	}

	run.finish(phaseCompleted)

	// Removal is idempotent; an out-of-band abort may already have
	// dropped the entry.
	if id := run.id(); id != "" {
		c.registry.Remove(id)
	}
	attachments.Cleanup()

	tr.Send(event.Event{Type: event.ClaudeComplete, Data: event.ClaudeCompleteData{
		SessionID:    run.id(),
		ExitCode:     0,
		IsNewSession: !run.resumed && prompt != "",
	}})

	logging.Info().Str("sessionID", run.id()).Msg("engine stream complete")
	return nil
}

// consume drives the stream until exhaustion, forwarding every message
// in production order.
func (c *Coordinator) consume(stream engine.Stream, run *runState, attachments *attachment.Handle, tr Transport) error {
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("engine stream: %w", err)
		}

		if msg.SessionID != "" && run.capture(msg.SessionID) {
			// Register the attachment release here too so an out-of-band
			// abort frees the temp files even if the stream never ends.
			c.registry.Add(msg.SessionID, stream, attachments.Cleanup)
			if binder, ok := tr.(SessionBinder); ok {
				binder.BindSession(msg.SessionID)
			}
			if !run.resumed {
				tr.Send(event.Event{Type: event.SessionCreated, Data: event.SessionCreatedData{
					SessionID: msg.SessionID,
				}})
			}
		}

		tr.Send(event.Event{Type: event.ClaudeResponse, Data: event.ClaudeResponseData{
			Data:      msg,
			SessionID: run.id(),
		}})

		if msg.Type == "result" {
			if budget := usage.ExtractTokenBudget(msg, c.Limits().TokenBudget); budget != nil {
				tr.Send(event.Event{Type: event.TokenBudget, Data: event.TokenBudgetData{
					Data:      budget,
					SessionID: run.id(),
				}})
			}
		}
	}
}

// approvalCallback builds the per-stream tool interception callback.
// Policy order: bypass mode, deny rules, allow rules, then escalation
// to the client. Every failure path resolves to a denial; tool calls
// never fail open.
func (c *Coordinator) approvalCallback(rules *permission.RuleSet, tr Transport, run *runState) engine.ToolApprovalFunc {
	return func(ctx context.Context, toolName string, input any) (*engine.ToolDecision, error) {
		if rules.Bypass() {
			return allowTool(input), nil
		}

		switch rules.Evaluate(toolName, input) {
		case permission.VerdictDeny:
			return denyTool("Tool disallowed by settings"), nil
		case permission.VerdictAllow:
			return allowTool(input), nil
		}

		requestID := ulid.Make().String()

		var suggestions []string
		if toolName == permission.ShellTool {
			if cmd := permission.CommandText(input); cmd != "" {
				suggestions = permission.SuggestRules(cmd)
			}
		}

		tr.Send(event.Event{Type: event.PermissionRequest, Data: event.PermissionRequestData{
			RequestID:   requestID,
			ToolName:    toolName,
			Input:       input,
			Suggestions: suggestions,
			SessionID:   run.id(),
		}})

		decision := c.approvals.Begin(ctx, requestID, c.Limits().ApprovalTimeout, func(reason string) {
			tr.Send(event.Event{Type: event.PermissionCancelled, Data: event.PermissionCancelledData{
				RequestID: requestID,
				Reason:    reason,
				SessionID: run.id(),
			}})
		})

		if decision == nil {
			return denyTool("Permission request timed out"), nil
		}
		if decision.Cancelled {
			return denyTool("Permission request cancelled"), nil
		}

		if decision.Allow {
			rules.Remember(decision.RememberEntry)
			updated := input
			if decision.UpdatedInput != nil {
				updated = decision.UpdatedInput
			}
			return allowTool(updated), nil
		}

		message := decision.Message
		if message == "" {
			message = "User denied tool use"
		}
		return denyTool(message), nil
	}
}

func (c *Coordinator) sendError(tr Transport, sessionID string, err error) {
	logging.Error().Err(err).Str("sessionID", sessionID).Msg("engine stream failed")
	tr.Send(event.Event{Type: event.ClaudeError, Data: event.ClaudeErrorData{
		Error:     err.Error(),
		SessionID: sessionID,
	}})
}

func allowTool(input any) *engine.ToolDecision {
	return &engine.ToolDecision{Behavior: engine.BehaviorAllow, UpdatedInput: input}
}

func denyTool(message string) *engine.ToolDecision {
	return &engine.ToolDecision{Behavior: engine.BehaviorDeny, Message: message}
}
