// Package approval suspends tool execution until a client decision,
// a timeout, or upstream cancellation arrives, whichever comes first.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/coderelay/coderelay/pkg/types"
)

// Cancellation reasons reported through the onCancel callback.
const (
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
)

// Broker tracks in-flight approval requests. Requests for different
// ids are fully independent; the broker is safe for use from many
// concurrently streaming sessions.
type Broker struct {
	mu      sync.Mutex
	pending map[string]chan *types.Decision
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		pending: make(map[string]chan *types.Decision),
	}
}

// Begin registers a pending request and blocks until it settles.
// Exactly one of three paths resolves it:
//
//   - a decision arrives via Resolve: that decision is returned;
//   - the timeout expires: onCancel("timeout") fires and nil is
//     returned, distinguishing "no answer" from an explicit cancel;
//   - ctx is cancelled (the engine gave up on the call):
//     onCancel("cancelled") fires and a Decision with Cancelled set is
//     returned.
//
// The pending entry and the timer are released on every path.
func (b *Broker) Begin(ctx context.Context, requestID string, timeout time.Duration, onCancel func(reason string)) *types.Decision {
	if ctx.Err() != nil {
		if onCancel != nil {
			onCancel(ReasonCancelled)
		}
		return &types.Decision{Cancelled: true}
	}

	ch := make(chan *types.Decision, 1)
	b.mu.Lock()
	b.pending[requestID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, requestID)
		b.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case decision := <-ch:
		return decision
	case <-timer.C:
		if onCancel != nil {
			onCancel(ReasonTimeout)
		}
		return nil
	case <-ctx.Done():
		if onCancel != nil {
			onCancel(ReasonCancelled)
		}
		return &types.Decision{Cancelled: true}
	}
}

// Resolve delivers a decision to a pending request. Unknown or
// already-settled ids are a no-op; late and duplicate resolutions must
// never error or re-trigger side effects.
func (b *Broker) Resolve(requestID string, decision *types.Decision) {
	b.mu.Lock()
	ch, ok := b.pending[requestID]
	if ok {
		// Take-and-clear: only the first resolver gets the channel, so
		// the buffered send below can never block or double-fire.
		delete(b.pending, requestID)
	}
	b.mu.Unlock()

	if ok {
		ch <- decision
	}
}

// Pending reports whether a request id is still awaiting a decision.
func (b *Broker) Pending(requestID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[requestID]
	return ok
}
