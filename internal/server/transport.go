package server

import (
	"sync"

	"github.com/coderelay/coderelay/internal/event"
	"github.com/coderelay/coderelay/internal/logging"
)

// busTransport forwards coordinator events onto the shared event bus.
// PublishSync keeps per-session events in production order; SSE
// subscribers rely on session-created preceding the first response.
type busTransport struct {
	bus *event.Bus

	mu        sync.Mutex
	sessionID string
}

func newBusTransport(bus *event.Bus) *busTransport {
	return &busTransport{bus: bus}
}

// Send publishes the event synchronously.
func (t *busTransport) Send(ev event.Event) {
	t.bus.PublishSync(ev)
}

// BindSession records the engine-assigned session id once known.
func (t *busTransport) BindSession(sessionID string) {
	t.mu.Lock()
	t.sessionID = sessionID
	t.mu.Unlock()
	logging.Debug().Str("sessionID", sessionID).Msg("transport bound to session")
}

// SessionID returns the bound session id, or "" before binding.
func (t *busTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}
