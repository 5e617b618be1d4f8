// Package session tracks active engine streams and coordinates their
// delivery to the transport.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coderelay/coderelay/internal/logging"
)

// ErrSessionNotFound is returned when an operation names a session the
// registry does not hold.
var ErrSessionNotFound = errors.New("session not found")

// Status is the lifecycle state of a tracked session.
type Status string

const (
	StatusActive  Status = "active"
	StatusAborted Status = "aborted"
)

// Handle is the engine-owned control surface stored per session. The
// registry only ever calls Interrupt on it.
type Handle interface {
	Interrupt() error
}

// Session is one registered streaming interaction.
type Session struct {
	ID        string
	StartedAt time.Time
	Status    Status

	handle  Handle
	cleanup func()
}

// Registry is the table of active sessions, keyed by engine-assigned
// session id. Registries are constructed explicitly and injected;
// entries for different ids never contend beyond the map itself.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Add registers a session. cleanup releases per-session resources
// (temp attachments) and may be nil.
func (r *Registry) Add(sessionID string, handle Handle, cleanup func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sessionID] = &Session{
		ID:        sessionID,
		StartedAt: time.Now(),
		Status:    StatusActive,
		handle:    handle,
		cleanup:   cleanup,
	}
}

// Remove drops a session from the registry. Removing an absent id is a
// no-op; stream completion and out-of-band aborts may race to it.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Get returns the session for an id.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// ListIDs returns the ids of all registered sessions.
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// IsActive reports whether a session is registered and active.
func (r *Registry) IsActive(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return ok && s.Status == StatusActive
}

// Abort interrupts a running session out of band. On success the
// session is marked aborted, its resources are released, and the entry
// is removed. When the interrupt itself fails the entry stays
// registered so the caller can retry or inspect it.
func (r *Registry) Abort(sessionID string) error {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return ErrSessionNotFound
	}

	logging.Info().Str("sessionID", sessionID).Msg("aborting session")

	if err := s.handle.Interrupt(); err != nil {
		logging.Error().Err(err).Str("sessionID", sessionID).Msg("session interrupt failed")
		return fmt.Errorf("interrupt session %s: %w", sessionID, err)
	}

	r.mu.Lock()
	s.Status = StatusAborted
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if s.cleanup != nil {
		s.cleanup()
	}

	return nil
}
