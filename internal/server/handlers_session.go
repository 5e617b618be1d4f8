package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coderelay/coderelay/internal/logging"
	"github.com/coderelay/coderelay/internal/session"
)

// startSessionRequest is the body for POST /session.
type startSessionRequest struct {
	Prompt string `json:"prompt"`
	session.Options
}

// startSession kicks off a streamed interaction. The response returns
// immediately; all output arrives over the event stream.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Prompt == "" && req.SessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "prompt or sessionId required")
		return
	}

	opts := req.Options
	tr := newBusTransport(s.bus)

	// The stream outlives this request; events flow over SSE.
	go func() {
		if err := s.coordinator.Run(context.Background(), req.Prompt, &opts, tr); err != nil {
			logging.Error().Err(err).Str("sessionID", opts.SessionID).Msg("session run failed")
		}
	}()

	resp := map[string]any{"accepted": true}
	if req.SessionID != "" {
		resp["sessionId"] = req.SessionID
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// listSessions returns the ids of all active sessions.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.coordinator.ActiveSessions()
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

// getSessionStatus reports whether one session is active.
func (s *Server) getSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"active":    s.coordinator.IsSessionActive(sessionID),
	})
}

// abortSession interrupts a running session.
func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.coordinator.AbortSession(sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found: "+sessionID)
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeSuccess(w)
}

// health is a liveness probe.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
