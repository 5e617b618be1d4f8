package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Session routes
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.startSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSessionStatus)
			r.Post("/abort", s.abortSession)
		})
	})

	// Permission decisions
	r.Post("/permission/{requestID}", s.respondPermission)

	// Event streaming (SSE)
	r.Get("/event", s.sessionEvents)
	r.Get("/global/event", s.globalEvents)

	// Health
	r.Get("/health", s.health)
}
