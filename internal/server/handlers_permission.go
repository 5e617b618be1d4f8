package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coderelay/coderelay/pkg/types"
)

// respondPermission delivers a client decision for a pending tool
// approval. Unknown or already-settled request ids are accepted and
// ignored; the decision window may have closed while the response was
// in flight.
func (s *Server) respondPermission(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	var decision types.Decision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	s.coordinator.ResolveApproval(requestID, &decision)
	writeSuccess(w)
}
