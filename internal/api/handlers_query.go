package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dgallion1/opsrag/internal/query"
)

// handleQuery streams a grounded answer as text/plain. Sources follow the
// answer after answer.SourcesSentinel.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 256<<10)

	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Answers can outlast the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := s.d.Query.Answer(r.Context(), w, req); err != nil {
		s.log.Error("answer", "error", err)
	}
}
