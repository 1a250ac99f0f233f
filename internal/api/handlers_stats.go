package api

import (
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.d.Stats == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}
	resp := map[string]any{"stats": s.d.Stats.Snapshot()}
	if s.d.Orchestrator != nil {
		resp["queue_depth"] = s.d.Orchestrator.QueueDepth()
	}
	writeJSON(w, http.StatusOK, resp)
}
