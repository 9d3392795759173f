package api

import (
	"net/http"

	"github.com/p8labs/dockless/internal/stats"
)

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.node.Registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, errorMessage("service not found", err, r))
		return
	}

	pid := 0
	if svc, err := s.node.Manager.Get(id); err == nil {
		pid = svc.PID()
	}

	writeJSON(w, http.StatusOK, stats.CollectProcess(r.Context(), id, pid))
}
