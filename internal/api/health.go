package api

import (
	"net/http"

	"github.com/p8labs/dockless/internal/stats"
)

type healthResponse struct {
	NodeID       string     `json:"node_id"`
	ServiceCount int        `json:"service_count"`
	RunningCount int        `json:"running_count"`
	Host         stats.Host `json:"host"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		NodeID:       s.node.NodeID,
		ServiceCount: s.node.Manager.ServiceCount(),
		RunningCount: s.node.Manager.RunningCount(),
		Host:         stats.CollectHost(r.Context()),
	})
}
