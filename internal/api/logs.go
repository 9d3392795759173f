package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/p8labs/dockless/internal/logbuf"
)

func (s *Server) logsFor(id string) *logbuf.Buffer {
	if svc, err := s.node.Manager.Get(id); err == nil {
		return svc.Logs
	}
	return logbuf.New(filepath.Join(s.node.ServiceRoot(id), "logs", "service.log"))
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.node.Registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, errorMessage("service not found", err, r))
		return
	}

	entries, err := s.logsFor(id).GetAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, errorMessage("failed to read logs", err, r))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

const (
	logStreamPollInterval      = 500 * time.Millisecond
	logStreamKeepAliveInterval = 10 * time.Second
)

func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.node.Registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, errorMessage("service not found", err, r))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	buf := s.logsFor(id)
	lastCount := len(buf.GetRecent())

	pollTicker := time.NewTicker(logStreamPollInterval)
	defer pollTicker.Stop()
	lastSent := time.Now()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-pollTicker.C:
			entries := buf.GetRecent()
			if len(entries) > lastCount {
				for _, e := range entries[lastCount:] {
					data, err := json.Marshal(e)
					if err != nil {
						continue
					}
					fmt.Fprintf(w, "data: %s\n\n", data)
				}
				lastCount = len(entries)
				lastSent = time.Now()
				flusher.Flush()
			} else if time.Since(lastSent) >= logStreamKeepAliveInterval {
				fmt.Fprint(w, ": keep-alive\n\n")
				lastSent = time.Now()
				flusher.Flush()
			}
		}
	}
}

func (s *Server) clearLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.node.Registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, errorMessage("service not found", err, r))
		return
	}

	if err := s.logsFor(id).Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, errorMessage("failed to clear logs", err, r))
		return
	}
	writeMessage(w, http.StatusOK, "logs cleared")
}
