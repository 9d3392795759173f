package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/p8labs/dockless/internal/logbuf"
	"github.com/p8labs/dockless/internal/registry"
	"github.com/p8labs/dockless/internal/runtime"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// deriveID mirrors the original init_service id derivation: lowercase,
// collapse whitespace runs to a single "-", then drop (not replace) any
// character that isn't alphanumeric or "-". Inner hyphens, including
// consecutive pre-existing ones, are left untouched; leading and trailing
// hyphens are trimmed from the result.
func deriveID(name string) string {
	lowered := whitespaceRun.ReplaceAllString(strings.ToLower(name), "-")

	var b strings.Builder
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}

type serviceSummary struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	State runtime.State `json:"state"`
	Ready bool          `json:"ready"`
}

func (s *Server) stateFor(def registry.ServiceDefinition) runtime.State {
	if svc, err := s.node.Manager.Get(def.ID); err == nil {
		return svc.State()
	}
	return runtime.StateStopped
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	defs := s.node.Registry.ListDefinitions()
	out := make([]serviceSummary, 0, len(defs))
	for _, def := range defs {
		out = append(out, serviceSummary{
			ID:    def.ID,
			Name:  def.Name,
			State: s.stateFor(def),
			Ready: def.Ready,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type initRequest struct {
	Name string  `json:"name"`
	ID   *string `json:"id,omitempty"`
}

type initResponse struct {
	ID   string `json:"id"`
	Port int    `json:"port"`
}

func (s *Server) initService(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	id := ""
	if req.ID != nil {
		id = strings.TrimSpace(*req.ID)
	}
	if id == "" {
		id = deriveID(req.Name)
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "could not derive a service id from name")
		return
	}

	if _, err := s.node.Registry.Get(id); err == nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("service %q already exists", id))
		return
	}

	p, err := s.node.PortManager.Allocate(id)
	if err != nil {
		s.logger.Error("initService: failed to allocate port", "service", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to allocate port")
		return
	}

	def := registry.ServiceDefinition{ID: id, Name: req.Name, AutoRestart: true}
	if err := s.node.Registry.Add(def); err != nil {
		writeError(w, http.StatusInternalServerError, errorMessage("failed to register service", err, r))
		return
	}
	if err := s.node.Registry.Save(); err != nil {
		s.logger.Error("initService: failed to save registry", "service", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save registry")
		return
	}

	writeJSON(w, http.StatusCreated, initResponse{ID: id, Port: p})
}

func (s *Server) getService(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	def, err := s.node.Registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, errorMessage("service not found", err, r))
		return
	}

	p, _ := s.node.PortManager.GetPort(id)
	writeJSON(w, http.StatusOK, struct {
		registry.ServiceDefinition
		Port int `json:"port,omitempty"`
	}{ServiceDefinition: def, Port: p})
}

type configureRequest struct {
	Env          map[string]string `json:"env"`
	Args         []string          `json:"args"`
	AutoRestart  bool              `json:"auto_restart"`
	RestartLimit *int              `json:"restart_limit,omitempty"`
}

func (s *Server) configureService(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	def, err := s.node.Registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, errorMessage("service not found", err, r))
		return
	}

	var req configureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	def.Env = req.Env
	def.Args = req.Args
	def.AutoRestart = req.AutoRestart
	def.RestartLimit = req.RestartLimit

	if err := s.node.Registry.Update(id, def); err != nil {
		writeError(w, http.StatusInternalServerError, errorMessage("failed to update service", err, r))
		return
	}
	if err := s.node.Registry.Save(); err != nil {
		s.logger.Error("configureService: failed to save registry", "service", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save registry")
		return
	}

	// Configuration takes effect on the next start/restart — a running
	// instance keeps its current env/args until then.
	if def.Ready {
		serviceRoot := s.node.ServiceRoot(id)
		env := make(map[string]string, len(def.Env)+1)
		for k, v := range def.Env {
			env[k] = v
		}
		if p, err := s.node.PortManager.GetPort(id); err == nil {
			env["PORT"] = fmt.Sprintf("%d", p)
		}
		logs := logbuf.New(filepath.Join(serviceRoot, "logs", "service.log"))
		svc := runtime.New(id, def.Name, def.BinaryPath, def.Args, env, def.AutoRestart, def.RestartLimit, serviceRoot, logs)
		if err := s.node.Manager.UpdateService(svc); err != nil {
			s.logger.Warn("configureService: service not registered with runtime manager", "service", id, "error", err)
		}
	}

	writeMessage(w, http.StatusOK, "configuration updated")
}

func (s *Server) requireReady(w http.ResponseWriter, r *http.Request, id string) (registry.ServiceDefinition, bool) {
	def, err := s.node.Registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, errorMessage("service not found", err, r))
		return def, false
	}
	if !def.Ready {
		writeError(w, http.StatusBadRequest, "service has no installed artifact")
		return def, false
	}
	return def, true
}

func (s *Server) startService(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.requireReady(w, r, id); !ok {
		return
	}
	if err := s.node.Manager.Start(id); err != nil {
		writeError(w, http.StatusBadRequest, errorMessage("failed to start service", err, r))
		return
	}
	writeMessage(w, http.StatusOK, "service started")
}

func (s *Server) stopService(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.requireReady(w, r, id); !ok {
		return
	}
	if err := s.node.Manager.Stop(id); err != nil {
		writeError(w, http.StatusBadRequest, errorMessage("failed to stop service", err, r))
		return
	}
	writeMessage(w, http.StatusOK, "service stopped")
}

func (s *Server) restartService(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.requireReady(w, r, id); !ok {
		return
	}
	if err := s.node.Manager.Restart(id); err != nil {
		writeError(w, http.StatusBadRequest, errorMessage("failed to restart service", err, r))
		return
	}
	writeMessage(w, http.StatusOK, "service restarted")
}

func (s *Server) deleteService(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.node.Registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, errorMessage("service not found", err, r))
		return
	}

	if err := s.node.Manager.Stop(id); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		s.logger.Warn("deleteService: stop failed", "service", id, "error", err)
	}
	if err := s.node.Manager.UnregisterService(id); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		s.logger.Warn("deleteService: unregister failed", "service", id, "error", err)
	}
	if err := s.node.PortManager.Deallocate(id); err != nil {
		s.logger.Warn("deleteService: port deallocation failed", "service", id, "error", err)
	}
	if err := s.node.Registry.Remove(id); err != nil {
		writeError(w, http.StatusInternalServerError, errorMessage("failed to remove service", err, r))
		return
	}
	if err := s.node.Registry.Save(); err != nil {
		s.logger.Error("deleteService: failed to save registry", "service", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save registry")
		return
	}

	if err := os.RemoveAll(s.node.ServiceRoot(id)); err != nil {
		s.logger.Warn("deleteService: failed to remove service directory", "service", id, "error", err)
	}

	writeMessage(w, http.StatusOK, "service deleted")
}

func (s *Server) listPorts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.PortManager.AllAllocations())
}
