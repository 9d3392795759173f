// Package api serves the dockless REST API: service lifecycle, artifact
// installs, per-service config, logs, and host/process stats.
package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/p8labs/dockless/internal/artifact"
	"github.com/p8labs/dockless/internal/node"
)

// Server serves the dockless REST API over a Unix socket, and optionally
// over TCP with bearer-token authentication.
type Server struct {
	node      *node.Node
	installer *artifact.Installer
	listener  net.Listener
	server    *http.Server
	tcpServer *http.Server // separate server for TCP with auth middleware
	logger    *slog.Logger
	token     string // bearer token for TCP auth (empty = no auth)
}

// NewServer creates an API server backed by n.
func NewServer(n *node.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		node:      n,
		installer: artifact.NewInstaller(n.Config.DataDir, n.Registry, n.PortManager, n.Manager, logger),
		logger:    logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.health)

	mux.HandleFunc("GET /api/services", s.listServices)
	mux.HandleFunc("POST /api/services/init", s.initService)
	mux.HandleFunc("GET /api/services/ports", s.listPorts)
	mux.HandleFunc("GET /api/services/{id}", s.getService)
	mux.HandleFunc("POST /api/services/{id}/configure", s.configureService)
	mux.HandleFunc("POST /api/services/{id}/start", s.startService)
	mux.HandleFunc("POST /api/services/{id}/stop", s.stopService)
	mux.HandleFunc("POST /api/services/{id}/restart", s.restartService)
	mux.HandleFunc("DELETE /api/services/{id}", s.deleteService)

	mux.HandleFunc("POST /api/services/{id}/artifact/upload", s.uploadArtifact)
	mux.HandleFunc("POST /api/services/{id}/artifact/github", s.githubArtifact)
	mux.HandleFunc("GET /api/services/{id}/artifact", s.getArtifact)

	mux.HandleFunc("GET /api/services/{id}/config", s.getConfig)
	mux.HandleFunc("POST /api/services/{id}/config", s.updateConfig)
	mux.HandleFunc("POST /api/services/{id}/config/template", s.createTemplate)
	mux.HandleFunc("DELETE /api/services/{id}/config/template", s.deleteTemplate)

	mux.HandleFunc("GET /api/services/{id}/logs", s.getLogs)
	mux.HandleFunc("GET /api/services/{id}/logs/stream", s.streamLogs)
	mux.HandleFunc("POST /api/services/{id}/logs/clear", s.clearLogs)

	mux.HandleFunc("GET /api/services/{id}/stats", s.getStats)

	s.server = &http.Server{
		Handler:           mux,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // logs/stream and artifact uploads hold connections open
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// GenerateToken creates a random bearer token and writes it to tokenPath.
// The token is required for TCP API connections.
func (s *Server) GenerateToken(tokenPath string) error {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	s.token = hex.EncodeToString(b)
	if err := os.WriteFile(tokenPath, []byte(s.token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	s.logger.Info("API token written", "path", tokenPath)
	return nil
}

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}
	s.listener = ln
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP starts the server on a TCP address with bearer token
// authentication. GenerateToken must be called first.
func (s *Server) ListenTCP(addr string) error {
	if s.token == "" {
		return fmt.Errorf("TCP API requires authentication; call GenerateToken first")
	}

	// Warn if binding to a non-loopback address
	if host, _, err := net.SplitHostPort(addr); err == nil {
		switch host {
		case "127.0.0.1", "::1", "localhost":
			// loopback — safe
		default:
			s.logger.Warn("TCP API binding to non-loopback address — the API will be accessible from other machines on the network",
				"addr", addr)
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "addr", addr)

	s.tcpServer = &http.Server{
		Handler:           s.requireToken(s.server.Handler),
		ReadTimeout:       s.server.ReadTimeout,
		WriteTimeout:      s.server.WriteTimeout,
		ReadHeaderTimeout: s.server.ReadHeaderTimeout,
		IdleTimeout:       s.server.IdleTimeout,
		MaxHeaderBytes:    s.server.MaxHeaderBytes,
	}
	return s.tcpServer.Serve(ln)
}

// requireToken returns middleware that validates the Authorization header.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		provided := strings.TrimPrefix(auth, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully shuts down both the Unix and TCP API servers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if s.tcpServer != nil {
		if tcpErr := s.tcpServer.Shutdown(ctx); tcpErr != nil && err == nil {
			err = tcpErr
		}
	}
	return err
}

type errorEnvelope struct {
	Status bool   `json:"status"`
	Error  string `json:"error"`
}

type messageEnvelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorEnvelope{Error: msg})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageEnvelope{Status: true, Message: msg})
}

// errorMessage returns the full error for Unix socket clients (already
// authenticated by file permissions) or a generic message for TCP clients.
func errorMessage(generic string, err error, r *http.Request) string {
	if isUnixSocket(r) {
		return err.Error()
	}
	return generic
}

// isUnixSocket returns true if the request arrived via a Unix socket.
// Unix socket connections have an empty RemoteAddr or one starting with @.
func isUnixSocket(r *http.Request) bool {
	addr := r.RemoteAddr
	return addr == "" || strings.HasPrefix(addr, "@")
}
