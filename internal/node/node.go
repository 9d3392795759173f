// Package node bootstraps a dockless daemon instance: loading config and
// identity, opening the registry and port manager, and registering every
// ready service with a supervisor manager.
package node

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/p8labs/dockless/internal/config"
	"github.com/p8labs/dockless/internal/identity"
	"github.com/p8labs/dockless/internal/logbuf"
	"github.com/p8labs/dockless/internal/port"
	"github.com/p8labs/dockless/internal/registry"
	"github.com/p8labs/dockless/internal/runtime"
)

// Node aggregates the daemon's persistent stores and runtime manager.
type Node struct {
	NodeID      string
	Config      *config.Config
	Registry    *registry.Registry
	Manager     *runtime.Manager
	PortManager *port.Manager

	logger *slog.Logger
}

// New loads configuration and identity, ensures the data directory
// exists, opens (or initializes) the registry and port manager, and
// registers every definition with ready=true — creating its bin/data/logs
// directories, allocating a port, and injecting PORT into its
// environment. It does not start anything; call StartAll for that.
func New(logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	nodeID, err := identity.LoadOrCreate(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("loading node identity: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	reg, err := registry.LoadOrInit(filepath.Join(cfg.DataDir, "projects.json"))
	if err != nil {
		return nil, fmt.Errorf("loading registry: %w", err)
	}

	ports, err := port.LoadOrInit(filepath.Join(cfg.DataDir, "ports.json"))
	if err != nil {
		return nil, fmt.Errorf("loading port manager: %w", err)
	}

	manager := runtime.NewManager(logger)

	for _, def := range reg.ListDefinitions() {
		if !def.Ready {
			continue
		}

		serviceRoot := filepath.Join(cfg.DataDir, "services", def.ID)
		binDir := filepath.Join(serviceRoot, "bin")
		dataDir := filepath.Join(serviceRoot, "data")
		logsDir := filepath.Join(serviceRoot, "logs")

		for _, dir := range []string{binDir, dataDir, logsDir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating directories for %s: %w", def.ID, err)
			}
		}

		p, err := ports.Allocate(def.ID)
		if err != nil {
			return nil, fmt.Errorf("allocating port for %s: %w", def.ID, err)
		}

		env := make(map[string]string, len(def.Env)+1)
		for k, v := range def.Env {
			env[k] = v
		}
		env["PORT"] = fmt.Sprintf("%d", p)

		logs := logbuf.New(filepath.Join(logsDir, "service.log"))
		svc := runtime.New(def.ID, def.Name, def.BinaryPath, def.Args, env, def.AutoRestart, def.RestartLimit, serviceRoot, logs)

		if err := manager.RegisterService(svc); err != nil {
			return nil, fmt.Errorf("registering %s: %w", def.ID, err)
		}
	}

	return &Node{
		NodeID:      nodeID,
		Config:      cfg,
		Registry:    reg,
		Manager:     manager,
		PortManager: ports,
		logger:      logger,
	}, nil
}

// StartAll starts every registered service.
func (n *Node) StartAll() {
	n.Manager.StartAll()
}

// Shutdown stops every running service, giving the overall shutdown up to
// 60 seconds before returning regardless of stragglers.
func (n *Node) Shutdown() {
	n.Manager.ShutdownAll()
}

// ServiceRoot returns the on-disk root directory for a service id.
func (n *Node) ServiceRoot(id string) string {
	return filepath.Join(n.Config.DataDir, "services", id)
}
