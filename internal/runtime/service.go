// Package runtime supervises native service processes: spawning,
// restart-on-crash with a bounded budget, graceful shutdown, and
// per-service log capture.
package runtime

import (
	"sync"

	"github.com/p8labs/dockless/internal/logbuf"
)

// State is a supervised service's lifecycle state.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateCrashed  State = "crashed"
	StateFailed   State = "failed"
)

// Service is the runtime description of one supervised process, shared
// between the supervisor goroutine and readers (the HTTP API, stats).
type Service struct {
	ID           string
	Name         string
	BinaryPath   string
	Args         []string
	Env          map[string]string
	AutoRestart  bool
	RestartLimit *int
	WorkingDir   string

	Logs *logbuf.Buffer

	mu           sync.RWMutex
	state        State
	pid          int
	restartCount int
}

// New constructs a Service in the Stopped state.
func New(id, name, binaryPath string, args []string, env map[string]string, autoRestart bool, restartLimit *int, workingDir string, logs *logbuf.Buffer) *Service {
	return &Service{
		ID:           id,
		Name:         name,
		BinaryPath:   binaryPath,
		Args:         args,
		Env:          env,
		AutoRestart:  autoRestart,
		RestartLimit: restartLimit,
		WorkingDir:   workingDir,
		Logs:         logs,
		state:        StateStopped,
	}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// PID returns the process id of the running child, or 0 if none.
func (s *Service) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pid
}

func (s *Service) setPID(pid int) {
	s.mu.Lock()
	s.pid = pid
	s.mu.Unlock()
}

// RestartCount returns the number of restarts since the last clean exit.
func (s *Service) RestartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restartCount
}
