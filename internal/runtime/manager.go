package runtime

import (
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"
)

// ErrNotFound is returned when an operation references an unknown
// service id.
var ErrNotFound = fmt.Errorf("runtime: service not found")

// ErrConflict is returned when registering a service id that already
// exists, or starting one that is already running.
var ErrConflict = fmt.Errorf("runtime: conflict")

const (
	stopJoinTimeout     = 30 * time.Second
	shutdownAllTimeout  = 60 * time.Second
	perHandleJoinWindow = 30 * time.Second

	// managerKillEscalation bounds the manager's own best-effort signal
	// escalation against a service's recorded PID. This runs independently
	// of, and faster than, the supervisor's own gracefulStopTimeout — a
	// second line of defense if the supervisor's internal driver.Stop
	// somehow stalls.
	managerKillEscalation = 2 * time.Second
)

type handle struct {
	shutdown chan struct{}
	done     chan struct{}
}

// Manager multiplexes many supervised services: it owns each Service's
// definition and, while running, its supervisor goroutine.
type Manager struct {
	mu          sync.Mutex
	services    map[string]*Service
	supervisors map[string]*handle
	logger      *slog.Logger
	globalOnce  sync.Once
	global      chan struct{}
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		services:    map[string]*Service{},
		supervisors: map[string]*handle{},
		logger:      logger,
		global:      make(chan struct{}),
	}
}

// RegisterService adds s to the catalog. Fails if the id is already
// registered.
func (m *Manager) RegisterService(s *Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrConflict, s.ID)
	}
	m.services[s.ID] = s
	return nil
}

// UpdateService replaces the registered definition for s.ID. Fails if
// absent.
func (m *Manager) UpdateService(s *Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[s.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, s.ID)
	}
	m.services[s.ID] = s
	return nil
}

// UnregisterService removes id from the catalog. Fails if it is
// currently running, or absent.
func (m *Manager) UnregisterService(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, running := m.supervisors[id]; running {
		return fmt.Errorf("%w: service %s is running", ErrConflict, id)
	}
	delete(m.services, id)
	return nil
}

// Get returns the registered Service for id.
func (m *Manager) Get(id string) (*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// ListIDs returns every registered service id.
func (m *Manager) ListIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.services))
	for id := range m.services {
		ids = append(ids, id)
	}
	return ids
}

// ServiceCount returns the number of registered services.
func (m *Manager) ServiceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.services)
}

// RunningCount returns the number of services with an active supervisor.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.supervisors)
}

// Start launches the supervisor for id. Fails if already running or
// unregistered.
func (m *Manager) Start(id string) error {
	m.mu.Lock()
	s, ok := m.services[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, running := m.supervisors[id]; running {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s already running", ErrConflict, id)
	}

	h := &handle{
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.supervisors[id] = h
	m.mu.Unlock()

	go func() {
		defer close(h.done)
		NewSupervisor(s).Run(m.global, h.shutdown)
	}()

	return nil
}

// Stop signals id's supervisor to shut down and waits (up to
// stopJoinTimeout) for it to finish. Logs a warning but still reports
// success if the join times out — the supervisor continues shutting
// down in the background.
//
// Independent of the supervisor's own graceful-stop logic, Stop also
// best-effort signals the recorded PID directly: SIGTERM immediately,
// then SIGKILL after managerKillEscalation if the process is still
// attached. This races the supervisor's own (slower) driver.Stop window
// and is harmless if it arrives after the process has already exited.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	h, ok := m.supervisors[id]
	s := m.services[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is not running", ErrNotFound, id)
	}
	delete(m.supervisors, id)
	m.mu.Unlock()

	if s != nil {
		if pid := s.PID(); pid > 0 {
			_ = syscall.Kill(pid, syscall.SIGTERM)
			go func() {
				select {
				case <-h.done:
				case <-time.After(managerKillEscalation):
					_ = syscall.Kill(pid, syscall.SIGKILL)
				}
			}()
		}
	}

	close(h.shutdown)

	select {
	case <-h.done:
	case <-time.After(stopJoinTimeout):
		m.logger.Warn("supervisor did not join within deadline", "service", id, "timeout", stopJoinTimeout)
	}

	return nil
}

// Restart stops id (if running) then starts it again.
func (m *Manager) Restart(id string) error {
	m.mu.Lock()
	_, running := m.supervisors[id]
	m.mu.Unlock()

	if running {
		if err := m.Stop(id); err != nil {
			return err
		}
	}
	return m.Start(id)
}

// StartAll starts every registered service, logging and continuing past
// individual failures.
func (m *Manager) StartAll() {
	for _, id := range m.ListIDs() {
		if err := m.Start(id); err != nil {
			m.logger.Error("failed to start service", "service", id, "error", err)
		}
	}
}

// ShutdownAll broadcasts the global shutdown signal once and waits (up
// to shutdownAllTimeout overall, perHandleJoinWindow per handle) for
// every running supervisor to join.
func (m *Manager) ShutdownAll() {
	m.globalOnce.Do(func() { close(m.global) })

	m.mu.Lock()
	handles := make(map[string]*handle, len(m.supervisors))
	for id, h := range m.supervisors {
		handles[id] = h
	}
	m.mu.Unlock()

	deadline := time.Now().Add(shutdownAllTimeout)

	for id, h := range handles {
		remaining := time.Until(deadline)
		wait := perHandleJoinWindow
		if remaining < wait {
			wait = remaining
		}
		if wait < 0 {
			wait = 0
		}

		select {
		case <-h.done:
		case <-time.After(wait):
			m.logger.Warn("supervisor did not join during shutdown", "service", id)
		}

		m.mu.Lock()
		delete(m.supervisors, id)
		m.mu.Unlock()
	}
}
