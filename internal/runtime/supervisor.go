package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/p8labs/dockless/internal/driver"
	"github.com/p8labs/dockless/internal/logbuf"
)

// restartDelay is the fixed pause between a crash and the next spawn
// attempt. restart_count resets to zero only on a clean (exit code 0)
// exit — a crash loop that never exits cleanly accumulates toward
// RestartLimit without reprieve.
const restartDelay = 3 * time.Second

// gracefulStopTimeout bounds how long a SIGTERM is given to take effect
// before escalating to SIGKILL.
const gracefulStopTimeout = 5 * time.Second

// Supervisor drives one service through repeated starts, tailing its
// output into the service's log buffer and restarting it on crash
// according to AutoRestart / RestartLimit.
type Supervisor struct {
	service *Service
}

// NewSupervisor builds a supervisor for s.
func NewSupervisor(s *Service) *Supervisor {
	return &Supervisor{service: s}
}

type exitResult struct {
	code int
	err  error
}

// Run executes the supervise loop until a shutdown signal arrives on
// either channel, the child exits with auto-restart disabled (leaving the
// service Stopped or Crashed), or the service reaches Failed (the binary
// is missing, the spawn fails, or the restart budget is exhausted).
func (sup *Supervisor) Run(globalShutdown, serviceShutdown <-chan struct{}) {
	s := sup.service
	restartCount := 0

	for {
		s.setState(StateStarting)

		binaryPath := s.BinaryPath
		if binaryPath != "" && !filepath.IsAbs(binaryPath) {
			binaryPath = filepath.Join(s.WorkingDir, binaryPath)
		}

		if _, err := os.Stat(binaryPath); err != nil {
			s.setState(StateFailed)
			s.Logs.Push("error", fmt.Sprintf("binary not found: %s", binaryPath))
			return
		}

		env := make([]string, 0, len(s.Env))
		for k, v := range s.Env {
			env = append(env, k+"="+v)
		}

		d := driver.NewNative(driver.NativeConfig{
			Command:    binaryPath,
			Args:       s.Args,
			Env:        env,
			WorkingDir: s.WorkingDir,
		})

		ctx, cancel := context.WithCancel(context.Background())

		if err := d.Start(ctx); err != nil {
			cancel()
			s.setState(StateFailed)
			s.Logs.Push("error", fmt.Sprintf("failed to start: %v", err))
			return
		}

		s.setPID(d.Info().PID)
		go tailStream(d.Stdout(), s.Logs, "info")
		go tailStream(d.Stderr(), s.Logs, "error")

		s.setState(StateRunning)

		exitCh := make(chan exitResult, 1)
		go func() {
			code, err := d.Wait()
			exitCh <- exitResult{code: code, err: err}
		}()

		shuttingDown := false

		select {
		case <-globalShutdown:
			shuttingDown = true
		case <-serviceShutdown:
			shuttingDown = true
		case result := <-exitCh:
			cancel()
			s.setPID(0)

			select {
			case <-globalShutdown:
				s.setState(StateStopped)
				return
			case <-serviceShutdown:
				s.setState(StateStopped)
				return
			default:
			}

			if result.code == 0 {
				restartCount = 0
				s.setState(StateStopped)
			} else {
				s.setState(StateCrashed)
				restartCount++
			}
			s.mu.Lock()
			s.restartCount = restartCount
			s.mu.Unlock()

			if !s.AutoRestart {
				return
			}
			if s.RestartLimit != nil && restartCount >= *s.RestartLimit {
				s.setState(StateFailed)
				return
			}

			time.Sleep(restartDelay)
			continue
		}

		if shuttingDown {
			s.setState(StateStopping)
			_ = d.Stop(context.Background(), gracefulStopTimeout)
			cancel()
			s.setPID(0)
			s.setState(StateStopped)
			return
		}
	}
}

func tailStream(r io.Reader, logs *logbuf.Buffer, level string) {
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		logs.Push(level, scanner.Text())
	}
}
