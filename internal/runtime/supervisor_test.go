package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/p8labs/dockless/internal/logbuf"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	content := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return path
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSupervisorBinaryMissing(t *testing.T) {
	logs := logbuf.New(filepath.Join(t.TempDir(), "svc.log"))
	s := New("svc", "svc", filepath.Join(t.TempDir(), "does-not-exist"), nil, nil, true, nil, "", logs)

	done := make(chan struct{})
	go func() {
		NewSupervisor(s).Run(make(chan struct{}), make(chan struct{}))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return for a missing binary")
	}

	if s.State() != StateFailed {
		t.Fatalf("state = %v, want %v", s.State(), StateFailed)
	}
}

func TestSupervisorCrashLoopBoundedByRestartLimit(t *testing.T) {
	script := writeScript(t, "exit 1\n")
	logs := logbuf.New(filepath.Join(t.TempDir(), "svc.log"))
	limit := 1
	s := New("svc", "svc", script, nil, nil, true, &limit, "", logs)

	done := make(chan struct{})
	go func() {
		NewSupervisor(s).Run(make(chan struct{}), make(chan struct{}))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not stop once restart_limit was exhausted")
	}

	if s.State() != StateFailed {
		t.Fatalf("state = %v, want %v", s.State(), StateFailed)
	}
	if s.RestartCount() < limit {
		t.Fatalf("restart count = %d, want >= %d", s.RestartCount(), limit)
	}
}

func TestSupervisorCleanExitStopsWithoutAutoRestart(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	logs := logbuf.New(filepath.Join(t.TempDir(), "svc.log"))
	s := New("svc", "svc", script, nil, nil, false, nil, "", logs)

	done := make(chan struct{})
	go func() {
		NewSupervisor(s).Run(make(chan struct{}), make(chan struct{}))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return after a clean exit with auto_restart disabled")
	}

	if s.State() != StateStopped {
		t.Fatalf("state = %v, want %v", s.State(), StateStopped)
	}
	if s.RestartCount() != 0 {
		t.Fatalf("restart count = %d, want 0", s.RestartCount())
	}
}

func TestSupervisorRestartCountResetsOnCleanExit(t *testing.T) {
	counterFile := filepath.Join(t.TempDir(), "count")
	script := writeScript(t, fmt.Sprintf(`
n=$(cat %q 2>/dev/null || echo 0)
n=$((n + 1))
echo "$n" > %q
if [ "$n" = "1" ]; then
  exit 1
fi
exit 0
`, counterFile, counterFile))

	logs := logbuf.New(filepath.Join(t.TempDir(), "svc.log"))
	s := New("svc", "svc", script, nil, nil, true, nil, "", logs)

	serviceShutdown := make(chan struct{})
	done := make(chan struct{})
	go func() {
		NewSupervisor(s).Run(make(chan struct{}), serviceShutdown)
		close(done)
	}()

	// First run crashes (exit 1) -> restart count becomes 1.
	waitUntil(t, 5*time.Second, func() bool { return s.RestartCount() >= 1 })

	// Second run exits cleanly -> restart count resets to 0.
	waitUntil(t, 10*time.Second, func() bool {
		return s.State() == StateStopped && s.RestartCount() == 0
	})

	close(serviceShutdown)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not join after shutdown signal")
	}
}

func TestSupervisorGracefulShutdownViaGlobal(t *testing.T) {
	script := writeScript(t, "sleep 30\n")
	logs := logbuf.New(filepath.Join(t.TempDir(), "svc.log"))
	s := New("svc", "svc", script, nil, nil, true, nil, "", logs)

	global := make(chan struct{})
	done := make(chan struct{})
	go func() {
		NewSupervisor(s).Run(global, make(chan struct{}))
		close(done)
	}()

	waitUntil(t, 5*time.Second, func() bool { return s.State() == StateRunning })

	close(global)

	select {
	case <-done:
	case <-time.After(gracefulStopTimeout + 5*time.Second):
		t.Fatal("supervisor did not shut down gracefully")
	}

	if s.State() != StateStopped {
		t.Fatalf("state = %v, want %v", s.State(), StateStopped)
	}
}
