package port

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ports.json")
	m, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	return m, path
}

func TestLoadOrInitDefaultsRange(t *testing.T) {
	m, _ := newTestManager(t)
	if m.rangeStart != defaultPortRangeStart || m.rangeEnd != defaultPortRangeEnd {
		t.Fatalf("range = %d-%d, want %d-%d", m.rangeStart, m.rangeEnd, defaultPortRangeStart, defaultPortRangeEnd)
	}
	if got := m.AllAllocations(); len(got) != 0 {
		t.Fatalf("expected empty allocations, got %v", got)
	}
}

func TestAllocateSequentialLowestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports.json")
	if err := writeFile(path, file{
		Version:        portsVersion,
		PortRangeStart: 9000,
		PortRangeEnd:   9005,
		Allocations:    map[string]int{},
	}); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	p1, err := m.Allocate("a")
	if err != nil {
		t.Fatalf("Allocate a: %v", err)
	}
	if p1 != 9000 {
		t.Fatalf("first allocation = %d, want 9000 (lowest in range)", p1)
	}

	p2, err := m.Allocate("b")
	if err != nil {
		t.Fatalf("Allocate b: %v", err)
	}
	if p2 != 9001 {
		t.Fatalf("second allocation = %d, want 9001", p2)
	}
}

func TestAllocateIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	p1, err := m.Allocate("svc")
	if err != nil {
		t.Fatalf("first Allocate: %v", err)
	}
	p2, err := m.Allocate("svc")
	if err != nil {
		t.Fatalf("second Allocate: %v", err)
	}
	if p1 != p2 {
		t.Errorf("idempotent allocate returned different ports: %d vs %d", p1, p2)
	}
}

func TestDeallocateThenReuseLowest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports.json")
	if err := writeFile(path, file{
		Version:        portsVersion,
		PortRangeStart: 9000,
		PortRangeEnd:   9001,
		Allocations:    map[string]int{},
	}); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := m.Allocate("a"); err != nil {
		t.Fatalf("Allocate a: %v", err)
	}
	if err := m.Deallocate("a"); err != nil {
		t.Fatalf("Deallocate a: %v", err)
	}
	if err := m.Deallocate("a"); err != nil {
		t.Fatalf("Deallocate missing should be no-op: %v", err)
	}

	p, err := m.Allocate("b")
	if err != nil {
		t.Fatalf("Allocate b: %v", err)
	}
	if p != 9000 {
		t.Fatalf("expected reuse of lowest port 9000, got %d", p)
	}
}

func TestGetPortNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.GetPort("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetPort missing: want ErrNotFound, got %v", err)
	}
}

func TestRangeExhaustion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports.json")
	if err := writeFile(path, file{
		Version:        portsVersion,
		PortRangeStart: 9000,
		PortRangeEnd:   9000,
		Allocations:    map[string]int{},
	}); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := m.Allocate("a"); err != nil {
		t.Fatalf("first Allocate: %v", err)
	}
	if _, err := m.Allocate("b"); !errors.Is(err, ErrRangeExhausted) {
		t.Fatalf("expected ErrRangeExhausted, got %v", err)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	m, path := newTestManager(t)
	if _, err := m.Allocate("svc"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := reloaded.AllAllocations(); got["svc"] == 0 {
		t.Fatalf("reloaded allocations missing svc: %v", got)
	}
}

func TestReserveConflict(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Reserve("a", 9100); err != nil {
		t.Fatalf("Reserve a: %v", err)
	}
	if err := m.Reserve("b", 9100); err == nil {
		t.Error("expected error reserving port already taken by another service")
	}
}

func TestLoadRejectsWrongVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports.json")
	if err := writeFile(path, file{Version: 2}); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error loading ports file with unsupported version")
	}
}
