package registry

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projects.json")
	r, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	return r, path
}

func TestLoadOrInitCreatesEmptyFile(t *testing.T) {
	r, _ := newTestRegistry(t)
	if got := r.ListDefinitions(); len(got) != 0 {
		t.Fatalf("expected empty registry, got %d entries", len(got))
	}
}

func TestAddGetUpdateRemove(t *testing.T) {
	r, _ := newTestRegistry(t)

	def := ServiceDefinition{ID: "foxd", Name: "fox daemon", AutoRestart: true}
	if err := r.Add(def); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := r.Add(def); !errors.Is(err, ErrConflict) {
		t.Fatalf("Add duplicate: want ErrConflict, got %v", err)
	}

	got, err := r.Get("foxd")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "fox daemon" {
		t.Fatalf("Get name = %q, want %q", got.Name, "fox daemon")
	}

	def.Ready = true
	if err := r.Update("foxd", def); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = r.Get("foxd")
	if !got.Ready {
		t.Fatalf("expected updated definition to be ready")
	}

	if err := r.Update("missing", def); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update missing: want ErrNotFound, got %v", err)
	}

	if err := r.Remove("foxd"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.Get("foxd"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after remove: want ErrNotFound, got %v", err)
	}
	if err := r.Remove("foxd"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove missing: want ErrNotFound, got %v", err)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	r, path := newTestRegistry(t)

	if err := r.Add(ServiceDefinition{ID: "a", Name: "A"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defs := reloaded.ListDefinitions()
	if len(defs) != 1 || defs[0].ID != "a" {
		t.Fatalf("reloaded registry mismatch: %+v", defs)
	}
}

func TestLoadRejectsWrongVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	if err := writeFile(path, file{Version: 2}); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error loading registry with unsupported version")
	}
}
