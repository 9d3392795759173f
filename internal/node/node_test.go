package node

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/p8labs/dockless/internal/registry"
)

func TestNewBootstrapsReadyServicesOnly(t *testing.T) {
	dataDir := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "dockless.toml")

	content := "listen_port = 8000\ndata_dir = \"" + dataDir + "\"\nnode_id = \"" + filepath.Join(dataDir, "node_id") + "\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("DLESS_CONFIG", configPath)

	// Pre-seed a registry with one ready and one not-ready definition.
	regPath := filepath.Join(dataDir, "projects.json")
	reg, err := registry.LoadOrInit(regPath)
	if err != nil {
		t.Fatalf("LoadOrInit registry: %v", err)
	}
	if err := reg.Add(registry.ServiceDefinition{
		ID: "foxd", Name: "fox daemon", Ready: true,
		BinaryPath: "/bin/true", AutoRestart: true,
	}); err != nil {
		t.Fatalf("Add foxd: %v", err)
	}
	if err := reg.Add(registry.ServiceDefinition{
		ID: "notready", Name: "not ready", Ready: false,
	}); err != nil {
		t.Fatalf("Add notready: %v", err)
	}
	if err := reg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	n, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if n.NodeID == "" {
		t.Fatal("expected non-empty node id")
	}

	if n.Manager.ServiceCount() != 1 {
		t.Fatalf("ServiceCount = %d, want 1 (only ready services registered)", n.Manager.ServiceCount())
	}

	svc, err := n.Manager.Get("foxd")
	if err != nil {
		t.Fatalf("Get foxd: %v", err)
	}
	if svc.Env["PORT"] == "" {
		t.Fatal("expected PORT injected into env")
	}

	for _, dir := range []string{"bin", "data", "logs"} {
		path := filepath.Join(dataDir, "services", "foxd", dir)
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist", path)
		}
	}

	portsPath := filepath.Join(dataDir, "ports.json")
	data, err := os.ReadFile(portsPath)
	if err != nil {
		t.Fatalf("reading ports file: %v", err)
	}
	var pf struct {
		Allocations map[string]int `json:"allocations"`
	}
	if err := json.Unmarshal(data, &pf); err != nil {
		t.Fatalf("unmarshaling ports file: %v", err)
	}
	if _, ok := pf.Allocations["foxd"]; !ok {
		t.Fatal("expected foxd to have a persisted port allocation")
	}
}
