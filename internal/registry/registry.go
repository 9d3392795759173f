// Package registry persists the catalog of service definitions to a
// versioned JSON file with atomic replace.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned when a service id has no registry entry.
var ErrNotFound = errors.New("registry: service not found")

// ErrConflict is returned when adding a service id that already exists.
var ErrConflict = errors.New("registry: service already exists")

const registryVersion = 1

// ServiceDefinition is the persisted description of one service.
type ServiceDefinition struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Ready          bool              `json:"ready"`
	BinaryPath     string            `json:"binary_path"`
	Args           []string          `json:"args"`
	Env            map[string]string `json:"env"`
	AutoRestart    bool              `json:"auto_restart"`
	RestartLimit   *int              `json:"restart_limit,omitempty"`
	CurrentVersion *string           `json:"current_version,omitempty"`
}

type file struct {
	Version  int                 `json:"version"`
	Services []ServiceDefinition `json:"services"`
}

// Registry is an in-memory ordered catalog of service definitions,
// paired with the file path it persists to. Operations on the in-memory
// catalog do not auto-persist; callers call Save() explicitly.
type Registry struct {
	mu          sync.Mutex
	path        string
	definitions []ServiceDefinition
}

// LoadOrInit opens the registry at path, creating an empty
// {version:1, services:[]} file first if absent.
func LoadOrInit(path string) (*Registry, error) {
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("statting registry file: %w", err)
		}
		if err := writeFile(path, file{Version: registryVersion}); err != nil {
			return nil, fmt.Errorf("creating registry file: %w", err)
		}
	}
	return Load(path)
}

// Load reads and parses the registry file at path. A version other than
// 1 is a fatal corruption error.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing registry file: %w", err)
	}
	if f.Version != registryVersion {
		return nil, fmt.Errorf("unsupported registry version %d", f.Version)
	}

	return &Registry{path: path, definitions: f.Services}, nil
}

// ListDefinitions returns a snapshot of all registered definitions.
func (r *Registry) ListDefinitions() []ServiceDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ServiceDefinition, len(r.definitions))
	copy(out, r.definitions)
	return out
}

// Get returns the definition for id, or ErrNotFound.
func (r *Registry) Get(id string) (ServiceDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.definitions {
		if d.ID == id {
			return d, nil
		}
	}
	return ServiceDefinition{}, ErrNotFound
}

// Add inserts def. Fails with ErrConflict if the id already exists.
func (r *Registry) Add(def ServiceDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.definitions {
		if d.ID == def.ID {
			return fmt.Errorf("%w: %s", ErrConflict, def.ID)
		}
	}
	r.definitions = append(r.definitions, def)
	return nil
}

// Update replaces the definition for id. Fails with ErrNotFound if absent.
func (r *Registry) Update(id string, def ServiceDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, d := range r.definitions {
		if d.ID == id {
			r.definitions[i] = def
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Remove deletes the definition for id. Fails with ErrNotFound if absent.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, d := range r.definitions {
		if d.ID == id {
			r.definitions = append(r.definitions[:i], r.definitions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Save serializes the registry to pretty JSON and atomically replaces
// the backing file (write temp, then rename).
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeFile(r.path, file{Version: registryVersion, Services: r.definitions})
}

func writeFile(path string, f file) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating registry directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temp registry file: %w", err)
	}
	return os.Rename(tmpPath, path)
}
