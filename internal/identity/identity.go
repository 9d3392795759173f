// Package identity manages the node's persistent UUID identity file.
package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreate reads the UUID stored at path, trimmed of surrounding
// whitespace. If the file does not exist, a fresh UUID v4 is generated,
// written to path, and returned.
func LoadOrCreate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("reading node identity file: %w", err)
	}

	id := uuid.NewString()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating node identity directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("writing node identity file: %w", err)
	}

	return id, nil
}
