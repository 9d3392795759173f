package main

import (
	"os"
	"path/filepath"
)

// dlessHome returns the path to the dockless home directory (~/.dockless).
func dlessHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".dockless"), nil
}

func defaultSocketPath() string {
	dir, err := dlessHome()
	if err != nil {
		return "/tmp/dockless.sock"
	}
	return filepath.Join(dir, "dockless.sock")
}
