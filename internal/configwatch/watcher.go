// Package configwatch observes each service's config.toml for edits made
// directly on disk (outside the API) and logs a notice. It never
// triggers a restart — config changes only take effect the next time a
// service is explicitly started or restarted.
package configwatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 500 * time.Millisecond

// Watcher watches a data directory's services/*/config.toml files.
type Watcher struct {
	dataDir string
	logger  *slog.Logger
}

// New creates a Watcher rooted at dataDir (the node's data directory,
// containing services/<id>/config.toml for each service).
func New(dataDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dataDir: dataDir, logger: logger}
}

// Run watches each service directory that exists under services/ when it
// starts for config.toml writes and logs a notice, debounced per file.
// Service directories created after Run starts are not watched. Returns
// an error if the services directory cannot be read; otherwise blocks
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	servicesDir := filepath.Join(w.dataDir, "services")
	entries, err := os.ReadDir(servicesDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := watcher.Add(filepath.Join(servicesDir, e.Name())); err != nil {
				w.logger.Warn("failed to watch service directory", "service", e.Name(), "error", err)
			}
		}
	}

	w.logger.Info("watching service config files for external edits", "dir", servicesDir)

	timers := map[string]*time.Timer{}

	for {
		select {
		case <-ctx.Done():
			for _, t := range timers {
				t.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !isConfigFile(event.Name) {
				continue
			}

			name := event.Name
			if t, exists := timers[name]; exists {
				t.Stop()
			}
			timers[name] = time.AfterFunc(debounce, func() {
				w.logger.Info("service config file changed on disk; restart the service to apply", "path", name)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func isConfigFile(path string) bool {
	const suffix = "config.toml"
	if len(path) < len(suffix) {
		return false
	}
	return path[len(path)-len(suffix):] == suffix
}
