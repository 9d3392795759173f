// Package artifact installs service binaries: either an uploaded blob or
// one fetched from a GitHub release, swapping the bin/current symlink
// to the new version and restarting the service.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/p8labs/dockless/internal/logbuf"
	"github.com/p8labs/dockless/internal/port"
	"github.com/p8labs/dockless/internal/registry"
	"github.com/p8labs/dockless/internal/runtime"
)

// ErrServiceNotFound is returned when the target service id has no
// registry entry.
var ErrServiceNotFound = errors.New("artifact: service not found")

// ErrUpstream wraps a failure talking to GitHub (network error or a
// non-2xx response fetching the release or asset).
var ErrUpstream = errors.New("artifact: upstream fetch failed")

// ErrAssetNotFound is returned when the named release asset is absent
// from the release's asset list.
var ErrAssetNotFound = errors.New("artifact: asset not found")

const restartTimeout = 30 * time.Second

// testGithubAPIBase overrides the GitHub API base URL in tests.
var testGithubAPIBase = "https://api.github.com"

// Installer performs the on-disk artifact swap and registry/runtime
// bookkeeping shared by uploads and GitHub-fetched installs.
type Installer struct {
	dataDir  string
	registry *registry.Registry
	ports    *port.Manager
	manager  *runtime.Manager
	logger   *slog.Logger
}

// NewInstaller builds an Installer rooted at dataDir.
func NewInstaller(dataDir string, reg *registry.Registry, ports *port.Manager, manager *runtime.Manager, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{dataDir: dataDir, registry: reg, ports: ports, manager: manager, logger: logger}
}

// Install writes data as version/fileName under the service's versions
// directory, swaps bin/current to point at it, updates the registry
// entry (current_version, binary_path if previously unset, ready=true),
// registers or updates the runtime service, and restarts it.
func (in *Installer) Install(id, version, fileName string, data []byte) error {
	def, err := in.registry.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, id)
	}

	serviceRoot := filepath.Join(in.dataDir, "services", id)
	versionDir := filepath.Join(serviceRoot, "versions", version)
	binDir := filepath.Join(serviceRoot, "bin")

	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		return fmt.Errorf("creating version directory: %w", err)
	}

	binaryPath := filepath.Join(versionDir, fileName)
	if err := os.WriteFile(binaryPath, data, 0o755); err != nil {
		return fmt.Errorf("writing binary: %w", err)
	}

	finalName := fileName
	if def.Ready && def.BinaryPath != "" {
		existingName := filepath.Base(def.BinaryPath)
		if existingName != fileName {
			consistentPath := filepath.Join(versionDir, existingName)
			if err := os.WriteFile(consistentPath, data, 0o755); err != nil {
				return fmt.Errorf("copying binary to %s: %w", existingName, err)
			}
		}
		finalName = existingName
	}

	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating bin directory: %w", err)
	}

	currentLink := filepath.Join(binDir, "current")
	_ = os.Remove(currentLink)

	relativeTarget := filepath.Join("..", "versions", version)
	if err := os.Symlink(relativeTarget, currentLink); err != nil {
		return fmt.Errorf("symlinking bin/current: %w", err)
	}

	v := version
	def.CurrentVersion = &v
	if def.BinaryPath == "" || !def.Ready {
		def.BinaryPath = filepath.Join("bin", "current", finalName)
	}
	def.Ready = true

	if err := in.registry.Update(id, def); err != nil {
		return fmt.Errorf("updating registry: %w", err)
	}
	if err := in.registry.Save(); err != nil {
		return fmt.Errorf("saving registry: %w", err)
	}

	if err := in.registerOrUpdateService(def); err != nil {
		return err
	}

	in.restartWithTimeout(id)

	return nil
}

func (in *Installer) registerOrUpdateService(def registry.ServiceDefinition) error {
	serviceRoot := filepath.Join(in.dataDir, "services", def.ID)

	env := make(map[string]string, len(def.Env)+1)
	for k, v := range def.Env {
		env[k] = v
	}
	if p, err := in.ports.GetPort(def.ID); err == nil {
		env["PORT"] = fmt.Sprintf("%d", p)
	}

	logs := logbuf.New(filepath.Join(serviceRoot, "logs", "service.log"))
	svc := runtime.New(def.ID, def.Name, def.BinaryPath, def.Args, env, def.AutoRestart, def.RestartLimit, serviceRoot, logs)

	if _, err := in.manager.Get(def.ID); err == nil {
		return in.manager.UpdateService(svc)
	}
	return in.manager.RegisterService(svc)
}

// restartWithTimeout mirrors the 30-second restart deadline used by the
// install flow: a slow or hung restart is logged, not fatal to the
// install call.
func (in *Installer) restartWithTimeout(id string) {
	done := make(chan error, 1)
	go func() { done <- in.manager.Restart(id) }()

	select {
	case err := <-done:
		if err != nil {
			in.logger.Error("restart after artifact install failed", "service", id, "error", err)
		}
	case <-time.After(restartTimeout):
		in.logger.Error("restart after artifact install timed out", "service", id, "timeout", restartTimeout)
	}
}

// GithubAsset is a release asset's download-relevant fields.
type GithubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type githubRelease struct {
	Assets []GithubAsset `json:"assets"`
}

// FetchGithubAsset fetches the release named by repo/version from the
// GitHub API, finds the asset named assetName, and downloads it.
func FetchGithubAsset(client *http.Client, repo, version, assetName string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}

	release, err := fetchRelease(client, repo, version)
	if err != nil {
		return nil, err
	}

	var downloadURL string
	for _, a := range release.Assets {
		if a.Name == assetName {
			downloadURL = a.BrowserDownloadURL
			break
		}
	}
	if downloadURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, assetName)
	}

	return downloadBinary(client, downloadURL)
}

func fetchRelease(client *http.Client, repo, version string) (*githubRelease, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/tags/%s", testGithubAPIBase, repo, version)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("User-Agent", "dockless")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: failed to fetch release (status %d)", ErrUpstream, resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return &release, nil
}

func downloadBinary(client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("User-Agent", "dockless")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: failed to download asset (status %d)", ErrUpstream, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
