package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/p8labs/dockless/internal/artifact"
)

const maxUploadSize = 512 << 20 // 512MB

func (s *Server) uploadArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	version := r.FormValue("version")
	if version == "" {
		writeError(w, http.StatusBadRequest, "version is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	if err := s.installer.Install(id, version, header.Filename, data); err != nil {
		s.installErr(w, r, err)
		return
	}

	writeMessage(w, http.StatusOK, "artifact installed")
}

type githubArtifactRequest struct {
	Repo    string `json:"repo"`
	Version string `json:"version"`
	Asset   string `json:"asset"`
}

func (s *Server) githubArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req githubArtifactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Repo == "" || req.Version == "" || req.Asset == "" {
		writeError(w, http.StatusBadRequest, "repo, version, and asset are required")
		return
	}

	data, err := artifact.FetchGithubAsset(http.DefaultClient, req.Repo, req.Version, req.Asset)
	if err != nil {
		switch {
		case errors.Is(err, artifact.ErrAssetNotFound):
			writeError(w, http.StatusNotFound, errorMessage("asset not found", err, r))
		case errors.Is(err, artifact.ErrUpstream):
			writeError(w, http.StatusBadGateway, errorMessage("failed to fetch release from GitHub", err, r))
		default:
			writeError(w, http.StatusInternalServerError, errorMessage("failed to fetch artifact", err, r))
		}
		return
	}

	if err := s.installer.Install(id, req.Version, req.Asset, data); err != nil {
		s.installErr(w, r, err)
		return
	}

	writeMessage(w, http.StatusOK, "artifact installed")
}

func (s *Server) installErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, artifact.ErrServiceNotFound) {
		writeError(w, http.StatusNotFound, errorMessage("service not found", err, r))
		return
	}
	s.logger.Error("artifact install failed", "error", err)
	writeError(w, http.StatusInternalServerError, errorMessage("failed to install artifact", err, r))
}

type artifactInfo struct {
	CurrentVersion    *string  `json:"current_version"`
	AvailableVersions []string `json:"available_versions"`
}

func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	def, err := s.node.Registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, errorMessage("service not found", err, r))
		return
	}

	versionsDir := filepath.Join(s.node.ServiceRoot(id), "versions")
	var versions []string
	entries, err := os.ReadDir(versionsDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				versions = append(versions, e.Name())
			}
		}
	}
	sort.Strings(versions)
	if versions == nil {
		versions = []string{}
	}

	writeJSON(w, http.StatusOK, artifactInfo{
		CurrentVersion:    def.CurrentVersion,
		AvailableVersions: versions,
	})
}
