package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"blobshelf/internal/staging"
	"blobshelf/internal/store"
	"blobshelf/internal/ui"
)

// UploadField is the multipart form field carrying the uploaded file.
const UploadField = "file"

// Server serves the blob browser UI on top of a BlobStore.
type Server struct {
	Config Config
	stager *staging.Stager
}

// NewServer prepares the staging directory and returns a new Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("Store must not be nil")
	}

	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(os.TempDir(), "blobshelf-staging")
	}

	stager, err := staging.New(cfg.StagingDir, cfg.MaxUploadBytes)
	if err != nil {
		return nil, err
	}

	return &Server{Config: cfg, stager: stager}, nil
}

// Close closes the underlying store.
func (s *Server) Close() error {
	return s.Config.Store.Close()
}

// Index lists the container and renders it below the upload form.
func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	names, err := s.Config.Store.List(ctx)
	if err != nil {
		slog.Error("failed to list objects", "container", s.Config.Container, "err", err)
		http.Error(w, fmt.Sprintf("failed to list objects: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := ui.IndexPage(s.Config.Container, names).Render(ctx, w); err != nil {
		slog.Error("failed to render index page", "err", err)
		http.Error(w, fmt.Sprintf("failed to render index page: %v", err), http.StatusInternalServerError)
		return
	}
}

// Upload stages the posted file, forwards it to the store, and redirects to
// the index. A failed store write is only logged; the redirect still happens.
func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	upload, err := s.stager.Stage(w, r, UploadField)
	if errors.Is(err, staging.ErrParse) {
		slog.Warn("rejected upload", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("failed to stage upload", "err", err)
		http.Error(w, "failed to stage upload", http.StatusInternalServerError)
		return
	}

	if err := s.forward(ctx, upload); err != nil {
		slog.Error("failed to upload object", "name", upload.Name, "size", upload.Size, "err", err)
	} else {
		slog.Info("Uploaded object", "name", upload.Name, "size", upload.Size)
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// forward writes the staged upload to the store. The staged file is removed
// on every return path, including a panicking store.
func (s *Server) forward(ctx context.Context, upload *staging.Upload) error {
	defer func() {
		if err := upload.Remove(); err != nil {
			slog.Error("failed to remove staged file", "path", upload.Path, "err", err)
		}
	}()

	return s.Config.Store.WriteFromLocalFile(ctx, upload.Name, upload.Path)
}

// Download streams the named object to the client as an attachment. If the
// object cannot be opened the response is a bodiless 500.
func (s *Server) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	rc, err := s.Config.Store.ReadStream(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("download of missing object", "name", name, "err", err)
		} else {
			slog.Error("failed to open object", "name", name, "err", err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", disposition)
	w.WriteHeader(http.StatusOK)

	// Headers are already sent, so a failure here can only cut the body short.
	if n, err := io.Copy(w, rc); err != nil {
		slog.Warn("download interrupted", "name", name, "bytes", n, "err", err)
	}
}

// Delete removes the named object and redirects to the index, whether or not
// the removal succeeded.
func (s *Server) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	if err := s.Config.Store.Delete(ctx, name); err != nil {
		slog.Error("failed to delete object", "name", name, "err", err)
	} else {
		slog.Info("Deleted object", "name", name)
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Healthz reports liveness without touching the store.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}
