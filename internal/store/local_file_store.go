package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalFileStore is a BlobStore that keeps each container as a directory
// under dataDir. Object names are percent-encoded into single file names so
// the namespace stays flat even for names containing slashes.
type LocalFileStore struct {
	dataDir   string
	container string
}

// NewLocalFileStore creates the container directory under dataDir and returns
// a store rooted there.
func NewLocalFileStore(dataDir string, container string) (*LocalFileStore, error) {
	if dataDir == "" {
		return nil, errors.New("file connection string must name a directory")
	}
	if strings.HasPrefix(container, ".") || strings.ContainsAny(container, `/\`) {
		return nil, fmt.Errorf("invalid container name %q", container)
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}

	s := &LocalFileStore{dataDir: absDataDir, container: container}
	for _, dir := range []string{s.containerDir(), s.tmpDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return s, nil
}

func (s *LocalFileStore) containerDir() string {
	return filepath.Join(s.dataDir, s.container)
}

func (s *LocalFileStore) tmpDir() string {
	return filepath.Join(s.dataDir, ".tmp")
}

// ObjectPath computes the full filesystem path for the named object.
func (s *LocalFileStore) ObjectPath(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return filepath.Join(s.containerDir(), url.PathEscape(name)), nil
}

func (s *LocalFileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.containerDir())
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name, err := url.PathUnescape(entry.Name())
		if err != nil {
			// Not written by this store.
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (s *LocalFileStore) ReadStream(ctx context.Context, name string) (io.ReadCloser, error) {
	objPath, err := s.ObjectPath(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(objPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return f, err
}

// WriteFromLocalFile links or copies localPath into a private temp file and
// renames it over the object, so readers never observe a partial write.
func (s *LocalFileStore) WriteFromLocalFile(ctx context.Context, name string, localPath string) error {
	objPath, err := s.ObjectPath(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.tmpDir(), "object-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	if err := CopyOrLinkFile(localPath, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write object %q: %w", name, err)
	}

	if err := os.Rename(tmpPath, objPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write object %q: %w", name, err)
	}
	return nil
}

func (s *LocalFileStore) Delete(ctx context.Context, name string) error {
	objPath, err := s.ObjectPath(name)
	if err != nil {
		return err
	}

	err = os.Remove(objPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return err
}

func (s *LocalFileStore) Close() error {
	return nil
}
