// Package staging materializes multipart file uploads as local temporary
// files before they are forwarded to a blob store.
package staging

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
)

// ErrParse indicates the request did not carry a usable file upload.
var ErrParse = errors.New("invalid upload")

// Stager writes uploads into a single staging directory.
type Stager struct {
	dir      string
	maxBytes int64
}

// Upload is a staged file owned by the request that produced it.
type Upload struct {
	// Name is the original file name declared by the client.
	Name string
	// Path is the location of the staged bytes on local disk.
	Path string
	Size int64

	once      sync.Once
	removeErr error
}

// New creates the staging directory if needed. A positive maxBytes caps the
// request body size; zero means unlimited.
func New(dir string, maxBytes int64) (*Stager, error) {
	if dir == "" {
		return nil, errors.New("staging directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Stager{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the staging directory.
func (s *Stager) Dir() string {
	return s.dir
}

// partReader records read errors so they can be told apart from errors
// writing the staged file.
type partReader struct {
	r   io.Reader
	err error
}

func (p *partReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if err != nil && err != io.EOF {
		p.err = err
	}
	return n, err
}

// Stage streams the first file part named field from the multipart body of
// r into a new file in the staging directory. Errors caused by the request
// wrap ErrParse; any other error comes from the local filesystem. No file is
// left behind when an error is returned.
func (s *Stager) Stage(w http.ResponseWriter, r *http.Request, field string) (*Upload, error) {
	if s.maxBytes > 0 {
		r.Body = http.MaxBytesReader(baseWriter(w), r.Body, s.maxBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: missing file field %q", ErrParse, field)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}

		if part.FormName() != field || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		upload, err := s.write(part.FileName(), part)
		_ = part.Close()
		return upload, err
	}
}

// baseWriter strips middleware wrappers so MaxBytesReader reaches the
// server's own writer and can close the connection when the limit trips.
func baseWriter(w http.ResponseWriter) http.ResponseWriter {
	for {
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return w
		}
		w = u.Unwrap()
	}
}

func (s *Stager) write(name string, src io.Reader) (*Upload, error) {
	f, err := os.CreateTemp(s.dir, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}

	pr := &partReader{r: src}
	size, copyErr := io.Copy(f, pr)
	closeErr := f.Close()

	switch {
	case copyErr != nil && pr.err != nil:
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("%w: %v", ErrParse, pr.err)
	case copyErr != nil:
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("write staged file: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("write staged file: %w", closeErr)
	}

	return &Upload{Name: name, Path: f.Name(), Size: size}, nil
}

// Remove deletes the staged file. Only the first call touches the disk;
// later calls return the first call's result.
func (u *Upload) Remove() error {
	u.once.Do(func() {
		if err := os.Remove(u.Path); err != nil && !os.IsNotExist(err) {
			u.removeErr = err
		}
	})
	return u.removeErr
}
