package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// InMemoryStore is a BlobStore powered by a map, to be used for testing or
// local development. Contents are lost when the process exits.
type InMemoryStore struct {
	sync.Mutex
	m map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		m: make(map[string][]byte),
	}
}

func (s *InMemoryStore) List(ctx context.Context) ([]string, error) {
	s.Lock()
	names := make([]string, 0, len(s.m))
	for name := range s.m {
		names = append(names, name)
	}
	s.Unlock()

	sort.Strings(names)
	return names, nil
}

func (s *InMemoryStore) ReadStream(ctx context.Context, name string) (io.ReadCloser, error) {
	s.Lock()
	value, ok := s.m[name]
	s.Unlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	// Stored values are never mutated in place, so the reader can share them.
	return io.NopCloser(bytes.NewReader(value)), nil
}

func (s *InMemoryStore) WriteFromLocalFile(ctx context.Context, name string, localPath string) error {
	value, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	s.Lock()
	s.m[name] = value
	s.Unlock()
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, name string) error {
	s.Lock()
	defer s.Unlock()
	if _, ok := s.m[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	delete(s.m, name)
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
