package server

import (
	"blobshelf/internal/store"
)

type Config struct {
	Container      string
	StagingDir     string
	MaxUploadBytes int64
	Store          store.BlobStore
}

type ConfigOption func(*Config)

func WithStore(s store.BlobStore) ConfigOption {
	return func(cfg *Config) {
		cfg.Store = s
	}
}

func WithContainer(container string) ConfigOption {
	return func(cfg *Config) {
		cfg.Container = container
	}
}

func WithStagingDir(dir string) ConfigOption {
	return func(cfg *Config) {
		cfg.StagingDir = dir
	}
}

// WithMaxUploadBytes caps the size of an upload request body. Zero, the
// default, leaves uploads unbounded.
func WithMaxUploadBytes(n int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxUploadBytes = n
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
