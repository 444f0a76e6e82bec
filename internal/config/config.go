// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// Environment variables read by Load.
const (
	EnvConnection     = "BLOBSHELF_CONNECTION"
	EnvContainer      = "BLOBSHELF_CONTAINER"
	EnvPort           = "PORT"
	EnvStagingDir     = "BLOBSHELF_STAGING_DIR"
	EnvMaxUploadBytes = "BLOBSHELF_MAX_UPLOAD_BYTES"
	EnvLogLevel       = "BLOBSHELF_LOG_LEVEL"
)

type Config struct {
	// Connection selects and authenticates the blob store backend.
	Connection string
	// Container is the bucket or namespace holding the objects.
	Container string

	Port           string
	StagingDir     string
	MaxUploadBytes int64
	LogLevel       log.Level
}

// Load reads a .env file from dotenvPath when it exists, without overriding
// variables already set, and then builds a Config from the environment.
// A missing connection string or container is an error.
func Load(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if _, err := os.Stat(dotenvPath); err == nil {
			if err := godotenv.Load(dotenvPath); err != nil {
				return Config{}, fmt.Errorf("failed to load %s: %w", dotenvPath, err)
			}
		}
	}

	cfg := Config{
		Connection: strings.TrimSpace(os.Getenv(EnvConnection)),
		Container:  strings.TrimSpace(os.Getenv(EnvContainer)),
		Port:       getEnv(EnvPort, "3000"),
		StagingDir: os.Getenv(EnvStagingDir),
	}

	if cfg.Connection == "" {
		return Config{}, fmt.Errorf("%s must be set", EnvConnection)
	}
	if cfg.Container == "" {
		return Config{}, fmt.Errorf("%s must be set", EnvContainer)
	}

	if v := os.Getenv(EnvMaxUploadBytes); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("%s: invalid byte count %q", EnvMaxUploadBytes, v)
		}
		cfg.MaxUploadBytes = n
	}

	level, err := log.ParseLevel(getEnv(EnvLogLevel, "info"))
	if err != nil {
		return Config{}, errors.Join(fmt.Errorf("%s: invalid level", EnvLogLevel), err)
	}
	cfg.LogLevel = level

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}
