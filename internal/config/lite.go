// Package config provides configuration management for the servers.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/organ-match-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external services: records live in one SQLite file and the priority cache
// stays in process.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the SQLite file and exports

	// Cache settings
	CacheMaxItems int           // Maximum priority records in memory
	CacheTTL      time.Duration // Priority cache TTL

	// Orchestrators
	StoreTimeout     time.Duration
	AutoMatchWorkers int

	// Transport settings
	Transport string // Transport type: stdio, http
	HTTPPort  int    // HTTP port (if transport is http)

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".organ-match")

	return &LiteConfig{
		DataDir:          dataDir,
		CacheMaxItems:    1000,
		CacheTTL:         5 * time.Minute,
		StoreTimeout:     5 * time.Second,
		AutoMatchWorkers: 4,
		Transport:        "stdio",
		HTTPPort:         8081,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("ORGAN_MATCH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("ORGAN_MATCH_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("ORGAN_MATCH_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	if v := os.Getenv("ORGAN_MATCH_STORE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.StoreTimeout = d
		}
	}
	if v := os.Getenv("ORGAN_MATCH_AUTO_MATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AutoMatchWorkers = n
		}
	}

	if v := os.Getenv("ORGAN_MATCH_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("ORGAN_MATCH_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv("ORGAN_MATCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ORGAN_MATCH_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// DatabasePath returns the path to the SQLite record store.
func (c *LiteConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "organ-match.db")
}

// ExportDir returns the directory for JSON inbox exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// Logging returns the logger settings. Logs go to stderr because stdio transport owns stdout.
func (c *LiteConfig) Logging() domain.LoggingConfig {
	return domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"}
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}
