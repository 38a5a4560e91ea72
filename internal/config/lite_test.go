package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 4, cfg.AutoMatchWorkers)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, 8081, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, "stdio", cfg.Transport)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("ORGAN_MATCH_DATA_DIR", "/tmp/test-organ-match")
	t.Setenv("ORGAN_MATCH_CACHE_MAX_ITEMS", "500")
	t.Setenv("ORGAN_MATCH_CACHE_TTL", "12h")
	t.Setenv("ORGAN_MATCH_STORE_TIMEOUT", "2s")
	t.Setenv("ORGAN_MATCH_AUTO_MATCH_WORKERS", "8")
	t.Setenv("ORGAN_MATCH_TRANSPORT", "http")
	t.Setenv("ORGAN_MATCH_HTTP_PORT", "9090")
	t.Setenv("ORGAN_MATCH_LOG_LEVEL", "debug")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-organ-match", cfg.DataDir)
	assert.Equal(t, 500, cfg.CacheMaxItems)
	assert.Equal(t, 12*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 8, cfg.AutoMatchWorkers)
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadLiteConfig_IgnoresBadNumbers(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("ORGAN_MATCH_AUTO_MATCH_WORKERS", "-2")
	t.Setenv("ORGAN_MATCH_STORE_TIMEOUT", "soon")

	cfg := LoadLiteConfig()

	assert.Equal(t, 4, cfg.AutoMatchWorkers)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.organ-match"}

	assert.Equal(t, "/home/user/.organ-match/organ-match.db", cfg.DatabasePath())
	assert.Equal(t, "/home/user/.organ-match/exports", cfg.ExportDir())
	assert.Equal(t, "stderr", cfg.Logging().Output)
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: filepath.Join(t.TempDir(), "organ-match")}

	err := cfg.EnsureDataDir()
	require.NoError(t, err)

	_, err = os.Stat(cfg.DataDir)
	assert.NoError(t, err)

	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"ORGAN_MATCH_DATA_DIR",
		"ORGAN_MATCH_CACHE_MAX_ITEMS",
		"ORGAN_MATCH_CACHE_TTL",
		"ORGAN_MATCH_STORE_TIMEOUT",
		"ORGAN_MATCH_AUTO_MATCH_WORKERS",
		"ORGAN_MATCH_TRANSPORT",
		"ORGAN_MATCH_HTTP_PORT",
		"ORGAN_MATCH_LOG_LEVEL",
		"ORGAN_MATCH_LOG_FORMAT",
	}
	for _, v := range vars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}
