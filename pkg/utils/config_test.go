package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "archimap.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "public/db/archimap.sqlite", cfg.Database.ReadSource())
}

func TestLoadConfigFile(t *testing.T) {
	p := writeConfig(t, `
server:
  addr: ":9090"
database:
  source: https://example.com/db/archimap.sqlite
  chunkSize: 8192
  readyTimeout: 3s
cache:
  backend: redis
  redisAddr: localhost:6379
search:
  debounce: 150ms
`)
	cfg, err := LoadConfig(p)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "https://example.com/db/archimap.sqlite", cfg.Database.ReadSource())
	assert.Equal(t, "public/db/archimap.sqlite", cfg.Database.Path, "unset keys keep their default")
	assert.Equal(t, 8192, cfg.Database.ChunkSize)
	assert.Equal(t, 3*time.Second, cfg.Database.ReadyTimeout)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 150*time.Millisecond, cfg.Search.Debounce)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("ARCHIMAP_ADDR", ":7000")
	t.Setenv("ARCHIMAP_DB_SOURCE", "s3://bucket/archimap.sqlite")
	t.Setenv("ARCHIMAP_CACHE_BACKEND", "MEMCACHE")
	t.Setenv("ARCHIMAP_MEMCACHED_ADDR", "localhost:11211")
	t.Setenv("ARCHIMAP_JWT_TTL_HOURS", "2")
	t.Setenv("ARCHIMAP_OTLP_ENDPOINT", "collector:4318")

	cfg, err := LoadConfig(writeConfig(t, "server:\n  addr: \":9090\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr, "environment wins over the file")
	assert.Equal(t, "s3://bucket/archimap.sqlite", cfg.Database.ReadSource())
	assert.Equal(t, "memcache", cfg.Cache.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Auth.JWTDuration)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "collector:4318", cfg.Tracing.Endpoint)
}

func TestLoadConfigIgnoresBadTTL(t *testing.T) {
	t.Setenv("ARCHIMAP_JWT_TTL_HOURS", "soon")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, cfg.Auth.JWTDuration)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "server: [\n"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "database:\n  chunkSize: 1000\n"))
	require.ErrorContains(t, err, "power of two")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"no database", func(c *Config) { c.Database.Path = ""; c.Database.Source = "" }, false},
		{"source only", func(c *Config) { c.Database.Path = ""; c.Database.Source = "https://x/db" }, true},
		{"zero chunk", func(c *Config) { c.Database.ChunkSize = 0 }, false},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis" }, false},
		{"memcache without addr", func(c *Config) { c.Cache.Backend = "memcache" }, false},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "disk" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}
