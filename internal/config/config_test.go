// ABOUTME: Tests for configuration loading
// ABOUTME: Covers YAML parsing, env expansion, env overrides, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9090"
database:
  path: /data/storyweave.db
sessions:
  idle_ttl: 45m
  sweep_schedule: "@every 10m"
dedupe:
  ttl: 2m
  max_entries: 500
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "/data/storyweave.db", cfg.Database.Path)
	assert.Equal(t, 45*time.Minute, cfg.Sessions.IdleTTL)
	assert.Equal(t, "@every 10m", cfg.Sessions.SweepSchedule)
	assert.Equal(t, 2*time.Minute, cfg.Dedupe.TTL)
	assert.Equal(t, 500, cfg.Dedupe.MaxEntries)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /data/storyweave.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.IdleTTL)
	assert.Equal(t, "@every 5m", cfg.Sessions.SweepSchedule)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_DB_DIR", "/var/lib/storyweave")

	path := writeConfig(t, `
database:
  path: ${TEST_DB_DIR}/gateway.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/storyweave/gateway.db", cfg.Database.Path)
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	t.Setenv("STORYWEAVE_HTTP_ADDR", ":7070")
	t.Setenv("STORYWEAVE_IDLE_TTL", "1h")

	path := writeConfig(t, `
server:
  http_addr: ":9090"
database:
  path: /data/storyweave.db
sessions:
  idle_ttl: 45m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.HTTPAddr)
	assert.Equal(t, time.Hour, cfg.Sessions.IdleTTL)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /data/storyweave.db
sessions:
  idle_ttl: "soonish"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle_ttl")
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
database:
  path: ""
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "storyweave.db", cfg.Database.Path)
}
