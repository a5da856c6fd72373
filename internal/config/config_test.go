package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", cfg.Server.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
	assert.Equal(t, BackendSQLite, cfg.Session.Backend)
	assert.Equal(t, 15*time.Second, cfg.Polling.Home)
	assert.Equal(t, 20*time.Second, cfg.Polling.Center)
	assert.Equal(t, time.Minute, cfg.Polling.Admin)
	assert.Equal(t, 10, cfg.Scan.Burst)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	file := filepath.Join(dir, "depot.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  base_url: http://dispatch.local:8000
  timeout: 5s
polling:
  home: 30s
session:
  backend: redis
redis:
  host: cache.local
`), 0o600))

	t.Setenv("DEPOT_POLLING_CENTER", "45s")
	t.Setenv("DEPOT_LOGGING_LEVEL", "debug")

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "http://dispatch.local:8000", cfg.Server.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Polling.Home)
	assert.Equal(t, 45*time.Second, cfg.Polling.Center)
	assert.Equal(t, BackendRedis, cfg.Session.Backend)
	assert.Equal(t, "cache.local", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, logrus.DebugLevel, cfg.Logging.NewLogger().GetLevel())
}

func TestDotEnvIsRead(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DEPOT_SCAN_LISTEN=0.0.0.0:9999\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("DEPOT_SCAN_LISTEN") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Scan.Listen)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	base, err := Load("")
	require.NoError(t, err)

	bad := *base
	bad.Server.BaseURL = "localhost:5000"
	assert.Error(t, bad.Validate())

	bad = *base
	bad.Session.Backend = "memcached"
	assert.Error(t, bad.Validate())

	bad = *base
	bad.Polling.Admin = 0
	assert.Error(t, bad.Validate())

	bad = *base
	bad.Logging.Level = "chatty"
	assert.Error(t, bad.Validate())
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
