package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Coordinator.Interval)
	assert.Equal(t, 100, cfg.Coordinator.BatchSize)
	assert.Equal(t, time.Minute, cfg.Coordinator.RetryDelay)
	assert.Equal(t, 5*time.Minute, cfg.Coordinator.ReconcileInterval)
	assert.Equal(t, "block", cfg.Engine.FailurePolicy)
	assert.Equal(t, 10*time.Second, cfg.Engine.NotifyTimeout)
	assert.Equal(t, 30*time.Second, cfg.ActionRunner.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  addr: ":9090"
redis:
  enabled: true
  addr: "cache:6379"
coordinator:
  interval: 2s
  rate_per_second: 12.5
engine:
  failure_policy: skip
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Second, cfg.Coordinator.Interval)
	assert.Equal(t, 12.5, cfg.Coordinator.RatePerSecond)
	assert.Equal(t, "skip", cfg.Engine.FailurePolicy)
	assert.Equal(t, 8, cfg.Coordinator.Concurrency)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("database:\n  dsn: from-file\n"), 0o600))
	t.Setenv("FLOWGATE_DATABASE_DSN", "host=db user=flow")
	t.Setenv("FLOWGATE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "host=db user=flow", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [unclosed"), 0o600))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}
