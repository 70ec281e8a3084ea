package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultDatabaseFile, cfg.DatabaseFile)
	assert.Equal(t, 5*time.Minute, cfg.Retention())
	assert.Equal(t, DefaultDevicesLimit, cfg.DefaultDevicesLimit)
	assert.Equal(t, DefaultQueueDepth, cfg.QueueDepth())
	assert.Equal(t, "basic", cfg.DefaultPlan)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "http://localhost:9009", cfg.BaseURL())
	assert.Equal(t, ":9009", cfg.Addr())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("CLOUD_PORT", "8123")
	t.Setenv("DATABASE_FILE", "/tmp/test-relay.db")
	t.Setenv("MESSAGE_RETENTION_MINUTES", "12")
	t.Setenv("DEFAULT_DEVICES_LIMIT", "9")
	t.Setenv("DEBUG", "true")
	t.Setenv("QUEUE_DEPTH", "64")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Port)
	assert.Equal(t, "/tmp/test-relay.db", cfg.DatabaseFile)
	assert.Equal(t, 12*time.Minute, cfg.Retention())
	assert.Equal(t, 9, cfg.DefaultDevicesLimit)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 64, cfg.QueueDepth())
	assert.Equal(t, "http://localhost:8123", cfg.BaseURL())
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	body := []byte("cloud_port: 7001\nmessage_retention_minutes: 30\nlog_file: /var/log/relay.log\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.Retention())
	assert.Equal(t, "/var/log/relay.log", cfg.LogFile)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultDatabaseFile, cfg.DatabaseFile)
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	t.Setenv("CLOUD_PORT", "8123")

	fs := Flags()
	require.NoError(t, fs.Parse([]string{"--cloud_port", "8200", "--debug"}))

	cfg, err := LoadConfig("", fs)
	require.NoError(t, err)

	// A changed flag beats the environment; untouched flags do not.
	assert.Equal(t, 8200, cfg.Port)
	assert.True(t, cfg.Debug)
	assert.Equal(t, DefaultDatabaseFile, cfg.DatabaseFile)
}

func TestLoadConfigEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cloud_port: 7001\n"), 0o600))
	t.Setenv("CLOUD_PORT", "7002")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7002, cfg.Port)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
