package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8765", cfg.Addr)
	assert.Equal(t, "/ws", cfg.WSPath)
	assert.Equal(t, 1000, cfg.MaxClients)
	assert.True(t, cfg.Heartbeat)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 90*time.Second, cfg.ClientTimeout)
	assert.Equal(t, 30*time.Second, cfg.CommandTimeout)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("CMDBUS_ADDR", "127.0.0.1:9000")
	t.Setenv("CMDBUS_MAX_CLIENTS", "25")
	t.Setenv("CMDBUS_HEARTBEAT", "false")
	t.Setenv("CMDBUS_COMMAND_TIMEOUT", "45s")

	cfg := FromEnv()
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, 25, cfg.MaxClients)
	assert.False(t, cfg.Heartbeat)
	assert.Equal(t, 45*time.Second, cfg.CommandTimeout)
	// Untouched values keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.UpgradeTimeout)
}

func TestFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("CMDBUS_MAX_CLIENTS", "not-a-number")
	t.Setenv("CMDBUS_CLIENT_TIMEOUT", "soon")

	cfg := FromEnv()
	assert.Equal(t, 1000, cfg.MaxClients)
	assert.Equal(t, 90*time.Second, cfg.ClientTimeout)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MaxClients, cfg.MaxClients)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cmdbus.yaml")
	content := []byte("addr: \"127.0.0.1:7001\"\nmax_clients: 8\nheartbeat: false\ncommand_timeout: 12s\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7001", cfg.Addr)
	assert.Equal(t, 8, cfg.MaxClients)
	assert.False(t, cfg.Heartbeat)
	assert.Equal(t, 12*time.Second, cfg.CommandTimeout)
}

func TestLoadBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cmdbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":::"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
