package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults 无配置文件时全部取默认值
func TestLoadDefaults(t *testing.T) {
	cfg, v, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, 30*time.Second, cfg.Hub.AuthTimeout)
	assert.Equal(t, 90*time.Second, cfg.Hub.HeartbeatTimeout)
	assert.Equal(t, 50, cfg.Hub.MaxClientsPerRoom)
	assert.Equal(t, 100, cfg.Hub.MaxHistory)
	assert.Equal(t, 60*time.Second, cfg.Hub.EmptyRoomGrace)
	assert.False(t, cfg.Hub.AllowAllOrigins)
	assert.Equal(t, 24*time.Hour, cfg.Sweeper.Interval)
	assert.Equal(t, 720*time.Hour, cfg.Sweeper.Retention)
	assert.Equal(t, "sqlite", string(cfg.Store.Type))
	assert.Equal(t, "info", cfg.Log.Level)
}

// TestLoadFromFile 文件覆盖默认值，未出现的键保持默认
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	content := []byte(`
server:
  addr: ":9090"
  mode: debug
hub:
  auth_timeout: 5s
  max_clients_per_room: 8
sweeper:
  retention: 48h
store:
  type: sqlite
  dsn: "test.db"
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, 5*time.Second, cfg.Hub.AuthTimeout)
	assert.Equal(t, 8, cfg.Hub.MaxClientsPerRoom)
	assert.Equal(t, 48*time.Hour, cfg.Sweeper.Retention)
	assert.Equal(t, "test.db", cfg.Store.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 未覆盖的键仍为默认值
	assert.Equal(t, 100, cfg.Hub.MaxHistory)
	assert.Equal(t, 24*time.Hour, cfg.Sweeper.Interval)
}

// TestLoadMissingExplicitFile 显式指定的文件不存在时报错
func TestLoadMissingExplicitFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

// TestLoadEnvOverride 环境变量以 RELAY_ 前缀覆盖
func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RELAY_SERVER_ADDR", ":7070")
	t.Setenv("RELAY_HUB_MAX_HISTORY", "25")

	cfg, _, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 25, cfg.Hub.MaxHistory)
}
