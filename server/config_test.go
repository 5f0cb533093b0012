package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, ":3001", cfg.Addr())
	assert.Equal(t, []string{"*"}, cfg.WS.AllowedOrigins)
}

func TestLoadConfigFromYAML(t *testing.T) {
	t.Setenv("PORT", "")

	path := writeTempFile(t, `
port: 4000
log:
  level: debug
  file: ""
ws:
  allowed_origins: ["https://game.example.com"]
  pong_wait: 30s
  ping_period: 20s
rate_limit:
  enabled: false
defaults:
  character: Zed
  stamina: 50
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Empty(t, cfg.Log.File)
	assert.Equal(t, []string{"https://game.example.com"}, cfg.WS.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.WS.PongWait)
	assert.Equal(t, 20*time.Second, cfg.WS.PingPeriod)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "Zed", cfg.Defaults.Character)
	assert.Equal(t, 50.0, cfg.Defaults.Stamina)

	// 文件未提及的字段保留默认值
	assert.Equal(t, DefaultWriteWait, cfg.WS.WriteWait)
	assert.Equal(t, DefaultInboxSize, cfg.Lobby.InboxSize)
	assert.Equal(t, "Common", cfg.Defaults.Rarity)
	assert.Equal(t, 10.0, cfg.Defaults.Strength)
}

func TestLoadConfigPortEnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "5050")

	cfg, err := LoadConfig(writeTempFile(t, "port: 4000\n"))
	require.NoError(t, err)
	assert.Equal(t, 5050, cfg.Port)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("invalid PORT", func(t *testing.T) {
		t.Setenv("PORT", "abc")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "invalid PORT")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("PORT", "")
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Setenv("PORT", "")
		_, err := LoadConfig(writeTempFile(t, "port: [1, 2"))
		assert.Error(t, err)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults ok", mutate: func(*Config) {}},
		{name: "port zero", mutate: func(c *Config) { c.Port = 0 }, wantErr: "port 0 out of range"},
		{name: "port too large", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "out of range"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: "unknown log level"},
		{name: "ping not shorter than pong", mutate: func(c *Config) { c.WS.PingPeriod = c.WS.PongWait }, wantErr: "ping_period"},
		{name: "send buffer", mutate: func(c *Config) { c.WS.SendBuffer = 0 }, wantErr: "send_buffer"},
		{name: "inbox", mutate: func(c *Config) { c.Lobby.InboxSize = -1 }, wantErr: "inbox_size"},
		{name: "rate limit", mutate: func(c *Config) { c.RateLimit.Burst = 0 }, wantErr: "rate_limit"},
		{name: "rate limit disabled ignores values", mutate: func(c *Config) {
			c.RateLimit.Enabled = false
			c.RateLimit.Burst = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
