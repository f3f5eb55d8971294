package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every KIROPANEL_ env var that Load() reads.
var allConfigKeys = []string{
	"KIROPANEL_LISTEN_ADDR",
	"KIROPANEL_DB_PATH",
	"KIROPANEL_UPSTREAM_URL",
	"KIROPANEL_UPSTREAM_ADMIN_TOKEN",
	"KIROPANEL_ADMIN_PASSWORD",
	"KIROPANEL_SESSION_SECRET",
	"KIROPANEL_SESSION_TTL",
	"KIROPANEL_SECRET_KEY",
	"KIROPANEL_REFRESH_INTERVAL",
	"KIROPANEL_ITEM_DELAY",
}

// isolateConfigEnv saves and unsets all KIROPANEL_ env vars so tests don't
// inherit values from the host environment (e.g. a running dev server).
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("KIROPANEL_ADMIN_PASSWORD", "hunter2")
	t.Setenv("KIROPANEL_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("KIROPANEL_DB_PATH", "/tmp/test.db")
	t.Setenv("KIROPANEL_UPSTREAM_URL", "https://kiro.example.com")
	t.Setenv("KIROPANEL_UPSTREAM_ADMIN_TOKEN", "tok")
	t.Setenv("KIROPANEL_REFRESH_INTERVAL", "10m")
	t.Setenv("KIROPANEL_ITEM_DELAY", "2s")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, "https://kiro.example.com", cfg.UpstreamURL)
	assert.Equal(t, 10*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, 2*time.Second, cfg.ItemDelay)
	assert.True(t, cfg.HasUpstream())
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("KIROPANEL_ADMIN_PASSWORD", "hunter2")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "kiropanel.db", cfg.DBPath)
	assert.Equal(t, 5*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.ItemDelay)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.False(t, cfg.HasUpstream())
	assert.Nil(t, cfg.SecretKey())
}

func TestLoad_MissingAdminPassword(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KIROPANEL_ADMIN_PASSWORD")
}

func TestLoad_InvalidRefreshInterval(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("KIROPANEL_ADMIN_PASSWORD", "hunter2")
	t.Setenv("KIROPANEL_REFRESH_INTERVAL", "not-a-duration")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
}

func TestLoad_UpstreamURLWithoutToken(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("KIROPANEL_ADMIN_PASSWORD", "hunter2")
	t.Setenv("KIROPANEL_UPSTREAM_URL", "https://kiro.example.com")

	cfg, err := Load()

	require.NoError(t, err)
	assert.False(t, cfg.HasUpstream())
}

func TestLoad_SecretKey_Valid(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("KIROPANEL_ADMIN_PASSWORD", "hunter2")
	// 64 hex chars = 32 bytes
	t.Setenv("KIROPANEL_SECRET_KEY", "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Len(t, cfg.SecretKey(), 32)
}

func TestLoad_SecretKey_TooShort(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("KIROPANEL_ADMIN_PASSWORD", "hunter2")
	t.Setenv("KIROPANEL_SECRET_KEY", "deadbeef")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KIROPANEL_SECRET_KEY")
}

func TestLoad_SecretKey_NotHex(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("KIROPANEL_ADMIN_PASSWORD", "hunter2")
	// 64 chars but not valid hex
	t.Setenv("KIROPANEL_SECRET_KEY", "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KIROPANEL_SECRET_KEY")
}
