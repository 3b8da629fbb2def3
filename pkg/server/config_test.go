package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:8420", cfg.ListenAddr)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 0, cfg.HTTPPort)
	assert.Equal(t, "./auth.db", cfg.CredentialDBPath)
	assert.Equal(t, "./auth.lock", cfg.LockFilePath)
	assert.Equal(t, time.Second, cfg.KeyWindow)
	assert.Equal(t, "debug", cfg.OperatorKey)
	assert.Equal(t, 8, cfg.MinPasswordLength)
	assert.Equal(t, 40, cfg.MaxTitleLength)
}

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftboard.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8420", cfg.Server.ListenAddr)

	// The generated file must round-trip through the parser: a restart
	// on the auto-written file keeps the same effective configuration
	_, err = os.Stat(path)
	require.NoError(t, err)
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
	assert.Equal(t, "debug", again.Auth.OperatorKey,
		"operator key must survive a restart on the generated file")
}

func TestLoadConfigParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftboard.toml")
	content := `
[server]
listen_addr = "0.0.0.0:9999"
metrics_port = 7070

[auth]
key_window_ms = 250
operator_key = "hunter"
min_password_length = 12

[board]
max_title_length = 20
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	runtime := cfg.ToServerConfig()
	assert.Equal(t, "0.0.0.0:9999", runtime.ListenAddr)
	assert.Equal(t, 7070, runtime.MetricsPort)
	assert.Equal(t, 250*time.Millisecond, runtime.KeyWindow)
	assert.Equal(t, "hunter", runtime.OperatorKey)
	assert.Equal(t, 12, runtime.MinPasswordLength)
	assert.Equal(t, 20, runtime.MaxTitleLength)
}

func TestLoadConfigMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftboard.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nbroken"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DRIFTBOARD_SERVER_LISTEN_ADDR", "10.0.0.1:1234")
	t.Setenv("DRIFTBOARD_AUTH_KEY_WINDOW_MS", "500")
	t.Setenv("DRIFTBOARD_AUTH_OPERATOR_KEY", "sesame")
	t.Setenv("DRIFTBOARD_BOARD_MAX_TITLE_LENGTH", "25")

	path := filepath.Join(t.TempDir(), "driftboard.toml")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	runtime := cfg.ToServerConfig()
	assert.Equal(t, "10.0.0.1:1234", runtime.ListenAddr)
	assert.Equal(t, 500*time.Millisecond, runtime.KeyWindow)
	assert.Equal(t, "sesame", runtime.OperatorKey)
	assert.Equal(t, 25, runtime.MaxTitleLength)
}

func TestToServerConfigFillsZeroValues(t *testing.T) {
	var empty TOMLConfig
	runtime := empty.ToServerConfig()

	assert.Equal(t, "127.0.0.1:8420", runtime.ListenAddr)
	assert.Equal(t, time.Second, runtime.KeyWindow)
	assert.Equal(t, 8, runtime.MinPasswordLength)
	assert.Equal(t, 40, runtime.MaxTitleLength)
	// An unset operator key disables the fast path rather than
	// defaulting to a well-known value.
	assert.Equal(t, "", runtime.OperatorKey)
}
