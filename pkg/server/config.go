package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server TOMLServerSection `toml:"server"`
	Auth   TOMLAuthSection   `toml:"auth"`
	Board  TOMLBoardSection  `toml:"board"`
}

type TOMLServerSection struct {
	ListenAddr  string `toml:"listen_addr"`
	MetricsPort int    `toml:"metrics_port"`
	HTTPPort    int    `toml:"http_port"`
}

type TOMLAuthSection struct {
	CredentialDBPath  string `toml:"credential_db_path"`
	LockFilePath      string `toml:"lock_file_path"`
	KeyWindowMs       int    `toml:"key_window_ms"`
	OperatorKey       string `toml:"operator_key"`
	MinPasswordLength int    `toml:"min_password_length"`
}

type TOMLBoardSection struct {
	MaxTitleLength int `toml:"max_title_length"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: TOMLServerSection{
			ListenAddr:  "127.0.0.1:8420",
			MetricsPort: 9091,
			HTTPPort:    0,
		},
		Auth: TOMLAuthSection{
			CredentialDBPath:  "./auth.db",
			LockFilePath:      "./auth.lock",
			KeyWindowMs:       1000,
			OperatorKey:       "debug",
			MinPasswordLength: 8,
		},
		Board: TOMLBoardSection{
			MaxTitleLength: 40,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates a default one
// if not found, and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path); err != nil {
			// Can't write (permissions?) - run on defaults anyway
			return applyEnvOverrides(config), nil
		}
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables follow the pattern: DRIFTBOARD_SECTION_KEY
// Example: DRIFTBOARD_SERVER_LISTEN_ADDR=0.0.0.0:8420
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("DRIFTBOARD_SERVER_LISTEN_ADDR"); val != "" {
		config.Server.ListenAddr = val
	}
	if val := os.Getenv("DRIFTBOARD_SERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.MetricsPort = port
		}
	}
	if val := os.Getenv("DRIFTBOARD_SERVER_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.HTTPPort = port
		}
	}
	if val := os.Getenv("DRIFTBOARD_AUTH_CREDENTIAL_DB_PATH"); val != "" {
		config.Auth.CredentialDBPath = val
	}
	if val := os.Getenv("DRIFTBOARD_AUTH_LOCK_FILE_PATH"); val != "" {
		config.Auth.LockFilePath = val
	}
	if val := os.Getenv("DRIFTBOARD_AUTH_KEY_WINDOW_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			config.Auth.KeyWindowMs = ms
		}
	}
	if val := os.Getenv("DRIFTBOARD_AUTH_OPERATOR_KEY"); val != "" {
		config.Auth.OperatorKey = val
	}
	if val := os.Getenv("DRIFTBOARD_AUTH_MIN_PASSWORD_LENGTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Auth.MinPasswordLength = n
		}
	}
	if val := os.Getenv("DRIFTBOARD_BOARD_MAX_TITLE_LENGTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Board.MaxTitleLength = n
		}
	}

	return config
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# Driftboard Server Configuration
# This file was auto-generated with default values
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# DRIFTBOARD_SECTION_KEY (e.g., DRIFTBOARD_SERVER_LISTEN_ADDR=0.0.0.0:8420)

[server]
# Address for client TCP connections. The protocol has no transport
# security of its own, so the default binds loopback only (clients are
# expected to arrive through the SSH gateway).
listen_addr = "127.0.0.1:8420"

# Port for the internal metrics HTTP server (/metrics, /health)
# Never expose this publicly. Set to 0 to disable.
metrics_port = 9091

# Port for the optional WebSocket bridge (/ws) carrying the same line
# protocol, one text message per record. 0 = disabled.
http_port = 0

[auth]
# Path to the credential key-value store (username -> password hash)
credential_db_path = "./auth.db"

# Advisory lock file serializing credential store access across the
# server and the driftboard-adduser CLI. Not crash-safe: remove it
# manually if a process died while holding it.
lock_file_path = "./auth.lock"

# How long a minted session key stays redeemable, in milliseconds
key_window_ms = 1000

# Reserved operator key, always redeemable, mapped to the operator
# identity. Set to "" to disable the fast path.
operator_key = "debug"

# Minimum length enforced on password changes
min_password_length = 8

[board]
# Thread titles longer than this are truncated
max_title_length = 40
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ServerConfig holds the runtime server configuration
type ServerConfig struct {
	ListenAddr        string
	MetricsPort       int
	HTTPPort          int
	CredentialDBPath  string
	LockFilePath      string
	KeyWindow         time.Duration
	OperatorKey       string
	MinPasswordLength int
	MaxTitleLength    int
}

// DefaultConfig returns the default runtime configuration
func DefaultConfig() ServerConfig {
	return DefaultTOMLConfig().ToServerConfig()
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c TOMLConfig) ToServerConfig() ServerConfig {
	cfg := ServerConfig{
		ListenAddr:        "127.0.0.1:8420",
		MetricsPort:       9091,
		CredentialDBPath:  "./auth.db",
		LockFilePath:      "./auth.lock",
		KeyWindow:         time.Second,
		OperatorKey:       c.Auth.OperatorKey,
		MinPasswordLength: 8,
		MaxTitleLength:    40,
	}

	if strings.TrimSpace(c.Server.ListenAddr) != "" {
		cfg.ListenAddr = c.Server.ListenAddr
	}
	if c.Server.MetricsPort != 0 {
		cfg.MetricsPort = c.Server.MetricsPort
	}
	cfg.HTTPPort = c.Server.HTTPPort

	if strings.TrimSpace(c.Auth.CredentialDBPath) != "" {
		cfg.CredentialDBPath = c.Auth.CredentialDBPath
	}
	if strings.TrimSpace(c.Auth.LockFilePath) != "" {
		cfg.LockFilePath = c.Auth.LockFilePath
	}
	if c.Auth.KeyWindowMs > 0 {
		cfg.KeyWindow = time.Duration(c.Auth.KeyWindowMs) * time.Millisecond
	}
	if c.Auth.MinPasswordLength > 0 {
		cfg.MinPasswordLength = c.Auth.MinPasswordLength
	}
	if c.Board.MaxTitleLength > 0 {
		cfg.MaxTitleLength = c.Board.MaxTitleLength
	}

	return cfg
}
