package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rendis/weave/internal/runner"
)

// Config holds all weave server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr   string           `json:"listen_addr"`
	DBPath       string           `json:"db_path"`
	LogLevel     string           `json:"log_level"`
	PoolSize     int              `json:"pool_size"`
	BlockTimeout string           `json:"block_timeout"`
	MCP          runner.MCPConfig `json:"mcp"`

	// SnapshotPassphrase enables at-rest encryption of pause snapshots.
	SnapshotPassphrase string `json:"snapshot_passphrase"`
	SnapshotSalt       string `json:"snapshot_salt"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4200",
		DBPath:     filepath.Join(weaveDir(), "weave.db"),
		LogLevel:   "info",
		PoolSize:   8,
	}
}

func weaveDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".weave"
	}
	return filepath.Join(home, ".weave")
}

func settingsPath() string {
	return filepath.Join(weaveDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("WEAVE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("WEAVE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("WEAVE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WEAVE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("WEAVE_BLOCK_TIMEOUT"); v != "" {
		cfg.BlockTimeout = v
	}
	if v := os.Getenv("WEAVE_SNAPSHOT_PASSPHRASE"); v != "" {
		cfg.SnapshotPassphrase = v
	}
	if v := os.Getenv("WEAVE_SNAPSHOT_SALT"); v != "" {
		cfg.SnapshotSalt = v
	}

	return cfg
}
