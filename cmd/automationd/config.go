package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all automationd configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr  string `json:"listen_addr"`
	DBPath      string `json:"db_path"`
	LogLevel    string `json:"log_level"`
	Workers     int    `json:"workers"`
	MCP         bool   `json:"mcp"`
	ActiveOwner string `json:"active_owner"`
	VaultKey    string `json:"vault_key"` // base64-encoded 32-byte key
}

func defaultConfig() Config {
	return Config{
		ListenAddr: "localhost:8750",
		DBPath:     filepath.Join(automationDir(), "automation.db"),
		LogLevel:   "info",
		Workers:    4,
	}
}

func automationDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".automation"
	}
	return filepath.Join(home, ".automation")
}

func settingsPath() string {
	return filepath.Join(automationDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("AUTOMATION_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("AUTOMATION_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AUTOMATION_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AUTOMATION_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("AUTOMATION_MCP"); v != "" {
		cfg.MCP = v == "true" || v == "1"
	}
	if v := os.Getenv("AUTOMATION_ACTIVE_OWNER"); v != "" {
		cfg.ActiveOwner = v
	}
	if v := os.Getenv("AUTOMATION_VAULT_KEY"); v != "" {
		cfg.VaultKey = v
	}

	return cfg
}
