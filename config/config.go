package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "farmchat"
	// DefaultListenAddr is the HTTP listen address when no override exists.
	DefaultListenAddr = ":8090"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// ServerConfig contains persistent messaging-server settings.
type ServerConfig struct {
	ListenAddr     string   `json:"listen_addr"`
	RedisAddr      string   `json:"redis_addr"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If FARMCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("FARMCHAT_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ServerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ServerConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate loads .env overrides, ensures the data directory and
// config file exist, then returns the effective config and its path.
// Environment values win over the persisted file.
func LoadOrCreate() (*ServerConfig, string, error) {
	// Missing .env is fine; it only exists in deployed environments.
	_ = godotenv.Load()

	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create data directory %q: %w", dataDir, err)
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		applyEnvOverrides(cfg)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}
	applyEnvOverrides(cfg)

	return cfg, cfgPath, nil
}

func defaultConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:     DefaultListenAddr,
		RedisAddr:      "",
		AllowedOrigins: nil,
	}
}

func normalizeDefaults(cfg *ServerConfig) bool {
	updated := false

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
		updated = true
	}

	return updated
}

func applyEnvOverrides(cfg *ServerConfig) {
	if addr := os.Getenv("FARMCHAT_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if addr := os.Getenv("FARMCHAT_REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}
	if origins := os.Getenv("FARMCHAT_ALLOWED_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		cfg.AllowedOrigins = cfg.AllowedOrigins[:0]
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}
}
