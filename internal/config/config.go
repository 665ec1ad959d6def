// Package config resolves daemon settings from defaults, an optional YAML
// file, and SEALBOX_* environment overrides, in that order. RPC auth and
// rate-limit knobs are intentionally not here; the rpc package reads its own
// environment so security defaults cannot be loosened from a config file.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir        string
	RPCAddr        string
	Environment    string
	LogLevel       string
	SessionTimeout time.Duration
	PersistSession bool
	SyncWrites     bool
}

type FileConfig struct {
	DataDir     string            `yaml:"dataDir"`
	Environment string            `yaml:"environment"`
	LogLevel    string            `yaml:"logLevel"`
	RPC         FileRPCConfig     `yaml:"rpc"`
	Session     FileSessionConfig `yaml:"session"`
	Storage     FileStorageConfig `yaml:"storage"`
}

type FileRPCConfig struct {
	Addr string `yaml:"addr"`
}

type FileSessionConfig struct {
	TimeoutMinutes int   `yaml:"timeoutMinutes"`
	Persist        *bool `yaml:"persist"`
}

type FileStorageConfig struct {
	SyncWrites *bool `yaml:"syncWrites"`
}

func DefaultConfig() Config {
	return Config{
		DataDir:        defaultDataDir(),
		RPCAddr:        "127.0.0.1:8747",
		Environment:    "",
		LogLevel:       "info",
		SessionTimeout: 15 * time.Minute,
		PersistSession: false,
		SyncWrites:     true,
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".sealbox")
	}
	return "sealbox-data"
}

// LoadFromPath resolves the effective config. An explicit path that cannot
// be read falls back to defaults plus env, same as no file at all.
func LoadFromPath(configPath string) Config {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/config.yaml",
			"config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}

		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src FileConfig) {
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.Environment != "" {
		dst.Environment = src.Environment
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.RPC.Addr != "" {
		dst.RPCAddr = src.RPC.Addr
	}
	if src.Session.TimeoutMinutes > 0 {
		dst.SessionTimeout = time.Duration(src.Session.TimeoutMinutes) * time.Minute
	}
	if src.Session.Persist != nil {
		dst.PersistSession = *src.Session.Persist
	}
	if src.Storage.SyncWrites != nil {
		dst.SyncWrites = *src.Storage.SyncWrites
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SEALBOX_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("SEALBOX_RPC_ADDR")); v != "" {
		cfg.RPCAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("SEALBOX_ENV")); v != "" {
		cfg.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv("SEALBOX_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("SEALBOX_SESSION_TIMEOUT_MINUTES")); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			cfg.SessionTimeout = time.Duration(minutes) * time.Minute
		}
	}
	if v := strings.TrimSpace(os.Getenv("SEALBOX_SESSION_PERSIST")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.PersistSession = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("SEALBOX_SYNC_WRITES")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.SyncWrites = parsed
		}
	}
}

// StoreDir is where the content store keeps its files.
func (c Config) StoreDir() string {
	return filepath.Join(c.DataDir, "store")
}

// SessionFilePath is where the persisted session lives.
func (c Config) SessionFilePath() string {
	return filepath.Join(c.DataDir, "session.seal")
}

// SlogLevel maps the configured level name onto slog, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
