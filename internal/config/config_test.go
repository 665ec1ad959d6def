package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func boolPtr(v bool) *bool {
	return &v
}

func TestMergeAppliesFileValues(t *testing.T) {
	dst := DefaultConfig()
	src := FileConfig{
		DataDir:     "/var/lib/sealbox",
		Environment: "development",
		LogLevel:    "debug",
		RPC:         FileRPCConfig{Addr: "127.0.0.1:9999"},
		Session:     FileSessionConfig{TimeoutMinutes: 30, Persist: boolPtr(true)},
		Storage:     FileStorageConfig{SyncWrites: boolPtr(false)},
	}

	Merge(&dst, src)

	if dst.DataDir != "/var/lib/sealbox" {
		t.Fatalf("dataDir = %q", dst.DataDir)
	}
	if dst.RPCAddr != "127.0.0.1:9999" {
		t.Fatalf("rpcAddr = %q", dst.RPCAddr)
	}
	if dst.SessionTimeout != 30*time.Minute {
		t.Fatalf("timeout = %s", dst.SessionTimeout)
	}
	if !dst.PersistSession {
		t.Fatal("expected persist=true from explicit config")
	}
	if dst.SyncWrites {
		t.Fatal("expected syncWrites=false from explicit config")
	}
}

func TestMergeDoesNotOverwriteBoolDefaultsWhenUnset(t *testing.T) {
	dst := DefaultConfig()
	dst.SyncWrites = true
	dst.PersistSession = true

	Merge(&dst, FileConfig{LogLevel: "warn"})

	if !dst.SyncWrites || !dst.PersistSession {
		t.Fatal("unset bool fields must not overwrite existing values")
	}
	if dst.LogLevel != "warn" {
		t.Fatalf("logLevel = %q", dst.LogLevel)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SEALBOX_DATA_DIR", "/tmp/seal")
	t.Setenv("SEALBOX_RPC_ADDR", "127.0.0.1:7000")
	t.Setenv("SEALBOX_SESSION_TIMEOUT_MINUTES", "5")
	t.Setenv("SEALBOX_SESSION_PERSIST", "true")
	t.Setenv("SEALBOX_SYNC_WRITES", "false")

	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)

	if cfg.DataDir != "/tmp/seal" {
		t.Fatalf("dataDir = %q", cfg.DataDir)
	}
	if cfg.RPCAddr != "127.0.0.1:7000" {
		t.Fatalf("rpcAddr = %q", cfg.RPCAddr)
	}
	if cfg.SessionTimeout != 5*time.Minute {
		t.Fatalf("timeout = %s", cfg.SessionTimeout)
	}
	if !cfg.PersistSession {
		t.Fatal("expected persist=true from env")
	}
	if cfg.SyncWrites {
		t.Fatal("expected syncWrites=false from env")
	}
}

func TestApplyEnvOverridesIgnoresInvalidValues(t *testing.T) {
	t.Setenv("SEALBOX_SESSION_TIMEOUT_MINUTES", "soon")
	t.Setenv("SEALBOX_SESSION_PERSIST", "maybe")

	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)

	if cfg.SessionTimeout != 15*time.Minute {
		t.Fatalf("invalid timeout changed config: %s", cfg.SessionTimeout)
	}
	if cfg.PersistSession {
		t.Fatal("invalid bool changed config")
	}
}

func TestLoadFromPathReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
dataDir: /srv/sealbox
logLevel: error
rpc:
  addr: 127.0.0.1:8800
session:
  timeoutMinutes: 45
  persist: true
storage:
  syncWrites: false
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := LoadFromPath(path)
	if cfg.DataDir != "/srv/sealbox" {
		t.Fatalf("dataDir = %q", cfg.DataDir)
	}
	if cfg.RPCAddr != "127.0.0.1:8800" {
		t.Fatalf("rpcAddr = %q", cfg.RPCAddr)
	}
	if cfg.SessionTimeout != 45*time.Minute {
		t.Fatalf("timeout = %s", cfg.SessionTimeout)
	}
	if cfg.SlogLevel() != slog.LevelError {
		t.Fatalf("level = %v", cfg.SlogLevel())
	}
	if cfg.StoreDir() != filepath.Join("/srv/sealbox", "store") {
		t.Fatalf("storeDir = %q", cfg.StoreDir())
	}
	if cfg.SessionFilePath() != filepath.Join("/srv/sealbox", "session.seal") {
		t.Fatalf("sessionFilePath = %q", cfg.SessionFilePath())
	}
}

func TestLoadFromPathMissingFileFallsBack(t *testing.T) {
	t.Setenv("SEALBOX_RPC_ADDR", "127.0.0.1:6001")
	cfg := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg.RPCAddr != "127.0.0.1:6001" {
		t.Fatalf("env override lost on missing file: %q", cfg.RPCAddr)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("defaults lost on missing file: %q", cfg.LogLevel)
	}
}
