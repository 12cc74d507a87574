package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/yuchilin/plannerd/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DataDir == "" {
		t.Error("data dir should default to a non-empty path")
	}
	if cfg.Sync.AutoSaveDelay != 2*time.Second {
		t.Errorf("auto_save_delay = %v, want 2s", cfg.Sync.AutoSaveDelay)
	}
	if cfg.Sync.MaxAttempts != 0 {
		t.Errorf("max_attempts = %d, want unbounded default 0", cfg.Sync.MaxAttempts)
	}
	if cfg.Reminder.LocalWindow != 30*time.Minute {
		t.Errorf("local_window = %v, want 30m", cfg.Reminder.LocalWindow)
	}
	if cfg.Reminder.FireMissed {
		t.Error("fire_missed should default to false")
	}
	if cfg.Server.ListenAddr != "127.0.0.1:8123" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plannerd.yaml")
	content := `
data_dir: /tmp/plannerd-test
remote:
  endpoint: https://sync.example.com
  token: secret
sync:
  auto_save_delay: 5s
  max_attempts: 7
reminder:
  local_window: 45m
  fire_missed: true
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DataDir != "/tmp/plannerd-test" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.Remote.Endpoint != "https://sync.example.com" || cfg.Remote.Token != "secret" {
		t.Errorf("unexpected remote config %+v", cfg.Remote)
	}
	if cfg.Sync.AutoSaveDelay != 5*time.Second {
		t.Errorf("auto_save_delay = %v, want 5s", cfg.Sync.AutoSaveDelay)
	}
	if cfg.Sync.MaxAttempts != 7 {
		t.Errorf("max_attempts = %d, want 7", cfg.Sync.MaxAttempts)
	}
	if cfg.Reminder.LocalWindow != 45*time.Minute {
		t.Errorf("local_window = %v, want 45m", cfg.Reminder.LocalWindow)
	}
	if !cfg.Reminder.FireMissed {
		t.Error("fire_missed should be true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PLANNERD_REMOTE_ENDPOINT", "https://env.example.com")
	t.Setenv("PLANNERD_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.Endpoint != "https://env.example.com" {
		t.Errorf("endpoint = %q, want env override", cfg.Remote.Endpoint)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q, want warn", cfg.Log.Level)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plannerd.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  max_attempts: -1\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	_, err := Load(path)
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Fatalf("expected INVALID_INPUT for missing explicit file, got %v", err)
	}
}
