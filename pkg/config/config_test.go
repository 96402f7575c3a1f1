package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFile_ReturnsDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path == "" {
		t.Fatalf("expected config path")
	}
	if got := cfg.Host(); got != DefaultHost {
		t.Fatalf("cfg.Host() = %q, want %q", got, DefaultHost)
	}
	if got := cfg.Port(); got != DefaultPort {
		t.Fatalf("cfg.Port() = %d, want %d", got, DefaultPort)
	}
	if got := cfg.MaxTurns(); got != DefaultMaxTurns {
		t.Fatalf("cfg.MaxTurns() = %d, want %d", got, DefaultMaxTurns)
	}
	if got := cfg.InterTurnDelay(); got != 2*time.Second {
		t.Fatalf("cfg.InterTurnDelay() = %v, want 2s", got)
	}
	if got := cfg.ReplayTick(); got != 2*time.Second {
		t.Fatalf("cfg.ReplayTick() = %v, want 2s", got)
	}
	if got := cfg.StoreBackend(); got != "sqlite" {
		t.Fatalf("cfg.StoreBackend() = %q, want sqlite", got)
	}
}

func TestEnsureDefaultConfig_CreatesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := EnsureDefaultConfig()
	if err != nil {
		t.Fatalf("EnsureDefaultConfig() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist at %s: %v", path, err)
	}

	cfg, gotPath, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if filepath.Clean(gotPath) != filepath.Clean(path) {
		t.Fatalf("Load() path = %s, want %s", gotPath, path)
	}
	if got := cfg.Host(); got != DefaultHost {
		t.Fatalf("cfg.Host() = %q, want %q", got, DefaultHost)
	}
	if got := cfg.ModelProvider(); got != DefaultModelProvider {
		t.Fatalf("cfg.ModelProvider() = %q, want %q", got, DefaultModelProvider)
	}
}

func TestLoad_ParsesDebateTuning(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".dialectica")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	body := "server:\n  host: 0.0.0.0\n  port: 9090\ndebate:\n  max_turns: 6\n  inter_turn_delay_ms: 50\n  turn_timeout_s: 10\nreplay:\n  tick_ms: 2500\n"
	if err := os.WriteFile(configPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Host(); got != "0.0.0.0" {
		t.Fatalf("cfg.Host() = %q, want %q", got, "0.0.0.0")
	}
	if got := cfg.Port(); got != 9090 {
		t.Fatalf("cfg.Port() = %d, want %d", got, 9090)
	}
	if got := cfg.MaxTurns(); got != 6 {
		t.Fatalf("cfg.MaxTurns() = %d, want 6", got)
	}
	if got := cfg.InterTurnDelay(); got != 50*time.Millisecond {
		t.Fatalf("cfg.InterTurnDelay() = %v, want 50ms", got)
	}
	if got := cfg.TurnTimeout(); got != 10*time.Second {
		t.Fatalf("cfg.TurnTimeout() = %v, want 10s", got)
	}
	if got := cfg.ReplayTick(); got != 2500*time.Millisecond {
		t.Fatalf("cfg.ReplayTick() = %v, want 2.5s", got)
	}
}

func TestLoad_RejectsUnknownStoreBackend(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".dialectica")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("store:\n  backend: mongodb\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown store backend")
	}
}
