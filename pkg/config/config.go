package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the getter methods.
//
// Example (~/.dialectica/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8098
// store:
//   backend: sqlite
//   path: ~/.dialectica/dialectica.db
// model:
//   provider: google
//   api_key: ...
//   model: gemini-2.5-flash
// debate:
//   max_turns: 12
//   inter_turn_delay_ms: 2000
//   countdown_steps: 3
//   turn_timeout_s: 120
// replay:
//   tick_ms: 2000
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.

type AppConfig struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Model  ModelConfig  `yaml:"model"`
	Debate DebateConfig `yaml:"debate"`
	Replay ReplayConfig `yaml:"replay"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type StoreConfig struct {
	Backend  *string `yaml:"backend"` // sqlite or redis
	Path     *string `yaml:"path"`    // sqlite file path
	RedisURL *string `yaml:"redis_url"`
}

type ModelConfig struct {
	Provider *string `yaml:"provider"` // openai, google, anthropic, deepseek, ollama, qwen, ark, qianfan, custom
	BaseURL  *string `yaml:"base_url"`
	APIKey   *string `yaml:"api_key"`
	Model    *string `yaml:"model"`
	Region   *string `yaml:"region"` // ark only
}

type DebateConfig struct {
	MaxTurns            *int `yaml:"max_turns"`
	InterTurnDelayMs    *int `yaml:"inter_turn_delay_ms"`
	CountdownSteps      *int `yaml:"countdown_steps"`
	CountdownIntervalMs *int `yaml:"countdown_interval_ms"`
	TurnTimeoutS        *int `yaml:"turn_timeout_s"`
	ContextWindow       *int `yaml:"context_window"`
}

type ReplayConfig struct {
	TickMs *int `yaml:"tick_ms"`
}

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8098

	DefaultStoreBackend = "sqlite"

	DefaultModelProvider = "google"
	DefaultModel         = "gemini-2.5-flash"

	DefaultMaxTurns            = 12
	DefaultInterTurnDelayMs    = 2000
	DefaultCountdownSteps      = 3
	DefaultCountdownIntervalMs = 1000
	DefaultTurnTimeoutS        = 120
	DefaultContextWindow       = 5

	DefaultReplayTickMs = 2000
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".dialectica")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.dialectica/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	// Validate
	if strings.TrimSpace(cfg.Host()) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}
	port := cfg.Port()
	if port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}
	switch cfg.StoreBackend() {
	case "sqlite", "redis":
	default:
		return nil, "", fmt.Errorf("invalid store.backend %q in %s", cfg.StoreBackend(), configFile)
	}
	if cfg.MaxTurns() < 1 {
		return nil, "", fmt.Errorf("invalid debate.max_turns %d in %s", cfg.MaxTurns(), configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Store:  StoreConfig{Backend: ptr(DefaultStoreBackend)},
		Model:  ModelConfig{Provider: ptr(DefaultModelProvider), Model: ptr(DefaultModel)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Config may hold an API key, keep permissions restrictive.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	if v := strings.TrimSpace(*c.Server.Host); v != "" {
		return v
	}
	return DefaultHost
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) StoreBackend() string {
	if c == nil || c.Store.Backend == nil {
		return DefaultStoreBackend
	}
	if v := strings.TrimSpace(*c.Store.Backend); v != "" {
		return v
	}
	return DefaultStoreBackend
}

// StorePath returns the sqlite database path, defaulting to
// ~/.dialectica/dialectica.db.
func (c *AppConfig) StorePath() (string, error) {
	if c != nil && c.Store.Path != nil && strings.TrimSpace(*c.Store.Path) != "" {
		return *c.Store.Path, nil
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "dialectica.db"), nil
}

func (c *AppConfig) RedisURL() string {
	if c == nil || c.Store.RedisURL == nil {
		return "redis://127.0.0.1:6379/0"
	}
	return *c.Store.RedisURL
}

func (c *AppConfig) ModelProvider() string {
	if c == nil || c.Model.Provider == nil {
		return DefaultModelProvider
	}
	return *c.Model.Provider
}

func (c *AppConfig) ModelBaseURL() string {
	if c == nil || c.Model.BaseURL == nil {
		return ""
	}
	return *c.Model.BaseURL
}

func (c *AppConfig) ModelAPIKey() string {
	if c == nil || c.Model.APIKey == nil {
		return ""
	}
	return *c.Model.APIKey
}

func (c *AppConfig) ModelName() string {
	if c == nil || c.Model.Model == nil {
		return DefaultModel
	}
	return *c.Model.Model
}

func (c *AppConfig) ModelRegion() string {
	if c == nil || c.Model.Region == nil {
		return ""
	}
	return *c.Model.Region
}

func (c *AppConfig) MaxTurns() int {
	if c == nil || c.Debate.MaxTurns == nil {
		return DefaultMaxTurns
	}
	return *c.Debate.MaxTurns
}

func (c *AppConfig) InterTurnDelay() time.Duration {
	if c == nil || c.Debate.InterTurnDelayMs == nil {
		return DefaultInterTurnDelayMs * time.Millisecond
	}
	return time.Duration(*c.Debate.InterTurnDelayMs) * time.Millisecond
}

func (c *AppConfig) CountdownSteps() int {
	if c == nil || c.Debate.CountdownSteps == nil {
		return DefaultCountdownSteps
	}
	return *c.Debate.CountdownSteps
}

func (c *AppConfig) CountdownInterval() time.Duration {
	if c == nil || c.Debate.CountdownIntervalMs == nil {
		return DefaultCountdownIntervalMs * time.Millisecond
	}
	return time.Duration(*c.Debate.CountdownIntervalMs) * time.Millisecond
}

func (c *AppConfig) TurnTimeout() time.Duration {
	if c == nil || c.Debate.TurnTimeoutS == nil {
		return DefaultTurnTimeoutS * time.Second
	}
	return time.Duration(*c.Debate.TurnTimeoutS) * time.Second
}

// ContextWindow is the number of recent messages handed to the model as
// conversation context for each turn.
func (c *AppConfig) ContextWindow() int {
	if c == nil || c.Debate.ContextWindow == nil {
		return DefaultContextWindow
	}
	return *c.Debate.ContextWindow
}

func (c *AppConfig) ReplayTick() time.Duration {
	if c == nil || c.Replay.TickMs == nil {
		return DefaultReplayTickMs * time.Millisecond
	}
	return time.Duration(*c.Replay.TickMs) * time.Millisecond
}

func ptr[T any](v T) *T { return &v }
