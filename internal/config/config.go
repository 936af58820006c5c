// Package config loads acpbridge.jsonc and applies environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// FileName is the configuration file looked up on disk.
const FileName = "acpbridge.jsonc"

// Engine types
const (
	EngineEcho   = "echo"
	EngineOpenAI = "openai"
)

// Config is the single configuration file format for acpbridge.jsonc
type Config struct {
	Agent   AgentSection   `json:"agent"`
	Engine  EngineSection  `json:"engine"`
	Limits  LimitsSection  `json:"limits"`
	History HistorySection `json:"history"`
	Logging LoggingSection `json:"logging"`
	Metrics MetricsSection `json:"metrics"`
}

// AgentSection is the identity reported during initialize.
type AgentSection struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// EngineSection selects and configures the prompt engine.
type EngineSection struct {
	Type         string   `json:"type"` // echo, openai
	Model        string   `json:"model"`
	APIKey       string   `json:"api_key"`
	BaseURL      string   `json:"base_url"`
	SystemPrompt string   `json:"system_prompt"`
	MaxRetries   int      `json:"max_retries"`
	MaxHistory   int      `json:"max_history"`
	TokenDelay   Duration `json:"token_delay"`
}

// LimitsSection bounds resource use.
type LimitsSection struct {
	MaxSessions          int      `json:"max_sessions"`
	MaxConcurrentPrompts int      `json:"max_concurrent_prompts"`
	PromptsPerSecond     float64  `json:"prompts_per_second"`
	PromptBurst          int      `json:"prompt_burst"`
	IdleTimeout          Duration `json:"idle_timeout"`
	ReapSchedule         string   `json:"reap_schedule"`
}

// HistorySection configures the transcript store.
type HistorySection struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingSection configures log output.
type LoggingSection struct {
	Dir   string `json:"dir"`
	JSON  bool   `json:"json"`
	Level string `json:"level"`
}

// MetricsSection configures the prometheus listener. Empty Addr disables it.
type MetricsSection struct {
	Addr string `json:"addr"`
}

// Duration is a time.Duration that unmarshals from "250ms" style strings.
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// FindConfigPath returns the path to acpbridge.jsonc using precedence:
// 1. explicit (if specified)
// 2. $ACPBRIDGE_CONFIG
// 3. ./acpbridge.jsonc
// 4. ~/.acpbridge/acpbridge.jsonc
//
// An empty path with a nil error means no file was found and defaults apply.
func FindConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return absOrSelf(explicit), nil
	}

	var candidates []string
	if env := os.Getenv("ACPBRIDGE_CONFIG"); env != "" {
		candidates = append(candidates, env)
	}
	candidates = append(candidates, FileName)
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".acpbridge", FileName))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return absOrSelf(path), nil
		}
	}
	return "", nil
}

func absOrSelf(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// Load reads configPath (if non-empty), applies environment overrides and
// defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	var cfg Config
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", configPath, err)
		}
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration built from defaults only.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "CodePromptAgent"
	}
	if cfg.Agent.Version == "" {
		cfg.Agent.Version = "1.0.0"
	}

	if cfg.Engine.Type == "" {
		cfg.Engine.Type = EngineEcho
	}

	if cfg.Limits.MaxSessions == 0 {
		cfg.Limits.MaxSessions = 64
	}
	if cfg.Limits.MaxConcurrentPrompts == 0 {
		cfg.Limits.MaxConcurrentPrompts = 8
	}
	if cfg.Limits.PromptsPerSecond == 0 {
		cfg.Limits.PromptsPerSecond = 2
	}
	if cfg.Limits.PromptBurst == 0 {
		cfg.Limits.PromptBurst = 5
	}
	if cfg.Limits.IdleTimeout == 0 {
		cfg.Limits.IdleTimeout = Duration(time.Hour)
	}
	if cfg.Limits.ReapSchedule == "" {
		cfg.Limits.ReapSchedule = "@every 5m"
	}

	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join("data", "history.db")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	switch c.Engine.Type {
	case EngineEcho, EngineOpenAI:
	default:
		errs = append(errs, fmt.Errorf("engine.type must be %q or %q, got %q", EngineEcho, EngineOpenAI, c.Engine.Type))
	}
	if c.Engine.Type == EngineOpenAI && c.Engine.APIKey == "" {
		errs = append(errs, errors.New("engine.api_key (or OPENAI_API_KEY) is required for the openai engine"))
	}
	if c.Engine.MaxRetries < 0 {
		errs = append(errs, errors.New("engine.max_retries must not be negative"))
	}
	if c.Limits.MaxSessions < 0 {
		errs = append(errs, errors.New("limits.max_sessions must not be negative"))
	}
	if c.Limits.MaxConcurrentPrompts < 0 {
		errs = append(errs, errors.New("limits.max_concurrent_prompts must not be negative"))
	}
	if c.Limits.PromptsPerSecond < 0 || c.Limits.PromptBurst < 0 {
		errs = append(errs, errors.New("limits.prompts_per_second and limits.prompt_burst must not be negative"))
	}
	if c.Limits.IdleTimeout < 0 {
		errs = append(errs, errors.New("limits.idle_timeout must not be negative"))
	}
	if c.History.Enabled && strings.TrimSpace(c.History.Path) == "" {
		errs = append(errs, errors.New("history.path is required when history is enabled"))
	}

	return errors.Join(errs...)
}
