package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// applyEnv overlays environment variables onto file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ACPBRIDGE_ENGINE"); v != "" {
		cfg.Engine.Type = v
	}
	if v := os.Getenv("ACPBRIDGE_MODEL"); v != "" {
		cfg.Engine.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Engine.APIKey == "" {
		cfg.Engine.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" && cfg.Engine.BaseURL == "" {
		cfg.Engine.BaseURL = v
	}
	if v := os.Getenv("ACPBRIDGE_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("ACPBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ACPBRIDGE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("ACPBRIDGE_HISTORY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.History.Enabled = b
		}
	}
}
