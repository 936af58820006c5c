// Package factory builds the configured prompt engine.
package factory

import (
	"fmt"

	"github.com/HyphaGroup/acpbridge/internal/config"
	"github.com/HyphaGroup/acpbridge/internal/engine"
	"github.com/HyphaGroup/acpbridge/internal/engine/echo"
	"github.com/HyphaGroup/acpbridge/internal/engine/openai"
)

// New returns the engine selected by cfg.Type.
func New(cfg config.EngineSection) (engine.PromptEngine, error) {
	switch cfg.Type {
	case config.EngineEcho, "":
		return echo.New(echo.Config{TokenDelay: cfg.TokenDelay.Std()}), nil
	case config.EngineOpenAI:
		return openai.New(openai.Config{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			MaxRetries:   cfg.MaxRetries,
			MaxHistory:   cfg.MaxHistory,
		}), nil
	default:
		return nil, fmt.Errorf("unknown engine type %q", cfg.Type)
	}
}
