// Package ai generates free-form character lines from a prompt.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Generator turns a prompt into a short reply.
type Generator interface {
	GenerateResponse(ctx context.Context, prompt string) (string, error)
}

// ErrEmpty is returned when the backend answered without any text.
var ErrEmpty = errors.New("ai: empty response")

// Config selects and configures a backend.
type Config struct {
	// Backend is "none", "openai" or "gemini".
	Backend     string
	BaseURL     string
	APIKey      string
	APIType     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// BreakerFailures is the run of failures that opens the breaker; 0 disables it.
	BreakerFailures int
	BreakerCooldown time.Duration
	Logger          *zap.Logger
}

// New builds the generator named by cfg.Backend, wrapped in a Breaker when
// BreakerFailures is set. "none", or a backend without an API key, yields a
// nil Generator.
func New(ctx context.Context, cfg Config) (Generator, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var g Generator
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "openai":
		if cfg.APIKey == "" {
			log.Warn("ai API key not configured")
			return nil, nil
		}
		g = NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.APIType, cfg.MaxTokens, cfg.Temperature, cfg.Timeout)
	case "gemini":
		if cfg.APIKey == "" {
			log.Warn("ai API key not configured")
			return nil, nil
		}
		gm, err := NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.MaxTokens, cfg.Temperature, cfg.Timeout, "")
		if err != nil {
			return nil, err
		}
		g = gm
	default:
		return nil, fmt.Errorf("ai: unknown backend %q", cfg.Backend)
	}
	if cfg.BreakerFailures > 0 {
		g = NewBreaker(g, cfg.Backend, uint32(cfg.BreakerFailures), cfg.BreakerCooldown, log)
	}
	return g, nil
}
