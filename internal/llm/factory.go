package llm

import (
	"context"
	"fmt"

	"github.com/Divas-Gupta30/market-agent/internal/config"
)

// Tiers pairs the provider used for short labelling tasks with the one used
// to write answers.
type Tiers struct {
	Simple     Provider
	Generative Provider
}

// NewTiers builds both model tiers for the configured provider.
func NewTiers(ctx context.Context, cfg config.AIConfig) (*Tiers, error) {
	switch cfg.LLMProvider {
	case "ollama":
		return &Tiers{
			Simple:     NewOllamaProvider(cfg.OllamaBaseURL, cfg.SimpleTaskModel),
			Generative: NewOllamaProvider(cfg.OllamaBaseURL, cfg.GenerativeModel),
		}, nil
	case "gemini":
		client, err := NewGeminiClient(ctx, cfg.GoogleAPIKey)
		if err != nil {
			return nil, err
		}
		return &Tiers{
			Simple:     NewGeminiProvider(client, cfg.SimpleTaskModel),
			Generative: NewGeminiProvider(client, cfg.GenerativeModel),
		}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}
