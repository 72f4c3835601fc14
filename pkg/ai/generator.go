package ai

import (
	"context"
	"fmt"
	"strings"
)

// TextGenerator generates text from a system prompt and a user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GeneratorConfig selects and configures an LLM provider.
type GeneratorConfig struct {
	Provider string // gemini | ollama | openai-compat
	APIKey   string
	BaseURL  string
	Model    string
}

// NewGenerator builds the generator for cfg.Provider. An empty provider
// returns (nil, nil): the responder then always answers with the fallback.
func NewGenerator(cfg GeneratorConfig) (TextGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "":
		return nil, nil
	case "gemini":
		gen, err := NewGeminiGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model)
		if err != nil {
			return nil, err
		}
		return gen, nil
	case "ollama":
		return NewOllamaGenerator(cfg.BaseURL, cfg.Model), nil
	case "openai-compat", "openai":
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}
