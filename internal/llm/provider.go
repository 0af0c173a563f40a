package llm

import (
	"context"
	"fmt"
)

// ProviderConfig carries the settings for every supported provider.
type ProviderConfig struct {
	OllamaURL       string
	OllamaModel     string
	GeminiAPIKey    string
	GeminiModel     string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	AnthropicModel  string
}

// NewProvider constructs the named provider.
func NewProvider(ctx context.Context, name string, cfg ProviderConfig) (LLM, error) {
	switch name {
	case "ollama":
		return NewOllamaClient(WithBaseURL(cfg.OllamaURL), WithModel(cfg.OllamaModel)), nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini requires GEMINI_API_KEY")
		}
		return NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai requires OPENAI_API_KEY")
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), nil
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic requires ANTHROPIC_API_KEY")
		}
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// NewRegistryFromConfig builds the default provider plus every other provider
// that has credentials. Ollama needs none and is always available.
func NewRegistryFromConfig(ctx context.Context, defaultName string, cfg ProviderConfig) (*Registry, error) {
	def, err := NewProvider(ctx, defaultName, cfg)
	if err != nil {
		return nil, err
	}
	providers := []LLM{def}

	optional := map[string]bool{
		"ollama":    true,
		"gemini":    cfg.GeminiAPIKey != "",
		"openai":    cfg.OpenAIAPIKey != "",
		"anthropic": cfg.AnthropicAPIKey != "",
	}
	for name, available := range optional {
		if name == defaultName || !available {
			continue
		}
		p, err := NewProvider(ctx, name, cfg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	return NewRegistry(defaultName, providers...)
}
