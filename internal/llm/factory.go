package llm

import (
	"context"
	"fmt"

	"forgecore/internal/config"
)

// NewBackend constructs the configured default LlmBackend (spec §4.1/§6.5:
// the backend is only instantiated when enabled and, for non-free
// providers, an API key is present — IA4's safety gate lives in
// config.Validate(), this is just the construction switch).
func NewBackend(ctx context.Context, cfg config.LLMConfig) (Backend, error) {
	return newProviderBackend(ctx, cfg.Provider, cfg.BaseURL, cfg.APIKey)
}

// newProviderBackend is the single provider-dispatch switch shared by
// NewBackend (the cfg.LLM fallback) and Registry (the per-descriptor
// construction path), so "which providers forgecore knows how to build"
// lives in exactly one place.
func newProviderBackend(ctx context.Context, provider, baseURL, apiKey string) (Backend, error) {
	switch provider {
	case "local":
		return NewLocalBackend(baseURL), nil
	case "genai", "gemini":
		return NewGenaiBackend(ctx, apiKey)
	case "anthropic":
		return NewAnthropicBackend(baseURL, apiKey), nil
	case "openai":
		return NewOpenAICompatBackend("openai", defaultOr(baseURL, "https://api.openai.com/v1"), apiKey), nil
	case "xai":
		return NewOpenAICompatBackend("xai", defaultOr(baseURL, "https://api.x.ai/v1"), apiKey), nil
	case "zai":
		return NewOpenAICompatBackend("zai", defaultOr(baseURL, "https://api.z.ai/v1"), apiKey), nil
	case "openrouter":
		return NewOpenAICompatBackend("openrouter", defaultOr(baseURL, "https://openrouter.ai/api/v1"), apiKey), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", provider)
	}
}

func defaultOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
