package ai

import (
	"fmt"
	"sort"
	"time"

	"conclave/internal/config"
)

// ProviderInfo bundles an adapter with its configured defaults. Default
// options are merged into per-target options at turn time.
type ProviderInfo struct {
	Adapter        Adapter
	DefaultModel   string
	DefaultOptions Options
}

// Registry resolves provider names to adapters.
type Registry struct {
	providers map[string]*ProviderInfo
}

// NewRegistry wires one adapter per configured provider family.
func NewRegistry(cfg *config.ProvidersConfig) *Registry {
	r := &Registry{providers: make(map[string]*ProviderInfo)}

	openai := cfg.OpenAI
	info := &ProviderInfo{
		Adapter: NewOpenAIAdapter(BaseConfig{
			APIKey:    openai.APIKey,
			BaseURL:   openai.BaseURL + "/responses",
			MaxTokens: openai.MaxTokens,
			Timeout:   openai.RequestTimeout,
		}),
		DefaultModel:   openai.DefaultModel,
		DefaultOptions: Options{MaxTokens: openai.MaxTokens},
	}
	if openai.ReasoningEffort != "" {
		info.DefaultOptions.Reasoning = map[string]any{"effort": openai.ReasoningEffort}
	}
	r.providers["openai"] = info

	anthropic := cfg.Anthropic
	info = &ProviderInfo{
		Adapter: NewAnthropicAdapter(BaseConfig{
			APIKey:    anthropic.APIKey,
			BaseURL:   anthropic.BaseURL + "/messages",
			MaxTokens: anthropic.MaxTokens,
			Timeout:   anthropic.RequestTimeout,
		}),
		DefaultModel:   anthropic.DefaultModel,
		DefaultOptions: Options{MaxTokens: anthropic.MaxTokens},
	}
	if anthropic.ThinkingBudgetTokens > 0 {
		info.DefaultOptions.Thinking = map[string]any{
			"type":          "enabled",
			"budget_tokens": anthropic.ThinkingBudgetTokens,
		}
	}
	r.providers["anthropic"] = info

	google := cfg.Google
	r.providers["google"] = &ProviderInfo{
		Adapter: NewGoogleAdapter(BaseConfig{
			APIKey:    google.APIKey,
			BaseURL:   google.BaseURL + "/models/{model}:generateContent",
			MaxTokens: google.MaxTokens,
			Timeout:   google.RequestTimeout,
			StatePath: StatePath(google.StatePath),
		}),
		DefaultModel:   google.DefaultModel,
		DefaultOptions: Options{MaxTokens: google.MaxTokens},
	}

	xai := cfg.XAI
	r.providers["xai"] = &ProviderInfo{
		Adapter: NewXAIAdapter(BaseConfig{
			APIKey:    xai.APIKey,
			BaseURL:   xai.BaseURL + "/chat/completions",
			MaxTokens: xai.MaxTokens,
			Timeout:   xai.RequestTimeout,
			StatePath: StatePath(xai.StatePath),
		}),
		DefaultModel:   xai.DefaultModel,
		DefaultOptions: Options{MaxTokens: xai.MaxTokens},
	}

	r.providers["mock"] = &ProviderInfo{
		Adapter:      NewMockAdapter(time.Duration(cfg.Mock.LatencyMS) * time.Millisecond),
		DefaultModel: cfg.Mock.DefaultModel,
	}
	return r
}

// Lookup resolves a provider family by its lower-case name.
func (r *Registry) Lookup(provider string) (*ProviderInfo, error) {
	info, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("unrecognised provider %q", provider)
	}
	return info, nil
}

// Providers returns the configured provider names, sorted.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
