package quote

import (
	"context"
	"net/http"
	"time"

	"stock-alert/internal/config"
)

// DefaultTimeout is the per-call deadline used when none is configured.
func DefaultTimeout(providerName string) time.Duration {
	switch providerName {
	case "alpha_vantage":
		return 12 * time.Second
	case "chatgpt_search_preview", "gemini_search":
		return 20 * time.Second
	default:
		// Composite providers may call twice.
		return 32 * time.Second
	}
}

// NewFromConfig selects the active provider. LLM providers fall back to
// Alpha Vantage when a key for it is configured. Unknown names yield an
// Unconfigured provider.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Provider, error) {
	alpha := NewAlphaVantage(cfg.Provider.AlphaVantage.APIKey,
		WithBaseURL(cfg.Provider.AlphaVantage.BaseURL),
		WithHTTPClient(&http.Client{Timeout: DefaultTimeout("alpha_vantage")}),
	)

	name, err := config.NormalizeProvider(cfg.Provider.Name)
	if err != nil {
		return NewUnconfigured(cfg.Provider.Name), nil
	}

	var primary Provider
	switch name {
	case "alpha_vantage":
		return alpha, nil
	case "chatgpt":
		primary = NewChatGPT(cfg.Provider.OpenAI.APIKey, cfg.Provider.OpenAI.Model, cfg.Provider.OpenAI.BaseURL)
	case "gemini":
		g, err := NewGemini(ctx, cfg.Provider.Gemini.APIKey, cfg.Provider.Gemini.Model)
		if err != nil {
			return nil, err
		}
		primary = g
	}

	if cfg.Provider.Fallback && alpha.Ready() {
		return NewFallback(primary, alpha), nil
	}
	return primary, nil
}
