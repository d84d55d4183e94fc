package ai

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ProviderConfig selects and configures a TextGenerator.
type ProviderConfig struct {
	// Provider is one of "openai-compat" (aliases "perplexity", "openai"),
	// "gemini" or "ollama".
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       *float64
	RequestsPerSecond float64
	// Timeout bounds one HTTP call. Zero keeps the generator's default.
	Timeout time.Duration
}

// NewTextGenerator builds the generator described by cfg.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "openai-compat"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%s model required", provider)
	}
	throttle := NewThrottle(cfg.RequestsPerSecond, 1)
	switch provider {
	case "openai-compat", "openai", "perplexity":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("%s base URL required", provider)
		}
		opts := []OpenAICompatOption{WithProviderName(provider), WithThrottle(throttle)}
		if cfg.Timeout > 0 {
			opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		if cfg.Temperature != nil {
			opts = append(opts, WithTemperature(*cfg.Temperature))
		}
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model, opts...), nil
	case "gemini":
		client, err := NewGeminiClient(cfg.APIKey, WithGeminiBaseURL(cfg.BaseURL), WithGeminiThrottle(throttle))
		if err != nil {
			return nil, err
		}
		gen := NewGeminiGenerator(client, cfg.Model)
		if cfg.Temperature != nil {
			gen = gen.WithTemperature(*cfg.Temperature)
		}
		return gen, nil
	case "ollama":
		client := NewOllamaClient(cfg.BaseURL)
		if cfg.Timeout > 0 {
			client.httpClient.Timeout = cfg.Timeout
		}
		gen := NewOllamaGenerator(client, cfg.Model).WithThrottle(throttle)
		if cfg.Temperature != nil {
			gen = gen.WithTemperature(*cfg.Temperature)
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", provider)
	}
}
