package llm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kyleking/askdb/internal/config"
)

// apiKeyEnv names the conventional key variable per provider, consulted when
// the config carries no key
var apiKeyEnv = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGenAI:     "GEMINI_API_KEY",
}

// NewServiceFromConfig builds a Manager with the configured provider first and
// the rule-based fallback behind it
func NewServiceFromConfig(ctx context.Context, cfg config.LLMConfig) (*Manager, error) {
	mc := DefaultManagerConfig()
	mc.DefaultProvider = cfg.Provider
	mc.FallbackProviders = nil
	mc.Timeout = config.Duration(cfg.Timeout, mc.Timeout)
	mc.EnableFallback = cfg.Fallback || cfg.Provider == ProviderFallback

	manager := NewManager(mc)

	if cfg.Provider == ProviderFallback || cfg.Provider == "" {
		return manager, nil
	}

	service, err := newProvider(ctx, Config{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		APIKey:    resolveAPIKey(cfg.Provider, cfg.APIKey),
		BaseURL:   cfg.BaseURL,
		MaxTokens: cfg.MaxTokens,
		Timeout:   config.Duration(cfg.Timeout, 30*time.Second),
	})
	if err != nil {
		if !mc.EnableFallback {
			return nil, err
		}

		manager.logger.WithError(err).Warnf("LLM provider %s unavailable, using rule-based fallback", cfg.Provider)

		return manager, nil
	}

	if err := manager.RegisterProvider(cfg.Provider, service); err != nil {
		return nil, err
	}

	return manager, nil
}

func newProvider(ctx context.Context, c Config) (Service, error) {
	switch c.Provider {
	case ProviderAnthropic:
		return NewAnthropicService(c)
	case ProviderGenAI:
		return NewGenAIService(ctx, c)
	case ProviderOpenAI, ProviderOllama:
		return NewClient(c)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", c.Provider)
	}
}

func resolveAPIKey(provider, configured string) string {
	if configured != "" {
		return configured
	}

	if name, ok := apiKeyEnv[provider]; ok {
		return os.Getenv(name)
	}

	return ""
}
