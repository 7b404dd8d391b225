package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kyleking/askdb/internal/logging"
)

// Manager handles multiple LLM providers with fallback strategies
type Manager struct {
	providers map[string]Service
	fallback  Service
	config    ManagerConfig
	logger    *logging.Logger
}

// ManagerConfig configures the LLM manager behavior
type ManagerConfig struct {
	DefaultProvider   string        `json:"default_provider"`
	FallbackProviders []string      `json:"fallback_providers"`
	RetryAttempts     int           `json:"retry_attempts"`
	RetryDelay        time.Duration `json:"retry_delay"`
	Timeout           time.Duration `json:"timeout"`
	EnableFallback    bool          `json:"enable_fallback"`
}

// NewManager creates a new LLM manager with the given configuration
func NewManager(config ManagerConfig) *Manager {
	return &Manager{
		providers: make(map[string]Service),
		fallback:  NewFallbackService(),
		config:    config,
		logger:    logging.GetLogger().WithField("component", "llm"),
	}
}

// RegisterProvider registers a new LLM provider
func (m *Manager) RegisterProvider(name string, service Service) error {
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	if service == nil {
		return errors.New("service cannot be nil")
	}

	m.providers[name] = service

	return nil
}

func (m *Manager) Name() string {
	if m.config.DefaultProvider != "" {
		return "manager:" + m.config.DefaultProvider
	}

	return "manager"
}

// IsAvailable reports whether any provider, or the rule-based fallback, can answer
func (m *Manager) IsAvailable(ctx context.Context) bool {
	if m.config.EnableFallback {
		return true
	}

	for _, name := range m.chain() {
		if m.providers[name].IsAvailable(ctx) {
			return true
		}
	}

	return false
}

// Classify tries the default provider, then fallback providers, then rules
func (m *Manager) Classify(ctx context.Context, text, instructions string, examples []Example) (string, error) {
	return m.run(ctx, "classify", func(ctx context.Context, s Service) (string, error) {
		return s.Classify(ctx, text, instructions, examples)
	})
}

// Generate tries providers in the same order as Classify
func (m *Manager) Generate(ctx context.Context, prompt string) (string, error) {
	return m.run(ctx, "generate", func(ctx context.Context, s Service) (string, error) {
		return s.Generate(ctx, prompt)
	})
}

// chain lists registered providers in call order
func (m *Manager) chain() []string {
	var names []string

	if _, ok := m.providers[m.config.DefaultProvider]; ok {
		names = append(names, m.config.DefaultProvider)
	}

	for _, name := range m.config.FallbackProviders {
		if _, ok := m.providers[name]; ok && name != m.config.DefaultProvider {
			names = append(names, name)
		}
	}

	return names
}

func (m *Manager) run(ctx context.Context, op string, call func(context.Context, Service) (string, error)) (string, error) {
	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	var lastErr error

	for _, name := range m.chain() {
		out, err := m.tryProvider(ctx, m.providers[name], call)
		if err == nil {
			return out, nil
		}

		lastErr = err
		m.logger.WithField("provider", name).WithField("op", op).WithError(err).Warn("Provider failed")

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	if m.config.EnableFallback {
		m.logger.Debugf("Using rule-based fallback for %s", op)
		return call(ctx, m.fallback)
	}

	if lastErr == nil {
		lastErr = errors.New("no providers registered")
	}

	return "", fmt.Errorf("all LLM providers failed and fallback is disabled: %w", lastErr)
}

// tryProvider calls a provider with retries
func (m *Manager) tryProvider(ctx context.Context, provider Service, call func(context.Context, Service) (string, error)) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= m.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(m.config.RetryDelay):
			}
		}

		out, err := call(ctx, provider)
		if err == nil {
			return out, nil
		}

		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil || errors.Is(err, ErrGenerationUnavailable) {
			break
		}
	}

	return "", fmt.Errorf("provider failed after %d attempts: %w", m.config.RetryAttempts+1, lastErr)
}

// GetAvailableProviders returns registered provider names, sorted
func (m *Manager) GetAvailableProviders() []string {
	providers := make([]string, 0, len(m.providers))
	for name := range m.providers {
		providers = append(providers, name)
	}

	sort.Strings(providers)

	return providers
}

// IsProviderRegistered checks if a provider is registered
func (m *Manager) IsProviderRegistered(name string) bool {
	_, exists := m.providers[name]
	return exists
}

// DefaultManagerConfig returns a sensible default configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DefaultProvider:   ProviderAnthropic,
		FallbackProviders: []string{ProviderOpenAI, ProviderGenAI, ProviderOllama},
		RetryAttempts:     1,
		RetryDelay:        time.Second,
		Timeout:           time.Minute,
		EnableFallback:    true,
	}
}
