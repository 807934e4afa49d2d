package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Provider types.
const (
	TypeOpenAI = "openai"
	TypeGemini = "gemini"
)

// ProviderConfig matches config.LLMProviderCfg with a resolved API key.
type ProviderConfig struct {
	Type      string // "openai" (any OpenAI-compatible endpoint) or "gemini"
	BaseURL   string
	Model     string // default model
	APIKey    string // resolved API key
	RateLimit int    // requests per minute
	Enabled   bool
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	Providers map[string]ProviderConfig
}

// ProviderInfo describes a registered provider.
type ProviderInfo struct {
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Model     string            `json:"model,omitempty"`
	BaseURL   string            `json:"base_url,omitempty"`
	RateLimit RateLimiterStatus `json:"rate_limit"`
}

type providerEntry struct {
	cfg     ProviderConfig
	limiter *RateLimiter
}

// Registry resolves provider names to gateways.
//
// Configured providers yield a fresh client per invocation, since timeouts
// and retry budgets are per call, while the rate limiter is shared by every
// client of a provider. Fixed clients registered with RegisterLLM are
// returned as-is.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*providerEntry
	fixed     map[string]LLMClient
	logger    *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*providerEntry),
		fixed:     make(map[string]LLMClient),
		logger:    slog.Default(),
	}
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Only enabled providers with an API key are registered.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Reload(cfg)
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterLLM registers a fixed LLM client by name.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fixed[name] = client
	if r.logger != nil {
		r.logger.Info("registered LLM client", "name", name)
	}
}

// UnregisterLLM removes a fixed LLM client by name.
func (r *Registry) UnregisterLLM(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fixed, name)
	if r.logger != nil {
		r.logger.Info("unregistered LLM client", "name", name)
	}
}

// Has checks if a provider is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, fixed := r.fixed[name]
	_, configured := r.providers[name]
	return fixed || configured
}

// Names returns all registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers)+len(r.fixed))
	for name := range r.providers {
		names = append(names, name)
	}
	for name := range r.fixed {
		if _, dup := r.providers[name]; !dup {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// DefaultModel returns the configured default model of a provider, if any.
func (r *Registry) DefaultModel(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.providers[name]; ok {
		return e.cfg.Model
	}
	return ""
}

// List describes every configured provider.
func (r *Registry) List() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderInfo, 0, len(r.providers)+len(r.fixed))
	for name, e := range r.providers {
		out = append(out, ProviderInfo{
			Name:      name,
			Type:      e.cfg.Type,
			Model:     e.cfg.Model,
			BaseURL:   e.cfg.BaseURL,
			RateLimit: e.limiter.Status(),
		})
	}
	for name, c := range r.fixed {
		if _, dup := r.providers[name]; !dup {
			out = append(out, ProviderInfo{Name: name, Type: c.Name()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Client returns a gateway for name tuned with opts.
func (r *Registry) Client(ctx context.Context, name string, opts CallOptions) (LLMClient, error) {
	r.mu.RLock()
	fixed, isFixed := r.fixed[name]
	entry, isConfigured := r.providers[name]
	r.mu.RUnlock()

	if isFixed {
		return fixed, nil
	}
	if !isConfigured {
		return nil, fmt.Errorf("LLM provider not found: %s", name)
	}
	return createLLMClient(ctx, name, entry, opts)
}

// Reload updates the registry based on new configuration.
// Providers that are no longer configured are removed. A provider keeps its
// rate limiter across reloads unless its rate limit changed.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, provCfg := range cfg.Providers {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		if provCfg.Type != TypeOpenAI && provCfg.Type != TypeGemini {
			if r.logger != nil {
				r.logger.Warn("skipping provider with unknown type", "name", name, "type", provCfg.Type)
			}
			continue
		}
		want[name] = true

		existing, hasExisting := r.providers[name]
		if hasExisting && existing.cfg == provCfg {
			continue
		}
		limiter := NewRateLimiter(provCfg.RateLimit)
		if hasExisting && existing.cfg.RateLimit == provCfg.RateLimit {
			limiter = existing.limiter
		}
		r.providers[name] = &providerEntry{cfg: provCfg, limiter: limiter}
		if r.logger != nil {
			if hasExisting {
				r.logger.Info("updated LLM provider", "name", name, "type", provCfg.Type)
			} else {
				r.logger.Info("registered LLM provider", "name", name, "type", provCfg.Type)
			}
		}
	}

	for name := range r.providers {
		if !want[name] {
			delete(r.providers, name)
			if r.logger != nil {
				r.logger.Info("unregistered LLM provider", "name", name)
			}
		}
	}
}

// createLLMClient creates an LLM client based on provider type.
func createLLMClient(ctx context.Context, name string, e *providerEntry, opts CallOptions) (LLMClient, error) {
	switch e.cfg.Type {
	case TypeOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			Name:           name,
			APIKey:         e.cfg.APIKey,
			BaseURL:        e.cfg.BaseURL,
			DefaultModel:   e.cfg.Model,
			MaxRetries:     opts.MaxRetries,
			ConnectTimeout: opts.ConnectTimeout,
			ReadTimeout:    opts.ReadTimeout,
			Limiter:        e.limiter,
		}), nil
	case TypeGemini:
		return NewGeminiClient(ctx, GeminiConfig{
			Name:           name,
			APIKey:         e.cfg.APIKey,
			BaseURL:        e.cfg.BaseURL,
			DefaultModel:   e.cfg.Model,
			MaxRetries:     opts.MaxRetries,
			ConnectTimeout: opts.ConnectTimeout,
			ReadTimeout:    opts.ReadTimeout,
			Limiter:        e.limiter,
		})
	default:
		return nil, fmt.Errorf("unsupported provider type %q", e.cfg.Type)
	}
}
