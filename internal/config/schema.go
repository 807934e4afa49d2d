package config

import "time"

// Config holds sift configuration.
// Stored at: {home}/config.yaml
type Config struct {
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults"`
	Ledger       LedgerCfg                 `mapstructure:"ledger" yaml:"ledger"`
	Cache        CacheCfg                  `mapstructure:"cache" yaml:"cache"`
	Server       ServerCfg                 `mapstructure:"server" yaml:"server"`
}

// LLMProviderCfg configures an LLM gateway.
type LLMProviderCfg struct {
	Type      string `mapstructure:"type" yaml:"type"`                   // "openai" or "gemini"
	BaseURL   string `mapstructure:"base_url" yaml:"base_url,omitempty"` // OpenAI-compatible endpoint
	Model     string `mapstructure:"model" yaml:"model"`                 // Default model
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`             // API key (supports ${ENV_VAR} syntax)
	RateLimit int    `mapstructure:"rate_limit" yaml:"rate_limit"`       // Requests per minute
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg holds per-invocation defaults.
type DefaultsCfg struct {
	Provider        string `mapstructure:"provider" yaml:"provider"`
	Model           string `mapstructure:"model" yaml:"model"`
	Context         string `mapstructure:"context" yaml:"context"`
	MaxRetries      int    `mapstructure:"max_retries" yaml:"max_retries"`
	ConnectTimeout  int    `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	ReadTimeout     int    `mapstructure:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	MaxOutputTokens int    `mapstructure:"max_output_tokens" yaml:"max_output_tokens"` // 0 = model maximum
	MaxIterations   int    `mapstructure:"max_iterations" yaml:"max_iterations"`
	Review          bool   `mapstructure:"review" yaml:"review"`
	Concurrency     int    `mapstructure:"concurrency" yaml:"concurrency"` // batch invocations in flight
}

// LedgerCfg selects the usage ledger database.
type LedgerCfg struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `mapstructure:"dsn" yaml:"dsn"`       // supports ${ENV_VAR}; empty sqlite DSN means {home}/ledger.db
}

// CacheCfg configures the result cache. Caching is off without a URL.
type CacheCfg struct {
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`
	TTL      int    `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
}

// ServerCfg configures the HTTP service.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openai": {
				Type:      "openai",
				Model:     "gpt-4o",
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 500,
				Enabled:   true,
			},
			"openrouter": {
				Type:      "openai",
				BaseURL:   "https://openrouter.ai/api/v1",
				Model:     "anthropic/claude-sonnet-4",
				APIKey:    "${OPENROUTER_API_KEY}",
				RateLimit: 150,
				Enabled:   true,
			},
			"gemini": {
				Type:      "gemini",
				Model:     "gemini-2.5-flash",
				APIKey:    "${GEMINI_API_KEY}",
				RateLimit: 60,
				Enabled:   true,
			},
		},
		Defaults: DefaultsCfg{
			Provider:       "openrouter",
			Model:          "anthropic/claude-sonnet-4",
			Context:        "Extraction",
			MaxRetries:     7,
			ConnectTimeout: 10,
			ReadTimeout:    300,
			MaxIterations:  15,
			Concurrency:    4,
		},
		Ledger: LedgerCfg{
			Driver: "sqlite",
		},
		Cache: CacheCfg{
			TTL: 86400,
		},
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
	}
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// ConnectTimeoutDuration returns the connect timeout.
func (d DefaultsCfg) ConnectTimeoutDuration() time.Duration {
	return time.Duration(d.ConnectTimeout) * time.Second
}

// ReadTimeoutDuration returns the read timeout.
func (d DefaultsCfg) ReadTimeoutDuration() time.Duration {
	return time.Duration(d.ReadTimeout) * time.Second
}

// TTLDuration returns the cache entry lifetime.
func (c CacheCfg) TTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}
