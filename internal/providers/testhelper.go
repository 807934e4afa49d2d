package providers

import (
	"os"
)

// TestConfig holds provider credentials loaded from environment variables,
// so live tests use the same configuration pattern as production.
type TestConfig struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	GeminiAPIKey  string
	GeminiModel   string
}

// LoadTestConfig loads provider settings from environment variables.
// Returns a TestConfig with whatever keys are available.
func LoadTestConfig() TestConfig {
	cfg := TestConfig{
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   os.Getenv("SIFT_TEST_OPENAI_MODEL"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   os.Getenv("SIFT_TEST_GEMINI_MODEL"),
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-2.5-flash"
	}
	return cfg
}

// HasOpenAI returns true if an OpenAI-compatible key is configured.
func (c TestConfig) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// HasGemini returns true if a Gemini key is configured.
func (c TestConfig) HasGemini() bool {
	return c.GeminiAPIKey != ""
}

// RegistryConfig builds a registry config from the available keys.
func (c TestConfig) RegistryConfig() RegistryConfig {
	cfg := RegistryConfig{Providers: map[string]ProviderConfig{}}
	if c.HasOpenAI() {
		cfg.Providers["openai"] = ProviderConfig{
			Type:    TypeOpenAI,
			BaseURL: c.OpenAIBaseURL,
			Model:   c.OpenAIModel,
			APIKey:  c.OpenAIAPIKey,
			Enabled: true,
		}
	}
	if c.HasGemini() {
		cfg.Providers["gemini"] = ProviderConfig{
			Type:    TypeGemini,
			Model:   c.GeminiModel,
			APIKey:  c.GeminiAPIKey,
			Enabled: true,
		}
	}
	return cfg
}
