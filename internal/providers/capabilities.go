package providers

import (
	"regexp"
	"strings"
)

// Output token ceilings by model family.
const (
	MaxTokensClaude4  = 64000
	MaxTokensNova     = 10000
	MaxTokensClaude3  = 8192
	MaxTokensFallback = 4096
)

var claude4Pattern = regexp.MustCompile(`claude-(opus|sonnet|haiku)-4`)

var novaFamilies = []string{"nova-premier", "nova-pro", "nova-lite", "nova-micro"}

// promptCacheModels lists model IDs known to accept cache points.
var promptCacheModels = map[string]bool{
	"us.anthropic.claude-3-5-haiku-20241022-v1:0":  true,
	"us.anthropic.claude-3-7-sonnet-20250219-v1:0": true,
	"us.anthropic.claude-sonnet-4-20250514-v1:0":   true,
	"us.anthropic.claude-opus-4-20250514-v1:0":     true,
	"us.anthropic.claude-opus-4-1-20250805-v1:0":   true,
	"us.anthropic.claude-sonnet-4-5-20250929-v1:0": true,
	"us.anthropic.claude-haiku-4-5-20251001-v1:0":  true,
	"us.amazon.nova-premier-v1:0":                  true,
	"us.amazon.nova-pro-v1:0":                      true,
	"us.amazon.nova-lite-v1:0":                     true,
	"us.amazon.nova-micro-v1:0":                    true,
}

// Capabilities describes what a model accepts.
type Capabilities struct {
	ModelID         string `json:"model_id"`
	MaxOutputTokens int    `json:"max_output_tokens"`
	PromptCaching   bool   `json:"prompt_caching"`
	ToolCaching     bool   `json:"tool_caching"`
}

// DetectCapabilities derives capabilities from a model ID.
// Matching is case-insensitive and the first rule that matches wins.
func DetectCapabilities(modelID string) Capabilities {
	id := strings.ToLower(modelID)

	caps := Capabilities{ModelID: modelID, MaxOutputTokens: MaxTokensFallback}
	switch {
	case claude4Pattern.MatchString(id):
		caps.MaxOutputTokens = MaxTokensClaude4
	case containsAny(id, novaFamilies):
		caps.MaxOutputTokens = MaxTokensNova
	case strings.Contains(id, "claude-3"):
		caps.MaxOutputTokens = MaxTokensClaude3
	}

	caps.PromptCaching = promptCacheModels[id]
	caps.ToolCaching = caps.PromptCaching && strings.Contains(id, "anthropic.claude")
	return caps
}

// EffectiveMaxOutputTokens resolves a requested ceiling against the model.
// Zero or negative means use the model maximum. Requests above the maximum
// are clamped and reported with clamped=true.
func (c Capabilities) EffectiveMaxOutputTokens(requested int) (tokens int, clamped bool) {
	if requested <= 0 {
		return c.MaxOutputTokens, false
	}
	if requested > c.MaxOutputTokens {
		return c.MaxOutputTokens, true
	}
	return requested, false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
