package extraction

import (
	"fmt"
	"sort"

	"github.com/jackzampolin/sift/internal/providers"
)

// Usage is the token accounting for one invocation.
// Counts only ever grow within an invocation.
type Usage struct {
	InputTokens           int `json:"inputTokens" yaml:"input_tokens"`
	OutputTokens          int `json:"outputTokens" yaml:"output_tokens"`
	TotalTokens           int `json:"totalTokens" yaml:"total_tokens"`
	CacheReadInputTokens  int `json:"cacheReadInputTokens" yaml:"cache_read_input_tokens"`
	CacheWriteInputTokens int `json:"cacheWriteInputTokens" yaml:"cache_write_input_tokens"`
}

// Add accumulates other into u. Negative counts are ignored.
func (u *Usage) Add(other Usage) {
	u.InputTokens += nonNegative(other.InputTokens)
	u.OutputTokens += nonNegative(other.OutputTokens)
	u.TotalTokens += nonNegative(other.TotalTokens)
	u.CacheReadInputTokens += nonNegative(other.CacheReadInputTokens)
	u.CacheWriteInputTokens += nonNegative(other.CacheWriteInputTokens)
}

// IsZero reports whether no tokens were counted.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// UsageFromResult converts one gateway response into usage.
// Providers that omit the total get input plus output.
func UsageFromResult(r *providers.ChatResult) Usage {
	if r == nil {
		return Usage{}
	}
	total := r.TotalTokens
	if total == 0 {
		total = r.PromptTokens + r.CompletionTokens
	}
	return Usage{
		InputTokens:           r.PromptTokens,
		OutputTokens:          r.CompletionTokens,
		TotalTokens:           total,
		CacheReadInputTokens:  r.CacheReadTokens,
		CacheWriteInputTokens: r.CacheWriteTokens,
	}
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Metering maps "{context}/{provider}/{model}" to usage.
type Metering map[string]Usage

// MeteringKey builds the metering key for an invocation.
func MeteringKey(context, provider, modelID string) string {
	return fmt.Sprintf("%s/%s/%s", context, provider, modelID)
}

// Add accumulates usage under key.
func (m Metering) Add(key string, u Usage) {
	cur := m[key]
	cur.Add(u)
	m[key] = cur
}

// Merge accumulates every entry of other into m.
func (m Metering) Merge(other Metering) {
	for k, u := range other {
		m.Add(k, u)
	}
}

// Total sums all entries.
func (m Metering) Total() Usage {
	var total Usage
	for _, u := range m {
		total.Add(u)
	}
	return total
}

// Keys returns the metering keys, sorted.
func (m Metering) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
