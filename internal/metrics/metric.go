// Package metrics provides usage tracking for extraction invocations.
package metrics

import (
	"time"

	"github.com/jackzampolin/sift/internal/store"
)

// Table holds one row per invocation.
const Table = "invocations"

// Metric represents the recorded outcome of a single invocation.
// Metrics are append-only records with full attribution.
type Metric struct {
	ID string `json:"id"`

	// Attribution (for filtering/aggregation)
	MeteringKey string `json:"metering_key"`
	Context     string `json:"context,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`

	// Tokens
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`

	// Loop shape
	Attempts   int  `json:"attempts"`
	Iterations int  `json:"iterations"`
	Reviewed   bool `json:"reviewed"`
	Cached     bool `json:"cached"`

	// Timing
	DurationSeconds float64 `json:"duration_seconds"`

	// Status
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

var columns = []string{
	"id", "metering_key", "context", "provider", "model",
	"input_tokens", "output_tokens", "total_tokens", "cache_read_tokens", "cache_write_tokens",
	"attempts", "iterations", "reviewed", "cached",
	"duration_seconds", "success", "error", "created_at",
}

// WriteOp converts the metric into a ledger insert.
func (m *Metric) WriteOp() store.WriteOp {
	return store.WriteOp{
		Table:   Table,
		Columns: columns,
		Values: []any{
			m.ID, m.MeteringKey, m.Context, m.Provider, m.Model,
			m.InputTokens, m.OutputTokens, m.TotalTokens, m.CacheReadTokens, m.CacheWriteTokens,
			m.Attempts, m.Iterations, m.Reviewed, m.Cached,
			m.DurationSeconds, m.Success, m.Error, store.FormatTime(m.CreatedAt),
		},
	}
}
