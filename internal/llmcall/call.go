// Package llmcall provides LLM call recording and querying for traceability.
// Every gateway call an invocation makes is recorded with its response and usage.
package llmcall

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/sift/internal/providers"
	"github.com/jackzampolin/sift/internal/store"
)

// Table holds recorded calls.
const Table = "llm_calls"

// Call represents a recorded LLM API call.
type Call struct {
	// Unique identifier
	ID string `json:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`

	// Invocation references
	InvocationID string `json:"invocation_id,omitempty"`
	MeteringKey  string `json:"metering_key,omitempty"`
	Phase        string `json:"phase,omitempty"`
	Attempt      int    `json:"attempt,omitempty"`

	// Model info
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// Token usage
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`

	// Response
	Response  string          `json:"response"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`

	// Status
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RecordOptions provides context for recording an LLM call.
type RecordOptions struct {
	InvocationID string
	MeteringKey  string
	Phase        string
	Attempt      int

	// Optional logger for non-fatal serialization warnings.
	Logger *slog.Logger
}

// FromChatResult creates a Call from a ChatResult.
// Returns nil if result is nil.
func FromChatResult(result *providers.ChatResult, opts RecordOptions) *Call {
	if result == nil {
		return nil
	}

	call := &Call{
		ID:               uuid.New().String(),
		Timestamp:        time.Now(),
		LatencyMs:        int(result.ExecutionTime.Milliseconds()),
		InvocationID:     opts.InvocationID,
		MeteringKey:      opts.MeteringKey,
		Phase:            opts.Phase,
		Attempt:          opts.Attempt,
		Provider:         result.Provider,
		Model:            result.ModelUsed,
		InputTokens:      result.PromptTokens,
		OutputTokens:     result.CompletionTokens,
		CacheReadTokens:  result.CacheReadTokens,
		CacheWriteTokens: result.CacheWriteTokens,
		Response:         result.Content,
		Success:          result.Success,
	}

	if !result.Success {
		call.Error = result.ErrorMessage
	}

	if len(result.ToolCalls) > 0 {
		if data, err := json.Marshal(result.ToolCalls); err != nil {
			logger := opts.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("failed to serialize tool calls for LLM call record",
				"error", err,
				"tool_call_count", len(result.ToolCalls))
		} else {
			call.ToolCalls = data
		}
	}

	return call
}

var columns = []string{
	"id", "timestamp", "latency_ms",
	"invocation_id", "metering_key", "phase", "attempt",
	"provider", "model",
	"input_tokens", "output_tokens", "cache_read_tokens", "cache_write_tokens",
	"response", "tool_calls", "success", "error",
}

// WriteOp converts the Call into a ledger insert.
func (c *Call) WriteOp() store.WriteOp {
	return store.WriteOp{
		Table:   Table,
		Columns: columns,
		Values: []any{
			c.ID, store.FormatTime(c.Timestamp), c.LatencyMs,
			c.InvocationID, c.MeteringKey, c.Phase, c.Attempt,
			c.Provider, c.Model,
			c.InputTokens, c.OutputTokens, c.CacheReadTokens, c.CacheWriteTokens,
			c.Response, string(c.ToolCalls), c.Success, c.Error,
		},
	}
}
