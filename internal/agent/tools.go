package agent

import (
	"context"

	"github.com/jackzampolin/sift/internal/providers"
)

// Tools defines the interface that agent tool implementations must satisfy.
//
// Example usage:
//
//	type ExtractionTools struct {
//	    state  *State
//	    schema *schema.Schema
//	}
//
//	func (t *ExtractionTools) GetTools() []providers.Tool { ... }
//	func (t *ExtractionTools) ExecuteTool(ctx, name, args) (string, error) { ... }
//	func (t *ExtractionTools) IsComplete() bool { return t.state.HasExtraction() }
//	func (t *ExtractionTools) GetResult() any { return t.state.Current() }
type Tools interface {
	// GetTools returns OpenAI-format tool definitions for the LLM.
	GetTools() []providers.Tool

	// ExecuteTool runs a tool and returns the result as a string.
	// The agent loop calls this for each tool_call in the LLM response.
	// A returned error is reported to the model as a tool error payload.
	ExecuteTool(ctx context.Context, name string, arguments map[string]any) (string, error)

	// IsComplete returns true when the agent has achieved its goal.
	// Checked when the model yields without calling tools.
	IsComplete() bool

	// GetResult returns the final result after IsComplete() returns true.
	// The type depends on the specific tools implementation.
	GetResult() any
}
