package agent

import (
	"time"

	"github.com/jackzampolin/sift/internal/agent/observability"
	"github.com/jackzampolin/sift/internal/providers"
)

// Result holds the outcome of an agent run.
// Token usage is observed per call through Config.OnLLMResult.
type Result struct {
	Success bool   // Whether the tools reported completion
	Error   string // Error message if failed

	// Iteration tracking
	Iterations    int // Number of LLM calls made
	MaxIterations int // Configured maximum
	Nudges        int // Continuation prompts sent

	// Timing
	ExecutionTime time.Duration

	// Conversation
	FinalMessages []providers.Message

	// Tool-specific result (from Tools.GetResult())
	ToolResult any

	Trace *observability.AgentRun
}
