package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/sift/internal/providers"
)

// AgentRun captures a complete agent execution for debugging.
type AgentRun struct {
	// Context
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"` // "extraction", "review", etc.

	// Execution
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Iterations  int       `json:"iterations"`
	Messages    int       `json:"messages"`
	Status      string    `json:"status"` // "completed", "failed"

	// Result
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	LLMCalls  []LLMCallLog  `json:"llm_calls"`
	ToolCalls []ToolCallLog `json:"tool_calls"`
}

// ToolCallLog captures a single tool call for the trace.
type ToolCallLog struct {
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	ToolName  string    `json:"tool_name"`
	ArgsJSON  string    `json:"args_json"`
	ResultLen int       `json:"result_len"`
	Error     string    `json:"error,omitempty"`
}

// LLMCallLog captures one model turn for the trace.
type LLMCallLog struct {
	Iteration    int           `json:"iteration"`
	RequestID    string        `json:"request_id"`
	ToolCalls    int           `json:"tool_calls"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
}

// maxArgsLog bounds the arguments kept per tool call.
const maxArgsLog = 1000

// Logger records one agent execution and emits it through slog at debug level.
type Logger struct {
	mu sync.Mutex

	agentID   string
	agentType string
	logger    *slog.Logger

	startedAt time.Time
	toolCalls []ToolCallLog
	llmCalls  []LLMCallLog
}

// NewLogger creates a trace for one agent run.
func NewLogger(agentID, agentType string, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		agentID:   agentID,
		agentType: agentType,
		logger:    logger.With("agent_id", agentID, "agent_type", agentType),
		startedAt: time.Now(),
		toolCalls: make([]ToolCallLog, 0),
		llmCalls:  make([]LLMCallLog, 0),
	}
}

// LogToolCall records a tool call.
func (l *Logger) LogToolCall(iteration int, toolName string, args map[string]any, result string, err error) {
	argsJSON, _ := json.Marshal(args)
	if len(argsJSON) > maxArgsLog {
		argsJSON = append(argsJSON[:maxArgsLog], "... [truncated]"...)
	}
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}

	l.mu.Lock()
	l.toolCalls = append(l.toolCalls, ToolCallLog{
		Iteration: iteration,
		Timestamp: time.Now(),
		ToolName:  toolName,
		ArgsJSON:  string(argsJSON),
		ResultLen: len(result),
		Error:     errStr,
	})
	l.mu.Unlock()

	l.logger.Debug("tool call",
		"iteration", iteration,
		"tool", toolName,
		"result_len", len(result),
		"error", errStr)
}

// LogLLMCall records a successful model turn.
func (l *Logger) LogLLMCall(iteration int, result *providers.ChatResult) {
	entry := LLMCallLog{
		Iteration:    iteration,
		RequestID:    result.RequestID,
		ToolCalls:    len(result.ToolCalls),
		InputTokens:  result.PromptTokens,
		OutputTokens: result.CompletionTokens,
		Duration:     result.ExecutionTime,
	}

	l.mu.Lock()
	l.llmCalls = append(l.llmCalls, entry)
	l.mu.Unlock()

	l.logger.Debug("llm call",
		"iteration", iteration,
		"tool_calls", entry.ToolCalls,
		"input_tokens", entry.InputTokens,
		"output_tokens", entry.OutputTokens,
		"duration", entry.Duration)
}

// Finish closes the trace and returns the run summary.
func (l *Logger) Finish(success bool, iterations, messages int, errMsg string) *AgentRun {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := "completed"
	if !success {
		status = "failed"
	}

	run := &AgentRun{
		AgentID:     l.agentID,
		AgentType:   l.agentType,
		StartedAt:   l.startedAt,
		CompletedAt: time.Now(),
		Iterations:  iterations,
		Messages:    messages,
		Status:      status,
		Success:     success,
		Error:       errMsg,
		LLMCalls:    append([]LLMCallLog(nil), l.llmCalls...),
		ToolCalls:   append([]ToolCallLog(nil), l.toolCalls...),
	}

	if l.logger.Enabled(context.Background(), slog.LevelDebug) {
		l.logger.Debug("agent run finished",
			"status", status,
			"iterations", iterations,
			"llm_calls", len(run.LLMCalls),
			"tool_calls", len(run.ToolCalls),
			"duration", run.CompletedAt.Sub(run.StartedAt),
			"error", errMsg)
	}
	return run
}

// ToolCallCount returns the number of tool calls recorded so far.
func (l *Logger) ToolCallCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.toolCalls)
}
