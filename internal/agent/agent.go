package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackzampolin/sift/internal/agent/observability"
	"github.com/jackzampolin/sift/internal/providers"
)

// ContinuePrompt is sent when the model yields without tool calls before
// the tools report completion.
const ContinuePrompt = "Please continue using the available tools to complete your task."

const (
	DefaultMaxIterations = 15
	DefaultMaxNudges     = 1
)

// Config configures an agent instance.
type Config struct {
	// ID uniquely identifies this agent (auto-generated if empty)
	ID string

	// Tools provides the agent's capabilities
	Tools Tools

	// InitialMessages sets up the conversation (system prompt + user prompt)
	InitialMessages []providers.Message

	// MaxIterations limits the agent loop (default: 15)
	MaxIterations int

	// MaxNudges limits continuation prompts sent when the model stops
	// before the tools are complete (default: 1, negative disables).
	MaxNudges int

	// Request parameters applied to every LLM call
	Model       string
	MaxTokens   int
	Temperature float64
	CachePrompt bool
	CacheTools  bool

	// AgentType labels the trace (e.g. "extraction", "review")
	AgentType string

	// OnLLMResult observes every LLM call, failed ones included.
	OnLLMResult func(*providers.ChatResult)

	Logger *slog.Logger
}

// Agent manages state for a single agent conversation.
// It generates WorkUnits and processes results, but doesn't execute LLM
// calls itself. Run drives it against a client.
type Agent struct {
	mu sync.Mutex

	// Configuration
	id            string
	tools         Tools
	maxIterations int
	maxNudges     int
	request       providers.ChatRequest
	onLLMResult   func(*providers.ChatResult)

	// Conversation state
	messages []providers.Message

	// Iteration tracking
	iteration int
	nudges    int
	startTime time.Time

	// Tool call state (within an iteration)
	pendingToolCalls []providers.ToolCall
	toolResults      map[string]string // tool_call_id -> result JSON

	// Completion state
	complete bool
	result   *Result

	trace *observability.Logger
}

// New creates a new Agent with the given configuration.
func New(cfg Config) *Agent {
	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	maxNudges := cfg.MaxNudges
	if maxNudges == 0 {
		maxNudges = DefaultMaxNudges
	} else if maxNudges < 0 {
		maxNudges = 0
	}

	agentType := cfg.AgentType
	if agentType == "" {
		agentType = "agent"
	}

	// Copy initial messages
	messages := make([]providers.Message, len(cfg.InitialMessages))
	copy(messages, cfg.InitialMessages)

	return &Agent{
		id:            id,
		tools:         cfg.Tools,
		maxIterations: maxIterations,
		maxNudges:     maxNudges,
		request: providers.ChatRequest{
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			CachePrompt: cfg.CachePrompt,
			CacheTools:  cfg.CacheTools,
		},
		onLLMResult: cfg.OnLLMResult,
		messages:    messages,
		toolResults: make(map[string]string),
		startTime:   time.Now(),
		trace:       observability.NewLogger(id, agentType, cfg.Logger),
	}
}

// ID returns the agent's unique identifier.
func (a *Agent) ID() string {
	return a.id
}

// NextWorkUnits returns the next work unit(s) to execute.
// Returns nil when the agent is complete.
func (a *Agent) NextWorkUnits() []WorkUnit {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.complete {
		return nil
	}

	// If we have pending tool calls, return tool work units
	if len(a.pendingToolCalls) > 0 && len(a.toolResults) < len(a.pendingToolCalls) {
		var units []WorkUnit
		for i := range a.pendingToolCalls {
			tc := a.pendingToolCalls[i]
			if _, done := a.toolResults[tc.ID]; !done {
				units = append(units, WorkUnit{
					Type:      WorkUnitTypeTool,
					AgentID:   a.id,
					ToolCall:  &tc,
					Iteration: a.iteration,
				})
			}
		}
		return units
	}

	// Otherwise, return an LLM work unit
	a.iteration++

	if a.iteration > a.maxIterations {
		a.finishLocked(false, fmt.Sprintf("agent did not complete within %d iterations", a.maxIterations))
		a.result.Iterations = a.maxIterations
		return nil
	}

	// Copy messages so callers can't mutate history
	req := a.request
	req.Messages = make([]providers.Message, len(a.messages))
	copy(req.Messages, a.messages)
	req.RequestID = fmt.Sprintf("%s-%d", a.id, a.iteration)

	return []WorkUnit{{
		Type:        WorkUnitTypeLLM,
		AgentID:     a.id,
		ChatRequest: &req,
		Tools:       a.tools.GetTools(),
		Iteration:   a.iteration,
	}}
}

// HandleLLMResult processes the result of an LLM work unit.
func (a *Agent) HandleLLMResult(result *providers.ChatResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Build assistant message with all fields needed for API
	assistantMsg := providers.Message{
		Role:    providers.RoleAssistant,
		Content: result.Content,
	}

	// Include tool_calls in assistant message (required by API for multi-turn)
	if len(result.ToolCalls) > 0 {
		calls := a.uniqueToolCallIDs(result.ToolCalls)
		assistantMsg.ToolCalls = calls
		a.pendingToolCalls = calls
		a.toolResults = make(map[string]string) // Reset for new batch
		a.messages = append(a.messages, assistantMsg)
		return
	}

	// No tool calls - the model yielded
	a.messages = append(a.messages, assistantMsg)

	if a.tools.IsComplete() {
		a.finishLocked(true, "")
		return
	}

	// Not complete but no tool calls - prompt to continue
	if a.nudges < a.maxNudges {
		a.nudges++
		a.messages = append(a.messages, providers.Message{
			Role:    providers.RoleUser,
			Content: ContinuePrompt,
		})
		return
	}

	a.finishLocked(false, "agent stopped without completing its task")
}

// uniqueToolCallIDs returns a copy of calls in which every ID is non-empty
// and distinct. Tool results are matched to calls by ID, and some
// OpenAI-compatible backends send blank or repeated IDs.
func (a *Agent) uniqueToolCallIDs(calls []providers.ToolCall) []providers.ToolCall {
	out := make([]providers.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, tc := range calls {
		if tc.ID == "" || seen[tc.ID] {
			tc.ID = fmt.Sprintf("%s-%d-%d", a.id, a.iteration, i)
		}
		seen[tc.ID] = true
		out[i] = tc
	}
	return out
}

// HandleToolResult processes the result of a tool execution work unit.
func (a *Agent) HandleToolResult(toolCallID string, result string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		errResult, _ := json.Marshal(map[string]string{
			"error": fmt.Sprintf("Tool execution failed: %v", err),
		})
		a.toolResults[toolCallID] = string(errResult)
	} else {
		a.toolResults[toolCallID] = result
	}

	// Check if all tool calls are done
	if len(a.toolResults) == len(a.pendingToolCalls) {
		// Add tool results to messages
		for _, tc := range a.pendingToolCalls {
			a.messages = append(a.messages, providers.Message{
				Role:       providers.RoleTool,
				Content:    a.toolResults[tc.ID],
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
			})
		}

		// Clear pending state; the model sees the results next iteration
		a.pendingToolCalls = nil
	}
}

// ExecuteTool runs a tool synchronously.
// Arguments that are not valid JSON are repaired where possible.
func (a *Agent) ExecuteTool(ctx context.Context, tc providers.ToolCall) (string, error) {
	args := make(map[string]any)
	if tc.Function.Arguments != "" {
		if err := decodeArgs([]byte(tc.Function.Arguments), &args); err != nil {
			repaired, rerr := providers.RepairJSON(tc.Function.Arguments)
			if rerr != nil {
				a.trace.LogToolCall(a.Iteration(), tc.Function.Name, nil, "", err)
				return "", fmt.Errorf("failed to parse tool arguments: %w", err)
			}
			if err := decodeArgs(repaired, &args); err != nil {
				a.trace.LogToolCall(a.Iteration(), tc.Function.Name, nil, "", err)
				return "", fmt.Errorf("failed to parse tool arguments: %w", err)
			}
		}
	}

	result, err := a.tools.ExecuteTool(ctx, tc.Function.Name, args)
	a.trace.LogToolCall(a.Iteration(), tc.Function.Name, args, result, err)
	return result, err
}

// Fail ends the agent with an error, e.g. when an LLM call failed.
func (a *Agent) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.complete {
		return
	}
	a.finishLocked(false, err.Error())
}

// finishLocked must be called with a.mu held.
func (a *Agent) finishLocked(success bool, errMsg string) {
	a.complete = true
	messages := make([]providers.Message, len(a.messages))
	copy(messages, a.messages)
	a.result = &Result{
		Success:       success,
		Error:         errMsg,
		Iterations:    a.iteration,
		MaxIterations: a.maxIterations,
		Nudges:        a.nudges,
		ExecutionTime: time.Since(a.startTime),
		FinalMessages: messages,
		ToolResult:    a.tools.GetResult(),
	}
	a.result.Trace = a.trace.Finish(success, a.iteration, len(messages), errMsg)
}

// IsDone returns true if the agent has completed (success or failure).
func (a *Agent) IsDone() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.complete
}

// Result returns the final result. Only valid after IsDone() returns true.
func (a *Agent) Result() *Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

// Iteration returns the current iteration number.
func (a *Agent) Iteration() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.iteration
}

// Messages returns a copy of the conversation so far.
func (a *Agent) Messages() []providers.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]providers.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// WorkUnit represents a unit of work the agent needs executed.
type WorkUnit struct {
	Type        WorkUnitType
	AgentID     string
	ChatRequest *providers.ChatRequest
	Tools       []providers.Tool // For LLM calls
	ToolCall    *providers.ToolCall
	Iteration   int
}

// WorkUnitType distinguishes LLM calls from tool executions.
type WorkUnitType string

const (
	WorkUnitTypeLLM  WorkUnitType = "llm"
	WorkUnitTypeTool WorkUnitType = "tool"
)

// decodeArgs keeps numeric arguments as json.Number.
func decodeArgs(raw []byte, args *map[string]any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(args); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after tool arguments")
	}
	return nil
}
