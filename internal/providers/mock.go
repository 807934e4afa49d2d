package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockReply is one scripted model turn.
type MockReply struct {
	Content          string
	ToolCalls        []ToolCall
	PromptTokens     int
	CompletionTokens int
	CacheReadTokens  int
	CacheWriteTokens int
	Err              error // returned instead of a result
}

// ToolReply scripts a turn that calls one tool with args marshalled to JSON.
func ToolReply(name string, args any) MockReply {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("mock tool args: %v", err))
	}
	return MockReply{
		ToolCalls:        []ToolCall{NewToolCall("", name, string(raw))},
		PromptTokens:     100,
		CompletionTokens: 20,
	}
}

// TextReply scripts a turn that yields plain text.
func TextReply(text string) MockReply {
	return MockReply{Content: text, PromptTokens: 100, CompletionTokens: 10}
}

// ErrorReply scripts a failed call.
func ErrorReply(err error) MockReply {
	return MockReply{Err: err}
}

// MockClient is a scripted LLMClient for testing.
// Replies are consumed in order; once the script is exhausted the client
// yields ResponseText with no tool calls.
type MockClient struct {
	// Configurable behavior
	ProviderName string
	Latency      time.Duration
	ResponseText string

	mu       sync.Mutex
	script   []MockReply
	requests []ChatRequest
	tools    [][]Tool

	// State
	requestCount atomic.Int64
}

// NewMockClient creates a new mock client with the given script.
func NewMockClient(replies ...MockReply) *MockClient {
	return &MockClient{
		ProviderName: MockClientName,
		ResponseText: "mock response",
		script:       replies,
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return c.ProviderName
}

// Enqueue appends replies to the script.
func (c *MockClient) Enqueue(replies ...MockReply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, replies...)
}

// Chat sends a mock chat request.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	return c.doRequest(ctx, req, nil)
}

// ChatWithTools sends a mock chat request with tools.
func (c *MockClient) ChatWithTools(ctx context.Context, req *ChatRequest, tools []Tool) (*ChatResult, error) {
	return c.doRequest(ctx, req, tools)
}

func (c *MockClient) doRequest(ctx context.Context, req *ChatRequest, tools []Tool) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	snapshot := *req
	snapshot.Messages = append([]Message(nil), req.Messages...)
	c.requests = append(c.requests, snapshot)
	c.tools = append(c.tools, tools)
	reply := MockReply{Content: c.ResponseText, PromptTokens: 10, CompletionTokens: 5}
	if len(c.script) > 0 {
		reply = c.script[0]
		c.script = c.script[1:]
	}
	c.mu.Unlock()

	result := &ChatResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  c.ProviderName,
		ModelUsed: req.Model,
		Attempts:  1,
	}

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			result.ErrorType = "context_cancelled"
			result.ErrorMessage = ctx.Err().Error()
			result.ExecutionTime = time.Since(start)
			return result, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		result.ErrorType = "context_cancelled"
		result.ErrorMessage = err.Error()
		return result, err
	}

	if reply.Err != nil {
		result.ErrorType = errorType(reply.Err)
		result.ErrorMessage = reply.Err.Error()
		result.ExecutionTime = time.Since(start)
		return result, reply.Err
	}

	result.Success = true
	result.Content = reply.Content
	for i, tc := range reply.ToolCalls {
		if tc.ID == "" {
			tc.ID = fmt.Sprintf("mock-call-%d-%d", count, i)
		}
		if tc.Type == "" {
			tc.Type = "function"
		}
		result.ToolCalls = append(result.ToolCalls, tc)
	}
	result.PromptTokens = reply.PromptTokens
	result.CompletionTokens = reply.CompletionTokens
	result.TotalTokens = reply.PromptTokens + reply.CompletionTokens
	result.CacheReadTokens = reply.CacheReadTokens
	result.CacheWriteTokens = reply.CacheWriteTokens
	result.ExecutionTime = time.Since(start)
	return result, nil
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Requests returns copies of the requests received so far.
func (c *MockClient) Requests() []ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatRequest(nil), c.requests...)
}

// LastTools returns the tools sent with the most recent request.
func (c *MockClient) LastTools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tools) == 0 {
		return nil
	}
	return c.tools[len(c.tools)-1]
}

// Remaining returns the number of unconsumed scripted replies.
func (c *MockClient) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.script)
}

// Reset clears the request log and counter.
func (c *MockClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = nil
	c.tools = nil
	c.requestCount.Store(0)
}

// Verify interface
var _ LLMClient = (*MockClient)(nil)
