package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const toolCallCompletion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "us.anthropic.claude-sonnet-4-20250514-v1:0",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": null,
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "set_extraction", "arguments": "{\"extraction\":{\"total\":12}}"}
      }]
    }
  }],
  "usage": {
    "prompt_tokens": 100,
    "completion_tokens": 20,
    "total_tokens": 120,
    "prompt_tokens_details": {"cached_tokens": 30},
    "cache_creation_input_tokens": 70
  }
}`

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(OpenAIConfig{
		Name:         "gateway",
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		DefaultModel: "us.anthropic.claude-sonnet-4-20250514-v1:0",
		MaxRetries:   -1,
		HTTPClient:   srv.Client(),
	})
}

func TestOpenAIClient(t *testing.T) {
	t.Run("tool call round trip", func(t *testing.T) {
		var body map[string]any
		client := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
				t.Errorf("Authorization = %q", got)
			}
			raw, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Errorf("invalid request body: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, toolCallCompletion)
		})

		tools := []Tool{{
			Type: "function",
			Function: ToolFunction{
				Name:        "set_extraction",
				Description: "Set the extraction",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"extraction":{"type":"object"}}}`),
			},
		}}
		result, err := client.ChatWithTools(context.Background(), &ChatRequest{
			Messages: []Message{
				{Role: RoleSystem, Content: "You extract data."},
				{Role: RoleUser, Content: "Total is 12"},
			},
			MaxTokens: 64000,
		}, tools)
		if err != nil {
			t.Fatalf("ChatWithTools() error = %v", err)
		}

		if !result.Success {
			t.Error("Success = false")
		}
		if len(result.ToolCalls) != 1 {
			t.Fatalf("got %d tool calls, want 1", len(result.ToolCalls))
		}
		tc := result.ToolCalls[0]
		if tc.ID != "call_1" || tc.Function.Name != "set_extraction" {
			t.Errorf("unexpected tool call: %+v", tc)
		}
		if tc.Function.Arguments != `{"extraction":{"total":12}}` {
			t.Errorf("Arguments = %s", tc.Function.Arguments)
		}
		if result.PromptTokens != 100 || result.CompletionTokens != 20 || result.TotalTokens != 120 {
			t.Errorf("unexpected usage: %+v", result)
		}
		if result.CacheReadTokens != 30 || result.CacheWriteTokens != 70 {
			t.Errorf("cache usage = (%d, %d), want (30, 70)", result.CacheReadTokens, result.CacheWriteTokens)
		}

		if body["model"] != "us.anthropic.claude-sonnet-4-20250514-v1:0" {
			t.Errorf("model = %v", body["model"])
		}
		if body["max_completion_tokens"] != float64(64000) {
			t.Errorf("max_completion_tokens = %v", body["max_completion_tokens"])
		}
		if tools, _ := body["tools"].([]any); len(tools) != 1 {
			t.Errorf("tools = %v", body["tools"])
		}
	})

	t.Run("cache points", func(t *testing.T) {
		var raw string
		client := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			raw = string(b)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, toolCallCompletion)
		})

		_, err := client.ChatWithTools(context.Background(), &ChatRequest{
			Messages:    []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
			CachePrompt: true,
			CacheTools:  true,
		}, []Tool{{Type: "function", Function: ToolFunction{Name: "view_extraction"}}})
		if err != nil {
			t.Fatalf("ChatWithTools() error = %v", err)
		}
		if n := strings.Count(raw, `"cache_control"`); n != 2 {
			t.Errorf("found %d cache_control markers, want 2: %s", n, raw)
		}
	})

	t.Run("no cache points when disabled", func(t *testing.T) {
		var raw string
		client := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			raw = string(b)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, toolCallCompletion)
		})

		_, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if strings.Contains(raw, "cache_control") {
			t.Errorf("unexpected cache_control: %s", raw)
		}
	})

	t.Run("image parts become data URLs", func(t *testing.T) {
		var raw string
		client := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			raw = string(b)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, toolCallCompletion)
		})

		_, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: RoleUser, Parts: []ContentPart{
				TextPart("Extract structured data from this image:"),
				ImagePart([]byte{0x89, 'P', 'N', 'G'}, "image/png"),
			}}},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if !strings.Contains(raw, "data:image/png;base64,") {
			t.Errorf("image not sent as data URL: %s", raw)
		}
	})

	t.Run("rate limit maps to API error", func(t *testing.T) {
		limiter := NewRateLimiter(600)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit","code":"rate_limit_exceeded"}}`)
		}))
		defer srv.Close()

		client := NewOpenAIClient(OpenAIConfig{
			APIKey:     "k",
			BaseURL:    srv.URL,
			MaxRetries: -1,
			Limiter:    limiter,
			HTTPClient: srv.Client(),
		})

		result, err := client.Chat(context.Background(), &ChatRequest{
			Model:    "gpt-4o-mini",
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		})
		apiErr, ok := IsAPIError(err)
		if !ok {
			t.Fatalf("expected APIError, got %v", err)
		}
		if !apiErr.IsRateLimit() {
			t.Errorf("StatusCode = %d, want 429", apiErr.StatusCode)
		}
		if result.ErrorType != "rate_limit" {
			t.Errorf("ErrorType = %q, want rate_limit", result.ErrorType)
		}
		if IsTransient(err) {
			t.Error("API errors must not be transient")
		}
		if limiter.Status().Total429 != 1 {
			t.Errorf("Total429 = %d, want 1", limiter.Status().Total429)
		}
	})

	t.Run("sdk retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After-Ms", "1")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = io.WriteString(w, `{"error":{"message":"unavailable"}}`)
				return
			}
			_, _ = io.WriteString(w, toolCallCompletion)
		}))
		defer srv.Close()

		client := NewOpenAIClient(OpenAIConfig{
			APIKey:     "k",
			BaseURL:    srv.URL,
			MaxRetries: 2,
			HTTPClient: srv.Client(),
		})

		if _, err := client.Chat(context.Background(), &ChatRequest{
			Model:    "gpt-4o-mini",
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		}); err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if calls.Load() != 2 {
			t.Errorf("server saw %d calls, want 2", calls.Load())
		}
	})
}

func TestToOpenAIMessages(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{NewToolCall("c1", "view_extraction", "{}")}},
		{Role: RoleTool, ToolCallID: "c1", Content: `{"a":1}`},
	}

	out, err := toOpenAIMessages(msgs, false)
	if err != nil {
		t.Fatalf("toOpenAIMessages() error = %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("got %d messages, want 4", len(out))
	}
	if out[2].OfAssistant == nil || len(out[2].OfAssistant.ToolCalls) != 1 {
		t.Errorf("assistant tool calls not carried: %+v", out[2])
	}
	if out[3].OfTool == nil || out[3].OfTool.ToolCallID != "c1" {
		t.Errorf("tool result not linked: %+v", out[3])
	}

	if _, err := toOpenAIMessages([]Message{{Role: "narrator"}}, false); err == nil {
		t.Error("expected error for unknown role")
	}
}
