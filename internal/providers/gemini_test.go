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
	"time"

	"google.golang.org/genai"
)

const functionCallResponse = `{
  "candidates": [{
    "content": {
      "role": "model",
      "parts": [{"functionCall": {"name": "set_extraction", "args": {"extraction": {"total": 12}}}}]
    },
    "finishReason": "STOP"
  }],
  "usageMetadata": {"promptTokenCount": 80, "candidatesTokenCount": 12, "totalTokenCount": 92, "cachedContentTokenCount": 16},
  "modelVersion": "gemini-2.5-flash"
}`

func newGeminiTestClient(t *testing.T, maxRetries int, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewGeminiClient(context.Background(), GeminiConfig{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		DefaultModel: "gemini-2.5-flash",
		MaxRetries:   maxRetries,
		RetryDelay:   time.Millisecond,
		HTTPClient:   srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewGeminiClient() error = %v", err)
	}
	return client
}

func TestGeminiClient(t *testing.T) {
	t.Run("function call round trip", func(t *testing.T) {
		var body map[string]any
		client := newGeminiTestClient(t, -1, func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, "/models/gemini-2.5-flash:generateContent") {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
				t.Errorf("x-goog-api-key = %q", got)
			}
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &body)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, functionCallResponse)
		})

		result, err := client.ChatWithTools(context.Background(), &ChatRequest{
			RequestID: "req-1",
			Messages: []Message{
				{Role: RoleSystem, Content: "You extract data."},
				{Role: RoleUser, Content: "Total is 12"},
			},
		}, []Tool{{
			Type: "function",
			Function: ToolFunction{
				Name:       "set_extraction",
				Parameters: json.RawMessage(`{"$schema":"http://json-schema.org/draft-07/schema#","type":"object"}`),
			},
		}})
		if err != nil {
			t.Fatalf("ChatWithTools() error = %v", err)
		}

		if len(result.ToolCalls) != 1 {
			t.Fatalf("got %d tool calls, want 1", len(result.ToolCalls))
		}
		tc := result.ToolCalls[0]
		if tc.ID != "req-1-call-0" {
			t.Errorf("ID = %q, want req-1-call-0", tc.ID)
		}
		if tc.Function.Arguments != `{"extraction":{"total":12}}` {
			t.Errorf("Arguments = %s", tc.Function.Arguments)
		}
		if result.PromptTokens != 80 || result.CompletionTokens != 12 || result.CacheReadTokens != 16 {
			t.Errorf("unexpected usage: %+v", result)
		}
		if result.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", result.Attempts)
		}

		if _, ok := body["systemInstruction"]; !ok {
			t.Error("system prompt not sent as systemInstruction")
		}
		if strings.Contains(mustJSON(t, body["tools"]), "$schema") {
			t.Error("$schema should be stripped from tool parameters")
		}
	})

	t.Run("retries unavailable", func(t *testing.T) {
		var calls atomic.Int32
		client := newGeminiTestClient(t, 2, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = io.WriteString(w, `{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`)
				return
			}
			_, _ = io.WriteString(w, functionCallResponse)
		})

		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if calls.Load() != 2 || result.Attempts != 2 {
			t.Errorf("calls = %d, attempts = %d, want 2", calls.Load(), result.Attempts)
		}
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		client := newGeminiTestClient(t, 3, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"code":400,"message":"bad schema","status":"INVALID_ARGUMENT"}}`)
		})

		_, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		})
		apiErr, ok := IsAPIError(err)
		if !ok {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.StatusCode != 400 || apiErr.Code != "INVALID_ARGUMENT" {
			t.Errorf("unexpected API error: %+v", apiErr)
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
	})
}

func TestToGeminiContents(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			NewToolCall("c1", "view_extraction", "{}"),
			NewToolCall("c2", "apply_patches", `{"patches":[]}`),
		}},
		{Role: RoleTool, ToolCallID: "c1", Content: `{"a":1}`},
		{Role: RoleTool, ToolCallID: "c2", Content: "not json"},
	}

	system, contents, err := toGeminiContents(msgs)
	if err != nil {
		t.Fatalf("toGeminiContents() error = %v", err)
	}
	if system == nil || system.Parts[0].Text != "sys" {
		t.Errorf("unexpected system instruction: %+v", system)
	}
	if len(contents) != 3 {
		t.Fatalf("got %d contents, want 3", len(contents))
	}
	if contents[1].Role != genai.RoleModel || len(contents[1].Parts) != 2 {
		t.Errorf("unexpected model turn: %+v", contents[1])
	}

	responses := contents[2].Parts
	if len(responses) != 2 {
		t.Fatalf("tool results not merged into one turn: %d parts", len(responses))
	}
	if responses[0].FunctionResponse.Name != "view_extraction" {
		t.Errorf("Name = %q, want view_extraction", responses[0].FunctionResponse.Name)
	}
	if responses[1].FunctionResponse.Response["output"] != "not json" {
		t.Errorf("non-JSON output not wrapped: %+v", responses[1].FunctionResponse.Response)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
