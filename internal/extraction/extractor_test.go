package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jackzampolin/sift/internal/providers"
	"github.com/jackzampolin/sift/internal/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func personSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Compile(schema.Descriptor{
		Title: "Person",
		Fields: []schema.Field{
			{Name: "age", Kind: schema.KindInteger, Required: true},
			{Name: "name", Kind: schema.KindString, Required: true},
		},
	})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return s
}

// fakeTimer fires immediately and records the requested delays.
type fakeTimer struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeTimer) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (f *fakeTimer) Delays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

func newTestExtractor(t *testing.T, client *providers.MockClient, opts ...Option) (*Extractor, *fakeTimer) {
	t.Helper()
	reg := providers.NewRegistry()
	reg.SetLogger(discardLogger())
	reg.RegisterLLM("mock", client)

	timer := &fakeTimer{}
	base := []Option{
		WithDefaultProvider("mock"),
		WithLogger(discardLogger()),
		WithRetryTimer(timer),
	}
	return New(reg, append(base, opts...)...), timer
}

func setReply(record map[string]any) providers.MockReply {
	return providers.ToolReply(ToolSetExtraction, map[string]any{"extraction": record})
}

func patchReply(ops ...map[string]any) providers.MockReply {
	return providers.ToolReply(ToolApplyPatches, map[string]any{"patches": ops})
}

func TestExtract(t *testing.T) {
	t.Run("tool calls sharing one id", func(t *testing.T) {
		client := providers.NewMockClient(
			providers.MockReply{ToolCalls: []providers.ToolCall{
				providers.NewToolCall("call_0", ToolSetExtraction, `{"extraction":{"age":34,"name":"Jane"}}`),
				providers.NewToolCall("call_0", ToolViewExtraction, `{}`),
			}},
			providers.TextReply("done"),
		)
		ex, _ := newTestExtractor(t, client)

		res, err := ex.Extract(context.Background(), Request{
			ModelID: "test-model",
			Schema:  personSchema(t),
			Prompt:  Text("Jane, 34 years old"),
		})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if res.Record["age"] != json.Number("34") || res.Record["name"] != "Jane" {
			t.Errorf("Record = %v", res.Record)
		}
	})

	t.Run("fresh extraction from text", func(t *testing.T) {
		client := providers.NewMockClient(
			setReply(map[string]any{"age": 34, "name": "Jane"}),
			providers.TextReply("done"),
		)
		ex, _ := newTestExtractor(t, client)

		res, err := ex.Extract(context.Background(), Request{
			ModelID: "test-model",
			Schema:  personSchema(t),
			Prompt:  Text("Jane, 34 years old"),
		})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if res.Record["age"] != json.Number("34") || res.Record["name"] != "Jane" {
			t.Errorf("Record = %v", res.Record)
		}

		u, ok := res.Usage["Extraction/mock/test-model"]
		if !ok {
			t.Fatalf("usage key missing: %v", res.Usage.Keys())
		}
		want := Usage{InputTokens: 200, OutputTokens: 30, TotalTokens: 230}
		if u != want {
			t.Errorf("Usage = %+v, want %+v", u, want)
		}

		md := res.Metadata
		if md.Attempts != 1 || md.Iterations != 2 || md.ToolCalls != 1 || md.Reviewed || md.Cached {
			t.Errorf("unexpected metadata: %+v", md)
		}
		if md.InvocationID == "" || md.Provider != "mock" || md.MaxOutputTokens != providers.MaxTokensFallback {
			t.Errorf("unexpected metadata: %+v", md)
		}

		req := client.Requests()[0]
		if req.Messages[0].Role != providers.RoleSystem || !strings.Contains(req.Messages[0].Content, "Expected Schema:") {
			t.Errorf("first message is not the system prompt: %+v", req.Messages[0])
		}
		if req.Messages[1].Content != "Jane, 34 years old" {
			t.Errorf("prompt message = %q", req.Messages[1].Content)
		}
		if req.MaxTokens != providers.MaxTokensFallback {
			t.Errorf("MaxTokens = %d", req.MaxTokens)
		}
	})

	t.Run("baseline is patched", func(t *testing.T) {
		client := providers.NewMockClient(
			patchReply(map[string]any{"op": "replace", "path": "/age", "value": 35}),
			providers.TextReply("done"),
		)
		ex, _ := newTestExtractor(t, client)

		res, err := ex.Extract(context.Background(), Request{
			ModelID:  "test-model",
			Schema:   personSchema(t),
			Prompt:   Text("Jane turned 35"),
			Existing: map[string]any{"age": 34, "name": "Jane"},
		})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if res.Record["age"] != json.Number("35") || res.Record["name"] != "Jane" {
			t.Errorf("Record = %v", res.Record)
		}

		msgs := client.Requests()[0].Messages
		if len(msgs) != 3 || !strings.HasPrefix(msgs[2].Content, "Please update the existing data") {
			t.Errorf("baseline message missing: %+v", msgs)
		}
	})

	t.Run("rejected patch keeps the record", func(t *testing.T) {
		client := providers.NewMockClient(
			setReply(map[string]any{"age": 34, "name": "Jane"}),
			patchReply(map[string]any{"op": "remove", "path": "/missing/0"}),
			providers.TextReply("done"),
		)
		ex, _ := newTestExtractor(t, client)

		res, err := ex.Extract(context.Background(), Request{
			ModelID: "test-model",
			Schema:  personSchema(t),
			Prompt:  Text("Jane, 34 years old"),
		})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if res.Record["age"] != json.Number("34") {
			t.Errorf("Record = %v", res.Record)
		}

		msgs := client.Requests()[2].Messages
		toolMsg := msgs[len(msgs)-1]
		if toolMsg.Role != providers.RoleTool || !strings.Contains(toolMsg.Content, `"error"`) {
			t.Errorf("patch failure not reported to the model: %+v", toolMsg)
		}
	})

	t.Run("top tier model uses its ceiling", func(t *testing.T) {
		client := providers.NewMockClient(
			setReply(map[string]any{"age": 1, "name": "A"}),
			providers.TextReply("done"),
		)
		ex, _ := newTestExtractor(t, client)

		res, err := ex.Extract(context.Background(), Request{
			ModelID: "us.anthropic.claude-sonnet-4-20250514-v1:0",
			Schema:  personSchema(t),
			Prompt:  Text("A, 1"),
		})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if res.Metadata.MaxOutputTokens != 64000 {
			t.Errorf("MaxOutputTokens = %d, want 64000", res.Metadata.MaxOutputTokens)
		}
		req := client.Requests()[0]
		if req.MaxTokens != 64000 || !req.CachePrompt || !req.CacheTools {
			t.Errorf("request not tuned for model: max=%d prompt=%v tools=%v", req.MaxTokens, req.CachePrompt, req.CacheTools)
		}
	})

	t.Run("requested tokens are clamped", func(t *testing.T) {
		client := providers.NewMockClient(
			setReply(map[string]any{"age": 1, "name": "A"}),
			providers.TextReply("done"),
		)
		ex, _ := newTestExtractor(t, client)

		res, err := ex.Extract(context.Background(), Request{
			ModelID:         "anthropic.claude-3-haiku",
			Schema:          personSchema(t),
			Prompt:          Text("A, 1"),
			MaxOutputTokens: 100000,
		})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if res.Metadata.MaxOutputTokens != providers.MaxTokensClaude3 {
			t.Errorf("MaxOutputTokens = %d, want %d", res.Metadata.MaxOutputTokens, providers.MaxTokensClaude3)
		}
	})

	t.Run("no extraction after nudge", func(t *testing.T) {
		client := providers.NewMockClient(
			providers.TextReply("I can't"),
			providers.TextReply("still can't"),
		)
		ex, _ := newTestExtractor(t, client)

		_, err := ex.Extract(context.Background(), Request{
			ModelID: "test-model",
			Schema:  personSchema(t),
			Prompt:  Text("nothing here"),
		})
		if !errors.Is(err, ErrNoExtraction) {
			t.Fatalf("Extract() error = %v, want ErrNoExtraction", err)
		}
		if client.RequestCount() != 2 {
			t.Errorf("RequestCount = %d, want 2", client.RequestCount())
		}
	})

	t.Run("invalid final state is terminal", func(t *testing.T) {
		client := providers.NewMockClient(providers.TextReply("looks fine"))
		ex, _ := newTestExtractor(t, client)

		_, err := ex.Extract(context.Background(), Request{
			ModelID:  "test-model",
			Schema:   personSchema(t),
			Prompt:   Text("Jane"),
			Existing: map[string]any{"age": "old"},
		})
		var ve *schema.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Extract() error = %v, want *schema.ValidationError", err)
		}
	})

	t.Run("request validation", func(t *testing.T) {
		ex, _ := newTestExtractor(t, providers.NewMockClient())
		s := personSchema(t)

		tests := []struct {
			name string
			req  Request
			want error
		}{
			{"no model", Request{Schema: s, Prompt: Text("x")}, ErrNoModel},
			{"no schema", Request{ModelID: "m", Prompt: Text("x")}, ErrNoSchema},
			{"no prompt", Request{ModelID: "m", Schema: s}, ErrNoPrompt},
			{"empty prompt", Request{ModelID: "m", Schema: s, Prompt: Text("  ")}, ErrNoPrompt},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := ex.Extract(context.Background(), tt.req)
				if !errors.Is(err, tt.want) {
					t.Errorf("Extract() error = %v, want %v", err, tt.want)
				}
			})
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		ex, _ := newTestExtractor(t, providers.NewMockClient())
		_, err := ex.Extract(context.Background(), Request{
			Provider: "nope",
			ModelID:  "m",
			Schema:   personSchema(t),
			Prompt:   Text("x"),
		})
		var invErr *InvocationError
		if !errors.As(err, &invErr) {
			t.Fatalf("Extract() error = %v, want *InvocationError", err)
		}
	})
}

func TestExtractRetry(t *testing.T) {
	t.Run("api errors propagate undecorated", func(t *testing.T) {
		apiErr := &providers.APIError{Provider: "mock", StatusCode: 403, Message: "denied"}
		client := providers.NewMockClient(providers.ErrorReply(apiErr))
		ex, timer := newTestExtractor(t, client)

		_, err := ex.Extract(context.Background(), Request{
			ModelID: "test-model",
			Schema:  personSchema(t),
			Prompt:  Text("x"),
		})
		if err != apiErr {
			t.Fatalf("Extract() error = %v (%T), want the APIError itself", err, err)
		}
		if client.RequestCount() != 1 || len(timer.Delays()) != 0 {
			t.Errorf("api error was retried: requests=%d delays=%v", client.RequestCount(), timer.Delays())
		}
	})

	t.Run("transient failure then success", func(t *testing.T) {
		client := providers.NewMockClient(
			providers.ErrorReply(io.ErrUnexpectedEOF),
			providers.ErrorReply(errors.New("connection reset by peer")),
			setReply(map[string]any{"age": 34, "name": "Jane"}),
			providers.TextReply("done"),
		)
		ex, timer := newTestExtractor(t, client)

		res, err := ex.Extract(context.Background(), Request{
			ModelID: "test-model",
			Schema:  personSchema(t),
			Prompt:  Text("Jane, 34"),
		})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if res.Metadata.Attempts != 3 {
			t.Errorf("Attempts = %d, want 3", res.Metadata.Attempts)
		}
		delays := timer.Delays()
		if len(delays) != 2 || delays[0] != 2*time.Second || delays[1] != 4*time.Second {
			t.Errorf("delays = %v, want [2s 4s]", delays)
		}
	})

	t.Run("retries are exhausted after three attempts", func(t *testing.T) {
		client := providers.NewMockClient(
			providers.ErrorReply(io.ErrUnexpectedEOF),
			providers.ErrorReply(io.ErrUnexpectedEOF),
			providers.ErrorReply(io.ErrUnexpectedEOF),
			setReply(map[string]any{"age": 34, "name": "Jane"}),
		)
		ex, _ := newTestExtractor(t, client)

		_, err := ex.Extract(context.Background(), Request{
			ModelID: "test-model",
			Schema:  personSchema(t),
			Prompt:  Text("Jane, 34"),
		})
		var invErr *InvocationError
		if !errors.As(err, &invErr) {
			t.Fatalf("Extract() error = %v, want *InvocationError", err)
		}
		if invErr.Attempts != 3 || !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("unexpected error: attempts=%d err=%v", invErr.Attempts, err)
		}
		if !strings.HasPrefix(err.Error(), "agent invocation failed: ") {
			t.Errorf("Error() = %q", err.Error())
		}
		if client.RequestCount() != 3 {
			t.Errorf("RequestCount = %d, want 3", client.RequestCount())
		}
	})

	t.Run("each attempt starts from the pre-exchange state", func(t *testing.T) {
		client := providers.NewMockClient(
			setReply(map[string]any{"age": 1, "name": "Partial"}),
			providers.ErrorReply(io.ErrUnexpectedEOF),
			providers.TextReply("nothing"),
			providers.TextReply("still nothing"),
		)
		ex, _ := newTestExtractor(t, client)

		_, err := ex.Extract(context.Background(), Request{
			ModelID: "test-model",
			Schema:  personSchema(t),
			Prompt:  Text("x"),
		})
		if !errors.Is(err, ErrNoExtraction) {
			t.Fatalf("Extract() error = %v, want ErrNoExtraction", err)
		}
	})

	t.Run("cancelled context is not retried", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		client := providers.NewMockClient()
		ex, timer := newTestExtractor(t, client)
		_, err := ex.Extract(ctx, Request{
			ModelID: "test-model",
			Schema:  personSchema(t),
			Prompt:  Text("x"),
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Extract() error = %v, want context.Canceled", err)
		}
		if len(timer.Delays()) != 0 {
			t.Errorf("cancellation was retried: %v", timer.Delays())
		}
	})
}

func TestExtractReview(t *testing.T) {
	t.Run("review applies corrections", func(t *testing.T) {
		client := providers.NewMockClient(
			setReply(map[string]any{"age": 34, "name": "Jane"}),
			providers.TextReply("done"),
			patchReply(map[string]any{"op": "replace", "path": "/name", "value": "Janet"}),
			providers.TextReply(ReviewVerified),
		)
		ex, _ := newTestExtractor(t, client)

		res, err := ex.Extract(context.Background(), Request{
			ModelID: "test-model",
			Schema:  personSchema(t),
			Prompt:  Text("Janet, 34"),
			Review:  true,
		})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if res.Record["name"] != "Janet" {
			t.Errorf("Record = %v", res.Record)
		}
		if !res.Metadata.Reviewed {
			t.Error("Reviewed = false")
		}
		total := res.Usage.Total()
		if total.InputTokens != 400 || total.OutputTokens != 60 {
			t.Errorf("review usage not accumulated: %+v", total)
		}

		reviewReq := client.Requests()[2]
		last := reviewReq.Messages[len(reviewReq.Messages)-1]
		if last.Role != providers.RoleUser || !strings.Contains(last.Content, "one final careful look") {
			t.Errorf("review prompt missing: %+v", last)
		}
		// The review continues the first conversation.
		if len(reviewReq.Messages) != 6 {
			t.Errorf("review request carried %d messages, want 6", len(reviewReq.Messages))
		}
	})

	t.Run("verified record is kept", func(t *testing.T) {
		client := providers.NewMockClient(
			setReply(map[string]any{"age": 34, "name": "Jane"}),
			providers.TextReply("done"),
			providers.TextReply(ReviewVerified),
		)
		ex, _ := newTestExtractor(t, client)

		res, err := ex.Extract(context.Background(), Request{
			ModelID: "test-model",
			Schema:  personSchema(t),
			Prompt:  Text("Jane, 34"),
			Review:  true,
		})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if res.Record["name"] != "Jane" || client.RequestCount() != 3 {
			t.Errorf("Record = %v, requests = %d", res.Record, client.RequestCount())
		}
	})

	t.Run("review recovers a missing extraction", func(t *testing.T) {
		client := providers.NewMockClient(
			providers.TextReply("hmm"),
			providers.TextReply("hmm again"),
			setReply(map[string]any{"age": 34, "name": "Jane"}),
			providers.TextReply(ReviewVerified),
		)
		ex, _ := newTestExtractor(t, client)

		res, err := ex.Extract(context.Background(), Request{
			ModelID: "test-model",
			Schema:  personSchema(t),
			Prompt:  Text("Jane, 34"),
			Review:  true,
		})
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if res.Record["age"] != json.Number("34") {
			t.Errorf("Record = %v", res.Record)
		}
	})

	t.Run("review without any record fails", func(t *testing.T) {
		client := providers.NewMockClient()
		ex, _ := newTestExtractor(t, client)

		_, err := ex.Extract(context.Background(), Request{
			ModelID: "test-model",
			Schema:  personSchema(t),
			Prompt:  Text("x"),
			Review:  true,
		})
		if !errors.Is(err, ErrNoExtraction) {
			t.Fatalf("Extract() error = %v, want ErrNoExtraction", err)
		}
	})
}

// memoryCache is an in-process Cache.
type memoryCache struct {
	mu      sync.Mutex
	records map[string]map[string]any
}

func (c *memoryCache) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key]
	return rec, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, record map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.records == nil {
		c.records = make(map[string]map[string]any)
	}
	c.records[key] = record
	return nil
}

// recordingObserver keeps every event.
type recordingObserver struct {
	mu          sync.Mutex
	calls       []LLMCallEvent
	invocations []InvocationEvent
}

func (o *recordingObserver) ObserveLLMCall(ctx context.Context, ev LLMCallEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, ev)
}

func (o *recordingObserver) ObserveInvocation(ctx context.Context, ev InvocationEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.invocations = append(o.invocations, ev)
}

func TestExtractCache(t *testing.T) {
	client := providers.NewMockClient(
		setReply(map[string]any{"age": 34, "name": "Jane"}),
		providers.TextReply("done"),
	)
	cache := &memoryCache{}
	obs := &recordingObserver{}
	ex, _ := newTestExtractor(t, client, WithCache(cache), WithObserver(obs))

	req := Request{ModelID: "test-model", Schema: personSchema(t), Prompt: Text("Jane, 34")}
	first, err := ex.Extract(context.Background(), req)
	if err != nil {
		t.Fatalf("first Extract() error = %v", err)
	}
	second, err := ex.Extract(context.Background(), req)
	if err != nil {
		t.Fatalf("second Extract() error = %v", err)
	}

	if first.Metadata.Cached || !second.Metadata.Cached {
		t.Errorf("Cached = %v, %v; want false, true", first.Metadata.Cached, second.Metadata.Cached)
	}
	if second.Record["name"] != "Jane" {
		t.Errorf("cached Record = %v", second.Record)
	}
	if !second.Usage.Total().IsZero() {
		t.Errorf("cached usage = %+v, want zero", second.Usage.Total())
	}
	if client.RequestCount() != 2 {
		t.Errorf("RequestCount = %d, want 2", client.RequestCount())
	}

	key1, _ := requestCacheKey(Request{Provider: "mock", ModelID: "test-model", Schema: req.Schema, Prompt: req.Prompt})
	key2, _ := requestCacheKey(Request{Provider: "mock", ModelID: "test-model", Schema: req.Schema, Prompt: req.Prompt, Review: true})
	if key1 == key2 {
		t.Error("review flag does not change the cache key")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.calls) != 2 {
		t.Errorf("observed %d LLM calls, want 2", len(obs.calls))
	}
	if len(obs.invocations) != 2 || !obs.invocations[0].Success || !obs.invocations[1].Cached {
		t.Errorf("unexpected invocation events: %+v", obs.invocations)
	}
	if obs.invocations[0].Usage.TotalTokens != 230 || obs.invocations[0].MeteringKey != "Extraction/mock/test-model" {
		t.Errorf("unexpected invocation event: %+v", obs.invocations[0])
	}
}

func TestCacheKeyCoversImageData(t *testing.T) {
	s := personSchema(t)
	a := Request{Provider: "p", ModelID: "m", Schema: s, Prompt: Message{Parts: []providers.ContentPart{providers.ImagePart([]byte{1, 2, 3}, "image/png")}}}
	b := Request{Provider: "p", ModelID: "m", Schema: s, Prompt: Message{Parts: []providers.ContentPart{providers.ImagePart([]byte{4, 5, 6}, "image/png")}}}

	ka, err := requestCacheKey(a)
	if err != nil {
		t.Fatalf("requestCacheKey() error = %v", err)
	}
	kb, _ := requestCacheKey(b)
	if ka == kb {
		t.Error("different image payloads share a cache key")
	}
}

func TestStart(t *testing.T) {
	client := providers.NewMockClient(
		setReply(map[string]any{"age": 34, "name": "Jane"}),
		providers.TextReply("done"),
	)
	client.Latency = 10 * time.Millisecond
	ex, _ := newTestExtractor(t, client)

	f := ex.Start(context.Background(), Request{ModelID: "test-model", Schema: personSchema(t), Prompt: Text("Jane, 34")})
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("future did not complete")
	}
	res, err := f.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if res.Record["name"] != "Jane" {
		t.Errorf("Record = %v", res.Record)
	}
}

func TestExtractAll(t *testing.T) {
	reg := providers.NewRegistry()
	reg.SetLogger(discardLogger())
	names := []string{"a", "b", "c"}
	for i, name := range names {
		reg.RegisterLLM(name, providers.NewMockClient(
			setReply(map[string]any{"age": i, "name": name}),
			providers.TextReply("done"),
		))
	}
	ex := New(reg, WithLogger(discardLogger()))
	s := personSchema(t)

	reqs := []Request{
		{Provider: "a", ModelID: "m", Schema: s, Prompt: Text("a")},
		{Provider: "b", ModelID: "m", Schema: s, Prompt: Text("b")},
		{Provider: "c", ModelID: "m", Prompt: Text("c")},
		{Provider: "c", ModelID: "m", Schema: s, Prompt: Text("c")},
	}
	out := ex.ExtractAll(context.Background(), reqs, 2)

	if len(out) != 4 {
		t.Fatalf("got %d outcomes, want 4", len(out))
	}
	for i, o := range out {
		if o.Index != i {
			t.Errorf("outcome %d has index %d", i, o.Index)
		}
	}
	if !errors.Is(out[2].Err, ErrNoSchema) {
		t.Errorf("outcome 2 error = %v, want ErrNoSchema", out[2].Err)
	}
	for _, i := range []int{0, 1, 3} {
		if out[i].Err != nil {
			t.Errorf("outcome %d error = %v", i, out[i].Err)
			continue
		}
		if out[i].Result.Record["name"] != names[min(i, 2)] {
			t.Errorf("outcome %d record = %v", i, out[i].Result.Record)
		}
	}
}
