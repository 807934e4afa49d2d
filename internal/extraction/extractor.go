// Package extraction turns unstructured prompts into schema-conformant
// records by driving a tool-using agent over an extraction state.
package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/sift/internal/agent"
	"github.com/jackzampolin/sift/internal/providers"
	"github.com/jackzampolin/sift/internal/schema"
)

// DefaultContext labels usage when the caller gives none.
const DefaultContext = "Extraction"

// Request describes one extraction invocation.
type Request struct {
	// Provider names the gateway; the extractor default is used if empty.
	Provider string
	// ModelID is required.
	ModelID string
	Schema  *schema.Schema
	Prompt  Prompt

	// Existing is a baseline record the model updates instead of starting
	// from scratch.
	Existing map[string]any

	// SystemPrompt replaces the built-in discipline when set.
	SystemPrompt      string
	CustomInstruction string
	Review            bool

	// Context is the first component of the metering key.
	Context string

	// Gateway tuning. Zero values select the defaults (7 retries, 10s
	// connect, 300s read); negative MaxRetries disables gateway retries.
	MaxRetries     int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// MaxOutputTokens is clamped to the model ceiling; zero means the ceiling.
	MaxOutputTokens int
	MaxIterations   int
	Temperature     float64
}

// Result is a validated record plus the usage it cost.
type Result struct {
	Record   map[string]any `json:"record"`
	Usage    Metering       `json:"usage"`
	Metadata Metadata       `json:"metadata"`
}

// Metadata describes how a result was produced.
type Metadata struct {
	InvocationID    string  `json:"invocationId"`
	Provider        string  `json:"provider"`
	ModelID         string  `json:"modelId"`
	ExtractionTime  float64 `json:"extractionTimeSeconds"`
	Attempts        int     `json:"attempts"`
	Iterations      int     `json:"iterations"`
	ToolCalls       int     `json:"toolCalls"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Reviewed        bool    `json:"reviewed"`
	Cached          bool    `json:"cached"`
}

// Extractor runs extraction invocations. It is safe for concurrent use;
// every invocation owns its own state.
type Extractor struct {
	clients         ClientSource
	defaultProvider string
	logger          *slog.Logger
	cache           Cache
	observer        Observer
	retryTimer      retry.Timer
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// WithDefaultProvider sets the provider used when a request names none.
func WithDefaultProvider(name string) Option {
	return func(e *Extractor) { e.defaultProvider = name }
}

// WithCache enables the result cache.
func WithCache(c Cache) Option {
	return func(e *Extractor) { e.cache = c }
}

// WithObserver reports LLM calls and finished invocations to o.
func WithObserver(o Observer) Option {
	return func(e *Extractor) { e.observer = o }
}

// WithRetryTimer replaces the clock used between outer retry attempts.
func WithRetryTimer(t retry.Timer) Option {
	return func(e *Extractor) { e.retryTimer = t }
}

// New creates an extractor resolving gateways through clients.
func New(clients ClientSource, opts ...Option) *Extractor {
	e := &Extractor{clients: clients, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Future is the pending outcome of an asynchronous invocation.
type Future struct {
	done   chan struct{}
	result *Result
	err    error
}

// Done is closed once the invocation finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the invocation finished and returns its outcome.
func (f *Future) Wait() (*Result, error) {
	<-f.done
	return f.result, f.err
}

// Start runs an invocation on its own goroutine. Cancelling ctx aborts it.
func (e *Extractor) Start(ctx context.Context, req Request) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.result, f.err = e.run(ctx, req)
	}()
	return f
}

// Extract runs an invocation and waits for it.
func (e *Extractor) Extract(ctx context.Context, req Request) (*Result, error) {
	return e.Start(ctx, req).Wait()
}

// Outcome is one entry of a batch.
type Outcome struct {
	Index  int
	Result *Result
	Err    error
}

// ExtractAll runs independent invocations with at most limit in flight.
// Failures are reported per entry and never cancel the others.
func (e *Extractor) ExtractAll(ctx context.Context, reqs []Request, limit int) []Outcome {
	out := make([]Outcome, len(reqs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, req := range reqs {
		g.Go(func() error {
			res, err := e.Extract(ctx, req)
			out[i] = Outcome{Index: i, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// invocation carries the per-call values shared by the phases of run.
type invocation struct {
	id        string
	key       string
	req       Request
	logger    *slog.Logger
	state     *State
	tools     *Tools
	client    providers.LLMClient
	caps      providers.Capabilities
	maxTokens int
	usage     Metering
	startedAt time.Time

	attempts   int
	iterations int
	toolCalls  int
	reviewed   bool
	cached     bool
}

func (e *Extractor) normalize(req Request) (Request, error) {
	if req.Provider == "" {
		req.Provider = e.defaultProvider
	}
	if req.Context == "" {
		req.Context = DefaultContext
	}
	switch {
	case req.Provider == "":
		return req, errors.New("provider is required")
	case req.ModelID == "":
		return req, ErrNoModel
	case req.Schema == nil:
		return req, ErrNoSchema
	case req.Prompt == nil:
		return req, ErrNoPrompt
	}
	return req, nil
}

func (e *Extractor) run(ctx context.Context, req Request) (*Result, error) {
	req, err := e.normalize(req)
	if err != nil {
		return nil, err
	}

	inv := &invocation{
		id:        uuid.New().String(),
		key:       MeteringKey(req.Context, req.Provider, req.ModelID),
		req:       req,
		usage:     Metering{},
		startedAt: time.Now(),
	}
	inv.logger = e.logger.With(
		"invocation_id", inv.id,
		"provider", req.Provider,
		"model", req.ModelID)

	var cacheKey string
	if e.cache != nil {
		if cacheKey, err = requestCacheKey(req); err != nil {
			inv.logger.Warn("result cache disabled for request", "error", err)
		} else if res := e.cacheLookup(ctx, inv, cacheKey); res != nil {
			return res, nil
		}
	}

	record, err := e.execute(ctx, inv)
	e.finish(ctx, inv, err)
	if err != nil {
		return nil, err
	}

	if cacheKey != "" {
		if err := e.cache.Set(ctx, cacheKey, record); err != nil {
			inv.logger.Warn("failed to cache result", "error", err)
		}
	}
	return &Result{Record: record, Usage: inv.usage, Metadata: inv.metadata()}, nil
}

func (e *Extractor) cacheLookup(ctx context.Context, inv *invocation, key string) *Result {
	record, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		inv.logger.Warn("result cache lookup failed", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	if _, err := inv.req.Schema.Validate(record); err != nil {
		inv.logger.Warn("ignoring cached record that no longer validates", "error", err)
		return nil
	}

	inv.usage[inv.key] = Usage{}
	inv.cached = true
	inv.logger.Info("extraction served from cache")
	e.finish(ctx, inv, nil)
	return &Result{Record: record, Usage: inv.usage, Metadata: inv.metadata()}
}

// execute runs the exchange, the post-exchange validation and the optional
// review. It returns the validated record.
func (e *Extractor) execute(ctx context.Context, inv *invocation) (map[string]any, error) {
	req := inv.req

	inv.caps = providers.DetectCapabilities(req.ModelID)
	tokens, clamped := inv.caps.EffectiveMaxOutputTokens(req.MaxOutputTokens)
	if clamped {
		inv.logger.Warn("requested max output tokens exceeds model limit, clamping",
			"requested", req.MaxOutputTokens,
			"limit", inv.caps.MaxOutputTokens)
	}
	inv.maxTokens = tokens
	inv.logger.Info("detected model capabilities",
		"max_output_tokens", tokens,
		"prompt_caching", inv.caps.PromptCaching,
		"tool_caching", inv.caps.ToolCaching)

	client, err := e.clients.Client(ctx, req.Provider, providers.CallOptions{
		MaxRetries:     req.MaxRetries,
		ConnectTimeout: req.ConnectTimeout,
		ReadTimeout:    req.ReadTimeout,
	})
	if err != nil {
		return nil, &InvocationError{Err: err}
	}
	inv.client = client

	inv.state = NewState()
	if req.Existing != nil {
		inv.state.Preload(req.Existing)
	}
	inv.tools, err = NewTools(req.Schema, inv.state, inv.logger)
	if err != nil {
		return nil, &InvocationError{Err: err}
	}

	messages, err := initialMessages(req)
	if err != nil {
		return nil, err
	}

	first, err := e.exchange(ctx, inv, PhaseExtract, messages)
	if err != nil {
		return nil, err
	}

	var record map[string]any
	if inv.state.HasExtraction() {
		record, err = req.Schema.Validate(inv.state.Current())
		if err != nil {
			return nil, err
		}
	} else if !req.Review {
		return nil, ErrNoExtraction
	}

	if req.Review {
		record, err = e.review(ctx, inv, first, record)
		if err != nil {
			return nil, err
		}
	}
	if record == nil {
		return nil, ErrNoExtraction
	}
	return record, nil
}

func initialMessages(req Request) ([]providers.Message, error) {
	prompt, err := req.Prompt.Messages()
	if err != nil {
		return nil, err
	}
	messages := []providers.Message{{
		Role:    providers.RoleSystem,
		Content: BuildSystemPrompt(req.SystemPrompt, req.CustomInstruction, req.Schema),
	}}
	messages = append(messages, prompt...)
	if req.Existing != nil {
		messages = append(messages, providers.Message{
			Role:    providers.RoleUser,
			Content: ExistingDataPrompt(req.Existing),
		})
	}
	return messages, nil
}

// exchange runs one agent conversation under the outer retry policy. Each
// attempt starts from the state as it was before the exchange.
func (e *Extractor) exchange(ctx context.Context, inv *invocation, phase string, messages []providers.Message) (*agent.Result, error) {
	snap := inv.state.Snapshot()
	policy := defaultRetryPolicy(inv.logger)
	policy.timer = e.retryTimer

	var result *agent.Result
	attempts, err := policy.do(ctx, func(attempt int) error {
		inv.state.Restore(snap)
		a := agent.New(agent.Config{
			ID:              fmt.Sprintf("%s-%s-%d", inv.id, phase, attempt),
			Tools:           inv.tools,
			InitialMessages: messages,
			MaxIterations:   inv.req.MaxIterations,
			Model:           inv.req.ModelID,
			MaxTokens:       inv.maxTokens,
			Temperature:     inv.req.Temperature,
			CachePrompt:     inv.caps.PromptCaching,
			CacheTools:      inv.caps.ToolCaching,
			AgentType:       phase,
			Logger:          inv.logger,
			OnLLMResult: func(r *providers.ChatResult) {
				inv.usage.Add(inv.key, UsageFromResult(r))
				if e.observer != nil {
					e.observer.ObserveLLMCall(ctx, LLMCallEvent{
						InvocationID: inv.id,
						MeteringKey:  inv.key,
						Context:      inv.req.Context,
						Phase:        phase,
						Attempt:      attempt,
						Result:       r,
					})
				}
			},
		})
		res, err := a.Run(ctx, inv.client)
		if res != nil {
			inv.iterations += res.Iterations
			if res.Trace != nil {
				inv.toolCalls += len(res.Trace.ToolCalls)
			}
		}
		result = res
		return err
	})
	inv.attempts += attempts
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, &InvocationError{Attempts: attempts, Err: errors.New("agent returned no result")}
	}
	if !result.Success {
		inv.logger.Debug("agent finished without completing", "phase", phase, "reason", result.Error)
	}
	return result, nil
}

// review continues the first conversation with a final check. A changed
// record replaces the current one only if it still validates.
func (e *Extractor) review(ctx context.Context, inv *invocation, first *agent.Result, record map[string]any) (map[string]any, error) {
	before := inv.state.Current()
	if len(before) == 0 && len(record) > 0 {
		inv.state.Set(record)
		before = inv.state.Current()
	}
	messages := append([]providers.Message(nil), first.FinalMessages...)
	messages = append(messages, providers.Message{
		Role:    providers.RoleUser,
		Content: ReviewPrompt(before),
	})

	if _, err := e.exchange(ctx, inv, PhaseReview, messages); err != nil {
		return nil, err
	}
	inv.reviewed = true

	if inv.state.Matches(before) || !inv.state.HasExtraction() {
		inv.logger.Info("review kept the extraction unchanged")
		return record, nil
	}

	reviewed, err := inv.req.Schema.Validate(inv.state.Current())
	if err != nil {
		inv.logger.Warn("review produced an invalid record, keeping the pre-review result", "error", err)
		return record, nil
	}
	inv.logger.Info("review updated the extraction")
	return reviewed, nil
}

func (e *Extractor) finish(ctx context.Context, inv *invocation, err error) {
	duration := time.Since(inv.startedAt)
	total := inv.usage.Total()
	if err != nil {
		inv.logger.Error("extraction failed",
			"attempts", inv.attempts,
			"duration", duration,
			"input_tokens", total.InputTokens,
			"output_tokens", total.OutputTokens,
			"error", err)
	} else {
		inv.logger.Info("extraction completed",
			"attempts", inv.attempts,
			"iterations", inv.iterations,
			"duration", duration,
			"input_tokens", total.InputTokens,
			"output_tokens", total.OutputTokens,
			"total_tokens", total.TotalTokens)
	}

	if e.observer == nil {
		return
	}
	ev := InvocationEvent{
		InvocationID: inv.id,
		MeteringKey:  inv.key,
		Context:      inv.req.Context,
		Provider:     inv.req.Provider,
		Model:        inv.req.ModelID,
		StartedAt:    inv.startedAt,
		Duration:     duration,
		Usage:        total,
		Attempts:     inv.attempts,
		Iterations:   inv.iterations,
		Reviewed:     inv.reviewed,
		Cached:       inv.cached,
		Success:      err == nil,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.observer.ObserveInvocation(ctx, ev)
}

func (inv *invocation) metadata() Metadata {
	return Metadata{
		InvocationID:    inv.id,
		Provider:        inv.req.Provider,
		ModelID:         inv.req.ModelID,
		ExtractionTime:  time.Since(inv.startedAt).Seconds(),
		Attempts:        inv.attempts,
		Iterations:      inv.iterations,
		ToolCalls:       inv.toolCalls,
		MaxOutputTokens: inv.maxTokens,
		Reviewed:        inv.reviewed,
		Cached:          inv.cached,
	}
}

// requestCacheKey hashes everything that determines the outcome of a request.
func requestCacheKey(req Request) (string, error) {
	prompt, err := req.Prompt.Messages()
	if err != nil {
		return "", err
	}

	h := sha256.New()
	write := func(label string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", label, err)
		}
		h.Write([]byte(label))
		h.Write([]byte{0})
		h.Write(raw)
		h.Write([]byte{0})
		return nil
	}

	fields := []struct {
		label string
		value any
	}{
		{"provider", req.Provider},
		{"model", req.ModelID},
		{"schema", req.Schema.Document()},
		{"prompt", prompt},
		{"existing", req.Existing},
		{"system", req.SystemPrompt},
		{"custom", req.CustomInstruction},
		{"review", req.Review},
	}
	for _, f := range fields {
		if err := write(f.label, f.value); err != nil {
			return "", err
		}
	}
	// Part payloads are not part of the JSON encoding.
	for _, m := range prompt {
		for _, p := range m.Parts {
			h.Write(p.Data)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
