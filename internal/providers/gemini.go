package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

const GeminiName = "gemini"

// GeminiConfig holds configuration for the Gemini gateway.
type GeminiConfig struct {
	Name           string // registry name, defaults to "gemini"
	APIKey         string
	BaseURL        string // optional (tests)
	DefaultModel   string
	MaxRetries     int
	RetryDelay     time.Duration // base backoff, defaults to 1s
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Limiter        *RateLimiter
	HTTPClient     *http.Client // optional (tests)
}

// GeminiClient implements LLMClient using the Google GenAI SDK.
// The SDK does not retry, so throttling and transport faults are retried
// here with exponential backoff.
type GeminiClient struct {
	name         string
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	limiter      *RateLimiter
	client       *genai.Client
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.Name == "" {
		cfg.Name = GeminiName
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	opts := CallOptions{
		MaxRetries:     cfg.MaxRetries,
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
	}.withDefaults()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(opts.ConnectTimeout, opts.ReadTimeout)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		name:         cfg.Name,
		defaultModel: cfg.DefaultModel,
		maxRetries:   opts.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		limiter:      cfg.Limiter,
		client:       client,
	}, nil
}

// Name returns the client identifier.
func (c *GeminiClient) Name() string {
	return c.name
}

// MaxRetries returns the inner retry budget.
func (c *GeminiClient) MaxRetries() int {
	return c.maxRetries
}

// Chat sends a chat completion request.
func (c *GeminiClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	return c.doChat(ctx, req, nil)
}

// ChatWithTools sends a chat request with tool definitions.
func (c *GeminiClient) ChatWithTools(ctx context.Context, req *ChatRequest, tools []Tool) (*ChatResult, error) {
	return c.doChat(ctx, req, tools)
}

func (c *GeminiClient) doChat(ctx context.Context, req *ChatRequest, tools []Tool) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	result := &ChatResult{
		Provider:  c.name,
		ModelUsed: model,
		RequestID: requestID,
	}
	fail := func(err error) (*ChatResult, error) {
		result.Success = false
		result.ErrorType = errorType(err)
		result.ErrorMessage = err.Error()
		result.ExecutionTime = time.Since(start)
		return result, err
	}

	system, contents, err := toGeminiContents(req.Messages)
	if err != nil {
		return fail(err)
	}
	config := &genai.GenerateContentConfig{SystemInstruction: system}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		config.Temperature = &t
	}
	if len(tools) > 0 {
		config.Tools, err = toGeminiTools(model, tools)
		if err != nil {
			return fail(err)
		}
	}

	var resp *genai.GenerateContentResponse
	err = retry.Do(
		func() error {
			result.Attempts++
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
			}
			r, err := c.client.Models.GenerateContent(ctx, model, contents, config)
			if err != nil {
				err = mapGeminiError(c.name, err)
				if apiErr, ok := IsAPIError(err); ok && apiErr.IsRateLimit() && c.limiter != nil {
					c.limiter.Record429(apiErr.RetryAfter)
				}
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)+1),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(geminiRetryable),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fail(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return fail(fmt.Errorf("%s returned no candidates", c.name))
	}

	for i, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return fail(fmt.Errorf("failed to encode function args: %w", err))
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("%s-call-%d", requestID, i)
			}
			result.ToolCalls = append(result.ToolCalls, NewToolCall(id, part.FunctionCall.Name, string(args)))
		case part.Text != "" && !part.Thought:
			result.Content += part.Text
		}
	}

	if u := resp.UsageMetadata; u != nil {
		result.PromptTokens = int(u.PromptTokenCount)
		result.CompletionTokens = int(u.CandidatesTokenCount)
		result.TotalTokens = int(u.TotalTokenCount)
		result.CacheReadTokens = int(u.CachedContentTokenCount)
	}
	if resp.ModelVersion != "" {
		result.ModelUsed = resp.ModelVersion
	}
	result.Success = true
	result.ExecutionTime = time.Since(start)
	return result, nil
}

func geminiRetryable(err error) bool {
	if apiErr, ok := IsAPIError(err); ok {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return IsTransient(err)
}

func toGeminiContents(msgs []Message) (*genai.Content, []*genai.Content, error) {
	var system *genai.Content
	var contents []*genai.Content
	toolNames := make(map[string]string)

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = genai.NewContentFromText(m.Content, genai.RoleUser)

		case RoleUser:
			parts := []*genai.Part{}
			if len(m.Parts) == 0 {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, p := range m.Parts {
				switch p.Type {
				case PartText:
					parts = append(parts, genai.NewPartFromText(p.Text))
				case PartImage, PartDocument:
					parts = append(parts, genai.NewPartFromBytes(p.Data, p.MIMEType))
				default:
					return nil, nil, fmt.Errorf("unsupported content part %q", p.Type)
				}
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

		case RoleAssistant:
			parts := []*genai.Part{}
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
						args = map[string]any{"raw": tc.Function.Arguments}
					}
				}
				toolNames[tc.ID] = tc.Function.Name
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Args: args}})
			}
			if len(parts) == 0 {
				parts = append(parts, genai.NewPartFromText(""))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))

		case RoleTool:
			name := m.Name
			if name == "" {
				name = toolNames[m.ToolCallID]
			}
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     name,
				Response: toolResponse(m.Content),
			}}
			// Responses to one model turn travel together.
			if n := len(contents); n > 0 && isFunctionResponseTurn(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
			} else {
				contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
			}

		default:
			return nil, nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return system, contents, nil
}

func isFunctionResponseTurn(c *genai.Content) bool {
	if c.Role != genai.RoleUser || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func toolResponse(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil {
		return obj
	}
	return map[string]any{"output": content}
}

func toGeminiTools(model string, tools []Tool) ([]*genai.Tool, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
		}
		if len(t.Function.Parameters) > 0 {
			var params map[string]any
			if err := json.Unmarshal(t.Function.Parameters, &params); err != nil {
				return nil, fmt.Errorf("tool %s has invalid parameters: %w", t.Function.Name, err)
			}
			sanitizeToolParameters(model, params)
			decl.ParametersJsonSchema = params
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

func mapGeminiError(provider string, err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	return &APIError{
		Provider:   provider,
		StatusCode: apiErr.Code,
		Code:       apiErr.Status,
		Message:    apiErr.Message,
		Err:        err,
	}
}

var _ LLMClient = (*GeminiClient)(nil)
