package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	OpenAIName           = "openai"
	OpenAIDefaultBaseURL = "https://api.openai.com/v1"
)

// OpenAIConfig holds configuration for an OpenAI-compatible gateway
// (OpenAI, OpenRouter, a Bedrock access gateway, vLLM, ...).
type OpenAIConfig struct {
	Name           string // registry name, defaults to "openai"
	APIKey         string
	BaseURL        string
	DefaultModel   string
	MaxRetries     int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Limiter        *RateLimiter // optional, shared across clients of one provider
	HTTPClient     *http.Client // optional (tests)
}

// OpenAIClient implements LLMClient using the official OpenAI SDK.
// Inner retries are the SDK's, which back off and honor Retry-After.
type OpenAIClient struct {
	name         string
	defaultModel string
	maxRetries   int
	limiter      *RateLimiter
	client       openai.Client
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Name == "" {
		cfg.Name = OpenAIName
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

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Limiter != nil {
		reqOpts = append(reqOpts, option.WithMiddleware(rateLimitMiddleware(cfg.Limiter)))
	}

	return &OpenAIClient{
		name:         cfg.Name,
		defaultModel: cfg.DefaultModel,
		maxRetries:   opts.MaxRetries,
		limiter:      cfg.Limiter,
		client:       openai.NewClient(reqOpts...),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return c.name
}

// MaxRetries returns the SDK retry budget.
func (c *OpenAIClient) MaxRetries() int {
	return c.maxRetries
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	return c.doChat(ctx, req, nil)
}

// ChatWithTools sends a chat request with tool definitions.
func (c *OpenAIClient) ChatWithTools(ctx context.Context, req *ChatRequest, tools []Tool) (*ChatResult, error) {
	return c.doChat(ctx, req, tools)
}

func (c *OpenAIClient) doChat(ctx context.Context, req *ChatRequest, tools []Tool) (*ChatResult, error) {
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
		Attempts:  1,
	}
	fail := func(err error) (*ChatResult, error) {
		result.Success = false
		result.ErrorType = errorType(err)
		result.ErrorMessage = err.Error()
		result.ExecutionTime = time.Since(start)
		return result, err
	}

	messages, err := toOpenAIMessages(req.Messages, req.CachePrompt)
	if err != nil {
		return fail(err)
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(tools) > 0 {
		params.Tools, err = toOpenAITools(model, tools, req.CacheTools)
		if err != nil {
			return fail(err)
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return fail(mapOpenAIError(c.name, err))
	}
	if len(completion.Choices) == 0 {
		return fail(fmt.Errorf("%s returned no choices", c.name))
	}

	msg := completion.Choices[0].Message
	result.Content = msg.Content
	for _, tc := range msg.ToolCalls {
		if tc.Type != "" && tc.Type != "function" {
			continue
		}
		result.ToolCalls = append(result.ToolCalls, NewToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}

	usage := completion.Usage
	result.PromptTokens = int(usage.PromptTokens)
	result.CompletionTokens = int(usage.CompletionTokens)
	result.TotalTokens = int(usage.TotalTokens)
	result.CacheReadTokens = int(usage.PromptTokensDetails.CachedTokens)
	if f, ok := usage.JSON.ExtraFields["cache_creation_input_tokens"]; ok && f.Valid() {
		if n, err := strconv.Atoi(f.Raw()); err == nil {
			result.CacheWriteTokens = n
		}
	}
	if completion.Model != "" {
		result.ModelUsed = completion.Model
	}
	result.Success = true
	result.ExecutionTime = time.Since(start)
	return result, nil
}

var cacheControl = map[string]any{"cache_control": map[string]any{"type": "ephemeral"}}

func toOpenAIMessages(msgs []Message, cachePrompt bool) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			part := openai.ChatCompletionContentPartTextParam{Text: m.Content}
			if cachePrompt {
				part.SetExtraFields(cacheControl)
			}
			out = append(out, openai.SystemMessage([]openai.ChatCompletionContentPartTextParam{part}))

		case RoleUser:
			if len(m.Parts) == 0 {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Parts))
			for _, p := range m.Parts {
				part, err := toOpenAIPart(p)
				if err != nil {
					return nil, err
				}
				parts = append(parts, part)
			}
			out = append(out, openai.UserMessage(parts))

		case RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Function.Name,
							Arguments: tc.Function.Arguments,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))

		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func toOpenAIPart(p ContentPart) (openai.ChatCompletionContentPartUnionParam, error) {
	switch p.Type {
	case PartText:
		return openai.TextContentPart(p.Text), nil
	case PartImage:
		return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL(p.MIMEType, p.Data),
		}), nil
	case PartDocument:
		file := openai.ChatCompletionContentPartFileFileParam{
			FileData: openai.String(dataURL(p.MIMEType, p.Data)),
		}
		if p.Name != "" {
			file.Filename = openai.String(p.Name)
		}
		return openai.FileContentPart(file), nil
	default:
		return openai.ChatCompletionContentPartUnionParam{}, fmt.Errorf("unsupported content part %q", p.Type)
	}
}

func toOpenAITools(model string, tools []Tool, cacheTools bool) ([]openai.ChatCompletionToolUnionParam, error) {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		fn := shared.FunctionDefinitionParam{Name: t.Function.Name}
		if t.Function.Description != "" {
			fn.Description = openai.String(t.Function.Description)
		}
		if len(t.Function.Parameters) > 0 {
			var params map[string]any
			if err := json.Unmarshal(t.Function.Parameters, &params); err != nil {
				return nil, fmt.Errorf("tool %s has invalid parameters: %w", t.Function.Name, err)
			}
			sanitizeToolParameters(model, params)
			fn.Parameters = shared.FunctionParameters(params)
		}
		out = append(out, openai.ChatCompletionFunctionTool(fn))
	}
	if cacheTools && len(out) > 0 && out[len(out)-1].OfFunction != nil {
		out[len(out)-1].OfFunction.SetExtraFields(cacheControl)
	}
	return out, nil
}

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// rateLimitMiddleware gates every SDK attempt on the limiter and drains it
// when the provider answers 429.
func rateLimitMiddleware(l *RateLimiter) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		if err := l.Wait(req.Context()); err != nil {
			return nil, err
		}
		resp, err := next(req)
		if err == nil && resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			l.Record429(parseRetryAfter(resp.Header.Get("Retry-After")))
		}
		return resp, err
	}
}

func mapOpenAIError(provider string, err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	out := &APIError{
		Provider:   provider,
		StatusCode: apiErr.StatusCode,
		Code:       apiErr.Code,
		Message:    apiErr.Message,
		Err:        err,
	}
	if apiErr.Response != nil {
		out.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	return out
}

func errorType(err error) string {
	if apiErr, ok := IsAPIError(err); ok {
		if apiErr.IsRateLimit() {
			return "rate_limit"
		}
		return "api_error"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "context_cancelled"
	}
	if IsTransient(err) {
		return "transient"
	}
	return "error"
}

var _ LLMClient = (*OpenAIClient)(nil)
