package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sift/internal/api"
	"github.com/jackzampolin/sift/internal/config"
	"github.com/jackzampolin/sift/internal/extraction"
	"github.com/jackzampolin/sift/internal/input"
	"github.com/jackzampolin/sift/internal/providers"
	"github.com/jackzampolin/sift/internal/schema"
	"github.com/jackzampolin/sift/internal/svcctx"
)

// MaxExtractBody bounds a POST /v1/extract body. Documents travel base64
// encoded inside the JSON.
const MaxExtractBody = 64 << 20

// ExtractRequest is the body of POST /v1/extract.
//
// The schema is given inline (a descriptor or a JSON Schema document) or by
// catalog name. The prompt is either Text or Data, which is classified by
// content like a file on disk.
type ExtractRequest struct {
	Provider          string          `json:"provider,omitempty"`
	Model             string          `json:"model,omitempty"`
	Schema            json.RawMessage `json:"schema,omitempty"`
	SchemaName        string          `json:"schema_name,omitempty"`
	Text              string          `json:"text,omitempty"`
	Data              []byte          `json:"data,omitempty"`
	Filename          string          `json:"filename,omitempty"`
	Existing          map[string]any  `json:"existing,omitempty"`
	SystemPrompt      string          `json:"system_prompt,omitempty"`
	CustomInstruction string          `json:"custom_instruction,omitempty"`
	Review            *bool           `json:"review,omitempty"`
	Context           string          `json:"context,omitempty"`
	MaxOutputTokens   int             `json:"max_output_tokens,omitempty"`
	MaxIterations     int             `json:"max_iterations,omitempty"`
}

// Build resolves the request against the configured defaults.
func (req *ExtractRequest) Build(cfg *config.Config, catalog *schema.Catalog) (extraction.Request, error) {
	var out extraction.Request

	s, err := req.resolveSchema(catalog)
	if err != nil {
		return out, err
	}

	var prompt extraction.Prompt
	switch {
	case req.Text != "" && len(req.Data) > 0:
		return out, errors.New("text and data are mutually exclusive")
	case req.Text != "":
		prompt = extraction.Text(req.Text)
	case len(req.Data) > 0:
		name := req.Filename
		if name == "" {
			name = "upload"
		}
		if prompt, _, err = input.FromBytes(name, req.Data); err != nil {
			return out, err
		}
	default:
		return out, extraction.ErrNoPrompt
	}

	d := cfg.Defaults
	out = extraction.Request{
		Provider:          firstNonEmpty(req.Provider, d.Provider),
		ModelID:           req.Model,
		Schema:            s,
		Prompt:            prompt,
		Existing:          req.Existing,
		SystemPrompt:      req.SystemPrompt,
		CustomInstruction: req.CustomInstruction,
		Review:            d.Review,
		Context:           firstNonEmpty(req.Context, d.Context),
		MaxRetries:        d.MaxRetries,
		ConnectTimeout:    d.ConnectTimeoutDuration(),
		ReadTimeout:       d.ReadTimeoutDuration(),
		MaxOutputTokens:   d.MaxOutputTokens,
		MaxIterations:     d.MaxIterations,
	}
	if out.ModelID == "" {
		// A provider other than the default falls back to its own model.
		if p, ok := cfg.GetLLMProvider(out.Provider); ok && out.Provider != d.Provider {
			out.ModelID = p.Model
		} else {
			out.ModelID = d.Model
		}
	}
	if req.Review != nil {
		out.Review = *req.Review
	}
	if req.MaxOutputTokens > 0 {
		out.MaxOutputTokens = req.MaxOutputTokens
	}
	if req.MaxIterations > 0 {
		out.MaxIterations = req.MaxIterations
	}
	return out, nil
}

func (req *ExtractRequest) resolveSchema(catalog *schema.Catalog) (*schema.Schema, error) {
	switch {
	case len(req.Schema) > 0 && req.SchemaName != "":
		return nil, errors.New("schema and schema_name are mutually exclusive")
	case len(req.Schema) > 0:
		return schema.Parse(req.Schema, "json")
	case req.SchemaName != "":
		if catalog == nil {
			return nil, fmt.Errorf("schema not found: %s", req.SchemaName)
		}
		return catalog.Get(req.SchemaName)
	default:
		return nil, extraction.ErrNoSchema
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ExtractEndpoint handles POST /v1/extract.
type ExtractEndpoint struct{}

func (e *ExtractEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/v1/extract", e.handler
}

func (e *ExtractEndpoint) NeedsServices() bool { return true }

func (e *ExtractEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	extractor := svcctx.ExtractorFrom(ctx)
	if extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "extractor not available")
		return
	}

	var req ExtractRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxExtractBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	extReq, err := req.Build(svcctx.ConfigFrom(ctx), svcctx.SchemasFrom(ctx))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := extractor.Extract(ctx, extReq)
	if err != nil {
		svcctx.LoggerFrom(ctx).Warn("extraction failed",
			"provider", extReq.Provider, "model", extReq.ModelID, "error", err)
		writeError(w, extractStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// extractStatus maps an extraction error to an HTTP status.
func extractStatus(err error) int {
	var apiErr *providers.APIError
	var valErr *schema.ValidationError
	switch {
	case errors.Is(err, extraction.ErrNoSchema),
		errors.Is(err, extraction.ErrNoPrompt),
		errors.Is(err, extraction.ErrNoModel):
		return http.StatusBadRequest
	case errors.Is(err, extraction.ErrNoExtraction), errors.As(err, &valErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (e *ExtractEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		schemaRef   string
		provider    string
		model       string
		text        string
		existing    string
		instruction string
		usageCtx    string
		review      bool
		maxTokens   int
	)

	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Extract a structured record on the server",
		Long: `Send a document to the running server and print the extracted record.

The schema is a local descriptor or JSON Schema file, or the name of a
schema in the server's catalog. The input is a file argument or --text.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ExtractRequest{
				Provider:          provider,
				Model:             model,
				Text:              text,
				CustomInstruction: instruction,
				Context:           usageCtx,
				MaxOutputTokens:   maxTokens,
			}

			if err := req.SetSchemaRef(schemaRef); err != nil {
				return err
			}

			if len(args) == 1 {
				if text != "" {
					return errors.New("pass either a file or --text, not both")
				}
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				req.Data = data
				req.Filename = filepath.Base(args[0])
			}

			if existing != "" {
				baseline, err := input.LoadBaseline(existing)
				if err != nil {
					return err
				}
				req.Existing = baseline
			}
			if cmd.Flags().Changed("review") {
				req.Review = &review
			}

			client := api.NewClient(getServerURL())
			var resp extraction.Result
			if err := client.Post(cmd.Context(), "/v1/extract", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}

	cmd.Flags().StringVarP(&schemaRef, "schema", "s", "", "Schema file or catalog name (required)")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider name (default from server config)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model ID (default from server config)")
	cmd.Flags().StringVar(&text, "text", "", "Extract from this text instead of a file")
	cmd.Flags().StringVar(&existing, "existing", "", "Baseline record to update (JSON or YAML file)")
	cmd.Flags().StringVar(&instruction, "instruction", "", "Custom instruction appended to the system prompt")
	cmd.Flags().StringVar(&usageCtx, "context", "", "Usage context label")
	cmd.Flags().BoolVar(&review, "review", false, "Run the review phase")
	cmd.Flags().IntVar(&maxTokens, "max-output-tokens", 0, "Output token limit (default: model maximum)")
	cmd.MarkFlagRequired("schema")

	return cmd
}

// SetSchemaRef points the request at a schema. An existing file is sent
// inline as its JSON Schema document; anything else names a catalog entry.
func (req *ExtractRequest) SetSchemaRef(ref string) error {
	if _, err := os.Stat(ref); err != nil {
		req.SchemaName = ref
		return nil
	}
	s, err := schema.Load(ref)
	if err != nil {
		return err
	}
	req.Schema = json.RawMessage(s.JSON())
	return nil
}
