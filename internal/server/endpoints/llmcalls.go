package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sift/internal/api"
	"github.com/jackzampolin/sift/internal/llmcall"
	"github.com/jackzampolin/sift/internal/svcctx"
)

// LLMCallsResponse contains a list of LLM calls.
type LLMCallsResponse struct {
	Calls []llmcall.Call `json:"calls"`
	Total int            `json:"total"`
}

// LLMCallResponse contains a single LLM call.
type LLMCallResponse struct {
	Call  *llmcall.Call `json:"call,omitempty"`
	Error string        `json:"error,omitempty"`
}

// LLMCallCountsResponse contains call counts per metering key.
type LLMCallCountsResponse struct {
	Counts map[string]int `json:"counts"`
}

// ListLLMCallsEndpoint handles GET /v1/llmcalls.
type ListLLMCallsEndpoint struct{}

func (e *ListLLMCallsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/llmcalls", e.handler
}

func (e *ListLLMCallsEndpoint) NeedsServices() bool { return true }

func (e *ListLLMCallsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	l := svcctx.LedgerFrom(r.Context())
	if l == nil {
		writeError(w, http.StatusInternalServerError, "usage ledger not available")
		return
	}

	filter, err := parseCallFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	calls, err := l.Calls().List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if calls == nil {
		calls = []llmcall.Call{}
	}

	writeJSON(w, http.StatusOK, LLMCallsResponse{
		Calls: calls,
		Total: len(calls),
	})
}

// parseCallFilter reads llmcall filters from query parameters.
func parseCallFilter(q url.Values) (llmcall.QueryFilter, error) {
	filter := llmcall.QueryFilter{
		InvocationID: q.Get("invocation_id"),
		MeteringKey:  q.Get("metering_key"),
		Phase:        q.Get("phase"),
		Provider:     q.Get("provider"),
		Model:        q.Get("model"),
	}

	var err error
	if filter.Success, err = parseSuccess(q); err != nil {
		return filter, err
	}

	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			return filter, fmt.Errorf("invalid limit: %q must be an integer", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			return filter, fmt.Errorf("invalid offset: %q must be an integer", v)
		}
	}

	after, err := parseTime(q, "after")
	if err != nil {
		return filter, err
	}
	if !after.IsZero() {
		filter.After = &after
	}
	before, err := parseTime(q, "before")
	if err != nil {
		return filter, err
	}
	if !before.IsZero() {
		filter.Before = &before
	}
	return filter, nil
}

func parseSuccess(q url.Values) (*bool, error) {
	v := q.Get("success")
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("invalid success filter: %q must be true or false", v)
	}
	return &b, nil
}

func parseTime(q url.Values, name string) (time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s time: %q must be RFC3339 format (e.g., 2024-01-15T00:00:00Z)", name, v)
	}
	return t, nil
}

func (e *ListLLMCallsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var invocationID, meteringKey, phase, provider, model, since string
	var limit, offset int
	var successOnly, failedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded LLM calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())

			params := url.Values{}
			setParam(params, "invocation_id", invocationID)
			setParam(params, "metering_key", meteringKey)
			setParam(params, "phase", phase)
			setParam(params, "provider", provider)
			setParam(params, "model", model)
			if successOnly {
				params.Set("success", "true")
			}
			if failedOnly {
				params.Set("success", "false")
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				params.Set("offset", strconv.Itoa(offset))
			}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				params.Set("after", time.Now().Add(-d).UTC().Format(time.RFC3339))
			}

			path := "/v1/llmcalls"
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			var resp LLMCallsResponse
			if err := client.Get(ctx, path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&invocationID, "invocation", "", "Filter by invocation ID")
	cmd.Flags().StringVar(&meteringKey, "key", "", "Filter by metering key")
	cmd.Flags().StringVar(&phase, "phase", "", "Filter by phase (extract or review)")
	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider")
	cmd.Flags().StringVar(&model, "model", "", "Filter by model")
	cmd.Flags().StringVar(&since, "since", "", "Only calls newer than this duration (e.g. 24h)")
	cmd.Flags().BoolVar(&successOnly, "success", false, "Only show successful calls")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show failed calls")
	cmd.Flags().IntVar(&limit, "limit", 100, "Max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Result offset")
	return cmd
}

func setParam(params url.Values, key, value string) {
	if value != "" {
		params.Set(key, value)
	}
}

// GetLLMCallEndpoint handles GET /v1/llmcalls/{id}.
type GetLLMCallEndpoint struct{}

func (e *GetLLMCallEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/llmcalls/{id}", e.handler
}

func (e *GetLLMCallEndpoint) NeedsServices() bool { return true }

func (e *GetLLMCallEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return
	}

	l := svcctx.LedgerFrom(r.Context())
	if l == nil {
		writeError(w, http.StatusInternalServerError, "usage ledger not available")
		return
	}

	call, err := l.Calls().Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if call == nil {
		writeError(w, http.StatusNotFound, "LLM call not found")
		return
	}

	writeJSON(w, http.StatusOK, LLMCallResponse{Call: call})
}

func (e *GetLLMCallEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get an LLM call by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp LLMCallResponse
			if err := client.Get(ctx, "/v1/llmcalls/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp.Call)
		},
	}
}

// LLMCallCountsEndpoint handles GET /v1/llmcalls/counts.
type LLMCallCountsEndpoint struct{}

func (e *LLMCallCountsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/llmcalls/counts", e.handler
}

func (e *LLMCallCountsEndpoint) NeedsServices() bool { return true }

func (e *LLMCallCountsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	l := svcctx.LedgerFrom(r.Context())
	if l == nil {
		writeError(w, http.StatusInternalServerError, "usage ledger not available")
		return
	}

	filter, err := parseCallFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	counts, err := l.Calls().CountByMeteringKey(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, LLMCallCountsResponse{Counts: counts})
}

func (e *LLMCallCountsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var phase, provider string

	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Count LLM calls by metering key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())

			params := url.Values{}
			setParam(params, "phase", phase)
			setParam(params, "provider", provider)
			path := "/v1/llmcalls/counts"
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			var resp LLMCallCountsResponse
			if err := client.Get(ctx, path, &resp); err != nil {
				return err
			}
			return api.Output(resp.Counts)
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "Filter by phase (extract or review)")
	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider")
	return cmd
}
