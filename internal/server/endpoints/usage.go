package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sift/internal/api"
	"github.com/jackzampolin/sift/internal/metrics"
	"github.com/jackzampolin/sift/internal/svcctx"
)

// UsageResponse reports token usage grouped by metering key.
type UsageResponse struct {
	Usage map[string]*metrics.Summary `json:"usage"`
	Total *metrics.Summary            `json:"total"`
}

// InvocationsResponse lists recorded invocations.
type InvocationsResponse struct {
	Invocations []metrics.Metric `json:"invocations"`
	Total       int              `json:"total"`
}

// UsageEndpoint handles GET /v1/usage.
type UsageEndpoint struct{}

func (e *UsageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/usage", e.handler
}

func (e *UsageEndpoint) NeedsServices() bool { return true }

func (e *UsageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	l := svcctx.LedgerFrom(r.Context())
	if l == nil {
		writeError(w, http.StatusInternalServerError, "usage ledger not available")
		return
	}

	filter, err := parseUsageFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := l.Usage()
	byKey, err := q.UsageByKey(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := q.GetSummary(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{Usage: byKey, Total: total})
}

// parseUsageFilter reads invocation filters from query parameters.
func parseUsageFilter(q url.Values) (metrics.Filter, error) {
	filter := metrics.Filter{
		MeteringKey: q.Get("metering_key"),
		Context:     q.Get("context"),
		Provider:    q.Get("provider"),
		Model:       q.Get("model"),
	}

	var err error
	if filter.Success, err = parseSuccess(q); err != nil {
		return filter, err
	}
	if filter.After, err = parseTime(q, "after"); err != nil {
		return filter, err
	}
	if filter.Before, err = parseTime(q, "before"); err != nil {
		return filter, err
	}
	return filter, nil
}

func (e *UsageEndpoint) Command(getServerURL func() string) *cobra.Command {
	var usageCtx, provider, model, since string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show token usage by metering key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())

			params := url.Values{}
			setParam(params, "context", usageCtx)
			setParam(params, "provider", provider)
			setParam(params, "model", model)
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				params.Set("after", time.Now().Add(-d).UTC().Format(time.RFC3339))
			}

			path := "/v1/usage"
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			var resp UsageResponse
			if err := client.Get(ctx, path, &resp); err != nil {
				return err
			}

			if api.GetOutputFormat() == api.OutputFormatJSON {
				return api.Output(resp)
			}

			keys := make([]string, 0, len(resp.Usage))
			for k := range resp.Usage {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			fmt.Printf("Usage\n")
			fmt.Printf("=====\n")
			for _, k := range keys {
				s := resp.Usage[k]
				fmt.Printf("  %s\n", k)
				fmt.Printf("    Invocations: %d (%d failed, %d cached)\n", s.Count, s.ErrorCount, s.CachedCount)
				fmt.Printf("    Tokens:      %d in / %d out / %d total\n", s.InputTokens, s.OutputTokens, s.TotalTokens)
				fmt.Printf("    Latency:     p50 %.2fs  p95 %.2fs\n", s.LatencyP50, s.LatencyP95)
			}
			if resp.Total != nil {
				fmt.Println()
				fmt.Printf("  Total: %d invocations, %d tokens\n", resp.Total.Count, resp.Total.TotalTokens)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&usageCtx, "context", "", "Filter by usage context")
	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider")
	cmd.Flags().StringVar(&model, "model", "", "Filter by model")
	cmd.Flags().StringVar(&since, "since", "", "Only invocations newer than this duration (e.g. 24h)")

	return cmd
}

// ListInvocationsEndpoint handles GET /v1/invocations.
type ListInvocationsEndpoint struct{}

func (e *ListInvocationsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/invocations", e.handler
}

func (e *ListInvocationsEndpoint) NeedsServices() bool { return true }

func (e *ListInvocationsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	l := svcctx.LedgerFrom(r.Context())
	if l == nil {
		writeError(w, http.StatusInternalServerError, "usage ledger not available")
		return
	}

	q := r.URL.Query()
	filter, err := parseUsageFilter(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %q must be an integer", v))
			return
		}
	}

	list, err := l.Usage().List(r.Context(), filter, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []metrics.Metric{}
	}

	writeJSON(w, http.StatusOK, InvocationsResponse{Invocations: list, Total: len(list)})
}

func (e *ListInvocationsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var usageCtx, provider, model string
	var limit int
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "invocations",
		Short: "List recorded invocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())

			params := url.Values{}
			setParam(params, "context", usageCtx)
			setParam(params, "provider", provider)
			setParam(params, "model", model)
			if failedOnly {
				params.Set("success", "false")
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}

			path := "/v1/invocations"
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			var resp InvocationsResponse
			if err := client.Get(ctx, path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}

	cmd.Flags().StringVar(&usageCtx, "context", "", "Filter by usage context")
	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider")
	cmd.Flags().StringVar(&model, "model", "", "Filter by model")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show failed invocations")
	cmd.Flags().IntVar(&limit, "limit", 100, "Max results")

	return cmd
}
