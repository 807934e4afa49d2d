package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sift/internal/api"
	"github.com/jackzampolin/sift/internal/config"
	"github.com/jackzampolin/sift/internal/extraction"
	"github.com/jackzampolin/sift/internal/providers"
	"github.com/jackzampolin/sift/internal/schema"
)

const inlineDescriptor = `{"fields": [{"name": "total", "type": "number", "required": true}]}`

func TestExtractRequestBuild(t *testing.T) {
	cfg := config.DefaultConfig()

	t.Run("defaults fill the gaps", func(t *testing.T) {
		req := ExtractRequest{Schema: json.RawMessage(inlineDescriptor), Text: "total 4.50"}
		out, err := req.Build(cfg, nil)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if out.Provider != "openrouter" || out.ModelID != "anthropic/claude-sonnet-4" {
			t.Errorf("provider/model = %s/%s", out.Provider, out.ModelID)
		}
		if out.Context != "Extraction" || out.MaxRetries != 7 || out.ReadTimeout != 300*time.Second {
			t.Errorf("defaults not applied: %+v", out)
		}
		if out.Review {
			t.Error("review enabled by default")
		}
		if _, ok := out.Prompt.(extraction.Text); !ok {
			t.Errorf("prompt = %T", out.Prompt)
		}
	})

	t.Run("other provider uses its own model", func(t *testing.T) {
		req := ExtractRequest{Provider: "gemini", Schema: json.RawMessage(inlineDescriptor), Text: "x"}
		out, err := req.Build(cfg, nil)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if out.ModelID != "gemini-2.5-flash" {
			t.Errorf("ModelID = %q", out.ModelID)
		}
	})

	t.Run("request overrides", func(t *testing.T) {
		review := true
		req := ExtractRequest{
			Model:           "gpt-4o",
			Schema:          json.RawMessage(inlineDescriptor),
			Text:            "x",
			Review:          &review,
			Context:         "Receipts",
			MaxOutputTokens: 512,
			Existing:        map[string]any{"total": 1},
		}
		out, err := req.Build(cfg, nil)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if out.ModelID != "gpt-4o" || !out.Review || out.Context != "Receipts" || out.MaxOutputTokens != 512 {
			t.Errorf("overrides lost: %+v", out)
		}
		if out.Existing["total"] != 1 {
			t.Errorf("Existing = %v", out.Existing)
		}
	})

	t.Run("catalog schema", func(t *testing.T) {
		s, err := schema.Parse([]byte(inlineDescriptor), "json")
		if err != nil {
			t.Fatal(err)
		}
		catalog := schema.NewCatalog()
		catalog.Add("Receipt", "receipt.json", s)

		out, err := (&ExtractRequest{SchemaName: "receipt", Text: "x"}).Build(cfg, catalog)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if out.Schema != s {
			t.Error("catalog schema not used")
		}
	})

	t.Run("raw json schema", func(t *testing.T) {
		raw := `{"type": "object", "properties": {"n": {"type": "integer"}}, "required": ["n"]}`
		out, err := (&ExtractRequest{Schema: json.RawMessage(raw), Text: "x"}).Build(cfg, nil)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if out.Schema.FieldCount() != 1 {
			t.Errorf("FieldCount = %d", out.Schema.FieldCount())
		}
	})

	t.Run("data is classified", func(t *testing.T) {
		out, err := (&ExtractRequest{
			Schema:   json.RawMessage(inlineDescriptor),
			Data:     []byte("Total due: 4.50\n"),
			Filename: "receipt.txt",
		}).Build(cfg, nil)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if _, ok := out.Prompt.(extraction.Text); !ok {
			t.Errorf("prompt = %T, want text", out.Prompt)
		}
	})

	errCases := []struct {
		name string
		req  ExtractRequest
	}{
		{"no schema", ExtractRequest{Text: "x"}},
		{"both schemas", ExtractRequest{Schema: json.RawMessage(inlineDescriptor), SchemaName: "a", Text: "x"}},
		{"name without catalog", ExtractRequest{SchemaName: "a", Text: "x"}},
		{"no prompt", ExtractRequest{Schema: json.RawMessage(inlineDescriptor)}},
		{"text and data", ExtractRequest{Schema: json.RawMessage(inlineDescriptor), Text: "x", Data: []byte("y")}},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.req.Build(cfg, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExtractStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{extraction.ErrNoModel, http.StatusBadRequest},
		{extraction.ErrNoExtraction, http.StatusUnprocessableEntity},
		{&schema.ValidationError{}, http.StatusUnprocessableEntity},
		{&providers.APIError{StatusCode: 429}, http.StatusTooManyRequests},
		{&providers.APIError{StatusCode: 401}, http.StatusBadGateway},
		{&extraction.InvocationError{Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{&extraction.InvocationError{Err: errors.New("boom")}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T %v", tt.err, tt.err), func(t *testing.T) {
			if got := extractStatus(tt.err); got != tt.want {
				t.Errorf("extractStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseCallFilter(t *testing.T) {
	t.Run("all fields", func(t *testing.T) {
		q := url.Values{
			"metering_key": {"Extraction/openai/gpt-4o"},
			"phase":        {"review"},
			"success":      {"false"},
			"limit":        {"5"},
			"offset":       {"10"},
			"after":        {"2024-01-15T00:00:00Z"},
		}
		f, err := parseCallFilter(q)
		if err != nil {
			t.Fatalf("parseCallFilter() error = %v", err)
		}
		if f.MeteringKey != "Extraction/openai/gpt-4o" || f.Phase != "review" || f.Limit != 5 || f.Offset != 10 {
			t.Errorf("filter = %+v", f)
		}
		if f.Success == nil || *f.Success {
			t.Errorf("Success = %v", f.Success)
		}
		if f.After == nil || !f.After.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)) || f.Before != nil {
			t.Errorf("After/Before = %v/%v", f.After, f.Before)
		}
	})

	for _, bad := range []url.Values{
		{"success": {"maybe"}},
		{"limit": {"ten"}},
		{"offset": {"-x"}},
		{"before": {"yesterday"}},
	} {
		if _, err := parseCallFilter(bad); err == nil {
			t.Errorf("parseCallFilter(%v) expected error", bad)
		}
		if _, err := parseUsageFilter(bad); err == nil && (bad.Has("success") || bad.Has("before")) {
			t.Errorf("parseUsageFilter(%v) expected error", bad)
		}
	}
}

func TestCommandTree(t *testing.T) {
	root := Registry().BuildCommands(func() string { return "http://localhost:0" }, CommandGroups()...)

	find := func(path ...string) *cobra.Command {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			return nil
		}
		return cmd
	}

	for _, path := range [][]string{
		{"health"}, {"ready"}, {"status"}, {"extract"}, {"usage"}, {"invocations"},
		{"schemas"}, {"schema"}, {"calls", "list"}, {"calls", "get"}, {"calls", "counts"},
	} {
		if find(path...) == nil {
			t.Errorf("command %v not found", path)
		}
	}
	if find("list") != nil {
		t.Error("list should only exist under calls")
	}
}

func TestRoutesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, ep := range All() {
		key := api.Pattern(ep)
		if _, _, handler := ep.Route(); handler == nil {
			t.Errorf("%s has no handler", key)
		}
		if seen[key] {
			t.Errorf("duplicate route %s", key)
		}
		seen[key] = true
	}
}
