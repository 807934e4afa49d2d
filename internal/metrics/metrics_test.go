package metrics

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jackzampolin/sift/internal/testutil"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 50, 0},
		{"single", []float64{3}, 95, 3},
		{"median of two", []float64{1, 3}, 50, 2},
		{"p95 of five", []float64{1, 2, 3, 4, 5}, 95, 4.8},
		{"max", []float64{1, 2, 3}, 100, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentile(tt.values, tt.p); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("percentile() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecordAndQuery(t *testing.T) {
	ledger := testutil.NewLedger(t)
	sink := testutil.NewSink(t, ledger)
	recorder := NewRecorder(sink)
	query := NewQuery(ledger)
	ctx := context.Background()

	start := time.Now().Add(-time.Hour)
	seed := []Metric{
		{MeteringKey: "Extraction/openai/gpt-4o", Context: "Extraction", Provider: "openai", Model: "gpt-4o",
			InputTokens: 200, OutputTokens: 30, TotalTokens: 230, Attempts: 1, Iterations: 2,
			DurationSeconds: 2, Success: true, CreatedAt: start},
		{MeteringKey: "Extraction/openai/gpt-4o", Context: "Extraction", Provider: "openai", Model: "gpt-4o",
			InputTokens: 400, OutputTokens: 60, TotalTokens: 460, CacheReadTokens: 100, Reviewed: true,
			DurationSeconds: 4, Success: true, CreatedAt: start.Add(time.Minute)},
		{MeteringKey: "Extraction/openai/gpt-4o", Context: "Extraction", Provider: "openai", Model: "gpt-4o",
			Cached: true, Success: true, CreatedAt: start.Add(2 * time.Minute)},
		{MeteringKey: "Invoice/gemini/gemini-2.5-flash", Context: "Invoice", Provider: "gemini", Model: "gemini-2.5-flash",
			InputTokens: 50, TotalTokens: 50, DurationSeconds: 1, Error: "no extraction produced", CreatedAt: start.Add(3 * time.Minute)},
	}
	for i, m := range seed {
		if i < len(seed)-1 {
			recorder.Record(m)
			continue
		}
		id, err := recorder.RecordSync(ctx, m)
		if err != nil {
			t.Fatalf("RecordSync() error = %v", err)
		}
		if id == "" {
			t.Error("RecordSync() returned empty id")
		}
	}

	t.Run("list", func(t *testing.T) {
		all, err := query.List(ctx, Filter{}, 0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(all) != 4 {
			t.Fatalf("List() returned %d metrics, want 4", len(all))
		}
		if all[0].Context != "Invoice" || all[0].Error != "no extraction produced" || all[0].Success {
			t.Errorf("newest = %+v", all[0])
		}
		if all[3].ID == "" || !all[3].CreatedAt.Equal(start) {
			t.Errorf("oldest = %+v", all[3])
		}

		limited, _ := query.List(ctx, Filter{}, 2)
		if len(limited) != 2 {
			t.Errorf("limit returned %d", len(limited))
		}
	})

	t.Run("filters", func(t *testing.T) {
		ok := true
		tests := []struct {
			name   string
			filter Filter
			want   int
		}{
			{"metering key", Filter{MeteringKey: "Extraction/openai/gpt-4o"}, 3},
			{"context", Filter{Context: "Invoice"}, 1},
			{"model", Filter{Model: "gemini-2.5-flash"}, 1},
			{"successes", Filter{Success: &ok}, 3},
			{"after", Filter{After: start.Add(90 * time.Second)}, 2},
			{"before", Filter{Before: start.Add(30 * time.Second)}, 1},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := query.List(ctx, tt.filter, 0)
				if err != nil {
					t.Fatalf("List() error = %v", err)
				}
				if len(got) != tt.want {
					t.Errorf("List() returned %d, want %d", len(got), tt.want)
				}
			})
		}
	})

	t.Run("summary", func(t *testing.T) {
		s, err := query.GetSummary(ctx, Filter{})
		if err != nil {
			t.Fatalf("GetSummary() error = %v", err)
		}
		if s.Count != 4 || s.SuccessCount != 3 || s.ErrorCount != 1 || s.CachedCount != 1 {
			t.Errorf("counts = %+v", s)
		}
		if s.InputTokens != 650 || s.OutputTokens != 90 || s.TotalTokens != 740 || s.CacheReadTokens != 100 {
			t.Errorf("tokens = %+v", s)
		}
		if s.LatencyMax != 4 || s.LatencyP50 != 2 {
			t.Errorf("latency = %+v", s)
		}
	})

	t.Run("usage by key", func(t *testing.T) {
		usage, err := query.UsageByKey(ctx, Filter{})
		if err != nil {
			t.Fatalf("UsageByKey() error = %v", err)
		}
		if len(usage) != 2 {
			t.Fatalf("UsageByKey() = %v", usage)
		}
		gpt := usage["Extraction/openai/gpt-4o"]
		if gpt.Count != 3 || gpt.TotalTokens != 690 || gpt.AvgTotalTokens != 230 {
			t.Errorf("gpt-4o = %+v", gpt)
		}
		if usage["Invoice/gemini/gemini-2.5-flash"].ErrorCount != 1 {
			t.Errorf("gemini = %+v", usage["Invoice/gemini/gemini-2.5-flash"])
		}
	})

	t.Run("empty summary", func(t *testing.T) {
		s, err := query.GetSummary(ctx, Filter{Provider: "nobody"})
		if err != nil || s.Count != 0 || s.AvgTotalTokens != 0 {
			t.Errorf("GetSummary() = %+v, %v", s, err)
		}
	})
}
