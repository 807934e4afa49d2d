package metrics

import (
	"context"
	"sort"
)

// Summary aggregates the invocations matching a filter.
type Summary struct {
	// Basic counts
	Count        int `json:"count"`
	SuccessCount int `json:"success_count"`
	ErrorCount   int `json:"error_count"`
	CachedCount  int `json:"cached_count"`

	// Token totals
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CacheReadTokens  int     `json:"cache_read_tokens"`
	CacheWriteTokens int     `json:"cache_write_tokens"`
	AvgTotalTokens   float64 `json:"avg_total_tokens"`

	// Latency (seconds)
	LatencyAvg float64 `json:"latency_avg"`
	LatencyP50 float64 `json:"latency_p50"`
	LatencyP95 float64 `json:"latency_p95"`
	LatencyMax float64 `json:"latency_max"`
}

// GetSummary returns a summary of metrics matching the filter.
func (q *Query) GetSummary(ctx context.Context, f Filter) (*Summary, error) {
	metrics, err := q.List(ctx, f, 0)
	if err != nil {
		return nil, err
	}
	return summarize(metrics), nil
}

// UsageByKey returns summaries grouped by metering key.
func (q *Query) UsageByKey(ctx context.Context, f Filter) (map[string]*Summary, error) {
	metrics, err := q.List(ctx, f, 0)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string][]Metric)
	for _, m := range metrics {
		byKey[m.MeteringKey] = append(byKey[m.MeteringKey], m)
	}

	result := make(map[string]*Summary, len(byKey))
	for key, keyed := range byKey {
		result[key] = summarize(keyed)
	}
	return result, nil
}

func summarize(metrics []Metric) *Summary {
	s := &Summary{Count: len(metrics)}
	if len(metrics) == 0 {
		return s
	}

	var latencies []float64
	for _, m := range metrics {
		if m.Success {
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
		if m.Cached {
			s.CachedCount++
		}
		s.InputTokens += m.InputTokens
		s.OutputTokens += m.OutputTokens
		s.TotalTokens += m.TotalTokens
		s.CacheReadTokens += m.CacheReadTokens
		s.CacheWriteTokens += m.CacheWriteTokens
		if m.DurationSeconds > 0 {
			latencies = append(latencies, m.DurationSeconds)
		}
	}
	s.AvgTotalTokens = float64(s.TotalTokens) / float64(s.Count)

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		var sum float64
		for _, l := range latencies {
			sum += l
		}
		s.LatencyAvg = sum / float64(len(latencies))
		s.LatencyP50 = percentile(latencies, 50)
		s.LatencyP95 = percentile(latencies, 95)
		s.LatencyMax = latencies[len(latencies)-1]
	}
	return s
}

// percentile calculates the p-th percentile from a sorted slice of values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	n := float64(len(sorted))
	idx := (p / 100.0) * (n - 1)

	// Interpolate between floor and ceil indices
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
