package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/sift/internal/store"
)

// Query provides queries for metrics.
type Query struct {
	db *store.Store
}

// NewQuery creates a new metrics query helper.
func NewQuery(db *store.Store) *Query {
	return &Query{db: db}
}

// Filter specifies query filters.
type Filter struct {
	MeteringKey string
	Context     string
	Provider    string
	Model       string
	After       time.Time
	Before      time.Time
	Success     *bool // nil = any, true = success only, false = errors only
}

// buildWhere builds a WHERE clause and its arguments from a Filter.
func buildWhere(f Filter) (string, []any) {
	var parts []string
	var args []any
	eq := func(column, value string) {
		if value != "" {
			parts = append(parts, column+" = ?")
			args = append(args, value)
		}
	}

	eq("metering_key", f.MeteringKey)
	eq("context", f.Context)
	eq("provider", f.Provider)
	eq("model", f.Model)
	if !f.After.IsZero() {
		parts = append(parts, "created_at > ?")
		args = append(args, store.FormatTime(f.After))
	}
	if !f.Before.IsZero() {
		parts = append(parts, "created_at < ?")
		args = append(args, store.FormatTime(f.Before))
	}
	if f.Success != nil {
		parts = append(parts, "success = ?")
		args = append(args, *f.Success)
	}

	if len(parts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

// List returns metrics matching the filter, newest first.
func (q *Query) List(ctx context.Context, f Filter, limit int) ([]Metric, error) {
	where, args := buildWhere(f)
	query := `SELECT ` + strings.Join(columns, ", ") + ` FROM ` + Table + where + ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := q.db.DB().QueryContext(ctx, q.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var metrics []Metric
	for rows.Next() {
		var (
			m         Metric
			createdAt string
		)
		if err := rows.Scan(
			&m.ID, &m.MeteringKey, &m.Context, &m.Provider, &m.Model,
			&m.InputTokens, &m.OutputTokens, &m.TotalTokens, &m.CacheReadTokens, &m.CacheWriteTokens,
			&m.Attempts, &m.Iterations, &m.Reviewed, &m.Cached,
			&m.DurationSeconds, &m.Success, &m.Error, &createdAt,
		); err != nil {
			return nil, err
		}
		m.CreatedAt = store.ParseTime(createdAt)
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
