package llmcall

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/sift/internal/store"
)

// Store provides access to LLM call records in the ledger.
type Store struct {
	db *store.Store
}

// NewStore creates a new LLMCall store.
func NewStore(db *store.Store) *Store {
	return &Store{db: db}
}

// QueryFilter specifies filters for listing LLM calls.
type QueryFilter struct {
	InvocationID string
	MeteringKey  string
	Phase        string
	Provider     string
	Model        string
	After        *time.Time
	Before       *time.Time
	Success      *bool
	Limit        int
	Offset       int
}

const selectColumns = `id, timestamp, latency_ms, invocation_id, metering_key, phase, attempt,
	provider, model, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
	response, tool_calls, success, error`

// Get retrieves a single LLM call by ID. A missing call yields nil, nil.
func (s *Store) Get(ctx context.Context, id string) (*Call, error) {
	row := s.db.DB().QueryRowContext(ctx,
		s.db.Rebind(`SELECT `+selectColumns+` FROM `+Table+` WHERE id = ?`), id)
	call, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return call, nil
}

// List retrieves LLM calls matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter QueryFilter) ([]Call, error) {
	where, args := buildWhere(filter)

	query := `SELECT ` + selectColumns + ` FROM ` + Table + where + ` ORDER BY timestamp DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.DB().QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *call)
	}
	return calls, rows.Err()
}

// CountByMeteringKey returns call counts grouped by metering key.
func (s *Store) CountByMeteringKey(ctx context.Context, filter QueryFilter) (map[string]int, error) {
	where, args := buildWhere(filter)
	query := `SELECT metering_key, COUNT(*) FROM ` + Table + where + ` GROUP BY metering_key`

	rows, err := s.db.DB().QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

func buildWhere(f QueryFilter) (string, []any) {
	var conditions []string
	var args []any
	eq := func(column, value string) {
		if value != "" {
			conditions = append(conditions, column+" = ?")
			args = append(args, value)
		}
	}

	eq("invocation_id", f.InvocationID)
	eq("metering_key", f.MeteringKey)
	eq("phase", f.Phase)
	eq("provider", f.Provider)
	eq("model", f.Model)
	if f.Success != nil {
		conditions = append(conditions, "success = ?")
		args = append(args, *f.Success)
	}
	if f.After != nil {
		conditions = append(conditions, "timestamp > ?")
		args = append(args, store.FormatTime(*f.After))
	}
	if f.Before != nil {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, store.FormatTime(*f.Before))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner) (*Call, error) {
	var (
		call      Call
		timestamp string
		toolCalls string
	)
	err := row.Scan(
		&call.ID, &timestamp, &call.LatencyMs,
		&call.InvocationID, &call.MeteringKey, &call.Phase, &call.Attempt,
		&call.Provider, &call.Model,
		&call.InputTokens, &call.OutputTokens, &call.CacheReadTokens, &call.CacheWriteTokens,
		&call.Response, &toolCalls, &call.Success, &call.Error,
	)
	if err != nil {
		return nil, err
	}
	call.Timestamp = store.ParseTime(timestamp)
	if toolCalls != "" {
		call.ToolCalls = json.RawMessage(toolCalls)
	}
	return &call, nil
}
