// Package ledger persists extraction events: one row per gateway call and
// one row per finished invocation.
package ledger

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/sift/internal/extraction"
	"github.com/jackzampolin/sift/internal/llmcall"
	"github.com/jackzampolin/sift/internal/metrics"
	"github.com/jackzampolin/sift/internal/store"
)

// Ledger records extraction events through a batching sink.
type Ledger struct {
	store   *store.Store
	sink    *store.Sink
	calls   *llmcall.Recorder
	metrics *metrics.Recorder
	logger  *slog.Logger
}

var _ extraction.Observer = (*Ledger)(nil)

// Open migrates db and starts its write sink. Call Close to flush.
func Open(ctx context.Context, db *store.Store, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.Migrate(ctx); err != nil {
		return nil, err
	}

	sink := store.NewSink(store.SinkConfig{Store: db, Logger: logger})
	sink.Start(ctx)

	return &Ledger{
		store:   db,
		sink:    sink,
		calls:   llmcall.NewRecorder(sink),
		metrics: metrics.NewRecorder(sink),
		logger:  logger,
	}, nil
}

// Store returns the underlying database.
func (l *Ledger) Store() *store.Store {
	return l.store
}

// Calls returns a query helper for recorded gateway calls.
func (l *Ledger) Calls() *llmcall.Store {
	return llmcall.NewStore(l.store)
}

// Usage returns a query helper for recorded invocations.
func (l *Ledger) Usage() *metrics.Query {
	return metrics.NewQuery(l.store)
}

// Flush waits for queued events to commit.
func (l *Ledger) Flush(ctx context.Context) error {
	return l.sink.Flush(ctx)
}

// Close flushes pending events and stops the sink. The store stays open.
func (l *Ledger) Close() {
	l.sink.Stop()
}

// ObserveLLMCall implements extraction.Observer.
func (l *Ledger) ObserveLLMCall(_ context.Context, ev extraction.LLMCallEvent) {
	l.calls.Record(ev.Result, llmcall.RecordOptions{
		InvocationID: ev.InvocationID,
		MeteringKey:  ev.MeteringKey,
		Phase:        ev.Phase,
		Attempt:      ev.Attempt,
		Logger:       l.logger,
	})
}

// ObserveInvocation implements extraction.Observer.
func (l *Ledger) ObserveInvocation(_ context.Context, ev extraction.InvocationEvent) {
	l.metrics.Record(metrics.Metric{
		ID:               ev.InvocationID,
		MeteringKey:      ev.MeteringKey,
		Context:          ev.Context,
		Provider:         ev.Provider,
		Model:            ev.Model,
		InputTokens:      ev.Usage.InputTokens,
		OutputTokens:     ev.Usage.OutputTokens,
		TotalTokens:      ev.Usage.TotalTokens,
		CacheReadTokens:  ev.Usage.CacheReadInputTokens,
		CacheWriteTokens: ev.Usage.CacheWriteInputTokens,
		Attempts:         ev.Attempts,
		Iterations:       ev.Iterations,
		Reviewed:         ev.Reviewed,
		Cached:           ev.Cached,
		DurationSeconds:  ev.Duration.Seconds(),
		Success:          ev.Success,
		Error:            ev.Error,
		CreatedAt:        ev.StartedAt,
	})
}
