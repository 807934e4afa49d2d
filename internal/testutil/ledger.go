package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackzampolin/sift/internal/store"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewLedger opens a migrated SQLite ledger in a temp directory.
// The store is closed when the test ends.
func NewLedger(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"), DiscardLogger())
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate ledger: %v", err)
	}
	return s
}

// NewSink starts a sink over s that flushes after every write.
// It is stopped when the test ends.
func NewSink(t *testing.T, s *store.Store) *store.Sink {
	t.Helper()
	sink := store.NewSink(store.SinkConfig{
		Store:         s,
		BatchSize:     1,
		FlushInterval: 10 * time.Millisecond,
		Logger:        DiscardLogger(),
	})
	sink.Start(context.Background())
	t.Cleanup(sink.Stop)
	return sink
}
