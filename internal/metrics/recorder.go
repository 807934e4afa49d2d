package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/sift/internal/store"
)

// Recorder handles recording metrics to the ledger.
type Recorder struct {
	sink *store.Sink
}

// NewRecorder creates a new metrics recorder.
func NewRecorder(sink *store.Sink) *Recorder {
	return &Recorder{sink: sink}
}

func (m *Metric) fill() {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
}

// Record queues a metric (fire-and-forget).
func (r *Recorder) Record(m Metric) {
	if r == nil || r.sink == nil {
		return
	}
	m.fill()
	r.sink.Send(m.WriteOp())
}

// RecordSync stores a metric and waits for the write to commit.
func (r *Recorder) RecordSync(ctx context.Context, m Metric) (string, error) {
	m.fill()
	if err := r.sink.SendSync(ctx, m.WriteOp()); err != nil {
		return "", err
	}
	return m.ID, nil
}
