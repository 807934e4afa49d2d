package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrSinkClosed is returned when writing to a stopped sink.
var ErrSinkClosed = errors.New("sink closed")

// WriteOp is a single row insert to be batched.
type WriteOp struct {
	Table   string
	Columns []string
	Values  []any
	result  chan<- error // set by SendSync
}

// SinkConfig configures the write sink.
type SinkConfig struct {
	Store         *Store
	BatchSize     int           // Flush after N ops (default: 100)
	FlushInterval time.Duration // Or after duration (default: 5s)
	QueueSize     int           // Buffer size (default: 1000)
	Logger        *slog.Logger
}

// Sink batches ledger inserts so that recording never blocks an invocation
// on database latency. Each flush commits in one transaction.
type Sink struct {
	store  *Store
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	queue   chan WriteOp
	batch   []WriteOp
	batchMu sync.Mutex
	flushCh chan chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	closed   chan struct{}
}

// NewSink creates a new write sink.
func NewSink(cfg SinkConfig) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Sink{
		store:         cfg.Store,
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		queue:         make(chan WriteOp, cfg.QueueSize),
		batch:         make([]WriteOp, 0, cfg.BatchSize),
		flushCh:       make(chan chan struct{}),
		closed:        make(chan struct{}),
	}
}

// Start begins processing write operations.
func (s *Sink) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.wg.Add(1)
	go s.runBatcher()
}

// Stop flushes queued operations and shuts the sink down.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Debug("stopping sink, flushing remaining operations")
		close(s.closed)
		close(s.queue)
		s.wg.Wait()
		if s.cancel != nil {
			s.cancel()
		}
		s.logger.Debug("sink stopped")
	})
}

// Send queues a write operation (fire-and-forget).
func (s *Sink) Send(op WriteOp) {
	op.result = nil

	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("sink closed, dropping write op", "table", op.Table)
		}
	}()

	select {
	case <-s.closed:
		s.logger.Warn("sink closed, dropping write op", "table", op.Table)
	case s.queue <- op:
	}
}

// SendSync queues a write operation and waits for it to commit.
func (s *Sink) SendSync(ctx context.Context, op WriteOp) (err error) {
	resultCh := make(chan error, 1)
	op.result = resultCh

	defer func() {
		if r := recover(); r != nil {
			err = ErrSinkClosed
		}
	}()

	select {
	case <-s.closed:
		return ErrSinkClosed
	case s.queue <- op:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush writes everything queued so far and waits for the commit.
func (s *Sink) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case <-s.closed:
		return ErrSinkClosed
	case s.flushCh <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runBatcher collects operations and flushes on size/time triggers.
func (s *Sink) runBatcher() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case op, ok := <-s.queue:
			if !ok {
				s.flushBatch()
				return
			}
			s.addToBatch(op)

		case <-ticker.C:
			s.flushBatch()

		case done := <-s.flushCh:
			s.drainQueue()
			s.flushBatch()
			close(done)
		}
	}
}

// drainQueue moves already-queued operations into the batch.
func (s *Sink) drainQueue() {
	for {
		select {
		case op, ok := <-s.queue:
			if !ok {
				return
			}
			s.addToBatch(op)
		default:
			return
		}
	}
}

func (s *Sink) addToBatch(op WriteOp) {
	s.batchMu.Lock()
	s.batch = append(s.batch, op)
	shouldFlush := len(s.batch) >= s.batchSize
	s.batchMu.Unlock()

	if shouldFlush {
		s.flushBatch()
	}
}

// flushBatch commits the current batch in one transaction.
func (s *Sink) flushBatch() {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	ops := s.batch
	s.batch = make([]WriteOp, 0, s.batchSize)
	s.batchMu.Unlock()

	s.logger.Debug("flushing batch", "count", len(ops))

	err := s.insertBatch(ops)
	if err != nil {
		s.logger.Error("ledger write failed", "count", len(ops), "error", err)
	}
	for _, op := range ops {
		if op.result != nil {
			op.result <- err
			close(op.result)
		}
	}
}

func (s *Sink) insertBatch(ops []WriteOp) error {
	tx, err := s.store.db.BeginTx(s.ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, op := range ops {
		if len(op.Columns) != len(op.Values) {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %d columns for %d values", op.Table, len(op.Columns), len(op.Values))
		}
		if _, err := tx.ExecContext(s.ctx, s.store.Rebind(insertSQL(op)), op.Values...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert into %s: %w", op.Table, err)
		}
	}
	return tx.Commit()
}

func insertSQL(op WriteOp) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(op.Columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", op.Table, strings.Join(op.Columns, ", "), marks)
}
