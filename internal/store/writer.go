package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// OpType represents the type of write operation.
type OpType string

const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// WriteOp is a single queued write against the store.
type WriteOp struct {
	Table string         // target table
	RowID string         // for updates/deletes (empty for inserts)
	Patch map[string]any // column values
	Op    OpType

	result chan<- WriteResult // set by SendSync
}

// WriteResult is the outcome of a write operation.
type WriteResult struct {
	Row Row   // updated/inserted row, when the store returned one
	Err error // error if the operation failed
}

// WriterConfig configures the async writer.
type WriterConfig struct {
	Client        *Client
	FlushInterval time.Duration // drain cadence when idle (default: 1s)
	QueueSize     int           // buffer size (default: 256)
	Logger        *slog.Logger
}

// Writer serializes asynchronous writes to the store. Operations are
// applied in arrival order per writer, which is what makes last-write-wins
// edits safe to debounce: the most recent queued patch for a row is also
// the last one the store sees.
type Writer struct {
	client *Client
	logger *slog.Logger

	flushInterval time.Duration

	queue   chan WriteOp
	flushCh chan chan struct{}

	// mu orders queue submission against Stop: senders hold the read
	// lock across the send, Stop closes the queue under the write lock.
	mu     sync.RWMutex
	closed bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWriter creates a new async writer.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Writer{
		client:        cfg.Client,
		logger:        cfg.Logger,
		flushInterval: cfg.FlushInterval,
		queue:         make(chan WriteOp, cfg.QueueSize),
		flushCh:       make(chan chan struct{}, 1),
	}
}

// Start begins processing queued operations.
func (w *Writer) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run()
}

// Stop drains the queue and shuts the writer down.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("stopping store writer, draining queue")
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
		w.wg.Wait()
		w.cancel()
		w.logger.Info("store writer stopped")
	})
}

// Send queues a write operation (fire-and-forget).
func (w *Writer) Send(op WriteOp) {
	op.result = nil

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.logger.Warn("writer closed, dropping write op", "table", op.Table, "op", op.Op)
		return
	}

	select {
	case w.queue <- op:
	case <-w.ctx.Done():
		w.logger.Warn("writer closed, dropping write op", "table", op.Table, "op", op.Op)
	}
}

// SendSync queues a write operation and waits for its result.
func (w *Writer) SendSync(ctx context.Context, op WriteOp) (WriteResult, error) {
	resultCh := make(chan WriteResult, 1)
	op.result = resultCh

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return WriteResult{}, ErrWriterClosed
	}

	select {
	case w.queue <- op:
		w.mu.RUnlock()
	case <-w.ctx.Done():
		w.mu.RUnlock()
		return WriteResult{}, ErrWriterClosed
	case <-ctx.Done():
		w.mu.RUnlock()
		return WriteResult{}, ctx.Err()
	}

	select {
	case result := <-resultCh:
		return result, result.Err
	case <-w.ctx.Done():
		return WriteResult{}, ErrWriterClosed
	case <-ctx.Done():
		return WriteResult{}, ctx.Err()
	}
}

// Flush blocks until every operation queued before the call has been applied.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWriterClosed
	}
	w.mu.RUnlock()

	done := make(chan struct{})
	select {
	case w.flushCh <- done:
	case <-w.ctx.Done():
		return ErrWriterClosed
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

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case op, ok := <-w.queue:
			if !ok {
				return
			}
			w.apply(op)

		case <-ticker.C:
			// Idle tick; nothing buffered between ops.

		case done := <-w.flushCh:
			w.drain()
			close(done)
		}
	}
}

// drain applies every op currently in the queue.
func (w *Writer) drain() {
	for {
		select {
		case op, ok := <-w.queue:
			if !ok {
				return
			}
			w.apply(op)
		default:
			return
		}
	}
}

func (w *Writer) apply(op WriteOp) {
	var result WriteResult

	switch op.Op {
	case OpInsert:
		result.Row, result.Err = w.client.InsertRow(w.ctx, op.Table, op.Patch)
	case OpUpdate:
		result.Row, result.Err = w.client.UpdateRow(w.ctx, op.Table, op.RowID, op.Patch)
	case OpDelete:
		result.Err = w.client.DeleteRow(w.ctx, op.Table, op.RowID)
	}

	if result.Err != nil {
		w.logger.Error("write failed",
			"table", op.Table,
			"row_id", op.RowID,
			"op", op.Op,
			"error", result.Err)
	}

	if op.result != nil {
		op.result <- result
		close(op.result)
	}
}
