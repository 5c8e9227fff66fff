package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/audiopanel/internal/envelope"
	"github.com/rickgao/audiopanel/internal/router"
)

// StateWriter consumes frames from the global channel and writes the
// latest payload per (channel, type) to a Store.
type StateWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the transport's global subscription
	input *router.Queue[Record]

	store Store
	now   func() time.Time

	// Batching: newest record per key
	batch       map[recordKey]Record
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
	dropped atomic.Int64
}

// NewStateWriter creates a new StateWriter.
func NewStateWriter(cfg WriterConfig, store Store, logger *slog.Logger) *StateWriter {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}

	w := &StateWriter{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
		batch:  make(map[recordKey]Record, cfg.BatchSize),
	}
	w.input = router.NewBoundedQueue[Record](64, cfg.BufferSize, func(Record) {
		w.dropped.Add(1)
	})
	return w
}

// Handler returns the transport handler to register on the global channel.
func (w *StateWriter) Handler() router.Handler {
	return func(raw json.RawMessage) error {
		frame, err := envelope.Decode(raw)
		if err != nil {
			return fmt.Errorf("state writer: %w", err)
		}
		return w.Observe(frame)
	}
}

// Observe queues frame for persistence. Frames without a type carry no
// state and are ignored.
func (w *StateWriter) Observe(frame envelope.Frame) error {
	typ := frame.Type()
	if typ == "" {
		return nil
	}

	payload, err := frame.Payload()
	if err != nil {
		return err
	}

	rec := Record{
		Channel:   frame.Route(),
		Type:      typ,
		Payload:   payload,
		UpdatedAt: w.now().UTC(),
	}
	if !w.input.Push(rec) {
		return ErrWriterStopped
	}
	return nil
}

// Start begins consuming updates and writing to the store.
func (w *StateWriter) Start(ctx context.Context) error {
	if err := w.store.Init(ctx); err != nil {
		return fmt.Errorf("init state store: %w", err)
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("state writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"buffer_size", w.cfg.BufferSize,
	)
	return nil
}

// Stop drains queued updates, performs a final flush bounded by ctx, and
// closes the store.
func (w *StateWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping state writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("state writer stop timed out")
	}

	// Final flush
	w.flush(ctx)

	w.logger.Info("state writer stopped", "upserts", w.Stats().Upserts)
	return w.store.Close()
}

// Latest returns the persisted last-known state.
func (w *StateWriter) Latest(ctx context.Context) ([]Record, error) {
	return w.store.Latest(ctx)
}

// Stats returns current metrics.
func (w *StateWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	m := w.metrics
	m.Dropped = w.dropped.Load()
	return m
}

// consumeLoop reads from the input queue until it is closed and drained.
func (w *StateWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		rec, ok := w.input.Receive()
		if !ok {
			return
		}
		w.handleRecord(rec)
	}
}

// flushLoop periodically flushes the batch.
func (w *StateWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleRecord adds a record to the batch, replacing any older one for
// the same key.
func (w *StateWriter) handleRecord(rec Record) {
	w.batchMu.Lock()
	w.batch[rec.key()] = rec
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// flush writes the current batch to the store. On failure the rows are
// merged back so the next flush retries them.
func (w *StateWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	rows := make([]Record, 0, len(w.batch))
	for _, rec := range w.batch {
		rows = append(rows, rec)
	}
	w.batch = make(map[recordKey]Record, w.cfg.BatchSize)
	w.batchMu.Unlock()

	sortRecords(rows)
	start := time.Now()

	stale, err := w.store.Upsert(ctx, rows)
	if err != nil {
		w.logger.Error("state upsert failed", "error", err, "count", len(rows))
		w.batchMu.Lock()
		w.metrics.Errors++
		for _, rec := range rows {
			if _, newer := w.batch[rec.key()]; !newer {
				w.batch[rec.key()] = rec
			}
		}
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Upserts += int64(len(rows) - stale)
	w.metrics.Stale += int64(stale)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed channel state",
		"count", len(rows),
		"stale", stale,
		"duration", time.Since(start),
	)
}

func sortRecords(rows []Record) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Channel != rows[j].Channel {
			return rows[i].Channel < rows[j].Channel
		}
		return rows[i].Type < rows[j].Type
	})
}
