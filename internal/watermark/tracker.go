// Package watermark tracks the highest fully processed ledger and absorbs
// transient store write failures behind a bounded retry queue.
package watermark

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"xrpl-token-watch/internal/observability"
	"xrpl-token-watch/internal/storage"
)

const (
	// DefaultFlushInterval is how often queued writes are retried.
	DefaultFlushInterval = 30 * time.Second

	// DefaultQueueCap bounds the retry queue; the oldest entry is dropped
	// on overflow. Dropped writes are re-derived by catch-up on restart,
	// so a drop widens the replay window rather than losing data.
	DefaultQueueCap = 4096
)

// Tracker wraps a storage.WatermarkStore with the genesis default and the
// write retry queue. MarkProcessed never surfaces store errors to callers:
// classification is idempotent and catch-up re-derives any gap.
type Tracker struct {
	store   storage.WatermarkStore
	genesis int64
	logger  *log.Logger
	obs     *observability.Metrics

	flushInterval time.Duration
	queueCap      int

	mu    sync.Mutex
	queue []int64
}

// Options configures a Tracker.
type Options struct {
	// Genesis is returned by HighestProcessed when the store is empty.
	Genesis int64
	// FlushInterval overrides DefaultFlushInterval.
	FlushInterval time.Duration
	// QueueCap overrides DefaultQueueCap.
	QueueCap int
	Logger   *log.Logger
	Metrics  *observability.Metrics
}

// NewTracker creates a Tracker over a watermark store.
func NewTracker(store storage.WatermarkStore, opts Options) *Tracker {
	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = DefaultFlushInterval
	}
	queueCap := opts.QueueCap
	if queueCap == 0 {
		queueCap = DefaultQueueCap
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Tracker{
		store:         store,
		genesis:       opts.Genesis,
		logger:        logger,
		obs:           opts.Metrics,
		flushInterval: flushInterval,
		queueCap:      queueCap,
	}
}

// HighestProcessed returns the highest index marked processed, or the
// configured genesis default when the store is empty.
func (t *Tracker) HighestProcessed(ctx context.Context) (int64, error) {
	highest, err := t.store.HighestProcessed(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return t.genesis, nil
		}
		return 0, err
	}
	return highest, nil
}

// MarkProcessed marks an index processed. On store failure the index is
// queued for a later flush and a warning is logged; the caller never sees
// the error.
func (t *Tracker) MarkProcessed(ctx context.Context, index int64) {
	if err := t.store.MarkProcessed(ctx, index); err != nil {
		t.logger.Printf("watermark write failed for ledger %d, queuing: %v", index, err)
		t.enqueue(index)
	}
}

func (t *Tracker) enqueue(index int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.queue) >= t.queueCap {
		// Drop the oldest entry. Catch-up covers the hole.
		t.queue = t.queue[1:]
		if t.obs != nil {
			t.obs.WatermarkWritesDropped.Inc()
		}
	}
	t.queue = append(t.queue, index)
	if t.obs != nil {
		t.obs.WatermarkQueueSize.Set(float64(len(t.queue)))
	}
}

// QueueLen returns the current retry queue depth.
func (t *Tracker) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Flush retries every queued write once. Indexes that fail again stay
// queued. Returns the number of writes that succeeded.
func (t *Tracker) Flush(ctx context.Context) int {
	t.mu.Lock()
	pending := t.queue
	t.queue = nil
	t.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}

	flushed := 0
	var failed []int64
	for _, index := range pending {
		if err := t.store.MarkProcessed(ctx, index); err != nil {
			failed = append(failed, index)
			continue
		}
		flushed++
	}

	if len(failed) > 0 {
		t.mu.Lock()
		t.queue = append(failed, t.queue...)
		t.mu.Unlock()
	}

	t.mu.Lock()
	depth := len(t.queue)
	t.mu.Unlock()
	if t.obs != nil {
		t.obs.WatermarkQueueSize.Set(float64(depth))
	}
	if flushed > 0 {
		t.logger.Printf("watermark flush: %d queued writes persisted, %d still pending", flushed, depth)
	}
	return flushed
}

// Run flushes the retry queue on the configured interval until the context
// is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Flush(ctx)
		}
	}
}
