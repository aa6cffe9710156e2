// Package perf records operation latency samples and answers rolling-window
// aggregate queries over them.
package perf

import (
	"context"
	"log"
	"sync"
	"time"

	"xrpl-token-watch/internal/domain"
	"xrpl-token-watch/internal/observability"
	"xrpl-token-watch/internal/storage"
)

const (
	// DefaultStatsWindow is the trailing window for summaries.
	DefaultStatsWindow = 5 * time.Minute

	// DefaultLogInterval is how often the summary is logged.
	DefaultLogInterval = 300 * time.Second

	// DefaultFlushInterval is how often queued samples are retried.
	DefaultFlushInterval = 30 * time.Second

	// DefaultQueueCap bounds the pending-sample queue; the oldest sample
	// is dropped on overflow. Metrics are advisory, losing a sample under
	// sustained store outage is acceptable.
	DefaultQueueCap = 4096
)

// Tracker appends latency samples to a MetricSampleStore. Store write
// failures are queued in memory and retried; Record never fails the caller.
type Tracker struct {
	store  storage.MetricSampleStore
	logger *log.Logger
	obs    *observability.Metrics

	statsWindow   time.Duration
	logInterval   time.Duration
	flushInterval time.Duration
	queueCap      int

	mu      sync.Mutex
	pending []domain.MetricSample
}

// Options configures a Tracker.
type Options struct {
	StatsWindow   time.Duration
	LogInterval   time.Duration
	FlushInterval time.Duration
	QueueCap      int
	Logger        *log.Logger
	Metrics       *observability.Metrics
}

// NewTracker creates a Tracker over a metric sample store.
func NewTracker(store storage.MetricSampleStore, opts Options) *Tracker {
	statsWindow := opts.StatsWindow
	if statsWindow == 0 {
		statsWindow = DefaultStatsWindow
	}
	logInterval := opts.LogInterval
	if logInterval == 0 {
		logInterval = DefaultLogInterval
	}
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
		logger:        logger,
		obs:           opts.Metrics,
		statsWindow:   statsWindow,
		logInterval:   logInterval,
		flushInterval: flushInterval,
		queueCap:      queueCap,
	}
}

// Record computes elapsed latency since start and appends a sample. A store
// write failure queues the sample for a later flush and logs a warning.
func (t *Tracker) Record(ctx context.Context, category string, start time.Time, node string, success bool) {
	sample := domain.MetricSample{
		Category:  category,
		Timestamp: time.Now(),
		Latency:   time.Since(start).Seconds(),
		Node:      node,
		Success:   success,
	}

	if err := t.store.Insert(ctx, &sample); err != nil {
		t.logger.Printf("metric write failed, queuing: %v", err)
		t.enqueue(sample)
		return
	}
	t.logger.Printf("%s - Latency: %.3fs, Node: %s, Success: %t",
		category, sample.Latency, node, success)
}

func (t *Tracker) enqueue(sample domain.MetricSample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) >= t.queueCap {
		t.pending = t.pending[1:]
		if t.obs != nil {
			t.obs.SampleWritesDropped.Inc()
		}
	}
	t.pending = append(t.pending, sample)
	if t.obs != nil {
		t.obs.SampleQueueSize.Set(float64(len(t.pending)))
	}
}

// PendingLen returns the current pending-sample queue depth.
func (t *Tracker) PendingLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Flush retries every queued sample once. Samples that fail again stay
// queued. Returns the number of samples persisted.
func (t *Tracker) Flush(ctx context.Context) int {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}

	flushed := 0
	var failed []domain.MetricSample
	for i := range pending {
		if err := t.store.Insert(ctx, &pending[i]); err != nil {
			failed = append(failed, pending[i])
			continue
		}
		flushed++
	}

	if len(failed) > 0 {
		t.mu.Lock()
		t.pending = append(failed, t.pending...)
		t.mu.Unlock()
	}

	t.mu.Lock()
	depth := len(t.pending)
	t.mu.Unlock()
	if t.obs != nil {
		t.obs.SampleQueueSize.Set(float64(depth))
	}
	return flushed
}

// StatsWindow returns per-category aggregates over the trailing window.
func (t *Tracker) StatsWindow(ctx context.Context, window time.Duration) ([]domain.CategoryStats, error) {
	return t.store.StatsSince(ctx, time.Now().Add(-window))
}

// Stats returns aggregates over the default trailing window.
func (t *Tracker) Stats(ctx context.Context) ([]domain.CategoryStats, error) {
	return t.StatsWindow(ctx, t.statsWindow)
}

// LogStats logs the trailing-window summary.
func (t *Tracker) LogStats(ctx context.Context) {
	stats, err := t.Stats(ctx)
	if err != nil {
		t.logger.Printf("failed to compute stats: %v", err)
		return
	}

	t.logger.Printf("Performance Stats (Last %v):", t.statsWindow)
	for _, st := range stats {
		t.logger.Printf("%s: Count=%d, Avg Latency=%.3fs, Min=%.3fs, Max=%.3fs, Success Rate=%.1f%%",
			st.Category, st.Count, st.AvgLatency, st.MinLatency, st.MaxLatency, st.SuccessRate)
	}
}

// Run flushes queued samples and periodically logs the trailing-window
// summary until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	flushTicker := time.NewTicker(t.flushInterval)
	defer flushTicker.Stop()
	logTicker := time.NewTicker(t.logInterval)
	defer logTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-flushTicker.C:
			t.Flush(ctx)
		case <-logTicker.C:
			t.LogStats(ctx)
		}
	}
}
