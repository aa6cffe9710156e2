// Package storage defines the persistence interfaces for the ledger
// watermark and metric samples, with PostgreSQL, ClickHouse, and in-memory
// implementations in subpackages.
package storage

import (
	"context"
	"time"

	"xrpl-token-watch/internal/domain"
)

// WatermarkStore persists, per ledger sequence number, whether it has been
// fully processed. Once processed, an index is never reverted.
type WatermarkStore interface {
	// HighestProcessed returns the highest index marked processed.
	// Returns ErrNotFound when the store is empty.
	HighestProcessed(ctx context.Context) (int64, error)

	// MarkProcessed marks an index processed. Idempotent upsert: marking
	// the same index twice is a no-op in effect.
	MarkProcessed(ctx context.Context, index int64) error
}

// MetricSampleStore is the append-only store for operation latency samples.
type MetricSampleStore interface {
	// Insert appends one sample.
	Insert(ctx context.Context, s *domain.MetricSample) error

	// StatsSince aggregates samples with timestamp >= since, grouped by
	// category, ordered by category for deterministic output.
	StatsSince(ctx context.Context, since time.Time) ([]domain.CategoryStats, error)
}
