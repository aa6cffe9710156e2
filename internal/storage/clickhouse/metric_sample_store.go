package clickhouse

import (
	"context"
	"fmt"
	"time"

	"xrpl-token-watch/internal/domain"
	"xrpl-token-watch/internal/storage"
)

// MetricSampleStore implements storage.MetricSampleStore using ClickHouse.
// Samples are append-only; aggregation happens server-side.
type MetricSampleStore struct {
	conn *Conn
}

// NewMetricSampleStore creates a new MetricSampleStore.
func NewMetricSampleStore(conn *Conn) *MetricSampleStore {
	return &MetricSampleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.MetricSampleStore = (*MetricSampleStore)(nil)

// Insert appends one sample.
func (s *MetricSampleStore) Insert(ctx context.Context, sample *domain.MetricSample) error {
	if sample == nil || sample.Category == "" {
		return storage.ErrInvalidInput
	}

	err := s.conn.Exec(ctx, `
		INSERT INTO metric_samples (category, ts, latency_seconds, node, success)
		VALUES (?, ?, ?, ?, ?)
	`, sample.Category, sample.Timestamp, sample.Latency, sample.Node, sample.Success)
	if err != nil {
		return fmt.Errorf("insert metric sample: %w", err)
	}

	return nil
}

// StatsSince aggregates samples with ts >= since, grouped by category.
func (s *MetricSampleStore) StatsSince(ctx context.Context, since time.Time) ([]domain.CategoryStats, error) {
	query := `
		SELECT
			category,
			count()                            AS cnt,
			avg(latency_seconds)               AS avg_latency,
			min(latency_seconds)               AS min_latency,
			max(latency_seconds)               AS max_latency,
			countIf(success) / count() * 100   AS success_rate
		FROM metric_samples
		WHERE ts >= ?
		GROUP BY category
		ORDER BY category
	`

	rows, err := s.conn.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.CategoryStats
	for rows.Next() {
		var st domain.CategoryStats
		var count uint64
		err := rows.Scan(&st.Category, &count, &st.AvgLatency, &st.MinLatency, &st.MaxLatency, &st.SuccessRate)
		if err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		st.Count = int64(count)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats rows: %w", err)
	}

	return stats, nil
}
