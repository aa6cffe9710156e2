package postgres

import (
	"context"

	"xrpl-token-watch/internal/storage"
)

// WatermarkStore is a PostgreSQL implementation of storage.WatermarkStore
// backed by the ledger_watermarks table.
type WatermarkStore struct {
	pool *Pool
}

// NewWatermarkStore creates a new PostgreSQL watermark store.
func NewWatermarkStore(pool *Pool) *WatermarkStore {
	return &WatermarkStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WatermarkStore = (*WatermarkStore)(nil)

// HighestProcessed returns the highest ledger index marked processed.
// Returns storage.ErrNotFound when no ledger has been processed yet.
func (s *WatermarkStore) HighestProcessed(ctx context.Context) (int64, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT MAX(ledger_index)
		FROM ledger_watermarks
		WHERE processed
	`)

	var max *int64
	if err := row.Scan(&max); err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, err
	}
	if max == nil {
		return 0, storage.ErrNotFound
	}
	return *max, nil
}

// MarkProcessed marks a ledger index processed. Upsert by primary key, so
// marking the same index twice is a no-op. Processed is never reverted.
func (s *WatermarkStore) MarkProcessed(ctx context.Context, index int64) error {
	if index < 0 {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_watermarks (ledger_index, processed, updated_at)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (ledger_index) DO UPDATE
		SET processed = TRUE,
		    updated_at = NOW()
	`, index)

	return err
}
