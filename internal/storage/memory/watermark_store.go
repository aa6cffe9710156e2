package memory

import (
	"context"
	"sync"

	"xrpl-token-watch/internal/storage"
)

// WatermarkStore is an in-memory implementation of storage.WatermarkStore.
type WatermarkStore struct {
	mu        sync.RWMutex
	processed map[int64]bool

	// FailWrites makes MarkProcessed return ErrWriteFailed while set,
	// for exercising the retry-queue path in tests.
	FailWrites bool
}

// NewWatermarkStore creates a new in-memory watermark store.
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{processed: make(map[int64]bool)}
}

// Compile-time interface check.
var _ storage.WatermarkStore = (*WatermarkStore)(nil)

// HighestProcessed returns the highest index marked processed.
func (s *WatermarkStore) HighestProcessed(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.processed) == 0 {
		return 0, storage.ErrNotFound
	}

	var max int64
	first := true
	for idx := range s.processed {
		if first || idx > max {
			max = idx
			first = false
		}
	}
	return max, nil
}

// MarkProcessed marks an index processed. Idempotent.
func (s *WatermarkStore) MarkProcessed(_ context.Context, index int64) error {
	if index < 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return ErrWriteFailed
	}
	s.processed[index] = true
	return nil
}

// Has reports whether an index has been marked processed.
func (s *WatermarkStore) Has(index int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processed[index]
}

// SetFailWrites toggles injected write failures.
func (s *WatermarkStore) SetFailWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailWrites = fail
}
