// Package memory provides in-memory store implementations, used by tests
// and by --use-memory mode.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"xrpl-token-watch/internal/domain"
	"xrpl-token-watch/internal/storage"
)

// ErrWriteFailed is the injected failure returned by stores with
// FailWrites set.
var ErrWriteFailed = errors.New("memory: injected write failure")

// MetricSampleStore is an in-memory implementation of storage.MetricSampleStore.
type MetricSampleStore struct {
	mu      sync.RWMutex
	samples []domain.MetricSample

	// FailWrites makes Insert return ErrWriteFailed while set.
	FailWrites bool
}

// NewMetricSampleStore creates a new in-memory metric sample store.
func NewMetricSampleStore() *MetricSampleStore {
	return &MetricSampleStore{}
}

// Compile-time interface check.
var _ storage.MetricSampleStore = (*MetricSampleStore)(nil)

// Insert appends one sample.
func (s *MetricSampleStore) Insert(_ context.Context, sample *domain.MetricSample) error {
	if sample == nil || sample.Category == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return ErrWriteFailed
	}
	s.samples = append(s.samples, *sample)
	return nil
}

// StatsSince aggregates samples with timestamp >= since, grouped by category.
func (s *MetricSampleStore) StatsSince(_ context.Context, since time.Time) ([]domain.CategoryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byCategory := make(map[string]*domain.CategoryStats)
	successes := make(map[string]int64)

	for _, sample := range s.samples {
		if sample.Timestamp.Before(since) {
			continue
		}

		st, ok := byCategory[sample.Category]
		if !ok {
			st = &domain.CategoryStats{
				Category:   sample.Category,
				MinLatency: sample.Latency,
				MaxLatency: sample.Latency,
			}
			byCategory[sample.Category] = st
		}

		st.Count++
		st.AvgLatency += sample.Latency // running sum, divided below
		if sample.Latency < st.MinLatency {
			st.MinLatency = sample.Latency
		}
		if sample.Latency > st.MaxLatency {
			st.MaxLatency = sample.Latency
		}
		if sample.Success {
			successes[sample.Category]++
		}
	}

	stats := make([]domain.CategoryStats, 0, len(byCategory))
	for category, st := range byCategory {
		st.AvgLatency /= float64(st.Count)
		st.SuccessRate = float64(successes[category]) / float64(st.Count) * 100
		stats = append(stats, *st)
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Category < stats[j].Category })
	return stats, nil
}

// Len returns the number of stored samples.
func (s *MetricSampleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Samples returns a copy of all stored samples.
func (s *MetricSampleStore) Samples() []domain.MetricSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MetricSample, len(s.samples))
	copy(out, s.samples)
	return out
}

// SetFailWrites toggles injected write failures.
func (s *MetricSampleStore) SetFailWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailWrites = fail
}
