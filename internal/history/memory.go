package history

import (
	"context"
	"sync"

	"gold-price-alerts/internal/storage"
)

// MemoryBackend keeps the window in process memory. Used by dry runs and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	samples []storage.PriceSample
	written bool
}

// NewMemoryBackend seeds the backend with samples (copied).
func NewMemoryBackend(samples ...storage.PriceSample) *MemoryBackend {
	m := &MemoryBackend{}
	if len(samples) > 0 {
		m.samples = append([]storage.PriceSample(nil), samples...)
		m.written = true
	}
	return m
}

// Read returns a copy of the stored samples or ErrNotFound before the first write.
func (m *MemoryBackend) Read(_ context.Context) ([]storage.PriceSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.written {
		return nil, ErrNotFound
	}
	return append([]storage.PriceSample(nil), m.samples...), nil
}

// Write replaces the stored samples.
func (m *MemoryBackend) Write(_ context.Context, samples []storage.PriceSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append([]storage.PriceSample(nil), samples...)
	m.written = true
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
