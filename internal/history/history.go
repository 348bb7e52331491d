// Package history keeps the capacity-bounded rolling window of price samples
// that the alert engine derives its extremes from.
package history

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"gold-price-alerts/internal/storage"
)

// DefaultCapacity holds 24h of samples at a 30 minute cadence.
const DefaultCapacity = 48

// ErrNotFound is returned by a Backend when nothing has been persisted yet.
// It is the same sentinel the SQL repositories return.
var ErrNotFound = storage.ErrNoHistory

// Window is an ordered, oldest-first sequence of samples.
type Window []storage.PriceSample

// Append returns a new window holding w plus sample, trimmed to the most
// recent capacity samples. w itself is left untouched.
func (w Window) Append(sample storage.PriceSample, capacity int) Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	combined := make(Window, 0, len(w)+1)
	combined = append(combined, w...)
	combined = append(combined, sample)
	return combined.Truncate(capacity)
}

// Truncate keeps the most recent capacity samples, copying so the result never aliases w.
func (w Window) Truncate(capacity int) Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	start := 0
	if len(w) > capacity {
		start = len(w) - capacity
	}
	out := make(Window, len(w)-start)
	copy(out, w[start:])
	return out
}

// Last returns the newest sample.
func (w Window) Last() (storage.PriceSample, bool) {
	if len(w) == 0 {
		return storage.PriceSample{}, false
	}
	return w[len(w)-1], true
}

// Backend persists a whole window. Write replaces whatever was stored before.
type Backend interface {
	Read(ctx context.Context) ([]storage.PriceSample, error)
	Write(ctx context.Context, samples []storage.PriceSample) error
}

// Store wraps a Backend with retention and the fail-soft load/save policy.
type Store struct {
	backend  Backend
	capacity int
	logger   zerolog.Logger
}

// NewStore builds a Store. A non-positive capacity falls back to DefaultCapacity.
func NewStore(backend Backend, capacity int, logger zerolog.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		backend:  backend,
		capacity: capacity,
		logger:   logger.With().Str("component", "history").Logger(),
	}
}

// Capacity reports the retention limit.
func (s *Store) Capacity() int {
	return s.capacity
}

// Load reads the persisted window. Missing or unreadable state yields an empty window.
func (s *Store) Load(ctx context.Context) Window {
	samples, err := s.backend.Read(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn().Msg("no persisted history, starting with an empty window")
		} else {
			s.logger.Warn().Err(err).Msg("failed to load history, starting with an empty window")
		}
		return Window{}
	}

	window := Window(samples).Truncate(s.capacity)
	s.logger.Debug().Int("samples", len(window)).Msg("history loaded")
	return window
}

// Append adds sample to w under the store's capacity.
func (s *Store) Append(w Window, sample storage.PriceSample) Window {
	return w.Append(sample, s.capacity)
}

// Save persists w (truncated to capacity). Failures are logged here; the
// returned error is informational and callers on the tick path ignore it.
func (s *Store) Save(ctx context.Context, w Window) error {
	window := w.Truncate(s.capacity)
	if err := s.backend.Write(ctx, window); err != nil {
		s.logger.Error().Err(err).Int("samples", len(window)).Msg("failed to save history")
		return err
	}
	s.logger.Info().Int("samples", len(window)).Msg("history saved")
	return nil
}
