package history

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gold-price-alerts/internal/storage"
)

var baseTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func sampleAt(i int, price string) storage.PriceSample {
	return storage.PriceSample{
		Price:     decimal.RequireFromString(price),
		Source:    "test",
		Timestamp: baseTime.Add(time.Duration(i) * 30 * time.Minute),
	}
}

func TestAppendRetainsMostRecentSamples(t *testing.T) {
	store := NewStore(NewMemoryBackend(), 48, zerolog.Nop())

	window := Window{}
	for i := 1; i <= 50; i++ {
		window = store.Append(window, sampleAt(i, decimal.NewFromInt(int64(400+i)).String()))
	}

	require.Len(t, window, 48)
	for i, s := range window {
		assert.Equal(t, baseTime.Add(time.Duration(i+3)*30*time.Minute), s.Timestamp, "index %d", i)
	}
	assert.True(t, window[0].Price.Equal(decimal.NewFromInt(403)))
	assert.True(t, window[47].Price.Equal(decimal.NewFromInt(450)))
}

func TestAppendDoesNotAliasInput(t *testing.T) {
	original := Window{sampleAt(0, "400"), sampleAt(1, "401")}
	grown := original.Append(sampleAt(2, "402"), 2)

	require.Len(t, grown, 2)
	assert.True(t, original[0].Price.Equal(decimal.NewFromInt(400)))
	assert.True(t, grown[0].Price.Equal(decimal.NewFromInt(401)))

	grown[0].Source = "mutated"
	assert.Equal(t, "test", original[1].Source)
}

func TestAppendDefaultsCapacity(t *testing.T) {
	window := Window{}
	for i := 0; i < DefaultCapacity+5; i++ {
		window = window.Append(sampleAt(i, "1"), 0)
	}
	assert.Len(t, window, DefaultCapacity)
}

func TestLoadMissingReturnsEmpty(t *testing.T) {
	var logs bytes.Buffer
	store := NewStore(NewFileBackend(filepath.Join(t.TempDir(), "missing.json")), 48, zerolog.New(&logs))
	window := store.Load(context.Background())
	assert.NotNil(t, window)
	assert.Empty(t, window)
	assert.Contains(t, logs.String(), `"level":"warn"`)
	assert.Contains(t, logs.String(), "no persisted history")
}

func TestLoadCorruptReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewStore(NewFileBackend(path), 48, zerolog.Nop())
	assert.Empty(t, store.Load(context.Background()))
}

func TestLoadTruncatesOversizedState(t *testing.T) {
	samples := make([]storage.PriceSample, 0, 10)
	for i := 0; i < 10; i++ {
		samples = append(samples, sampleAt(i, "400"))
	}
	store := NewStore(NewMemoryBackend(samples...), 4, zerolog.Nop())

	window := store.Load(context.Background())
	require.Len(t, window, 4)
	assert.Equal(t, samples[6].Timestamp, window[0].Timestamp)
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")
	store := NewStore(NewFileBackend(path), 3, zerolog.Nop())
	ctx := context.Background()

	window := Window{sampleAt(0, "385.50"), sampleAt(1, "382.00"), sampleAt(2, "380.20"), sampleAt(3, "381.10")}
	require.NoError(t, store.Save(ctx, window))

	loaded := store.Load(ctx)
	require.Len(t, loaded, 3)
	assert.True(t, loaded[0].Price.Equal(decimal.RequireFromString("382")))
	assert.True(t, loaded[2].Price.Equal(decimal.RequireFromString("381.1")))
	assert.Equal(t, window[3].Timestamp, loaded[2].Timestamp)
	assert.Equal(t, "test", loaded[2].Source)
}

func TestFileReadsLegacyLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "price_history.json")
	legacy := `[
  {"price": 612.35, "source": "gold-api", "timestamp": "2025-03-01T08:00:00.123456"},
  {"price": 610.1, "source": "metals.dev", "timestamp": "2025-03-01T08:30:00+08:00"}
]`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	samples, err := NewFileBackend(path).Read(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.True(t, samples[0].Price.Equal(decimal.RequireFromString("612.35")))
	assert.Equal(t, time.Date(2025, 3, 1, 8, 0, 0, 123456000, time.UTC), samples[0].Timestamp)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 30, 0, 0, time.UTC), samples[1].Timestamp)
	assert.Equal(t, "metals.dev", samples[1].Source)
}

func TestFileReadMissingIsNotFound(t *testing.T) {
	_, err := NewFileBackend(filepath.Join(t.TempDir(), "nope.json")).Read(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingBackend struct{}

func (failingBackend) Read(context.Context) ([]storage.PriceSample, error) {
	return nil, errors.New("disk on fire")
}

func (failingBackend) Write(context.Context, []storage.PriceSample) error {
	return errors.New("disk on fire")
}

func TestSaveFailureIsReportedNotPanicked(t *testing.T) {
	store := NewStore(failingBackend{}, 48, zerolog.Nop())
	err := store.Save(context.Background(), Window{sampleAt(0, "1")})
	assert.Error(t, err)
	assert.Empty(t, store.Load(context.Background()))
}

func TestLastSample(t *testing.T) {
	_, ok := Window{}.Last()
	assert.False(t, ok)

	last, ok := Window{sampleAt(0, "1"), sampleAt(1, "2")}.Last()
	require.True(t, ok)
	assert.True(t, last.Price.Equal(decimal.NewFromInt(2)))
}
