package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSamples(prices ...string) []PriceSample {
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	out := make([]PriceSample, 0, len(prices))
	for i, p := range prices {
		out = append(out, PriceSample{
			Price:     decimal.RequireFromString(p),
			Source:    "gold-api",
			Timestamp: base.Add(time.Duration(i) * 30 * time.Minute),
		})
	}
	return out
}

func TestSQLiteHistoryMissing(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.LoadHistory(context.Background(), "AU9999")
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestSQLiteHistoryReplace(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceHistory(ctx, "AU9999", testSamples("385.50", "382.00", "380.20")))
	require.NoError(t, s.ReplaceHistory(ctx, "AGTD", testSamples("7.1")))
	require.NoError(t, s.ReplaceHistory(ctx, "AU9999", testSamples("382.00", "380.20", "381.75")))

	got, err := s.LoadHistory(ctx, "AU9999")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Price.Equal(decimal.RequireFromString("382")))
	assert.True(t, got[2].Price.Equal(decimal.RequireFromString("381.75")))
	assert.Equal(t, "gold-api", got[2].Source)
	assert.Equal(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), got[2].Timestamp)

	other, err := s.LoadHistory(ctx, "AGTD")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestSQLiteProductHistoryBackend(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	backend := NewProductHistory(s, "AU9999")

	_, err := backend.Read(ctx)
	assert.ErrorIs(t, err, ErrNoHistory)

	require.NoError(t, backend.Write(ctx, testSamples("400")))
	got, err := backend.Read(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestSQLiteFileSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "goldwatch.db")
	ctx := context.Background()

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.ReplaceHistory(ctx, "AU9999", testSamples("400", "401")))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.LoadHistory(ctx, "AU9999")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSQLiteAlerts(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	decided := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := AlertRecord{
		ID:           "a-1",
		ProductID:    "AU9999",
		Level:        "high",
		CurrentPrice: decimal.RequireFromString("379"),
		HighestPrice: decimal.RequireFromString("400"),
		LowestPrice:  decimal.RequireFromString("400"),
		DropPct:      decimal.RequireFromString("5.25"),
		ThresholdPct: decimal.RequireFromString("5"),
		Reasons:      []string{"current price is the rolling-window low"},
		Channels:     []string{"email"},
		DecidedAt:    decided,
	}
	stored, err := s.InsertAlert(ctx, rec)
	require.NoError(t, err)
	assert.False(t, stored.CreatedAt.IsZero())

	rec.Channels = []string{"email", "telegram"}
	_, err = s.InsertAlert(ctx, rec)
	require.NoError(t, err)

	alerts, err := s.ListRecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "AU9999", alerts[0].ProductID)
	assert.Equal(t, []string{"email", "telegram"}, alerts[0].Channels)
	assert.True(t, alerts[0].DropPct.Equal(decimal.RequireFromString("5.25")))
	assert.Equal(t, decided, alerts[0].DecidedAt)

	require.NoError(t, s.DeleteAlertsBefore(ctx, time.Now().Add(time.Hour)))
	alerts, err = s.ListRecentAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestMigrationStatements(t *testing.T) {
	assert.NotEmpty(t, migrationStatements("sqlite"))
	assert.NotEmpty(t, migrationStatements("postgres"))
	assert.Empty(t, migrationStatements("oracle"))
}
