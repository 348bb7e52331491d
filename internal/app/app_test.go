package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gold-price-alerts/internal/clock"
	"gold-price-alerts/internal/config"
	"gold-price-alerts/internal/history"
)

const seedCSV = `timestamp,price_cny_per_gram,source
2025-03-01T09:00:00Z,400,gold-api
2025-03-01T08:00:00Z,400,gold-api
2025-03-01T08:30:00Z,398,metals.dev
`

func newTestApp(t *testing.T) (*App, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		App:       config.AppConfig{ProductID: "AU9999"},
		Scheduler: config.SchedulerConfig{Interval: 30 * time.Minute},
		History:   config.HistoryConfig{Backend: "file", Capacity: 48, FilePath: filepath.Join(dir, "price_history.json")},
		Sources: config.SourcesConfig{
			Order:  []string{"manual"},
			Manual: config.ManualConfig{Price: "379"},
			FX:     config.FXConfig{FallbackRate: 7.1},
		},
		Alerting: config.AlertingConfig{ThresholdPct: 5, VolatilityPct: 2},
		Export:   config.ExportConfig{MaxDataPoints: 100},
	}
	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	a.Clock = clock.Fixed(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC))
	return a, &out, dir
}

func seed(t *testing.T, a *App, dir string) {
	t.Helper()
	path := filepath.Join(dir, "seed.csv")
	require.NoError(t, os.WriteFile(path, []byte(seedCSV), 0o644))
	require.NoError(t, a.Import(context.Background(), ImportOptions{Path: path}))
}

func readWindow(t *testing.T, path string) []float64 {
	t.Helper()
	samples, err := history.NewFileBackend(path).Read(context.Background())
	require.NoError(t, err)
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		out = append(out, s.Price.InexactFloat64())
	}
	return out
}

func TestImportSortsAndShows(t *testing.T) {
	a, out, dir := newTestApp(t)
	seed(t, a, dir)

	assert.Equal(t, []float64{400, 398, 400}, readWindow(t, a.Config.History.FilePath))
	assert.Contains(t, out.String(), "imported 3 samples into AU9999")

	out.Reset()
	require.NoError(t, a.Show(context.Background(), ShowOptions{}))
	assert.Contains(t, out.String(), "high 400.00  low 398.00  range 2.00")
	assert.Contains(t, out.String(), "metals.dev")
}

func TestImportDryRunAndLegacyJSON(t *testing.T) {
	a, out, dir := newTestApp(t)

	legacy := filepath.Join(dir, "legacy.json")
	require.NoError(t, os.WriteFile(legacy, []byte(`[
  {"price": 401.25, "source": "gold-api", "timestamp": "2025-03-01T08:00:00.123456"},
  {"price": 402.5, "source": "metals.dev", "timestamp": "2025-03-01T08:30:00.654321"}
]`), 0o644))

	require.NoError(t, a.Import(context.Background(), ImportOptions{Path: legacy, DryRun: true}))
	assert.Contains(t, out.String(), "dry-run: would import 2 of 2 samples")
	_, err := os.Stat(a.Config.History.FilePath)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, a.Import(context.Background(), ImportOptions{Path: legacy}))
	assert.Equal(t, []float64{401.25, 402.5}, readWindow(t, a.Config.History.FilePath))
}

func TestImportRejectsBadInput(t *testing.T) {
	a, _, dir := newTestApp(t)

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("2025-03-01T08:00:00Z,abc\n"), 0o644))
	assert.Error(t, a.Import(context.Background(), ImportOptions{Path: bad}))
	assert.Error(t, a.Import(context.Background(), ImportOptions{Path: filepath.Join(dir, "x.xml")}))
	assert.Error(t, a.Import(context.Background(), ImportOptions{}))
}

func TestOnceEvaluatesAndPersists(t *testing.T) {
	a, out, dir := newTestApp(t)
	seed(t, a, dir)
	out.Reset()

	require.NoError(t, a.Once(context.Background()))
	text := out.String()
	assert.Contains(t, text, "AU9999 379.00 CNY/g from manual (window 4/48)")
	assert.Contains(t, text, "[HIGH] Gold price alert - AU9999")
	assert.Equal(t, []float64{400, 398, 400, 379}, readWindow(t, a.Config.History.FilePath))
}

func TestOnceFetchFailure(t *testing.T) {
	a, _, dir := newTestApp(t)
	seed(t, a, dir)
	a.Config.Sources.Manual.Price = ""

	err := a.Once(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch price")
	assert.Len(t, readWindow(t, a.Config.History.FilePath), 3)
}

func TestExportCSVAndPNG(t *testing.T) {
	a, _, dir := newTestApp(t)
	seed(t, a, dir)

	csvPath := filepath.Join(dir, "out", "window.csv")
	pngPath := filepath.Join(dir, "out", "window.png")
	require.NoError(t, a.Export(context.Background(), ExportOptions{CSVPath: csvPath, PNGPath: pngPath}))

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "timestamp,price_cny_per_gram,source", lines[0])
	assert.Equal(t, "2025-03-01T08:00:00Z,400,gold-api", lines[1])

	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	// the exported CSV imports back unchanged
	b, _, _ := newTestApp(t)
	require.NoError(t, b.Import(context.Background(), ImportOptions{Path: csvPath}))
	assert.Equal(t, []float64{400, 398, 400}, readWindow(t, b.Config.History.FilePath))
}

func TestExportRequiresOutput(t *testing.T) {
	a, _, _ := newTestApp(t)
	assert.Error(t, a.Export(context.Background(), ExportOptions{}))
}

func TestSimulateAlertNeverSaves(t *testing.T) {
	a, out, dir := newTestApp(t)
	seed(t, a, dir)
	out.Reset()

	require.NoError(t, a.SimulateAlert(context.Background(), SimulateOptions{Prices: []string{"379", "AUTD=400"}}))
	text := out.String()
	assert.Contains(t, text, "[HIGH] Gold price alert - AU9999")
	assert.Contains(t, text, "AUTD: no alert (no history available)")
	assert.Contains(t, text, "checked 2, triggered 1 (high 1, medium 0, low 0)")
	assert.Contains(t, text, "high level: AU9999")

	assert.Len(t, readWindow(t, a.Config.History.FilePath), 3)
	_, err := os.Stat(filepath.Join(dir, "price_history.AUTD.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestSimulateAlertNotifyRequiresAlerting(t *testing.T) {
	a, _, _ := newTestApp(t)
	assert.Error(t, a.SimulateAlert(context.Background(), SimulateOptions{Prices: []string{"379"}, Notify: true}))
}

func TestParsePricePairs(t *testing.T) {
	a, _, _ := newTestApp(t)

	products, prices, err := a.parsePricePairs([]string{"600", "AUTD=601.5", "AU9999=602"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AU9999", "AUTD"}, products)
	assert.Equal(t, "602", prices["AU9999"].String())

	for _, bad := range [][]string{nil, {"abc"}, {"=1"}, {"AUTD=-1"}} {
		_, _, err := a.parsePricePairs(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestThreshold(t *testing.T) {
	a, out, _ := newTestApp(t)
	negative := -3.0
	require.NoError(t, a.Threshold(&negative))
	assert.Contains(t, out.String(), "drop threshold: 5%")
	assert.Contains(t, out.String(), "volatility band: 2%")
}

func TestProductFilePath(t *testing.T) {
	assert.Equal(t, "data/price_history.json", productFilePath("data/price_history.json", "AU9999", "AU9999"))
	assert.Equal(t, "data/price_history.AUTD.json", productFilePath("data/price_history.json", "AU9999", "AUTD"))
}
