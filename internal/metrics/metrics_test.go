package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveTick(TickOK, 120*time.Millisecond)
	m.ObserveTick(TickFetchFail, time.Second)
	m.ObserveTick(TickOK, 80*time.Millisecond)
	m.ObserveDecision("AU9999", "high")
	m.SourceFailed("gold-api")
	m.ObserveDeliveries(2, 1)
	m.SetLastPrice("AU9999", "metals.dev", 612.5)
	m.SetWindowSize("AU9999", 48)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks.WithLabelValues(TickOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("AU9999", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourceFailures.WithLabelValues("gold-api")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("success")))
	assert.Equal(t, 612.5, testutil.ToFloat64(m.lastPrice.WithLabelValues("AU9999", "metals.dev")))
	assert.Equal(t, 48.0, testutil.ToFloat64(m.windowSize.WithLabelValues("AU9999")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetWindowSize("AU9999", 3)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `goldwatch_history_window_samples{product="AU9999"} 3`)
}

func TestPush(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.ObserveTick(TickOK, time.Millisecond)
	require.NoError(t, m.Push(context.Background(), srv.URL, "goldwatch"))
	assert.True(t, strings.HasSuffix(gotPath, "/job/goldwatch"), gotPath)
}
