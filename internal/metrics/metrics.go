// Package metrics exposes tick and alert counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"
)

const namespace = "goldwatch"

// Tick results.
const (
	TickOK        = "ok"
	TickFetchFail = "fetch_failed"
	TickSkipped   = "skipped"
)

// Metrics owns a private registry so tests and the push path see only these series.
type Metrics struct {
	registry *prometheus.Registry

	ticks          *prometheus.CounterVec
	tickDuration   prometheus.Histogram
	decisions      *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	windowSize     *prometheus.GaugeVec
}

// New registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Completed ticks by result.",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a tick from fetch to notify.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Alert decisions by product and level.",
		}, []string{"product", "level"}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Price source failures by source.",
		}, []string{"source"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Notification deliveries by outcome.",
		}, []string{"outcome"}),
		lastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_price_cny_per_gram",
			Help:      "Most recently observed price.",
		}, []string{"product", "source"}),
		windowSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_window_samples",
			Help:      "Samples in the persisted rolling window.",
		}, []string{"product"}),
	}
	m.registry.MustRegister(m.ticks, m.tickDuration, m.decisions, m.sourceFailures, m.deliveries, m.lastPrice, m.windowSize)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveTick records one tick.
func (m *Metrics) ObserveTick(result string, took time.Duration) {
	m.ticks.WithLabelValues(result).Inc()
	m.tickDuration.Observe(took.Seconds())
}

// ObserveDecision counts an evaluated decision.
func (m *Metrics) ObserveDecision(product, level string) {
	m.decisions.WithLabelValues(product, level).Inc()
}

// SourceFailed counts a failed price source.
func (m *Metrics) SourceFailed(source string) {
	m.sourceFailures.WithLabelValues(source).Inc()
}

// ObserveDeliveries adds succeeded and failed recipient counts.
func (m *Metrics) ObserveDeliveries(succeeded, failed int) {
	m.deliveries.WithLabelValues("success").Add(float64(succeeded))
	m.deliveries.WithLabelValues("failure").Add(float64(failed))
}

// SetLastPrice updates the price gauge.
func (m *Metrics) SetLastPrice(product, source string, price float64) {
	m.lastPrice.WithLabelValues(product, source).Set(price)
}

// SetWindowSize updates the window gauge.
func (m *Metrics) SetWindowSize(product string, n int) {
	m.windowSize.WithLabelValues(product).Set(float64(n))
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Push sends the registry to a Pushgateway, for one-shot invocations.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
