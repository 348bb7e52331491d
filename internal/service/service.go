package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"gold-price-alerts/internal/alert"
	"gold-price-alerts/internal/alerting"
	"gold-price-alerts/internal/clock"
	"gold-price-alerts/internal/config"
	"gold-price-alerts/internal/fetcher"
	"gold-price-alerts/internal/history"
	"gold-price-alerts/internal/metrics"
	"gold-price-alerts/internal/scheduler"
	"gold-price-alerts/internal/storage"
)

// ErrSkipped is returned by Tick when another invocation holds the advisory lock.
var ErrSkipped = errors.New("tick skipped: advisory lock held elsewhere")

// Result describes what one tick did.
type Result struct {
	Sample     storage.PriceSample
	Decision   alert.Decision
	WindowSize int
	Saved      bool
	Delivery   alerting.Delivery
}

// Service orchestrates fetching, history, evaluation and alerting.
type Service struct {
	scheduler  *scheduler.Scheduler
	source     fetcher.PriceSource
	history    *history.Store
	engine     *alert.Engine
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	metrics    *metrics.Metrics
	clock      clock.Clock
	logger     zerolog.Logger

	productID string
	channels  []string
	retention time.Duration
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the monitoring service. alertStore, notifier and m may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, source fetcher.PriceSource, store *history.Store, engine *alert.Engine, alertStore storage.AlertStore, notifier alerting.Notifier, m *metrics.Metrics, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}

	var locker storage.AdvisoryLocker
	if l, ok := alertStore.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		source:     source,
		history:    store,
		engine:     engine,
		alertStore: alertStore,
		notifier:   notifier,
		metrics:    m,
		clock:      clk,
		logger:     logger.With().Str("component", "service").Logger(),
		productID:  cfg.App.ProductID,
		channels:   cfg.Channels(),
		retention:  cfg.Alerting.AuditRetention,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the sampling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket adapts Tick to the scheduler; a held lock is not an error.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	_, err := s.Tick(ctx)
	if errors.Is(err, ErrSkipped) {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	return err
}

// Tick 执行一次完整流程: 获取价格 → 读取历史 → 评估 → 追加 → 保存 → 通知。
// Only a failed fetch aborts the tick; every later failure is logged and the decision stands.
func (s *Service) Tick(ctx context.Context) (Result, error) {
	started := s.clock.Now()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return Result{}, err
	}
	if !proceed {
		s.observeTick(metrics.TickSkipped, started)
		return Result{}, ErrSkipped
	}
	if unlock != nil {
		defer unlock()
	}

	sample, err := s.source.FetchPrice(ctx)
	if err != nil {
		s.observeTick(metrics.TickFetchFail, started)
		return Result{}, fmt.Errorf("fetch price: %w", err)
	}

	window := s.history.Load(ctx)
	decision := s.engine.Evaluate(s.productID, sample.Price, window)

	updated := s.history.Append(window, sample)
	saveErr := s.history.Save(ctx, updated)

	res := Result{
		Sample:     sample,
		Decision:   decision,
		WindowSize: len(updated),
		Saved:      saveErr == nil,
	}

	s.logger.Info().
		Str("product", s.productID).
		Str("source", sample.Source).
		Str("price", sample.Price.StringFixed(2)).
		Bool("should_alert", decision.ShouldAlert).
		Str("level", decision.Level.String()).
		Strs("reasons", decision.Reasons).
		Msg("price evaluated")

	if s.metrics != nil {
		price, _ := sample.Price.Float64()
		s.metrics.SetLastPrice(s.productID, sample.Source, price)
		s.metrics.SetWindowSize(s.productID, len(updated))
		s.metrics.ObserveDecision(s.productID, decision.Level.String())
	}

	if decision.ShouldAlert {
		res.Delivery = s.dispatch(ctx, decision)
	}

	s.observeTick(metrics.TickOK, started)
	return res, nil
}

func (s *Service) dispatch(ctx context.Context, decision alert.Decision) alerting.Delivery {
	var delivery alerting.Delivery
	if s.notifier != nil {
		note := alerting.NewNotification(decision)
		note.Channels = s.channels
		var err error
		delivery, err = s.notifier.Notify(ctx, note)
		if err != nil {
			s.logger.Error().Err(err).Str("product", decision.ProductID).Msg("failed to dispatch alert")
		}
		if s.metrics != nil {
			s.metrics.ObserveDeliveries(delivery.Succeeded(), delivery.Failed())
		}
	}

	if s.alertStore == nil {
		return delivery
	}
	if _, err := s.alertStore.InsertAlert(ctx, toRecord(decision, delivery)); err != nil {
		s.logger.Error().Err(err).Str("product", decision.ProductID).Msg("failed to persist alert record")
	}
	if s.retention > 0 {
		if err := s.alertStore.DeleteAlertsBefore(ctx, s.clock.Now().Add(-s.retention)); err != nil {
			s.logger.Warn().Err(err).Msg("failed to prune alert records")
		}
	}
	return delivery
}

func toRecord(d alert.Decision, delivery alerting.Delivery) storage.AlertRecord {
	rec := storage.AlertRecord{
		ID:           d.ID,
		ProductID:    d.ProductID,
		Level:        d.Level.String(),
		CurrentPrice: d.CurrentPrice,
		ThresholdPct: d.ThresholdPct,
		Reasons:      d.Reasons,
		Channels:     []string{},
		DecidedAt:    d.Timestamp,
	}
	if d.Extremes != nil {
		rec.HighestPrice = d.Extremes.Highest
		rec.LowestPrice = d.Extremes.Lowest
	}
	if d.PriceDiff != nil {
		rec.DropPct = d.PriceDiff.PercentDiff
	}
	for recipient, ok := range delivery {
		if ok {
			rec.Channels = append(rec.Channels, recipient)
		}
	}
	sort.Strings(rec.Channels)
	return rec
}

func (s *Service) observeTick(result string, started time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveTick(result, s.clock.Now().Sub(started))
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
