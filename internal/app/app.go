package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-price-alerts/internal/alert"
	"gold-price-alerts/internal/alerting"
	"gold-price-alerts/internal/clock"
	"gold-price-alerts/internal/config"
	"gold-price-alerts/internal/fetcher"
	"gold-price-alerts/internal/history"
	"gold-price-alerts/internal/metrics"
	"gold-price-alerts/internal/scheduler"
	"gold-price-alerts/internal/service"
	"gold-price-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Clock  clock.Clock
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Clock:  clock.System{},
		Out:    os.Stdout,
	}
}

// backends bundles the history and audit storage selected by history.backend.
type backends struct {
	forProduct func(productID string) history.Backend
	alerts     storage.AlertStore
	close      func()
}

func (a *App) openBackends(ctx context.Context) (*backends, error) {
	cfg := a.Config
	switch cfg.History.Backend {
	case "", "file":
		return &backends{
			forProduct: func(productID string) history.Backend {
				return history.NewFileBackend(productFilePath(cfg.History.FilePath, cfg.App.ProductID, productID))
			},
			close: func() {},
		}, nil
	case "sqlite":
		db, err := storage.OpenSQLite(cfg.History.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &backends{
			forProduct: func(productID string) history.Backend { return storage.NewProductHistory(db, productID) },
			alerts:     db,
			close: func() {
				if err := db.Close(); err != nil {
					a.Logger.Warn().Err(err).Msg("failed to close sqlite")
				}
			},
		}, nil
	case "postgres":
		store, err := storage.OpenPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return &backends{
			forProduct: func(productID string) history.Backend { return storage.NewProductHistory(store, productID) },
			alerts:     store,
			close:      store.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
}

// productFilePath keeps the configured path for the primary product and
// derives a sibling file for any other product.
func productFilePath(base, primary, productID string) string {
	if productID == "" || productID == primary {
		return base
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "." + productID + ext
}

func (a *App) historyStore(b *backends, productID string) *history.Store {
	return history.NewStore(b.forProduct(productID), a.Config.History.Capacity, a.Logger)
}

func (a *App) newEngine() *alert.Engine {
	return alert.NewEngine(alert.Policy{
		DropThresholdPct: decimal.NewFromFloat(a.Config.Alerting.ThresholdPct),
		VolatilityPct:    decimal.NewFromFloat(a.Config.Alerting.VolatilityPct),
	}, a.Clock, a.Logger)
}

func (a *App) newNotifier() (alerting.Notifier, error) {
	return alerting.FromConfig(a.Config.Alerting, a.Logger)
}

func (a *App) newService(b *backends, sched *scheduler.Scheduler, m *metrics.Metrics) (*service.Service, error) {
	chain, err := fetcher.FromConfig(a.Config.Sources, a.Clock, a.Logger)
	if err != nil {
		return nil, err
	}
	if m != nil {
		chain.OnFailure(func(source string, _ error) { m.SourceFailed(source) })
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		a.Logger.Info().Msg("no notification channel enabled; alerts are only logged")
	}

	store := a.historyStore(b, a.Config.App.ProductID)
	return service.New(a.Config, sched, chain, store, a.newEngine(), b.alerts, notifier, m, a.Clock, a.Logger), nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := a.openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	m := metrics.New()
	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := m.Serve(ctx, addr, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToBucket:  a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: a.Config.Scheduler.RunImmediately,
	}, a.Clock, a.Logger)

	svc, err := a.newService(b, sched, m)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("product", a.Config.App.ProductID).
		Str("backend", a.Config.History.Backend).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Once performs a single tick, for cron-style deployments.
func (a *App) Once(ctx context.Context) error {
	b, err := a.openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	m := metrics.New()
	svc, err := a.newService(b, nil, m)
	if err != nil {
		return err
	}

	res, tickErr := svc.Tick(ctx)
	if url := a.Config.Metrics.PushgatewayURL; url != "" {
		if err := m.Push(ctx, url, a.Config.Metrics.Job); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to push metrics")
		}
	}
	if errors.Is(tickErr, service.ErrSkipped) {
		fmt.Fprintln(a.Out, "skipped: another invocation holds the lock")
		return nil
	}
	if tickErr != nil {
		return tickErr
	}

	fmt.Fprintf(a.Out, "%s %s CNY/g from %s (window %d/%d)\n",
		a.Config.App.ProductID, res.Sample.Price.StringFixed(2), res.Sample.Source, res.WindowSize, a.Config.History.Capacity)
	printMessage(a.Out, res.Decision)
	return nil
}

// ExportOptions hold parameters for exporting the history window.
type ExportOptions struct {
	ProductID string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	ProductID string
	Limit     int
	Alerts    int
}

// ImportOptions configure seeding history from a file.
type ImportOptions struct {
	ProductID string
	Path      string
	Format    string
	DryRun    bool
}

// SimulateOptions configure the simulate-alert command.
type SimulateOptions struct {
	Prices []string
	Notify bool
}

func (a *App) productOrDefault(productID string) string {
	if productID == "" {
		return a.Config.App.ProductID
	}
	return productID
}
