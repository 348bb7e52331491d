package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNoHistory is returned when a product has no persisted window yet.
	ErrNoHistory = errors.New("storage: no history for product")
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	loadHistorySQL = `SELECT price::text, source, observed_at
    FROM price_history
    WHERE product_id = $1
    ORDER BY seq;`

	deleteHistorySQL = `DELETE FROM price_history WHERE product_id = $1;`

	insertHistorySQL = `INSERT INTO price_history (product_id, seq, price, source, observed_at)
    VALUES ($1, $2, $3, $4, $5);`

	insertAlertSQL = `INSERT INTO alerts (
        id,
        product_id,
        level,
        current_price,
        highest_price,
        lowest_price,
        drop_pct,
        threshold_pct,
        reasons,
        channels,
        decided_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    ON CONFLICT (id) DO UPDATE
    SET channels = EXCLUDED.channels
    RETURNING created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        product_id,
        level,
        current_price::text,
        highest_price::text,
        lowest_price::text,
        drop_pct::text,
        threshold_pct::text,
        reasons,
        channels,
        decided_at,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// HistoryRepository persists rolling windows keyed by product.
type HistoryRepository interface {
	LoadHistory(ctx context.Context, productID string) ([]PriceSample, error)
	ReplaceHistory(ctx context.Context, productID string, samples []PriceSample) error
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// ProductHistory binds a HistoryRepository to one product so it can serve as a history backend.
type ProductHistory struct {
	repo      HistoryRepository
	productID string
}

// NewProductHistory returns the window accessor for productID.
func NewProductHistory(repo HistoryRepository, productID string) *ProductHistory {
	return &ProductHistory{repo: repo, productID: productID}
}

// Read loads the product's window, oldest first.
func (p *ProductHistory) Read(ctx context.Context) ([]PriceSample, error) {
	return p.repo.LoadHistory(ctx, p.productID)
}

// Write replaces the product's window.
func (p *ProductHistory) Write(ctx context.Context, samples []PriceSample) error {
	return p.repo.ReplaceHistory(ctx, p.productID, samples)
}

// Store is the PostgreSQL implementation.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate applies the embedded schema files in lexical order. Every file is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range migrationStatements("postgres") {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock is dropped with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// LoadHistory returns the product's samples oldest first, or ErrNoHistory.
func (s *Store) LoadHistory(ctx context.Context, productID string) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadHistorySQL, productID)
	if queryErr != nil {
		return nil, fmt.Errorf("load history: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		var (
			priceStr string
			source   string
			observed time.Time
		)
		if err := rows.Scan(&priceStr, &source, &observed); err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		samples = append(samples, PriceSample{Price: price, Source: source, Timestamp: observed.UTC()})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if len(samples) == 0 {
		return nil, ErrNoHistory
	}
	return samples, nil
}

// ReplaceHistory rewrites the product's window inside one transaction.
func (s *Store) ReplaceHistory(ctx context.Context, productID string, samples []PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, deleteHistorySQL, productID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}

	batch := &pgx.Batch{}
	for i, sample := range samples {
		batch.Queue(insertHistorySQL, productID, i, sample.Price.String(), sample.Source, sample.Timestamp.UTC())
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ID,
		alert.ProductID,
		alert.Level,
		alert.CurrentPrice.String(),
		alert.HighestPrice.String(),
		alert.LowestPrice.String(),
		alert.DropPct.String(),
		alert.ThresholdPct.String(),
		nonNil(alert.Reasons),
		nonNil(alert.Channels), // TEXT[] NOT NULL; pgx sends a nil slice as NULL
		alert.DecidedAt,
	)

	rec := alert
	if scanErr := row.Scan(&rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var (
			rec                                   AlertRecord
			current, highest, lowest, drop, thres string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.ProductID,
			&rec.Level,
			&current,
			&highest,
			&lowest,
			&drop,
			&thres,
			&rec.Reasons,
			&rec.Channels,
			&rec.DecidedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := parseAlertDecimals(&rec, current, highest, lowest, drop, thres); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func parseAlertDecimals(rec *AlertRecord, current, highest, lowest, drop, threshold string) error {
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"current price", current, &rec.CurrentPrice},
		{"highest price", highest, &rec.HighestPrice},
		{"lowest price", lowest, &rec.LowestPrice},
		{"drop pct", drop, &rec.DropPct},
		{"threshold pct", threshold, &rec.ThresholdPct},
	}
	for _, f := range fields {
		if f.raw == "" {
			*f.dst = decimal.Zero
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return nil
}

// migrationStatements returns the statements of every embedded migration for dialect, in file order.
func migrationStatements(dialect string) []string {
	entries, err := fs.Glob(migrationFS, "migrations/*."+dialect+".sql")
	if err != nil {
		return nil
	}
	sort.Strings(entries)

	var stmts []string
	for _, name := range entries {
		raw, err := migrationFS.ReadFile(name)
		if err != nil {
			continue
		}
		for _, stmt := range strings.Split(string(raw), ";") {
			if strings.TrimSpace(stmt) != "" {
				stmts = append(stmts, stmt)
			}
		}
	}
	return stmts
}

var (
	_ HistoryRepository = (*Store)(nil)
	_ AlertStore        = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
)
