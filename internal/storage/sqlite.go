package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLite is the embedded single-file implementation of the history and alert stores.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and ensures the schema.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; also keeps ":memory:" on one connection
	if path != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}
	for _, stmt := range migrationStatements("sqlite") {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migration: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// LoadHistory returns the product's samples oldest first, or ErrNoHistory.
func (s *SQLite) LoadHistory(ctx context.Context, productID string) ([]PriceSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT price, source, observed_at FROM price_history WHERE product_id = ? ORDER BY seq`, productID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var samples []PriceSample
	for rows.Next() {
		var (
			priceStr string
			source   string
			observed int64
		)
		if err := rows.Scan(&priceStr, &source, &observed); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		samples = append(samples, PriceSample{Price: price, Source: source, Timestamp: time.Unix(0, observed).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNoHistory
	}
	return samples, nil
}

// ReplaceHistory rewrites the product's window in one transaction.
func (s *SQLite) ReplaceHistory(ctx context.Context, productID string, samples []PriceSample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM price_history WHERE product_id = ?`, productID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	for i, sample := range samples {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO price_history (product_id, seq, price, source, observed_at) VALUES (?,?,?,?,?)`,
			productID, i, sample.Price.String(), sample.Source, sample.Timestamp.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}
	return tx.Commit()
}

// InsertAlert persists an alert emission. Re-inserting the same ID refreshes its channels.
func (s *SQLite) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	reasons, err := json.Marshal(nonNil(alert.Reasons))
	if err != nil {
		return AlertRecord{}, fmt.Errorf("marshal reasons: %w", err)
	}
	channels, err := json.Marshal(nonNil(alert.Channels))
	if err != nil {
		return AlertRecord{}, fmt.Errorf("marshal channels: %w", err)
	}

	rec := alert
	rec.CreatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts
			(id, product_id, level, current_price, highest_price, lowest_price,
			 drop_pct, threshold_pct, reasons, channels, decided_at, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET channels = excluded.channels`,
		rec.ID, rec.ProductID, rec.Level,
		rec.CurrentPrice.String(), rec.HighestPrice.String(), rec.LowestPrice.String(),
		rec.DropPct.String(), rec.ThresholdPct.String(),
		string(reasons), string(channels),
		rec.DecidedAt.UnixNano(), rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", err)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *SQLite) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, level, current_price, highest_price, lowest_price,
		       drop_pct, threshold_pct, reasons, channels, decided_at, created_at
		FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var (
			rec                                   AlertRecord
			current, highest, lowest, drop, thres string
			reasons, channels                     string
			decidedAt, createdAt                  int64
		)
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.Level,
			&current, &highest, &lowest, &drop, &thres,
			&reasons, &channels, &decidedAt, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if err := parseAlertDecimals(&rec, current, highest, lowest, drop, thres); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(reasons), &rec.Reasons); err != nil {
			return nil, fmt.Errorf("unmarshal reasons: %w", err)
		}
		if err := json.Unmarshal([]byte(channels), &rec.Channels); err != nil {
			return nil, fmt.Errorf("unmarshal channels: %w", err)
		}
		rec.DecidedAt = time.Unix(0, decidedAt).UTC()
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		alerts = append(alerts, rec)
	}
	return alerts, rows.Err()
}

// DeleteAlertsBefore deletes historical alerts.
func (s *SQLite) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE created_at < ?`, olderThan.UnixNano()); err != nil {
		return fmt.Errorf("delete alerts before: %w", err)
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

var (
	_ HistoryRepository = (*SQLite)(nil)
	_ AlertStore        = (*SQLite)(nil)
)
