package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gold-price-alerts/internal/history"
	"gold-price-alerts/internal/storage"
)

// Import 从 CSV 或旧版 price_history.json 导入历史窗口，覆盖当前后端中的数据。
func (a *App) Import(ctx context.Context, opts ImportOptions) error {
	if opts.Path == "" {
		return errors.New("--file is required")
	}

	samples, err := readImportFile(ctx, opts.Path, opts.Format)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return fmt.Errorf("%s contains no samples", opts.Path)
	}

	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })
	window := history.Window(samples).Truncate(a.Config.History.Capacity)
	productID := a.productOrDefault(opts.ProductID)

	a.Logger.Info().
		Str("product", productID).
		Int("read", len(samples)).
		Int("kept", len(window)).
		Bool("dry_run", opts.DryRun).
		Msg("importing history")

	if opts.DryRun {
		fmt.Fprintf(a.Out, "dry-run: would import %d of %d samples into %s\n", len(window), len(samples), productID)
		return nil
	}

	b, err := a.openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	if err := a.historyStore(b, productID).Save(ctx, window); err != nil {
		return fmt.Errorf("save imported history: %w", err)
	}
	fmt.Fprintf(a.Out, "imported %d samples into %s\n", len(window), productID)
	return nil
}

func readImportFile(ctx context.Context, path, format string) ([]storage.PriceSample, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch format {
	case "json":
		samples, err := history.NewFileBackend(path).Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return samples, nil
	case "csv":
		return readSamplesCSV(path)
	}
	return nil, fmt.Errorf("unsupported import format %q (want csv or json)", format)
}

func readSamplesCSV(path string) ([]storage.PriceSample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var samples []storage.PriceSample
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if line == 1 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), csvHeader[0]) {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("csv line %d: want timestamp,price[,source]", line)
		}

		ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("csv line %d: parse timestamp: %w", line, err)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(record[1]))
		if err != nil {
			return nil, fmt.Errorf("csv line %d: parse price: %w", line, err)
		}
		source := "import"
		if len(record) > 2 && strings.TrimSpace(record[2]) != "" {
			source = strings.TrimSpace(record[2])
		}
		samples = append(samples, storage.PriceSample{Price: price, Source: source, Timestamp: ts.UTC()})
	}
	return samples, nil
}
