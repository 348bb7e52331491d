package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"gold-price-alerts/internal/alert"
)

// Show prints the persisted window, its extremes and what the engine makes
// of the newest sample against the samples before it.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	b, err := a.openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	productID := a.productOrDefault(opts.ProductID)
	window := a.historyStore(b, productID).Load(ctx)
	if len(window) == 0 {
		fmt.Fprintf(a.Out, "no history for %s\n", productID)
		return nil
	}

	shown := window
	if opts.Limit > 0 && len(shown) > opts.Limit {
		shown = shown[len(shown)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPrice (CNY/g)\tSource")
	for _, sample := range shown {
		fmt.Fprintf(writer, "%s\t%s\t%s\n",
			sample.Timestamp.UTC().Format(time.RFC3339),
			formatDecimal(sample.Price, 2),
			sanitizeInline(sample.Source),
		)
	}
	writer.Flush()

	if ext, ok := alert.ComputeExtremes(window); ok {
		ext = ext.Rounded()
		fmt.Fprintf(a.Out, "\n%s window: %d/%d samples  high %s  low %s  range %s\n",
			productID, ext.SampleCount, a.Config.History.Capacity,
			formatDecimal(ext.Highest, 2), formatDecimal(ext.Lowest, 2), formatDecimal(ext.Range, 2))
	}

	last, _ := window.Last()
	decision := a.newEngine().Evaluate(productID, last.Price, window[:len(window)-1])
	fmt.Fprintln(a.Out, "\nLatest sample evaluated against the samples before it:")
	printMessage(a.Out, decision)

	if opts.Alerts > 0 && b.alerts != nil {
		return a.showAlerts(ctx, b, opts.Alerts)
	}
	return nil
}

func (a *App) showAlerts(ctx context.Context, b *backends, limit int) error {
	records, err := b.alerts.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out, "\nRecent alerts:")
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "none")
		return nil
	}
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Decided (UTC)\tProduct\tLevel\tPrice\tDrop%\tChannels\tReasons")
	for _, rec := range records {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.DecidedAt.UTC().Format(time.RFC3339),
			rec.ProductID,
			rec.Level,
			formatDecimal(rec.CurrentPrice, 2),
			formatDecimal(rec.DropPct, 2),
			strings.Join(rec.Channels, ","),
			sanitizeInline(strings.Join(rec.Reasons, "; ")),
		)
	}
	return writer.Flush()
}

func printMessage(w io.Writer, d alert.Decision) {
	msg := d.Message()
	fmt.Fprint(w, msg)
	if !strings.HasSuffix(msg, "\n") {
		fmt.Fprintln(w)
	}
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
