package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"gold-price-alerts/internal/alert"
	"gold-price-alerts/internal/alerting"
	"gold-price-alerts/internal/history"
)

// SimulateAlert 用给定价格对已保存的历史窗口做一次评估，不写入历史。
// Each entry in opts.Prices is PRODUCT=PRICE, or a bare PRICE for the configured product.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	products, prices, err := a.parsePricePairs(opts.Prices)
	if err != nil {
		return err
	}

	var notifier alerting.Notifier
	if opts.Notify {
		if !a.Config.Alerting.Enabled {
			return errors.New("alerting 未启用")
		}
		notifier, err = a.newNotifier()
		if err != nil {
			return err
		}
		if notifier == nil {
			return errors.New("未配置任何告警通道")
		}
	}

	b, err := a.openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	windows := make(map[string]history.Window, len(products))
	for _, product := range products {
		windows[product] = a.historyStore(b, product).Load(ctx)
	}

	decisions := a.newEngine().BatchEvaluate(products, prices, windows)
	for _, d := range decisions {
		printMessage(a.Out, d)
		fmt.Fprintln(a.Out)
	}

	sum := alert.Summarize(decisions)
	fmt.Fprintf(a.Out, "checked %d, triggered %d (high %d, medium %d, low %d)\n",
		sum.TotalChecked, sum.TotalTriggered, sum.High, sum.Medium, sum.Low)
	if len(sum.HighLevelProducts) > 0 {
		fmt.Fprintf(a.Out, "high level: %s\n", strings.Join(sum.HighLevelProducts, ", "))
	}

	if notifier == nil {
		return nil
	}
	var errs []error
	for _, d := range decisions {
		if !d.ShouldAlert {
			continue
		}
		note := alerting.NewNotification(d)
		note.Channels = a.Config.Channels()
		note.AdditionalMsg = "(simulated)\n"
		delivery, err := notifier.Notify(ctx, note)
		if err != nil {
			errs = append(errs, err)
		}
		fmt.Fprintf(a.Out, "%s: delivered to %d of %d recipients\n", d.ProductID, delivery.Succeeded(), len(delivery))
	}
	return errors.Join(errs...)
}

func (a *App) parsePricePairs(args []string) ([]string, map[string]decimal.Decimal, error) {
	if len(args) == 0 {
		return nil, nil, errors.New("at least one price is required")
	}
	products := make([]string, 0, len(args))
	prices := make(map[string]decimal.Decimal, len(args))
	for _, arg := range args {
		product, raw := a.Config.App.ProductID, arg
		if k, v, ok := strings.Cut(arg, "="); ok {
			product, raw = strings.TrimSpace(k), v
		}
		if product == "" {
			return nil, nil, fmt.Errorf("empty product in %q", arg)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, nil, fmt.Errorf("parse price %q: %w", arg, err)
		}
		if !price.IsPositive() {
			return nil, nil, fmt.Errorf("price in %q must be positive", arg)
		}
		if _, seen := prices[product]; !seen {
			products = append(products, product)
		}
		prices[product] = price
	}
	return products, prices, nil
}
