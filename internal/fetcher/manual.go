package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"gold-price-alerts/internal/clock"
	"gold-price-alerts/internal/storage"
)

// Manual serves a fixed, operator-supplied price. Mostly for testing.
type Manual struct {
	raw   string
	clock clock.Clock
}

// NewManual wraps the raw configured price; an empty value makes the source fail.
func NewManual(raw string, clk clock.Clock) *Manual {
	if clk == nil {
		clk = clock.System{}
	}
	return &Manual{raw: strings.TrimSpace(raw), clock: clk}
}

// Name implements PriceSource.
func (m *Manual) Name() string { return "manual" }

// FetchPrice implements PriceSource.
func (m *Manual) FetchPrice(context.Context) (storage.PriceSample, error) {
	if m.raw == "" {
		return storage.PriceSample{}, errors.New("manual price not set")
	}
	price, err := decimal.NewFromString(m.raw)
	if err != nil {
		return storage.PriceSample{}, fmt.Errorf("parse manual price %q: %w", m.raw, err)
	}
	if !price.IsPositive() {
		return storage.PriceSample{}, fmt.Errorf("manual price %s must be positive", price)
	}
	return storage.PriceSample{Price: price, Source: m.Name(), Timestamp: m.clock.Now()}, nil
}

var _ PriceSource = (*Manual)(nil)
