package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-price-alerts/internal/storage"
)

// ErrNoPrice is returned when every configured source failed.
var ErrNoPrice = errors.New("no price source succeeded")

// troyOunceGrams converts USD/oz quotes into per-gram prices.
var troyOunceGrams = decimal.RequireFromString("31.1035")

// PriceSource retrieves the current gold price in CNY per gram.
type PriceSource interface {
	Name() string
	FetchPrice(ctx context.Context) (storage.PriceSample, error)
}

// FailureObserver is told about every source that failed during a Chain fetch.
type FailureObserver func(source string, err error)

// Chain tries its sources in priority order; the first success wins.
type Chain struct {
	sources   []PriceSource
	logger    zerolog.Logger
	onFailure FailureObserver
}

// NewChain builds a Chain over sources in the given order.
func NewChain(sources []PriceSource, logger zerolog.Logger) *Chain {
	return &Chain{sources: sources, logger: logger.With().Str("component", "price_chain").Logger()}
}

// OnFailure registers an observer for per-source failures.
func (c *Chain) OnFailure(fn FailureObserver) {
	c.onFailure = fn
}

// Name lists the sources in order.
func (c *Chain) Name() string {
	name := "chain"
	for i, src := range c.sources {
		if i == 0 {
			name += "("
		} else {
			name += ","
		}
		name += src.Name()
	}
	if len(c.sources) > 0 {
		name += ")"
	}
	return name
}

// FetchPrice returns the first successful sample. When all sources fail the
// error wraps ErrNoPrice together with each source's failure.
func (c *Chain) FetchPrice(ctx context.Context) (storage.PriceSample, error) {
	errs := make([]error, 0, len(c.sources)+1)
	errs = append(errs, ErrNoPrice)
	for _, src := range c.sources {
		sample, err := src.FetchPrice(ctx)
		if err == nil {
			c.logger.Info().Str("source", src.Name()).Str("price", sample.Price.StringFixed(2)).Msg("price fetched")
			return sample, nil
		}
		c.logger.Warn().Err(err).Str("source", src.Name()).Msg("price source failed")
		if c.onFailure != nil {
			c.onFailure(src.Name(), err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return storage.PriceSample{}, errors.Join(errs...)
}

func usdPerOunceToCNYPerGram(usdPerOz, cnyRate decimal.Decimal) decimal.Decimal {
	return usdPerOz.Mul(cnyRate).Div(troyOunceGrams).Round(2)
}

var _ PriceSource = (*Chain)(nil)
