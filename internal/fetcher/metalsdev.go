package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-price-alerts/internal/clock"
	"gold-price-alerts/internal/storage"
)

// MetalsDevOptions parameterise the metals.dev source.
type MetalsDevOptions struct {
	HTTPOptions
	APIKey string
}

// MetalsDev quotes gold directly in CNY per gram.
type MetalsDev struct {
	opts    MetalsDevOptions
	clock   clock.Clock
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMetalsDev constructs the metals.dev source.
func NewMetalsDev(opts MetalsDevOptions, clk clock.Clock, logger zerolog.Logger) *MetalsDev {
	if clk == nil {
		clk = clock.System{}
	}
	if opts.APIKey == "" {
		opts.APIKey = "demo"
	}
	return &MetalsDev{
		opts:    opts,
		clock:   clk,
		logger:  logger.With().Str("component", "metalsdev_fetcher").Logger(),
		client:  newHTTPClient(opts.Timeout),
		baseURL: trimBase(opts.BaseURL, "https://api.metals.dev/v1"),
	}
}

// Name implements PriceSource.
func (m *MetalsDev) Name() string { return "metals.dev" }

// FetchPrice implements PriceSource.
func (m *MetalsDev) FetchPrice(ctx context.Context) (storage.PriceSample, error) {
	query := url.Values{}
	query.Set("api_key", m.opts.APIKey)
	query.Set("currency", "CNY")
	query.Set("unit", "gram")

	var res struct {
		Status string                     `json:"status"`
		Metals map[string]decimal.Decimal `json:"metals"`
	}
	if err := getJSON(ctx, m.client, m.baseURL+"/latest?"+query.Encode(), m.opts.UserAgent, &res); err != nil {
		return storage.PriceSample{}, err
	}
	gold, ok := res.Metals["gold"]
	if !ok || !gold.IsPositive() {
		return storage.PriceSample{}, errors.New("metals.dev returned no gold price")
	}

	return storage.PriceSample{Price: gold.Round(2), Source: m.Name(), Timestamp: m.clock.Now()}, nil
}

var _ PriceSource = (*MetalsDev)(nil)
