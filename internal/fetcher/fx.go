package fetcher

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultCNYRate is used whenever the FX endpoint is unreachable.
var DefaultCNYRate = decimal.RequireFromString("7.1")

// FXOptions parameterise the USD→CNY lookup.
type FXOptions struct {
	HTTPOptions
	FallbackRate decimal.Decimal
}

// FXRate looks up USD→CNY from exchangerate-api.
type FXRate struct {
	opts    FXOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewFXRate constructs an FX helper.
func NewFXRate(opts FXOptions, logger zerolog.Logger) *FXRate {
	if !opts.FallbackRate.IsPositive() {
		opts.FallbackRate = DefaultCNYRate
	}
	return &FXRate{
		opts:    opts,
		logger:  logger.With().Str("component", "fx_rate").Logger(),
		client:  newHTTPClient(opts.Timeout),
		baseURL: trimBase(opts.BaseURL, "https://api.exchangerate-api.com/v4"),
	}
}

// CNYPerUSD never fails; any lookup problem yields the fallback rate.
func (f *FXRate) CNYPerUSD(ctx context.Context) decimal.Decimal {
	var res struct {
		Rates map[string]decimal.Decimal `json:"rates"`
	}
	if err := getJSON(ctx, f.client, f.baseURL+"/latest/USD", f.opts.UserAgent, &res); err != nil {
		f.logger.Warn().Err(err).Str("fallback", f.opts.FallbackRate.String()).Msg("fx lookup failed, using fallback rate")
		return f.opts.FallbackRate
	}
	rate, ok := res.Rates["CNY"]
	if !ok || !rate.IsPositive() {
		f.logger.Warn().Str("fallback", f.opts.FallbackRate.String()).Msg("fx response has no CNY rate, using fallback rate")
		return f.opts.FallbackRate
	}
	return rate
}
