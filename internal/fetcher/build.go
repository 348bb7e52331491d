package fetcher

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-price-alerts/internal/clock"
	"gold-price-alerts/internal/config"
)

// FromConfig assembles the price chain in the configured order.
func FromConfig(cfg config.SourcesConfig, clk clock.Clock, logger zerolog.Logger) (*Chain, error) {
	httpOpts := HTTPOptions{Timeout: cfg.RequestTimeout, UserAgent: cfg.UserAgent}

	fxOpts := FXOptions{HTTPOptions: httpOpts, FallbackRate: decimal.NewFromFloat(cfg.FX.FallbackRate)}
	fxOpts.BaseURL = cfg.FX.BaseURL
	fx := NewFXRate(fxOpts, logger)

	sources := make([]PriceSource, 0, len(cfg.Order))
	for _, name := range cfg.Order {
		switch name {
		case "goldapi":
			opts := httpOpts
			opts.BaseURL = cfg.GoldAPI.BaseURL
			sources = append(sources, NewGoldAPI(opts, fx, clk, logger))
		case "metalsdev":
			opts := MetalsDevOptions{HTTPOptions: httpOpts, APIKey: cfg.MetalsDev.APIKey}
			opts.BaseURL = cfg.MetalsDev.BaseURL
			sources = append(sources, NewMetalsDev(opts, clk, logger))
		case "chainlink":
			sources = append(sources, NewChainlink(ChainlinkOptions{
				RPCURL:      cfg.Chainlink.RPCURL,
				FeedAddress: cfg.Chainlink.FeedAddress,
				Timeout:     cfg.RequestTimeout,
			}, fx, clk, logger))
		case "manual":
			sources = append(sources, NewManual(cfg.Manual.Price, clk))
		default:
			return nil, fmt.Errorf("unknown price source %q", name)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no price sources configured")
	}
	return NewChain(sources, logger), nil
}
