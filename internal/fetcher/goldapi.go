package fetcher

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-price-alerts/internal/clock"
	"gold-price-alerts/internal/storage"
)

// GoldAPI quotes XAU in USD per troy ounce and converts it to CNY per gram.
type GoldAPI struct {
	opts    HTTPOptions
	fx      *FXRate
	clock   clock.Clock
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewGoldAPI constructs the gold-api.com source.
func NewGoldAPI(opts HTTPOptions, fx *FXRate, clk clock.Clock, logger zerolog.Logger) *GoldAPI {
	if clk == nil {
		clk = clock.System{}
	}
	return &GoldAPI{
		opts:    opts,
		fx:      fx,
		clock:   clk,
		logger:  logger.With().Str("component", "goldapi_fetcher").Logger(),
		client:  newHTTPClient(opts.Timeout),
		baseURL: trimBase(opts.BaseURL, "https://api.gold-api.com"),
	}
}

// Name implements PriceSource.
func (g *GoldAPI) Name() string { return "gold-api" }

// FetchPrice implements PriceSource.
func (g *GoldAPI) FetchPrice(ctx context.Context) (storage.PriceSample, error) {
	if g.fx == nil {
		return storage.PriceSample{}, errors.New("fx rate helper not configured")
	}

	var res struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := getJSON(ctx, g.client, g.baseURL+"/price/XAU", g.opts.UserAgent, &res); err != nil {
		return storage.PriceSample{}, err
	}
	if !res.Price.IsPositive() {
		return storage.PriceSample{}, errors.New("gold-api returned no price")
	}

	rate := g.fx.CNYPerUSD(ctx)
	price := usdPerOunceToCNYPerGram(res.Price, rate)
	g.logger.Debug().Str("usd_per_oz", res.Price.String()).Str("cny_rate", rate.String()).Str("cny_per_gram", price.String()).Msg("converted quote")

	return storage.PriceSample{Price: price, Source: g.Name(), Timestamp: g.clock.Now()}, nil
}

var _ PriceSource = (*GoldAPI)(nil)
