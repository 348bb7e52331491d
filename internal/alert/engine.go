// Package alert turns an observed price and the rolling history window into an alert decision.
//
// Everything here is free of I/O. Evaluate is a pure function of its inputs;
// Engine only adds the mutable drop threshold and a clock on top of it.
package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-price-alerts/internal/clock"
	"gold-price-alerts/internal/history"
)

// Fixed reason strings, matched on by callers and tests.
const (
	ReasonNoHistory  = "no history available"
	ReasonFloorTouch = "current price is the rolling-window low"
)

var (
	// DefaultThresholdPct is the drawdown trigger used when none (or a negative one) is configured.
	DefaultThresholdPct = decimal.NewFromFloat(5.0)
	// DefaultVolatilityPct is the range/high band above which a wide swing is reported.
	DefaultVolatilityPct = decimal.NewFromFloat(2.0)

	hundred = decimal.NewFromInt(100)
)

// Extremes summarise a window. They never include the price being evaluated.
type Extremes struct {
	Highest     decimal.Decimal `json:"highest"`
	Lowest      decimal.Decimal `json:"lowest"`
	Range       decimal.Decimal `json:"range"`
	SampleCount int             `json:"sample_count"`
}

// Rounded returns a copy with monetary values rounded to 2 places for display.
func (e Extremes) Rounded() Extremes {
	return Extremes{
		Highest:     e.Highest.Round(2),
		Lowest:      e.Lowest.Round(2),
		Range:       e.Range.Round(2),
		SampleCount: e.SampleCount,
	}
}

// PriceDiff compares the current price with the window high.
type PriceDiff struct {
	AbsoluteDiff   decimal.Decimal `json:"absolute_diff"`
	PercentDiff    decimal.Decimal `json:"percent_diff"`
	IsBelowHighest bool            `json:"is_below_highest"`
}

// Rounded returns a copy rounded to 2 places for display.
func (d PriceDiff) Rounded() PriceDiff {
	return PriceDiff{
		AbsoluteDiff:   d.AbsoluteDiff.Round(2),
		PercentDiff:    d.PercentDiff.Round(2),
		IsBelowHighest: d.IsBelowHighest,
	}
}

// Decision is the outcome of one evaluation. Treat it as immutable.
type Decision struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	ShouldAlert  bool            `json:"should_alert"`
	Reasons      []string        `json:"reasons"`
	Level        Level           `json:"level"`
	Extremes     *Extremes       `json:"extremes"`
	PriceDiff    *PriceDiff      `json:"price_diff"`
	ThresholdPct decimal.Decimal `json:"threshold_pct"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Policy holds the two independent trigger knobs.
type Policy struct {
	DropThresholdPct decimal.Decimal
	VolatilityPct    decimal.Decimal
}

// DefaultPolicy returns the 5% drawdown / 2% volatility policy.
func DefaultPolicy() Policy {
	return Policy{DropThresholdPct: DefaultThresholdPct, VolatilityPct: DefaultVolatilityPct}
}

// ComputeExtremes scans the window. ok is false for an empty window.
func ComputeExtremes(window history.Window) (Extremes, bool) {
	if len(window) == 0 {
		return Extremes{}, false
	}

	highest := window[0].Price
	lowest := window[0].Price
	for _, s := range window[1:] {
		if s.Price.GreaterThan(highest) {
			highest = s.Price
		}
		if s.Price.LessThan(lowest) {
			lowest = s.Price
		}
	}

	return Extremes{
		Highest:     highest,
		Lowest:      lowest,
		Range:       highest.Sub(lowest),
		SampleCount: len(window),
	}, true
}

// ComputePriceDiff measures how far current sits below highest.
// A current price above the high gives a negative diff.
func ComputePriceDiff(current, highest decimal.Decimal) PriceDiff {
	abs := highest.Sub(current)
	pct := decimal.Zero
	if !highest.IsZero() {
		pct = abs.Div(highest).Mul(hundred)
	}
	return PriceDiff{
		AbsoluteDiff:   abs,
		PercentDiff:    pct,
		IsBelowHighest: current.LessThan(highest),
	}
}

// Evaluate applies the floor-touch, drawdown and volatility rules in that order.
// The decision ID is derived from the inputs so repeated calls yield equal decisions.
func Evaluate(productID string, current decimal.Decimal, window history.Window, policy Policy, at time.Time) Decision {
	decision := Decision{
		ProductID:    productID,
		CurrentPrice: current,
		Level:        LevelNone,
		ThresholdPct: policy.DropThresholdPct,
		Timestamp:    at,
	}
	decision.ID = decisionID(productID, current, at)

	extremes, ok := ComputeExtremes(window)
	if !ok {
		decision.Reasons = []string{ReasonNoHistory}
		return decision
	}
	diff := ComputePriceDiff(current, extremes.Highest)

	reasons := make([]string, 0, 3)
	level := LevelNone

	if current.LessThanOrEqual(extremes.Lowest) {
		reasons = append(reasons, ReasonFloorTouch)
		level = LevelHigh
	}

	if diff.PercentDiff.GreaterThanOrEqual(policy.DropThresholdPct) {
		reasons = append(reasons, fmt.Sprintf(
			"price dropped %s%% from the rolling-window high %s (threshold %s%%)",
			diff.PercentDiff.StringFixed(2), extremes.Highest.StringFixed(2), policy.DropThresholdPct.String(),
		))
		switch level {
		case LevelNone:
			level = LevelMedium
		case LevelMedium:
			level = LevelHigh
		}
	}

	if extremes.Highest.IsPositive() {
		swing := extremes.Range.Div(extremes.Highest).Mul(hundred)
		if swing.GreaterThan(policy.VolatilityPct) {
			reasons = append(reasons, fmt.Sprintf(
				"wide 24h swing: range %s is %s%% of the high (band %s%%)",
				extremes.Range.StringFixed(2), swing.StringFixed(2), policy.VolatilityPct.String(),
			))
			if level == LevelNone {
				level = LevelLow
			}
		}
	}

	decision.Reasons = reasons
	decision.Level = level
	decision.ShouldAlert = len(reasons) > 0
	decision.Extremes = &extremes
	decision.PriceDiff = &diff
	return decision
}

var decisionNamespace = uuid.MustParse("6f1d3c2a-8b4e-4a57-9c0e-1f2a3b4c5d6e")

func decisionID(productID string, current decimal.Decimal, at time.Time) string {
	key := productID + "|" + current.String() + "|" + at.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(decisionNamespace, []byte(key)).String()
}

// Engine carries the runtime-adjustable drop threshold.
type Engine struct {
	mu         sync.RWMutex
	threshold  decimal.Decimal
	volatility decimal.Decimal
	clock      clock.Clock
	logger     zerolog.Logger
}

// NewEngine builds an engine. Negative thresholds are normalised like SetThreshold does;
// a non-positive volatility band falls back to DefaultVolatilityPct.
func NewEngine(policy Policy, clk clock.Clock, logger zerolog.Logger) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	e := &Engine{
		clock:  clk,
		logger: logger.With().Str("component", "alert_engine").Logger(),
	}
	e.threshold = e.normaliseThreshold(policy.DropThresholdPct)
	e.volatility = policy.VolatilityPct
	if !e.volatility.IsPositive() {
		e.volatility = DefaultVolatilityPct
	}
	return e
}

// SetThreshold updates the drop threshold. Negative input reverts to DefaultThresholdPct.
func (e *Engine) SetThreshold(pct decimal.Decimal) {
	normalised := e.normaliseThreshold(pct)
	e.mu.Lock()
	e.threshold = normalised
	e.mu.Unlock()
}

// Threshold returns the current drop threshold.
func (e *Engine) Threshold() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threshold
}

// VolatilityBand returns the fixed swing band.
func (e *Engine) VolatilityBand() decimal.Decimal {
	return e.volatility
}

// Policy snapshots the engine's current knobs.
func (e *Engine) Policy() Policy {
	return Policy{DropThresholdPct: e.Threshold(), VolatilityPct: e.volatility}
}

func (e *Engine) normaliseThreshold(pct decimal.Decimal) decimal.Decimal {
	if pct.IsNegative() {
		e.logger.Warn().Str("requested", pct.String()).Str("default", DefaultThresholdPct.String()).
			Msg("negative drop threshold, falling back to default")
		return DefaultThresholdPct
	}
	return pct
}

// Evaluate runs the rules with the engine's policy, stamped with the engine clock.
func (e *Engine) Evaluate(productID string, current decimal.Decimal, window history.Window) Decision {
	return Evaluate(productID, current, window, e.Policy(), e.clock.Now())
}

// BatchEvaluate evaluates every product that has both a current price and a
// window entry, in the order of products. Products missing either are skipped.
func (e *Engine) BatchEvaluate(products []string, prices map[string]decimal.Decimal, windows map[string]history.Window) []Decision {
	policy := e.Policy()
	at := e.clock.Now()

	decisions := make([]Decision, 0, len(products))
	for _, product := range products {
		price, ok := prices[product]
		if !ok {
			e.logger.Warn().Str("product", product).Msg("no current price, skipping")
			continue
		}
		window, ok := windows[product]
		if !ok {
			e.logger.Warn().Str("product", product).Msg("no history window, skipping")
			continue
		}
		decisions = append(decisions, Evaluate(product, price, window, policy, at))
	}
	return decisions
}
