package app

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Threshold prints the effective alert knobs. A non-nil override is applied
// the way a runtime update would be, including negative-value normalisation.
func (a *App) Threshold(override *float64) error {
	engine := a.newEngine()
	if override != nil {
		engine.SetThreshold(decimal.NewFromFloat(*override))
	}
	fmt.Fprintf(a.Out, "drop threshold: %s%%\n", engine.Threshold().String())
	fmt.Fprintf(a.Out, "volatility band: %s%%\n", engine.VolatilityBand().String())
	fmt.Fprintf(a.Out, "window capacity: %d samples\n", a.Config.History.Capacity)
	return nil
}
