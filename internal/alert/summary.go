package alert

import (
	"fmt"
	"strings"
	"time"
)

// Summary aggregates a batch of decisions.
type Summary struct {
	TotalChecked      int      `json:"total_checked"`
	TotalTriggered    int      `json:"total_triggered"`
	High              int      `json:"high"`
	Medium            int      `json:"medium"`
	Low               int      `json:"low"`
	TriggeredProducts []string `json:"triggered_products"`
	HighLevelProducts []string `json:"high_level_products"`
}

// Summarize counts triggered decisions per level.
func Summarize(decisions []Decision) Summary {
	sum := Summary{
		TotalChecked:      len(decisions),
		TriggeredProducts: []string{},
		HighLevelProducts: []string{},
	}
	for _, d := range decisions {
		if !d.ShouldAlert {
			continue
		}
		sum.TotalTriggered++
		sum.TriggeredProducts = append(sum.TriggeredProducts, d.ProductID)
		switch d.Level {
		case LevelHigh:
			sum.High++
			sum.HighLevelProducts = append(sum.HighLevelProducts, d.ProductID)
		case LevelMedium:
			sum.Medium++
		case LevelLow:
			sum.Low++
		}
	}
	return sum
}

// Message renders the decision as plain text.
func (d Decision) Message() string {
	if !d.ShouldAlert {
		return fmt.Sprintf("%s: no alert (%s)", d.ProductID, strings.Join(d.Reasons, "; "))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] Gold price alert - %s\n", strings.ToUpper(d.Level.String()), d.ProductID)
	fmt.Fprintf(&b, "Current: %s CNY/g\n", d.CurrentPrice.StringFixed(2))

	if d.Extremes != nil {
		ext := d.Extremes.Rounded()
		fmt.Fprintf(&b, "Window high: %s  low: %s  range: %s  (%d samples)\n",
			ext.Highest.StringFixed(2), ext.Lowest.StringFixed(2), ext.Range.StringFixed(2), ext.SampleCount)
	}
	if d.PriceDiff != nil {
		diff := d.PriceDiff.Rounded()
		fmt.Fprintf(&b, "Below high: %s CNY/g (%s%%)\n", diff.AbsoluteDiff.StringFixed(2), diff.PercentDiff.StringFixed(2))
	}

	b.WriteString("Reasons:\n")
	for i, reason := range d.Reasons {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, reason)
	}
	fmt.Fprintf(&b, "Time: %s\n", d.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}
