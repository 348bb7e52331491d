package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one observed gold price. Samples are never mutated after creation.
type PriceSample struct {
	Price     decimal.Decimal
	Source    string
	Timestamp time.Time
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID           string
	ProductID    string
	Level        string
	CurrentPrice decimal.Decimal
	HighestPrice decimal.Decimal
	LowestPrice  decimal.Decimal
	DropPct      decimal.Decimal
	ThresholdPct decimal.Decimal
	Reasons      []string
	Channels     []string
	DecidedAt    time.Time
	CreatedAt    time.Time
}
