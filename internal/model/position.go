package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a held quantity of a symbol at a weighted average cost. A
// position with quantity <= 0 is deleted rather than retained.
type Position struct {
	Symbol       string
	Quantity     int64
	AvgPrice     decimal.Decimal
	CurrentPrice decimal.Decimal // zero value means "unknown": market value methods return zero
	UpdatedAt    time.Time
}

// MarketValue returns quantity * current price, or zero if the current
// price is unknown.
func (p Position) MarketValue() decimal.Decimal {
	if p.CurrentPrice.IsZero() {
		return decimal.Zero
	}
	return p.CurrentPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// CostBasis returns quantity * average price.
func (p Position) CostBasis() decimal.Decimal {
	return p.AvgPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnL returns market value minus cost basis, or zero if the
// current price is unknown.
func (p Position) UnrealizedPnL() decimal.Decimal {
	if p.CurrentPrice.IsZero() {
		return decimal.Zero
	}
	return p.MarketValue().Sub(p.CostBasis())
}
