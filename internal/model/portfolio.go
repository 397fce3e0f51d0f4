package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio is an in-memory snapshot of account state: positions, cash,
// equity and today's realized/unrealized movement. It is owned by the
// portfolio tracker; every other component reads a copy, never the live
// struct, so callers should treat a Portfolio value as immutable once
// handed to them.
type Portfolio struct {
	Positions        map[string]Position
	Cash             decimal.Decimal
	TotalEquity      decimal.Decimal
	DailyPnL         decimal.Decimal
	DailyStartEquity decimal.Decimal
	LastUpdated      time.Time
}

// NewPortfolio returns an empty portfolio with a zeroed position map.
func NewPortfolio() Portfolio {
	return Portfolio{Positions: make(map[string]Position)}
}

// GetPosition returns the position for symbol and whether one exists.
func (p Portfolio) GetPosition(symbol string) (Position, bool) {
	pos, ok := p.Positions[symbol]
	return pos, ok
}

// GetPositionQuantity returns the held quantity for symbol, or 0 if none.
func (p Portfolio) GetPositionQuantity(symbol string) int64 {
	if pos, ok := p.Positions[symbol]; ok {
		return pos.Quantity
	}
	return 0
}

// TotalPositionValue sums MarketValue() across every held position.
func (p Portfolio) TotalPositionValue() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.Positions {
		total = total.Add(pos.MarketValue())
	}
	return total
}

// ExposurePct returns total position value as a fraction of total equity,
// or zero if equity is not positive.
func (p Portfolio) ExposurePct() decimal.Decimal {
	if p.TotalEquity.Sign() <= 0 {
		return decimal.Zero
	}
	return p.TotalPositionValue().Div(p.TotalEquity)
}

// Clone returns a deep-enough copy (the position map is copied; Position
// values are copied by value) suitable for handing to a reader as a
// snapshot.
func (p Portfolio) Clone() Portfolio {
	cp := p
	cp.Positions = make(map[string]Position, len(p.Positions))
	for k, v := range p.Positions {
		cp.Positions[k] = v
	}
	return cp
}
