// Package model holds the data types shared across the trading core:
// ticks, candles, signals, orders, fills, positions and the portfolio
// snapshot, plus the run/error records persisted for operational history.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidTick is returned when tick construction inputs violate an
// invariant (non-positive price or negative volume).
var ErrInvalidTick = errors.New("model: invalid tick")

// Tick is an immutable snapshot of a single trade or quote update for a
// symbol.
type Tick struct {
	Symbol    string
	Price     decimal.Decimal
	Volume    int64
	Timestamp time.Time
}

// NewTick validates and constructs a Tick. Price must be positive and
// volume must be non-negative, per the data model invariants.
func NewTick(symbol string, price decimal.Decimal, volume int64, ts time.Time) (Tick, error) {
	if price.Sign() <= 0 {
		return Tick{}, ErrInvalidTick
	}
	if volume < 0 {
		return Tick{}, ErrInvalidTick
	}
	return Tick{Symbol: symbol, Price: price, Volume: volume, Timestamp: ts}, nil
}
