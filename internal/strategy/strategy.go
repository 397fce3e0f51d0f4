// Package strategy provides the pluggable trading-strategy interface and
// registry. Strategies receive market snapshots and portfolio context and
// return trade candidates; they never place orders directly — signals are
// validated and executed by the risk validator and order manager.
package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ktrader/internal/model"
)

// MarketSnapshot is the current market state handed to a strategy for one
// symbol: the latest tick (if any) plus whatever candle history the caller
// has assembled, keyed by timeframe label ("1m", "5m", "60m", ...).
type MarketSnapshot struct {
	Symbol             string
	Timestamp          time.Time
	LastTick           *model.Tick
	CurrentCandles     map[string]model.Candle
	HistoricalCandles  map[string][]model.Candle
}

// LastPrice returns the most recent price available in the snapshot: the
// last tick if present, otherwise the close of any current candle.
func (m MarketSnapshot) LastPrice() (decimal.Decimal, bool) {
	if m.LastTick != nil {
		return m.LastTick.Price, true
	}
	for _, c := range m.CurrentCandles {
		return c.Close, true
	}
	return decimal.Decimal{}, false
}

// StrategyContext carries portfolio and system state a strategy may need
// to shape its decision beyond raw price action.
type StrategyContext struct {
	Portfolio         model.Portfolio
	ActiveOrdersCount int
	DailyTradesCount  int
	LastSignalTime    *time.Time
	IsMarketOpen      bool
	Metadata          map[string]any
}

// Strategy is the interface every trading strategy implements. Strategies
// are stateful across calls (cooldowns, last-seen indicator values) but must
// not be shared across goroutines without external synchronization.
type Strategy interface {
	// Name is the unique registry key for this strategy.
	Name() string

	// Symbols lists the symbols this strategy trades. An empty slice means
	// the strategy is universe-driven and decides per call via Metadata.
	Symbols() []string

	// OnMarketData is called whenever relevant market data updates occur
	// for Symbol. It returns zero or more signals; HOLD signals are valid
	// and are persisted but never produce an order.
	OnMarketData(ctx context.Context, snapshot MarketSnapshot, sctx StrategyContext) ([]model.Signal, error)

	// OnStart is called once before the first OnMarketData call.
	OnStart(ctx context.Context) error

	// OnStop is called once when the strategy is being retired.
	OnStop(ctx context.Context) error

	// OnFill is called when an order fill occurs for a symbol this
	// strategy trades, so it can update internal state (cooldowns, etc).
	OnFill(ctx context.Context, symbol string, side model.Side, quantity int64, price decimal.Decimal) error
}

// Base supplies no-op lifecycle hooks so concrete strategies only need to
// implement Name, Symbols, and OnMarketData.
type Base struct{}

func (Base) OnStart(ctx context.Context) error { return nil }
func (Base) OnStop(ctx context.Context) error  { return nil }
func (Base) OnFill(ctx context.Context, symbol string, side model.Side, quantity int64, price decimal.Decimal) error {
	return nil
}
