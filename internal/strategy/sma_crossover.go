package strategy

import (
	"context"
	"time"

	"ktrader/internal/model"
	"ktrader/internal/oms"
)

// SMACrossover is a simple SMA crossover strategy bound to a fixed set of
// symbols and a fixed timeframe.
//
// Buy signal: fast SMA crosses above slow SMA (golden cross).
// Sell signal: fast SMA crosses below slow SMA (death cross).
// An optional RSI filter blocks buys when overbought (>70) and sells when
// oversold (<30).
type SMACrossover struct {
	Base

	symbols    []string
	timeframe  string
	fastPeriod int
	slowPeriod int
	quantity   int64
	rsiEnabled bool
	rsiPeriod  int

	perSymbol map[string]*smaCrossoverState
}

type smaCrossoverState struct {
	fast, slow *SMA
	rsi        *RSI
	prevFast   float64
	prevSlow   float64
	ready      bool
}

// NewSMACrossover creates a crossover strategy for the given symbols and
// timeframe label (e.g. "5m"). fastPeriod must be less than slowPeriod.
func NewSMACrossover(symbols []string, timeframe string, fastPeriod, slowPeriod int, quantity int64, enableRSI bool, rsiPeriod int) *SMACrossover {
	return &SMACrossover{
		symbols:    symbols,
		timeframe:  timeframe,
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		quantity:   quantity,
		rsiEnabled: enableRSI,
		rsiPeriod:  rsiPeriod,
		perSymbol:  make(map[string]*smaCrossoverState),
	}
}

func init() {
	MustRegister("sma_crossover", func() Strategy {
		return NewSMACrossover(nil, "5m", 9, 21, 0, true, 14)
	})
}

func (s *SMACrossover) Name() string      { return "sma_crossover" }
func (s *SMACrossover) Symbols() []string { return s.symbols }

func (s *SMACrossover) stateFor(symbol string) *smaCrossoverState {
	st, ok := s.perSymbol[symbol]
	if !ok {
		st = &smaCrossoverState{
			fast: NewSMA(s.fastPeriod),
			slow: NewSMA(s.slowPeriod),
			rsi:  NewRSI(s.rsiPeriod),
		}
		s.perSymbol[symbol] = st
	}
	return st
}

func (s *SMACrossover) OnMarketData(ctx context.Context, snap MarketSnapshot, sctx StrategyContext) ([]model.Signal, error) {
	candle, ok := snap.CurrentCandles[s.timeframe]
	if !ok {
		return nil, nil
	}

	st := s.stateFor(snap.Symbol)
	st.fast.Update(candle)
	st.slow.Update(candle)
	if s.rsiEnabled {
		st.rsi.Update(candle)
	}

	if !st.fast.Ready() || !st.slow.Ready() {
		return nil, nil
	}

	fastVal, slowVal := st.fast.Value(), st.slow.Value()
	defer func() {
		st.prevFast, st.prevSlow, st.ready = fastVal, slowVal, true
	}()

	if !st.ready {
		return nil, nil
	}

	if st.prevFast <= st.prevSlow && fastVal > slowVal {
		if s.rsiEnabled && st.rsi.Ready() && st.rsi.Value() > 70 {
			return nil, nil
		}
		return []model.Signal{s.signal(snap.Symbol, snap.Timestamp, model.ActionBuy, "SMA golden cross (fast > slow)")}, nil
	}

	if st.prevFast >= st.prevSlow && fastVal < slowVal {
		if s.rsiEnabled && st.rsi.Ready() && st.rsi.Value() < 30 {
			return nil, nil
		}
		return []model.Signal{s.signal(snap.Symbol, snap.Timestamp, model.ActionSell, "SMA death cross (fast < slow)")}, nil
	}

	return nil, nil
}

func (s *SMACrossover) signal(symbol string, ts time.Time, action model.Action, reason string) model.Signal {
	return model.Signal{
		SignalID:          oms.GenerateSignalID(s.Name(), symbol, ts),
		StrategyName:      s.Name(),
		Symbol:            symbol,
		Action:            action,
		Confidence:        0.5,
		Reason:            reason,
		SuggestedQuantity: s.quantity,
		Timestamp:         ts,
	}
}
