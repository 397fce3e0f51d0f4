// Package candle folds a stream of ticks into multi-timeframe OHLCV
// candles, one in-progress candle per (symbol, timeframe) pair, emitting
// each candle when its bucket closes.
package candle

import (
	"context"
	"log/slog"
	"time"

	"ktrader/internal/model"
)

type key struct {
	symbol string
	tf     model.Timeframe
}

// Aggregator builds one in-progress candle per (symbol, timeframe) and
// emits it to candleCh the moment a tick arrives for the next bucket.
// Runs in a single goroutine fed by Run; safe for concurrent FlushAll
// calls from the owning goroutine's shutdown path only (no other
// goroutine touches the aggregator's state).
type Aggregator struct {
	log         *slog.Logger
	timeframes  []model.Timeframe
	states      map[key]*model.Candle
	onDropped   func(symbol string, tf model.Timeframe)
}

// New constructs an Aggregator that maintains one in-progress candle per
// symbol for each of the given timeframes.
func New(log *slog.Logger, timeframes []model.Timeframe) *Aggregator {
	return &Aggregator{
		log:        log,
		timeframes: timeframes,
		states:     make(map[key]*model.Candle),
	}
}

// OnDropped installs a callback invoked when candleCh is full and a closed
// candle has to be dropped rather than block the aggregator goroutine.
func (a *Aggregator) OnDropped(cb func(symbol string, tf model.Timeframe)) {
	a.onDropped = cb
}

// Run consumes ticks from tickCh, emitting closed candles to candleCh,
// until tickCh is closed or ctx is canceled. On exit it flushes every
// in-progress candle as closed.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, candleCh chan<- model.Candle) {
	for {
		select {
		case <-ctx.Done():
			a.FlushAll(candleCh)
			return
		case tick, ok := <-tickCh:
			if !ok {
				a.FlushAll(candleCh)
				return
			}
			a.processTick(tick, candleCh)
		}
	}
}

// processTick advances the in-progress candle for every configured
// timeframe of tick.Symbol, emitting the previous bucket's candle whenever
// the tick's open_time differs from it.
func (a *Aggregator) processTick(tick model.Tick, candleCh chan<- model.Candle) {
	for _, tf := range a.timeframes {
		k := key{symbol: tick.Symbol, tf: tf}
		openTime := model.CandleOpenTime(tick.Timestamp, tf)

		cur, exists := a.states[k]
		switch {
		case !exists:
			a.states[k] = startCandle(tick, tf, openTime)
		case !openTime.Equal(cur.OpenTime):
			a.emit(*cur, candleCh)
			a.states[k] = startCandle(tick, tf, openTime)
		default:
			updateCandle(cur, tick)
		}
	}
}

func startCandle(tick model.Tick, tf model.Timeframe, openTime time.Time) *model.Candle {
	return &model.Candle{
		Symbol:    tick.Symbol,
		Timeframe: tf,
		OpenTime:  openTime,
		Open:      tick.Price,
		High:      tick.Price,
		Low:       tick.Price,
		Close:     tick.Price,
		Volume:    tick.Volume,
	}
}

func updateCandle(c *model.Candle, tick model.Tick) {
	if tick.Price.GreaterThan(c.High) {
		c.High = tick.Price
	}
	if tick.Price.LessThan(c.Low) {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume += tick.Volume
}

// FlushAll emits every in-progress candle as closed and clears all state.
// Used on shutdown.
func (a *Aggregator) FlushAll(candleCh chan<- model.Candle) {
	for k, c := range a.states {
		a.emit(*c, candleCh)
		delete(a.states, k)
	}
}

// CurrentCandle returns the in-progress candle for (symbol, tf), if any.
// Used by the application loop to source "current price" for risk checks.
func (a *Aggregator) CurrentCandle(symbol string, tf model.Timeframe) (model.Candle, bool) {
	c, ok := a.states[key{symbol: symbol, tf: tf}]
	if !ok {
		return model.Candle{}, false
	}
	return *c, true
}

// Clear drops in-progress state for symbol across every timeframe, without
// emitting it as closed. Used when a symbol is unsubscribed mid-session.
func (a *Aggregator) Clear(symbol string) {
	for _, tf := range a.timeframes {
		delete(a.states, key{symbol: symbol, tf: tf})
	}
}

func (a *Aggregator) emit(c model.Candle, candleCh chan<- model.Candle) {
	select {
	case candleCh <- c:
	default:
		if a.onDropped != nil {
			a.onDropped(c.Symbol, c.Timeframe)
		}
		if a.log != nil {
			a.log.Warn("candle: dropped closed candle, channel full", "symbol", c.Symbol, "timeframe", c.Timeframe.String())
		}
	}
}
