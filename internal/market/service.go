// Package market wires the broker's tick stream into the candle
// aggregator and the event bus, and owns the delta-subscribe bookkeeping
// so the application loop never has to diff symbol sets itself. Grounded
// on original_source/krader/market/service.py's MarketDataService.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"ktrader/internal/broker"
	"ktrader/internal/candle"
	"ktrader/internal/eventbus"
	"ktrader/internal/events"
	"ktrader/internal/model"
	"ktrader/internal/store"
)

// Service manages market data subscriptions and feeds the candle
// aggregator from the broker's tick callback.
type Service struct {
	broker broker.Broker
	repo   store.Repository
	bus    *eventbus.Bus
	agg    *candle.Aggregator
	log    *slog.Logger

	tickCh   chan model.Tick
	candleCh chan model.Candle

	mu         sync.Mutex
	subscribed map[string]bool
}

// New constructs a Service. timeframes configures the candle aggregator
// it owns internally.
func New(b broker.Broker, repo store.Repository, bus *eventbus.Bus, timeframes []model.Timeframe, log *slog.Logger) *Service {
	agg := candle.New(log, timeframes)
	s := &Service{
		broker:     b,
		repo:       repo,
		bus:        bus,
		agg:        agg,
		log:        log,
		tickCh:     make(chan model.Tick, 4096),
		candleCh:   make(chan model.Candle, 2048),
		subscribed: make(map[string]bool),
	}
	agg.OnDropped(func(symbol string, tf model.Timeframe) {
		s.log.Warn("market: dropped candle, consumer too slow", "symbol", symbol, "timeframe", tf)
	})
	return s
}

// Run drives the aggregator and the candle-persist/publish pipeline until
// ctx is canceled. Call as a goroutine from the application loop.
func (s *Service) Run(ctx context.Context) {
	go s.agg.Run(ctx, s.tickCh, s.candleCh)

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-s.candleCh:
			if !ok {
				return
			}
			s.onCandleClose(ctx, c)
		}
	}
}

func (s *Service) onTick(tick model.Tick) {
	s.bus.Publish(events.MarketEvent{
		Symbol:    tick.Symbol,
		Type:      events.MarketEventTick,
		Tick:      &tick,
		Timestamp: tick.Timestamp,
	})

	select {
	case s.tickCh <- tick:
	default:
		s.log.Warn("market: tick channel full, dropping tick", "symbol", tick.Symbol)
	}
}

func (s *Service) onCandleClose(ctx context.Context, c model.Candle) {
	if err := s.repo.SaveCandle(ctx, c); err != nil {
		s.log.Error("market: save candle failed", "symbol", c.Symbol, "timeframe", c.Timeframe, "error", err)
	}
	s.bus.Publish(events.MarketEvent{
		Symbol:    c.Symbol,
		Type:      events.MarketEventCandle,
		Candle:    &c,
		Timestamp: c.OpenTime,
	})
	s.log.Debug("market: candle closed", "symbol", c.Symbol, "timeframe", c.Timeframe, "close", c.Close, "volume", c.Volume)
}

// Subscribe diffs symbols against the currently subscribed set and only
// forwards the new ones to the broker, matching the original's
// delta-subscribe behavior.
func (s *Service) Subscribe(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	var fresh []string
	for _, sym := range symbols {
		if !s.subscribed[sym] {
			fresh = append(fresh, sym)
		}
	}
	s.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	if err := s.broker.SubscribeMarketData(ctx, fresh, s.onTick); err != nil {
		return fmt.Errorf("market: subscribe: %w", err)
	}

	s.mu.Lock()
	for _, sym := range fresh {
		s.subscribed[sym] = true
	}
	s.mu.Unlock()

	s.log.Info("market: subscribed", "symbols", fresh)
	return nil
}

// Unsubscribe diffs symbols against the currently subscribed set and only
// forwards the ones actually subscribed, clearing the aggregator's
// in-progress state for each so a later resubscribe starts clean.
func (s *Service) Unsubscribe(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	var existing []string
	for _, sym := range symbols {
		if s.subscribed[sym] {
			existing = append(existing, sym)
		}
	}
	s.mu.Unlock()

	if len(existing) == 0 {
		return nil
	}

	if err := s.broker.UnsubscribeMarketData(ctx, existing); err != nil {
		return fmt.Errorf("market: unsubscribe: %w", err)
	}

	s.mu.Lock()
	for _, sym := range existing {
		delete(s.subscribed, sym)
		s.agg.Clear(sym)
	}
	s.mu.Unlock()

	s.log.Info("market: unsubscribed", "symbols", existing)
	return nil
}

// CurrentCandle exposes the aggregator's in-progress candle for (symbol,
// tf), used by the application loop to source a current price for risk
// checks without waiting for the candle to close.
func (s *Service) CurrentCandle(symbol string, tf model.Timeframe) (model.Candle, bool) {
	return s.agg.CurrentCandle(symbol, tf)
}

// AllCurrentCandles returns every in-progress candle for symbol across
// the service's configured timeframes, keyed by timeframe label, for
// building a strategy's MarketSnapshot.
func (s *Service) AllCurrentCandles(symbol string, timeframes []model.Timeframe) map[string]model.Candle {
	out := make(map[string]model.Candle, len(timeframes))
	for _, tf := range timeframes {
		if c, ok := s.agg.CurrentCandle(symbol, tf); ok {
			out[tf.String()] = c
		}
	}
	return out
}

// Shutdown unsubscribes every currently subscribed symbol and flushes any
// in-progress candle as closed.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	all := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		all = append(all, sym)
	}
	s.mu.Unlock()

	err := s.Unsubscribe(ctx, all)
	s.agg.FlushAll(s.candleCh)
	close(s.candleCh)
	return err
}
