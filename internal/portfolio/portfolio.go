// Package portfolio tracks positions, cash, and equity from fills and
// broker sync, mirroring the teacher's RWMutex-guarded-map-behind-a-
// snapshot shape but grounded on original_source's risk/portfolio.py for
// fill-application and broker-sync semantics: weighted average cost basis
// on BUY, delete on non-positive quantity on SELL, broker is always the
// source of truth for cash/equity.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ktrader/internal/broker"
	"ktrader/internal/eventbus"
	"ktrader/internal/events"
	"ktrader/internal/model"
	"ktrader/internal/store"
)

// Tracker maintains the live Portfolio view. It is the sole writer of
// positions; every reader gets a Clone()'d snapshot.
type Tracker struct {
	repo store.Repository
	log  *slog.Logger

	mu sync.RWMutex
	pf model.Portfolio
}

// New constructs a Tracker and subscribes it to FillEvent on bus.
func New(repo store.Repository, bus *eventbus.Bus, log *slog.Logger) *Tracker {
	t := &Tracker{
		repo: repo,
		log:  log,
		pf:   model.NewPortfolio(),
	}
	bus.Subscribe(eventbus.KindFill, t.onFillEvent)
	return t
}

// Portfolio returns a point-in-time snapshot, safe to read without
// further locking.
func (t *Tracker) Portfolio() model.Portfolio {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pf.Clone()
}

// Initialize loads persisted positions from the store on startup. Cash and
// equity are left zero until the first SyncWithBroker call, since the
// broker is the source of truth for those fields.
func (t *Tracker) Initialize(ctx context.Context) error {
	positions, err := t.repo.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("portfolio: load positions: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range positions {
		t.pf.Positions[p.Symbol] = p
	}
	t.log.Info("portfolio: loaded positions from database", "count", len(positions))
	return nil
}

// SyncWithBroker replaces cash/equity and reconciles the position set
// against the broker's reported positions (broker is source of truth): any
// locally-held symbol the broker no longer reports is deleted.
func (t *Tracker) SyncWithBroker(ctx context.Context, positions []model.Position, bal broker.Balance) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pf.Cash = bal.AvailableCash
	t.pf.TotalEquity = bal.TotalEquity

	brokerSymbols := make(map[string]bool, len(positions))
	for _, p := range positions {
		brokerSymbols[p.Symbol] = true
		t.pf.Positions[p.Symbol] = p
		if err := t.repo.SavePosition(ctx, p); err != nil {
			return fmt.Errorf("portfolio: save synced position %s: %w", p.Symbol, err)
		}
	}
	for symbol := range t.pf.Positions {
		if !brokerSymbols[symbol] {
			delete(t.pf.Positions, symbol)
			if err := t.repo.DeletePosition(ctx, symbol); err != nil {
				return fmt.Errorf("portfolio: delete stale position %s: %w", symbol, err)
			}
		}
	}
	t.pf.LastUpdated = time.Now()
	t.log.Info("portfolio: synced with broker", "positions", len(t.pf.Positions), "cash", t.pf.Cash, "equity", t.pf.TotalEquity)
	return nil
}

// UpdatePrice records the latest known price for symbol, used to compute
// unrealized P&L and exposure without waiting for a fill.
func (t *Tracker) UpdatePrice(symbol string, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pos, ok := t.pf.Positions[symbol]; ok {
		pos.CurrentPrice = price
		pos.UpdatedAt = time.Now()
		t.pf.Positions[symbol] = pos
	}
}

func (t *Tracker) onFillEvent(ctx context.Context, ev eventbus.Event) error {
	fe, ok := ev.(events.FillEvent)
	if !ok {
		return nil
	}
	return t.ApplyFill(ctx, fe.OrderID, fe.Quantity, fe.Price)
}

// ApplyFill updates the position for the fill's order: weighted-average
// cost basis on BUY, quantity reduction on SELL with deletion once the
// remaining quantity is non-positive.
func (t *Tracker) ApplyFill(ctx context.Context, orderID string, quantity int64, price decimal.Decimal) error {
	order, found, err := t.repo.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("portfolio: lookup order %s: %w", orderID, err)
	}
	if !found {
		t.log.Warn("portfolio: fill for unknown order", "order_id", orderID)
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current, hasPosition := t.pf.Positions[order.Symbol]

	switch order.Side {
	case model.SideBuy:
		if hasPosition {
			newQty := current.Quantity + quantity
			totalCost := current.AvgPrice.Mul(decimal.NewFromInt(current.Quantity)).
				Add(price.Mul(decimal.NewFromInt(quantity)))
			current.Quantity = newQty
			current.AvgPrice = totalCost.Div(decimal.NewFromInt(newQty))
			current.UpdatedAt = time.Now()
			t.pf.Positions[order.Symbol] = current
		} else {
			t.pf.Positions[order.Symbol] = model.Position{
				Symbol:    order.Symbol,
				Quantity:  quantity,
				AvgPrice:  price,
				UpdatedAt: time.Now(),
			}
		}
	case model.SideSell:
		if hasPosition {
			sellQty := quantity
			if sellQty > current.Quantity {
				sellQty = current.Quantity
			}
			t.pf.DailyPnL = t.pf.DailyPnL.Add(realizedPnLOnSell(current.AvgPrice, sellQty, price))

			current.Quantity -= quantity
			current.UpdatedAt = time.Now()
			if current.Quantity <= 0 {
				delete(t.pf.Positions, order.Symbol)
				if err := t.repo.DeletePosition(ctx, order.Symbol); err != nil {
					return fmt.Errorf("portfolio: delete flattened position %s: %w", order.Symbol, err)
				}
				t.pf.LastUpdated = time.Now()
				t.log.Info("portfolio: position flattened", "symbol", order.Symbol)
				return nil
			}
			t.pf.Positions[order.Symbol] = current
		} else {
			t.log.Warn("portfolio: sell fill with no existing position", "symbol", order.Symbol)
			return nil
		}
	}

	if pos, ok := t.pf.Positions[order.Symbol]; ok {
		if err := t.repo.SavePosition(ctx, pos); err != nil {
			return fmt.Errorf("portfolio: save position %s: %w", order.Symbol, err)
		}
	}
	t.pf.LastUpdated = time.Now()
	t.log.Info("portfolio: position updated from fill", "symbol", order.Symbol, "side", order.Side, "quantity", quantity, "price", price)
	return nil
}
