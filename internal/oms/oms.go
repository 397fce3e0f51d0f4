// Package oms implements the Order Management System: idempotent order
// submission, fill application, and cancellation, ported from
// original_source's execution/oms.py onto the Go order state machine in
// internal/model.
package oms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ktrader/internal/broker"
	"ktrader/internal/eventbus"
	"ktrader/internal/events"
	"ktrader/internal/model"
	"ktrader/internal/store"
)

// Bus is the narrow publish surface OMS depends on (satisfied by
// *eventbus.Bus).
type Bus interface {
	Publish(ev eventbus.Event)
}

// OMS manages order lifecycle from an approved signal through submission
// and fill application. It is the sole writer of any given order_id.
type OMS struct {
	broker broker.Broker
	repo   store.Repository
	bus    Bus
	log    *slog.Logger

	mu           sync.RWMutex
	activeOrders map[string]*model.Order
	paused       bool
}

// New constructs an OMS.
func New(b broker.Broker, repo store.Repository, bus Bus, log *slog.Logger) *OMS {
	return &OMS{
		broker:       b,
		repo:         repo,
		bus:          bus,
		log:          log,
		activeOrders: make(map[string]*model.Order),
	}
}

func (o *OMS) IsPaused() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.paused
}

func (o *OMS) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
	o.log.Warn("oms: paused, new signals will be rejected")
}

func (o *OMS) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	o.log.Info("oms: resumed")
}

// LoadActiveOrders populates the in-memory active-order set from the store
// on startup.
func (o *OMS) LoadActiveOrders(ctx context.Context) error {
	open, err := o.repo.GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("oms: load active orders: %w", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range open {
		ord := open[i]
		o.activeOrders[ord.OrderID] = &ord
	}
	o.log.Info("oms: loaded active orders", "count", len(open))
	return nil
}

// ProcessApprovedSignal creates and submits an order for a risk-approved
// signal, applying the idempotent-submission rule from §4.6: an existing
// non-terminal order with the same order_id is returned unchanged; an
// existing terminal order is resubmitted under a suffixed order_id.
func (o *OMS) ProcessApprovedSignal(ctx context.Context, signal model.Signal, approvedQuantity int64, price decimal.Decimal) (*model.Order, error) {
	if o.IsPaused() {
		o.log.Warn("oms: paused, rejecting signal", "signal_id", signal.SignalID)
		return nil, nil
	}
	if signal.Action == model.ActionHold {
		return nil, nil
	}

	orderID := GenerateOrderID(signal, approvedQuantity)

	existing, found, err := o.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("oms: lookup existing order: %w", err)
	}
	if found {
		if !existing.IsTerminal() {
			o.log.Info("oms: order already in flight", "order_id", orderID, "status", existing.Status)
			return &existing, nil
		}
		orderID = orderID + "-" + uuid.New().String()[:8]
	}

	side := model.SideBuy
	if signal.Action == model.ActionSell {
		side = model.SideSell
	}
	orderType := model.OrderTypeMarket
	if !price.IsZero() {
		orderType = model.OrderTypeLimit
	}

	order := &model.Order{
		OrderID:   orderID,
		SignalID:  signal.SignalID,
		Symbol:    signal.Symbol,
		Side:      side,
		OrderType: orderType,
		Quantity:  approvedQuantity,
		Price:     price,
		Status:    model.OrderPendingNew,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := o.repo.SaveOrder(ctx, *order); err != nil {
		return nil, fmt.Errorf("oms: save new order: %w", err)
	}
	o.setActive(order)
	o.publishOrder(events.OrderEventNew, *order)

	brokerOrderID, err := o.broker.PlaceOrder(ctx, *order)
	switch {
	case err == nil:
		if terr := order.MarkSubmitted(brokerOrderID); terr != nil {
			return nil, terr
		}
		o.log.Info("oms: order submitted", "order_id", order.OrderID, "broker_order_id", brokerOrderID)
	case broker.IsRejected(err):
		_ = order.MarkRejected(err.Error())
		o.log.Warn("oms: order rejected", "order_id", order.OrderID, "error", err)
		o.publishOrder(events.OrderEventRejected, *order)
	default:
		_ = order.MarkRejected(fmt.Sprintf("broker error: %v", err))
		o.log.Error("oms: broker error placing order", "order_id", order.OrderID, "error", err)
		o.publishOrder(events.OrderEventRejected, *order)
	}

	if err := o.repo.UpdateOrder(ctx, *order); err != nil {
		return nil, fmt.Errorf("oms: update order after submit: %w", err)
	}

	if order.IsTerminal() {
		o.removeActive(order.OrderID)
	} else {
		o.setActive(order)
	}

	return order, nil
}

// HandleFill applies a broker fill notification to the corresponding
// order: persists the fill, advances the order state machine, and
// publishes FillEvent then the resulting OrderEvent. The store write
// happens before the publish call in every path, preserving the
// write-then-publish ordering required between producers.
func (o *OMS) HandleFill(ctx context.Context, brokerOrderID string, quantity int64, price decimal.Decimal) error {
	order, err := o.findByBrokerID(ctx, brokerOrderID)
	if err != nil {
		return err
	}
	if order == nil {
		o.log.Warn("oms: unknown order for fill", "broker_order_id", brokerOrderID)
		return nil
	}

	fills, err := o.repo.GetFillsForOrder(ctx, order.OrderID)
	if err != nil {
		return fmt.Errorf("oms: fetch existing fills: %w", err)
	}
	seq := len(fills) + 1
	fillID := FillID(order.OrderID, seq)

	fill := model.Fill{
		FillID:   fillID,
		OrderID:  order.OrderID,
		Quantity: quantity,
		Price:    price,
		FilledAt: time.Now(),
	}
	if err := o.repo.SaveFill(ctx, fill); err != nil {
		return fmt.Errorf("oms: save fill: %w", err)
	}

	if err := order.ApplyFill(quantity); err != nil {
		return fmt.Errorf("oms: apply fill: %w", err)
	}
	if err := o.repo.UpdateOrder(ctx, *order); err != nil {
		return fmt.Errorf("oms: update order after fill: %w", err)
	}

	o.bus.Publish(events.FillEvent{FillID: fillID, OrderID: order.OrderID, Quantity: quantity, Price: price})

	evType := events.OrderEventPartial
	if order.Status == model.OrderFilled {
		evType = events.OrderEventFilled
	}
	o.publishOrder(evType, *order)

	if order.IsTerminal() {
		o.removeActive(order.OrderID)
	} else {
		o.setActive(order)
	}
	return nil
}

// HandleCancel applies a broker cancel confirmation.
func (o *OMS) HandleCancel(ctx context.Context, brokerOrderID string) error {
	order, err := o.findByBrokerID(ctx, brokerOrderID)
	if err != nil {
		return err
	}
	if order == nil {
		o.log.Warn("oms: unknown order for cancel", "broker_order_id", brokerOrderID)
		return nil
	}
	if order.IsTerminal() {
		return nil
	}
	if err := order.MarkCanceled(); err != nil {
		return err
	}
	if err := o.repo.UpdateOrder(ctx, *order); err != nil {
		return fmt.Errorf("oms: update order after cancel: %w", err)
	}
	o.publishOrder(events.OrderEventCanceled, *order)
	o.removeActive(order.OrderID)
	return nil
}

// CancelOrder requests cancellation of an active order via the broker.
func (o *OMS) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	o.mu.RLock()
	order, ok := o.activeOrders[orderID]
	o.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if order.BrokerOrderID == "" || order.IsTerminal() {
		return order.IsTerminal(), nil
	}
	ok2, err := o.broker.CancelOrder(ctx, order.BrokerOrderID)
	if err != nil {
		o.log.Error("oms: cancel failed", "order_id", orderID, "error", err)
		return false, err
	}
	return ok2, nil
}

// CancelAllOrders cancels every active order, returning the count of
// successful cancel requests.
func (o *OMS) CancelAllOrders(ctx context.Context) int {
	o.mu.RLock()
	ids := make([]string, 0, len(o.activeOrders))
	for id := range o.activeOrders {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	canceled := 0
	for _, id := range ids {
		if ok, _ := o.CancelOrder(ctx, id); ok {
			canceled++
		}
	}
	return canceled
}

func (o *OMS) GetActiveOrders() []model.Order {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]model.Order, 0, len(o.activeOrders))
	for _, ord := range o.activeOrders {
		out = append(out, *ord)
	}
	return out
}

func (o *OMS) findByBrokerID(ctx context.Context, brokerOrderID string) (*model.Order, error) {
	o.mu.RLock()
	for _, ord := range o.activeOrders {
		if ord.BrokerOrderID == brokerOrderID {
			cp := *ord
			o.mu.RUnlock()
			return &cp, nil
		}
	}
	o.mu.RUnlock()

	ord, found, err := o.repo.GetOrderByBrokerID(ctx, brokerOrderID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &ord, nil
}

func (o *OMS) setActive(order *model.Order) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := *order
	o.activeOrders[order.OrderID] = &cp
}

func (o *OMS) removeActive(orderID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeOrders, orderID)
}

func (o *OMS) publishOrder(evType events.OrderEventType, order model.Order) {
	o.bus.Publish(events.OrderEvent{OrderID: order.OrderID, Type: evType, Order: order})
}
