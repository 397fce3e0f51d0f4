package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is a lifecycle state of an Order.
type OrderStatus string

const (
	OrderPendingNew   OrderStatus = "PENDING_NEW"
	OrderSubmitted    OrderStatus = "SUBMITTED"
	OrderPartialFill  OrderStatus = "PARTIAL_FILL"
	OrderFilled       OrderStatus = "FILLED"
	OrderCanceled     OrderStatus = "CANCELED"
	OrderRejected     OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected:
		return true
	default:
		return false
	}
}

// IsActive reports whether an order in this status is still working.
func (s OrderStatus) IsActive() bool {
	switch s {
	case OrderPendingNew, OrderSubmitted, OrderPartialFill:
		return true
	default:
		return false
	}
}

// validTransitions is the order state machine table. Any transition not
// listed here fails with ErrInvalidTransition.
var validTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderPendingNew: {
		OrderSubmitted: true,
		OrderRejected:  true,
	},
	OrderSubmitted: {
		OrderPartialFill: true,
		OrderFilled:      true,
		OrderCanceled:    true,
		OrderRejected:    true,
	},
	OrderPartialFill: {
		OrderPartialFill: true, // multiple partial fills
		OrderFilled:      true,
		OrderCanceled:    true,
	},
	OrderFilled:   {},
	OrderCanceled: {},
	OrderRejected: {},
}

// ErrInvalidTransition is returned by Order.TransitionTo when the requested
// status is not reachable from the order's current status.
var ErrInvalidTransition = errors.New("model: invalid order transition")

// ErrInvalidFill is returned when a fill quantity is non-positive or
// exceeds the order's remaining quantity.
var ErrInvalidFill = errors.New("model: invalid fill")

// Side is the trading direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Order is the core order record: deterministic identity, lifecycle
// status, and fill accounting.
type Order struct {
	OrderID        string // deterministic idempotency key, see oms.GenerateOrderID
	SignalID       string
	Symbol         string
	Side           Side
	OrderType      OrderType
	Quantity       int64
	FilledQuantity int64
	Price          decimal.Decimal // required iff OrderType == LIMIT
	BrokerOrderID  string          // empty until submitted
	Status         OrderStatus
	RejectReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsTerminal reports whether the order's current status is terminal.
func (o *Order) IsTerminal() bool { return o.Status.IsTerminal() }

// IsActive reports whether the order's current status is still working.
func (o *Order) IsActive() bool { return o.Status.IsActive() }

// RemainingQuantity returns the unfilled portion of the order.
func (o *Order) RemainingQuantity() int64 { return o.Quantity - o.FilledQuantity }

// CanTransitionTo reports whether newStatus is reachable from the order's
// current status.
func (o *Order) CanTransitionTo(newStatus OrderStatus) bool {
	return validTransitions[o.Status][newStatus]
}

// TransitionTo moves the order to newStatus, or returns ErrInvalidTransition
// if the move is not in the state machine table.
func (o *Order) TransitionTo(newStatus OrderStatus) error {
	if !o.CanTransitionTo(newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, newStatus)
	}
	o.Status = newStatus
	o.UpdatedAt = time.Now()
	return nil
}

// ApplyFill applies a fill of the given quantity, transitioning to FILLED
// once fully filled or to PARTIAL_FILL on the first partial fill.
func (o *Order) ApplyFill(quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidFill)
	}
	if quantity > o.RemainingQuantity() {
		return fmt.Errorf("%w: %d exceeds remaining %d", ErrInvalidFill, quantity, o.RemainingQuantity())
	}
	o.FilledQuantity += quantity
	o.UpdatedAt = time.Now()

	if o.FilledQuantity >= o.Quantity {
		return o.TransitionTo(OrderFilled)
	}
	if o.Status == OrderSubmitted {
		return o.TransitionTo(OrderPartialFill)
	}
	return nil
}

// MarkRejected transitions the order to REJECTED with the given reason.
func (o *Order) MarkRejected(reason string) error {
	o.RejectReason = reason
	return o.TransitionTo(OrderRejected)
}

// MarkCanceled transitions the order to CANCELED.
func (o *Order) MarkCanceled() error {
	return o.TransitionTo(OrderCanceled)
}

// MarkSubmitted records the broker order ID and transitions to SUBMITTED.
func (o *Order) MarkSubmitted(brokerOrderID string) error {
	o.BrokerOrderID = brokerOrderID
	return o.TransitionTo(OrderSubmitted)
}
