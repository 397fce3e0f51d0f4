// Package events defines the concrete event payloads carried on the event
// bus, grounded on the original source's events/types.py event catalogue.
package events

import (
	"time"

	"github.com/shopspring/decimal"

	"ktrader/internal/eventbus"
	"ktrader/internal/model"
)

// MarketEventType distinguishes a tick update from a closed candle.
type MarketEventType string

const (
	MarketEventTick   MarketEventType = "tick"
	MarketEventCandle MarketEventType = "candle"
)

// MarketEvent carries a tick or a closed candle for a symbol.
type MarketEvent struct {
	Symbol    string
	Type      MarketEventType
	Tick      *model.Tick
	Candle    *model.Candle
	Timestamp time.Time
}

func (MarketEvent) EventKind() eventbus.Kind { return eventbus.KindMarket }

// SignalEvent carries a strategy's trading signal.
type SignalEvent struct {
	SignalID   string
	StrategyName string
	Symbol     string
	Action     model.Action
	Confidence float64
	Reason     string
	SuggestedQuantity int64
	Metadata   map[string]any
	Timestamp  time.Time
}

func (SignalEvent) EventKind() eventbus.Kind { return eventbus.KindSignal }

// OrderEventType distinguishes which lifecycle transition produced an
// OrderEvent.
type OrderEventType string

const (
	OrderEventNew      OrderEventType = "new"
	OrderEventPartial  OrderEventType = "partial"
	OrderEventFilled   OrderEventType = "filled"
	OrderEventCanceled OrderEventType = "canceled"
	OrderEventRejected OrderEventType = "rejected"
)

// OrderEvent carries an order lifecycle transition.
type OrderEvent struct {
	OrderID string
	Type    OrderEventType
	Order   model.Order
}

func (OrderEvent) EventKind() eventbus.Kind { return eventbus.KindOrder }

// FillEvent carries an applied fill.
type FillEvent struct {
	FillID   string
	OrderID  string
	Quantity int64
	Price    decimal.Decimal
}

func (FillEvent) EventKind() eventbus.Kind { return eventbus.KindFill }

// ControlCommand is one of the control-plane commands.
type ControlCommand string

const (
	ControlPause    ControlCommand = "pause"
	ControlResume   ControlCommand = "resume"
	ControlShutdown ControlCommand = "shutdown"
	ControlKill     ControlCommand = "kill"
)

// ControlEvent carries a control-plane transition.
type ControlEvent struct {
	Command ControlCommand
	Reason  string
}

func (ControlEvent) EventKind() eventbus.Kind { return eventbus.KindControl }

// ErrorSeverity classifies an ErrorEvent for log routing and alerting.
type ErrorSeverity string

const (
	SeverityWarning  ErrorSeverity = "warning"
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorEvent carries an operational error for logging/notification.
type ErrorEvent struct {
	ErrorType string
	Message   string
	Severity  ErrorSeverity
	Context   map[string]any
}

func (ErrorEvent) EventKind() eventbus.Kind { return eventbus.KindError }
