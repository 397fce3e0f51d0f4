// Package broker defines the contract the core trading loop consumes: an
// opaque capability to connect, place/cancel/amend orders, fetch account
// state, and stream market data. The wire protocol for any concrete
// adapter is that adapter's own concern; the core never depends on it.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"ktrader/internal/model"
)

// OpenOrder is the broker's view of a resting order, as returned by
// FetchOpenOrders.
type OpenOrder struct {
	BrokerOrderID  string
	Symbol         string
	Side           model.Side
	Quantity       int64
	FilledQuantity int64
	Price          decimal.Decimal
}

// Balance is the broker's account balance snapshot.
type Balance struct {
	TotalEquity    decimal.Decimal
	AvailableCash  decimal.Decimal
	MarginUsed     decimal.Decimal
	UnrealizedPnL  decimal.Decimal
}

// AmendRequest carries the optional fields of an amend_order call; a nil
// field means "leave unchanged".
type AmendRequest struct {
	Quantity *int64
	Price    *decimal.Decimal
}

// TickCallback is registered with SubscribeMarketData to receive live
// ticks for the subscribed symbols.
type TickCallback func(model.Tick)

// ErrorCallback is registered with SetErrorCallback to receive
// asynchronous adapter errors (connection drops, bad ticks, etc.) that the
// application republishes as ErrorEvents.
type ErrorCallback func(err error)

// Broker is the contract the core depends on. Every method may block on
// network I/O; callers pass a context to bound that wait per §5's timeout
// policy (login up to 120s, request/response up to 10s, subscribe up to
// 10s).
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	PlaceOrder(ctx context.Context, order model.Order) (brokerOrderID string, err error)
	CancelOrder(ctx context.Context, brokerOrderID string) (bool, error)
	AmendOrder(ctx context.Context, brokerOrderID string, req AmendRequest) (bool, error)

	FetchPositions(ctx context.Context) ([]model.Position, error)
	FetchOpenOrders(ctx context.Context) ([]OpenOrder, error)
	FetchBalance(ctx context.Context) (Balance, error)

	SubscribeMarketData(ctx context.Context, symbols []string, cb TickCallback) error
	UnsubscribeMarketData(ctx context.Context, symbols []string) error

	SetErrorCallback(cb ErrorCallback)
}
