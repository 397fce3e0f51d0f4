// Package store defines the persistence port every core component depends
// on, and provides a SQLite-backed implementation in its sqlite
// subpackage. The port is deliberately narrow and semantic (no SQL leaks
// across the boundary) so the dialect stays an implementation detail, per
// the "persistence SQL dialect is out of scope" boundary.
package store

import (
	"context"
	"time"

	"ktrader/internal/model"
)

// Repository is the durable-state port consumed by the OMS, portfolio
// tracker, reconciler, and application loop.
type Repository interface {
	// Candles
	SaveCandle(ctx context.Context, c model.Candle) error
	GetCandles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error)

	// Signals
	SaveSignal(ctx context.Context, s model.Signal) error

	// Orders
	SaveOrder(ctx context.Context, o model.Order) error
	UpdateOrder(ctx context.Context, o model.Order) error
	GetOrder(ctx context.Context, orderID string) (model.Order, bool, error)
	GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (model.Order, bool, error)
	GetOpenOrders(ctx context.Context) ([]model.Order, error)
	CountOrdersToday(ctx context.Context, now time.Time) (int, error)

	// Fills
	SaveFill(ctx context.Context, f model.Fill) error
	GetFillsForOrder(ctx context.Context, orderID string) ([]model.Fill, error)

	// Positions
	SavePosition(ctx context.Context, p model.Position) error
	DeletePosition(ctx context.Context, symbol string) error
	GetPositions(ctx context.Context) ([]model.Position, error)

	// Runs
	GetUnfinishedRuns(ctx context.Context) ([]model.Run, error)
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	EndRun(ctx context.Context, runID string, status model.RunStatus, errMsg string, endedAt time.Time) error

	// Errors
	LogError(ctx context.Context, e model.ErrorRecord) error

	Close() error
}
