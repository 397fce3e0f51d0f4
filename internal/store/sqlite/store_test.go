package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ktrader/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(Config{Path: dbPath}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveAndGetOrder_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	order := model.Order{
		OrderID:   "ORD-1",
		Symbol:    "005930",
		Side:      model.SideBuy,
		OrderType: model.OrderTypeMarket,
		Quantity:  10,
		Price:     decimal.NewFromInt(50000),
		Status:    model.OrderPendingNew,
		CreatedAt: time.Now().Truncate(time.Second),
		UpdatedAt: time.Now().Truncate(time.Second),
	}
	require.NoError(t, s.SaveOrder(ctx, order))

	got, found, err := s.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, order.Symbol, got.Symbol)
	require.True(t, order.Price.Equal(got.Price))
	require.Equal(t, model.OrderPendingNew, got.Status)

	order.Status = model.OrderSubmitted
	order.BrokerOrderID = "BROKER-1"
	order.UpdatedAt = time.Now().Truncate(time.Second)
	require.NoError(t, s.UpdateOrder(ctx, order))

	got, found, err = s.GetOrderByBrokerID(ctx, "BROKER-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, model.OrderSubmitted, got.Status)
}

func TestStore_GetOpenOrders_OnlyNonTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOrder(ctx, model.Order{OrderID: "ORD-A", Symbol: "X", Price: decimal.Zero, Status: model.OrderSubmitted, CreatedAt: time.Now(), UpdatedAt: time.Now()}))
	require.NoError(t, s.SaveOrder(ctx, model.Order{OrderID: "ORD-B", Symbol: "X", Price: decimal.Zero, Status: model.OrderFilled, CreatedAt: time.Now(), UpdatedAt: time.Now()}))

	open, err := s.GetOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "ORD-A", open[0].OrderID)
}

func TestStore_CandleRoundTrip_OrderedAscending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		c := model.Candle{
			Symbol:    "005930",
			Timeframe: model.TF1m,
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			Open:      decimal.NewFromInt(100),
			High:      decimal.NewFromInt(110),
			Low:       decimal.NewFromInt(90),
			Close:     decimal.NewFromInt(105),
			Volume:    int64(100 + i),
		}
		require.NoError(t, s.SaveCandle(ctx, c))
	}

	got, err := s.GetCandles(ctx, "005930", model.TF1m, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.True(t, got[0].OpenTime.Before(got[1].OpenTime))
	require.True(t, got[1].OpenTime.Before(got[2].OpenTime))
}

func TestStore_PositionSaveAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos := model.Position{Symbol: "X", Quantity: 10, AvgPrice: decimal.NewFromInt(100), UpdatedAt: time.Now()}
	require.NoError(t, s.SavePosition(ctx, pos))

	positions, err := s.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	require.NoError(t, s.DeletePosition(ctx, "X"))
	positions, err = s.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 0)
}

func TestStore_RunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StartRun(ctx, "RUN-1", time.Now()))
	unfinished, err := s.GetUnfinishedRuns(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)

	require.NoError(t, s.EndRun(ctx, "RUN-1", model.RunCompleted, "", time.Now()))
	unfinished, err = s.GetUnfinishedRuns(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 0)
}

func TestStore_CountOrdersToday(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveOrder(ctx, model.Order{OrderID: "ORD-X", Symbol: "X", Price: decimal.Zero, Status: model.OrderSubmitted, CreatedAt: now, UpdatedAt: now}))

	count, err := s.CountOrdersToday(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
