package oms

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ktrader/internal/broker/mock"
	"ktrader/internal/eventbus"
	"ktrader/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memRepo is a minimal in-memory store.Repository double for OMS tests.
type memRepo struct {
	orders map[string]model.Order
	fills  map[string][]model.Fill
}

func newMemRepo() *memRepo {
	return &memRepo{orders: make(map[string]model.Order), fills: make(map[string][]model.Fill)}
}

func (r *memRepo) SaveCandle(ctx context.Context, c model.Candle) error { return nil }
func (r *memRepo) GetCandles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	return nil, nil
}
func (r *memRepo) SaveSignal(ctx context.Context, s model.Signal) error { return nil }

func (r *memRepo) SaveOrder(ctx context.Context, o model.Order) error {
	r.orders[o.OrderID] = o
	return nil
}
func (r *memRepo) UpdateOrder(ctx context.Context, o model.Order) error {
	r.orders[o.OrderID] = o
	return nil
}
func (r *memRepo) GetOrder(ctx context.Context, orderID string) (model.Order, bool, error) {
	o, ok := r.orders[orderID]
	return o, ok, nil
}
func (r *memRepo) GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (model.Order, bool, error) {
	for _, o := range r.orders {
		if o.BrokerOrderID == brokerOrderID {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}
func (r *memRepo) GetOpenOrders(ctx context.Context) ([]model.Order, error) {
	var out []model.Order
	for _, o := range r.orders {
		if !o.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, nil
}
func (r *memRepo) CountOrdersToday(ctx context.Context, now time.Time) (int, error) {
	return len(r.orders), nil
}
func (r *memRepo) SaveFill(ctx context.Context, f model.Fill) error {
	r.fills[f.OrderID] = append(r.fills[f.OrderID], f)
	return nil
}
func (r *memRepo) GetFillsForOrder(ctx context.Context, orderID string) ([]model.Fill, error) {
	return r.fills[orderID], nil
}
func (r *memRepo) SavePosition(ctx context.Context, p model.Position) error   { return nil }
func (r *memRepo) DeletePosition(ctx context.Context, symbol string) error   { return nil }
func (r *memRepo) GetPositions(ctx context.Context) ([]model.Position, error) { return nil, nil }
func (r *memRepo) GetUnfinishedRuns(ctx context.Context) ([]model.Run, error) { return nil, nil }
func (r *memRepo) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	return nil
}
func (r *memRepo) EndRun(ctx context.Context, runID string, status model.RunStatus, errMsg string, endedAt time.Time) error {
	return nil
}
func (r *memRepo) LogError(ctx context.Context, e model.ErrorRecord) error { return nil }
func (r *memRepo) Close() error                                           { return nil }

func TestOMS_IdempotentSubmission_DoubleSubmitSameBucket(t *testing.T) {
	repo := newMemRepo()
	b := mock.New()
	b.FillPrice = decimal.NewFromInt(50000)
	_ = b.Connect(context.Background())
	bus := eventbus.New(testLogger(), nil)
	bus.Start(context.Background())
	defer bus.Stop()

	o := New(b, repo, bus, testLogger())

	sig := model.Signal{
		SignalID:          "SIG-1",
		Symbol:            "X",
		Action:            model.ActionBuy,
		SuggestedQuantity: 10,
		Timestamp:         time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}

	first, err := o.ProcessApprovedSignal(context.Background(), sig, 10, decimal.Zero)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := o.ProcessApprovedSignal(context.Background(), sig, 10, decimal.Zero)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, first.OrderID, second.OrderID)

	require.Len(t, repo.orders, 1)
}

func TestOMS_PartialThenFullFill(t *testing.T) {
	repo := newMemRepo()
	b := mock.New()
	_ = b.Connect(context.Background())
	bus := eventbus.New(testLogger(), nil)
	bus.Start(context.Background())
	defer bus.Stop()

	o := New(b, repo, bus, testLogger())

	order := model.Order{
		OrderID:       "ORD-abc",
		Symbol:        "X",
		Side:          model.SideBuy,
		OrderType:     model.OrderTypeMarket,
		Quantity:      10,
		BrokerOrderID: "BROKER-1",
		Status:        model.OrderSubmitted,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, repo.SaveOrder(context.Background(), order))
	o.setActive(&order)

	require.NoError(t, o.HandleFill(context.Background(), "BROKER-1", 3, decimal.NewFromInt(100)))
	updated, _, _ := repo.GetOrder(context.Background(), "ORD-abc")
	require.Equal(t, model.OrderPartialFill, updated.Status)
	require.Equal(t, int64(3), updated.FilledQuantity)

	require.NoError(t, o.HandleFill(context.Background(), "BROKER-1", 7, decimal.NewFromInt(101)))
	updated, _, _ = repo.GetOrder(context.Background(), "ORD-abc")
	require.Equal(t, model.OrderFilled, updated.Status)
	require.Equal(t, int64(10), updated.FilledQuantity)
}

func TestOMS_PausedRejectsNewSignals(t *testing.T) {
	repo := newMemRepo()
	b := mock.New()
	_ = b.Connect(context.Background())
	bus := eventbus.New(testLogger(), nil)
	bus.Start(context.Background())
	defer bus.Stop()

	o := New(b, repo, bus, testLogger())
	o.Pause()

	sig := model.Signal{SignalID: "SIG-2", Symbol: "Y", Action: model.ActionBuy, SuggestedQuantity: 5, Timestamp: time.Now()}
	order, err := o.ProcessApprovedSignal(context.Background(), sig, 5, decimal.Zero)
	require.NoError(t, err)
	require.Nil(t, order)
	require.Empty(t, repo.orders)
}
