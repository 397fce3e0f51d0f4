package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ktrader/internal/broker"
	"ktrader/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBroker is a controllable broker.Broker double: every Fetch* call can
// be made to fail independently, unlike internal/broker/mock's always-happy
// simulator.
type fakeBroker struct {
	connected bool

	positions    []model.Position
	positionsErr error
	balance      broker.Balance
	balanceErr   error
	openOrders   []broker.OpenOrder
	openOrdersErr error
}

func (f *fakeBroker) Connect(ctx context.Context) error    { f.connected = true; return nil }
func (f *fakeBroker) Disconnect(ctx context.Context) error { f.connected = false; return nil }
func (f *fakeBroker) IsConnected() bool                    { return f.connected }

func (f *fakeBroker) PlaceOrder(ctx context.Context, order model.Order) (string, error) {
	return "", nil
}
func (f *fakeBroker) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	return false, nil
}
func (f *fakeBroker) AmendOrder(ctx context.Context, brokerOrderID string, req broker.AmendRequest) (bool, error) {
	return false, nil
}

func (f *fakeBroker) FetchPositions(ctx context.Context) ([]model.Position, error) {
	return f.positions, f.positionsErr
}
func (f *fakeBroker) FetchOpenOrders(ctx context.Context) ([]broker.OpenOrder, error) {
	return f.openOrders, f.openOrdersErr
}
func (f *fakeBroker) FetchBalance(ctx context.Context) (broker.Balance, error) {
	return f.balance, f.balanceErr
}

func (f *fakeBroker) SubscribeMarketData(ctx context.Context, symbols []string, cb broker.TickCallback) error {
	return nil
}
func (f *fakeBroker) UnsubscribeMarketData(ctx context.Context, symbols []string) error { return nil }
func (f *fakeBroker) SetErrorCallback(cb broker.ErrorCallback)                          {}

var _ broker.Broker = (*fakeBroker)(nil)

// fakeRepo is a minimal in-memory store.Repository double, modeled on
// internal/portfolio's fakeRepo, extended with the run/order bookkeeping
// the reconciler exercises.
type fakeRepo struct {
	unfinished []model.Run
	endedRuns  map[string]model.RunStatus
	startedRun string

	openOrders    []model.Order
	ordersByID    map[string]model.Order
	updatedOrders []model.Order

	errors []model.ErrorRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		endedRuns:  make(map[string]model.RunStatus),
		ordersByID: make(map[string]model.Order),
	}
}

func (r *fakeRepo) SaveCandle(ctx context.Context, c model.Candle) error { return nil }
func (r *fakeRepo) GetCandles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	return nil, nil
}
func (r *fakeRepo) SaveSignal(ctx context.Context, s model.Signal) error { return nil }

func (r *fakeRepo) SaveOrder(ctx context.Context, o model.Order) error {
	r.ordersByID[o.OrderID] = o
	return nil
}
func (r *fakeRepo) UpdateOrder(ctx context.Context, o model.Order) error {
	r.ordersByID[o.OrderID] = o
	r.updatedOrders = append(r.updatedOrders, o)
	return nil
}
func (r *fakeRepo) GetOrder(ctx context.Context, orderID string) (model.Order, bool, error) {
	o, ok := r.ordersByID[orderID]
	return o, ok, nil
}
func (r *fakeRepo) GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (model.Order, bool, error) {
	for _, o := range r.ordersByID {
		if o.BrokerOrderID == brokerOrderID {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}
func (r *fakeRepo) GetOpenOrders(ctx context.Context) ([]model.Order, error) {
	return r.openOrders, nil
}
func (r *fakeRepo) CountOrdersToday(ctx context.Context, now time.Time) (int, error) { return 0, nil }

func (r *fakeRepo) SaveFill(ctx context.Context, f model.Fill) error { return nil }
func (r *fakeRepo) GetFillsForOrder(ctx context.Context, orderID string) ([]model.Fill, error) {
	return nil, nil
}

func (r *fakeRepo) SavePosition(ctx context.Context, p model.Position) error    { return nil }
func (r *fakeRepo) DeletePosition(ctx context.Context, symbol string) error     { return nil }
func (r *fakeRepo) GetPositions(ctx context.Context) ([]model.Position, error) { return nil, nil }

func (r *fakeRepo) GetUnfinishedRuns(ctx context.Context) ([]model.Run, error) {
	return r.unfinished, nil
}
func (r *fakeRepo) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	r.startedRun = runID
	return nil
}
func (r *fakeRepo) EndRun(ctx context.Context, runID string, status model.RunStatus, errMsg string, endedAt time.Time) error {
	r.endedRuns[runID] = status
	return nil
}

func (r *fakeRepo) LogError(ctx context.Context, e model.ErrorRecord) error {
	r.errors = append(r.errors, e)
	return nil
}

func (r *fakeRepo) Close() error { return nil }

type fakePortfolio struct {
	called    bool
	positions []model.Position
	balance   broker.Balance
	err       error
}

func (f *fakePortfolio) SyncWithBroker(ctx context.Context, positions []model.Position, bal broker.Balance) error {
	f.called = true
	f.positions = positions
	f.balance = bal
	return f.err
}

func TestReconciler_Reconcile_Success(t *testing.T) {
	b := &fakeBroker{
		connected: true,
		positions: []model.Position{{Symbol: "005930"}},
		balance:   broker.Balance{TotalEquity: decimal.NewFromInt(1_000_000)},
	}
	repo := newFakeRepo()
	pf := &fakePortfolio{}
	r := New(b, repo, pf, testLogger())

	result := r.Reconcile(context.Background())

	require.True(t, result.Success)
	require.Empty(t, result.Error)
	require.Equal(t, 1, result.PositionsSynced)
	require.True(t, pf.called)
	require.Equal(t, r.RunID(), repo.startedRun)
	require.NotEmpty(t, result.RunID)
}

func TestReconciler_Reconcile_BrokerNotConnected(t *testing.T) {
	b := &fakeBroker{connected: false}
	repo := newFakeRepo()
	pf := &fakePortfolio{}
	r := New(b, repo, pf, testLogger())

	result := r.Reconcile(context.Background())

	require.False(t, result.Success)
	require.Contains(t, result.Error, "broker not connected")
	require.Len(t, repo.errors, 1)
	require.False(t, pf.called)
}

func TestReconciler_Reconcile_FetchPositionsError(t *testing.T) {
	b := &fakeBroker{connected: true, positionsErr: errors.New("timeout")}
	repo := newFakeRepo()
	pf := &fakePortfolio{}
	r := New(b, repo, pf, testLogger())

	result := r.Reconcile(context.Background())

	require.False(t, result.Success)
	require.Contains(t, result.Error, "fetch positions")
}

func TestReconciler_Reconcile_PortfolioSyncError(t *testing.T) {
	b := &fakeBroker{connected: true}
	repo := newFakeRepo()
	pf := &fakePortfolio{err: errors.New("db write failed")}
	r := New(b, repo, pf, testLogger())

	result := r.Reconcile(context.Background())

	require.False(t, result.Success)
	require.Contains(t, result.Error, "sync portfolio")
}

func TestReconciler_CleanupPreviousRuns_MarksCrashed(t *testing.T) {
	b := &fakeBroker{connected: true}
	repo := newFakeRepo()
	repo.unfinished = []model.Run{{RunID: "RUN-stale1"}, {RunID: "RUN-stale2"}}
	pf := &fakePortfolio{}
	r := New(b, repo, pf, testLogger())

	result := r.Reconcile(context.Background())

	require.True(t, result.Success)
	require.Equal(t, model.RunCrashed, repo.endedRuns["RUN-stale1"])
	require.Equal(t, model.RunCrashed, repo.endedRuns["RUN-stale2"])
}

func TestReconciler_ReconcileOrders_LocalOrderClosedWhenBrokerNoLongerReportsIt(t *testing.T) {
	repo := newFakeRepo()
	repo.openOrders = []model.Order{
		{OrderID: "ORD-1", BrokerOrderID: "MOCK-1", Quantity: 10, FilledQuantity: 10, Status: model.OrderSubmitted},
		{OrderID: "ORD-2", BrokerOrderID: "MOCK-2", Quantity: 5, FilledQuantity: 0, Status: model.OrderSubmitted},
	}
	repo.ordersByID["ORD-1"] = repo.openOrders[0]
	repo.ordersByID["ORD-2"] = repo.openOrders[1]

	r := New(&fakeBroker{connected: true}, repo, &fakePortfolio{}, testLogger())

	updated, canceled, discrepancies, err := r.reconcileOrders(context.Background(), nil)

	require.NoError(t, err)
	require.Equal(t, 0, updated)
	require.Equal(t, 2, canceled)
	require.Len(t, discrepancies, 2)
	require.Equal(t, model.OrderFilled, repo.ordersByID["ORD-1"].Status)
	require.Equal(t, model.OrderCanceled, repo.ordersByID["ORD-2"].Status)
}

func TestReconciler_ReconcileOrders_UpdatesFillQuantityFromBroker(t *testing.T) {
	repo := newFakeRepo()
	local := model.Order{OrderID: "ORD-3", BrokerOrderID: "MOCK-3", Quantity: 10, FilledQuantity: 3, Status: model.OrderPartialFill}
	repo.ordersByID["ORD-3"] = local

	brokerOrders := []broker.OpenOrder{
		{BrokerOrderID: "MOCK-3", Quantity: 10, FilledQuantity: 7},
	}

	r := New(&fakeBroker{connected: true}, repo, &fakePortfolio{}, testLogger())

	updated, canceled, discrepancies, err := r.reconcileOrders(context.Background(), brokerOrders)

	require.NoError(t, err)
	require.Equal(t, 1, updated)
	require.Equal(t, 0, canceled)
	require.Empty(t, discrepancies)
	require.EqualValues(t, 7, repo.ordersByID["ORD-3"].FilledQuantity)
}

func TestReconciler_ReconcileOrders_UnknownBrokerOrderLogsDiscrepancy(t *testing.T) {
	repo := newFakeRepo()
	brokerOrders := []broker.OpenOrder{
		{BrokerOrderID: "MOCK-unknown", Quantity: 10, FilledQuantity: 0},
	}

	r := New(&fakeBroker{connected: true}, repo, &fakePortfolio{}, testLogger())

	updated, canceled, discrepancies, err := r.reconcileOrders(context.Background(), brokerOrders)

	require.NoError(t, err)
	require.Equal(t, 0, updated)
	require.Equal(t, 0, canceled)
	require.Len(t, discrepancies, 1)
	require.Contains(t, discrepancies[0], "MOCK-unknown")
}

func TestReconciler_EndRun_NoopBeforeReconcile(t *testing.T) {
	repo := newFakeRepo()
	r := New(&fakeBroker{connected: true}, repo, &fakePortfolio{}, testLogger())

	require.NoError(t, r.EndRun(context.Background(), model.RunCompleted, ""))
	require.Empty(t, repo.endedRuns)
}

func TestReconciler_EndRun_AfterReconcile(t *testing.T) {
	repo := newFakeRepo()
	r := New(&fakeBroker{connected: true}, repo, &fakePortfolio{}, testLogger())

	result := r.Reconcile(context.Background())
	require.True(t, result.Success)

	require.NoError(t, r.EndRun(context.Background(), model.RunCompleted, ""))
	require.Equal(t, model.RunCompleted, repo.endedRuns[r.RunID()])
}
