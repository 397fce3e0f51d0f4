package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ktrader/internal/model"
)

func TestMockBroker_PlaceOrderFillsImmediately(t *testing.T) {
	b := New()
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))
	require.True(t, b.IsConnected())

	order := model.Order{
		OrderID:   "ORD-test",
		Symbol:    "005930",
		Side:      model.SideBuy,
		OrderType: model.OrderTypeMarket,
		Quantity:  10,
	}
	brokerID, err := b.PlaceOrder(ctx, order)
	require.NoError(t, err)
	require.NotEmpty(t, brokerID)

	open, err := b.FetchOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, int64(10), open[0].FilledQuantity)
}

func TestMockBroker_CancelOrder(t *testing.T) {
	b := New()
	ctx := context.Background()
	id, err := b.PlaceOrder(ctx, model.Order{OrderID: "ORD-1", Symbol: "X", Side: model.SideBuy, Quantity: 5})
	require.NoError(t, err)

	ok, err := b.CancelOrder(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.CancelOrder(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMockBroker_FetchBalanceDefaults(t *testing.T) {
	b := New()
	bal, err := b.FetchBalance(context.Background())
	require.NoError(t, err)
	require.True(t, bal.TotalEquity.IsPositive())
	require.True(t, bal.AvailableCash.Equal(bal.TotalEquity))
}

func TestMockBroker_SubscribeUnsubscribeMarketData(t *testing.T) {
	b := New()
	ctx := context.Background()
	ticks := make(chan model.Tick, 8)
	require.NoError(t, b.SubscribeMarketData(ctx, []string{"005930"}, func(tk model.Tick) {
		select {
		case ticks <- tk:
		default:
		}
	}))

	select {
	case tk := <-ticks:
		require.Equal(t, "005930", tk.Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a simulated tick within 2s")
	}

	require.NoError(t, b.UnsubscribeMarketData(ctx, []string{"005930"}))
}
