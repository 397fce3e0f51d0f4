package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ktrader/internal/model"
)

func candleSeries(n int, start float64, step float64) []model.Candle {
	out := make([]model.Candle, n)
	base := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	price := start
	for i := 0; i < n; i++ {
		c := decimal.NewFromFloat(price)
		out[i] = model.Candle{
			Symbol:   "005930",
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     c,
			High:     c.Add(decimal.NewFromFloat(1)),
			Low:      c.Sub(decimal.NewFromFloat(1)),
			Close:    c,
			Volume:   100,
		}
		price += step
	}
	return out
}

func baseContext() StrategyContext {
	return StrategyContext{
		IsMarketOpen: true,
		Metadata:     map[string]any{"universe_top20": []string{"005930"}},
	}
}

func TestPullbackV1_HoldsOnInsufficientData(t *testing.T) {
	p := NewPullbackV1(30, 10)
	snap := MarketSnapshot{
		Symbol:    "005930",
		Timestamp: time.Now(),
		HistoricalCandles: map[string][]model.Candle{
			"60m": candleSeries(5, 100, 1),
			"5m":  candleSeries(5, 100, 1),
		},
	}
	signals, err := p.OnMarketData(context.Background(), snap, baseContext())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	require.Equal(t, model.ActionHold, signals[0].Action)
	require.Equal(t, "insufficient_data", signals[0].Reason)
}

func TestPullbackV1_SkipsSymbolOutsideUniverse(t *testing.T) {
	p := NewPullbackV1(30, 10)
	snap := MarketSnapshot{Symbol: "000660", Timestamp: time.Now()}
	signals, err := p.OnMarketData(context.Background(), snap, baseContext())
	require.NoError(t, err)
	require.Nil(t, signals)
}

func TestPullbackV1_SkipsWhenMarketClosed(t *testing.T) {
	p := NewPullbackV1(30, 10)
	ctx := baseContext()
	ctx.IsMarketOpen = false
	snap := MarketSnapshot{
		Symbol:    "005930",
		Timestamp: time.Now(),
		HistoricalCandles: map[string][]model.Candle{
			"60m": candleSeries(250, 100, 0.5),
			"5m":  candleSeries(30, 100, 0.5),
		},
	}
	signals, err := p.OnMarketData(context.Background(), snap, ctx)
	require.NoError(t, err)
	require.Nil(t, signals)
}

func TestPullbackV1_UptrendProducesHoldOrActionableSignal(t *testing.T) {
	p := NewPullbackV1(30, 10)
	snap := MarketSnapshot{
		Symbol:    "005930",
		Timestamp: time.Now(),
		HistoricalCandles: map[string][]model.Candle{
			"60m": candleSeries(220, 100, 0.3),
			"5m":  candleSeries(40, 100, 0.3),
		},
	}
	signals, err := p.OnMarketData(context.Background(), snap, baseContext())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	require.Contains(t, []model.Action{model.ActionHold, model.ActionBuy, model.ActionSell}, signals[0].Action)
	require.NotEmpty(t, signals[0].SignalID)
}
