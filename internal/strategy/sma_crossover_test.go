package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ktrader/internal/model"
)

func tfCandle(price int64, ts time.Time) model.Candle {
	d := decimal.NewFromInt(price)
	return model.Candle{Symbol: "X", OpenTime: ts, Open: d, High: d, Low: d, Close: d, Volume: 1}
}

func TestSMACrossover_GoldenCrossEmitsBuy(t *testing.T) {
	s := NewSMACrossover([]string{"X"}, "1m", 2, 4, 10, false, 14)
	ctx := context.Background()
	base := time.Now()

	prices := []int64{100, 100, 100, 100, 90, 120}
	var last []model.Signal
	for i, price := range prices {
		snap := MarketSnapshot{
			Symbol:    "X",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			CurrentCandles: map[string]model.Candle{
				"1m": tfCandle(price, base.Add(time.Duration(i)*time.Minute)),
			},
		}
		sigs, err := s.OnMarketData(ctx, snap, StrategyContext{})
		require.NoError(t, err)
		if sigs != nil {
			last = sigs
		}
	}
	require.NotNil(t, last)
	require.Equal(t, model.ActionBuy, last[0].Action)
}

func TestSMACrossover_NoCandleForTimeframeIsNoop(t *testing.T) {
	s := NewSMACrossover([]string{"X"}, "5m", 2, 4, 10, false, 14)
	snap := MarketSnapshot{Symbol: "X", CurrentCandles: map[string]model.Candle{"1m": tfCandle(100, time.Now())}}
	sigs, err := s.OnMarketData(context.Background(), snap, StrategyContext{})
	require.NoError(t, err)
	require.Nil(t, sigs)
}
