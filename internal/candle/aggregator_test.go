package candle

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ktrader/internal/model"
)

func mustTick(t *testing.T, symbol string, price int64, vol int64, ts time.Time) model.Tick {
	t.Helper()
	tk, err := model.NewTick(symbol, decimal.NewFromInt(price), vol, ts)
	if err != nil {
		t.Fatalf("NewTick: %v", err)
	}
	return tk
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestAggregator_SingleBucketOHLC(t *testing.T) {
	a := New(discardLogger(), []model.Timeframe{model.TF1m})
	base := time.Date(2026, 1, 2, 9, 0, 10, 0, time.UTC)

	candleCh := make(chan model.Candle, 8)
	a.processTick(mustTick(t, "005930", 100, 1, base), candleCh)
	a.processTick(mustTick(t, "005930", 110, 2, base.Add(5*time.Second)), candleCh)
	a.processTick(mustTick(t, "005930", 90, 3, base.Add(10*time.Second)), candleCh)
	a.processTick(mustTick(t, "005930", 105, 4, base.Add(15*time.Second)), candleCh)

	a.FlushAll(candleCh)
	close(candleCh)

	var got []model.Candle
	for c := range candleCh {
		got = append(got, c)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(got))
	}
	c := got[0]
	if err := c.Validate(); err != nil {
		t.Fatalf("candle invariant violated: %v", err)
	}
	if !c.Open.Equal(decimal.NewFromInt(100)) || !c.Close.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("unexpected open/close: %+v", c)
	}
	if !c.High.Equal(decimal.NewFromInt(110)) || !c.Low.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("unexpected high/low: %+v", c)
	}
	if c.Volume != 10 {
		t.Fatalf("expected volume 10, got %d", c.Volume)
	}
}

func TestAggregator_BucketRolloverEmitsOnce(t *testing.T) {
	a := New(discardLogger(), []model.Timeframe{model.TF1m})
	base := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	candleCh := make(chan model.Candle, 8)

	a.processTick(mustTick(t, "X", 10, 1, base), candleCh)
	a.processTick(mustTick(t, "X", 11, 1, base.Add(70*time.Second)), candleCh)

	select {
	case c := <-candleCh:
		if !c.OpenTime.Equal(base) {
			t.Fatalf("expected first bucket open_time %v, got %v", base, c.OpenTime)
		}
	default:
		t.Fatal("expected a closed candle on bucket rollover")
	}

	a.FlushAll(candleCh)
	select {
	case c := <-candleCh:
		if c.OpenTime.Equal(base) {
			t.Fatal("flush emitted stale bucket again")
		}
	default:
		t.Fatal("expected flush to emit the second bucket")
	}
}

func TestAggregator_OpenTimeAlignment(t *testing.T) {
	a := New(discardLogger(), []model.Timeframe{model.TF5m, model.TF1d})
	ts := time.Date(2026, 3, 4, 10, 17, 42, 0, time.UTC)
	candleCh := make(chan model.Candle, 8)
	a.processTick(mustTick(t, "Y", 1, 1, ts), candleCh)
	a.FlushAll(candleCh)
	close(candleCh)
	for c := range candleCh {
		if !model.OpenTimeAligned(c.OpenTime, c.Timeframe) {
			t.Fatalf("open_time %v not aligned to %v", c.OpenTime, c.Timeframe)
		}
	}
}

func TestAggregator_FlushThenRefeedReproducesSameClosedCandles(t *testing.T) {
	ticks := []model.Tick{
		mustTick(t, "Z", 10, 1, time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)),
		mustTick(t, "Z", 12, 2, time.Date(2026, 1, 1, 9, 0, 30, 0, time.UTC)),
		mustTick(t, "Z", 8, 1, time.Date(2026, 1, 1, 9, 1, 10, 0, time.UTC)),
	}

	run := func() []model.Candle {
		a := New(discardLogger(), []model.Timeframe{model.TF1m})
		ch := make(chan model.Candle, 8)
		for _, tk := range ticks {
			a.processTick(tk, ch)
		}
		a.FlushAll(ch)
		close(ch)
		var out []model.Candle
		for c := range ch {
			out = append(out, c)
		}
		return out
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("mismatched candle counts: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Open.Equal(second[i].Open) || !first[i].Close.Equal(second[i].Close) {
			t.Fatalf("run %d mismatch: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestAggregator_RunFlushesOnContextCancel(t *testing.T) {
	a := New(discardLogger(), []model.Timeframe{model.TF1m})
	tickCh := make(chan model.Tick)
	candleCh := make(chan model.Candle, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, tickCh, candleCh)
		close(done)
	}()

	tickCh <- mustTick(t, "W", 5, 1, time.Now())
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after context cancel")
	}
	if len(candleCh) != 1 {
		t.Fatalf("expected 1 flushed candle, got %d", len(candleCh))
	}
}
