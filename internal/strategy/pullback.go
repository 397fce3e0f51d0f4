package strategy

import (
	"context"
	"time"

	"ktrader/internal/model"
	"ktrader/internal/oms"
)

// PullbackV1 is a trend-following pullback-continuation strategy: it only
// looks for entries while a higher timeframe is in an established uptrend,
// waits for price to pull back into the 20/50 EMA band without a collapse
// in progress, then enters on a lower-timeframe RSI cross back above 40
// confirmed by price breaking the recent swing high. Exits on an RSI cross
// below 50 or price closing back under the lower-timeframe 20 EMA.
type PullbackV1 struct {
	Base

	cooldown      time.Duration
	swingLookback int

	lastBuyTime map[string]time.Time
}

// NewPullbackV1 creates a PullbackV1 strategy. cooldownMinutes throttles
// repeat entries on the same symbol; swingLookback is the number of
// lower-timeframe candles scanned for the breakout reference high.
func NewPullbackV1(cooldownMinutes, swingLookback int) *PullbackV1 {
	return &PullbackV1{
		cooldown:      time.Duration(cooldownMinutes) * time.Minute,
		swingLookback: swingLookback,
		lastBuyTime:   make(map[string]time.Time),
	}
}

func init() {
	MustRegister("pullback_v1", func() Strategy { return NewPullbackV1(30, 10) })
}

func (p *PullbackV1) Name() string      { return "pullback_v1" }
func (p *PullbackV1) Symbols() []string { return nil }

func (p *PullbackV1) OnMarketData(ctx context.Context, snap MarketSnapshot, sctx StrategyContext) ([]model.Signal, error) {
	symbol := snap.Symbol
	now := snap.Timestamp

	universe, _ := sctx.Metadata["universe_top20"].([]string)
	if len(universe) == 0 {
		return nil, nil
	}
	if !containsSymbol(universe, symbol) {
		return nil, nil
	}
	if !sctx.IsMarketOpen {
		return nil, nil
	}

	htfKey := "60m"
	ltfKey := "5m"
	htfCandles := snap.HistoricalCandles[htfKey]
	ltfCandles := snap.HistoricalCandles[ltfKey]
	if len(ltfCandles) == 0 {
		ltfKey = "1m"
		ltfCandles = snap.HistoricalCandles[ltfKey]
	}

	htfCloses, htfHighs, htfLows, htfOpens := ohlcSeries(htfCandles)
	ltfCloses, ltfHighs, _, _ := ohlcSeries(ltfCandles)

	minHTF := 200
	minLTF := p.swingLookback + 2
	if minLTF < 20 {
		minLTF = 20
	}

	if len(htfCloses) < minHTF || len(ltfCloses) < minLTF {
		return p.hold(symbol, now, "insufficient_data", map[string]any{
			"htf_candles": len(htfCloses),
			"ltf_candles": len(ltfCloses),
		}), nil
	}

	htfEMA20 := emaSeries(htfCloses, 20)
	htfEMA50 := emaSeries(htfCloses, 50)
	htfEMA200 := emaSeries(htfCloses, 200)
	htfRSI14 := rsiWilderSeries(htfCloses, 14)

	ltfEMA20 := emaSeries(ltfCloses, 20)
	ltfRSI14 := rsiWilderSeries(ltfCloses, 14)

	htfEMA20Last := last(htfEMA20)
	htfEMA50Last := last(htfEMA50)
	htfEMA200Last := last(htfEMA200)
	htfRSI14Last := lastOr(htfRSI14, 50.0)
	htfCloseLast := last(htfCloses)

	ltfEMA20Last := last(ltfEMA20)
	ltfRSI14Last := lastOr(ltfRSI14, 50.0)
	ltfRSI14Prev := prevOr(ltfRSI14, 50.0)
	ltfCloseLast := last(ltfCloses)

	swingStart := len(ltfHighs) - p.swingLookback - 1
	if swingStart < 0 {
		swingStart = 0
	}
	swingEnd := len(ltfHighs) - 1
	swingHigh := ltfCloseLast
	if swingEnd > swingStart {
		swingHigh = maxOf(ltfHighs[swingStart:swingEnd])
	}

	cooldownActive := false
	if lastBuy, ok := p.lastBuyTime[symbol]; ok {
		if now.Sub(lastBuy) < p.cooldown {
			cooldownActive = true
		}
	}

	baseMeta := map[string]any{
		"htf_ema20": htfEMA20Last, "htf_ema50": htfEMA50Last, "htf_ema200": htfEMA200Last,
		"htf_rsi14": htfRSI14Last, "ltf_ema20": ltfEMA20Last, "ltf_rsi14": ltfRSI14Last,
		"swing_high": swingHigh, "htf": htfKey, "ltf": ltfKey, "cooldown_active": cooldownActive,
	}

	if htfEMA50Last <= 0 || htfEMA200Last <= 0 {
		return p.hold(symbol, now, "invalid_ema", baseMeta), nil
	}

	trendOK := htfEMA50Last > htfEMA200Last && htfRSI14Last >= 40.0
	if !trendOK {
		return p.hold(symbol, now, "trend_filter_fail", withExtra(baseMeta, map[string]any{
			"trend_ema50_gt_ema200": htfEMA50Last > htfEMA200Last,
			"trend_rsi_ok":          htfRSI14Last >= 40.0,
		})), nil
	}

	emaBandLow := minOf2(htfEMA20Last, htfEMA50Last)
	emaBandHigh := maxOf2(htfEMA20Last, htfEMA50Last)
	bandTolerance := 0.01 * emaBandHigh
	inPullbackZone := htfCloseLast >= emaBandLow-bandTolerance && htfCloseLast <= emaBandHigh+bandTolerance

	collapse := false
	if len(htfCloses) >= 3 && len(htfOpens) >= 3 && len(htfHighs) >= 3 && len(htfLows) >= 3 {
		n := len(htfCloses)
		c1Bearish := htfCloses[n-1] < htfOpens[n-1]
		c2Bearish := htfCloses[n-2] < htfOpens[n-2]
		rangeCurr := htfHighs[n-1] - htfLows[n-1]
		rangePrev := htfHighs[n-2] - htfLows[n-2]
		rangePrev2 := htfHighs[n-3] - htfLows[n-3]
		expanding := rangeCurr > rangePrev && rangePrev > rangePrev2
		collapse = c1Bearish && c2Bearish && expanding
	}

	pullbackOK := inPullbackZone && !collapse
	if !pullbackOK {
		return p.hold(symbol, now, "no_pullback", withExtra(baseMeta, map[string]any{
			"in_zone": inPullbackZone, "collapse": collapse,
		})), nil
	}

	exitRSICrossDown := ltfRSI14Prev >= 50.0 && ltfRSI14Last < 50.0
	exitBelowEMA := ltfCloseLast < ltfEMA20Last
	if exitRSICrossDown || exitBelowEMA {
		return []model.Signal{p.signal(symbol, now, model.ActionSell, 0.6, "exit_trigger", withExtra(baseMeta, map[string]any{
			"rsi_cross_down": exitRSICrossDown, "below_ema": exitBelowEMA,
		}))}, nil
	}

	entryRSICrossUp := ltfRSI14Prev < 40.0 && ltfRSI14Last >= 40.0
	entryAboveEMA := ltfCloseLast > ltfEMA20Last
	entryBreakSwing := ltfCloseLast > swingHigh

	if entryRSICrossUp && entryAboveEMA && entryBreakSwing && !cooldownActive {
		confidence := 0.6
		if htfEMA200Last > 0 && (htfEMA50Last/htfEMA200Last) > 1.02 {
			confidence += 0.1
		}
		if htfRSI14Last >= 50.0 {
			confidence += 0.1
		}
		confidence = clamp01(confidence)

		p.lastBuyTime[symbol] = now

		return []model.Signal{p.signal(symbol, now, model.ActionBuy, confidence, "entry_trigger", withExtra(baseMeta, map[string]any{
			"rsi_cross_up": entryRSICrossUp, "above_ema": entryAboveEMA, "break_swing": entryBreakSwing,
		}))}, nil
	}

	return p.hold(symbol, now, "hold", baseMeta), nil
}

func (p *PullbackV1) hold(symbol string, ts time.Time, reason string, meta map[string]any) []model.Signal {
	return []model.Signal{p.signal(symbol, ts, model.ActionHold, 0.0, reason, meta)}
}

func (p *PullbackV1) signal(symbol string, ts time.Time, action model.Action, confidence float64, reason string, meta map[string]any) model.Signal {
	return model.Signal{
		SignalID:     oms.GenerateSignalID(p.Name(), symbol, ts),
		StrategyName: p.Name(),
		Symbol:       symbol,
		Action:       action,
		Confidence:   confidence,
		Reason:       reason,
		Metadata:     meta,
		Timestamp:    ts,
	}
}

func ohlcSeries(candles []model.Candle) (closes, highs, lows, opens []float64) {
	closes = make([]float64, len(candles))
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	opens = make([]float64, len(candles))
	for i, c := range candles {
		closes[i], _ = c.Close.Float64()
		highs[i], _ = c.High.Float64()
		lows[i], _ = c.Low.Float64()
		opens[i], _ = c.Open.Float64()
	}
	return
}

func containsSymbol(list []string, symbol string) bool {
	for _, s := range list {
		if s == symbol {
			return true
		}
	}
	return false
}

func withExtra(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func last(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}

func lastOr(xs []float64, fallback float64) float64 {
	if len(xs) == 0 {
		return fallback
	}
	return xs[len(xs)-1]
}

func prevOr(xs []float64, fallback float64) float64 {
	if len(xs) < 2 {
		return fallback
	}
	return xs[len(xs)-2]
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func maxOf2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minOf2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
