package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ktrader/config"
	"ktrader/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionSize:         1000,
		MaxPortfolioExposurePct: 0.8,
		DailyLossLimit:          1_000_000,
		TradingStartHour:        9,
		TradingStartMinute:      0,
		TradingEndHour:          15,
		TradingEndMinute:        30,
		TransactionCostRate:     0.00015,
		MaxTradesPerDay:         50,
		PositionSizePct:         0.05,
	}
}

func duringHours() time.Time {
	return time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
}

func basePortfolio() model.Portfolio {
	pf := model.NewPortfolio()
	pf.Cash = decimal.NewFromInt(10_000_000)
	pf.TotalEquity = decimal.NewFromInt(10_000_000)
	return pf
}

func TestValidator_KillSwitchRejectsEverything(t *testing.T) {
	v := New(testConfig(), false, testLogger())
	v.ActivateKillSwitch()

	sig := model.Signal{Symbol: "X", Action: model.ActionBuy, SuggestedQuantity: 10}
	r := v.ValidateSignal(sig, basePortfolio(), decimal.NewFromInt(1000), 0, duringHours())
	require.False(t, r.Approved)
	require.Equal(t, "kill switch is active", r.RejectReason)
}

func TestValidator_HoldSignalRejected(t *testing.T) {
	v := New(testConfig(), false, testLogger())
	sig := model.Signal{Symbol: "X", Action: model.ActionHold}
	r := v.ValidateSignal(sig, basePortfolio(), decimal.NewFromInt(1000), 0, duringHours())
	require.False(t, r.Approved)
}

func TestValidator_OutsideTradingHoursRejected(t *testing.T) {
	v := New(testConfig(), false, testLogger())
	sig := model.Signal{Symbol: "X", Action: model.ActionBuy, SuggestedQuantity: 10}
	outside := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	r := v.ValidateSignal(sig, basePortfolio(), decimal.NewFromInt(1000), 0, outside)
	require.False(t, r.Approved)
	require.Equal(t, "outside trading hours", r.RejectReason)
}

func TestValidator_CalculatesPositionSizeWhenNotSuggested(t *testing.T) {
	v := New(testConfig(), false, testLogger())
	sig := model.Signal{Symbol: "X", Action: model.ActionBuy, SuggestedQuantity: 0}
	pf := basePortfolio()
	price := decimal.NewFromInt(50_000)
	r := v.ValidateSignal(sig, pf, price, 0, duringHours())
	require.True(t, r.Approved)
	// 5% of 10,000,000 equity / 50,000 price = 10 shares
	require.Equal(t, int64(10), r.ApprovedQuantity)
}

func TestValidator_MaxTradesPerDayReached(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTradesPerDay = 3
	v := New(cfg, false, testLogger())
	sig := model.Signal{Symbol: "X", Action: model.ActionBuy, SuggestedQuantity: 10}
	r := v.ValidateSignal(sig, basePortfolio(), decimal.NewFromInt(1000), 3, duringHours())
	require.False(t, r.Approved)
	require.Contains(t, r.RejectReason, "max trades per day")
}

func TestValidator_PositionSizeCapPartialApproval(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionSize = 100
	v := New(cfg, false, testLogger())
	pf := basePortfolio()
	pf.Positions["X"] = model.Position{Symbol: "X", Quantity: 90}
	sig := model.Signal{Symbol: "X", Action: model.ActionBuy, SuggestedQuantity: 50}
	r := v.ValidateSignal(sig, pf, decimal.NewFromInt(100), 0, duringHours())
	require.True(t, r.Approved)
	require.Equal(t, int64(10), r.ApprovedQuantity)
}

func TestValidator_PositionSizeLimitAlreadyReachedRejects(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionSize = 100
	v := New(cfg, false, testLogger())
	pf := basePortfolio()
	pf.Positions["X"] = model.Position{Symbol: "X", Quantity: 100}
	sig := model.Signal{Symbol: "X", Action: model.ActionBuy, SuggestedQuantity: 10}
	r := v.ValidateSignal(sig, pf, decimal.NewFromInt(100), 0, duringHours())
	require.False(t, r.Approved)
}

func TestValidator_ExposureLimitPartialApproval(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPortfolioExposurePct = 0.5
	v := New(cfg, false, testLogger())
	pf := basePortfolio() // equity 10,000,000
	pf.Positions["Y"] = model.Position{Symbol: "Y", Quantity: 40, CurrentPrice: decimal.NewFromInt(100_000)} // 4,000,000 exposure already
	sig := model.Signal{Symbol: "X", Action: model.ActionBuy, SuggestedQuantity: 100}
	price := decimal.NewFromInt(100_000)
	r := v.ValidateSignal(sig, pf, price, 0, duringHours())
	require.True(t, r.Approved)
	// room = 0.5*10,000,000 - 4,000,000 = 1,000,000 -> 10 shares @ 100,000
	require.Equal(t, int64(10), r.ApprovedQuantity)
}

func TestValidator_InsufficientCashRejectsOrReducesBuy(t *testing.T) {
	v := New(testConfig(), false, testLogger())
	pf := basePortfolio()
	pf.Cash = decimal.NewFromInt(500_000)
	sig := model.Signal{Symbol: "X", Action: model.ActionBuy, SuggestedQuantity: 100}
	price := decimal.NewFromInt(10_000)
	r := v.ValidateSignal(sig, pf, price, 0, duringHours())
	require.True(t, r.Approved)
	require.Less(t, r.ApprovedQuantity, int64(100))
	require.Greater(t, r.ApprovedQuantity, int64(0))
}

func TestValidator_DailyLossLimitExceededRejects(t *testing.T) {
	cfg := testConfig()
	cfg.DailyLossLimit = 100_000
	v := New(cfg, false, testLogger())
	pf := basePortfolio()
	pf.DailyPnL = decimal.NewFromInt(-200_000)
	sig := model.Signal{Symbol: "X", Action: model.ActionBuy, SuggestedQuantity: 10}
	r := v.ValidateSignal(sig, pf, decimal.NewFromInt(1000), 0, duringHours())
	require.False(t, r.Approved)
	require.Equal(t, "daily loss limit exceeded", r.RejectReason)
}

func TestValidator_SellDoesNotApplyCashCheck(t *testing.T) {
	v := New(testConfig(), false, testLogger())
	pf := basePortfolio()
	pf.Cash = decimal.Zero
	pf.Positions["X"] = model.Position{Symbol: "X", Quantity: 100}
	sig := model.Signal{Symbol: "X", Action: model.ActionSell, SuggestedQuantity: 10}
	r := v.ValidateSignal(sig, pf, decimal.NewFromInt(1000), 0, duringHours())
	require.True(t, r.Approved)
	require.Equal(t, int64(10), r.ApprovedQuantity)
}

func TestValidator_DeactivateKillSwitchResumesValidation(t *testing.T) {
	v := New(testConfig(), true, testLogger())
	sig := model.Signal{Symbol: "X", Action: model.ActionBuy, SuggestedQuantity: 10}
	r := v.ValidateSignal(sig, basePortfolio(), decimal.NewFromInt(1000), 0, duringHours())
	require.False(t, r.Approved)

	v.DeactivateKillSwitch()
	r = v.ValidateSignal(sig, basePortfolio(), decimal.NewFromInt(1000), 0, duringHours())
	require.True(t, r.Approved)
}
