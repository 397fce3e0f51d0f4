// Package risk implements the pre-trade signal validation pipeline,
// ported step-for-step from original_source's risk/validator.py onto
// ktrader/config.RiskConfig and ktrader/internal/model.Portfolio. It is
// the sole gate between a strategy's Signal and an order reaching the
// OMS: every approval carries a final approved quantity that may be
// smaller than requested, never larger.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ktrader/config"
	"ktrader/internal/model"
)

// unbounded is used as the "no cap from this check" sentinel quantity,
// matching original_source's 999999 convention for checks that only ever
// reject or pass through.
const unbounded = 1 << 30

// Result is the outcome of validating one signal.
type Result struct {
	Approved         bool
	ApprovedQuantity int64
	RejectReason     string
}

func accept(qty int64) Result { return Result{Approved: true, ApprovedQuantity: qty} }
func reject(reason string) Result {
	return Result{Approved: false, ApprovedQuantity: 0, RejectReason: reason}
}

// DailyTradeCounter reports how many trades have been placed so far
// today. ValidateSignal does not use it: it receives the day's trade count
// as a parameter, which the application reads from the store.
type DailyTradeCounter interface {
	CountOrdersToday(now time.Time) (int, error)
}

// Validator applies the nine-step risk pipeline to a candidate signal:
// kill switch, HOLD rejection, trading hours, position sizing, max trades
// per day, per-symbol position cap, portfolio exposure cap, BUY-only cash
// check, and daily loss limit, each of which may reject outright or
// narrow the approved quantity; the final quantity is the minimum across
// every check that narrowed it.
type Validator struct {
	cfg config.RiskConfig
	log *slog.Logger

	mu         sync.RWMutex
	killSwitch bool
}

// New constructs a Validator. killSwitchActive seeds the initial kill
// switch state, matching original_source's constructor default.
func New(cfg config.RiskConfig, killSwitchActive bool, log *slog.Logger) *Validator {
	return &Validator{cfg: cfg, log: log, killSwitch: killSwitchActive}
}

// KillSwitchActive reports whether the kill switch currently blocks all
// new orders.
func (v *Validator) KillSwitchActive() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.killSwitch
}

// ActivateKillSwitch blocks every subsequent ValidateSignal call until
// DeactivateKillSwitch is called.
func (v *Validator) ActivateKillSwitch() {
	v.mu.Lock()
	v.killSwitch = true
	v.mu.Unlock()
	v.log.Warn("risk: kill switch ACTIVATED, no new orders will be placed")
}

// DeactivateKillSwitch resumes order validation.
func (v *Validator) DeactivateKillSwitch() {
	v.mu.Lock()
	v.killSwitch = false
	v.mu.Unlock()
	v.log.Info("risk: kill switch deactivated")
}

// ValidateSignal runs the full pipeline. currentPrice may be the zero
// value when no market price is known; dailyTradesCount is -1 when the
// caller has no strategy context to report it (the max-trades check is
// then skipped, matching original_source's context=None path).
func (v *Validator) ValidateSignal(signal model.Signal, pf model.Portfolio, currentPrice decimal.Decimal, dailyTradesCount int, now time.Time) Result {
	if v.KillSwitchActive() {
		return reject("kill switch is active")
	}
	if signal.Action == model.ActionHold {
		return reject("HOLD signals do not generate orders")
	}
	if !v.isTradingHours(now) {
		return reject("outside trading hours")
	}

	requestedQty := signal.SuggestedQuantity
	if requestedQty <= 0 {
		if currentPrice.Sign() <= 0 {
			return reject("cannot calculate position size: no price available")
		}
		calculated := v.calculatePositionSize(pf, currentPrice)
		if calculated <= 0 {
			return reject("calculated position size is zero (insufficient equity)")
		}
		requestedQty = calculated
		v.log.Info("risk: position size calculated", "qty", calculated, "pct", v.cfg.PositionSizePct, "equity", pf.TotalEquity, "price", currentPrice)
	}

	if dailyTradesCount >= 0 {
		if r := v.checkMaxTradesPerDay(dailyTradesCount); !r.Approved {
			return r
		}
	}

	positionResult := v.checkPositionSize(signal.Symbol, signal.Action, requestedQty, pf)
	if !positionResult.Approved {
		return positionResult
	}

	exposureResult := v.checkPortfolioExposure(requestedQty, currentPrice, pf)
	if !exposureResult.Approved {
		return exposureResult
	}

	cashCap := int64(unbounded)
	if signal.Action == model.ActionBuy {
		cashResult := v.checkAvailableCash(requestedQty, currentPrice, pf)
		if !cashResult.Approved {
			return cashResult
		}
		cashCap = cashResult.ApprovedQuantity
	}

	if r := v.checkDailyLossLimit(pf); !r.Approved {
		return r
	}

	finalQty := requestedQty
	if positionResult.ApprovedQuantity < finalQty {
		finalQty = positionResult.ApprovedQuantity
	}
	if exposureResult.ApprovedQuantity < finalQty {
		finalQty = exposureResult.ApprovedQuantity
	}
	if signal.Action == model.ActionBuy {
		if cashCap < finalQty {
			finalQty = cashCap
		}
		if maxBuyable := v.maxBuyableQuantity(currentPrice, pf); maxBuyable < finalQty {
			finalQty = maxBuyable
		}
	}

	if finalQty <= 0 {
		return reject("approved quantity is zero")
	}

	if currentPrice.Sign() > 0 {
		fee := v.estimatedTransactionCost(finalQty, currentPrice)
		v.log.Info("risk: signal approved", "action", signal.Action, "symbol", signal.Symbol, "qty", finalQty, "requested", requestedQty, "estimated_fee", fee)
	} else {
		v.log.Info("risk: signal approved", "action", signal.Action, "symbol", signal.Symbol, "qty", finalQty, "requested", requestedQty)
	}
	return accept(finalQty)
}

// calculatePositionSize sizes an order as a percentage of total equity,
// capped by config.MaxPositionSize.
func (v *Validator) calculatePositionSize(pf model.Portfolio, price decimal.Decimal) int64 {
	if price.Sign() <= 0 || pf.TotalEquity.Sign() <= 0 {
		return 0
	}
	pct := decimal.NewFromFloat(v.cfg.PositionSizePct)
	targetValue := pf.TotalEquity.Mul(pct)
	qty := targetValue.Div(price).IntPart()
	if qty > v.cfg.MaxPositionSize {
		qty = v.cfg.MaxPositionSize
	}
	if qty < 0 {
		qty = 0
	}
	return qty
}

func (v *Validator) checkMaxTradesPerDay(current int) Result {
	if int64(current) >= int64(v.cfg.MaxTradesPerDay) {
		v.log.Warn("risk: max trades per day reached", "current", current, "max", v.cfg.MaxTradesPerDay)
		return reject("max trades per day reached")
	}
	return accept(unbounded)
}

func (v *Validator) estimatedTransactionCost(quantity int64, price decimal.Decimal) decimal.Decimal {
	notional := price.Mul(decimal.NewFromInt(quantity))
	rate := decimal.NewFromFloat(v.cfg.TransactionCostRate)
	return notional.Mul(rate)
}

func (v *Validator) isTradingHours(now time.Time) bool {
	start := time.Date(now.Year(), now.Month(), now.Day(), v.cfg.TradingStartHour, v.cfg.TradingStartMinute, 0, 0, now.Location())
	end := time.Date(now.Year(), now.Month(), now.Day(), v.cfg.TradingEndHour, v.cfg.TradingEndMinute, 0, 0, now.Location())
	return !now.Before(start) && !now.After(end)
}

func (v *Validator) checkPositionSize(symbol string, action model.Action, quantity int64, pf model.Portfolio) Result {
	currentQty := pf.GetPositionQuantity(symbol)

	var resultingQty int64
	if action == model.ActionBuy {
		resultingQty = currentQty + quantity
	} else {
		resultingQty = currentQty - quantity
	}

	abs := resultingQty
	if abs < 0 {
		abs = -abs
	}
	if abs > v.cfg.MaxPositionSize {
		absCurrent := currentQty
		if absCurrent < 0 {
			absCurrent = -absCurrent
		}
		maxAllowed := v.cfg.MaxPositionSize - absCurrent
		if maxAllowed <= 0 {
			return reject("position size limit reached for " + symbol)
		}
		return accept(maxAllowed)
	}
	return accept(quantity)
}

func (v *Validator) checkPortfolioExposure(quantity int64, price decimal.Decimal, pf model.Portfolio) Result {
	if price.Sign() <= 0 || pf.TotalEquity.Sign() <= 0 {
		return accept(quantity)
	}

	orderValue := price.Mul(decimal.NewFromInt(quantity))
	newExposure := pf.TotalPositionValue().Add(orderValue).Div(pf.TotalEquity)

	maxExposurePct := decimal.NewFromFloat(v.cfg.MaxPortfolioExposurePct)
	if newExposure.GreaterThan(maxExposurePct) {
		maxAdditionalValue := pf.TotalEquity.Mul(maxExposurePct).Sub(pf.TotalPositionValue())
		if maxAdditionalValue.Sign() <= 0 {
			return reject("portfolio exposure limit reached")
		}
		maxQty := maxAdditionalValue.Div(price).IntPart()
		if maxQty <= 0 {
			return reject("portfolio exposure limit reached")
		}
		return accept(maxQty)
	}
	return accept(quantity)
}

func (v *Validator) checkAvailableCash(quantity int64, price decimal.Decimal, pf model.Portfolio) Result {
	if price.Sign() <= 0 {
		return accept(quantity)
	}

	orderValue := price.Mul(decimal.NewFromInt(quantity))
	fee := v.estimatedTransactionCost(quantity, price)
	totalCost := orderValue.Add(fee)

	if totalCost.GreaterThan(pf.Cash) {
		rate := decimal.NewFromFloat(v.cfg.TransactionCostRate)
		effectivePrice := price.Mul(decimal.NewFromInt(1).Add(rate))
		maxQty := pf.Cash.Div(effectivePrice).IntPart()
		if maxQty <= 0 {
			return reject("insufficient cash")
		}
		v.log.Debug("risk: cash check reduced quantity", "requested", quantity, "approved", maxQty, "order_value", orderValue, "fee", fee)
		return accept(maxQty)
	}
	return accept(quantity)
}

func (v *Validator) checkDailyLossLimit(pf model.Portfolio) Result {
	limit := decimal.NewFromFloat(v.cfg.DailyLossLimit)
	if pf.DailyPnL.LessThan(limit.Neg()) {
		return reject("daily loss limit exceeded")
	}
	return accept(unbounded)
}

func (v *Validator) maxBuyableQuantity(price decimal.Decimal, pf model.Portfolio) int64 {
	if price.Sign() <= 0 {
		return 0
	}
	rate := decimal.NewFromFloat(v.cfg.TransactionCostRate)
	effectivePrice := price.Mul(decimal.NewFromInt(1).Add(rate))
	return pf.Cash.Div(effectivePrice).IntPart()
}
