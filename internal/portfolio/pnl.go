package portfolio

import (
	"github.com/shopspring/decimal"
)

// realizedPnLOnSell computes the realized P&L for a SELL fill against the
// position's average cost basis, for the closed portion only (sellQty is
// clamped to the held quantity before this is called). Folded into
// Tracker.ApplyFill to keep daily_pnl best-effort and fill-driven rather
// than on a recompute schedule, per the decision recorded against the
// stubbed original calculate_daily_pnl.
func realizedPnLOnSell(avgPrice decimal.Decimal, sellQty int64, fillPrice decimal.Decimal) decimal.Decimal {
	return fillPrice.Sub(avgPrice).Mul(decimal.NewFromInt(sellQty))
}
