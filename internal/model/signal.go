package model

import "time"

// Action is the directional instruction a strategy attaches to a signal.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal is a strategy's trade candidate. HOLD signals are persisted but
// never produce orders.
type Signal struct {
	SignalID          string
	StrategyName      string
	Symbol            string
	Action            Action
	Confidence        float64 // in [0,1]
	Reason            string
	SuggestedQuantity int64 // 0 means "let the risk validator size it"
	Metadata          map[string]any
	Timestamp         time.Time
}
