package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Fill is a partial or complete execution of an order.
type Fill struct {
	FillID        string // "FILL-{order_id}-{seq}"
	OrderID       string
	BrokerFillID  string // optional
	Quantity      int64
	Price         decimal.Decimal
	Commission    decimal.Decimal // optional, zero value means none reported
	FilledAt      time.Time
}

// FillID formats the deterministic fill identifier for the given order and
// 1-based fill sequence number within that order.
func FillID(orderID string, seq int) string {
	return fmt.Sprintf("FILL-%s-%d", orderID, seq)
}
