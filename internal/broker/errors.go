package broker

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors every adapter normalizes its own wire-level failures
// into, matching the contract's normalized error taxonomy.
var (
	ErrConnectionLost    = errors.New("broker: connection lost")
	ErrInsufficientFunds = errors.New("broker: insufficient funds")
	ErrSymbolNotFound    = errors.New("broker: symbol not found")
	ErrMarketClosed      = errors.New("broker: market closed")
	ErrOther             = errors.New("broker: other error")
)

// OrderRejectedError reports a broker-side order rejection, with the
// rejected order's ID attached so the OMS can correlate it.
type OrderRejectedError struct {
	OrderID string
	Code    string
	Message string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("broker: order %s rejected (%s): %s", e.OrderID, e.Code, e.Message)
}

// RateLimitError reports a throttled request, with the broker's suggested
// retry delay.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("broker: rate limit exceeded, retry after %s", e.RetryAfter)
}

// IsRejected reports whether err is (or wraps) an OrderRejectedError.
func IsRejected(err error) bool {
	var r *OrderRejectedError
	return errors.As(err, &r)
}

// IsRateLimited reports whether err is (or wraps) a RateLimitError.
func IsRateLimited(err error) bool {
	var r *RateLimitError
	return errors.As(err, &r)
}
