package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is a candle bucket width expressed in seconds, with 1440
// minutes (86400 seconds) reserved for the midnight-aligned daily bucket.
type Timeframe int64

// Common timeframes. Additional values are accepted as long as they are
// a positive number of seconds; these constants just name the usual ones.
const (
	TF1m  Timeframe = 60
	TF5m  Timeframe = 300
	TF15m Timeframe = 900
	TF60m Timeframe = 3600
	TF1d  Timeframe = 86400
)

// String renders a timeframe the way configuration and logs reference it.
func (tf Timeframe) String() string {
	switch tf {
	case TF1m:
		return "1m"
	case TF5m:
		return "5m"
	case TF15m:
		return "15m"
	case TF60m:
		return "60m"
	case TF1d:
		return "1d"
	default:
		return tf.Seconds().String() + "s"
	}
}

// Seconds returns the timeframe width in seconds as a decimal for display.
func (tf Timeframe) Seconds() decimal.Decimal {
	return decimal.NewFromInt(int64(tf))
}

// ErrInvalidCandle is returned when candle construction violates an OHLC
// invariant.
var ErrInvalidCandle = errors.New("model: invalid candle")

// Candle is one OHLCV bar for a symbol at a given timeframe.
type Candle struct {
	Symbol    string
	Timeframe Timeframe
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// Validate checks the OHLC and alignment invariants from the data model:
// high >= max(open, close), low <= min(open, close), volume >= 0, and
// open_time aligned to the timeframe boundary.
func (c Candle) Validate() error {
	if c.Volume < 0 {
		return ErrInvalidCandle
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return ErrInvalidCandle
	}
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		return ErrInvalidCandle
	}
	if !OpenTimeAligned(c.OpenTime, c.Timeframe) {
		return ErrInvalidCandle
	}
	return nil
}

// OpenTimeAligned reports whether t falls exactly on a timeframe boundary:
// minute-aligned for timeframes under a day, midnight-aligned for 1d.
func OpenTimeAligned(t time.Time, tf Timeframe) bool {
	return t.Equal(CandleOpenTime(t, tf))
}

// CandleOpenTime floors t to the open time of the bucket it falls in for
// the given timeframe: minute-aligned boundaries for anything under a day,
// midnight-aligned for the daily timeframe.
func CandleOpenTime(t time.Time, tf Timeframe) time.Time {
	if tf >= TF1d {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	}
	sec := t.Unix()
	width := int64(tf)
	floored := (sec / width) * width
	return time.Unix(floored, 0).In(t.Location())
}
