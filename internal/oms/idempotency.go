package oms

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"ktrader/internal/model"
)

// defaultBucketSeconds is the time-bucket width folded into the order_id
// hash, allowing retries of the same signal in a later window to produce a
// distinct order.
const defaultBucketSeconds = 60

// GenerateOrderID computes the deterministic idempotency key for an
// approved signal: sha256(signal_id|symbol|action|quantity|time_bucket),
// truncated to 16 hex characters and prefixed "ORD-". Identical inputs
// always yield identical IDs.
func GenerateOrderID(signal model.Signal, quantity int64) string {
	return generateOrderID(signal, quantity, defaultBucketSeconds)
}

func generateOrderID(signal model.Signal, quantity int64, bucketSeconds int64) string {
	bucket := signal.Timestamp.Unix() / bucketSeconds
	parts := []string{
		signal.SignalID,
		signal.Symbol,
		string(signal.Action),
		strconv.FormatInt(quantity, 10),
		strconv.FormatInt(bucket, 10),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "ORD-" + hex.EncodeToString(sum[:])[:16]
}

// GenerateSignalID computes a unique signal ID from the strategy name,
// symbol, and timestamp (millisecond precision), matching the original
// source's generate_signal_id.
func GenerateSignalID(strategyName, symbol string, ts time.Time) string {
	parts := []string{strategyName, symbol, strconv.FormatInt(ts.UnixMilli(), 10)}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "SIG-" + hex.EncodeToString(sum[:])[:12]
}

// FillID formats the deterministic fill identifier for a 1-based fill
// sequence number within an order.
func FillID(orderID string, seq int) string {
	return model.FillID(orderID, seq)
}
