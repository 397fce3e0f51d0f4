// Package notify delivers operational alerts (kill-switch trips, rejected
// orders, reconciliation mismatches) to external channels. Adapted from
// the teacher's internal/notification package: same Notifier interface and
// backend set, re-pointed at log/slog instead of the standard log package
// to match the rest of this module's structured logging.
package notify

import (
	"context"
	"log/slog"
)

// Level is the severity of an alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Alert is a notification to be sent.
type Alert struct {
	Level   Level
	Title   string
	Message string
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts instead of delivering them externally; used in
// --mode test and as a safe default when no channel is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.Log(ctx, levelToSlog(alert.Level), alert.Title, "alert_level", string(alert.Level), "message", alert.Message)
	return nil
}

func levelToSlog(l Level) slog.Level {
	switch l {
	case LevelWarning:
		return slog.LevelWarn
	case LevelCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Multi fans an alert out to several notifiers, continuing past individual
// failures and returning the first error encountered (if any) after all
// have been attempted.
type Multi struct {
	Notifiers []Notifier
}

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, n := range m.Notifiers {
		if err := n.Send(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
