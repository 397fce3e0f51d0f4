// Package control implements the operator control plane: pause/resume,
// kill-switch activation/deactivation, graceful shutdown requests, and a
// rolling-window repeated-error trigger that can activate the kill switch
// on its own. Grounded on original_source/krader/monitor/control.py's
// ControlManager, translated from its async methods into synchronous,
// mutex-guarded ones over the OMS and risk validator this codebase already
// built, and from its module-level logger into the teacher's injected
// *slog.Logger convention.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"ktrader/internal/eventbus"
	"ktrader/internal/events"
	"ktrader/internal/notify"
)

// OrderGate is the subset of the OMS the control plane drives.
type OrderGate interface {
	Pause()
	Resume()
	CancelAllOrders(ctx context.Context) int
}

// KillSwitch is the subset of the risk validator the control plane drives.
type KillSwitch interface {
	ActivateKillSwitch()
	DeactivateKillSwitch()
	KillSwitchActive() bool
}

// Manager owns the system's control state. Zero value is not usable;
// construct with New.
type Manager struct {
	bus    *eventbus.Bus
	oms    OrderGate
	risk   KillSwitch
	notify notify.Notifier
	log    *slog.Logger

	totpSecret string // non-empty requires a valid TOTP code to deactivate the kill switch

	mu                sync.Mutex
	paused            bool
	shutdownRequested bool
	errorTimestamps   []time.Time

	errorThreshold      int
	errorWindow         time.Duration
}

// Config tunes the repeated-error kill-switch trigger and the optional
// TOTP gate on kill-switch deactivation.
type Config struct {
	ErrorThreshold int           // errors within ErrorWindow that trip the kill switch
	ErrorWindow    time.Duration
	TOTPSecret     string // empty disables the TOTP requirement
}

// New constructs a Manager. notifier may be nil to disable alerting.
func New(bus *eventbus.Bus, oms OrderGate, risk KillSwitch, notifier notify.Notifier, cfg Config, log *slog.Logger) *Manager {
	threshold := cfg.ErrorThreshold
	if threshold <= 0 {
		threshold = 3
	}
	window := cfg.ErrorWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	return &Manager{
		bus:            bus,
		oms:            oms,
		risk:           risk,
		notify:         notifier,
		log:            log,
		totpSecret:     cfg.TOTPSecret,
		errorThreshold: threshold,
		errorWindow:    window,
	}
}

// IsPaused reports whether trading is currently paused.
func (m *Manager) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// IsKillSwitchActive reports the risk validator's kill-switch state.
func (m *Manager) IsKillSwitchActive() bool {
	return m.risk.KillSwitchActive()
}

// ShutdownRequested reports whether a graceful shutdown was requested.
func (m *Manager) ShutdownRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownRequested
}

// Pause stops new order submission; orders already in flight continue.
func (m *Manager) Pause(ctx context.Context) {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()

	m.oms.Pause()
	m.bus.Publish(events.ControlEvent{Command: events.ControlPause})
	m.log.Warn("control: trading PAUSED")
}

// Resume re-enables order submission.
func (m *Manager) Resume(ctx context.Context) {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()

	m.oms.Resume()
	m.bus.Publish(events.ControlEvent{Command: events.ControlResume})
	m.log.Info("control: trading RESUMED")
}

// ActivateKillSwitch pauses trading, cancels every open order, and blocks
// the risk validator from approving any further signal until
// DeactivateKillSwitch is called. Returns the number of orders canceled.
func (m *Manager) ActivateKillSwitch(ctx context.Context, reason string) int {
	m.risk.ActivateKillSwitch()
	m.oms.Pause()

	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()

	canceled := m.oms.CancelAllOrders(ctx)

	m.bus.Publish(events.ControlEvent{Command: events.ControlKill, Reason: reason})
	m.log.Error("control: KILL SWITCH ACTIVATED", "reason", reason, "orders_canceled", canceled)
	m.notify.Send(ctx, notify.Alert{
		Level:   notify.LevelCritical,
		Title:   "Kill switch activated",
		Message: fmt.Sprintf("%s (canceled %d orders)", reason, canceled),
	})

	return canceled
}

// DeactivateKillSwitch resumes risk-validator approvals. When a TOTP secret
// was configured, code must be a currently valid code for that secret —
// requiring a second factor for the one action in this system that
// silently restores live trading.
func (m *Manager) DeactivateKillSwitch(code string) error {
	if m.totpSecret != "" {
		if !totp.Validate(code, m.totpSecret) {
			return fmt.Errorf("control: invalid TOTP code")
		}
	}
	m.risk.DeactivateKillSwitch()
	m.log.Warn("control: kill switch DEACTIVATED - manual intervention")
	return nil
}

// RequestShutdown marks a graceful shutdown as requested; the application
// loop observes ShutdownRequested and winds down on its next iteration.
func (m *Manager) RequestShutdown(reason string) {
	m.mu.Lock()
	m.shutdownRequested = true
	m.mu.Unlock()

	m.bus.Publish(events.ControlEvent{Command: events.ControlShutdown, Reason: reason})
	m.log.Warn("control: SHUTDOWN REQUESTED", "reason", reason)
}

// RecordError records an operational error occurrence and reports whether
// the rolling error-rate threshold has now been exceeded.
func (m *Manager) RecordError(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorTimestamps = append(m.errorTimestamps, now)
	cutoff := now.Add(-m.errorWindow)
	kept := m.errorTimestamps[:0]
	for _, ts := range m.errorTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.errorTimestamps = kept

	if len(m.errorTimestamps) >= m.errorThreshold {
		m.log.Error("control: error threshold exceeded",
			"count", len(m.errorTimestamps), "window", m.errorWindow)
		return true
	}
	return false
}

// HandleRepeatedErrors activates the kill switch in response to
// RecordError reporting the threshold exceeded.
func (m *Manager) HandleRepeatedErrors(ctx context.Context) int {
	m.mu.Lock()
	count := len(m.errorTimestamps)
	window := m.errorWindow
	m.mu.Unlock()
	return m.ActivateKillSwitch(ctx, fmt.Sprintf("repeated errors: %d in %s", count, window))
}

// ResetErrorCount clears the rolling error window, used after an operator
// resolves the underlying issue without a full kill-switch cycle.
func (m *Manager) ResetErrorCount() {
	m.mu.Lock()
	m.errorTimestamps = nil
	m.mu.Unlock()
}

// Status summarizes the control plane's current state for the monitoring
// surface.
type Status struct {
	Paused            bool `json:"paused"`
	KillSwitchActive  bool `json:"kill_switch_active"`
	ShutdownRequested bool `json:"shutdown_requested"`
	RecentErrors      int  `json:"recent_errors"`
}

// GetStatus returns a point-in-time snapshot of the control plane's state.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Paused:            m.paused,
		KillSwitchActive:  m.risk.KillSwitchActive(),
		ShutdownRequested: m.shutdownRequested,
		RecentErrors:      len(m.errorTimestamps),
	}
}
