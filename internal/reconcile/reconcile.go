// Package reconcile runs the startup reconciliation sequence against the
// broker before the application loop begins trading: mark any unclean
// previous run as crashed, pull the broker's actual positions/balance/open
// orders, and reconcile them against local persisted state (broker wins on
// every discrepancy). Grounded on
// original_source/krader/recovery/reconciler.py's Reconciler, translated
// from its async sequence into synchronous calls over this codebase's
// store.Repository, broker.Broker, and portfolio.Tracker.
package reconcile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"ktrader/internal/broker"
	"ktrader/internal/model"
	"ktrader/internal/store"
)

// PortfolioSyncer is the subset of portfolio.Tracker the reconciler drives.
type PortfolioSyncer interface {
	SyncWithBroker(ctx context.Context, positions []model.Position, bal broker.Balance) error
}

// Result summarizes one reconciliation pass.
type Result struct {
	Success         bool
	RunID           string
	PositionsSynced int
	OrdersUpdated   int
	OrdersCanceled  int
	Discrepancies   []string
	Error           string
}

// Reconciler performs the startup reconciliation sequence.
type Reconciler struct {
	broker    broker.Broker
	repo      store.Repository
	portfolio PortfolioSyncer
	log       *slog.Logger

	runID string
}

// New constructs a Reconciler.
func New(b broker.Broker, repo store.Repository, portfolio PortfolioSyncer, log *slog.Logger) *Reconciler {
	return &Reconciler{broker: b, repo: repo, portfolio: portfolio, log: log}
}

// RunID returns the current run's identifier, empty until Reconcile runs.
func (r *Reconciler) RunID() string {
	return r.runID
}

// Reconcile executes the full sequence: cleanup previous unclean runs,
// start a new bot run record, sync positions/balance from the broker, then
// reconcile open orders. Broker state always wins over local state.
func (r *Reconciler) Reconcile(ctx context.Context) Result {
	r.runID = newRunID()
	result := Result{RunID: r.runID}

	if err := r.cleanupPreviousRuns(ctx); err != nil {
		result.Error = err.Error()
		return result
	}

	if err := r.repo.StartRun(ctx, r.runID, time.Now()); err != nil {
		result.Error = fmt.Sprintf("start run: %v", err)
		return result
	}

	if !r.broker.IsConnected() {
		result.Error = "broker not connected"
		r.logError(ctx, "RECONCILIATION_ERROR", result.Error)
		return result
	}

	positions, err := r.broker.FetchPositions(ctx)
	if err != nil {
		result.Error = fmt.Sprintf("fetch positions: %v", err)
		r.logError(ctx, "RECONCILIATION_ERROR", result.Error)
		return result
	}

	balance, err := r.broker.FetchBalance(ctx)
	if err != nil {
		result.Error = fmt.Sprintf("fetch balance: %v", err)
		r.logError(ctx, "RECONCILIATION_ERROR", result.Error)
		return result
	}

	if err := r.portfolio.SyncWithBroker(ctx, positions, balance); err != nil {
		result.Error = fmt.Sprintf("sync portfolio: %v", err)
		r.logError(ctx, "RECONCILIATION_ERROR", result.Error)
		return result
	}
	result.PositionsSynced = len(positions)

	brokerOrders, err := r.broker.FetchOpenOrders(ctx)
	if err != nil {
		result.Error = fmt.Sprintf("fetch open orders: %v", err)
		r.logError(ctx, "RECONCILIATION_ERROR", result.Error)
		return result
	}

	updated, canceled, discrepancies, err := r.reconcileOrders(ctx, brokerOrders)
	if err != nil {
		result.Error = fmt.Sprintf("reconcile orders: %v", err)
		r.logError(ctx, "RECONCILIATION_ERROR", result.Error)
		return result
	}
	result.OrdersUpdated = updated
	result.OrdersCanceled = canceled
	result.Discrepancies = discrepancies

	result.Success = true
	r.log.Info("reconcile: complete",
		"run_id", r.runID, "positions_synced", result.PositionsSynced,
		"orders_updated", result.OrdersUpdated, "orders_canceled", result.OrdersCanceled)

	return result
}

// cleanupPreviousRuns marks any run left RUNNING by an unclean shutdown as
// CRASHED, so the runs table never shows two concurrently-running entries.
func (r *Reconciler) cleanupPreviousRuns(ctx context.Context) error {
	unfinished, err := r.repo.GetUnfinishedRuns(ctx)
	if err != nil {
		return fmt.Errorf("get unfinished runs: %w", err)
	}

	for _, run := range unfinished {
		if err := r.repo.EndRun(ctx, run.RunID, model.RunCrashed,
			"unclean shutdown detected during reconciliation", time.Now()); err != nil {
			return fmt.Errorf("end run %s: %w", run.RunID, err)
		}
		r.log.Warn("reconcile: marked previous run as crashed", "run_id", run.RunID)
	}
	return nil
}

// reconcileOrders reconciles local open orders against the broker's actual
// open orders. A local order the broker no longer reports is closed out as
// FILLED (if it has fills) or CANCELED; a broker order with a fill count
// that disagrees with the local record is updated to match the broker.
func (r *Reconciler) reconcileOrders(ctx context.Context, brokerOrders []broker.OpenOrder) (updated, canceled int, discrepancies []string, err error) {
	brokerByID := make(map[string]broker.OpenOrder, len(brokerOrders))
	for _, bo := range brokerOrders {
		brokerByID[bo.BrokerOrderID] = bo
	}

	localOpen, err := r.repo.GetOpenOrders(ctx)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("get open orders: %w", err)
	}

	for _, local := range localOpen {
		if local.BrokerOrderID == "" {
			continue
		}
		if _, stillOpen := brokerByID[local.BrokerOrderID]; stillOpen {
			continue
		}

		order := local
		target := model.OrderCanceled
		if order.FilledQuantity > 0 {
			target = model.OrderFilled
		}
		if order.CanTransitionTo(target) {
			if err := order.TransitionTo(target); err != nil {
				return updated, canceled, discrepancies, fmt.Errorf("transition order %s: %w", order.OrderID, err)
			}
		} else {
			order.Status = target
		}
		if err := r.repo.UpdateOrder(ctx, order); err != nil {
			return updated, canceled, discrepancies, fmt.Errorf("update order %s: %w", order.OrderID, err)
		}
		canceled++
		discrepancies = append(discrepancies, fmt.Sprintf("order %s reconciled as %s (broker_id=%s no longer open)", order.OrderID, target, local.BrokerOrderID))
		r.log.Info("reconcile: order reconciled", "order_id", order.OrderID, "status", target, "broker_id", local.BrokerOrderID)
	}

	for _, bo := range brokerOrders {
		local, found, err := r.repo.GetOrderByBrokerID(ctx, bo.BrokerOrderID)
		if err != nil {
			return updated, canceled, discrepancies, fmt.Errorf("get order by broker id %s: %w", bo.BrokerOrderID, err)
		}
		if !found {
			r.log.Warn("reconcile: unknown broker order found", "broker_order_id", bo.BrokerOrderID)
			discrepancies = append(discrepancies, fmt.Sprintf("unknown broker order %s, no local record", bo.BrokerOrderID))
			continue
		}

		if bo.FilledQuantity != local.FilledQuantity {
			local.FilledQuantity = bo.FilledQuantity
			if err := r.repo.UpdateOrder(ctx, local); err != nil {
				return updated, canceled, discrepancies, fmt.Errorf("update order %s: %w", local.OrderID, err)
			}
			updated++
			r.log.Info("reconcile: order filled quantity updated from broker",
				"order_id", local.OrderID, "filled_quantity", bo.FilledQuantity)
		}
	}

	return updated, canceled, discrepancies, nil
}

// EndRun closes out the current run with the given terminal status.
func (r *Reconciler) EndRun(ctx context.Context, status model.RunStatus, errMsg string) error {
	if r.runID == "" {
		return nil
	}
	if err := r.repo.EndRun(ctx, r.runID, status, errMsg, time.Now()); err != nil {
		return fmt.Errorf("end run %s: %w", r.runID, err)
	}
	r.log.Info("reconcile: bot run ended", "run_id", r.runID, "status", status)
	return nil
}

func (r *Reconciler) logError(ctx context.Context, errType, message string) {
	if err := r.repo.LogError(ctx, model.ErrorRecord{
		RunID: r.runID, ErrorType: errType, Message: message, OccurredAt: time.Now(),
	}); err != nil {
		r.log.Error("reconcile: failed to persist error record", "error", err)
	}
}

func newRunID() string {
	buf := make([]byte, 6)
	rand.Read(buf)
	return "RUN-" + hex.EncodeToString(buf)
}
