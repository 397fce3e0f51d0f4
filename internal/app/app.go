// Package app wires every core component into the running trading
// system: construction order, the three event-bus handlers that drive
// the signal/order/fill pipeline, the universe-refresh loop, and the
// graceful-shutdown sequence. Grounded on original_source/app.py's
// Application class, structurally following the teacher's
// cmd/mdengine/main.go for signal handling and ordered startup/shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"ktrader/config"
	"ktrader/internal/broker"
	"ktrader/internal/control"
	"ktrader/internal/eventbus"
	"ktrader/internal/eventmirror"
	"ktrader/internal/events"
	"ktrader/internal/market"
	"ktrader/internal/metrics"
	"ktrader/internal/model"
	"ktrader/internal/monitor"
	"ktrader/internal/notify"
	"ktrader/internal/oms"
	"ktrader/internal/portfolio"
	"ktrader/internal/reconcile"
	"ktrader/internal/risk"
	"ktrader/internal/store"
	"ktrader/internal/strategy"
	"ktrader/internal/tradinghours"
	"ktrader/internal/universe"
)

// timeframes is the fixed set of candle buckets the market service
// maintains and strategies can request historical candles for, matching
// original_source's MarketDataService default.
var timeframes = []model.Timeframe{model.TF1m, model.TF5m, model.TF15m, model.TF60m}

const (
	historicalCandleLimit       = 250
	universeSize                 = 20
	universeRefreshInterval      = 30 * time.Minute
	statusEmitInterval           = 5 * time.Second
)

// Application is the top-level orchestrator. Construct with New and run
// with Run; Run blocks until shutdown is requested or ctx is canceled.
type Application struct {
	cfg *config.Config
	log *slog.Logger

	repo      store.Repository
	bus       *eventbus.Bus
	broker    broker.Broker
	risk      *risk.Validator
	oms       *oms.OMS
	market    *market.Service
	portfolio *portfolio.Tracker
	reconcile *reconcile.Reconciler
	control   *control.Manager
	clock     *tradinghours.Clock
	notifier  notify.Notifier

	universeProvider universe.Provider
	currentUniverse  []string

	strategies []strategy.Strategy

	mirror      *eventmirror.Mirror
	hub         *monitor.Hub
	metricsSrv  *metrics.Server
	monitorSrv  *http.Server
	health      *metrics.HealthStatus

	mu               sync.Mutex
	dailyTradesCount int
	running          bool
}

// Deps carries the already-constructed infrastructure New assembles the
// Application from; tests build a Deps with fakes in place of the
// broker/store.
type Deps struct {
	Config   *config.Config
	Log      *slog.Logger
	Repo     store.Repository
	Broker   broker.Broker
	Notifier notify.Notifier
	Universe universe.Provider
}

// New constructs an Application from already-opened dependencies. It does
// not connect the broker or run reconciliation; call Run for that.
func New(d Deps) *Application {
	bus := eventbus.New(d.Log, nil)

	a := &Application{
		cfg:              d.Config,
		log:              d.Log,
		repo:             d.Repo,
		bus:              bus,
		broker:           d.Broker,
		notifier:         d.Notifier,
		universeProvider: d.Universe,
		clock: tradinghours.New(tradinghours.Config{
			Location:    time.Local,
			StartHour:   d.Config.Risk.TradingStartHour,
			StartMinute: d.Config.Risk.TradingStartMinute,
			EndHour:     d.Config.Risk.TradingEndHour,
			EndMinute:   d.Config.Risk.TradingEndMinute,
		}),
	}

	a.risk = risk.New(d.Config.Risk, false, d.Log)
	a.oms = oms.New(d.Broker, d.Repo, bus, d.Log)
	a.portfolio = portfolio.New(d.Repo, bus, d.Log)
	a.market = market.New(d.Broker, d.Repo, bus, timeframes, d.Log)
	a.reconcile = reconcile.New(d.Broker, d.Repo, a.portfolio, d.Log)
	a.control = control.New(bus, a.oms, a.risk, a.notifier, control.Config{
		TOTPSecret: os.Getenv("KTRADER_CONTROL_TOTP_SECRET"),
	}, d.Log)

	return a
}

// AddStrategy registers a strategy instance to run in this Application.
func (a *Application) AddStrategy(s strategy.Strategy) {
	a.strategies = append(a.strategies, s)
	a.log.Info("app: added strategy", "name", s.Name())
}

// LoadStrategyFromConfig instantiates the strategy named by cfg.Strategy
// from the process-wide registry.
func (a *Application) LoadStrategyFromConfig() error {
	s, err := strategy.Create(a.cfg.Strategy)
	if err != nil {
		return fmt.Errorf("app: load strategy: %w", err)
	}
	a.AddStrategy(s)
	return nil
}

// Start runs the full startup sequence: event bus, broker connect, risk
// validator, OMS active-order load, portfolio init, reconciliation
// (fatal on failure), universe fetch, control manager, daily trade count,
// event subscriptions, strategy startup, and subscription to the
// universe. It does not install OS signal handlers; call Run for that.
func (a *Application) Start(ctx context.Context) error {
	a.bus.Start(ctx)

	if err := a.broker.Connect(ctx); err != nil {
		return fmt.Errorf("app: broker connect: %w", err)
	}

	if err := a.oms.LoadActiveOrders(ctx); err != nil {
		return fmt.Errorf("app: load active orders: %w", err)
	}

	if err := a.portfolio.Initialize(ctx); err != nil {
		return fmt.Errorf("app: portfolio init: %w", err)
	}

	result := a.reconcile.Reconcile(ctx)
	if !result.Success {
		return fmt.Errorf("app: reconciliation failed: %s", result.Error)
	}
	a.log.Info("app: reconciliation complete", "run_id", result.RunID,
		"positions_synced", result.PositionsSynced, "orders_updated", result.OrdersUpdated,
		"orders_canceled", result.OrdersCanceled)

	a.currentUniverse = a.fetchUniverse(ctx)
	a.log.Info("app: universe resolved", "size", len(a.currentUniverse))

	count, err := a.repo.CountOrdersToday(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("app: count orders today: %w", err)
	}
	a.mu.Lock()
	a.dailyTradesCount = count
	a.mu.Unlock()
	a.log.Info("app: daily trades count at startup", "count", count)

	a.bus.Subscribe(eventbus.KindMarket, a.onMarketEvent)
	a.bus.Subscribe(eventbus.KindSignal, a.onSignalEvent)
	a.bus.Subscribe(eventbus.KindFill, a.onFillEvent)

	for _, s := range a.strategies {
		if err := s.OnStart(ctx); err != nil {
			return fmt.Errorf("app: strategy %s OnStart: %w", s.Name(), err)
		}
		if symbols := s.Symbols(); len(symbols) > 0 {
			if err := a.market.Subscribe(ctx, symbols); err != nil {
				return fmt.Errorf("app: subscribe strategy %s symbols: %w", s.Name(), err)
			}
		}
	}

	if len(a.currentUniverse) > 0 {
		if err := a.market.Subscribe(ctx, a.currentUniverse); err != nil {
			return fmt.Errorf("app: subscribe universe: %w", err)
		}
	}

	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	a.log.Info("app: started successfully", "run_id", a.reconcile.RunID())
	return nil
}

// fetchUniverse resolves the initial trading universe, falling back to
// the configured default on any provider error or empty result.
func (a *Application) fetchUniverse(ctx context.Context) []string {
	if a.universeProvider == nil {
		return universe.DefaultUniverse()
	}
	syms, err := a.universeProvider.TopByTradingValue(ctx, universeSize)
	if err != nil || len(syms) == 0 {
		a.log.Warn("app: universe provider failed or empty, using default", "error", err)
		return universe.DefaultUniverse()
	}
	return syms
}

// Run executes Start, installs OS signal handlers, then blocks in the
// cooperative poll loop until a shutdown is requested or ctx is canceled,
// finally running Stop.
func (a *Application) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Start(runCtx); err != nil {
		return err
	}

	go a.market.Run(runCtx)
	go a.universeRefreshLoop(runCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			a.log.Warn("app: received OS shutdown signal")
			a.control.RequestShutdown("OS signal received")
		case <-runCtx.Done():
		}
	}()

	statusTicker := time.NewTicker(statusEmitInterval)
	defer statusTicker.Stop()
	pollTicker := time.NewTicker(100 * time.Millisecond)
	defer pollTicker.Stop()

	for !a.control.ShutdownRequested() {
		select {
		case <-runCtx.Done():
			a.Stop(context.Background())
			return runCtx.Err()
		case <-statusTicker.C:
			a.emitStatus()
		case <-pollTicker.C:
		}
		if a.control.IsKillSwitchActive() {
			time.Sleep(time.Second)
		}
	}

	return a.Stop(context.Background())
}

func (a *Application) emitStatus() {
	status := a.control.GetStatus()
	a.log.Debug("app: status", "paused", status.Paused, "kill_switch", status.KillSwitchActive,
		"active_orders", len(a.oms.GetActiveOrders()), "market_open", a.clock.IsOpen(time.Now()))
}

// universeRefreshLoop wakes every universeRefreshInterval and re-fetches
// the universe, keeping the previous one and publishing a warning
// ErrorEvent on an empty result, matching the original's refresh policy.
func (a *Application) universeRefreshLoop(ctx context.Context) {
	if a.universeProvider == nil {
		return
	}
	ticker := time.NewTicker(universeRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refreshUniverse(ctx)
		}
	}
}

func (a *Application) refreshUniverse(ctx context.Context) {
	updated, err := a.universeProvider.TopByTradingValue(ctx, universeSize)
	if err != nil || len(updated) == 0 {
		a.log.Warn("app: universe refresh returned empty, keeping previous universe", "error", err)
		a.bus.Publish(events.ErrorEvent{
			ErrorType: "UNIVERSE_REFRESH_EMPTY",
			Message:   "universe refresh returned no symbols, previous universe retained",
			Severity:  events.SeverityWarning,
		})
		return
	}

	added, removed := universe.Diff(a.currentUniverse, updated)
	if len(added) > 0 {
		if err := a.market.Subscribe(ctx, added); err != nil {
			a.log.Error("app: subscribe added universe symbols failed", "error", err)
		}
	}
	if len(removed) > 0 {
		if err := a.market.Unsubscribe(ctx, removed); err != nil {
			a.log.Error("app: unsubscribe removed universe symbols failed", "error", err)
		}
	}
	a.currentUniverse = updated
	if len(added) > 0 || len(removed) > 0 {
		a.log.Info("app: universe refreshed", "size", len(updated), "added", len(added), "removed", len(removed))
	}
}

// onMarketEvent handles a closed candle: builds a MarketSnapshot and
// StrategyContext and invokes every strategy whose symbol set matches.
// Ticks are ignored for signal generation, matching the original.
func (a *Application) onMarketEvent(ctx context.Context, ev eventbus.Event) error {
	if a.control.IsPaused() {
		return nil
	}
	me, ok := ev.(events.MarketEvent)
	if !ok || me.Type != events.MarketEventCandle {
		return nil
	}

	historical := make(map[string][]model.Candle, len(timeframes))
	for _, tf := range timeframes {
		candles, err := a.repo.GetCandles(ctx, me.Symbol, tf, historicalCandleLimit)
		if err != nil {
			a.log.Error("app: load historical candles failed", "symbol", me.Symbol, "timeframe", tf, "error", err)
			continue
		}
		if len(candles) > 0 {
			historical[tf.String()] = candles
		}
	}

	snap := strategy.MarketSnapshot{
		Symbol:            me.Symbol,
		Timestamp:         me.Timestamp,
		CurrentCandles:    a.market.AllCurrentCandles(me.Symbol, timeframes),
		HistoricalCandles: historical,
	}

	pf := a.portfolio.Portfolio()
	sctx := strategy.StrategyContext{
		Portfolio:         pf,
		ActiveOrdersCount: len(a.oms.GetActiveOrders()),
		DailyTradesCount:  a.getDailyTradesCount(),
		IsMarketOpen:      a.clock.IsOpen(time.Now()),
		Metadata:          map[string]any{"universe_top20": a.currentUniverse},
	}

	for _, s := range a.strategies {
		if symbols := s.Symbols(); len(symbols) > 0 && !containsSymbol(symbols, me.Symbol) {
			continue
		}
		if err := a.invokeStrategy(ctx, s, snap, sctx); err != nil {
			a.log.Error("app: strategy error", "strategy", s.Name(), "error", err)
			if a.control.RecordError(time.Now()) {
				a.control.HandleRepeatedErrors(ctx)
			}
		}
	}
	return nil
}

// invokeStrategy calls a strategy's OnMarketData, recovering a panic into
// an error so one misbehaving strategy never takes down the event bus
// dispatcher.
func (a *Application) invokeStrategy(ctx context.Context, s strategy.Strategy, snap strategy.MarketSnapshot, sctx strategy.StrategyContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()

	signals, serr := s.OnMarketData(ctx, snap, sctx)
	if serr != nil {
		return serr
	}
	for _, sig := range signals {
		a.bus.Publish(events.SignalEvent{
			SignalID:          sig.SignalID,
			StrategyName:      sig.StrategyName,
			Symbol:            sig.Symbol,
			Action:            sig.Action,
			Confidence:        sig.Confidence,
			Reason:            sig.Reason,
			SuggestedQuantity: sig.SuggestedQuantity,
			Metadata:          sig.Metadata,
			Timestamp:         sig.Timestamp,
		})
	}
	return nil
}

// onSignalEvent validates a signal through the risk pipeline and, if
// approved, forwards it to the OMS.
func (a *Application) onSignalEvent(ctx context.Context, ev eventbus.Event) error {
	if a.control.IsPaused() {
		return nil
	}
	se, ok := ev.(events.SignalEvent)
	if !ok || se.Action == model.ActionHold {
		return nil
	}

	sig := model.Signal{
		SignalID:          se.SignalID,
		StrategyName:      se.StrategyName,
		Symbol:            se.Symbol,
		Action:             se.Action,
		Confidence:        se.Confidence,
		Reason:            se.Reason,
		SuggestedQuantity: se.SuggestedQuantity,
		Metadata:          se.Metadata,
		Timestamp:         se.Timestamp,
	}
	if err := a.repo.SaveSignal(ctx, sig); err != nil {
		return fmt.Errorf("app: save signal: %w", err)
	}

	var currentPrice decimal.Decimal
	if c, ok := a.market.CurrentCandle(sig.Symbol, model.TF1m); ok {
		currentPrice = c.Close
	}

	pf := a.portfolio.Portfolio()
	result := a.risk.ValidateSignal(sig, pf, currentPrice, a.getDailyTradesCount(), time.Now())
	if !result.Approved {
		a.log.Info("app: signal rejected", "signal_id", sig.SignalID, "reason", result.RejectReason)
		return nil
	}

	order, err := a.oms.ProcessApprovedSignal(ctx, sig, result.ApprovedQuantity, currentPrice)
	if err != nil {
		return fmt.Errorf("app: process approved signal: %w", err)
	}
	if order != nil {
		a.bumpDailyTradesCount()
		a.log.Info("app: order created", "order_id", order.OrderID, "signal_id", sig.SignalID,
			"symbol", order.Symbol, "side", order.Side, "quantity", order.Quantity, "status", order.Status)
	}
	return nil
}

// onFillEvent invokes OnFill on every strategy whose symbol set permits
// the fill's symbol. Portfolio state updates independently through the
// tracker's own FillEvent subscription.
func (a *Application) onFillEvent(ctx context.Context, ev eventbus.Event) error {
	fe, ok := ev.(events.FillEvent)
	if !ok {
		return nil
	}
	order, found, err := a.repo.GetOrder(ctx, fe.OrderID)
	if err != nil {
		return fmt.Errorf("app: lookup order for fill: %w", err)
	}
	if !found {
		return nil
	}
	for _, s := range a.strategies {
		if symbols := s.Symbols(); len(symbols) > 0 && !containsSymbol(symbols, order.Symbol) {
			continue
		}
		if err := s.OnFill(ctx, order.Symbol, order.Side, fe.Quantity, fe.Price); err != nil {
			a.log.Error("app: strategy OnFill error", "strategy", s.Name(), "error", err)
		}
	}
	return nil
}

func (a *Application) getDailyTradesCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dailyTradesCount
}

func (a *Application) bumpDailyTradesCount() {
	a.mu.Lock()
	a.dailyTradesCount++
	a.mu.Unlock()
}

func containsSymbol(symbols []string, symbol string) bool {
	for _, s := range symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Stop runs the graceful shutdown sequence: strategies stop, market
// service unsubscribes and flushes, event bus drains, the run record is
// closed (KILLED if the kill switch tripped, else COMPLETED), the broker
// disconnects, and the store closes. Every step's failure is logged; the
// sequence always runs to completion.
func (a *Application) Stop(ctx context.Context) error {
	a.log.Info("app: stopping")
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	for _, s := range a.strategies {
		if err := s.OnStop(ctx); err != nil {
			a.log.Error("app: strategy OnStop error", "strategy", s.Name(), "error", err)
		}
	}

	if err := a.market.Shutdown(ctx); err != nil {
		a.log.Error("app: market service shutdown error", "error", err)
	}

	a.bus.Stop()

	status := model.RunCompleted
	if a.control.IsKillSwitchActive() {
		status = model.RunKilled
	}
	if err := a.reconcile.EndRun(ctx, status, ""); err != nil {
		a.log.Error("app: end run error", "error", err)
	}

	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.log.Error("app: event mirror close error", "error", err)
		}
	}
	if a.monitorSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.monitorSrv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("app: monitor server shutdown error", "error", err)
		}
	}
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.metricsSrv.Stop(shutdownCtx)
	}

	if err := a.broker.Disconnect(ctx); err != nil {
		a.log.Error("app: broker disconnect error", "error", err)
	}

	if err := a.repo.Close(); err != nil {
		a.log.Error("app: store close error", "error", err)
	}

	a.log.Info("app: stopped")
	return nil
}

// EnableMetrics starts the Prometheus metrics/health HTTP server on addr.
func (a *Application) EnableMetrics(addr string) {
	a.health = metrics.NewHealthStatus()
	a.metricsSrv = metrics.NewServer(addr, a.health, a.log)
	a.metricsSrv.Start()
}

// EnableEventMirror constructs and wires a Redis event mirror, subscribed
// to every event kind on the application's bus.
func (a *Application) EnableEventMirror(ctx context.Context, cfg eventmirror.Config) error {
	m, err := eventmirror.New(ctx, cfg, a.log)
	if err != nil {
		return err
	}
	m.Subscribe(a.bus)
	a.mirror = m
	return nil
}

// EnableMonitor starts the read-only WebSocket/status HTTP surface on
// addr, optionally requiring a bearer JWT signed with jwtSecret.
func (a *Application) EnableMonitor(addr, jwtSecret string) {
	a.hub = monitor.NewHub(a.log, a.statusSnapshot)
	a.hub.Subscribe(a.bus)
	router := monitor.NewRouter(a.hub, jwtSecret, a.log)
	a.monitorSrv = &http.Server{Addr: addr, Handler: router}
	go func() {
		if err := a.monitorSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("app: monitor server error", "error", err)
		}
	}()
}

func (a *Application) statusSnapshot() monitor.StatusSnapshot {
	status := a.control.GetStatus()
	return monitor.StatusSnapshot{
		Portfolio:        a.portfolio.Portfolio(),
		MarketOpen:       a.clock.IsOpen(time.Now()),
		KillSwitchActive: status.KillSwitchActive,
		ActiveOrderCount: len(a.oms.GetActiveOrders()),
		DailyTradeCount:  a.getDailyTradesCount(),
		GeneratedAt:      time.Now(),
	}
}
