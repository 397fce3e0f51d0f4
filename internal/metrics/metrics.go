// Package metrics exposes Prometheus counters/gauges for the trading core
// plus a /healthz liveness endpoint, adapted from the teacher's
// internal/metrics/metrics.go. The metric set is re-themed from the
// teacher's market-data-engine concerns (WS reconnects, TF resampling,
// indicator-engine compute time) to this domain's: ticks/candles ingested,
// signals generated, risk verdicts, orders/fills, kill-switch state, and
// reconciliation outcomes.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the trading core exports.
type Metrics struct {
	TicksTotal        prometheus.Counter
	CandlesTotal      *prometheus.CounterVec // labels: timeframe
	SignalsTotal      *prometheus.CounterVec // labels: strategy, action
	RiskRejectedTotal *prometheus.CounterVec // labels: reason
	RiskApprovedTotal prometheus.Counter

	OrdersSubmittedTotal prometheus.Counter
	OrdersRejectedTotal  prometheus.Counter
	OrdersFilledTotal    prometheus.Counter
	OrdersCanceledTotal  prometheus.Counter
	FillsTotal           prometheus.Counter

	BrokerErrorsTotal   *prometheus.CounterVec // labels: error_type
	BrokerLatency       prometheus.Histogram
	SQLiteCommitDur     prometheus.Histogram

	KillSwitchState prometheus.Gauge // 0=inactive, 1=active
	MarketState     prometheus.Gauge // 0=closed, 1=open
	DailyPnL        prometheus.Gauge
	PortfolioValue  prometheus.Gauge

	ReconcileRunsTotal       prometheus.Counter
	ReconcileMismatchesTotal prometheus.Counter

	EventBusDropsTotal *prometheus.CounterVec // labels: event_kind
}

// NewMetrics builds and registers every metric.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ktrader_ticks_total",
			Help: "Total ticks ingested from the broker feed",
		}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ktrader_candles_total",
			Help: "Total closed candles emitted, by timeframe",
		}, []string{"timeframe"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ktrader_signals_total",
			Help: "Total signals generated, by strategy and action",
		}, []string{"strategy", "action"}),
		RiskRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ktrader_risk_rejected_total",
			Help: "Signals rejected by the risk validator, by reason",
		}, []string{"reason"}),
		RiskApprovedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ktrader_risk_approved_total",
			Help: "Signals approved by the risk validator",
		}),

		OrdersSubmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ktrader_orders_submitted_total",
			Help: "Total orders submitted to the broker",
		}),
		OrdersRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ktrader_orders_rejected_total",
			Help: "Total orders rejected by the broker",
		}),
		OrdersFilledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ktrader_orders_filled_total",
			Help: "Total orders reaching FILLED",
		}),
		OrdersCanceledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ktrader_orders_canceled_total",
			Help: "Total orders canceled",
		}),
		FillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ktrader_fills_total",
			Help: "Total fill events applied",
		}),

		BrokerErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ktrader_broker_errors_total",
			Help: "Broker adapter errors, by error type",
		}, []string{"error_type"}),
		BrokerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ktrader_broker_latency_seconds",
			Help:    "Broker API round-trip latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ktrader_sqlite_commit_duration_seconds",
			Help:    "SQLite write latency",
			Buckets: prometheus.DefBuckets,
		}),

		KillSwitchState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ktrader_kill_switch_state",
			Help: "Kill switch state (0=inactive, 1=active)",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ktrader_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
		DailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ktrader_daily_pnl",
			Help: "Current best-effort realized daily P&L",
		}),
		PortfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ktrader_portfolio_value",
			Help: "Current mark-to-market portfolio value",
		}),

		ReconcileRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ktrader_reconcile_runs_total",
			Help: "Startup reconciliation runs performed",
		}),
		ReconcileMismatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ktrader_reconcile_mismatches_total",
			Help: "Mismatches found and corrected during reconciliation",
		}),

		EventBusDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ktrader_event_bus_drops_total",
			Help: "Events a subscriber handler failed to process, by event kind",
		}, []string{"event_kind"}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.SignalsTotal,
		m.RiskRejectedTotal,
		m.RiskApprovedTotal,
		m.OrdersSubmittedTotal,
		m.OrdersRejectedTotal,
		m.OrdersFilledTotal,
		m.OrdersCanceledTotal,
		m.FillsTotal,
		m.BrokerErrorsTotal,
		m.BrokerLatency,
		m.SQLiteCommitDur,
		m.KillSwitchState,
		m.MarketState,
		m.DailyPnL,
		m.PortfolioValue,
		m.ReconcileRunsTotal,
		m.ReconcileMismatchesTotal,
		m.EventBusDropsTotal,
	)

	return m
}

// HealthStatus tracks liveness of the core's external dependencies.
type HealthStatus struct {
	mu sync.RWMutex

	BrokerConnected bool      `json:"broker_connected"`
	LastTickTime    time.Time `json:"last_tick_time"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`
	MarketOpen      bool      `json:"market_open"`
	KillSwitch      bool      `json:"kill_switch_active"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a freshly-started health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetBrokerConnected(v bool) {
	h.mu.Lock()
	h.BrokerConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetKillSwitch(v bool) {
	h.mu.Lock()
	h.KillSwitch = v
	h.mu.Unlock()
}

// CheckRedis pings Redis (when the optional event mirror is enabled) and
// records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.BrokerConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if h.KillSwitch {
		overallStatus = "kill_switch_active"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		BrokerConnected bool    `json:"broker_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		MarketOpen      bool    `json:"market_open"`
		KillSwitch      bool    `json:"kill_switch_active"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		BrokerConnected: h.BrokerConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		MarketOpen:      h.MarketOpen,
		KillSwitch:      h.KillSwitch,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
	log    *slog.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		log:    log,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics: server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics: server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
