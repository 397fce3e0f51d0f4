// Command ktrader is the trading core's entrypoint: it loads
// configuration, wires a broker/store/strategy trio into an
// internal/app.Application, and runs the event loop until an OS shutdown
// signal arrives or the control plane's RequestShutdown is called. Flags
// override the KTRADER_-prefixed environment variables config.Load reads,
// matching the original_source CLI's --mode/--broker/--account surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"ktrader/config"
	"ktrader/internal/app"
	"ktrader/internal/broker"
	"ktrader/internal/broker/kiwoomrest"
	"ktrader/internal/broker/mock"
	"ktrader/internal/eventmirror"
	"ktrader/internal/logging"
	"ktrader/internal/notify"
	"ktrader/internal/store/sqlite"
	"ktrader/internal/strategy"
	"ktrader/internal/universe"
)

func main() {
	var (
		mode           = flag.String("mode", "", "run mode: live|paper|test (default from KTRADER_MODE)")
		brokerType     = flag.String("broker", "", "broker adapter: kiwoom|mock (default from KTRADER_BROKER__TYPE)")
		account        = flag.String("account", "", "broker account number (default from KTRADER_BROKER__ACCOUNT_NUMBER)")
		dbPath         = flag.String("db", "", "sqlite database path (default from KTRADER_DATABASE__PATH)")
		logLevel       = flag.String("log-level", "", "DEBUG|INFO|WARNING|ERROR (default from KTRADER_LOGGING__LEVEL)")
		strategyName   = flag.String("strategy", "", "strategy to run (default from KTRADER_STRATEGY)")
		listStrategies = flag.Bool("list-strategies", false, "print registered strategy names and exit")
		enableMetrics  = flag.Bool("metrics", true, "serve Prometheus metrics on KTRADER_METRICS_ADDR")
		enableMonitor  = flag.Bool("monitor", true, "serve the read-only monitor API on KTRADER_MONITOR_ADDR")
		enableMirror   = flag.Bool("mirror", false, "mirror events to Redis (requires KTRADER_REDIS_ADDR)")
	)
	flag.Parse()

	if *listStrategies {
		for _, name := range strategy.Available() {
			fmt.Println(name)
		}
		return
	}

	cfg := config.Load()
	applyFlagOverrides(cfg, *mode, *brokerType, *account, *dbPath, *logLevel, *strategyName)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ktrader: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	loggers, err := logging.Init(logging.Config{
		Service:    "ktrader",
		Level:      parseLevel(cfg.Logging.Level),
		LogDir:     cfg.Logging.LogDir,
		JSONFormat: cfg.Logging.JSONFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ktrader: init logging: %v\n", err)
		os.Exit(1)
	}
	log := loggers.App
	log.Info("starting", "mode", cfg.Mode, "broker", cfg.Broker.Type, "strategy", cfg.Strategy)

	repo, err := sqlite.New(sqlite.Config{Path: cfg.Database.Path}, log)
	if err != nil {
		log.Error("open store", "error", err)
		os.Exit(1)
	}

	b := buildBroker(cfg)

	application := app.New(app.Deps{
		Config:   cfg,
		Log:      log,
		Repo:     repo,
		Broker:   b,
		Notifier: notify.NewLogNotifier(log),
		Universe: universe.StaticProvider{},
	})

	if err := application.LoadStrategyFromConfig(); err != nil {
		log.Error("load strategy", "error", err)
		os.Exit(1)
	}

	if *enableMetrics && cfg.MetricsAddr != "" {
		application.EnableMetrics(cfg.MetricsAddr)
	}
	if *enableMonitor && cfg.MonitorAddr != "" {
		application.EnableMonitor(cfg.MonitorAddr, cfg.MonitorJWTSecret)
	}
	if *enableMirror && cfg.RedisAddr != "" {
		ctx := context.Background()
		if err := application.EnableEventMirror(ctx, eventmirror.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}); err != nil {
			log.Warn("event mirror disabled", "error", err)
		}
	}

	ctx := context.Background()
	if err := application.Run(ctx); err != nil {
		log.Error("run exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("stopped cleanly")
}

func applyFlagOverrides(cfg *config.Config, mode, brokerType, account, dbPath, logLevel, strategyName string) {
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if brokerType != "" {
		cfg.Broker.Type = brokerType
	}
	if account != "" {
		cfg.Broker.AccountNumber = account
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if strategyName != "" {
		cfg.Strategy = strategyName
	}
}

func buildBroker(cfg *config.Config) broker.Broker {
	switch cfg.Broker.Type {
	case "kiwoom":
		return kiwoomrest.NewBroker(kiwoomrest.Config{
			AppKey:     os.Getenv("KTRADER_KIWOOM_APP_KEY"),
			AppSecret:  os.Getenv("KTRADER_KIWOOM_APP_SECRET"),
			AccountNo:  cfg.Broker.AccountNumber,
			TOTPSecret: os.Getenv("KTRADER_KIWOOM_TOTP_SECRET"),
		}, cfg.Broker.TRRateLimitMs)
	default:
		return mock.New()
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
