// Package config loads application settings from environment variables,
// matching the field set and defaults of original_source's config.py
// (pydantic Settings/BaseModel), in the teacher's getEnv idiom rather than
// a struct-tag/env library.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// Mode selects the top-level run mode, matching original_source's
// Settings.mode literal.
type Mode string

const (
	ModeLive  Mode = "live"
	ModePaper Mode = "paper"
	ModeTest  Mode = "test"
)

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string
}

// BrokerConfig selects and configures the broker adapter.
type BrokerConfig struct {
	Type          string // "kiwoom" or "mock"
	AccountNumber string
	TRRateLimitMs int
}

// RiskConfig configures the risk validator, field-for-field matching
// original_source's RiskConfig.
type RiskConfig struct {
	MaxPositionSize         int64
	MaxPortfolioExposurePct float64
	DailyLossLimit          float64
	TradingStartHour        int
	TradingStartMinute      int
	TradingEndHour          int
	TradingEndMinute        int
	TransactionCostRate     float64 // 0.00015 = 0.015%
	MaxTradesPerDay         int
	PositionSizePct         float64 // 0.05 = 5% of equity per trade
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level      string // DEBUG|INFO|WARNING|ERROR
	LogDir     string
	JSONFormat bool
}

// Config is the fully loaded application configuration.
type Config struct {
	Mode     Mode
	Database DatabaseConfig
	Broker   BrokerConfig
	Risk     RiskConfig
	Logging  LoggingConfig
	Strategy string

	// Infrastructure carried over from the teacher's ambient stack.
	RedisAddr     string
	RedisPassword string
	MetricsAddr   string
	MonitorAddr   string
	MonitorJWTSecret string
}

const envPrefix = "KTRADER_"

// Load reads configuration from environment variables with the same
// defaults as original_source's config.py.
func Load() *Config {
	return &Config{
		Mode: Mode(getEnv("MODE", string(ModePaper))),
		Database: DatabaseConfig{
			Path: getEnv("DATABASE__PATH", "ktrader.db"),
		},
		Broker: BrokerConfig{
			Type:          getEnv("BROKER__TYPE", "mock"),
			AccountNumber: getEnv("BROKER__ACCOUNT_NUMBER", ""),
			TRRateLimitMs: getEnvInt("BROKER__TR_RATE_LIMIT_MS", 200),
		},
		Risk: RiskConfig{
			MaxPositionSize:         int64(getEnvInt("RISK__MAX_POSITION_SIZE", 1000)),
			MaxPortfolioExposurePct: getEnvFloat("RISK__MAX_PORTFOLIO_EXPOSURE_PCT", 0.8),
			DailyLossLimit:          getEnvFloat("RISK__DAILY_LOSS_LIMIT", 1_000_000),
			TradingStartHour:        getEnvInt("RISK__TRADING_START_HOUR", 9),
			TradingStartMinute:      getEnvInt("RISK__TRADING_START_MINUTE", 0),
			TradingEndHour:          getEnvInt("RISK__TRADING_END_HOUR", 15),
			TradingEndMinute:        getEnvInt("RISK__TRADING_END_MINUTE", 30),
			TransactionCostRate:     getEnvFloat("RISK__TRANSACTION_COST_RATE", 0.00015),
			MaxTradesPerDay:         getEnvInt("RISK__MAX_TRADES_PER_DAY", 50),
			PositionSizePct:         getEnvFloat("RISK__POSITION_SIZE_PCT", 0.05),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOGGING__LEVEL", "INFO"),
			LogDir:     getEnv("LOGGING__LOG_DIR", "logs"),
			JSONFormat: getEnvBool("LOGGING__JSON_FORMAT", true),
		},
		Strategy: getEnv("STRATEGY", "pullback_v1"),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:      getEnv("METRICS_ADDR", ":9090"),
		MonitorAddr:      getEnv("MONITOR_ADDR", ":8090"),
		MonitorJWTSecret: getEnv("MONITOR_JWT_SECRET", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s%s=%q, using default %d", envPrefix, key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s%s=%q, using default %g", envPrefix, key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s%s=%q, using default %v", envPrefix, key, v, fallback)
		return fallback
	}
	return b
}

// Validate checks required cross-field invariants not expressible as a
// single env var default (mirrors the pydantic field constraints in
// original_source's config.py).
func (c *Config) Validate() error {
	if c.Strategy == "" {
		return fmt.Errorf("config: strategy must not be empty")
	}
	switch c.Mode {
	case ModeLive, ModePaper, ModeTest:
	default:
		return fmt.Errorf("config: invalid mode %q", c.Mode)
	}
	if c.Risk.TransactionCostRate < 0 || c.Risk.TransactionCostRate > 0.02 {
		return fmt.Errorf("config: risk.transaction_cost_rate out of range [0, 0.02]: %v", c.Risk.TransactionCostRate)
	}
	if c.Risk.MaxTradesPerDay < 1 || c.Risk.MaxTradesPerDay > 1000 {
		return fmt.Errorf("config: risk.max_trades_per_day out of range [1, 1000]: %d", c.Risk.MaxTradesPerDay)
	}
	if c.Risk.PositionSizePct < 0.01 || c.Risk.PositionSizePct > 0.5 {
		return fmt.Errorf("config: risk.position_size_pct out of range [0.01, 0.5]: %v", c.Risk.PositionSizePct)
	}
	if c.Broker.Type == "kiwoom" && c.Broker.AccountNumber == "" {
		return fmt.Errorf("config: broker.account_number required for broker.type=kiwoom")
	}
	return nil
}
