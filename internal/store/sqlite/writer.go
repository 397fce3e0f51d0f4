// Package sqlite is the persistence store: a single-writer-connection
// SQLite database in WAL mode, grounded on the teacher's
// internal/store/sqlite/{writer,reader}.go shape (same connection-pool
// discipline, same New/Close conventions) re-pointed at the schema this
// domain needs. Unlike the teacher's 1-second-candle writer, candle
// volume here is closed-bar-only (minutes to a day apart), so the
// teacher's batched-transaction buffering is not reused for candles;
// every Repository method commits synchronously, which is also what
// order/fill persistence requires for idempotency correctness.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ktrader/internal/model"
	"ktrader/internal/store"
)

var _ store.Repository = (*Store)(nil)

// Config configures the store.
type Config struct {
	Path string
}

// Store is a SQLite-backed store.Repository implementation.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// New opens (creating if needed) the SQLite database at cfg.Path in WAL
// mode with a single connection, and ensures the schema exists.
func New(cfg Config, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}

	log.Info("sqlite: opened database", "path", cfg.Path)
	return &Store{db: db, log: log}, nil
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SaveCandle(ctx context.Context, c model.Candle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candles (symbol, timeframe, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, open_time) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume
	`, c.Symbol, int64(c.Timeframe), c.OpenTime.Unix(), c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume)
	if err != nil {
		return fmt.Errorf("sqlite: save candle: %w", err)
	}
	return nil
}

func (s *Store) SaveSignal(ctx context.Context, sig model.Signal) error {
	var metadataJSON []byte
	if len(sig.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(sig.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: marshal signal metadata: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO signals
			(signal_id, strategy_name, symbol, action, confidence, reason, suggested_quantity, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.SignalID, sig.StrategyName, sig.Symbol, string(sig.Action), sig.Confidence, sig.Reason, sig.SuggestedQuantity, string(metadataJSON), sig.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("sqlite: save signal: %w", err)
	}
	return nil
}

func (s *Store) SaveOrder(ctx context.Context, o model.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
			(order_id, signal_id, symbol, side, order_type, quantity, filled_quantity,
			 price, broker_order_id, status, reject_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.OrderID, o.SignalID, o.Symbol, string(o.Side), string(o.OrderType), o.Quantity, o.FilledQuantity,
		o.Price.String(), o.BrokerOrderID, string(o.Status), o.RejectReason, o.CreatedAt.Unix(), o.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite: save order: %w", err)
	}
	return nil
}

func (s *Store) UpdateOrder(ctx context.Context, o model.Order) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			filled_quantity = ?, broker_order_id = ?, status = ?, reject_reason = ?, updated_at = ?
		WHERE order_id = ?
	`, o.FilledQuantity, o.BrokerOrderID, string(o.Status), o.RejectReason, o.UpdatedAt.Unix(), o.OrderID)
	if err != nil {
		return fmt.Errorf("sqlite: update order: %w", err)
	}
	return nil
}

func (s *Store) SaveFill(ctx context.Context, f model.Fill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (fill_id, order_id, broker_fill_id, quantity, price, commission, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.FillID, f.OrderID, f.BrokerFillID, f.Quantity, f.Price.String(), f.Commission.String(), f.FilledAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite: save fill: %w", err)
	}
	return nil
}

func (s *Store) SavePosition(ctx context.Context, p model.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (symbol, quantity, avg_price, current_price, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			quantity = excluded.quantity, avg_price = excluded.avg_price,
			current_price = excluded.current_price, updated_at = excluded.updated_at
	`, p.Symbol, p.Quantity, p.AvgPrice.String(), p.CurrentPrice.String(), p.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite: save position: %w", err)
	}
	return nil
}

func (s *Store) DeletePosition(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("sqlite: delete position: %w", err)
	}
	return nil
}

func (s *Store) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_runs (run_id, started_at, status) VALUES (?, ?, ?)
	`, runID, startedAt.Unix(), string(model.RunRunning))
	if err != nil {
		return fmt.Errorf("sqlite: start run: %w", err)
	}
	return nil
}

func (s *Store) EndRun(ctx context.Context, runID string, status model.RunStatus, errMsg string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bot_runs SET ended_at = ?, status = ?, error_message = ? WHERE run_id = ?
	`, endedAt.Unix(), string(status), errMsg, runID)
	if err != nil {
		return fmt.Errorf("sqlite: end run: %w", err)
	}
	return nil
}

func (s *Store) LogError(ctx context.Context, e model.ErrorRecord) error {
	var contextJSON []byte
	if len(e.Context) > 0 {
		var err error
		contextJSON, err = json.Marshal(e.Context)
		if err != nil {
			return fmt.Errorf("sqlite: marshal error context: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO errors (run_id, error_type, message, context, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.RunID, e.ErrorType, e.Message, string(contextJSON), e.OccurredAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite: log error: %w", err)
	}
	return nil
}
