package sqlite

import "database/sql"

// createSchema creates every table the Repository needs if it does not
// already exist. Money columns are stored as TEXT (decimal.Decimal's
// canonical string form) to avoid floating-point drift, matching the
// model package's decision to use shopspring/decimal throughout.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		PRAGMA foreign_keys = ON;

		CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT    NOT NULL,
			timeframe  INTEGER NOT NULL,
			open_time  INTEGER NOT NULL,
			open       TEXT    NOT NULL,
			high       TEXT    NOT NULL,
			low        TEXT    NOT NULL,
			close      TEXT    NOT NULL,
			volume     INTEGER NOT NULL,
			PRIMARY KEY (symbol, timeframe, open_time)
		);

		CREATE TABLE IF NOT EXISTS signals (
			signal_id          TEXT PRIMARY KEY,
			strategy_name      TEXT NOT NULL,
			symbol             TEXT NOT NULL,
			action             TEXT NOT NULL,
			confidence         REAL NOT NULL,
			reason             TEXT,
			suggested_quantity INTEGER NOT NULL,
			metadata           TEXT,
			created_at         INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS orders (
			order_id         TEXT PRIMARY KEY,
			signal_id        TEXT,
			symbol           TEXT NOT NULL,
			side             TEXT NOT NULL,
			order_type       TEXT NOT NULL,
			quantity         INTEGER NOT NULL,
			filled_quantity  INTEGER NOT NULL,
			price            TEXT NOT NULL,
			broker_order_id  TEXT,
			status           TEXT NOT NULL,
			reject_reason    TEXT,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_broker_order_id ON orders(broker_order_id);
		CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);

		CREATE TABLE IF NOT EXISTS fills (
			fill_id        TEXT PRIMARY KEY,
			order_id       TEXT NOT NULL REFERENCES orders(order_id),
			broker_fill_id TEXT,
			quantity       INTEGER NOT NULL,
			price          TEXT NOT NULL,
			commission     TEXT NOT NULL,
			filled_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_fills_order_id ON fills(order_id);

		CREATE TABLE IF NOT EXISTS positions (
			symbol        TEXT PRIMARY KEY,
			quantity      INTEGER NOT NULL,
			avg_price     TEXT NOT NULL,
			current_price TEXT NOT NULL,
			updated_at    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bot_runs (
			run_id        TEXT PRIMARY KEY,
			started_at    INTEGER NOT NULL,
			ended_at      INTEGER,
			status        TEXT NOT NULL,
			error_message TEXT
		);

		CREATE TABLE IF NOT EXISTS errors (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL,
			error_type  TEXT NOT NULL,
			message     TEXT NOT NULL,
			context     TEXT,
			occurred_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_errors_run_id ON errors(run_id);
	`)
	return err
}
