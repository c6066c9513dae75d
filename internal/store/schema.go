package store

import "context"

// postgresSchema and sqliteSchema intentionally use portable column types
// (TEXT for decimals/timestamps/JSON payloads) so both drivers share one
// repository implementation instead of branching per query.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		strategy_id TEXT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		limit_price TEXT,
		status TEXT NOT NULL,
		filled_quantity TEXT NOT NULL,
		avg_fill_price TEXT,
		exchange_order_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status_updated ON orders(status, updated_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_exchange_order_id ON orders(exchange_order_id) WHERE exchange_order_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS order_events (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		data TEXT NOT NULL,
		sequence_number BIGINT NOT NULL,
		timestamp TEXT NOT NULL,
		UNIQUE(order_id, sequence_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(order_id)`,
	`CREATE TABLE IF NOT EXISTS fills (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		exchange_fill_id TEXT NOT NULL UNIQUE,
		price TEXT NOT NULL,
		quantity TEXT NOT NULL,
		fee TEXT NOT NULL,
		fee_asset TEXT NOT NULL,
		exchange_time TEXT NOT NULL,
		source TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		quantity TEXT NOT NULL,
		avg_entry_price TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		total_fees TEXT NOT NULL,
		version BIGINT NOT NULL,
		updated_at TEXT NOT NULL,
		data_as_of_timestamp TEXT NOT NULL,
		UNIQUE(user_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS portfolio_events_outbox (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		order_id TEXT NOT NULL,
		fill_id TEXT,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL,
		processed_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_unprocessed ON portfolio_events_outbox(processed_at, created_at) WHERE processed_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS order_reconciliation_log (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		action TEXT NOT NULL,
		before_status TEXT NOT NULL,
		after_status TEXT NOT NULL,
		before_filled_qty TEXT NOT NULL,
		after_filled_qty TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk_limits (
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		max_position_size TEXT NOT NULL,
		max_exposure TEXT NOT NULL,
		max_daily_loss TEXT NOT NULL,
		PRIMARY KEY (user_id, symbol)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		strategy_id TEXT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		limit_price TEXT,
		status TEXT NOT NULL,
		filled_quantity TEXT NOT NULL,
		avg_fill_price TEXT,
		exchange_order_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status_updated ON orders(status, updated_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_exchange_order_id ON orders(exchange_order_id) WHERE exchange_order_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS order_events (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		data TEXT NOT NULL,
		sequence_number INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		UNIQUE(order_id, sequence_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(order_id)`,
	`CREATE TABLE IF NOT EXISTS fills (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		exchange_fill_id TEXT NOT NULL UNIQUE,
		price TEXT NOT NULL,
		quantity TEXT NOT NULL,
		fee TEXT NOT NULL,
		fee_asset TEXT NOT NULL,
		exchange_time TEXT NOT NULL,
		source TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		quantity TEXT NOT NULL,
		avg_entry_price TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		total_fees TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		data_as_of_timestamp TEXT NOT NULL,
		UNIQUE(user_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS portfolio_events_outbox (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		order_id TEXT NOT NULL,
		fill_id TEXT,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL,
		processed_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_unprocessed ON portfolio_events_outbox(processed_at, created_at)`,
	`CREATE TABLE IF NOT EXISTS order_reconciliation_log (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		action TEXT NOT NULL,
		before_status TEXT NOT NULL,
		after_status TEXT NOT NULL,
		before_filled_qty TEXT NOT NULL,
		after_filled_qty TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk_limits (
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		max_position_size TEXT NOT NULL,
		max_exposure TEXT NOT NULL,
		max_daily_loss TEXT NOT NULL,
		PRIMARY KEY (user_id, symbol)
	)`,
}

// migrate applies the dialect-appropriate DDL. Idempotent; safe to run on
// every process start, matching the teacher's SQLiteStore bootstrap.
func (s *Store) migrate(ctx context.Context) error {
	statements := sqliteSchema
	if s.dialect == DialectPostgres {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
