// Package store implements the Durable Store (spec §4.A) over database/sql,
// supporting two interchangeable drivers: PostgreSQL (production, via
// jackc/pgx's stdlib adapter, with real SELECT ... FOR UPDATE row locks) and
// SQLite (local/test, via mattn/go-sqlite3, using BEGIN IMMEDIATE
// transactions for equivalent per-row serialization since SQLite has no
// FOR UPDATE syntax).
package store

import (
	"context"
	"database/sql"
	"fmt"

	"executioncore/internal/config"
	"executioncore/internal/core"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect identifies the underlying SQL engine.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store is the concrete implementation of core.IStore.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the configured driver and prepares the schema.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)

	switch cfg.Driver {
	case "postgres":
		db, err = sql.Open("pgx", cfg.DSN)
		dialect = DialectPostgres
	case "sqlite":
		// _txlock=immediate makes every BeginTx() take SQLite's write lock
		// up front, giving row-lock-equivalent serialization for this
		// schema's access pattern without SELECT ... FOR UPDATE support.
		dsn := fmt.Sprintf("file:%s?_txlock=immediate&_journal_mode=WAL", cfg.SQLitePath)
		db, err = sql.Open("sqlite3", dsn)
		dialect = DialectSQLite
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1) // SQLite allows one writer; avoid SQLITE_BUSY storms.
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the underlying connection is reachable, for the health server.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// tx wraps *sql.Tx to satisfy core.Tx.
type tx struct {
	sqlTx *sql.Tx
}

func (t *tx) Commit() error   { return t.sqlTx.Commit() }
func (t *tx) Rollback() error { return t.sqlTx.Rollback() }

// BeginTx opens a new transaction with row-locking semantics appropriate to
// the configured dialect (spec §4.A).
func (s *Store) BeginTx(ctx context.Context) (core.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, err
	}
	return &tx{sqlTx: sqlTx}, nil
}

// sqlTxOf extracts the underlying *sql.Tx from a core.Tx, panicking on a
// foreign implementation — every Tx in this process is minted by BeginTx
// above, so this is a programming-error guard, not a runtime condition.
func sqlTxOf(t core.Tx) *sql.Tx {
	concrete, ok := t.(*tx)
	if !ok {
		panic("store: core.Tx not produced by store.Store.BeginTx")
	}
	return concrete.sqlTx
}

// rebind rewrites a query written with "?" placeholders into the dialect's
// native placeholder syntax. pgx's stdlib driver parses queries for $1, $2,
// ... parameters rather than rewriting "?" itself, so every call site shares
// one query string and rebind() adapts it per dialect — the same approach
// jmoiron/sqlx's Rebind takes, inlined here to avoid a dependency for one
// function.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b []byte
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b = append(b, '$')
			b = append(b, []byte(fmt.Sprintf("%d", n))...)
			continue
		}
		b = append(b, query[i])
	}
	return string(b)
}

// forUpdate returns the dialect-appropriate row-locking clause.
func (s *Store) forUpdate() string {
	if s.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// isUniqueViolation reports whether err is a unique-constraint violation,
// which both processFill's dedup path and reconciliation's fill-import
// treat as a successful no-op rather than an error.
func (s *Store) isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	switch s.dialect {
	case DialectPostgres:
		// pgx surfaces SQLSTATE 23505 in the error string via its PgError;
		// matching on the code text keeps this driver-agnostic at the call
		// site without importing pgconn just for error inspection.
		return containsAny(msg, "SQLSTATE 23505", "duplicate key value")
	case DialectSQLite:
		return containsAny(msg, "UNIQUE constraint failed")
	default:
		return false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

var _ core.IStore = (*Store)(nil)
