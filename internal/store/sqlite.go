package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"tradeflow/internal/domain"
)

// Compile-time interface checks.
var _ SignalStore = (*SQLiteStore)(nil)
var _ TradeLogStore = (*SQLiteStore)(nil)

// SQLiteStore implements SignalStore and TradeLogStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS signals (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol      TEXT NOT NULL,
	type        TEXT NOT NULL,
	probability REAL NOT NULL,
	price       REAL NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_symbol_created
	ON signals (symbol, created_at DESC);

CREATE TABLE IF NOT EXISTS trade_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	qty         INTEGER NOT NULL,
	fill_price  REAL NOT NULL,
	executed_at INTEGER NOT NULL,
	paper       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_log_symbol_executed
	ON trade_log (symbol, executed_at DESC);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignal inserts a new signal into the database.
func (s *SQLiteStore) SaveSignal(ctx context.Context, sig *domain.Signal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signals (symbol, type, probability, price, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sig.Symbol, string(sig.Type), sig.Probability, sig.Price, sig.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting signal for %s: %w", sig.Symbol, err)
	}
	return nil
}

// ListSignals returns the most recent signals for a symbol, newest first. An
// empty symbol matches all symbols.
func (s *SQLiteStore) ListSignals(ctx context.Context, symbol string, limit int) ([]domain.Signal, error) {
	query := `SELECT symbol, type, probability, price, created_at FROM signals`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying signals: %w", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var typ string
		var createdMs int64
		if err := rows.Scan(&sig.Symbol, &typ, &sig.Probability, &sig.Price, &createdMs); err != nil {
			return nil, fmt.Errorf("scanning signal: %w", err)
		}
		sig.Type = domain.SignalType(typ)
		sig.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, sig)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// TradeLogStore implementation
// ---------------------------------------------------------------------------

// SaveTrades inserts a batch of executed trade records in one transaction.
func (s *SQLiteStore) SaveTrades(ctx context.Context, trades []domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trade_log (symbol, side, qty, fill_price, executed_at, paper)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		paper := 0
		if t.Paper {
			paper = 1
		}
		if _, err := stmt.ExecContext(ctx,
			t.Symbol, string(t.Side), t.Qty, t.FillPrice, t.ExecutedAt.UnixMilli(), paper); err != nil {
			return fmt.Errorf("inserting trade for %s: %w", t.Symbol, err)
		}
	}
	return tx.Commit()
}

// ListTrades returns the most recent trade records for a symbol, newest first.
// An empty symbol matches all symbols.
func (s *SQLiteStore) ListTrades(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT symbol, side, qty, fill_price, executed_at, paper FROM trade_log`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY executed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trade log: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var side string
		var executedMs int64
		var paper int
		if err := rows.Scan(&t.Symbol, &side, &t.Qty, &t.FillPrice, &executedMs, &paper); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		t.Side = domain.SignalType(side)
		t.ExecutedAt = time.UnixMilli(executedMs).UTC()
		t.Paper = paper == 1
		out = append(out, t)
	}
	return out, rows.Err()
}
