package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradegovernor/internal/domain"
	"tradegovernor/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Ledger implements the ports.TradeLedger interface using SQLite.
type Ledger struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite ledger.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewLedger creates a new SQLite trade ledger instance.
func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite ledger")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/governor.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from
	// limiting connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ledger := &Ledger{db: db, logger: cfg.Logger}

	if err := ledger.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite ledger initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Trade ledger initialized", map[string]interface{}{"path": dbPath})

	return ledger, nil
}

// initializeSchema creates tables if they don't exist.
func (l *Ledger) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		size REAL NOT NULL,
		pnl REAL NOT NULL,
		return_pct REAL NOT NULL,
		confidence INTEGER NOT NULL DEFAULT 3,
		exit_type TEXT NULL,
		provisional INTEGER NOT NULL DEFAULT 0,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol_exit_time ON trade_history (symbol, exit_time);
	`
	_, err := l.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db != nil {
		l.logger.Info(context.Background(), "Closing trade ledger database connection")
		return l.db.Close()
	}
	return nil
}

// AddTrade saves a new closed-trade record and returns its assigned ID.
func (l *Ledger) AddTrade(ctx context.Context, trade *domain.ClosedTrade) (int64, error) {
	const query = `
	INSERT INTO trade_history (symbol, entry_price, exit_price, size, pnl, return_pct,
	                           confidence, exit_type, provisional, entry_time, exit_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var exitType sql.NullString
	if trade.ExitType != "" {
		exitType = sql.NullString{String: string(trade.ExitType), Valid: true}
	}

	result, err := l.db.ExecContext(ctx, query,
		trade.Symbol, trade.EntryPrice, trade.ExitPrice, trade.Size, trade.PNL, trade.ReturnPct,
		trade.Confidence, exitType, trade.Provisional, trade.EntryTime, trade.ExitTime)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for symbol %s: %w", trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	l.logger.Debug(ctx, "Trade recorded", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": trade.PNL, "exitType": trade.ExitType})
	return id, nil
}

// GetTradesForSymbol retrieves all recorded trades for a symbol, most recent first.
func (l *Ledger) GetTradesForSymbol(ctx context.Context, symbol string) ([]*domain.ClosedTrade, error) {
	const query = `
	SELECT id, symbol, entry_price, exit_price, size, pnl, return_pct,
	       confidence, exit_type, provisional, entry_time, exit_time
	FROM trade_history
	WHERE symbol = ? ORDER BY exit_time DESC`

	rows, err := l.db.QueryContext(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for symbol %s: %w", symbol, err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// GetAllTrades retrieves every recorded trade, most recent first.
func (l *Ledger) GetAllTrades(ctx context.Context) ([]*domain.ClosedTrade, error) {
	const query = `
	SELECT id, symbol, entry_price, exit_price, size, pnl, return_pct,
	       confidence, exit_type, provisional, entry_time, exit_time
	FROM trade_history
	ORDER BY exit_time DESC`

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query all trades: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// CountToday counts trades whose exit falls on the current day.
func (l *Ledger) CountToday(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM trade_history WHERE date(exit_time) = date('now')`
	var count int
	err := l.db.QueryRowContext(ctx, query).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count today's trades: %w", err)
	}
	return count, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func collectTrades(rows *sql.Rows) ([]*domain.ClosedTrade, error) {
	trades := make([]*domain.ClosedTrade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// scanTrade scans a row into a domain.ClosedTrade struct.
func scanTrade(s scanner) (*domain.ClosedTrade, error) {
	t := &domain.ClosedTrade{}
	var exitType sql.NullString
	var provisional int
	err := s.Scan(
		&t.ID, &t.Symbol, &t.EntryPrice, &t.ExitPrice, &t.Size, &t.PNL, &t.ReturnPct,
		&t.Confidence, &exitType, &provisional, &t.EntryTime, &t.ExitTime)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	if exitType.Valid {
		t.ExitType = domain.ExitType(exitType.String)
	}
	t.Provisional = provisional != 0
	return t, nil
}
