// Package sqlite keeps an append-only journal of trades and net-worth marks.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // driver "sqlite"

	"trendbot-go/internal/execution"
	"trendbot-go/internal/paper"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	ts               TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	price            TEXT NOT NULL,
	quantity         TEXT NOT NULL,
	fee              TEXT NOT NULL,
	realized_pnl     TEXT NOT NULL,
	realized_pnl_pct TEXT NOT NULL,
	resulting_cash   TEXT NOT NULL,
	label            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, ts);

CREATE TABLE IF NOT EXISTS net_worth (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts           TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	price        TEXT NOT NULL,
	cash         TEXT NOT NULL,
	crypto_held  TEXT NOT NULL,
	realized_pnl TEXT NOT NULL,
	net_worth    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_net_worth_symbol ON net_worth(symbol, ts);
`

// Journal persists ledger events. Decimals are stored as TEXT so no
// precision is lost on the way through SQLite.
type Journal struct {
	db *sql.DB
}

// Open creates the database file and schema if needed. ":memory:" works for tests.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("sqlite journal: path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// RecordTrade inserts a trade. Replaying the same trade id is a no-op.
func (j *Journal) RecordTrade(ctx context.Context, t paper.Trade) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO trades (id, ts, symbol, side, price, quantity, fee, realized_pnl, realized_pnl_pct, resulting_cash, label)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Ts.UTC().Format(time.RFC3339Nano), t.Symbol, string(t.Side),
		t.Price.String(), t.Quantity.String(), t.Fee.String(),
		t.RealizedPnL.String(), t.RealizedPnLPct.String(), t.ResultingCash.String(), t.Label,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

// RecordSnapshot appends one net-worth mark.
func (j *Journal) RecordSnapshot(ctx context.Context, s paper.Snapshot) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO net_worth (ts, symbol, price, cash, crypto_held, realized_pnl, net_worth)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Ts.UTC().Format(time.RFC3339Nano), s.Symbol, s.Price.String(), s.Cash.String(),
		s.CryptoHeld.String(), s.RealizedPnL.String(), s.NetWorth.String(),
	)
	if err != nil {
		return fmt.Errorf("insert net worth: %w", err)
	}
	return nil
}

// Trades returns up to limit trades, oldest first. limit <= 0 returns all.
func (j *Journal) Trades(ctx context.Context, limit int) ([]paper.Trade, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, ts, symbol, side, price, quantity, fee, realized_pnl, realized_pnl_pct, resulting_cash, label
		 FROM (SELECT * FROM trades ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []paper.Trade
	for rows.Next() {
		var t paper.Trade
		var ts, side, price, qty, fee, pnl, pnlPct, cash string
		if err := rows.Scan(&t.ID, &ts, &t.Symbol, &side, &price, &qty, &fee, &pnl, &pnlPct, &cash, &t.Label); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if t.Ts, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("trade %s: parse ts: %w", t.ID, err)
		}
		t.Side = execution.Side(side)
		for _, f := range []struct {
			dst *decimal.Decimal
			raw string
		}{
			{&t.Price, price}, {&t.Quantity, qty}, {&t.Fee, fee},
			{&t.RealizedPnL, pnl}, {&t.RealizedPnLPct, pnlPct}, {&t.ResultingCash, cash},
		} {
			if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
				return nil, fmt.Errorf("trade %s: parse decimal %q: %w", t.ID, f.raw, err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LatestNetWorth returns the most recent mark, or false when none exist.
func (j *Journal) LatestNetWorth(ctx context.Context) (decimal.Decimal, bool, error) {
	var raw string
	err := j.db.QueryRowContext(ctx, `SELECT net_worth FROM net_worth ORDER BY seq DESC LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("query net worth: %w", err)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse net worth %q: %w", raw, err)
	}
	return v, true, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
