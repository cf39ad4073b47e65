package paper

import (
	"time"

	"github.com/shopspring/decimal"

	"trendbot-go/internal/execution"
)

// Position is the single open position a ledger can hold.
type Position struct {
	Active       bool            `json:"active"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	EntryTime    time.Time       `json:"entry_time"`
	Quantity     decimal.Decimal `json:"quantity"`
	HighestPrice decimal.Decimal `json:"highest_price_since_entry"`
}

// Trade is an immutable record of an accepted fill.
type Trade struct {
	ID             string          `json:"id"`
	Ts             time.Time       `json:"ts"`
	Symbol         string          `json:"symbol"`
	Side           execution.Side  `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	Fee            decimal.Decimal `json:"fee"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	RealizedPnLPct decimal.Decimal `json:"realized_pnl_pct"`
	ResultingCash  decimal.Decimal `json:"resulting_cash"`
	Label          string          `json:"label"`
}

// Snapshot is a point-in-time copy of the ledger, marked at Price.
type Snapshot struct {
	Ts           time.Time       `json:"ts"`
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	StartingCash decimal.Decimal `json:"starting_cash"`
	Cash         decimal.Decimal `json:"cash"`
	CryptoHeld   decimal.Decimal `json:"crypto_held"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	NetWorth     decimal.Decimal `json:"net_worth"`
	Position     Position        `json:"position"`
	Trades       []Trade         `json:"trades"`
}
