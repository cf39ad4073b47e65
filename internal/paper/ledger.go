// Package paper owns the position ledger: cash, the single open position and the trade history.
package paper

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trendbot-go/internal/execution"
)

var (
	ErrPositionOpen     = errors.New("position already open")
	ErrNoPosition       = errors.New("no open position")
	ErrInsufficientCash = errors.New("insufficient cash for buy")
	ErrQuantityMismatch = errors.New("sell quantity does not match open position")
	ErrInvalidOrder     = errors.New("price and quantity must be positive")
)

var hundred = decimal.NewFromInt(100)

// DefaultFeePlaces rounds fees to cents of the quote currency.
const DefaultFeePlaces int32 = 2

// Ledger tracks cash, the held quantity and at most one open position.
// Mutations happen on the session goroutine; the mutex keeps read-only views
// consistent for pollers on other goroutines.
type Ledger struct {
	mu           sync.Mutex
	symbol       string
	startingCash decimal.Decimal
	cash         decimal.Decimal
	held         decimal.Decimal
	realizedPnL  decimal.Decimal
	feeRate      decimal.Decimal
	feePlaces    int32
	position     Position
	history      *history
}

// NewLedger creates a flat ledger funded with startingCash.
func NewLedger(symbol string, startingCash, feeRate decimal.Decimal, feePlaces int32) *Ledger {
	if feePlaces < 0 {
		feePlaces = DefaultFeePlaces
	}
	return &Ledger{
		symbol:       symbol,
		startingCash: startingCash,
		cash:         startingCash,
		feeRate:      feeRate,
		feePlaces:    feePlaces,
		history:      newHistory(64),
	}
}

// Fee returns the fee charged on a fill, rounded half-up to the currency precision.
func (l *Ledger) Fee(price, qty decimal.Decimal) decimal.Decimal {
	return price.Mul(qty).Mul(l.feeRate).Round(l.feePlaces)
}

// ApplyBuy opens the position after a confirmed buy fill.
func (l *Ledger) ApplyBuy(ts time.Time, price, qty decimal.Decimal) (Trade, error) {
	if !price.IsPositive() || !qty.IsPositive() {
		return Trade{}, ErrInvalidOrder
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position.Active {
		return Trade{}, ErrPositionOpen
	}
	notional := price.Mul(qty)
	fee := l.Fee(price, qty)
	cost := notional.Add(fee)
	if cost.GreaterThan(l.cash) {
		return Trade{}, fmt.Errorf("%w: need %s have %s", ErrInsufficientCash, cost, l.cash)
	}

	l.cash = l.cash.Sub(cost)
	l.held = qty
	l.position = Position{
		Active:       true,
		EntryPrice:   price,
		EntryTime:    ts,
		Quantity:     qty,
		HighestPrice: price,
	}

	trade := Trade{
		ID:             uuid.NewString(),
		Ts:             ts,
		Symbol:         l.symbol,
		Side:           execution.Buy,
		Price:          price,
		Quantity:       qty,
		Fee:            fee,
		RealizedPnL:    decimal.Zero,
		RealizedPnLPct: decimal.Zero,
		ResultingCash:  l.cash,
		Label:          "ENTRY",
	}
	l.history.record(trade)
	return trade, nil
}

// ApplySell closes the position after a confirmed sell fill.
// The buy-side fee is recomputed from the recorded entry price.
func (l *Ledger) ApplySell(ts time.Time, price, qty decimal.Decimal, label string) (Trade, error) {
	if !price.IsPositive() || !qty.IsPositive() {
		return Trade{}, ErrInvalidOrder
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.position.Active {
		return Trade{}, ErrNoPosition
	}
	if !qty.Equal(l.position.Quantity) {
		return Trade{}, fmt.Errorf("%w: open %s, sell %s", ErrQuantityMismatch, l.position.Quantity, qty)
	}

	buyValue := l.position.EntryPrice.Mul(qty)
	buyFee := l.Fee(l.position.EntryPrice, qty)
	sellValue := price.Mul(qty)
	sellFee := l.Fee(price, qty)

	pnl := sellValue.Sub(buyValue).Sub(buyFee.Add(sellFee))
	pnlPct := decimal.Zero
	if basis := buyValue.Add(buyFee); basis.IsPositive() {
		pnlPct = pnl.Div(basis).Mul(hundred).Round(4)
	}

	l.cash = l.cash.Add(sellValue.Sub(sellFee))
	l.held = decimal.Zero
	l.realizedPnL = l.realizedPnL.Add(pnl)
	l.position = Position{}

	if label == "" {
		label = "STRATEGY"
	}
	trade := Trade{
		ID:             uuid.NewString(),
		Ts:             ts,
		Symbol:         l.symbol,
		Side:           execution.Sell,
		Price:          price,
		Quantity:       qty,
		Fee:            sellFee,
		RealizedPnL:    pnl,
		RealizedPnLPct: pnlPct,
		ResultingCash:  l.cash,
		Label:          label,
	}
	l.history.record(trade)
	return trade, nil
}

// UpdateMark raises the high-water mark of an open position. It never lowers it.
func (l *Ledger) UpdateMark(price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.position.Active && price.GreaterThan(l.position.HighestPrice) {
		l.position.HighestPrice = price
	}
}

// NetWorth marks the ledger at price.
func (l *Ledger) NetWorth(price decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash.Add(l.held.Mul(price))
}

// Position returns a copy of the current position.
func (l *Ledger) Position() Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.position
}

// Cash returns the free quote balance.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Held returns the base quantity held.
func (l *Ledger) Held() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Trades returns a copy of the trade history, oldest first.
func (l *Ledger) Trades() []Trade {
	return l.history.snapshot()
}

// Snapshot returns a consistent read-only copy of the ledger marked at price.
func (l *Ledger) Snapshot(ts time.Time, price decimal.Decimal) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Ts:           ts,
		Symbol:       l.symbol,
		Price:        price,
		StartingCash: l.startingCash,
		Cash:         l.cash,
		CryptoHeld:   l.held,
		RealizedPnL:  l.realizedPnL,
		NetWorth:     l.cash.Add(l.held.Mul(price)),
		Position:     l.position,
		Trades:       l.history.snapshot(),
	}
}
