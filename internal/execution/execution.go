// Package execution handles order lifecycle and interaction with venues.
package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trendbot-go/internal/metrics"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy opens the long position.
	Buy Side = "BUY"
	// Sell closes it.
	Sell Side = "SELL"
)

// ErrInvalidQuantity is returned for non-positive order sizes.
var ErrInvalidQuantity = errors.New("order quantity must be positive")

// Order represents a market order placement request.
type Order struct {
	ClientID string
	Symbol   string
	Side     Side
	Qty      decimal.Decimal
}

// Fill is the venue acknowledgement of an order.
type Fill struct {
	OrderID  string
	ClientID string
	Status   string
	Qty      decimal.Decimal
	Quote    decimal.Decimal
}

// Venue places market orders on a real exchange.
type Venue interface {
	PlaceMarketOrder(ctx context.Context, order Order) (Fill, error)
}

// Executor submits orders for a single symbol. Without a venue it runs in
// paper mode and every order fills immediately.
type Executor struct {
	symbol string
	venue  Venue
	log    zerolog.Logger
}

// NewExecutor wires an executor. Pass a nil venue for paper trading.
func NewExecutor(symbol string, venue Venue, log zerolog.Logger) *Executor {
	return &Executor{symbol: symbol, venue: venue, log: log}
}

// Paper reports whether orders are simulated.
func (executor *Executor) Paper() bool { return executor.venue == nil }

// Buy submits a market buy for qty.
func (executor *Executor) Buy(ctx context.Context, qty decimal.Decimal) error {
	return executor.Submit(ctx, Order{Symbol: executor.symbol, Side: Buy, Qty: qty})
}

// Sell submits a market sell for qty.
func (executor *Executor) Sell(ctx context.Context, qty decimal.Decimal) error {
	return executor.Submit(ctx, Order{Symbol: executor.symbol, Side: Sell, Qty: qty})
}

// Submit places the order and blocks until the venue answers or ctx expires.
func (executor *Executor) Submit(ctx context.Context, order Order) error {
	if !order.Qty.IsPositive() {
		return ErrInvalidQuantity
	}
	if order.ClientID == "" {
		order.ClientID = uuid.NewString()
	}
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()

	if executor.venue == nil {
		executor.log.Info().Str("sym", order.Symbol).Str("side", string(order.Side)).Stringer("qty", order.Qty).Str("client_id", order.ClientID).Msg("submit order (paper)")
		return nil
	}

	fill, err := executor.venue.PlaceMarketOrder(ctx, order)
	if err != nil {
		metrics.OrderFailuresTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()
		return fmt.Errorf("place %s %s: %w", order.Side, order.Symbol, err)
	}
	executor.log.Info().
		Str("sym", order.Symbol).
		Str("side", string(order.Side)).
		Stringer("qty", order.Qty).
		Str("client_id", order.ClientID).
		Str("order_id", fill.OrderID).
		Str("status", fill.Status).
		Msg("order filled")
	return nil
}
