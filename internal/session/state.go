package session

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trendbot-go/internal/indicator"
	"trendbot-go/internal/paper"
	"trendbot-go/internal/signal"
)

// State is the controller lifecycle position.
type State int

const (
	Connecting State = iota
	Streaming
	Reconnecting
	Shutdown
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Streaming:
		return "STREAMING"
	case Reconnecting:
		return "RECONNECTING"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{Connecting, Streaming, Reconnecting, Shutdown} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Status is a consistent read-only view for pollers such as the API and dashboard.
type Status struct {
	Symbol     string             `json:"symbol"`
	State      State              `json:"state"`
	Price      decimal.Decimal    `json:"price"`
	LastTick   time.Time          `json:"last_tick"`
	Signal     signal.Kind        `json:"signal"`
	Indicators indicator.Snapshot `json:"indicators"`
	NetWorth   decimal.Decimal    `json:"net_worth"`
	Cash       decimal.Decimal    `json:"cash"`
	Position   paper.Position     `json:"position"`
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// CurrentSignal returns the signal computed on the latest tick.
func (c *Controller) CurrentSignal() signal.Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// CurrentIndicators returns the latest indicator snapshot.
func (c *Controller) CurrentIndicators() indicator.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// LastPrice returns the latest observed price, zero before the first bar.
func (c *Controller) LastPrice() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPrice
}

// LedgerSnapshot marks the ledger at the latest price.
func (c *Controller) LedgerSnapshot() paper.Snapshot {
	return c.ledger.Snapshot(c.now(), c.LastPrice())
}

// Trades returns the ledger history, oldest first.
func (c *Controller) Trades() []paper.Trade {
	return c.ledger.Trades()
}

// Status bundles the views above.
func (c *Controller) Status() Status {
	c.mu.RLock()
	st := Status{
		Symbol:     c.cfg.Symbol,
		State:      c.state,
		Price:      c.lastPrice,
		LastTick:   c.lastTick,
		Signal:     c.current,
		Indicators: c.snap,
	}
	c.mu.RUnlock()
	st.NetWorth = c.ledger.NetWorth(st.Price)
	st.Cash = c.ledger.Cash()
	st.Position = c.ledger.Position()
	return st
}
