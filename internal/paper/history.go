package paper

import "sync"

// history is the append-only trade log kept by a Ledger.
type history struct {
	mu     sync.Mutex
	trades []Trade
}

func newHistory(capacity int) *history {
	if capacity < 0 {
		capacity = 0
	}
	return &history{trades: make([]Trade, 0, capacity)}
}

func (h *history) record(trade Trade) {
	h.mu.Lock()
	h.trades = append(h.trades, trade)
	h.mu.Unlock()
}

func (h *history) snapshot() []Trade {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Trade, len(h.trades))
	copy(out, h.trades)
	return out
}
