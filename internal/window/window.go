// Package window keeps the bounded history of closed bars the indicators are computed from.
package window

import (
	"github.com/shopspring/decimal"

	"trendbot-go/internal/signal"
)

// Window is a fixed-capacity FIFO of closed bars backed by a ring buffer.
// It is owned by a single session and is not safe for concurrent use.
type Window struct {
	buf  []signal.Bar
	head int // index of the oldest bar
	size int
}

// New creates an empty window. Capacity below 2 is raised to 2.
func New(capacity int) *Window {
	if capacity < 2 {
		capacity = 2
	}
	return &Window{buf: make([]signal.Bar, capacity)}
}

// Append stores a closed bar, evicting the oldest one when the window is full.
// Unclosed bars are rejected and leave the window untouched.
func (w *Window) Append(bar signal.Bar) bool {
	if !bar.Closed {
		return false
	}
	if w.size < len(w.buf) {
		w.buf[(w.head+w.size)%len(w.buf)] = bar
		w.size++
		return true
	}
	w.buf[w.head] = bar
	w.head = (w.head + 1) % len(w.buf)
	return true
}

// Len returns the number of stored bars.
func (w *Window) Len() int { return w.size }

// Cap returns the maximum number of stored bars.
func (w *Window) Cap() int { return len(w.buf) }

// Reset drops every stored bar.
func (w *Window) Reset() {
	for i := range w.buf {
		w.buf[i] = signal.Bar{}
	}
	w.head = 0
	w.size = 0
}

// Last returns the newest closed bar.
func (w *Window) Last() (signal.Bar, bool) {
	if w.size == 0 {
		return signal.Bar{}, false
	}
	return w.at(w.size - 1), true
}

// Bars returns a copy of the stored bars, oldest first.
func (w *Window) Bars() []signal.Bar {
	out := make([]signal.Bar, w.size)
	for i := range out {
		out[i] = w.at(i)
	}
	return out
}

// Closes returns the closing prices oldest first. A valid provisional price
// is appended as the last element without being stored.
func (w *Window) Closes(provisional decimal.NullDecimal) []decimal.Decimal {
	n := w.size
	if provisional.Valid {
		n++
	}
	out := make([]decimal.Decimal, 0, n)
	for i := 0; i < w.size; i++ {
		out = append(out, w.at(i).Close)
	}
	if provisional.Valid {
		out = append(out, provisional.Decimal)
	}
	return out
}

// Volumes returns the closed-bar volumes oldest first.
func (w *Window) Volumes() []decimal.Decimal {
	out := make([]decimal.Decimal, w.size)
	for i := range out {
		out[i] = w.at(i).Volume
	}
	return out
}

func (w *Window) at(i int) signal.Bar {
	return w.buf[(w.head+i)%len(w.buf)]
}
