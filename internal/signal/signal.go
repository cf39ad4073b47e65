// Package signal standardizes payloads shared between data ingestion, indicator and strategy layers.
package signal

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tick models one market data update for the traded instrument.
// BarClosed reports whether Price/Volume are the final values of the current bar.
type Tick struct {
	Symbol    string
	Price     decimal.Decimal
	Volume    decimal.Decimal
	BarClosed bool
	Ts        time.Time
}

// Bar is one aggregated observation over the stream interval.
type Bar struct {
	Ts     time.Time
	Close  decimal.Decimal
	Volume decimal.Decimal
	Closed bool
}

// BarFromTick converts a closing tick into the bar it finalizes.
func BarFromTick(t Tick) Bar {
	return Bar{Ts: t.Ts, Close: t.Price, Volume: t.Volume, Closed: t.BarClosed}
}

// Kind is the closed set of signals the decision logic can emit.
type Kind string

const (
	Hold           Kind = "HOLD"
	Buy            Kind = "BUY"
	SellStopLoss   Kind = "SELL_STOP_LOSS"
	SellTrailingTP Kind = "SELL_TRAILING_TP"
	SellRSIExit    Kind = "SELL_RSI_EXIT"
)

// Kinds lists every signal, in declaration order.
var Kinds = []Kind{Hold, Buy, SellStopLoss, SellTrailingTP, SellRSIExit}

func (k Kind) String() string { return string(k) }

// IsSell reports whether the signal closes a position.
func (k Kind) IsSell() bool { return strings.HasPrefix(string(k), "SELL_") }

// Label is the trade label recorded when the signal is acted upon.
func (k Kind) Label() string {
	switch {
	case k == Buy:
		return "ENTRY"
	case k.IsSell():
		return strings.TrimPrefix(string(k), "SELL_")
	default:
		return ""
	}
}
