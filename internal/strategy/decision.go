// Package strategy turns an indicator snapshot and the current position into a signal.
package strategy

import (
	"github.com/shopspring/decimal"

	"trendbot-go/internal/indicator"
	"trendbot-go/internal/paper"
	"trendbot-go/internal/signal"
)

var two = decimal.NewFromInt(2)

// Params expresses the tunable thresholds used by Decide.
type Params struct {
	Oversold    decimal.Decimal // RSI entry ceiling
	Overbought  decimal.Decimal // RSI exit floor
	StopLossATR decimal.Decimal // stop distance in ATRs
	TrailingATR decimal.Decimal // trail distance in ATRs
	FeeRate     decimal.Decimal
}

// DefaultParams returns the stock RSI 30/70, 2.0 ATR stop and 1.5 ATR trail.
func DefaultParams() Params {
	return Params{
		Oversold:    decimal.NewFromInt(30),
		Overbought:  decimal.NewFromInt(70),
		StopLossATR: decimal.RequireFromString("2.0"),
		TrailingATR: decimal.RequireFromString("1.5"),
		FeeRate:     decimal.RequireFromString("0.001"),
	}
}

// WithDefaults replaces zero thresholds with their defaults. A zero fee rate is kept.
func (p Params) WithDefaults() Params {
	def := DefaultParams()
	if p.Oversold.IsZero() {
		p.Oversold = def.Oversold
	}
	if p.Overbought.IsZero() {
		p.Overbought = def.Overbought
	}
	if p.StopLossATR.IsZero() {
		p.StopLossATR = def.StopLossATR
	}
	if p.TrailingATR.IsZero() {
		p.TrailingATR = def.TrailingATR
	}
	return p
}

// BreakEven is the entry price grossed up by a flat round-trip fee.
func (p Params) BreakEven(entry decimal.Decimal) decimal.Decimal {
	return entry.Mul(decimal.NewFromInt(1).Add(two.Mul(p.FeeRate)))
}

// StopLossPrice is entry - StopLossATR*ATR.
func (p Params) StopLossPrice(entry, atr decimal.Decimal) decimal.Decimal {
	return entry.Sub(p.StopLossATR.Mul(atr))
}

// TrailingStopPrice is highest - TrailingATR*ATR.
func (p Params) TrailingStopPrice(highest, atr decimal.Decimal) decimal.Decimal {
	return highest.Sub(p.TrailingATR.Mul(atr))
}

// Decide evaluates the exit rules when a position is open and the entry rules
// when flat. It has no side effects; the same inputs always give the same signal.
func (p Params) Decide(snap indicator.Snapshot, price decimal.Decimal, pos paper.Position) signal.Kind {
	if pos.Active {
		return p.exit(snap, price, pos)
	}
	return p.entry(snap, price)
}

func (p Params) exit(snap indicator.Snapshot, price decimal.Decimal, pos paper.Position) signal.Kind {
	breakEven := p.BreakEven(pos.EntryPrice)

	if snap.ATR.Valid {
		atr := snap.ATR.Decimal
		if price.LessThan(p.StopLossPrice(pos.EntryPrice, atr)) {
			return signal.SellStopLoss
		}
		// the trail only arms once the high-water mark has covered fees
		if pos.HighestPrice.GreaterThan(breakEven) && price.LessThan(p.TrailingStopPrice(pos.HighestPrice, atr)) {
			return signal.SellTrailingTP
		}
	}
	if snap.RSI.Valid && snap.RSI.Decimal.GreaterThan(p.Overbought) && price.GreaterThan(breakEven) {
		return signal.SellRSIExit
	}
	return signal.Hold
}

func (p Params) entry(snap indicator.Snapshot, price decimal.Decimal) signal.Kind {
	if !snap.EMA.Valid || !snap.RSI.Valid {
		return signal.Hold
	}
	if price.GreaterThan(snap.EMA.Decimal) && snap.RSI.Decimal.LessThan(p.Oversold) && snap.VolumeConfirmed {
		return signal.Buy
	}
	return signal.Hold
}
