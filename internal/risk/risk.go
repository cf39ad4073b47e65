package risk

import "github.com/shopspring/decimal"

// Limits caps the exposure of a single entry.
type Limits struct {
	MaxNotionalPerTrade decimal.Decimal
}

// Allow reports whether notional fits under the per-trade cap. A zero cap means unlimited.
func (l Limits) Allow(notional decimal.Decimal) bool {
	if !l.MaxNotionalPerTrade.IsPositive() {
		return true
	}
	return notional.LessThanOrEqual(l.MaxNotionalPerTrade)
}

// Affordable reports whether cash covers notional plus fee.
func Affordable(cash, notional, fee decimal.Decimal) bool {
	return notional.Add(fee).LessThanOrEqual(cash)
}
