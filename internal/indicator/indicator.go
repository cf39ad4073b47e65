// Package indicator computes the RSI, EMA trend filter, ATR and volume confirmation over a price series.
//
// Every function is stateless: it is recomputed from the series handed in, so a
// provisional (still forming) price can be evaluated without touching stored history.
// Fields that lack enough history come back invalid instead of failing.
package indicator

import "github.com/shopspring/decimal"

// precision bounds the scale of smoothed intermediate values.
const precision = 16

var (
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// RSI returns the Wilder-smoothed relative strength index of closes.
// Gains and losses are smoothed with alpha = 1/period, seeded with the first
// delta. At least period+1 observations are required.
func RSI(closes []decimal.Decimal, period int) decimal.NullDecimal {
	if period < 1 || len(closes) < period+1 {
		return decimal.NullDecimal{}
	}
	alpha := one.Div(decimal.NewFromInt(int64(period)))
	keep := one.Sub(alpha)

	var avgGain, avgLoss decimal.Decimal
	for i := 1; i < len(closes); i++ {
		gain, loss := split(closes[i].Sub(closes[i-1]))
		if i == 1 {
			avgGain, avgLoss = gain, loss
			continue
		}
		avgGain = avgGain.Mul(keep).Add(gain.Mul(alpha)).Round(precision)
		avgLoss = avgLoss.Mul(keep).Add(loss.Mul(alpha)).Round(precision)
	}

	if avgLoss.IsZero() {
		return decimal.NewNullDecimal(hundred)
	}
	rs := avgGain.Div(avgLoss)
	rsi := hundred.Sub(hundred.Div(one.Add(rs)))
	return decimal.NewNullDecimal(rsi.Round(precision))
}

// EMA returns the exponential moving average with alpha = 2/(span+1),
// seeded with the first observation. At least span observations are required.
func EMA(closes []decimal.Decimal, span int) decimal.NullDecimal {
	if span < 1 || len(closes) < span {
		return decimal.NullDecimal{}
	}
	alpha := two.Div(decimal.NewFromInt(int64(span + 1)))
	ema := closes[0]
	for _, px := range closes[1:] {
		ema = ema.Add(px.Sub(ema).Mul(alpha)).Round(precision)
	}
	return decimal.NewNullDecimal(ema)
}

// ATR returns the mean of the period-1 absolute close-to-close moves between
// the last period closes. Only closes are streamed, so this stands in for true
// range.
func ATR(closes []decimal.Decimal, period int) decimal.NullDecimal {
	if period < 2 || len(closes) < period {
		return decimal.NullDecimal{}
	}
	tail := closes[len(closes)-period:]
	sum := decimal.Zero
	for i := 1; i < len(tail); i++ {
		sum = sum.Add(tail[i].Sub(tail[i-1]).Abs())
	}
	return decimal.NewNullDecimal(sum.Div(decimal.NewFromInt(int64(period - 1))).Round(precision))
}

// VolumeConfirmed reports whether the latest volume exceeds the mean of the
// last window volumes. Missing or short volume history never vetoes.
func VolumeConfirmed(volumes []decimal.Decimal, window int) bool {
	if window < 1 || len(volumes) < window {
		return true
	}
	tail := volumes[len(volumes)-window:]
	sum := decimal.Zero
	for _, v := range tail {
		sum = sum.Add(v)
	}
	mean := sum.Div(decimal.NewFromInt(int64(window)))
	return tail[len(tail)-1].GreaterThan(mean)
}

func split(delta decimal.Decimal) (gain, loss decimal.Decimal) {
	if delta.IsPositive() {
		return delta, decimal.Zero
	}
	return decimal.Zero, delta.Neg()
}
