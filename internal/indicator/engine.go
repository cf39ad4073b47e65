package indicator

import "github.com/shopspring/decimal"

// Params groups indicator periods.
type Params struct {
	RSIPeriod    int
	EMAPeriod    int
	ATRPeriod    int
	VolumeWindow int
}

// DefaultParams returns the periods the strategy was tuned with.
func DefaultParams() Params {
	return Params{RSIPeriod: 14, EMAPeriod: 200, ATRPeriod: 14, VolumeWindow: 10}
}

// Warmup is the number of observations needed before every indicator is defined.
func (p Params) Warmup() int {
	n := p.EMAPeriod
	if p.RSIPeriod+1 > n {
		n = p.RSIPeriod + 1
	}
	if p.ATRPeriod > n {
		n = p.ATRPeriod
	}
	return n
}

// Snapshot holds one evaluation of every indicator. Invalid fields mean
// there was not enough history yet.
type Snapshot struct {
	RSI             decimal.NullDecimal `json:"rsi"`
	EMA             decimal.NullDecimal `json:"ema_trend"`
	ATR             decimal.NullDecimal `json:"atr"`
	VolumeConfirmed bool                `json:"volume_confirmed"`
}

// Ready reports whether every price indicator is defined.
func (s Snapshot) Ready() bool {
	return s.RSI.Valid && s.EMA.Valid && s.ATR.Valid
}

// Engine evaluates the configured indicators over a series.
type Engine struct {
	params Params
}

// NewEngine builds an engine, replacing non-positive periods with defaults.
func NewEngine(p Params) *Engine {
	def := DefaultParams()
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = def.RSIPeriod
	}
	if p.EMAPeriod <= 0 {
		p.EMAPeriod = def.EMAPeriod
	}
	if p.ATRPeriod < 2 {
		p.ATRPeriod = def.ATRPeriod
	}
	if p.VolumeWindow <= 0 {
		p.VolumeWindow = def.VolumeWindow
	}
	return &Engine{params: p}
}

// Params returns the effective periods.
func (e *Engine) Params() Params { return e.params }

// Compute evaluates every indicator independently over closes and volumes.
// volumes may be nil when the source carries no volume.
func (e *Engine) Compute(closes, volumes []decimal.Decimal) Snapshot {
	return Snapshot{
		RSI:             RSI(closes, e.params.RSIPeriod),
		EMA:             EMA(closes, e.params.EMAPeriod),
		ATR:             ATR(closes, e.params.ATRPeriod),
		VolumeConfirmed: VolumeConfirmed(volumes, e.params.VolumeWindow),
	}
}
