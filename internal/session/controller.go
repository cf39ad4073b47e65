// Package session runs the streaming loop: bootstrap, tick processing,
// heartbeat supervision and reconnects for a single instrument.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trendbot-go/internal/indicator"
	"trendbot-go/internal/metrics"
	"trendbot-go/internal/paper"
	"trendbot-go/internal/risk"
	"trendbot-go/internal/signal"
	"trendbot-go/internal/strategy"
	"trendbot-go/internal/window"
)

var (
	// ErrStreamTimeout means no tick arrived within the heartbeat timeout.
	ErrStreamTimeout = errors.New("stream heartbeat timeout")
	// ErrStreamClosed means the stream ended without an error.
	ErrStreamClosed = errors.New("stream closed")
	// ErrInvariant flags a signal that contradicts the ledger state.
	ErrInvariant = errors.New("ledger invariant violation")
)

// MarketData is the tick source. Stream must return once ctx is canceled.
type MarketData interface {
	Bootstrap(ctx context.Context, n int) ([]signal.Bar, error)
	Stream(ctx context.Context, out chan<- signal.Tick) error
}

// OrderExecutor places orders. A nil error means the fill is confirmed.
type OrderExecutor interface {
	Buy(ctx context.Context, qty decimal.Decimal) error
	Sell(ctx context.Context, qty decimal.Decimal) error
}

// Sink receives trades and ledger snapshots. Failures are logged, never fatal.
type Sink interface {
	RecordTrade(ctx context.Context, trade paper.Trade) error
	RecordSnapshot(ctx context.Context, snap paper.Snapshot) error
}

// Config tunes a Controller. Zero values take the defaults documented per field.
type Config struct {
	Symbol           string
	Quantity         decimal.Decimal
	WindowCapacity   int           // 300
	Interval         time.Duration // 1m
	HeartbeatTimeout time.Duration // Interval + 15s
	OrderTimeout     time.Duration // 10s
	SinkTimeout      time.Duration // 5s
	BackoffInitial   time.Duration // 1s
	BackoffMax       time.Duration // 30s
	BackoffFactor    float64       // 1.8
	Indicators       indicator.Params
	Decision         strategy.Params
	Risk             risk.Limits
}

func (c Config) withDefaults() Config {
	if c.WindowCapacity <= 0 {
		c.WindowCapacity = 300
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = c.Interval + 15*time.Second
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 10 * time.Second
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 5 * time.Second
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1.8
	}
	c.Decision = c.Decision.WithDefaults()
	return c
}

type namedSink struct {
	name string
	sink Sink
}

// Option configures optional Controller collaborators.
type Option func(*Controller)

// WithSink registers a side-effect sink under name (used in logs and metrics).
func WithSink(name string, sink Sink) Option {
	return func(c *Controller) {
		if sink != nil {
			c.sinks = append(c.sinks, namedSink{name: name, sink: sink})
		}
	}
}

// WithClock overrides the trade timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller owns the window, the indicator engine and the ledger for one
// symbol. Run drives it; the view methods are safe from any goroutine.
type Controller struct {
	cfg    Config
	feed   MarketData
	exec   OrderExecutor
	ledger *paper.Ledger
	engine *indicator.Engine
	window *window.Window
	sinks  []namedSink
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	state     State
	current   signal.Kind
	snap      indicator.Snapshot
	lastPrice decimal.Decimal
	lastTick  time.Time

	wg sync.WaitGroup
}

// NewController wires a controller. The ledger is shared by reference and
// survives reconnects.
func NewController(cfg Config, feed MarketData, exec OrderExecutor, ledger *paper.Ledger, log zerolog.Logger, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:     cfg,
		feed:    feed,
		exec:    exec,
		ledger:  ledger,
		engine:  indicator.NewEngine(cfg.Indicators),
		window:  window.New(cfg.WindowCapacity),
		log:     log.With().Str("symbol", cfg.Symbol).Logger(),
		now:     time.Now,
		state:   Connecting,
		current: signal.Hold,
	}
	for _, opt := range opts {
		opt(c)
	}
	if need := c.engine.Params().Warmup(); need > c.window.Cap() {
		c.log.Warn().Int("capacity", c.window.Cap()).Int("warmup", need).Msg("window smaller than indicator warmup; signals will stay HOLD")
	}
	return c
}

// Run drives the state machine until ctx is canceled. It waits for in-flight
// sink writes before returning ctx.Err().
func (c *Controller) Run(ctx context.Context) error {
	defer c.wg.Wait()
	defer c.setState(Shutdown)

	backoff := c.cfg.BackoffInitial
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.setState(Connecting)
		reason := "bootstrap"
		if err := c.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn().Err(err).Msg("bootstrap failed")
		} else {
			c.setState(Streaming)
			healthy, err := c.stream(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if healthy {
				backoff = c.cfg.BackoffInitial
			}
			reason = "stream_error"
			if errors.Is(err, ErrStreamTimeout) {
				reason = "heartbeat"
			}
			c.log.Warn().Err(err).Str("reason", reason).Msg("market data stream lost")
		}

		c.setState(Reconnecting)
		metrics.ReconnectsTotal.WithLabelValues(c.cfg.Symbol, reason).Inc()
		c.log.Info().Dur("backoff", backoff).Msg("reconnecting")
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = time.Duration(math.Min(float64(c.cfg.BackoffMax), float64(backoff)*c.cfg.BackoffFactor))
	}
}

// connect rebuilds the window from history. The ledger is left alone.
func (c *Controller) connect(ctx context.Context) error {
	c.window.Reset()
	bars, err := c.feed.Bootstrap(ctx, c.window.Cap())
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	for _, bar := range bars {
		c.window.Append(bar)
	}
	if last, ok := c.window.Last(); ok {
		snap := c.engine.Compute(c.window.Closes(decimal.NullDecimal{}), c.window.Volumes())
		c.publish(last.Close, last.Ts, snap, signal.Hold)
	}
	c.log.Info().Int("bars", c.window.Len()).Int("capacity", c.window.Cap()).Msg("bootstrap complete")
	return nil
}

// stream consumes ticks until the stream fails, the heartbeat lapses or ctx
// ends. Only the child stream context is canceled on failure; order calls
// run on ctx. healthy reports whether at least one tick arrived.
func (c *Controller) stream(ctx context.Context) (healthy bool, err error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticks := make(chan signal.Tick, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- c.feed.Stream(streamCtx, ticks) }()

	// the reader goroutine must be gone before a new stream starts
	stop := func() error {
		cancel()
		return <-errCh
	}

	heartbeat := time.NewTimer(c.cfg.HeartbeatTimeout)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			stop()
			return healthy, ctx.Err()
		case err := <-errCh:
			// ticks delivered before the failure are still processed
			for drained := false; !drained; {
				select {
				case tk := <-ticks:
					healthy = true
					c.handleTick(ctx, tk)
				default:
					drained = true
				}
			}
			if err == nil {
				err = ErrStreamClosed
			}
			return healthy, err
		case <-heartbeat.C:
			stop()
			return healthy, fmt.Errorf("%w after %s", ErrStreamTimeout, c.cfg.HeartbeatTimeout)
		case tk := <-ticks:
			if !heartbeat.Stop() {
				select {
				case <-heartbeat.C:
				default:
				}
			}
			heartbeat.Reset(c.cfg.HeartbeatTimeout)
			healthy = true
			c.handleTick(ctx, tk)
		}
	}
}

// handleTick runs one evaluation: window, mark, indicators, decision, action.
func (c *Controller) handleTick(ctx context.Context, tk signal.Tick) {
	if !tk.Price.IsPositive() {
		c.log.Warn().Stringer("price", tk.Price).Msg("dropping tick with non-positive price")
		return
	}
	if tk.BarClosed {
		c.window.Append(signal.BarFromTick(tk))
	}
	c.ledger.UpdateMark(tk.Price)

	provisional := decimal.NullDecimal{}
	if !tk.BarClosed {
		provisional = decimal.NewNullDecimal(tk.Price)
	}
	snap := c.engine.Compute(c.window.Closes(provisional), c.window.Volumes())
	kind := c.cfg.Decision.Decide(snap, tk.Price, c.ledger.Position())
	c.publish(tk.Price, tk.Ts, snap, kind)

	traded := false
	switch {
	case kind == signal.Buy:
		metrics.SignalsTotal.WithLabelValues(c.cfg.Symbol, kind.String()).Inc()
		traded = c.enter(ctx, tk.Price)
	case kind.IsSell():
		metrics.SignalsTotal.WithLabelValues(c.cfg.Symbol, kind.String()).Inc()
		traded = c.exit(ctx, tk.Price, kind)
	}

	metrics.NetWorth.WithLabelValues(c.cfg.Symbol).Set(c.ledger.NetWorth(tk.Price).InexactFloat64())
	if tk.BarClosed || traded {
		snapshot := c.ledger.Snapshot(c.now(), tk.Price)
		c.dispatchSnapshot(snapshot)
	}
}

func (c *Controller) enter(ctx context.Context, price decimal.Decimal) bool {
	if c.ledger.Position().Active {
		c.log.Error().Err(ErrInvariant).Str("signal", signal.Buy.String()).Msg("buy signal while position is open; dropped")
		return false
	}
	qty := c.cfg.Quantity
	notional := price.Mul(qty)
	fee := c.ledger.Fee(price, qty)
	if !c.cfg.Risk.Allow(notional) {
		c.log.Warn().Stringer("notional", notional).Stringer("limit", c.cfg.Risk.MaxNotionalPerTrade).Msg("buy blocked by risk limit")
		return false
	}
	if !risk.Affordable(c.ledger.Cash(), notional, fee) {
		c.log.Warn().Stringer("notional", notional).Stringer("cash", c.ledger.Cash()).Msg("buy blocked: insufficient cash")
		return false
	}

	c.log.Info().Stringer("price", price).Stringer("qty", qty).Msg("executing buy")
	orderCtx, cancel := context.WithTimeout(ctx, c.cfg.OrderTimeout)
	defer cancel()
	if err := c.exec.Buy(orderCtx, qty); err != nil {
		c.log.Error().Err(err).Msg("buy failed; ledger unchanged")
		return false
	}

	trade, err := c.ledger.ApplyBuy(c.now(), price, qty)
	if err != nil {
		c.log.Error().Err(err).Msg("ledger rejected confirmed buy")
		return false
	}
	c.log.Info().Str("trade_id", trade.ID).Stringer("price", trade.Price).Stringer("fee", trade.Fee).Stringer("cash", trade.ResultingCash).Msg("position opened")
	c.dispatchTrade(trade)
	return true
}

func (c *Controller) exit(ctx context.Context, price decimal.Decimal, kind signal.Kind) bool {
	pos := c.ledger.Position()
	if !pos.Active {
		c.log.Error().Err(ErrInvariant).Str("signal", kind.String()).Msg("sell signal while flat; dropped")
		return false
	}

	c.log.Info().Str("signal", kind.String()).Stringer("price", price).Stringer("qty", pos.Quantity).Msg("executing sell")
	orderCtx, cancel := context.WithTimeout(ctx, c.cfg.OrderTimeout)
	defer cancel()
	if err := c.exec.Sell(orderCtx, pos.Quantity); err != nil {
		c.log.Error().Err(err).Str("signal", kind.String()).Msg("sell failed; ledger unchanged")
		return false
	}

	trade, err := c.ledger.ApplySell(c.now(), price, pos.Quantity, kind.Label())
	if err != nil {
		c.log.Error().Err(err).Msg("ledger rejected confirmed sell")
		return false
	}
	c.log.Info().
		Str("trade_id", trade.ID).
		Str("label", trade.Label).
		Stringer("pnl", trade.RealizedPnL).
		Stringer("pnl_pct", trade.RealizedPnLPct).
		Stringer("cash", trade.ResultingCash).
		Msg("position closed")
	c.dispatchTrade(trade)
	return true
}

func (c *Controller) dispatchTrade(trade paper.Trade) {
	for _, s := range c.sinks {
		sink := s.sink
		c.dispatch(s.name, func(ctx context.Context) error { return sink.RecordTrade(ctx, trade) })
	}
}

func (c *Controller) dispatchSnapshot(snap paper.Snapshot) {
	for _, s := range c.sinks {
		sink := s.sink
		c.dispatch(s.name, func(ctx context.Context) error { return sink.RecordSnapshot(ctx, snap) })
	}
}

// dispatch runs a sink write in the background. Writes get their own
// deadline so that shutdown does not abort them.
func (c *Controller) dispatch(name string, write func(context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SinkTimeout)
		defer cancel()
		if err := write(ctx); err != nil {
			metrics.SideEffectErrorsTotal.WithLabelValues(name).Inc()
			c.log.Warn().Err(err).Str("sink", name).Msg("side effect failed")
		}
	}()
}

func (c *Controller) publish(price decimal.Decimal, ts time.Time, snap indicator.Snapshot, kind signal.Kind) {
	c.mu.Lock()
	c.lastPrice = price
	c.lastTick = ts
	c.snap = snap
	c.current = kind
	c.mu.Unlock()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	metrics.SessionState.WithLabelValues(c.cfg.Symbol).Set(float64(s))
	if prev != s {
		c.log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("session state")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
