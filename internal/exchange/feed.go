// Package exchange hosts connectors for centralized venues and tick sources.
package exchange

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trendbot-go/internal/metrics"
	"trendbot-go/internal/signal"
)

const (
	// ProviderStub emits a seeded random walk (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance streams live klines from Binance public websockets.
	ProviderBinance = "binance"
)

// ErrNoREST is returned when the binance provider is used without a REST client.
var ErrNoREST = errors.New("binance feed requires a REST client for bootstrap")

// Feed is the market data source for one symbol. It bootstraps history and
// streams ticks; reconnecting is left to the caller.
type Feed struct {
	provider     string
	symbol       string
	interval     string
	log          zerolog.Logger
	rest         *RESTClient
	streamBase   string
	pollInterval time.Duration
	ticksPerBar  int
	startPrice   decimal.Decimal
	seed         int64

	mu   sync.Mutex
	walk *randomWalk
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultTicksPerBar  = 4
)

// WithPollInterval overrides the stub tick cadence.
func WithPollInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithTicksPerBar sets how many stub ticks make one closed bar.
func WithTicksPerBar(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.ticksPerBar = n
		}
	}
}

// WithStartPrice seeds the stub walk price.
func WithStartPrice(px decimal.Decimal) Option {
	return func(f *Feed) {
		if px.IsPositive() {
			f.startPrice = px
		}
	}
}

// WithSeed fixes the stub walk. Zero keeps the default seed.
func WithSeed(seed int64) Option {
	return func(f *Feed) {
		if seed != 0 {
			f.seed = seed
		}
	}
}

// WithREST injects the REST client used for the binance bootstrap.
func WithREST(rest *RESTClient) Option {
	return func(f *Feed) { f.rest = rest }
}

// WithStreamBaseURL overrides the websocket base (production or testnet).
func WithStreamBaseURL(base string) Option {
	return func(f *Feed) {
		if base != "" {
			f.streamBase = strings.TrimSuffix(base, "/")
		}
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider, symbol, interval string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	if interval == "" {
		interval = "1m"
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		symbol:       strings.ToUpper(strings.TrimSpace(symbol)),
		interval:     interval,
		log:          log,
		streamBase:   "wss://stream.binance.com:9443",
		pollInterval: defaultPollInterval,
		ticksPerBar:  defaultTicksPerBar,
		startPrice:   decimal.NewFromInt(100),
		seed:         1,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Provider returns the configured provider name.
func (f *Feed) Provider() string { return f.provider }

// Bootstrap returns up to n closed bars, oldest first.
func (f *Feed) Bootstrap(ctx context.Context, n int) ([]signal.Bar, error) {
	switch f.provider {
	case ProviderBinance:
		return f.bootstrapBinance(ctx, n)
	default:
		return f.bootstrapStub(ctx, n)
	}
}

// Stream pushes ticks onto out until the context is canceled or the
// connection fails. It never retries on its own.
func (f *Feed) Stream(ctx context.Context, out chan<- signal.Tick) error {
	switch f.provider {
	case ProviderBinance:
		return f.streamBinance(ctx, out)
	default:
		return f.streamStub(ctx, out)
	}
}

func (f *Feed) emit(ctx context.Context, out chan<- signal.Tick, tick signal.Tick) error {
	select {
	case out <- tick:
		metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// randomWalk is the stub price process. It survives reconnects so a
// restarted stream continues where it stopped.
type randomWalk struct {
	rng   *rand.Rand
	price decimal.Decimal
	tick  int
}

var (
	walkStep = decimal.RequireFromString("0.002")
	one      = decimal.NewFromInt(1)
)

func (w *randomWalk) next() (decimal.Decimal, decimal.Decimal) {
	// uniform move in [-0.2%, +0.2%]
	r := decimal.NewFromFloat(w.rng.Float64()*2 - 1).Mul(walkStep)
	w.price = w.price.Mul(one.Add(r)).Round(2)
	if !w.price.IsPositive() {
		w.price = decimal.NewFromInt(1)
	}
	volume := decimal.NewFromFloat(1 + w.rng.Float64()*9).Round(4)
	w.tick++
	return w.price, volume
}

func (f *Feed) stubWalk() *randomWalk {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.walk == nil {
		f.walk = &randomWalk{rng: rand.New(rand.NewSource(f.seed)), price: f.startPrice}
	}
	return f.walk
}

func (f *Feed) bootstrapStub(ctx context.Context, n int) ([]signal.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	walk := f.stubWalk()
	f.mu.Lock()
	defer f.mu.Unlock()

	step, err := IntervalDuration(f.interval)
	if err != nil {
		step = time.Minute
	}
	start := time.Now().Add(-time.Duration(n) * step)
	bars := make([]signal.Bar, 0, n)
	for i := 0; i < n; i++ {
		px, vol := walk.next()
		bars = append(bars, signal.Bar{Ts: start.Add(time.Duration(i+1) * step), Close: px, Volume: vol, Closed: true})
	}
	// the streamed bar starts fresh after a bootstrap
	walk.tick = 0
	return bars, nil
}

func (f *Feed) streamStub(ctx context.Context, out chan<- signal.Tick) error {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	walk := f.stubWalk()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			f.mu.Lock()
			px, vol := walk.next()
			closed := walk.tick%f.ticksPerBar == 0
			f.mu.Unlock()

			tick := signal.Tick{Symbol: f.symbol, Price: px, Volume: vol, BarClosed: closed, Ts: ts}
			if err := f.emit(ctx, out, tick); err != nil {
				return err
			}
		}
	}
}
