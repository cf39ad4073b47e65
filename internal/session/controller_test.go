package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trendbot-go/internal/indicator"
	"trendbot-go/internal/paper"
	"trendbot-go/internal/risk"
	"trendbot-go/internal/signal"
	"trendbot-go/internal/strategy"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// script is one Stream call: the ticks it delivers, then how it ends.
type script struct {
	ticks []signal.Tick
	err   error
	hang  bool
}

type fakeFeed struct {
	mu        sync.Mutex
	bars      []signal.Bar
	bootErrs  []error
	scripts   []script
	boots     int
	streams   int
	exhausted chan struct{}
	once      sync.Once
}

func newFakeFeed(bars []signal.Bar, scripts ...script) *fakeFeed {
	return &fakeFeed{bars: bars, scripts: scripts, exhausted: make(chan struct{})}
}

func (f *fakeFeed) Bootstrap(ctx context.Context, n int) ([]signal.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boots++
	if len(f.bootErrs) > 0 {
		err := f.bootErrs[0]
		f.bootErrs = f.bootErrs[1:]
		return nil, err
	}
	bars := f.bars
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	out := make([]signal.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

func (f *fakeFeed) Stream(ctx context.Context, out chan<- signal.Tick) error {
	f.mu.Lock()
	f.streams++
	if len(f.scripts) == 0 {
		f.mu.Unlock()
		f.once.Do(func() { close(f.exhausted) })
		<-ctx.Done()
		return ctx.Err()
	}
	sc := f.scripts[0]
	f.scripts = f.scripts[1:]
	f.mu.Unlock()

	for _, tk := range sc.ticks {
		select {
		case out <- tk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if sc.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return sc.err
}

func (f *fakeFeed) counts() (boots, streams int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.boots, f.streams
}

type fakeExec struct {
	mu          sync.Mutex
	buys, sells int
	buyErr      error
	sellErr     error
	noDeadline  bool
	canceledCtx bool
}

func (e *fakeExec) check(ctx context.Context) {
	if _, ok := ctx.Deadline(); !ok {
		e.noDeadline = true
	}
	if ctx.Err() != nil {
		e.canceledCtx = true
	}
}

func (e *fakeExec) Buy(ctx context.Context, qty decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.check(ctx)
	e.buys++
	return e.buyErr
}

func (e *fakeExec) Sell(ctx context.Context, qty decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.check(ctx)
	e.sells++
	return e.sellErr
}

type recordingSink struct {
	mu     sync.Mutex
	trades []paper.Trade
	snaps  []paper.Snapshot
	err    error
}

func (s *recordingSink) RecordTrade(_ context.Context, trade paper.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	return s.err
}

func (s *recordingSink) RecordSnapshot(_ context.Context, snap paper.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return s.err
}

// fixtureBars is a steady climb from 100 to 140 followed by two 2-point drops;
// the last closed bar carries a volume spike.
func fixtureBars() []signal.Bar {
	start := time.Unix(1_700_000_000, 0)
	var closes []decimal.Decimal
	for px := int64(100); px <= 140; px++ {
		closes = append(closes, decimal.NewFromInt(px))
	}
	closes = append(closes, decimal.NewFromInt(138), decimal.NewFromInt(136))

	bars := make([]signal.Bar, len(closes))
	for i, c := range closes {
		bars[i] = signal.Bar{Ts: start.Add(time.Duration(i) * time.Minute), Close: c, Volume: decimal.NewFromInt(1), Closed: true}
	}
	bars[len(bars)-1].Volume = decimal.NewFromInt(5)
	return bars
}

func tick(price string, closed bool) signal.Tick {
	return signal.Tick{Symbol: "BTCUSDT", Price: d(price), Volume: d("1"), BarClosed: closed, Ts: time.Unix(1_700_010_000, 0)}
}

func testConfig() Config {
	return Config{
		Symbol:           "BTCUSDT",
		Quantity:         d("1"),
		WindowCapacity:   60,
		Interval:         time.Second,
		HeartbeatTimeout: time.Second,
		OrderTimeout:     time.Second,
		BackoffInitial:   time.Millisecond,
		BackoffMax:       5 * time.Millisecond,
		Indicators:       indicator.Params{RSIPeriod: 3, EMAPeriod: 20, ATRPeriod: 14, VolumeWindow: 10},
		Decision:         strategy.DefaultParams(),
	}
}

func newLedger() *paper.Ledger {
	return paper.NewLedger("BTCUSDT", d("1000"), d("0.001"), paper.DefaultFeePlaces)
}

// runUntilExhausted runs the controller until the fake feed has no scripts left.
func runUntilExhausted(t *testing.T, c *Controller, feed *fakeFeed) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-feed.exhausted:
	case <-time.After(5 * time.Second):
		t.Fatalf("feed scripts were not consumed")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled from Run, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestFixtureProducesBuy(t *testing.T) {
	cfg := testConfig().withDefaults()
	engine := indicator.NewEngine(cfg.Indicators)
	bars := fixtureBars()
	var closes, volumes []decimal.Decimal
	for _, b := range bars {
		closes = append(closes, b.Close)
		volumes = append(volumes, b.Volume)
	}
	closes = append(closes, d("134"))
	snap := engine.Compute(closes, volumes)
	if got := cfg.Decision.Decide(snap, d("134"), paper.Position{}); got != signal.Buy {
		t.Fatalf("fixture should produce BUY, got %s (snapshot %+v)", got, snap)
	}
}

func TestControllerBuyThenStopLoss(t *testing.T) {
	feed := newFakeFeed(fixtureBars(), script{ticks: []signal.Tick{tick("134", false), tick("125", false)}, hang: true})
	exec := &fakeExec{}
	sink := &recordingSink{}
	ledger := newLedger()
	c := NewController(testConfig(), feed, exec, ledger, zerolog.Nop(), WithSink("memory", sink))

	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for len(ledger.Trades()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected two trades, got %d", len(ledger.Trades()))
		case <-time.After(5 * time.Millisecond):
		}
	}
	if c.State() != Streaming {
		t.Fatalf("expected STREAMING, got %s", c.State())
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	trades := ledger.Trades()
	if trades[0].Label != "ENTRY" || !trades[0].Price.Equal(d("134")) || !trades[0].Fee.Equal(d("0.13")) {
		t.Fatalf("unexpected entry %+v", trades[0])
	}
	if trades[1].Label != "STOP_LOSS" || !trades[1].Price.Equal(d("125")) {
		t.Fatalf("unexpected exit %+v", trades[1])
	}
	// (125 - 134) - (0.13 + 0.13)
	if !trades[1].RealizedPnL.Equal(d("-9.26")) {
		t.Fatalf("unexpected pnl %s", trades[1].RealizedPnL)
	}
	if !ledger.Cash().Equal(d("990.74")) {
		t.Fatalf("unexpected cash %s", ledger.Cash())
	}
	if exec.buys != 1 || exec.sells != 1 {
		t.Fatalf("expected one buy and one sell, got %d/%d", exec.buys, exec.sells)
	}
	if exec.noDeadline || exec.canceledCtx {
		t.Fatalf("orders must run on a live context with a timeout")
	}
	if c.State() != Shutdown {
		t.Fatalf("expected SHUTDOWN after Run, got %s", c.State())
	}

	// Run waits for sinks, so every write has landed
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.trades) != 2 || len(sink.snaps) != 2 {
		t.Fatalf("expected 2 trades and 2 snapshots in sink, got %d/%d", len(sink.trades), len(sink.snaps))
	}
}

func TestControllerInsufficientHistoryHolds(t *testing.T) {
	bars := fixtureBars()[:10]
	feed := newFakeFeed(bars, script{ticks: []signal.Tick{tick("50", false), tick("200", true)}})
	exec := &fakeExec{}
	c := NewController(testConfig(), feed, exec, newLedger(), zerolog.Nop())

	runUntilExhausted(t, c, feed)

	if exec.buys+exec.sells != 0 {
		t.Fatalf("expected no orders without history")
	}
	if c.CurrentSignal() != signal.Hold {
		t.Fatalf("expected HOLD, got %s", c.CurrentSignal())
	}
	if c.CurrentIndicators().EMA.Valid {
		t.Fatalf("EMA should be undefined with 11 bars")
	}
}

func TestControllerReconnectKeepsLedger(t *testing.T) {
	feed := newFakeFeed(fixtureBars(),
		script{ticks: []signal.Tick{tick("134", false)}, err: errors.New("connection reset")},
		script{err: errors.New("handshake failed")},
	)
	exec := &fakeExec{}
	ledger := newLedger()
	c := NewController(testConfig(), feed, exec, ledger, zerolog.Nop())

	runUntilExhausted(t, c, feed)

	boots, streams := feed.counts()
	if boots != 3 || streams != 3 {
		t.Fatalf("expected 3 bootstraps and 3 streams, got %d/%d", boots, streams)
	}
	if len(ledger.Trades()) != 1 || !ledger.Position().Active {
		t.Fatalf("reconnect must keep the open position and history")
	}
	if !ledger.Cash().Equal(d("865.87")) {
		t.Fatalf("reconnect changed cash: %s", ledger.Cash())
	}
	if !ledger.Position().HighestPrice.Equal(d("134")) {
		t.Fatalf("reconnect changed the high-water mark: %s", ledger.Position().HighestPrice)
	}
}

func TestControllerHeartbeatTimeoutReconnects(t *testing.T) {
	feed := newFakeFeed(fixtureBars(), script{ticks: []signal.Tick{tick("136", true)}, hang: true})
	cfg := testConfig()
	cfg.HeartbeatTimeout = 30 * time.Millisecond
	c := NewController(cfg, feed, &fakeExec{}, newLedger(), zerolog.Nop())

	runUntilExhausted(t, c, feed)

	boots, streams := feed.counts()
	if boots < 2 || streams < 2 {
		t.Fatalf("expected a reconnect after heartbeat timeout, got %d bootstraps %d streams", boots, streams)
	}
}

func TestControllerBootstrapFailureRetries(t *testing.T) {
	feed := newFakeFeed(fixtureBars())
	feed.bootErrs = []error{errors.New("klines: 503"), errors.New("klines: 503")}
	c := NewController(testConfig(), feed, &fakeExec{}, newLedger(), zerolog.Nop())

	runUntilExhausted(t, c, feed)

	boots, streams := feed.counts()
	if boots != 3 || streams != 1 {
		t.Fatalf("expected 3 bootstraps then 1 stream, got %d/%d", boots, streams)
	}
	if !c.LastPrice().Equal(d("136")) {
		t.Fatalf("expected last price from bootstrap, got %s", c.LastPrice())
	}
}

func TestControllerFailedOrderLeavesLedger(t *testing.T) {
	feed := newFakeFeed(fixtureBars(), script{ticks: []signal.Tick{tick("134", false)}})
	exec := &fakeExec{buyErr: errors.New("venue down")}
	sink := &recordingSink{}
	ledger := newLedger()
	c := NewController(testConfig(), feed, exec, ledger, zerolog.Nop(), WithSink("memory", sink))

	runUntilExhausted(t, c, feed)

	if exec.buys != 1 {
		t.Fatalf("expected one buy attempt, got %d", exec.buys)
	}
	if ledger.Position().Active || len(ledger.Trades()) != 0 || !ledger.Cash().Equal(d("1000")) {
		t.Fatalf("failed order must not touch the ledger")
	}
	if len(sink.trades) != 0 {
		t.Fatalf("failed order must not reach sinks")
	}
}

func TestControllerRiskLimitBlocksBuy(t *testing.T) {
	feed := newFakeFeed(fixtureBars(), script{ticks: []signal.Tick{tick("134", false)}})
	exec := &fakeExec{}
	cfg := testConfig()
	cfg.Risk = risk.Limits{MaxNotionalPerTrade: d("100")}
	c := NewController(cfg, feed, exec, newLedger(), zerolog.Nop())

	runUntilExhausted(t, c, feed)

	if exec.buys != 0 {
		t.Fatalf("risk limit should block the buy")
	}
}

func TestControllerInsufficientCashBlocksBuy(t *testing.T) {
	feed := newFakeFeed(fixtureBars(), script{ticks: []signal.Tick{tick("134", false)}})
	exec := &fakeExec{}
	ledger := paper.NewLedger("BTCUSDT", d("100"), d("0.001"), paper.DefaultFeePlaces)
	c := NewController(testConfig(), feed, exec, ledger, zerolog.Nop())

	runUntilExhausted(t, c, feed)

	if exec.buys != 0 {
		t.Fatalf("expected buy to be skipped without cash")
	}
}

func TestControllerSinkErrorsAreNotFatal(t *testing.T) {
	feed := newFakeFeed(fixtureBars(), script{ticks: []signal.Tick{tick("134", false)}})
	sink := &recordingSink{err: errors.New("disk full")}
	ledger := newLedger()
	c := NewController(testConfig(), feed, &fakeExec{}, ledger, zerolog.Nop(), WithSink("broken", sink))

	runUntilExhausted(t, c, feed)

	if len(ledger.Trades()) != 1 {
		t.Fatalf("sink failure must not undo the trade")
	}
	if len(sink.trades) != 1 {
		t.Fatalf("expected the sink to be called once, got %d", len(sink.trades))
	}
}

func TestControllerInvariantGuards(t *testing.T) {
	exec := &fakeExec{}
	ledger := newLedger()
	c := NewController(testConfig(), newFakeFeed(nil), exec, ledger, zerolog.Nop())
	ctx := context.Background()

	if c.exit(ctx, d("100"), signal.SellStopLoss) {
		t.Fatalf("sell while flat must be dropped")
	}
	if _, err := ledger.ApplyBuy(time.Now(), d("100"), d("1")); err != nil {
		t.Fatalf("ApplyBuy error: %v", err)
	}
	if c.enter(ctx, d("100")) {
		t.Fatalf("buy while open must be dropped")
	}
	if exec.buys+exec.sells != 0 {
		t.Fatalf("dropped signals must not reach the executor")
	}
	if len(ledger.Trades()) != 1 {
		t.Fatalf("dropped signals must not touch the ledger")
	}
}

func TestStatusView(t *testing.T) {
	ledger := newLedger()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewController(testConfig(), newFakeFeed(nil), &fakeExec{}, ledger, zerolog.Nop(), WithClock(func() time.Time { return fixed }))
	c.publish(d("101"), time.Unix(0, 0), indicator.Snapshot{RSI: decimal.NewNullDecimal(d("55"))}, signal.Hold)

	st := c.Status()
	if st.Symbol != "BTCUSDT" || st.State != Connecting || !st.Price.Equal(d("101")) {
		t.Fatalf("unexpected status %+v", st)
	}
	if !st.NetWorth.Equal(d("1000")) || !st.Indicators.RSI.Valid {
		t.Fatalf("unexpected status %+v", st)
	}
	if snap := c.LedgerSnapshot(); !snap.Price.Equal(d("101")) || !snap.Ts.Equal(fixed) {
		t.Fatalf("ledger snapshot should be marked at the last price and clock, got %s at %s", snap.Price, snap.Ts)
	}
}

func TestStateText(t *testing.T) {
	for _, s := range []State{Connecting, Streaming, Reconnecting, Shutdown} {
		text, _ := s.MarshalText()
		var back State
		if err := back.UnmarshalText(text); err != nil || back != s {
			t.Fatalf("state %s did not round trip", s)
		}
	}
	var s State
	if err := s.UnmarshalText([]byte("DANCING")); err == nil {
		t.Fatalf("expected error for unknown state")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Interval: time.Minute}.withDefaults()
	if cfg.HeartbeatTimeout != 75*time.Second {
		t.Fatalf("expected heartbeat interval+15s, got %s", cfg.HeartbeatTimeout)
	}
	if cfg.BackoffInitial != time.Second || cfg.BackoffMax != 30*time.Second || cfg.BackoffFactor != 1.8 {
		t.Fatalf("unexpected backoff defaults %+v", cfg)
	}
	if cfg.WindowCapacity != 300 {
		t.Fatalf("expected capacity 300, got %d", cfg.WindowCapacity)
	}
}
