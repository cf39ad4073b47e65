package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"trendbot-go/internal/api"
	"trendbot-go/internal/config"
	"trendbot-go/internal/dashboard"
	"trendbot-go/internal/exchange"
	"trendbot-go/internal/execution"
	"trendbot-go/internal/indicator"
	"trendbot-go/internal/metrics"
	"trendbot-go/internal/paper"
	"trendbot-go/internal/risk"
	"trendbot-go/internal/session"
	"trendbot-go/internal/store/redis"
	"trendbot-go/internal/store/sqlite"
	"trendbot-go/internal/strategy"
	"trendbot-go/internal/util"
)

const apiRequestsPerSecond = 20

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		mode          string
		withDashboard bool
		refresh       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream the market and trade until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.App.Mode = mode
			}
			logOut := io.Writer(os.Stdout)
			if withDashboard {
				logOut = os.Stderr
			}
			log := util.NewLoggerTo(logOut, cfg.App.LogLevel, cfg.App.LogFormat)

			var dash io.Writer
			if withDashboard {
				dash = cmd.OutOrStdout()
			}
			return run(cmd.Context(), cfg, log, dash, refresh)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "override app.mode (paper|live)")
	cmd.Flags().BoolVar(&withDashboard, "dashboard", false, "print a live status line (logs move to stderr)")
	cmd.Flags().DurationVar(&refresh, "refresh", time.Second, "dashboard refresh interval")
	return cmd
}

// run wires every component and blocks until ctx ends. dash may be nil.
func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, dash io.Writer, refresh time.Duration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	interval, err := exchange.IntervalDuration(cfg.Exchange.Interval)
	if err != nil {
		return err
	}
	log = log.With().Str("app", cfg.App.Name).Str("env", cfg.App.Env).Logger()

	rest := newRESTClient(cfg)
	feed := exchange.NewFeed(cfg.Exchange.Name, cfg.Exchange.Symbol, cfg.Exchange.Interval, log,
		exchange.WithREST(rest),
		exchange.WithStreamBaseURL(cfg.Exchange.StreamBaseURL),
		exchange.WithPollInterval(time.Duration(cfg.Exchange.Stub.TickIntervalMs)*time.Millisecond),
		exchange.WithTicksPerBar(cfg.Exchange.Stub.TicksPerBar),
		exchange.WithStartPrice(cfg.Exchange.Stub.StartPrice),
		exchange.WithSeed(cfg.Exchange.Stub.Seed),
	)

	startingCash := cfg.Paper.StartingCash
	var venue execution.Venue
	if cfg.App.Mode == "live" {
		venue = rest
		bal, err := rest.AssetBalance(ctx, cfg.Exchange.QuoteAsset)
		if err != nil {
			return fmt.Errorf("read %s balance: %w", cfg.Exchange.QuoteAsset, err)
		}
		startingCash = bal.Free
		log.Info().Str("asset", bal.Asset).Stringer("free", bal.Free).Bool("testnet", cfg.Exchange.Testnet).Msg("live mode: ledger seeded from exchange balance")
	}
	executor := execution.NewExecutor(cfg.Exchange.Symbol, venue, log)
	ledger := paper.NewLedger(cfg.Exchange.Symbol, startingCash, cfg.Paper.FeeRate, cfg.Paper.FeePlaces)

	sinkOpts, closeSinks, err := openSinks(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	controller := session.NewController(sessionConfig(cfg, interval), feed, executor, ledger, log, sinkOpts...)

	if srv := metrics.Serve(cfg.App.MetricsAddr); srv != nil {
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
		defer srv.Close()
	}

	var wg sync.WaitGroup
	if cfg.App.StatusAddr != "" {
		server := api.NewServer(controller, log, apiRequestsPerSecond)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx, cfg.App.StatusAddr); err != nil {
				log.Error().Err(err).Msg("status api stopped")
			}
		}()
	}
	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dashboard.Run(ctx, controller, dash, refresh)
		}()
	}

	log.Info().
		Str("mode", cfg.App.Mode).
		Str("provider", feed.Provider()).
		Str("symbol", cfg.Exchange.Symbol).
		Str("interval", cfg.Exchange.Interval).
		Stringer("cash", startingCash).
		Msg("trendbot started")

	err = controller.Run(ctx)
	wg.Wait()

	final := controller.LedgerSnapshot()
	log.Info().
		Stringer("net_worth", final.NetWorth).
		Stringer("realized_pnl", final.RealizedPnL).
		Int("trades", len(final.Trades)).
		Msg("shutdown complete")

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func newRESTClient(cfg *config.Config) *exchange.RESTClient {
	return exchange.NewRESTClient(cfg.Exchange.RESTBaseURL,
		exchange.WithCredentials(cfg.Exchange.APIKey, cfg.Exchange.APISecret),
		exchange.WithTimeout(time.Duration(cfg.Exchange.TimeoutMs)*time.Millisecond),
		exchange.WithRecvWindow(time.Duration(cfg.Exchange.RecvWindowMs)*time.Millisecond),
		exchange.WithRateLimit(cfg.Exchange.RequestsPerSecond),
	)
}

func sessionConfig(cfg *config.Config, interval time.Duration) session.Config {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return session.Config{
		Symbol:           cfg.Exchange.Symbol,
		Quantity:         cfg.Paper.Quantity,
		WindowCapacity:   cfg.Session.WindowCapacity,
		Interval:         interval,
		HeartbeatTimeout: ms(cfg.Session.HeartbeatTimeoutMs),
		OrderTimeout:     ms(cfg.Session.OrderTimeoutMs),
		BackoffInitial:   ms(cfg.Session.BackoffInitialMs),
		BackoffMax:       ms(cfg.Session.BackoffMaxMs),
		BackoffFactor:    cfg.Session.BackoffFactor,
		Indicators: indicator.Params{
			RSIPeriod:    cfg.Strategy.RSIPeriod,
			EMAPeriod:    cfg.Strategy.EMAPeriod,
			ATRPeriod:    cfg.Strategy.ATRPeriod,
			VolumeWindow: cfg.Strategy.VolumeWindow,
		},
		Decision: strategy.Params{
			Oversold:    cfg.Strategy.Oversold,
			Overbought:  cfg.Strategy.Overbought,
			StopLossATR: cfg.Strategy.StopLossATR,
			TrailingATR: cfg.Strategy.TrailingATR,
			FeeRate:     cfg.Paper.FeeRate,
		},
		Risk: risk.Limits{MaxNotionalPerTrade: cfg.Risk.MaxNotionalPerTrade},
	}
}

// openSinks opens every configured persistence sink. The returned func
// closes them in reverse order.
func openSinks(ctx context.Context, cfg *config.Config, log zerolog.Logger) ([]session.Option, func(), error) {
	var (
		opts    []session.Option
		closers []func() error
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn().Err(err).Msg("close sink")
			}
		}
	}

	p := cfg.Persistence
	if p.JSONLPath != "" {
		rec, err := paper.NewJSONLRecorder(p.JSONLPath)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		opts = append(opts, session.WithSink("jsonl", rec))
		closers = append(closers, rec.Close)
	}
	if p.SQLitePath != "" {
		journal, err := sqlite.Open(p.SQLitePath)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		opts = append(opts, session.WithSink("sqlite", journal))
		closers = append(closers, journal.Close)
	}
	if p.RedisAddr != "" {
		pub, err := redis.New(ctx, redis.Config{
			Addr:     p.RedisAddr,
			Password: p.RedisPassword,
			Channel:  p.RedisChannel,
			Key:      p.RedisKey,
		}, log)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		opts = append(opts, session.WithSink("redis", pub))
		closers = append(closers, pub.Close)
	}
	return opts, closeAll, nil
}
