package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"trendbot-go/internal/signal"
)

type binanceKlineEvent struct {
	EventType string       `json:"e"`
	EventTime int64        `json:"E"`
	Symbol    string       `json:"s"`
	Kline     binanceKline `json:"k"`
}

type binanceKline struct {
	OpenTime  int64           `json:"t"`
	CloseTime int64           `json:"T"`
	Interval  string          `json:"i"`
	Close     decimal.Decimal `json:"c"`
	Volume    decimal.Decimal `json:"v"`
	Closed    bool            `json:"x"`
}

// bootstrapBinance fetches one extra kline so that dropping the forming one
// still leaves n closed bars.
func (f *Feed) bootstrapBinance(ctx context.Context, n int) ([]signal.Bar, error) {
	if f.rest == nil {
		return nil, ErrNoREST
	}
	klines, err := f.rest.Klines(ctx, f.symbol, f.interval, n+1)
	if err != nil {
		return nil, fmt.Errorf("bootstrap klines: %w", err)
	}
	bars := Bars(klines, time.Now())
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

func (f *Feed) klineStreamURL() string {
	return fmt.Sprintf("%s/ws/%s@kline_%s", f.streamBase, strings.ToLower(f.symbol), f.interval)
}

func (f *Feed) streamBinance(ctx context.Context, out chan<- signal.Tick) error {
	if f.symbol == "" {
		return fmt.Errorf("binance feed requires a symbol")
	}
	url := f.klineStreamURL()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	f.log.Info().Str("provider", ProviderBinance).Str("symbol", f.symbol).Str("interval", f.interval).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	// unblock ReadMessage when the caller cancels
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					f.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read kline stream: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		tick, ok, err := decodeKlineTick(message)
		if err != nil {
			f.log.Warn().Err(err).Msg("failed to decode binance message")
			continue
		}
		if !ok {
			continue
		}
		if err := f.emit(ctx, out, tick); err != nil {
			return err
		}
	}
}

// decodeKlineTick turns a kline event into a tick. ok is false for other event types.
func decodeKlineTick(message []byte) (signal.Tick, bool, error) {
	var ev binanceKlineEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return signal.Tick{}, false, err
	}
	if ev.EventType != "kline" {
		return signal.Tick{}, false, nil
	}
	if !ev.Kline.Close.IsPositive() {
		return signal.Tick{}, false, fmt.Errorf("invalid close %s", ev.Kline.Close)
	}
	ts := time.UnixMilli(ev.EventTime)
	if ev.Kline.Closed {
		ts = time.UnixMilli(ev.Kline.CloseTime)
	}
	return signal.Tick{
		Symbol:    strings.ToUpper(ev.Symbol),
		Price:     ev.Kline.Close,
		Volume:    ev.Kline.Volume,
		BarClosed: ev.Kline.Closed,
		Ts:        ts,
	}, true, nil
}
