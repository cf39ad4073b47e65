// Package redis fans ledger events out to Redis subscribers and keeps the
// latest snapshot under a fixed key.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"trendbot-go/internal/paper"
)

const defaultLatestTTL = 24 * time.Hour

// Config selects the Redis server and the names used on it.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string // pub/sub channel for every event
	Key      string // key holding the latest snapshot
}

// Event is the payload published on Channel. It reuses the JSONL entry shape.
type Event = paper.Entry

// Publisher implements the session sink on top of PUBLISH and SET.
type Publisher struct {
	client  *goredis.Client
	channel string
	key     string
}

// New connects and pings the server.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	log.Info().Str("addr", cfg.Addr).Str("channel", cfg.Channel).Msg("redis publisher connected")
	return &Publisher{client: client, channel: cfg.Channel, key: cfg.Key}, nil
}

// RecordTrade publishes a trade event.
func (p *Publisher) RecordTrade(ctx context.Context, trade paper.Trade) error {
	payload, err := encode(Event{Kind: paper.KindTrade, Written: time.Now().UTC(), Trade: &trade})
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish trade: %w", err)
	}
	return nil
}

// RecordSnapshot stores the snapshot as the latest value and publishes it in
// one pipeline round trip.
func (p *Publisher) RecordSnapshot(ctx context.Context, snap paper.Snapshot) error {
	snap.Trades = nil
	payload, err := encode(Event{Kind: paper.KindSnapshot, Written: time.Now().UTC(), Snapshot: &snap})
	if err != nil {
		return err
	}
	pipe := p.client.Pipeline()
	pipe.Set(ctx, p.key, payload, defaultLatestTTL)
	pipe.Publish(ctx, p.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis snapshot pipeline: %w", err)
	}
	return nil
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

func encode(ev Event) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode %s event: %w", ev.Kind, err)
	}
	return string(b), nil
}
