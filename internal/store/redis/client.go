// Package redis persists stream snapshots in Redis and publishes stream
// updates over Redis pub/sub.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/go-redis/redis/v8"
)

// Config addresses one Redis server.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	// ConnectTimeout bounds the retries in Connect. Default 30s.
	ConnectTimeout time.Duration
}

// NewClient builds a client without contacting the server.
func NewClient(cfg Config) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Connect builds a client and pings it with exponential backoff until the
// server answers, ConnectTimeout passes or ctx is done.
func Connect(ctx context.Context, cfg Config, log *slog.Logger) (*goredis.Client, error) {
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := NewClient(cfg)
	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis ping failed", "addr", cfg.Addr, "attempt", attempt, "error", err)
			return err
		}
		return nil
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.MaxElapsedTime = timeout
	if err := backoff.Retry(ping, backoff.WithContext(strategy, ctx)); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connect %s: %w", cfg.Addr, err)
	}

	log.Info("redis connected", "addr", cfg.Addr, "attempts", attempt)
	return client, nil
}
