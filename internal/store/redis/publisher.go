package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	updateChannelPrefix = "pub:ind:"
	defaultLatestTTL    = 30 * time.Minute
)

// UpdateChannel is the pub/sub channel carrying updates of stream id.
func UpdateChannel(id string) string { return updateChannelPrefix + id }

// UpdatePattern matches every update channel.
const UpdatePattern = updateChannelPrefix + "*"

// LatestKey is the key holding the last payload published on channel:
// "pub:ind:x" keeps its latest value under "ind:x:latest".
func LatestKey(channel string) string {
	return strings.TrimPrefix(channel, "pub:") + ":latest"
}

// PublisherConfig tunes the circuit breaker and the local buffer used while
// it is open.
type PublisherConfig struct {
	MaxFailures int           // consecutive failures before opening; default 5
	Cooldown    time.Duration // default 10s
	MaxBuffered int           // default 10000; oldest dropped beyond this
	LatestTTL   time.Duration // default 30m
}

type pendingPublish struct {
	channel string
	payload []byte
}

// Publisher sends stream updates through a circuit breaker. Each publish
// also refreshes the channel's latest key so a late subscriber can catch up.
// While the breaker is open, payloads are held locally and flushed in order
// once a probe succeeds.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
	log    *slog.Logger
	ttl    time.Duration

	mu      sync.Mutex
	pending []pendingPublish
	maxBuf  int

	OnBuffer func()          // a payload was held back
	OnFlush  func(count int) // held payloads were sent
}

// NewPublisher wraps client.
func NewPublisher(client *goredis.Client, cfg PublisherConfig, log *slog.Logger) *Publisher {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 10000
	}
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		client: client,
		cb:     NewCircuitBreaker(cfg.MaxFailures, cfg.Cooldown),
		log:    log.With("component", "redis-publisher"),
		ttl:    cfg.LatestTTL,
		maxBuf: cfg.MaxBuffered,
	}
	p.cb.OnStateChange = func(from, to State) {
		p.log.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
		if to == StateClosed {
			go p.flush()
		}
	}
	return p
}

// Breaker exposes the circuit breaker so callers can export its state.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// Publish implements model.UpdatePublisher. A payload held back by an open
// breaker is not an error.
func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	err := p.cb.Execute(func() error {
		return p.send(ctx, channel, payload)
	})
	if errors.Is(err, ErrCircuitOpen) {
		p.hold(channel, payload)
		return nil
	}
	return err
}

func (p *Publisher) send(ctx context.Context, channel string, payload []byte) error {
	pipe := p.client.Pipeline()
	pipe.Set(ctx, LatestKey(channel), payload, p.ttl)
	pipe.Publish(ctx, channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

func (p *Publisher) hold(channel string, payload []byte) {
	p.mu.Lock()
	if len(p.pending) >= p.maxBuf {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, pendingPublish{channel: channel, payload: payload})
	p.mu.Unlock()

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush sends held payloads. Any failure puts the rest back at the front.
func (p *Publisher) flush() {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sent := 0
	for _, pp := range batch {
		if err := p.send(ctx, pp.channel, pp.payload); err != nil {
			p.log.Warn("flush interrupted", "sent", sent, "left", len(batch)-sent, "error", err)
			break
		}
		sent++
	}
	if rest := batch[sent:]; len(rest) > 0 {
		p.mu.Lock()
		p.pending = append(rest, p.pending...)
		if over := len(p.pending) - p.maxBuf; over > 0 {
			p.pending = p.pending[over:]
		}
		p.mu.Unlock()
	}

	p.log.Info("flushed held updates", "count", sent)
	if p.OnFlush != nil {
		p.OnFlush(sent)
	}
}

// PendingCount returns how many payloads wait for the breaker to close.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
