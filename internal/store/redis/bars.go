package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"ta-enginev1/internal/model"
)

const (
	barStreamPrefix = "bars:"
	defaultMaxLen   = 5000
)

// BarStreamKey is the Redis stream carrying bars of symbol.
func BarStreamKey(symbol string) string { return barStreamPrefix + symbol }

// BarMessage is one entry of a bar stream. Forming bars are previews of a
// bar that has not closed; they are never buffered.
type BarMessage struct {
	Symbol  string    `json:"symbol"`
	Bar     model.Bar `json:"bar"`
	Forming bool      `json:"forming,omitempty"`
}

// FeedConfig names the consumer group used to read bar streams.
type FeedConfig struct {
	Group    string // default "indengine"
	Consumer string // default "indengine-1"
	MaxLen   int64  // approximate stream cap on append; default 5000
}

// BarFeed reads and appends bar streams. Reads go through a consumer group,
// so a restarted engine resumes where it stopped and unacknowledged entries
// are redelivered.
type BarFeed struct {
	client *goredis.Client
	cfg    FeedConfig
	log    *slog.Logger
}

// NewBarFeed wraps client.
func NewBarFeed(client *goredis.Client, cfg FeedConfig, log *slog.Logger) *BarFeed {
	if cfg.Group == "" {
		cfg.Group = "indengine"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "indengine-1"
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = defaultMaxLen
	}
	if log == nil {
		log = slog.Default()
	}
	return &BarFeed{client: client, cfg: cfg, log: log.With("component", "bar-feed")}
}

// Append adds a bar to symbol's stream.
func (f *BarFeed) Append(ctx context.Context, msg BarMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode bar: %w", err)
	}
	err = f.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: BarStreamKey(msg.Symbol),
		MaxLen: f.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", msg.Symbol, err)
	}
	return nil
}

// EnsureGroup creates the consumer group on each symbol's stream, creating
// the stream too. New groups start at the tail.
func (f *BarFeed) EnsureGroup(ctx context.Context, symbols []string) error {
	for _, sym := range symbols {
		err := f.client.XGroupCreateMkStream(ctx, BarStreamKey(sym), f.cfg.Group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("redis xgroup create %s: %w", sym, err)
		}
	}
	return nil
}

// Consume delivers bars of symbols to out until ctx is done. Pending entries
// from a previous run are delivered first. Entries are acknowledged once
// handed to out; undecodable ones are acknowledged and skipped.
func (f *BarFeed) Consume(ctx context.Context, symbols []string, out chan<- BarMessage) error {
	if len(symbols) == 0 {
		return nil
	}
	if err := f.EnsureGroup(ctx, symbols); err != nil {
		return err
	}
	// "0" replays this consumer's pending entries, ">" reads new ones
	if err := f.read(ctx, symbols, "0", out, false); err != nil {
		return err
	}
	return f.read(ctx, symbols, ">", out, true)
}

func (f *BarFeed) read(ctx context.Context, symbols []string, from string, out chan<- BarMessage, follow bool) error {
	args := make([]string, len(symbols)*2)
	for i, s := range symbols {
		args[i] = BarStreamKey(s)
		args[len(symbols)+i] = from
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		block := 2 * time.Second
		if !follow {
			block = -1 // no BLOCK
		}
		results, err := f.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    f.cfg.Group,
			Consumer: f.cfg.Consumer,
			Streams:  args,
			Count:    100,
			Block:    block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				if follow {
					continue
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn("xreadgroup failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		delivered := 0
		for _, st := range results {
			for _, msg := range st.Messages {
				delivered++
				bm, err := decodeBarMessage(msg)
				if err != nil {
					f.log.Warn("skipping bad bar entry", "stream", st.Stream, "id", msg.ID, "error", err)
					f.client.XAck(ctx, st.Stream, f.cfg.Group, msg.ID)
					continue
				}
				select {
				case out <- bm:
				case <-ctx.Done():
					return ctx.Err()
				}
				f.client.XAck(ctx, st.Stream, f.cfg.Group, msg.ID)
			}
		}
		if !follow && delivered == 0 {
			return nil
		}
	}
}

func decodeBarMessage(msg goredis.XMessage) (BarMessage, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return BarMessage{}, errors.New("missing data field")
	}
	var bm BarMessage
	if err := json.Unmarshal([]byte(data), &bm); err != nil {
		return BarMessage{}, err
	}
	if bm.Symbol == "" || bm.Bar.Time.IsZero() {
		return BarMessage{}, errors.New("symbol and bar time are required")
	}
	return bm, nil
}
