package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// unreachable returns a client whose every command fails fast.
func unreachable() *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
}

func TestKeys(t *testing.T) {
	if got := UpdateChannel("nifty-rsi"); got != "pub:ind:nifty-rsi" {
		t.Errorf("UpdateChannel = %q", got)
	}
	if got := LatestKey(UpdateChannel("nifty-rsi")); got != "ind:nifty-rsi:latest" {
		t.Errorf("LatestKey = %q", got)
	}
	if got := SnapshotKey("nifty-rsi"); got != "stream:snapshot:nifty-rsi" {
		t.Errorf("SnapshotKey = %q", got)
	}
}

func TestPublisher_HoldsWhileOpen(t *testing.T) {
	client := unreachable()
	defer client.Close()

	buffered := 0
	p := NewPublisher(client, PublisherConfig{MaxFailures: 2, Cooldown: time.Hour, MaxBuffered: 2}, nil)
	p.OnBuffer = func() { buffered++ }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := p.Publish(ctx, UpdateChannel("s"), []byte(`{}`)); err == nil {
			t.Fatalf("publish %d: expected an error from an unreachable server", i)
		}
	}
	if p.Breaker().CurrentState() != StateOpen {
		t.Fatalf("expected open breaker, got %v", p.Breaker().CurrentState())
	}

	for i := 0; i < 3; i++ {
		if err := p.Publish(ctx, UpdateChannel("s"), []byte(`{}`)); err != nil {
			t.Fatalf("held publish should not fail: %v", err)
		}
	}
	if p.PendingCount() != 2 {
		t.Errorf("expected 2 pending (oldest dropped), got %d", p.PendingCount())
	}
	if buffered != 3 {
		t.Errorf("expected OnBuffer 3 times, got %d", buffered)
	}
}

func TestConnect_GivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Connect(ctx, Config{Addr: "127.0.0.1:1", ConnectTimeout: 300 * time.Millisecond}, nil)
	if err == nil {
		t.Fatal("expected connect to fail")
	}
}

// The tests below need a live server: REDIS_ADDR=localhost:6379 go test ./...
func liveClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client, err := Connect(context.Background(), Config{Addr: addr, ConnectTimeout: 2 * time.Second}, nil)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSnapshotStore_Live(t *testing.T) {
	client := liveClient(t)
	ctx := context.Background()
	store := NewSnapshotStore(client, time.Minute)
	id := "test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { client.Del(ctx, SnapshotKey(id)) })

	data, err := store.ReadSnapshotJSON(ctx, id)
	if err != nil || data != nil {
		t.Fatalf("missing snapshot: got %q, %v", data, err)
	}
	if err := store.SaveSnapshotJSON(ctx, id, []byte(`{"version":1}`)); err != nil {
		t.Fatal(err)
	}
	data, err = store.ReadSnapshotJSON(ctx, id)
	if err != nil || string(data) != `{"version":1}` {
		t.Fatalf("got %q, %v", data, err)
	}
	if ttl := client.TTL(ctx, SnapshotKey(id)).Val(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("unexpected ttl %v", ttl)
	}
}

func TestPublisher_Live(t *testing.T) {
	client := liveClient(t)
	ctx := context.Background()
	channel := UpdateChannel("test-" + time.Now().Format("150405.000000"))
	t.Cleanup(func() { client.Del(ctx, LatestKey(channel)) })

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatal(err)
	}

	p := NewPublisher(client, PublisherConfig{}, nil)
	if err := p.Publish(ctx, channel, []byte(`{"seq":1}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != `{"seq":1}` {
			t.Errorf("payload %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}
	if got := client.Get(ctx, LatestKey(channel)).Val(); got != `{"seq":1}` {
		t.Errorf("latest = %q", got)
	}
}
