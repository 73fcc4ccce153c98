package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	snapshotKeyPrefix  = "stream:snapshot:"
	defaultSnapshotTTL = 24 * time.Hour
)

// SnapshotKey is the Redis key holding the snapshot of stream id.
func SnapshotKey(id string) string { return snapshotKeyPrefix + id }

// SnapshotStore keeps the latest snapshot of each stream under a TTL. It is
// the fast restore path; SQLite holds the durable copy.
type SnapshotStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewSnapshotStore wraps client. ttl <= 0 means 24h.
func NewSnapshotStore(client *goredis.Client, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &SnapshotStore{client: client, ttl: ttl}
}

// SaveSnapshotJSON implements model.SnapshotStore.
func (s *SnapshotStore) SaveSnapshotJSON(ctx context.Context, id string, data []byte) error {
	if err := s.client.Set(ctx, SnapshotKey(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot %s: %w", id, err)
	}
	return nil
}

// ReadSnapshotJSON implements model.SnapshotStore. A missing key is not an
// error.
func (s *SnapshotStore) ReadSnapshotJSON(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, SnapshotKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", id, err)
	}
	return data, nil
}
