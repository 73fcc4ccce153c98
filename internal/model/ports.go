package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the streaming façade and the service from the
// concrete stores (Redis, SQLite). Each implementation satisfies one or more.

// BarReader loads historical bars used to warm up stream buffers.
type BarReader interface {
	// ReadBars returns the most recent limit bars for symbol in time order.
	// limit <= 0 means all bars.
	ReadBars(ctx context.Context, symbol string, limit int) (Series, error)

	// Close releases underlying resources.
	Close() error
}

// BarWriter stores imported bars.
type BarWriter interface {
	// WriteBars upserts bars for symbol in a single transaction.
	WriteBars(ctx context.Context, symbol string, bars []Bar) error

	// Close releases underlying resources.
	Close() error
}

// SnapshotStore reads and writes stream snapshots as raw JSON.
// Using []byte avoids a model→stream→model import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded stream snapshot under id.
	SaveSnapshotJSON(ctx context.Context, id string, data []byte) error

	// ReadSnapshotJSON loads the latest snapshot for id.
	// Returns nil, nil if no snapshot exists.
	ReadSnapshotJSON(ctx context.Context, id string) ([]byte, error)
}

// UpdatePublisher pushes encoded stream updates to subscribers.
type UpdatePublisher interface {
	// Publish sends payload on channel. Delivery is best-effort.
	Publish(ctx context.Context, channel string, payload []byte) error
}
