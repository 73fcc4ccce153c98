// Package sqlite stores imported bars for warm-up and keeps the durable
// copy of stream snapshots.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ta-enginev1/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond

	// snapshots kept per stream
	snapshotRetention = 10
)

// Config configures the SQLite store.
type Config struct {
	Path string // database file, e.g. "data/bars.db"
}

// Store is a SQLite database of bars and stream snapshots. A single
// connection serialises writers; WAL keeps readers unblocked.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// BarRecord is one bar of one symbol, as queued to Run.
type BarRecord struct {
	Symbol string
	Bar    model.Bar
}

// Open opens (creating if needed) the database at cfg.Path and applies the
// schema.
func Open(cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Info("sqlite opened", "path", cfg.Path)
	return &Store{db: db, log: log.With("component", "sqlite")}, nil
}

// DB returns the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS stream_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			stream_id  TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_stream_snapshots_stream
			ON stream_snapshots (stream_id, id);
	`)
	return err
}

// WriteBars upserts bars for symbol in one transaction. Bars are keyed by
// (symbol, time in milliseconds); a later write for the same bar wins.
func (s *Store) WriteBars(ctx context.Context, symbol string, bars []model.Bar) error {
	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = BarRecord{Symbol: symbol, Bar: b}
	}
	return s.insertBatch(ctx, records)
}

func (s *Store) insertBatch(ctx context.Context, records []BarRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		b := r.Bar
		if _, err := stmt.ExecContext(ctx, r.Symbol, b.Time.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert bar %s@%d: %w", r.Symbol, b.Time.UnixMilli(), err)
		}
	}
	return tx.Commit()
}

// Run drains ch into the bars table in batched transactions, flushing every
// defaultBatchSize records or defaultFlushDelay, whichever comes first. It
// blocks until ctx is done or ch is closed, flushing what it holds.
func (s *Store) Run(ctx context.Context, ch <-chan BarRecord) {
	batch := make([]BarRecord, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// the batch must land even when ctx is already cancelled
		if err := s.insertBatch(context.Background(), batch); err != nil {
			s.log.Error("bar batch insert failed", "count", len(batch), "error", err)
		} else {
			s.log.Debug("bar batch committed", "count", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// take what is already queued, then stop
			for {
				select {
				case r, ok := <-ch:
					if !ok {
						flush()
						return
					}
					batch = append(batch, r)
				default:
					flush()
					return
				}
			}
		case r, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// SaveSnapshotJSON implements model.SnapshotStore. Only the newest
// snapshots of each stream are retained.
func (s *Store) SaveSnapshotJSON(ctx context.Context, id string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stream_snapshots (stream_id, data, created_at) VALUES (?, ?, ?)`,
		id, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot %s: %w", id, err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM stream_snapshots
		WHERE stream_id = ? AND id NOT IN (
			SELECT id FROM stream_snapshots WHERE stream_id = ? ORDER BY id DESC LIMIT ?
		)`, id, id, snapshotRetention)
	if err != nil {
		s.log.Warn("prune snapshots failed", "stream", id, "error", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
