package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ta-enginev1/internal/model"
)

// ReadBars implements model.BarReader: the newest limit bars of symbol in
// ascending time order. limit <= 0 reads everything.
func (s *Store) ReadBars(ctx context.Context, symbol string, limit int) (model.Series, error) {
	bars, err := s.ReadBarRows(ctx, symbol, limit)
	if err != nil {
		return model.Series{}, err
	}
	return model.SeriesFromBars(bars), nil
}

// ReadBarRows is ReadBars in row form.
func (s *Store) ReadBarRows(ctx context.Context, symbol string, limit int) ([]model.Bar, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume
			FROM bars
			WHERE symbol = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var (
			b  model.Bar
			ms int64
		)
		if err := rows.Scan(&ms, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.Time = time.UnixMilli(ms).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LastBarTime returns the time of symbol's newest bar, or the zero time.
func (s *Store) LastBarTime(ctx context.Context, symbol string) (time.Time, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM bars WHERE symbol = ?`, symbol).Scan(&ms)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite last bar %s: %w", symbol, err)
	}
	if !ms.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms.Int64).UTC(), nil
}

// Symbols lists the symbols that have bars, with their bar counts.
func (s *Store) Symbols(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, COUNT(*) FROM bars GROUP BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			sym string
			n   int
		)
		if err := rows.Scan(&sym, &n); err != nil {
			return nil, fmt.Errorf("sqlite scan symbols: %w", err)
		}
		out[sym] = n
	}
	return out, rows.Err()
}

// ReadSnapshotJSON implements model.SnapshotStore. It returns nil, nil when
// the stream has no snapshot.
func (s *Store) ReadSnapshotJSON(ctx context.Context, id string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM stream_snapshots
		WHERE stream_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read snapshot %s: %w", id, err)
	}
	return []byte(data), nil
}
