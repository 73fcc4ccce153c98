package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/multierr"

	"ta-enginev1/internal/model"
)

// SnapshotVersion is the schema version written by Snapshot.
const SnapshotVersion = 1

// ErrSnapshotMismatch is returned by Restore for a snapshot of another
// stream or an unknown schema version.
var ErrSnapshotMismatch = errors.New("snapshot does not match stream")

// Snapshot is the persisted state of a stream: its window of bars plus the
// configuration it was computed with. Results are not persisted; they are
// recomputed on restore.
type Snapshot struct {
	Version   int            `json:"version"`
	ID        string         `json:"id"`
	Symbol    string         `json:"symbol"`
	Indicator string         `json:"indicator"`
	Params    model.ParamMap `json:"params,omitempty"`
	Seq       uint64         `json:"seq"`
	Bars      []model.Bar    `json:"bars"`
	TakenAt   time.Time      `json:"taken_at"`
}

// Snapshot captures the current window and configuration.
func (s *Stream) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Version:   SnapshotVersion,
		ID:        s.cfg.ID,
		Symbol:    s.cfg.Symbol,
		Indicator: s.calc.Kind().String(),
		Params:    s.calc.Params(),
		Seq:       s.seq,
		Bars:      s.buf.Bars(),
		TakenAt:   time.Now().UTC(),
	}
}

// Restore replaces the window with the snapshot's bars and recomputes.
// The configured indicator wins over the one recorded in the snapshot, so a
// changed config is picked up on restart. Sequence numbers continue from the
// snapshot.
func (s *Stream) Restore(ctx context.Context, snap Snapshot) (uint64, error) {
	if snap.Version != SnapshotVersion {
		return 0, fmt.Errorf("stream %s: %w: version %d", s.cfg.ID, ErrSnapshotMismatch, snap.Version)
	}
	if snap.ID != s.cfg.ID {
		return 0, fmt.Errorf("stream %s: %w: id %q", s.cfg.ID, ErrSnapshotMismatch, snap.ID)
	}

	s.load(snap.Bars)
	s.mu.Lock()
	if snap.Seq > s.seq {
		s.seq = snap.Seq
	}
	kind := s.calc.Kind().String()
	s.mu.Unlock()

	if snap.Indicator != "" && snap.Indicator != kind {
		s.log.Info("snapshot taken with another indicator, using configured one",
			"snapshot", snap.Indicator, "configured", kind)
	}
	s.log.Info("stream restored", "bars", s.buf.Len(), "taken_at", snap.TakenAt)
	return s.Recompute(ctx, TriggerRestore)
}

// MarshalSnapshot encodes a snapshot for a model.SnapshotStore.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// UnmarshalSnapshot decodes data written by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// SaveTo writes the current snapshot to store.
func (s *Stream) SaveTo(ctx context.Context, store model.SnapshotStore) error {
	data, err := MarshalSnapshot(s.Snapshot())
	if err != nil {
		return err
	}
	return store.SaveSnapshotJSON(ctx, s.cfg.ID, data)
}

// RestoreFrom tries each store in order and restores from the first one that
// has a snapshot for this stream. It reports whether a snapshot was found;
// read errors are collected and the next store is tried.
func (s *Stream) RestoreFrom(ctx context.Context, stores ...model.SnapshotStore) (bool, error) {
	var errs []error
	for _, store := range stores {
		if store == nil {
			continue
		}
		data, err := store.ReadSnapshotJSON(ctx, s.cfg.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if data == nil {
			continue
		}
		snap, err := UnmarshalSnapshot(data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := s.Restore(ctx, snap); err != nil {
			errs = append(errs, err)
			continue
		}
		return true, multierr.Combine(errs...)
	}
	return false, multierr.Combine(errs...)
}

// sortedUnique returns bars ordered by time with non-increasing timestamps
// dropped. The input is not modified.
func sortedUnique(bars []model.Bar) []model.Bar {
	out := slices.Clone(bars)
	slices.SortStableFunc(out, func(a, b model.Bar) int { return a.Time.Compare(b.Time) })
	kept := out[:0]
	for i, b := range out {
		if i > 0 && !b.Time.After(kept[len(kept)-1].Time) {
			continue
		}
		kept = append(kept, b)
	}
	return kept
}
