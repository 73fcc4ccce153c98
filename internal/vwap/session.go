// Package vwap computes session-anchored VWAP with volume-weighted standard
// deviation bands.
//
// A Session is an immutable value: Append returns the next session and
// leaves the receiver untouched, so a session handed to a caller can never
// change underneath it. Calculator drives sessions bar by bar and replaces
// the session whenever its boundary rule fires.
package vwap

import (
	"math"
	"slices"
	"time"

	"ta-enginev1/internal/model"
)

// Session accumulates one reset interval.
type Session struct {
	start  time.Time
	cumTPV float64
	cumVol float64

	// per-bar history, needed because the deviation of each bar is taken
	// against the VWAP that was current when that bar arrived
	tps   []float64
	vols  []float64
	vwaps []float64
}

// NewSession returns an empty session anchored at start.
func NewSession(start time.Time) Session {
	return Session{start: start}
}

// Start returns the time of the session's first bar.
func (s Session) Start() time.Time { return s.start }

// Len returns the number of bars in the session.
func (s Session) Len() int { return len(s.tps) }

// CumulativeVolume returns the session's total volume.
func (s Session) CumulativeVolume() float64 { return s.cumVol }

// VWAP returns the current session VWAP, or NaN for an empty session.
func (s Session) VWAP() float64 {
	if len(s.vwaps) == 0 {
		return math.NaN()
	}
	return s.vwaps[len(s.vwaps)-1]
}

// StdDev returns the volume-weighted deviation of every typical price in the
// session from its contemporaneous VWAP. It is 0 when the session has no
// volume.
func (s Session) StdDev() float64 {
	if s.cumVol == 0 {
		return 0
	}
	var acc float64
	for j, tp := range s.tps {
		d := tp - s.vwaps[j]
		acc += s.vols[j] * d * d
	}
	return math.Sqrt(acc / s.cumVol)
}

// Append folds one bar into the session and returns the new session. The
// receiver's history is clipped before appending so the two values never
// share a backing array.
func (s Session) Append(b model.Bar) Session {
	tp := b.TypicalPrice()
	next := Session{
		start:  s.start,
		cumTPV: s.cumTPV + tp*b.Volume,
		cumVol: s.cumVol + b.Volume,
		tps:    append(slices.Clip(s.tps), tp),
		vols:   append(slices.Clip(s.vols), b.Volume),
	}
	if next.start.IsZero() {
		next.start = b.Time
	}
	vwap := tp
	if next.cumVol != 0 {
		vwap = next.cumTPV / next.cumVol
	}
	next.vwaps = append(slices.Clip(s.vwaps), vwap)
	return next
}
