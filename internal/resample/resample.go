// Package resample buckets bars of one symbol into a longer timeframe.
//
// A Builder keeps one forming bucket. Bars are merged into it in O(1); when
// a bar lands in a later bucket the forming one is closed and handed back.
// Buckets are aligned to the Unix epoch, so a 15m timeframe starts at :00,
// :15, :30 and :45.
package resample

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"ta-enginev1/internal/model"
)

// ErrStale is returned for a bar that is not newer than the last bar the
// builder accepted.
var ErrStale = errors.New("stale bar")

// DefaultGrace is how long past its end a bucket waits for late bars
// before CloseDue closes it.
const DefaultGrace = 2 * time.Second

// Step is the outcome of one Add.
type Step struct {
	// Closed is the bucket that the bar ended, valid when HasClosed.
	Closed    model.Bar
	HasClosed bool

	// Forming is the bucket holding the bar, after the merge.
	Forming model.Bar
}

// Builder resamples into one timeframe. It is safe for concurrent use.
type Builder struct {
	tf    time.Duration
	grace time.Duration

	mu      sync.Mutex
	forming model.Bar
	bucket  time.Time
	last    time.Time
	started bool

	// OnStale is called for every rejected bar (optional).
	OnStale func(b model.Bar)
}

// New returns a builder for timeframe tf, which must be positive.
func New(tf time.Duration) (*Builder, error) {
	if tf <= 0 {
		return nil, fmt.Errorf("resample: timeframe must be positive, got %s", tf)
	}
	return &Builder{tf: tf, grace: DefaultGrace}, nil
}

// Timeframe returns the bucket width.
func (b *Builder) Timeframe() time.Duration { return b.tf }

// BucketStart returns the start of the bucket holding t.
func (b *Builder) BucketStart(t time.Time) time.Time {
	ms := t.UnixMilli()
	width := b.tf.Milliseconds()
	return time.UnixMilli(ms - ms%width).UTC()
}

// Add merges bar into its bucket.
func (b *Builder) Add(bar model.Bar) (Step, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(bar); err != nil {
		return Step{}, err
	}
	var step Step
	bucket := b.BucketStart(bar.Time)
	if b.started && bucket.After(b.bucket) {
		step.Closed, step.HasClosed = b.forming, true
		b.started = false
	}
	if !b.started {
		b.bucket = bucket
		b.forming = open(bucket, bar)
		b.started = true
	} else {
		b.forming = merge(b.forming, bar)
	}
	b.last = bar.Time
	step.Forming = b.forming
	return step, nil
}

// Preview returns the forming bucket as it would be with bar merged,
// without keeping the bar. Bars of a later bucket preview a fresh bucket.
func (b *Builder) Preview(bar model.Bar) (model.Bar, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.check(bar); err != nil {
		return model.Bar{}, err
	}
	bucket := b.BucketStart(bar.Time)
	if !b.started || bucket.After(b.bucket) {
		return open(bucket, bar), nil
	}
	return merge(b.forming, bar), nil
}

// CloseDue closes the forming bucket once now is past its end plus the
// grace period. Bars for a closed bucket are stale afterwards.
func (b *Builder) CloseDue(now time.Time) (model.Bar, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started || now.Before(b.bucket.Add(b.tf+b.grace)) {
		return model.Bar{}, false
	}
	closed := b.forming
	b.started = false
	if end := b.bucket.Add(b.tf - time.Millisecond); end.After(b.last) {
		b.last = end
	}
	return closed, true
}

// Forming returns the forming bucket, if any.
func (b *Builder) Forming() (model.Bar, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.forming, b.started
}

// Skip marks every bar up to and including t as already applied, so a
// builder can resume behind restored state.
func (b *Builder) Skip(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.After(b.last) {
		b.last = t
	}
}

func (b *Builder) check(bar model.Bar) error {
	if !b.last.IsZero() && !bar.Time.After(b.last) {
		if b.OnStale != nil {
			b.OnStale(bar)
		}
		return fmt.Errorf("%w: %s not after %s", ErrStale,
			bar.Time.Format(time.RFC3339), b.last.Format(time.RFC3339))
	}
	return nil
}

func open(bucket time.Time, bar model.Bar) model.Bar {
	bar.Time = bucket
	return bar
}

func merge(f, bar model.Bar) model.Bar {
	if bar.High > f.High {
		f.High = bar.High
	}
	if bar.Low < f.Low {
		f.Low = bar.Low
	}
	f.Close = bar.Close
	f.Volume += bar.Volume
	return f
}

// Bars resamples a whole series. The trailing bucket is included even if
// more bars could still fall into it. Stale bars fail the call.
func Bars(bars []model.Bar, tf time.Duration) ([]model.Bar, error) {
	b, err := New(tf)
	if err != nil {
		return nil, err
	}
	out := make([]model.Bar, 0, len(bars))
	for _, bar := range bars {
		step, err := b.Add(bar)
		if err != nil {
			return nil, err
		}
		if step.HasClosed {
			out = append(out, step.Closed)
		}
	}
	if f, ok := b.Forming(); ok {
		out = append(out, f)
	}
	return out, nil
}
