package indengine

import (
	"context"
	"errors"
	"time"

	"ta-enginev1/internal/model"
	"ta-enginev1/internal/resample"
	"ta-enginev1/internal/stream"
)

const bucketCheckEvery = time.Second

func (svc *Service) newResampler(id string, tf time.Duration) (*resample.Builder, error) {
	rs, err := resample.New(tf)
	if err != nil {
		return nil, err
	}
	rs.OnStale = func(b model.Bar) {
		svc.prom.ResampledBars.WithLabelValues(id, "stale").Inc()
	}
	return rs, nil
}

func (svc *Service) resampler(id string) *resample.Builder {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.resamplers[id]
}

func (svc *Service) hasResamplers() bool {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return len(svc.resamplers) > 0
}

// apply applies one feed bar to s, through the stream's resampler when it
// has a timeframe. It reports whether the bar was taken.
func (svc *Service) apply(ctx context.Context, s *stream.Stream, b model.Bar, forming bool) bool {
	rs := svc.resampler(s.ID())
	if rs == nil {
		if forming {
			_, err := svc.peek(s, b)
			return err == nil
		}
		return svc.push(ctx, s, b)
	}

	if forming {
		preview, err := rs.Preview(b)
		if err != nil {
			return false
		}
		_, err = svc.peek(s, preview)
		return err == nil
	}

	step, err := rs.Add(b)
	if err != nil {
		svc.log.Debug("skipping old bar", "stream", s.ID(), "time", b.Time)
		return false
	}
	if step.HasClosed {
		svc.prom.ResampledBars.WithLabelValues(s.ID(), "closed").Inc()
		svc.push(ctx, s, step.Closed)
	}
	svc.peek(s, step.Forming)
	return true
}

func (svc *Service) push(ctx context.Context, s *stream.Stream, b model.Bar) bool {
	if _, err := s.Push(ctx, b); err != nil {
		if errors.Is(err, stream.ErrOutOfOrder) {
			svc.log.Debug("skipping old bar", "stream", s.ID(), "time", b.Time)
			return false
		}
		// the bar is buffered; only its compute failed
		svc.log.Warn("push failed", "stream", s.ID(), "error", err)
	}
	return true
}

// closeDueBuckets closes every forming bucket whose timeframe has ended, so
// the last bar of a session does not wait for the next session's first bar.
func (svc *Service) closeDueBuckets(ctx context.Context, now time.Time) int {
	closed := 0
	for _, s := range svc.Streams() {
		rs := svc.resampler(s.ID())
		if rs == nil {
			continue
		}
		if b, ok := rs.CloseDue(now); ok {
			svc.prom.ResampledBars.WithLabelValues(s.ID(), "closed").Inc()
			svc.push(ctx, s, b)
			closed++
		}
	}
	return closed
}

func (svc *Service) runBucketCloser(ctx context.Context) error {
	ticker := time.NewTicker(bucketCheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			svc.closeDueBuckets(ctx, now)
		}
	}
}

// resampleStored turns stored feed bars into closed timeframe bars for s,
// leaving the trailing bucket forming in the stream's resampler. Bars up to
// after are skipped. Streams without a timeframe get stored back unchanged.
func (svc *Service) resampleStored(s *stream.Stream, stored []model.Bar, after time.Time) []model.Bar {
	rs := svc.resampler(s.ID())
	if rs == nil {
		if after.IsZero() {
			return stored
		}
		var out []model.Bar
		for _, b := range stored {
			if b.Time.After(after) {
				out = append(out, b)
			}
		}
		return out
	}

	if !after.IsZero() {
		rs.Skip(after)
	}
	var out []model.Bar
	for _, b := range stored {
		if !b.Time.After(after) {
			continue
		}
		step, err := rs.Add(b)
		if err != nil {
			continue
		}
		if step.HasClosed {
			out = append(out, step.Closed)
		}
	}
	return out
}
