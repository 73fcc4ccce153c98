package indengine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"ta-enginev1/internal/model"
	"ta-enginev1/internal/stream"
)

// restoreAll brings every stream back: from the newest snapshot (Redis
// first, then SQLite) plus any bars stored since, or else by warming up
// from stored bars.
func (svc *Service) restoreAll(ctx context.Context) {
	for _, s := range svc.Streams() {
		svc.restoreStream(ctx, s)
	}
}

func (svc *Service) restoreStream(ctx context.Context, s *stream.Stream) {
	log := svc.log.With("stream", s.ID())
	_, stores := svc.snapshotStores()

	restored, err := s.RestoreFrom(ctx, stores...)
	if err != nil {
		log.Warn("snapshot restore problems", "error", err)
	}

	svc.mu.RLock()
	warmup := svc.decls[s.ID()].WarmupBars
	svc.mu.RUnlock()
	if warmup <= 0 {
		warmup = stream.DefaultBufferSize
	}

	var reader model.BarReader
	if svc.sqlStore != nil {
		reader = svc.sqlStore
	}
	if reader == nil {
		if restored {
			log.Info("restored from snapshot", "bars", s.Len())
		}
		return
	}

	series, err := reader.ReadBars(ctx, s.Symbol(), warmup)
	if err != nil {
		log.Warn("read stored bars failed", "error", err)
		return
	}
	stored := series.Bars()

	var (
		have  []model.Bar
		after time.Time
	)
	if restored {
		have = s.Bars()
		if len(have) > 0 {
			after = have[len(have)-1].Time
			if rs := svc.resampler(s.ID()); rs != nil {
				// the last restored bar is a closed bucket
				after = after.Add(rs.Timeframe() - time.Millisecond)
			}
		}
	}
	bars := svc.resampleStored(s, stored, after)

	if !restored {
		if len(bars) == 0 {
			log.Info("cold start, no stored bars")
			return
		}
		if _, err := s.Warm(ctx, bars); err != nil {
			log.Warn("warm-up compute failed", "error", err)
		}
		log.Info("warmed up from stored bars", "bars", s.Len(), "stored", len(stored))
		return
	}

	// replay the bars that arrived after the snapshot was taken
	if len(bars) > 0 {
		if _, err := s.Warm(ctx, append(have, bars...)); err != nil {
			log.Warn("delta replay compute failed", "error", err)
		}
	}
	log.Info("restored from snapshot", "bars", s.Len(), "delta", len(bars))
}

// startSnapshots schedules snapshotAll every SnapshotInterval.
func (svc *Service) startSnapshots(ctx context.Context) error {
	names, _ := svc.snapshotStores()
	if len(names) == 0 {
		svc.log.Info("no snapshot store configured, snapshots disabled")
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+svc.cfg.SnapshotInterval.String(), func() {
		if ctx.Err() != nil {
			return
		}
		svc.snapshotAll(ctx)
	}); err != nil {
		return err
	}
	svc.snapCron = c
	c.Start()
	svc.log.Info("snapshot checkpoint scheduled", "every", svc.cfg.SnapshotInterval, "stores", names)
	return nil
}

// snapshotAll writes every non-empty stream to every store.
func (svc *Service) snapshotAll(ctx context.Context) {
	names, stores := svc.snapshotStores()
	saved := 0
	for _, s := range svc.Streams() {
		if s.Len() == 0 {
			continue
		}
		for i, store := range stores {
			result := "ok"
			if err := s.SaveTo(ctx, store); err != nil {
				result = "error"
				svc.log.Warn("snapshot write failed", "stream", s.ID(), "store", names[i], "error", err)
			}
			svc.prom.SnapshotWrites.WithLabelValues(names[i], result).Inc()
		}
		saved++
	}
	if saved > 0 {
		svc.log.Debug("checkpoint saved", "streams", saved)
	}
}
