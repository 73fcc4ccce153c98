// Package stream keeps a bounded window of bars per instrument and recomputes
// one indicator over it as bars arrive.
//
// Every recompute is from scratch over the retained window. Small windows are
// computed on the caller's goroutine; windows longer than the offload
// threshold go to a worker pool and are applied when the reply arrives.
// Replies are never cancelled and may arrive out of order. Each recompute
// takes a sequence number when its input is captured, and only a reply newer
// than the last applied one replaces Latest.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/metrics"
	"ta-enginev1/internal/model"
	"ta-enginev1/internal/ringbuf"
	"ta-enginev1/internal/vwap"
	"ta-enginev1/internal/worker"
)

const (
	DefaultBufferSize       = 1000
	DefaultOffloadThreshold = 1000
)

// Recompute triggers, also used as the metrics label.
const (
	TriggerPush    = "push"
	TriggerPoll    = "poll"
	TriggerParams  = "params"
	TriggerRestore = "restore"
	TriggerWarmup  = "warmup"
	TriggerManual  = "manual"
	TriggerPeek    = "peek"
)

// ErrOutOfOrder is returned by Push for a bar that is not newer than the
// last buffered bar.
var ErrOutOfOrder = errors.New("bar is not newer than the last bar")

// Config declares one stream.
type Config struct {
	ID        string
	Symbol    string
	Indicator string
	Params    model.ParamMap

	BufferSize       int           // default 1000
	OffloadThreshold int           // windows longer than this go to the pool; default 1000
	PollInterval     time.Duration // 0 disables polling; rounded up to 1s

	// VWAP enables an incremental VWAP alongside the indicator.
	VWAP *vwap.Params
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.OffloadThreshold <= 0 {
		c.OffloadThreshold = DefaultOffloadThreshold
	}
	if c.Symbol == "" {
		c.Symbol = c.ID
	}
	return c
}

// Submitter is the part of worker.Pool a stream needs.
type Submitter interface {
	Submit(ctx context.Context, req worker.Request) (*worker.Future, error)
}

// Deps are the collaborators of a stream. All are optional; without a Pool
// every recompute runs inline.
type Deps struct {
	Pool     Submitter
	Metrics  *metrics.Metrics
	Log      *slog.Logger
	OnUpdate func(Update)
}

// Update is one applied recompute.
type Update struct {
	Stream  string        `json:"stream"`
	Symbol  string        `json:"symbol"`
	Seq     uint64        `json:"seq"`
	Trigger string        `json:"trigger"`
	Bars    int           `json:"bars"`
	Time    time.Time     `json:"time"` // last bar in the window
	Result  *model.Result `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
	VWAP    *vwap.Point   `json:"vwap,omitempty"`

	// Forming marks a Peek over a bar that has not closed yet.
	Forming bool `json:"forming,omitempty"`

	Offloaded bool `json:"offloaded,omitempty"`

	// Emitted is when the update was applied, for fan-out latency.
	Emitted time.Time `json:"emitted_at"`
}

// Stream is safe for concurrent use.
type Stream struct {
	cfg  Config
	buf  *ringbuf.Buffer
	pool Submitter
	m    *metrics.Metrics
	log  *slog.Logger

	mu       sync.Mutex
	calc     *indicator.Calculator
	vwap     *vwap.Calculator
	vwapLast *vwap.Point
	seq      uint64
	applied  uint64
	latest   Update
	hasLast  bool
	onUpdate func(Update)

	cron     *cron.Cron
	inflight sync.WaitGroup
}

// New validates the indicator and parameters up front so that a stream never
// exists in an unusable configuration.
func New(cfg Config, deps Deps) (*Stream, error) {
	if cfg.ID == "" {
		return nil, errors.New("stream: empty id")
	}
	cfg = cfg.withDefaults()
	calc, err := indicator.New(cfg.Indicator, cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", cfg.ID, err)
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Stream{
		cfg:      cfg,
		buf:      ringbuf.New(cfg.BufferSize),
		pool:     deps.Pool,
		m:        deps.Metrics,
		log:      log.With("stream", cfg.ID),
		calc:     calc,
		onUpdate: deps.OnUpdate,
	}
	if cfg.VWAP != nil {
		s.vwap = vwap.NewCalculator(*cfg.VWAP)
	}
	return s, nil
}

// ID returns the stream id.
func (s *Stream) ID() string { return s.cfg.ID }

// Symbol returns the instrument the stream follows.
func (s *Stream) Symbol() string { return s.cfg.Symbol }

// Config returns the stream configuration with the effective indicator
// parameters.
func (s *Stream) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg
	cfg.Indicator = s.calc.Kind().String()
	cfg.Params = s.calc.Params()
	return cfg
}

// Len returns the number of buffered bars.
func (s *Stream) Len() int { return s.buf.Len() }

// Bars returns a copy of the buffered bars, oldest first.
func (s *Stream) Bars() []model.Bar { return s.buf.Bars() }

// OnUpdate replaces the update callback. The callback runs outside the
// stream lock and may observe updates in a different order than their Seq.
func (s *Stream) OnUpdate(fn func(Update)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Push appends a closed bar, evicting the oldest when full, and recomputes.
// It returns the sequence number of the recompute.
func (s *Stream) Push(ctx context.Context, b model.Bar) (uint64, error) {
	s.mu.Lock()
	if last, ok := s.buf.Last(); ok && !b.Time.After(last.Time) {
		s.mu.Unlock()
		return 0, fmt.Errorf("stream %s: %w: %s <= %s", s.cfg.ID, ErrOutOfOrder,
			b.Time.Format(time.RFC3339), last.Time.Format(time.RFC3339))
	}
	if _, evicted := s.buf.Push(b); evicted && s.m != nil {
		s.m.BufferEvictions.WithLabelValues(s.cfg.ID).Inc()
	}
	s.pushVWAP(b)
	s.mu.Unlock()

	return s.Recompute(ctx, TriggerPush)
}

// pushVWAP must be called with mu held.
func (s *Stream) pushVWAP(b model.Bar) {
	if s.vwap == nil {
		return
	}
	pt := s.vwap.Push(b)
	s.vwapLast = &pt
	if pt.Reset {
		if s.m != nil {
			s.m.VWAPSessionResets.WithLabelValues(s.cfg.ID).Inc()
		}
		s.log.Debug("vwap session reset", "at", pt.Time)
	}
}

// Recompute runs the indicator over the current window. Offloaded work is
// applied asynchronously; the returned sequence identifies it.
func (s *Stream) Recompute(ctx context.Context, trigger string) (uint64, error) {
	s.mu.Lock()
	series := s.buf.Series()
	calc := s.calc
	s.seq++
	seq := s.seq
	var pt *vwap.Point
	if s.vwapLast != nil {
		cp := *s.vwapLast
		pt = &cp
	}
	s.mu.Unlock()

	if s.m != nil {
		s.m.Recomputes.WithLabelValues(s.cfg.ID, trigger).Inc()
	}
	base := s.update(seq, trigger, series)
	base.VWAP = pt

	if s.pool != nil && series.Len() > s.cfg.OffloadThreshold {
		return seq, s.offload(ctx, base, calc, series)
	}

	start := time.Now()
	res, err := calc.Calculate(series)
	s.observe(calc, time.Since(start), err)
	if err != nil {
		base.Error = err.Error()
	} else {
		base.Result = &res
	}
	s.apply(base)
	if err != nil {
		return seq, fmt.Errorf("stream %s: %w", s.cfg.ID, err)
	}
	return seq, nil
}

func (s *Stream) offload(ctx context.Context, u Update, calc *indicator.Calculator, series model.Series) error {
	start := time.Now()
	f, err := s.pool.Submit(ctx, worker.Request{
		ID:        u.Seq,
		Indicator: calc.Kind().String(),
		Data:      series,
		Params:    calc.Params(),
	})
	if err != nil {
		return fmt.Errorf("stream %s: offload: %w", s.cfg.ID, err)
	}
	u.Offloaded = true

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		resp, _ := f.Wait(context.Background())
		s.observe(calc, time.Since(start), resp.Err())
		u.Result = resp.Result
		u.Error = resp.Error
		s.apply(u)
	}()
	return nil
}

func (s *Stream) observe(calc *indicator.Calculator, d time.Duration, err error) {
	if s.m == nil {
		return
	}
	name := calc.Kind().String()
	s.m.ComputeDur.WithLabelValues(name).Observe(d.Seconds())
	if err != nil {
		s.m.ComputeErrors.WithLabelValues(name).Inc()
	}
}

func (s *Stream) update(seq uint64, trigger string, series model.Series) Update {
	u := Update{
		Stream:  s.cfg.ID,
		Symbol:  s.cfg.Symbol,
		Seq:     seq,
		Trigger: trigger,
		Bars:    series.Len(),
	}
	if n := len(series.Time); n > 0 {
		u.Time = series.Time[n-1]
	}
	return u
}

// apply installs u unless a newer update is already in place.
func (s *Stream) apply(u Update) bool {
	s.mu.Lock()
	if s.hasLast && u.Seq <= s.applied {
		s.mu.Unlock()
		if s.m != nil {
			s.m.StaleUpdates.Inc()
		}
		s.log.Debug("dropped stale update", "seq", u.Seq, "applied", s.applied)
		return false
	}
	s.applied = u.Seq
	u.Emitted = time.Now().UTC()
	s.latest = u
	s.hasLast = true
	cb := s.onUpdate
	s.mu.Unlock()

	if u.Error != "" {
		s.log.Warn("recompute failed", "seq", u.Seq, "trigger", u.Trigger, "error", u.Error)
	}
	if cb != nil {
		cb(u)
	}
	return true
}

// Latest returns the newest applied update.
func (s *Stream) Latest() (Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasLast
}

// Peek computes over the window plus a bar that is still forming. Nothing is
// buffered and Latest is not touched. It always runs inline.
func (s *Stream) Peek(b model.Bar) (Update, error) {
	s.mu.Lock()
	bars := s.buf.Bars()
	calc := s.calc
	var pt *vwap.Point
	if s.vwap != nil {
		p := s.vwap.Peek(b)
		pt = &p
	}
	s.mu.Unlock()

	if n := len(bars); n > 0 && !b.Time.After(bars[n-1].Time) {
		return Update{}, fmt.Errorf("stream %s: %w", s.cfg.ID, ErrOutOfOrder)
	}
	// the window stays at capacity, as it would once the bar closes
	if len(bars) >= s.buf.Cap() {
		bars = bars[1:]
	}
	series := model.SeriesFromBars(append(bars, b))

	u := s.update(0, TriggerPeek, series)
	u.Forming = true
	u.VWAP = pt
	u.Emitted = time.Now().UTC()
	res, err := calc.Calculate(series)
	if err != nil {
		u.Error = err.Error()
		return u, fmt.Errorf("stream %s: %w", s.cfg.ID, err)
	}
	u.Result = &res
	return u, nil
}

// SetParams swaps the indicator parameters and recomputes. Buffered bars are
// kept. On error the previous configuration stays in place.
func (s *Stream) SetParams(ctx context.Context, params model.ParamMap) (uint64, error) {
	return s.reconfigure(ctx, "", params)
}

// SetIndicator switches the stream to another indicator, keeping the buffer.
func (s *Stream) SetIndicator(ctx context.Context, name string, params model.ParamMap) (uint64, error) {
	if name == "" {
		return 0, fmt.Errorf("stream %s: %w: empty name", s.cfg.ID, indicator.ErrUnknownIndicator)
	}
	return s.reconfigure(ctx, name, params)
}

func (s *Stream) reconfigure(ctx context.Context, name string, params model.ParamMap) (uint64, error) {
	s.mu.Lock()
	kind := s.calc.Kind()
	s.mu.Unlock()

	var (
		calc *indicator.Calculator
		err  error
	)
	if name == "" {
		calc, err = indicator.NewKind(kind, params)
	} else {
		calc, err = indicator.New(name, params)
	}
	if err != nil {
		return 0, fmt.Errorf("stream %s: %w", s.cfg.ID, err)
	}

	s.mu.Lock()
	s.calc = calc
	s.mu.Unlock()
	s.log.Info("stream reconfigured", "indicator", calc.Kind().String(), "params", calc.Params(), "bars", s.buf.Len())
	return s.Recompute(ctx, TriggerParams)
}

// Warm loads historical bars without recomputing per bar, then recomputes
// once. Bars are sorted by time and bars not newer than their predecessor
// are skipped. Existing state is replaced.
func (s *Stream) Warm(ctx context.Context, bars []model.Bar) (uint64, error) {
	s.load(bars)
	return s.Recompute(ctx, TriggerWarmup)
}

func (s *Stream) load(bars []model.Bar) {
	bars = sortedUnique(bars)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
	if skipped := s.buf.Load(bars); skipped > 0 && s.m != nil {
		s.m.BufferEvictions.WithLabelValues(s.cfg.ID).Add(float64(skipped))
	}
	if s.vwap != nil {
		s.vwap.Reset()
		s.vwapLast = nil
		for _, b := range bars {
			s.pushVWAP(b)
		}
	}
}

// Start enables polling auto-recompute when PollInterval is set. Ticks that
// arrive while the previous poll is still running are skipped.
func (s *Stream) Start(ctx context.Context) error {
	if s.cfg.PollInterval <= 0 {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := "@every " + s.cfg.PollInterval.String()
	if _, err := c.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Recompute(ctx, TriggerPoll); err != nil {
			s.log.Warn("poll recompute failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("stream %s: poll schedule %q: %w", s.cfg.ID, spec, err)
	}

	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return nil
	}
	s.cron = c
	s.mu.Unlock()

	c.Start()
	s.log.Info("polling enabled", "every", s.cfg.PollInterval)
	return nil
}

// Stop halts polling and waits for running polls and offloaded replies.
func (s *Stream) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	s.inflight.Wait()
}

// Wait blocks until every offloaded recompute has been applied or dropped.
func (s *Stream) Wait() { s.inflight.Wait() }
