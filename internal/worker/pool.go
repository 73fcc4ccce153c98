// Package worker runs indicator computations off the caller's goroutine.
//
// Jobs are submitted to a bounded queue and answered through a Future.
// There is no cancellation: once a job is queued it runs to completion and
// its Future is resolved. A context passed to Submit or Wait only bounds how
// long the caller is willing to block. Replies for different jobs may
// resolve in any order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/metrics"
	"ta-enginev1/internal/model"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Request is the job message: which indicator to run over which data.
type Request struct {
	ID        uint64         `json:"id"`
	Indicator string         `json:"indicator"`
	Data      model.Series   `json:"data"`
	Params    model.ParamMap `json:"params,omitempty"`
}

// Response carries either a result or an error string, never both.
type Response struct {
	ID     uint64        `json:"id"`
	Result *model.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Err returns the response error, or nil on success.
func (r Response) Err() error {
	if r.Error == "" {
		return nil
	}
	return errors.New(r.Error)
}

// Handler turns a request into a response.
type Handler func(Request) Response

// Handle computes the requested indicator. Unknown indicators, missing
// fields and bad parameters come back as Response.Error.
func Handle(req Request) Response {
	res, err := indicator.Compute(req.Indicator, req.Data, req.Params)
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}
	return Response{ID: req.ID, Result: &res}
}

// Future resolves exactly once with the job's response.
type Future struct {
	id   uint64
	done chan struct{}
	resp Response
}

func newFuture(id uint64) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

func (f *Future) resolve(r Response) {
	f.resp = r
	close(f.done)
}

// ID returns the request ID the future answers.
func (f *Future) ID() uint64 { return f.id }

// Done is closed when the response is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the response arrives or ctx is done. Giving up does not
// cancel the job.
func (f *Future) Wait(ctx context.Context) (Response, error) {
	select {
	case <-f.done:
		return f.resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Config sizes the pool.
type Config struct {
	Workers   int // default runtime.NumCPU()
	QueueSize int // default 64

	// Handler overrides Handle.
	Handler Handler
}

type job struct {
	req    Request
	future *Future
	queued time.Time
}

// Pool is a fixed set of workers reading from one bounded queue.
type Pool struct {
	cfg     Config
	jobs    chan job
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	closed  bool
	started bool
	eg      *errgroup.Group

	// closing is closed by Close to wake submitters blocked on a full
	// queue; senders counts them so jobs is closed only after they leave.
	closing chan struct{}
	senders sync.WaitGroup
}

// NewPool creates a pool. Call Start before submitting. m may be nil.
func NewPool(cfg Config, log *slog.Logger, m *metrics.Metrics) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Handler == nil {
		cfg.Handler = Handle
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		cfg:     cfg,
		jobs:    make(chan job, cfg.QueueSize),
		closing: make(chan struct{}),
		log:     log.With("component", "worker"),
		metrics: m,
		eg:      &errgroup.Group{},
	}
}

// Start launches the workers. When ctx is done the pool closes: queued jobs
// still run and resolve, new submissions fail.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.cfg.Workers; i++ {
		id := i
		p.eg.Go(func() error {
			p.work(id)
			return nil
		})
	}
	go func() {
		<-ctx.Done()
		p.Close()
	}()
	p.log.Info("worker pool started", "workers", p.cfg.Workers, "queue", p.cfg.QueueSize)
}

// Submit queues req, blocking while the queue is full until ctx is done or
// the pool closes.
func (p *Pool) Submit(ctx context.Context, req Request) (*Future, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	p.senders.Add(1)
	p.mu.RUnlock()
	defer p.senders.Done()

	f := newFuture(req.ID)
	select {
	case p.jobs <- job{req: req, future: f, queued: time.Now()}:
		if p.metrics != nil {
			p.metrics.OffloadedJobs.Inc()
			p.metrics.WorkerQueueLen.Set(float64(len(p.jobs)))
		}
		return f, nil
	case <-p.closing:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do submits req and waits for its response.
func (p *Pool) Do(ctx context.Context, req Request) (Response, error) {
	f, err := p.Submit(ctx, req)
	if err != nil {
		return Response{}, err
	}
	return f.Wait(ctx)
}

// QueueLen returns the number of jobs waiting for a worker.
func (p *Pool) QueueLen() int { return len(p.jobs) }

// Close stops accepting jobs, lets the workers drain the queue and waits for
// them. It is safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closing)
	started := p.started
	p.mu.Unlock()

	p.senders.Wait()
	close(p.jobs)

	if !started {
		// nobody will read the queue; resolve what is there
		for j := range p.jobs {
			j.future.resolve(Response{ID: j.req.ID, Error: ErrPoolClosed.Error()})
		}
		return nil
	}
	err := p.eg.Wait()
	p.log.Info("worker pool stopped")
	return err
}

func (p *Pool) work(id int) {
	for j := range p.jobs {
		if p.metrics != nil {
			p.metrics.WorkerQueueLen.Set(float64(len(p.jobs)))
		}
		resp := p.run(id, j)
		j.future.resolve(resp)
	}
}

// run executes one job, converting a handler panic into an error response.
func (p *Pool) run(id int, j job) (resp Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			if p.metrics != nil {
				p.metrics.WorkerPanics.Inc()
			}
			p.log.Error("worker job panicked", "worker", id, "job", j.req.ID, "indicator", j.req.Indicator, "panic", r)
			resp = Response{ID: j.req.ID, Error: fmt.Sprintf("worker panic: %v", r)}
		}
	}()

	resp = p.cfg.Handler(j.req)
	resp.ID = j.req.ID
	p.log.Debug("worker job done",
		"worker", id,
		"job", j.req.ID,
		"indicator", j.req.Indicator,
		"bars", j.req.Data.Len(),
		"wait", start.Sub(j.queued),
		"took", time.Since(start),
	)
	return resp
}
