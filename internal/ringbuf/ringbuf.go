// Package ringbuf provides a fixed-capacity ring of OHLCV bars that evicts
// the oldest bar on overflow. Append and evict are the only mutations.
package ringbuf

import (
	"sync"
	"sync/atomic"

	"ta-enginev1/internal/model"
)

// Buffer is a bounded, thread-safe bar ring.
type Buffer struct {
	mu    sync.RWMutex
	buf   []model.Bar
	start int // index of the oldest bar
	count int

	// evicted counts bars dropped on overflow (atomic, for metrics)
	evicted atomic.Uint64
}

// New creates a buffer holding at most capacity bars. Minimum capacity is 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{buf: make([]model.Bar, capacity)}
}

// Push appends b. When the buffer is full the oldest bar is dropped and
// returned with evicted=true.
func (r *Buffer) Push(b model.Bar) (dropped model.Bar, evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.push(b)
}

func (r *Buffer) push(b model.Bar) (model.Bar, bool) {
	capacity := len(r.buf)
	if r.count < capacity {
		r.buf[(r.start+r.count)%capacity] = b
		r.count++
		return model.Bar{}, false
	}
	old := r.buf[r.start]
	r.buf[r.start] = b
	r.start = (r.start + 1) % capacity
	r.evicted.Add(1)
	return old, true
}

// Load replaces the contents with bars, keeping only the newest Cap() of
// them. It returns how many input bars did not fit.
func (r *Buffer) Load(bars []model.Bar) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start, r.count = 0, 0
	skipped := 0
	if len(bars) > len(r.buf) {
		skipped = len(bars) - len(r.buf)
		bars = bars[skipped:]
	}
	for _, b := range bars {
		r.push(b)
	}
	return skipped
}

// Last returns the newest bar.
func (r *Buffer) Last() (model.Bar, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return model.Bar{}, false
	}
	return r.buf[(r.start+r.count-1)%len(r.buf)], true
}

// Bars returns a copy of the contents, oldest first.
func (r *Buffer) Bars() []model.Bar {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Bar, r.count)
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Series returns the contents in columnar form, oldest first. The series
// does not share memory with the buffer.
func (r *Buffer) Series() model.Series {
	return model.SeriesFromBars(r.Bars())
}

// Len returns the current number of bars.
func (r *Buffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the buffer capacity.
func (r *Buffer) Cap() int {
	return len(r.buf)
}

// Evicted returns the total number of bars dropped on overflow.
func (r *Buffer) Evicted() uint64 {
	return r.evicted.Load()
}

// Reset empties the buffer. The eviction counter is kept.
func (r *Buffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start, r.count = 0, 0
}
