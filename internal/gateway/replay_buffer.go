package gateway

import "sync"

type replayEntry struct {
	Seq  uint64
	Data []byte // envelope JSON
}

// ReplayBuffer keeps the most recent envelopes of one channel so that a
// reconnecting client can ask for everything after the last seq it saw.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	pos  int // next write position
	full bool
}

// NewReplayBuffer returns a buffer of capacity entries (default 500).
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{buf: make([]replayEntry, capacity)}
}

// Push stores an envelope, overwriting the oldest when full. data is not
// copied; envelopes are immutable once built.
func (rb *ReplayBuffer) Push(seq uint64, data []byte) {
	rb.mu.Lock()
	rb.buf[rb.pos] = replayEntry{Seq: seq, Data: data}
	rb.pos = (rb.pos + 1) % len(rb.buf)
	if rb.pos == 0 {
		rb.full = true
	}
	rb.mu.Unlock()
}

// Since returns the envelopes with seq > after, oldest first. complete is
// false when entries after `after` were already overwritten.
func (rb *ReplayBuffer) Since(after uint64) (out [][]byte, complete bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := rb.len()
	if n == 0 {
		return nil, true
	}
	oldest := rb.buf[rb.index(0)].Seq
	complete = after+1 >= oldest
	for i := 0; i < n; i++ {
		e := rb.buf[rb.index(i)]
		if e.Seq > after {
			out = append(out, e.Data)
		}
	}
	return out, complete
}

// Len returns the number of stored envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return len(rb.buf)
	}
	return rb.pos
}

// index maps a logical position (0 = oldest) to the backing array.
func (rb *ReplayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % len(rb.buf)
	}
	return logical
}
