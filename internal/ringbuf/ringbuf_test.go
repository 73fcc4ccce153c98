package ringbuf

import (
	"sync"
	"testing"
	"time"

	"ta-enginev1/internal/model"
)

var t0 = time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)

func barAt(i int) model.Bar {
	return model.Bar{Time: t0.Add(time.Duration(i) * time.Minute), Close: float64(100 + i)}
}

func TestBuffer_BasicPush(t *testing.T) {
	r := New(4)

	if _, evicted := r.Push(barAt(0)); evicted {
		t.Fatal("push into empty buffer should not evict")
	}
	r.Push(barAt(1))

	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}
	last, ok := r.Last()
	if !ok || last.Close != 101 {
		t.Fatalf("expected last close 101, got %v ok=%v", last.Close, ok)
	}

	bars := r.Bars()
	if len(bars) != 2 || bars[0].Close != 100 || bars[1].Close != 101 {
		t.Fatalf("unexpected contents %+v", bars)
	}
}

func TestBuffer_EvictsOldest(t *testing.T) {
	r := New(3)
	for i := 0; i < 3; i++ {
		r.Push(barAt(i))
	}

	dropped, evicted := r.Push(barAt(3))
	if !evicted || dropped.Close != 100 {
		t.Fatalf("expected bar 0 evicted, got %v evicted=%v", dropped.Close, evicted)
	}
	if r.Evicted() != 1 {
		t.Fatalf("expected evicted=1, got %d", r.Evicted())
	}
	if r.Len() != 3 {
		t.Fatalf("len should stay at capacity, got %d", r.Len())
	}

	s := r.Series()
	want := []float64{101, 102, 103}
	for i, c := range s.Close {
		if c != want[i] {
			t.Fatalf("close[%d]: expected %v, got %v", i, want[i], c)
		}
	}
	if !s.Time[0].Equal(barAt(1).Time) {
		t.Fatalf("oldest time should be bar 1, got %v", s.Time[0])
	}
}

func TestBuffer_Wraparound(t *testing.T) {
	r := New(4)

	// push well past capacity several times over
	for i := 0; i < 23; i++ {
		r.Push(barAt(i))
	}
	bars := r.Bars()
	if len(bars) != 4 {
		t.Fatalf("expected 4 bars, got %d", len(bars))
	}
	for i, b := range bars {
		if b.Close != float64(100+19+i) {
			t.Fatalf("bar %d: expected close=%d, got %v", i, 119+i, b.Close)
		}
	}
	if r.Evicted() != 19 {
		t.Fatalf("expected evicted=19, got %d", r.Evicted())
	}
}

func TestBuffer_LoadKeepsNewest(t *testing.T) {
	r := New(3)
	r.Push(barAt(99))

	bars := []model.Bar{barAt(0), barAt(1), barAt(2), barAt(3), barAt(4)}
	if skipped := r.Load(bars); skipped != 2 {
		t.Fatalf("expected 2 skipped, got %d", skipped)
	}
	got := r.Bars()
	if len(got) != 3 || got[0].Close != 102 || got[2].Close != 104 {
		t.Fatalf("unexpected contents %+v", got)
	}
}

func TestBuffer_SnapshotIsCopy(t *testing.T) {
	r := New(2)
	r.Push(barAt(0))
	s := r.Series()
	s.Close[0] = -1

	bars := r.Bars()
	if bars[0].Close != 100 {
		t.Fatalf("series mutation leaked into buffer: %v", bars[0].Close)
	}
}

func TestBuffer_ResetAndMinimumCapacity(t *testing.T) {
	r := New(0)
	if r.Cap() != 1 {
		t.Fatalf("expected cap=1, got %d", r.Cap())
	}
	r.Push(barAt(0))
	r.Push(barAt(1))
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("expected empty after reset, got %d", r.Len())
	}
	if _, ok := r.Last(); ok {
		t.Fatal("Last on empty buffer should return false")
	}
	if r.Evicted() != 1 {
		t.Fatalf("reset should keep the eviction counter, got %d", r.Evicted())
	}
}

func TestBuffer_ConcurrentReaders(t *testing.T) {
	const count = 10_000
	r := New(100)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < count; i++ {
			r.Push(barAt(i))
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < count/10; i++ {
			bars := r.Bars()
			for j := 1; j < len(bars); j++ {
				if !bars[j].Time.After(bars[j-1].Time) {
					t.Errorf("snapshot out of order at %d", j)
					return
				}
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent test timed out")
	}

	if r.Len() != 100 {
		t.Fatalf("expected full buffer, got %d", r.Len())
	}
}
