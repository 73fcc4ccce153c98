package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ta-enginev1/internal/metrics"
	"ta-enginev1/internal/model"
)

func closes(vals ...float64) model.Series {
	return model.Series{Close: vals}
}

func startPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := NewPool(cfg, nil, metrics.NewMetrics(prometheus.NewRegistry()))
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		cancel()
		p.Close()
	})
	return p
}

func TestHandle_ComputesResult(t *testing.T) {
	resp := Handle(Request{
		ID:        7,
		Indicator: "sma",
		Data:      closes(10, 12, 14, 16, 18),
		Params:    model.ParamMap{"period": 3},
	})
	require.Empty(t, resp.Error)
	require.NotNil(t, resp.Result)
	assert.Equal(t, uint64(7), resp.ID)
	assert.Equal(t, "sma", resp.Result.Name)
	assert.InDelta(t, 16.0, resp.Result.Latest(), 1e-12)
	assert.NoError(t, resp.Err())
}

func TestHandle_UnknownIndicatorIsErrorReply(t *testing.T) {
	resp := Handle(Request{ID: 1, Indicator: "FOO", Data: closes(1, 2, 3)})
	assert.Nil(t, resp.Result)
	assert.Contains(t, resp.Error, "unknown indicator")
	assert.Error(t, resp.Err())
}

func TestResponse_JSONShape(t *testing.T) {
	ok, err := json.Marshal(Handle(Request{ID: 2, Indicator: "sma", Data: closes(1, 2, 3), Params: model.ParamMap{"period": 2}}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":2,"result":{"name":"sma","values":[null,1.5,2.5]}}`, string(ok))

	bad, err := json.Marshal(Handle(Request{ID: 3, Indicator: "nope", Data: closes(1)}))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(bad, &m))
	assert.NotContains(t, m, "result")
	assert.Contains(t, m, "error")
}

func TestRequest_DecodesFromJSON(t *testing.T) {
	var req Request
	raw := `{"id":9,"indicator":"ema","data":{"close":[1,2,3]},"params":{"period":2}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	resp := Handle(req)
	require.Empty(t, resp.Error)
	assert.Len(t, resp.Result.Values, 3)
}

func TestPool_SubmitAndWait(t *testing.T) {
	p := startPool(t, Config{Workers: 2, QueueSize: 4})

	f, err := p.Submit(context.Background(), Request{ID: 1, Indicator: "rsi", Data: closes(1, 2, 3, 4, 5, 6), Params: model.ParamMap{"period": 2}})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.ID())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := f.Wait(ctx)
	require.NoError(t, err)
	require.Empty(t, resp.Error)
	assert.InDelta(t, 100.0, resp.Result.Latest(), 1e-9)

	select {
	case <-f.Done():
	default:
		t.Fatal("Done must be closed after Wait returns")
	}
}

func TestPool_UnknownIndicator(t *testing.T) {
	p := startPool(t, Config{Workers: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := p.Do(ctx, Request{ID: 5, Indicator: "FOO", Data: closes(1, 2)})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), resp.ID)
	assert.Nil(t, resp.Result)
	assert.NotEmpty(t, resp.Error)
}

func TestPool_RecoversPanics(t *testing.T) {
	p := startPool(t, Config{
		Workers: 1,
		Handler: func(req Request) Response {
			if req.ID == 1 {
				panic("boom")
			}
			return Response{Result: &model.Result{Name: "ok"}}
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := p.Do(ctx, Request{ID: 1})
	require.NoError(t, err)
	assert.Contains(t, resp.Error, "boom")

	// the worker survives the panic
	resp, err = p.Do(ctx, Request{ID: 2})
	require.NoError(t, err)
	assert.Empty(t, resp.Error)
	assert.Equal(t, uint64(2), resp.ID)
}

func TestPool_SubmitBlocksWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := startPool(t, Config{
		Workers:   1,
		QueueSize: 1,
		Handler: func(req Request) Response {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return Response{}
		},
	})

	_, err := p.Submit(context.Background(), Request{ID: 1})
	require.NoError(t, err)
	<-started // worker holds job 1

	_, err = p.Submit(context.Background(), Request{ID: 2}) // fills the queue
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Submit(ctx, Request{ID: 3})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
}

func TestPool_RepliesMayArriveOutOfOrder(t *testing.T) {
	gate := make(chan struct{})
	p := startPool(t, Config{
		Workers: 2,
		Handler: func(req Request) Response {
			if req.ID == 1 {
				<-gate
			}
			return Response{}
		},
	})

	slow, err := p.Submit(context.Background(), Request{ID: 1})
	require.NoError(t, err)
	fast, err := p.Submit(context.Background(), Request{ID: 2})
	require.NoError(t, err)

	select {
	case <-fast.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("fast job should not wait for the slow one")
	}
	select {
	case <-slow.Done():
		t.Fatal("slow job resolved early")
	default:
	}
	close(gate)
	<-slow.Done()
}

func TestPool_WaitTimeoutDoesNotCancelJob(t *testing.T) {
	gate := make(chan struct{})
	p := startPool(t, Config{
		Workers: 1,
		Handler: func(req Request) Response {
			<-gate
			return Response{Result: &model.Result{Name: "late"}}
		},
	})

	f, err := p.Submit(context.Background(), Request{ID: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	resp, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", resp.Result.Name)
}

func TestPool_CloseDrainsQueue(t *testing.T) {
	p := NewPool(Config{Workers: 2, QueueSize: 16}, nil, nil)
	p.Start(context.Background())

	var futures []*Future
	for i := 1; i <= 10; i++ {
		f, err := p.Submit(context.Background(), Request{ID: uint64(i), Indicator: "sma", Data: closes(1, 2, 3)})
		require.NoError(t, err)
		futures = append(futures, f)
	}
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	for _, f := range futures {
		select {
		case <-f.Done():
		default:
			t.Fatalf("job %d not resolved after Close", f.ID())
		}
	}

	_, err := p.Submit(context.Background(), Request{ID: 11})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_CloseWithoutStartResolvesQueued(t *testing.T) {
	p := NewPool(Config{QueueSize: 2}, nil, nil)
	f, err := p.Submit(context.Background(), Request{ID: 1})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	resp, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ErrPoolClosed.Error(), resp.Error)
}

func TestPool_CloseWakesBlockedSubmitter(t *testing.T) {
	p := NewPool(Config{QueueSize: 1}, nil, nil)
	queued, err := p.Submit(context.Background(), Request{ID: 1})
	require.NoError(t, err)

	blocked := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), Request{ID: 2})
		blocked <- err
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- p.Close() }()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while a submitter was blocked on a full queue")
	}
	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Submit was not released")
	}

	resp, err := queued.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ErrPoolClosed.Error(), resp.Error)
}

func TestPool_ConcurrentSubmitters(t *testing.T) {
	p := startPool(t, Config{Workers: 4, QueueSize: 8})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			resp, err := p.Do(ctx, Request{ID: id, Indicator: "ema", Data: closes(1, 2, 3, 4), Params: model.ParamMap{"period": 2}})
			if assert.NoError(t, err) {
				assert.Equal(t, id, resp.ID)
				assert.Empty(t, resp.Error)
			}
		}(uint64(i + 1))
	}
	wg.Wait()
}
