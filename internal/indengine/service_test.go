package indengine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ta-enginev1/config"
	"ta-enginev1/internal/model"
	"ta-enginev1/internal/resample"
	"ta-enginev1/internal/stream"
	sqlitestore "ta-enginev1/internal/store/sqlite"
)

var t0 = time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)

func bar(i int, c float64) model.Bar {
	return model.Bar{Time: t0.Add(time.Duration(i) * time.Minute), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100}
}

func testConfig(dbPath string) *config.Config {
	return &config.Config{
		HTTPAddr:         ":0",
		SnapshotInterval: time.Minute,
		ComputeRate:      1000,
		ComputeBurst:     1000,
		SQLite:           config.SQLite{Path: dbPath},
		Streams: []config.Stream{
			{ID: "x-sma", Symbol: "X", Indicator: "sma", Params: map[string]any{"period": 3}, BufferSize: 10, WarmupBars: 10},
			{ID: "x-ema", Symbol: "X", Indicator: "ema", Params: map[string]any{"period": 2}, VWAP: &config.VWAP{Multipliers: []float64{1}}},
			{ID: "y-rsi", Symbol: "Y", Indicator: "RSI"},
		},
	}
}

func newService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	svc, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	svc.pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		svc.pool.Close()
		svc.closeBackends()
	})
	return svc
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func barsJSON(t *testing.T, bars ...model.Bar) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{"bars": bars})
	require.NoError(t, err)
	return string(b)
}

// ──────────────────────────────────────────────────────────────

func TestNew_BuildsStreams(t *testing.T) {
	svc := newService(t, testConfig(""))

	streams := svc.Streams()
	require.Len(t, streams, 3)
	assert.Equal(t, []string{"x-sma", "x-ema", "y-rsi"}, []string{streams[0].ID(), streams[1].ID(), streams[2].ID()})
	assert.Len(t, svc.symbolStreams("X"), 2)

	_, ok := svc.Stream("nope")
	assert.False(t, ok)
}

func TestNew_RejectsBadStreams(t *testing.T) {
	cfg := testConfig("")
	cfg.Streams = append(cfg.Streams, config.Stream{ID: "bad", Indicator: "nonsense"})
	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)

	cfg = testConfig("")
	cfg.Streams[1].VWAP.Timezone = "Mars/Olympus"
	_, err = New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestAPI_Compute(t *testing.T) {
	svc := newService(t, testConfig(""))
	h := svc.Handler()

	rec := do(t, h, http.MethodPost, "/compute", `{"id":7,"indicator":"sma","data":{"close":[1,2,3,4]},"params":{"period":2}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"id":7,"result":{"name":"sma","values":[null,1.5,2.5,3.5]}}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, h, http.MethodPost, "/compute", `{"id":8,"indicator":"nope","data":{"close":[1]}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)

	rec = do(t, h, http.MethodPost, "/compute", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/compute", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPI_ComputeRateLimited(t *testing.T) {
	cfg := testConfig("")
	cfg.ComputeRate = 0.001
	cfg.ComputeBurst = 1
	svc := newService(t, cfg)
	h := svc.Handler()

	body := `{"id":1,"indicator":"sma","data":{"close":[1,2]},"params":{"period":2}}`
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/compute", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/compute", body).Code)
}

func TestAPI_VWAPAndValidate(t *testing.T) {
	svc := newService(t, testConfig(""))
	h := svc.Handler()

	body, err := json.Marshal(map[string]any{
		"bars":     []model.Bar{bar(0, 10), bar(1, 12)},
		"params":   map[string]any{"multipliers": []float64{1}},
		"decimals": 2,
	})
	require.NoError(t, err)
	rec := do(t, h, http.MethodPost, "/vwap", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		VWAP        []float64 `json:"vwap"`
		Multipliers []float64 `json:"multipliers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, []float64{10, 11}, res.VWAP)
	assert.Equal(t, []float64{1}, res.Multipliers)

	rec = do(t, h, http.MethodPost, "/vwap", `{"bars":[],"params":{"resetInterval":"hourly"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/validate", `{"close":[1,2],"high":[1]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isValid":false`)
}

func TestAPI_Indicators(t *testing.T) {
	svc := newService(t, testConfig(""))
	rec := do(t, svc.Handler(), http.MethodGet, "/indicators", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct{ Indicators []string }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out.Indicators, "sma")
	assert.Contains(t, out.Indicators, "rsi")
}

func TestAPI_StreamLifecycle(t *testing.T) {
	svc := newService(t, testConfig(""))
	h := svc.Handler()

	rec := do(t, h, http.MethodPost, "/streams/x-sma/bars", barsJSON(t, bar(0, 1), bar(1, 2), bar(2, 3)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"accepted":3,"seq":3}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/streams/x-sma", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v struct {
		Bars   int
		Latest *stream.Update
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, 3, v.Bars)
	require.NotNil(t, v.Latest)
	require.NotNil(t, v.Latest.Result)
	assert.Equal(t, 2.0, v.Latest.Result.Latest())

	// an old bar is refused with what was accepted before it
	rec = do(t, h, http.MethodPost, "/streams/x-sma/bars", barsJSON(t, bar(3, 4), bar(1, 9)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":1`)

	// forming preview does not change the latest update
	rec = do(t, h, http.MethodPost, "/streams/x-sma/bars", `{"forming":true,"bars":[`+string(mustJSON(t, bar(4, 8)))+`]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var peek stream.Update
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &peek))
	assert.True(t, peek.Forming)
	assert.InDelta(t, 5.0, peek.Result.Latest(), 1e-9) // (3+4+8)/3
	latest, _ := svc.streams["x-sma"].Latest()
	assert.Equal(t, uint64(4), latest.Seq)

	rec = do(t, h, http.MethodPut, "/streams/x-sma/params", `{"params":{"period":2}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"period":2`)

	rec = do(t, h, http.MethodPut, "/streams/x-sma/params", `{"indicator":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/streams/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/streams/x-sma/other", "").Code)

	rec = do(t, h, http.MethodGet, "/streams", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"y-rsi"`)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	svc := newService(t, testConfig(""))
	svc.health.SetWorkersOK(true)
	h := svc.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	do(t, h, http.MethodPost, "/streams/x-sma/bars", barsJSON(t, bar(0, 1)))
	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestIngest_FansOutBySymbol(t *testing.T) {
	svc := newService(t, testConfig(filepath.Join(t.TempDir(), "bars.db")))
	ctx := context.Background()

	assert.Equal(t, 2, svc.ingest(ctx, "X", bar(0, 1), false))
	assert.Equal(t, 0, svc.ingest(ctx, "X", bar(0, 1), false), "duplicate bar is skipped everywhere")
	assert.Equal(t, 2, svc.ingest(ctx, "X", bar(1, 2), true))
	assert.Equal(t, 0, svc.ingest(ctx, "Z", bar(0, 1), false))

	for _, id := range []string{"x-sma", "x-ema"} {
		s, _ := svc.Stream(id)
		assert.Equal(t, 1, s.Len(), id)
	}
	assert.Len(t, svc.barCh, 1, "closed bar persisted once per symbol")

	u, ok := svc.streams["x-ema"].Latest()
	require.True(t, ok)
	require.NotNil(t, u.VWAP)
	assert.Equal(t, 1.0, u.VWAP.VWAP)
	assert.Positive(t, svc.hub.Latency.Count(), "emitted updates feed the fan-out latency")
}

func resampledConfig(dbPath string) *config.Config {
	cfg := testConfig(dbPath)
	cfg.Streams = append(cfg.Streams, config.Stream{
		ID: "r-sma-5m", Symbol: "R", Indicator: "sma", Params: map[string]any{"period": 2},
		BufferSize: 10, WarmupBars: 100, Timeframe: 5 * time.Minute,
	})
	return cfg
}

func TestIngest_ResamplesToTimeframe(t *testing.T) {
	svc := newService(t, resampledConfig(filepath.Join(t.TempDir(), "bars.db")))
	ctx := context.Background()
	s, _ := svc.Stream("r-sma-5m")

	for i := 0; i < 5; i++ {
		require.Equal(t, 1, svc.ingest(ctx, "R", bar(i, float64(i+1)), false))
	}
	assert.Zero(t, s.Len(), "bucket still forming")

	svc.ingest(ctx, "R", bar(5, 6), false)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, model.Bar{Time: t0, Open: 1, High: 6, Low: 0, Close: 5, Volume: 500}, s.Bars()[0])
	assert.Len(t, svc.barCh, 6, "feed bars are persisted, not buckets")

	assert.Equal(t, 0, svc.ingest(ctx, "R", bar(3, 9), false), "stale feed bar")

	assert.Zero(t, svc.closeDueBuckets(ctx, t0.Add(10*time.Minute)))
	assert.Equal(t, 1, svc.closeDueBuckets(ctx, t0.Add(10*time.Minute+resample.DefaultGrace)))
	require.Equal(t, 2, s.Len())
	assert.Equal(t, 6.0, s.Bars()[1].Close)
}

func TestRestore_ResampledStream(t *testing.T) {
	db := filepath.Join(t.TempDir(), "bars.db")
	ctx := context.Background()

	seed, err := sqlitestore.Open(sqlitestore.Config{Path: db}, nil)
	require.NoError(t, err)
	var history []model.Bar
	for i := 0; i < 12; i++ {
		history = append(history, bar(i, float64(i+1)))
	}
	require.NoError(t, seed.WriteBars(ctx, "R", history))
	require.NoError(t, seed.Close())

	svc := newService(t, resampledConfig(db))
	svc.restoreAll(ctx)
	s, _ := svc.Stream("r-sma-5m")
	require.Equal(t, 2, s.Len(), "two closed buckets, the third still forming")
	assert.Equal(t, 10.0, s.Bars()[1].Close)

	svc.ingest(ctx, "R", bar(15, 16), false)
	require.Equal(t, 3, s.Len())
	assert.Equal(t, 200.0, s.Bars()[2].Volume, "the forming bucket kept its stored bars")
	assert.True(t, s.Bars()[2].Time.Equal(t0.Add(10*time.Minute)))
}

func TestRestore_WarmThenSnapshotThenDelta(t *testing.T) {
	db := filepath.Join(t.TempDir(), "bars.db")
	ctx := context.Background()

	seed, err := sqlitestore.Open(sqlitestore.Config{Path: db}, nil)
	require.NoError(t, err)
	var history []model.Bar
	for i := 0; i < 15; i++ {
		history = append(history, bar(i, float64(i+1)))
	}
	require.NoError(t, seed.WriteBars(ctx, "X", history))
	require.NoError(t, seed.Close())

	// cold start: warm from the newest WarmupBars stored bars
	svc := newService(t, testConfig(db))
	svc.restoreAll(ctx)
	s, _ := svc.Stream("x-sma")
	require.Equal(t, 10, s.Len())
	assert.True(t, s.Bars()[0].Time.Equal(bar(5, 0).Time))
	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, stream.TriggerWarmup, latest.Trigger)
	assert.Equal(t, 14.0, latest.Result.Latest())

	svc.snapshotAll(ctx)
	svc.closeBackends()

	// bars stored after the snapshot are replayed on top of it
	later, err := sqlitestore.Open(sqlitestore.Config{Path: db}, nil)
	require.NoError(t, err)
	require.NoError(t, later.WriteBars(ctx, "X", []model.Bar{bar(15, 16), bar(16, 17)}))
	require.NoError(t, later.Close())

	svc2 := newService(t, testConfig(db))
	svc2.restoreAll(ctx)
	s2, _ := svc2.Stream("x-sma")
	assert.Equal(t, 10, s2.Len())
	latest, ok = s2.Latest()
	require.True(t, ok)
	assert.Equal(t, 16.0, latest.Result.Latest())
	assert.Greater(t, latest.Seq, uint64(1), "seq continues from the snapshot")
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "bars.db"))
	cfg.HTTPAddr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	svc, err := New(ctx, cfg, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		return svc.health.Status() == "healthy"
	}, 2*time.Second, 10*time.Millisecond)

	svc.ingest(ctx, "X", bar(0, 1), false)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}

	// the queued bar was flushed and a final snapshot written
	store, err := sqlitestore.Open(sqlitestore.Config{Path: cfg.SQLite.Path}, nil)
	require.NoError(t, err)
	defer store.Close()
	rows, err := store.ReadBarRows(context.Background(), "X", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	data, err := store.ReadSnapshotJSON(context.Background(), "x-sma")
	require.NoError(t, err)
	assert.NotNil(t, data)
}
