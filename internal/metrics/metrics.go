package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the indicator engine.
type Metrics struct {
	// Compute path
	ComputeDur    *prometheus.HistogramVec // labels: indicator
	ComputeErrors *prometheus.CounterVec   // labels: indicator
	Recomputes    *prometheus.CounterVec   // labels: stream, trigger=push|poll|params|restore

	// Worker offload
	OffloadedJobs   prometheus.Counter
	WorkerQueueLen  prometheus.Gauge
	WorkerPanics    prometheus.Counter
	StaleUpdates    prometheus.Counter // worker replies older than the stream's latest
	BufferEvictions *prometheus.CounterVec // labels: stream

	// VWAP
	VWAPSessionResets *prometheus.CounterVec // labels: stream

	// Resampling
	ResampledBars *prometheus.CounterVec // labels: stream, result=closed|stale

	// Publishing and storage
	PublishFailures          prometheus.Counter
	SnapshotWrites           *prometheus.CounterVec // labels: store=redis|sqlite, result=ok|error
	RedisCircuitBreakerState prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Gateway
	WSClients prometheus.Gauge
	WSDrops   prometheus.Counter
}

// NewMetrics creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indengine_compute_duration_seconds",
			Help:    "Indicator compute latency over a full buffer",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"indicator"}),
		ComputeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_compute_errors_total",
			Help: "Indicator computations that returned an error",
		}, []string{"indicator"}),
		Recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_recomputes_total",
			Help: "Stream recomputes by trigger",
		}, []string{"stream", "trigger"}),

		OffloadedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_offloaded_jobs_total",
			Help: "Computations submitted to the worker pool",
		}),
		WorkerQueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_worker_queue_len",
			Help: "Jobs waiting in the worker pool queue",
		}),
		WorkerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_worker_panics_total",
			Help: "Worker jobs that panicked and were converted to errors",
		}),
		StaleUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_stale_updates_total",
			Help: "Worker replies that arrived after a newer result was applied",
		}),
		BufferEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_buffer_evictions_total",
			Help: "Bars evicted from stream ring buffers",
		}, []string{"stream"}),

		VWAPSessionResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_vwap_session_resets_total",
			Help: "VWAP session boundaries crossed",
		}, []string{"stream"}),

		ResampledBars: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_resampled_bars_total",
			Help: "Feed bars folded into timeframe buckets, by outcome",
		}, []string{"stream", "result"}),

		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_publish_failures_total",
			Help: "Stream updates that could not be published to Redis",
		}),
		SnapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_snapshot_writes_total",
			Help: "Stream snapshot writes by store and result",
		}, []string{"store", "result"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_ws_drops_total",
			Help: "Messages dropped because a client send buffer was full",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ComputeDur,
			m.ComputeErrors,
			m.Recomputes,
			m.OffloadedJobs,
			m.WorkerQueueLen,
			m.WorkerPanics,
			m.StaleUpdates,
			m.BufferEvictions,
			m.VWAPSessionResets,
			m.ResampledBars,
			m.PublishFailures,
			m.SnapshotWrites,
			m.RedisCircuitBreakerState,
			m.RedisCircuitBreakerTrips,
			m.WSClients,
			m.WSDrops,
		)
	}
	return m
}

// Handler serves the collectors registered with g in the Prometheus text
// format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
