package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Pinger probes one backend.
type Pinger func(ctx context.Context) error

// RedisPinger probes rdb with PING.
func RedisPinger(rdb *goredis.Client) Pinger {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}

// Backend is the last known state of an optional dependency.
type Backend struct {
	Enabled   bool       `json:"enabled"`
	OK        bool       `json:"ok"`
	LatencyMs float64    `json:"latency_ms,omitempty"`
	Error     string     `json:"error,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
}

// HealthStatus tracks the worker pool, the stream count and every
// registered backend. Backends that are not enabled never count against
// health; the engine computes without them.
type HealthStatus struct {
	mu        sync.RWMutex
	startedAt time.Time
	workersOK bool
	streams   int
	backends  map[string]*Backend
	probes    map[string]Pinger
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		startedAt: time.Now(),
		backends:  make(map[string]*Backend),
		probes:    make(map[string]Pinger),
	}
}

// SetBackend records whether backend name is configured and usable.
func (h *HealthStatus) SetBackend(name string, enabled, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.backend(name)
	b.Enabled, b.OK = enabled, ok
}

func (h *HealthStatus) SetRedis(enabled, connected bool) { h.SetBackend("redis", enabled, connected) }
func (h *HealthStatus) SetSQLite(enabled, ok bool)       { h.SetBackend("sqlite", enabled, ok) }

func (h *HealthStatus) SetWorkersOK(v bool) {
	h.mu.Lock()
	h.workersOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetStreams(n int) {
	h.mu.Lock()
	h.streams = n
	h.mu.Unlock()
}

// Watch registers a probe for an enabled backend.
func (h *HealthStatus) Watch(name string, ping Pinger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backend(name).Enabled = true
	h.probes[name] = ping
}

func (h *HealthStatus) backend(name string) *Backend {
	b, ok := h.backends[name]
	if !ok {
		b = &Backend{}
		h.backends[name] = b
	}
	return b
}

// Probe runs every registered probe once, each bounded by timeout.
func (h *HealthStatus) Probe(ctx context.Context, timeout time.Duration) {
	h.mu.RLock()
	probes := make(map[string]Pinger, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	h.mu.RUnlock()

	for name, ping := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := ping(probeCtx)
		latency := time.Since(start)
		cancel()

		now := time.Now()
		h.mu.Lock()
		b := h.backend(name)
		b.OK = err == nil
		b.LatencyMs = float64(latency.Microseconds()) / 1000.0
		b.CheckedAt = &now
		b.Error = ""
		if err != nil {
			b.Error = err.Error()
		}
		h.mu.Unlock()
	}
}

// StartLivenessChecker probes the watched backends every interval until ctx
// is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Probe(ctx, 3*time.Second)
			}
		}
	}()
}

// Status returns "healthy", "degraded" or "unhealthy".
func (h *HealthStatus) Status() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status()
}

func (h *HealthStatus) status() string {
	if !h.workersOK {
		return "unhealthy"
	}
	for _, b := range h.backends {
		if b.Enabled && !b.OK {
			return "degraded"
		}
	}
	return "healthy"
}

type healthReport struct {
	Status    string             `json:"status"`
	Uptime    string             `json:"uptime"`
	Streams   int                `json:"streams"`
	WorkersOK bool               `json:"workers_ok"`
	Backends  map[string]Backend `json:"backends"`
	Degraded  []string           `json:"degraded,omitempty"`
}

// ServeHTTP handles /healthz. Anything but healthy is a 503.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	report := healthReport{
		Status:    h.status(),
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Streams:   h.streams,
		WorkersOK: h.workersOK,
		Backends:  make(map[string]Backend, len(h.backends)),
	}
	for name, b := range h.backends {
		report.Backends[name] = *b
		if b.Enabled && !b.OK {
			report.Degraded = append(report.Degraded, name)
		}
	}
	h.mu.RUnlock()
	sort.Strings(report.Degraded)

	w.Header().Set("Content-Type", "application/json")
	if report.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}
