// Package indengine runs the streaming indicator engine as a service: it
// builds the configured streams, restores and snapshots them, feeds them
// bars, fans their updates out and serves the HTTP API.
package indengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"ta-enginev1/config"
	"ta-enginev1/internal/gateway"
	"ta-enginev1/internal/metrics"
	"ta-enginev1/internal/model"
	"ta-enginev1/internal/resample"
	"ta-enginev1/internal/stream"
	redisstore "ta-enginev1/internal/store/redis"
	sqlitestore "ta-enginev1/internal/store/sqlite"
	"ta-enginev1/internal/worker"
)

// Service wires streams to their stores, the worker pool and the gateway.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	reg    *prometheus.Registry
	prom   *metrics.Metrics
	health *metrics.HealthStatus

	pool    *worker.Pool
	hub     *gateway.Hub
	limiter *rate.Limiter

	// optional backends; nil when not configured
	rdb       *goredis.Client
	redisSnap *redisstore.SnapshotStore
	publisher *redisstore.Publisher
	feed      *redisstore.BarFeed
	sqlStore  *sqlitestore.Store
	barCh     chan sqlitestore.BarRecord

	mu       sync.RWMutex
	streams  map[string]*stream.Stream
	order    []string
	bySymbol map[string][]*stream.Stream
	decls    map[string]config.Stream

	// resamplers of the streams that declare a timeframe
	resamplers map[string]*resample.Builder

	snapCron *cron.Cron
}

// New connects the configured backends and builds every declared stream.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := &Service{
		cfg:      cfg,
		log:      log.With("component", "indengine"),
		reg:      reg,
		prom:     metrics.NewMetrics(reg),
		health:   metrics.NewHealthStatus(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.ComputeRate), cfg.ComputeBurst),
		streams:  make(map[string]*stream.Stream),
		bySymbol: make(map[string][]*stream.Stream),
		decls:    make(map[string]config.Stream),

		resamplers: make(map[string]*resample.Builder),
	}
	svc.pool = worker.NewPool(worker.Config{Workers: cfg.Workers.Count, QueueSize: cfg.Workers.QueueSize}, log, svc.prom)
	svc.hub = gateway.NewHub(gateway.Config{
		ReplaySize:     cfg.Gateway.ReplaySize,
		SendBuffer:     cfg.Gateway.SendBuffer,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
	}, svc.prom, log)

	if err := svc.openBackends(ctx); err != nil {
		svc.closeBackends()
		return nil, err
	}

	for _, sc := range cfg.Streams {
		if err := svc.addStream(sc); err != nil {
			svc.closeBackends()
			return nil, err
		}
	}
	svc.health.SetStreams(len(svc.order))
	return svc, nil
}

func (svc *Service) openBackends(ctx context.Context) error {
	cfg := svc.cfg

	if cfg.Redis.Enabled() {
		rdb, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:           cfg.Redis.Addr,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			ConnectTimeout: cfg.Redis.ConnectTimeout,
		}, svc.log)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		svc.rdb = rdb
		svc.redisSnap = redisstore.NewSnapshotStore(rdb, cfg.Redis.SnapshotTTL)
		svc.publisher = redisstore.NewPublisher(rdb, redisstore.PublisherConfig{}, svc.log)
		svc.publisher.Breaker().OnStateChange = func(from, to redisstore.State) {
			svc.prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				svc.prom.RedisCircuitBreakerTrips.Inc()
			}
			svc.log.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
		}
		if cfg.Redis.Feed {
			svc.feed = redisstore.NewBarFeed(rdb, redisstore.FeedConfig{
				Group:    cfg.Redis.ConsumerGroup,
				Consumer: cfg.Redis.ConsumerName,
			}, svc.log)
		}
	}
	svc.health.SetRedis(cfg.Redis.Enabled(), svc.rdb != nil)

	if cfg.SQLite.Enabled() {
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
			os.MkdirAll(dir, 0o755)
		}
		store, err := sqlitestore.Open(sqlitestore.Config{Path: cfg.SQLite.Path}, svc.log)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		svc.sqlStore = store
		svc.barCh = make(chan sqlitestore.BarRecord, 5000)
	}
	svc.health.SetSQLite(cfg.SQLite.Enabled(), svc.sqlStore != nil)
	return nil
}

func (svc *Service) addStream(sc config.Stream) error {
	scfg, err := streamConfig(sc)
	if err != nil {
		return err
	}
	s, err := stream.New(scfg, stream.Deps{
		Pool:     svc.pool,
		Metrics:  svc.prom,
		Log:      svc.log,
		OnUpdate: svc.emit,
	})
	if err != nil {
		return err
	}
	var rs *resample.Builder
	if sc.Timeframe > 0 {
		if rs, err = svc.newResampler(s.ID(), sc.Timeframe); err != nil {
			return fmt.Errorf("stream %s: %w", s.ID(), err)
		}
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if _, dup := svc.streams[s.ID()]; dup {
		return fmt.Errorf("stream %s declared twice", s.ID())
	}
	if rs != nil {
		svc.resamplers[s.ID()] = rs
	}
	svc.streams[s.ID()] = s
	svc.order = append(svc.order, s.ID())
	svc.bySymbol[s.Symbol()] = append(svc.bySymbol[s.Symbol()], s)
	svc.decls[s.ID()] = sc
	return nil
}

// Stream returns the stream with id.
func (svc *Service) Stream(id string) (*stream.Stream, bool) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	s, ok := svc.streams[id]
	return s, ok
}

// Streams returns all streams in declaration order.
func (svc *Service) Streams() []*stream.Stream {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	out := make([]*stream.Stream, 0, len(svc.order))
	for _, id := range svc.order {
		out = append(out, svc.streams[id])
	}
	return out
}

func (svc *Service) symbolStreams(symbol string) []*stream.Stream {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.bySymbol[symbol]
}

// snapshotStores lists the configured stores, fastest first. Only non-nil
// stores are added so that no typed nil reaches the interface.
func (svc *Service) snapshotStores() (names []string, stores []model.SnapshotStore) {
	if svc.redisSnap != nil {
		names = append(names, "redis")
		stores = append(stores, svc.redisSnap)
	}
	if svc.sqlStore != nil {
		names = append(names, "sqlite")
		stores = append(stores, svc.sqlStore)
	}
	return names, stores
}

// emit publishes an update to Redis and, unless the gateway relays from
// Redis, straight to local WebSocket clients.
func (svc *Service) emit(u stream.Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		svc.log.Error("encode update", "stream", u.Stream, "error", err)
		return
	}
	if svc.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := svc.publisher.Publish(ctx, redisstore.UpdateChannel(u.Stream), payload)
		cancel()
		if err != nil {
			svc.prom.PublishFailures.Inc()
			svc.log.Debug("publish failed", "stream", u.Stream, "seq", u.Seq, "error", err)
		}
	}
	if !svc.cfg.Redis.Relay {
		svc.hub.Broadcast(u.Stream, payload, u.Emitted)
	}
}

// persist queues closed bars for the SQLite writer. Bars are dropped with a
// warning when the queue is full.
func (svc *Service) persist(symbol string, bars ...model.Bar) {
	if svc.barCh == nil {
		return
	}
	for _, b := range bars {
		select {
		case svc.barCh <- sqlitestore.BarRecord{Symbol: symbol, Bar: b}:
		default:
			svc.log.Warn("bar persist queue full, dropping", "symbol", symbol, "time", b.Time)
			return
		}
	}
}

// Run starts everything and blocks until ctx is cancelled, then shuts down.
func (svc *Service) Run(ctx context.Context) error {
	svc.log.Info("starting indicator engine", "streams", len(svc.order), "http", svc.cfg.HTTPAddr,
		"redis", svc.rdb != nil, "sqlite", svc.sqlStore != nil)

	svc.pool.Start(ctx)
	svc.restoreAll(ctx)

	for _, s := range svc.Streams() {
		if err := s.Start(ctx); err != nil {
			svc.shutdown()
			return err
		}
	}
	if err := svc.startSnapshots(ctx); err != nil {
		svc.shutdown()
		return err
	}

	svc.health.SetWorkersOK(true)

	if svc.rdb != nil {
		svc.health.Watch("redis", metrics.RedisPinger(svc.rdb))
	}
	if svc.sqlStore != nil {
		svc.health.Watch("sqlite", svc.sqlStore.DB().PingContext)
	}
	svc.health.StartLivenessChecker(ctx, 10*time.Second)

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              svc.cfg.HTTPAddr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		svc.log.Info("http server listening", "addr", svc.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.hub.Close()
		return srv.Shutdown(shutCtx)
	})

	sqlDone := make(chan struct{})
	if svc.sqlStore != nil {
		go func() {
			defer close(sqlDone)
			svc.sqlStore.Run(gctx, svc.barCh)
		}()
	} else {
		close(sqlDone)
	}

	if svc.feed != nil {
		g.Go(func() error { return svc.consumeFeed(gctx) })
	}
	if svc.cfg.Redis.Relay {
		g.Go(func() error {
			svc.hub.RunRedis(gctx, svc.rdb)
			return nil
		})
	}

	err := g.Wait()
	<-sqlDone
	svc.shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// shutdown stops polling, saves a final snapshot and closes the backends.
func (svc *Service) shutdown() {
	svc.log.Info("shutting down, saving final snapshots")
	if svc.snapCron != nil {
		<-svc.snapCron.Stop().Done()
	}
	for _, s := range svc.Streams() {
		s.Stop()
	}
	svc.pool.Close()
	svc.health.SetWorkersOK(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.snapshotAll(ctx)

	svc.closeBackends()
	svc.log.Info("shutdown complete")
}

func (svc *Service) closeBackends() {
	if svc.sqlStore != nil {
		svc.sqlStore.Close()
	}
	if svc.rdb != nil {
		svc.rdb.Close()
	}
}
