package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config holds the engine configuration. Values come from the YAML file,
// then environment variables (optionally from a .env file), then defaults.
type Config struct {
	Service  string `yaml:"service"`
	LogLevel string `yaml:"log_level"`
	HTTPAddr string `yaml:"http_addr"`

	Redis   Redis   `yaml:"redis"`
	SQLite  SQLite  `yaml:"sqlite"`
	Workers Workers `yaml:"workers"`
	Gateway Gateway `yaml:"gateway"`

	// SnapshotInterval is how often every stream is snapshotted.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	// POST /compute rate limit; a rate of 0 means the default.
	ComputeRate  float64 `yaml:"compute_rate"`
	ComputeBurst int     `yaml:"compute_burst"`

	Streams []Stream `yaml:"streams"`
}

// Redis is optional; an empty Addr disables it.
type Redis struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SnapshotTTL    time.Duration `yaml:"snapshot_ttl"`

	// Feed consumes bars from the bars:<symbol> streams.
	Feed          bool   `yaml:"feed"`
	ConsumerGroup string `yaml:"consumer_group"`
	ConsumerName  string `yaml:"consumer_name"`

	// Relay makes the WebSocket gateway serve what is published to Redis
	// instead of the local streams, so several engines can share one gateway.
	Relay bool `yaml:"relay"`
}

// Enabled reports whether a Redis address is configured.
func (r Redis) Enabled() bool { return r.Addr != "" }

// SQLite is optional; an empty Path disables it.
type SQLite struct {
	Path string `yaml:"path"`
}

// Enabled reports whether a database path is configured.
func (s SQLite) Enabled() bool { return s.Path != "" }

type Workers struct {
	Count     int `yaml:"count"`
	QueueSize int `yaml:"queue_size"`
}

type Gateway struct {
	ReplaySize     int      `yaml:"replay_size"`
	SendBuffer     int      `yaml:"send_buffer"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Stream declares one streaming indicator.
type Stream struct {
	ID               string         `yaml:"id"`
	Symbol           string         `yaml:"symbol"`
	Indicator        string         `yaml:"indicator"`
	Params           map[string]any `yaml:"params"`
	BufferSize       int            `yaml:"buffer_size"`
	OffloadThreshold int            `yaml:"offload_threshold"`
	PollInterval     time.Duration  `yaml:"poll_interval"`

	// Timeframe buckets feed bars into longer bars before they reach the
	// stream. Zero passes feed bars through.
	Timeframe time.Duration `yaml:"timeframe"`

	// WarmupBars is how many stored bars seed a stream with no snapshot.
	// Stored bars are counted before resampling.
	WarmupBars int `yaml:"warmup_bars"`

	VWAP *VWAP `yaml:"vwap"`
}

type VWAP struct {
	Multipliers   []float64     `yaml:"multipliers"`
	ResetInterval string        `yaml:"reset_interval"` // daily, session or none
	Timezone      string        `yaml:"timezone"`       // IANA name for the daily rule
	SessionGap    time.Duration `yaml:"session_gap"`
}

// Load reads path (skipped when empty) and applies environment overrides
// and defaults. A .env file in the working directory is loaded first if
// present; variables already set win over it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Service, "SERVICE_NAME")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Redis.ConsumerGroup, "CONSUMER_GROUP")
	setString(&c.Redis.ConsumerName, "CONSUMER_NAME")
	setString(&c.SQLite.Path, "SQLITE_PATH")

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(setInt(&c.Redis.DB, "REDIS_DB"))
	collect(setBool(&c.Redis.Feed, "REDIS_FEED"))
	collect(setBool(&c.Redis.Relay, "REDIS_RELAY"))
	collect(setInt(&c.Workers.Count, "WORKERS"))
	collect(setInt(&c.Workers.QueueSize, "WORKER_QUEUE_SIZE"))
	collect(setDuration(&c.SnapshotInterval, "SNAPSHOT_INTERVAL"))
	collect(setFloat(&c.ComputeRate, "COMPUTE_RATE"))
	collect(setInt(&c.ComputeBurst, "COMPUTE_BURST"))
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Gateway.AllowedOrigins = splitList(v)
	}
	return multierr.Combine(errs...)
}

func (c *Config) applyDefaults() {
	if c.Service == "" {
		c.Service = "indengine"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":9095"
	}
	if c.Redis.ConnectTimeout <= 0 {
		c.Redis.ConnectTimeout = 30 * time.Second
	}
	if c.Redis.SnapshotTTL <= 0 {
		c.Redis.SnapshotTTL = 24 * time.Hour
	}
	if c.Redis.ConsumerGroup == "" {
		c.Redis.ConsumerGroup = "indengine"
	}
	if c.Redis.ConsumerName == "" {
		c.Redis.ConsumerName = "worker-1"
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 30 * time.Second
	}
	if c.ComputeRate <= 0 {
		c.ComputeRate = 50
	}
	if c.ComputeBurst <= 0 {
		c.ComputeBurst = 10
	}
	for i := range c.Streams {
		s := &c.Streams[i]
		if s.Symbol == "" {
			s.Symbol = s.ID
		}
		if s.WarmupBars <= 0 {
			s.WarmupBars = s.BufferSize
		}
	}
}

// Validate checks what the YAML schema cannot.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Streams))
	for i, s := range c.Streams {
		switch {
		case s.ID == "":
			errs = append(errs, fmt.Errorf("streams[%d]: id is required", i))
		case seen[s.ID]:
			errs = append(errs, fmt.Errorf("streams[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = true
		if s.Indicator == "" {
			errs = append(errs, fmt.Errorf("streams[%d]: indicator is required", i))
		}
		if s.BufferSize < 0 || s.OffloadThreshold < 0 || s.PollInterval < 0 || s.Timeframe < 0 {
			errs = append(errs, fmt.Errorf("streams[%d]: sizes and intervals must not be negative", i))
		}
	}
	if c.Redis.Relay && !c.Redis.Enabled() {
		errs = append(errs, errors.New("redis.relay needs redis.addr"))
	}
	if c.Redis.Feed && !c.Redis.Enabled() {
		errs = append(errs, errors.New("redis.feed needs redis.addr"))
	}
	return multierr.Combine(errs...)
}

// Symbols returns the distinct symbols of all streams, in declaration order.
func (c *Config) Symbols() []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range c.Streams {
		if !seen[s.Symbol] {
			seen[s.Symbol] = true
			out = append(out, s.Symbol)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
