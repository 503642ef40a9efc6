package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rzbill/hostlive/internal/event"
	logpkg "github.com/rzbill/hostlive/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Session    Session       `json:"session" yaml:"session"`
	Endpoint   Endpoint      `json:"endpoint" yaml:"endpoint"`
	Channels   []string      `json:"channels" yaml:"channels" env:"HOSTLIVE_CHANNELS" env-separator:","`
	Instances  int           `json:"instances" yaml:"instances" env:"HOSTLIVE_INSTANCES"`
	Lease      Lease         `json:"lease" yaml:"lease"`
	Backoff    Backoff       `json:"backoff" yaml:"backoff"`
	Visibility Visibility    `json:"visibility" yaml:"visibility"`
	Health     Health        `json:"health" yaml:"health"`
	Storage    Storage       `json:"storage" yaml:"storage"`
	Redis      Redis         `json:"redis" yaml:"redis"`
	Status     Status        `json:"status" yaml:"status"`
	Tracing    Tracing       `json:"tracing" yaml:"tracing"`
	Log        logpkg.Config `json:"log" yaml:"log"`
}

// Session identifies the authenticated session all instances share.
type Session struct {
	Token string `json:"token" yaml:"token" env:"HOSTLIVE_SESSION_TOKEN"`
}

// Endpoint describes the subscribe endpoint.
type Endpoint struct {
	BaseURL string `json:"baseURL" yaml:"baseURL" env:"HOSTLIVE_ENDPOINT"`
	// LongPollWindow is how long the server may hold a subscribe request.
	LongPollWindow time.Duration `json:"longPollWindow" yaml:"longPollWindow" env:"HOSTLIVE_LONG_POLL_WINDOW"`
	// Filter is applied to every channel, e.g. propertyId=42.
	Filter map[string]string `json:"filter" yaml:"filter" env:"HOSTLIVE_FILTER" env-separator:","`
	// MaxBodyBytes caps a subscribe response body. Larger bodies fail the
	// poll as a transport error.
	MaxBodyBytes int64 `json:"maxBodyBytes" yaml:"maxBodyBytes" env:"HOSTLIVE_MAX_BODY_BYTES"`
}

// Lease carries leader election timings.
type Lease struct {
	// Backend is memory, pebble, or redis.
	Backend           string        `json:"backend" yaml:"backend" env:"HOSTLIVE_LEASE_BACKEND"`
	TTL               time.Duration `json:"ttl" yaml:"ttl" env:"HOSTLIVE_LEASE_TTL"`
	Jitter            time.Duration `json:"jitter" yaml:"jitter" env:"HOSTLIVE_LEASE_JITTER"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval" yaml:"heartbeatInterval" env:"HOSTLIVE_LEASE_HEARTBEAT"`
	FollowerTickMin   time.Duration `json:"followerTickMin" yaml:"followerTickMin" env:"HOSTLIVE_FOLLOWER_TICK_MIN"`
	FollowerTickMax   time.Duration `json:"followerTickMax" yaml:"followerTickMax" env:"HOSTLIVE_FOLLOWER_TICK_MAX"`
}

// Backoff carries the poll delay bands.
type Backoff struct {
	MinDelay           time.Duration `json:"minDelay" yaml:"minDelay" env:"HOSTLIVE_BACKOFF_MIN"`
	MaxDelay           time.Duration `json:"maxDelay" yaml:"maxDelay" env:"HOSTLIVE_BACKOFF_MAX"`
	FastEmptyThreshold time.Duration `json:"fastEmptyThreshold" yaml:"fastEmptyThreshold" env:"HOSTLIVE_BACKOFF_FAST_EMPTY"`
	FastEmptyMin       time.Duration `json:"fastEmptyMin" yaml:"fastEmptyMin" env:"HOSTLIVE_BACKOFF_FAST_EMPTY_MIN"`
	FastEmptyMax       time.Duration `json:"fastEmptyMax" yaml:"fastEmptyMax" env:"HOSTLIVE_BACKOFF_FAST_EMPTY_MAX"`
	HeartbeatDelay     time.Duration `json:"heartbeatDelay" yaml:"heartbeatDelay" env:"HOSTLIVE_BACKOFF_HEARTBEAT"`
}

// Visibility carries foreground/background debounce.
type Visibility struct {
	Debounce time.Duration `json:"debounce" yaml:"debounce" env:"HOSTLIVE_VISIBILITY_DEBOUNCE"`
}

// Health carries liveness and telemetry tunables.
type Health struct {
	LiveFailureThreshold int     `json:"liveFailureThreshold" yaml:"liveFailureThreshold" env:"HOSTLIVE_LIVE_FAILURES"`
	TelemetrySampleRate  float64 `json:"telemetrySampleRate" yaml:"telemetrySampleRate" env:"HOSTLIVE_TELEMETRY_SAMPLE_RATE"`
}

// Storage configures the Pebble store used for cursors and pebble leases.
type Storage struct {
	DataDir string `json:"dataDir" yaml:"dataDir" env:"HOSTLIVE_DATA_DIR"`
	// Fsync is always, interval, or never.
	Fsync string `json:"fsync" yaml:"fsync" env:"HOSTLIVE_FSYNC"`
	// Cursors is memory or pebble.
	Cursors string `json:"cursors" yaml:"cursors" env:"HOSTLIVE_CURSOR_BACKEND"`
}

// Redis configures the redis lease store and fanout topic.
type Redis struct {
	Addr     string `json:"addr" yaml:"addr" env:"HOSTLIVE_REDIS_ADDR"`
	Password string `json:"password" yaml:"password" env:"HOSTLIVE_REDIS_PASSWORD"`
	DB       int    `json:"db" yaml:"db" env:"HOSTLIVE_REDIS_DB"`
}

// Status configures the observability listeners. Empty disables a listener.
type Status struct {
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr" env:"HOSTLIVE_STATUS_HTTP"`
	GRPCAddr string `json:"grpcAddr" yaml:"grpcAddr" env:"HOSTLIVE_STATUS_GRPC"`
}

// Tracing configures the optional OTLP exporter.
type Tracing struct {
	OTLPEndpoint string `json:"otlpEndpoint" yaml:"otlpEndpoint" env:"HOSTLIVE_OTLP_ENDPOINT"`
	ServiceName  string `json:"serviceName" yaml:"serviceName" env:"HOSTLIVE_SERVICE_NAME"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Endpoint: Endpoint{
			BaseURL:        "http://127.0.0.1:8080",
			LongPollWindow: 25 * time.Second,
			MaxBodyBytes:   32 << 20,
		},
		Channels:  []string{"finance", "guest-checkin", "audit-logs", "properties", "dashboard"},
		Instances: 1,
		Lease: Lease{
			Backend:           "memory",
			TTL:               18 * time.Second,
			Jitter:            300 * time.Millisecond,
			HeartbeatInterval: 10 * time.Second,
			FollowerTickMin:   3 * time.Second,
			FollowerTickMax:   5 * time.Second,
		},
		Backoff: Backoff{
			MinDelay:           500 * time.Millisecond,
			MaxDelay:           5 * time.Second,
			FastEmptyThreshold: 1500 * time.Millisecond,
			FastEmptyMin:       2 * time.Second,
			FastEmptyMax:       5 * time.Second,
			HeartbeatDelay:     1200 * time.Millisecond,
		},
		Visibility: Visibility{Debounce: 500 * time.Millisecond},
		Health: Health{
			LiveFailureThreshold: 3,
			TelemetrySampleRate:  0.02,
		},
		Storage: Storage{Fsync: "interval", Cursors: "memory"},
		Redis:   Redis{Addr: "127.0.0.1:6379"},
		Tracing: Tracing{ServiceName: "hostlive"},
		Log:     logpkg.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) on top of
// the defaults, then overlays HOSTLIVE_* environment variables. If path is
// empty, only the environment overlay is applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if err := FromEnv(&cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return Config{}, err
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv overlays HOSTLIVE_* environment variables onto cfg.
func FromEnv(cfg *Config) error {
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("read env: %w", err)
	}
	return nil
}

// Validate checks cross-field invariants the coordinator relies on.
func (c Config) Validate() error {
	var errs []error
	if c.Lease.TTL <= 0 {
		errs = append(errs, errors.New("lease.ttl must be positive"))
	}
	if c.Lease.HeartbeatInterval <= 0 || c.Lease.HeartbeatInterval >= c.Lease.TTL {
		errs = append(errs, fmt.Errorf("lease.heartbeatInterval (%s) must be positive and shorter than lease.ttl (%s)", c.Lease.HeartbeatInterval, c.Lease.TTL))
	}
	if c.Lease.FollowerTickMin <= 0 || c.Lease.FollowerTickMax < c.Lease.FollowerTickMin {
		errs = append(errs, errors.New("lease.followerTickMin/Max must be positive and ordered"))
	}
	if c.Backoff.MinDelay <= 0 || c.Backoff.MaxDelay < c.Backoff.MinDelay {
		errs = append(errs, errors.New("backoff.minDelay/maxDelay must be positive and ordered"))
	}
	if c.Backoff.FastEmptyMax < c.Backoff.FastEmptyMin {
		errs = append(errs, errors.New("backoff.fastEmptyMax must not be below fastEmptyMin"))
	}
	switch strings.ToLower(c.Lease.Backend) {
	case "memory", "pebble", "redis":
	default:
		errs = append(errs, fmt.Errorf("lease.backend %q: use memory|pebble|redis", c.Lease.Backend))
	}
	switch strings.ToLower(c.Storage.Cursors) {
	case "memory", "pebble":
	default:
		errs = append(errs, fmt.Errorf("storage.cursors %q: use memory|pebble", c.Storage.Cursors))
	}
	if c.Health.TelemetrySampleRate < 0 || c.Health.TelemetrySampleRate > 1 {
		errs = append(errs, errors.New("health.telemetrySampleRate must be within [0,1]"))
	}
	if err := event.Filter(c.Endpoint.Filter).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("endpoint.filter: %w", err))
	}
	if c.Endpoint.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("endpoint.maxBodyBytes must not be negative"))
	}
	if len(c.Channels) == 0 {
		errs = append(errs, errors.New("at least one channel is required"))
	}
	if c.Instances < 1 {
		errs = append(errs, errors.New("instances must be at least 1"))
	}
	return errors.Join(errs...)
}
