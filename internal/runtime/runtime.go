package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	cfgpkg "github.com/rzbill/hostlive/internal/config"
	"github.com/rzbill/hostlive/internal/cursor"
	"github.com/rzbill/hostlive/internal/event"
	"github.com/rzbill/hostlive/internal/fanout"
	"github.com/rzbill/hostlive/internal/health"
	"github.com/rzbill/hostlive/internal/lease"
	pebblestore "github.com/rzbill/hostlive/internal/storage/pebble"
	"github.com/rzbill/hostlive/internal/transport"
	logpkg "github.com/rzbill/hostlive/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
	// Requester overrides the HTTP subscribe requester.
	Requester transport.Requester
	// Tokens overrides the session token source. Defaults to the configured
	// static token.
	Tokens transport.TokenSource
}

// Runtime owns the process-wide backends.
type Runtime struct {
	config      cfgpkg.Config
	logger      logpkg.Logger
	sessionHash string

	db        *pebblestore.DB
	redis     redis.UniversalClient
	leases    lease.Store
	topic     fanout.Topic
	cursors   cursor.Store
	requester transport.Requester
	tokens    transport.TokenSource

	registry *prometheus.Registry
	metrics  *health.Metrics

	mu        sync.Mutex
	instances []*Instance
}

// Open validates the configuration and opens the configured backends.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt := &Runtime{
		config:      cfg,
		logger:      logger.WithComponent("runtime"),
		sessionHash: event.SessionHash(cfg.Session.Token),
		registry:    reg,
		metrics:     health.NewMetrics(reg),
		tokens:      opts.Tokens,
		requester:   opts.Requester,
	}
	if rt.tokens == nil {
		rt.tokens = transport.StaticToken(cfg.Session.Token)
	}

	leaseBackend := strings.ToLower(cfg.Lease.Backend)
	cursorBackend := strings.ToLower(cfg.Storage.Cursors)

	if leaseBackend == "pebble" || cursorBackend == "pebble" {
		if err := rt.openPebble(); err != nil {
			return nil, err
		}
	}
	if leaseBackend == "redis" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	switch leaseBackend {
	case "pebble":
		rt.leases = lease.NewPebbleStore(rt.db)
	case "redis":
		rt.leases = lease.NewRedisStore(rt.redis)
	default:
		rt.leases = lease.NewMemoryStore()
	}
	if rt.redis != nil {
		rt.topic = fanout.NewRedisTopic(rt.redis, fanout.DefaultBuffer, logger)
	} else {
		rt.topic = fanout.NewHub(fanout.DefaultBuffer)
	}
	if cursorBackend == "pebble" {
		rt.cursors = cursor.NewPebbleStore(rt.db, rt.sessionHash)
	} else {
		rt.cursors = cursor.NewMemoryStore()
	}

	if rt.requester == nil {
		req, err := transport.NewHTTPRequester(cfg.Endpoint.BaseURL, cfg.Endpoint.LongPollWindow,
			transport.WithMaxBodyBytes(cfg.Endpoint.MaxBodyBytes))
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.requester = req
	}

	rt.logger.Info("runtime opened",
		logpkg.Str("lease_backend", leaseBackend),
		logpkg.Str("cursor_backend", cursorBackend),
		logpkg.Str("session", rt.sessionHash))
	return rt, nil
}

func (r *Runtime) openPebble() error {
	dir := r.config.Storage.DataDir
	if dir == "" {
		dir = cfgpkg.DefaultDataDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	mode, err := pebblestore.ParseFsyncMode(r.config.Storage.Fsync)
	if err != nil {
		return err
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: mode, Metrics: r.metrics})
	if err != nil {
		return err
	}
	r.db = db
	return nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	var errs []error
	r.mu.Lock()
	for _, inst := range r.instances {
		inst.closeMonitors()
	}
	r.instances = nil
	r.mu.Unlock()
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}

// CheckHealth verifies the configured backends answer.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db != nil {
		if _, err := r.db.Get([]byte("hostlive/probe")); err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
			return fmt.Errorf("pebble: %w", err)
		}
	}
	if r.redis != nil {
		if err := r.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// SessionHash returns the hashed session identifier used in keys.
func (r *Runtime) SessionHash() string { return r.sessionHash }

// Registry returns the Prometheus registry holding hostlive metrics.
func (r *Runtime) Registry() *prometheus.Registry { return r.registry }

// Leases returns the shared lease store.
func (r *Runtime) Leases() lease.Store { return r.leases }

// Cursors returns the shared cursor store.
func (r *Runtime) Cursors() cursor.Store { return r.cursors }

// Instances returns the instances created so far.
func (r *Runtime) Instances() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Instance(nil), r.instances...)
}

// Instance returns the instance with the given id, or nil.
func (r *Runtime) Instance(id string) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.instances {
		if inst.id == id {
			return inst
		}
	}
	return nil
}

// Snapshots returns health for every channel of every instance, ordered by
// channel then instance.
func (r *Runtime) Snapshots() []health.Snapshot {
	var out []health.Snapshot
	for _, inst := range r.Instances() {
		out = append(out, inst.Snapshots()...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].Instance < out[j].Instance
	})
	return out
}

// LeaseView is the stored lease of one channel scope.
type LeaseView struct {
	Channel string
	Filter  string
	Key     string
	Record  lease.Record
	Err     error
}

// LeaseViews reads the lease of every configured channel under each filter
// its runners currently use, or the configured filter when no instance is
// running.
func (r *Runtime) LeaseViews(ctx context.Context) []LeaseView {
	insts := r.Instances()
	out := make([]LeaseView, 0, len(r.config.Channels))
	for _, ch := range r.config.Channels {
		var scopes []event.Scope
		seen := make(map[string]bool)
		for _, inst := range insts {
			run := inst.Runner(ch)
			if run == nil {
				continue
			}
			scope := event.NewScope(ch, run.Filter())
			if !seen[scope.Filter] {
				seen[scope.Filter] = true
				scopes = append(scopes, scope)
			}
		}
		if len(scopes) == 0 {
			scopes = append(scopes, event.NewScope(ch, r.config.Endpoint.Filter))
		}
		sort.Slice(scopes, func(i, j int) bool { return scopes[i].Filter < scopes[j].Filter })
		for _, scope := range scopes {
			key := event.LeaseKey(r.sessionHash, scope)
			rec, err := r.leases.Read(ctx, key)
			out = append(out, LeaseView{Channel: ch, Filter: scope.Filter, Key: key, Record: rec, Err: err})
		}
	}
	return out
}

// ResetCursors drops the stored cursors of the given channels, or of every
// configured channel when none are given.
func (r *Runtime) ResetCursors(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		channels = r.config.Channels
	}
	var errs []error
	for _, ch := range channels {
		if err := r.cursors.ResetChannel(ctx, ch); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}
