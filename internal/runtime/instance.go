package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rzbill/hostlive/internal/backoff"
	"github.com/rzbill/hostlive/internal/channel"
	"github.com/rzbill/hostlive/internal/dispatch"
	"github.com/rzbill/hostlive/internal/event"
	"github.com/rzbill/hostlive/internal/health"
	"github.com/rzbill/hostlive/internal/lease"
	"github.com/rzbill/hostlive/internal/transport"
	"github.com/rzbill/hostlive/internal/visibility"
	logpkg "github.com/rzbill/hostlive/pkg/log"
	"golang.org/x/sync/errgroup"
)

// Instance is one participant in the election: the equivalent of one open
// dashboard sharing the session.
type Instance struct {
	id         string
	gate       *visibility.Gate
	dispatcher *dispatch.Dispatcher
	runners    []*channel.Runner
	monitors   []*health.Monitor
	logger     logpkg.Logger
}

// NewInstance creates an instance with one runner per configured channel.
func (r *Runtime) NewInstance() (*Instance, error) {
	cfg := r.config
	id := uuid.NewString()
	logger := r.logger.With(logpkg.Instance(id))
	inst := &Instance{
		id:         id,
		gate:       visibility.NewGate(cfg.Visibility.Debounce, time.Now()),
		dispatcher: dispatch.New(logger),
		logger:     logger,
	}

	leaseCfg := lease.Config{
		TTL:               cfg.Lease.TTL,
		Jitter:            cfg.Lease.Jitter,
		HeartbeatInterval: cfg.Lease.HeartbeatInterval,
		FollowerTickMin:   cfg.Lease.FollowerTickMin,
		FollowerTickMax:   cfg.Lease.FollowerTickMax,
	}
	policy := backoff.Policy{
		MinDelay:           cfg.Backoff.MinDelay,
		MaxDelay:           cfg.Backoff.MaxDelay,
		FastEmptyThreshold: cfg.Backoff.FastEmptyThreshold,
		FastEmptyMin:       cfg.Backoff.FastEmptyMin,
		FastEmptyMax:       cfg.Backoff.FastEmptyMax,
		HeartbeatDelay:     cfg.Backoff.HeartbeatDelay,
	}

	for _, ch := range cfg.Channels {
		mon := health.NewMonitor(ch, health.Options{
			Instance:             id,
			LiveFailureThreshold: cfg.Health.LiveFailureThreshold,
			TelemetrySampleRate:  cfg.Health.TelemetrySampleRate,
			Metrics:              r.metrics,
			Logger:               logger,
		})
		runner, err := channel.New(channel.Options{
			Channel:     ch,
			Filter:      event.Filter(cfg.Endpoint.Filter),
			Owner:       id,
			SessionHash: r.sessionHash,
			Client:      transport.NewClient(r.requester, r.tokens, transport.WithLogger(logger)),
			Cursors:     r.cursors,
			Leases:      r.leases,
			Topic:       r.topic,
			Dispatcher:  inst.dispatcher,
			Gate:        inst.gate,
			Health:      mon,
			Lease:       leaseCfg,
			Backoff:     policy,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch, err)
		}
		inst.runners = append(inst.runners, runner)
		inst.monitors = append(inst.monitors, mon)
	}

	r.mu.Lock()
	r.instances = append(r.instances, inst)
	r.mu.Unlock()
	return inst, nil
}

// ID returns the instance owner id.
func (i *Instance) ID() string { return i.id }

// Gate returns the instance visibility gate.
func (i *Instance) Gate() *visibility.Gate { return i.gate }

// Dispatcher returns the instance dispatcher for local subscriptions.
func (i *Instance) Dispatcher() *dispatch.Dispatcher { return i.dispatcher }

// Runner returns the runner for channel, or nil.
func (i *Instance) Runner(name string) *channel.Runner {
	for _, r := range i.runners {
		if r.Channel() == name {
			return r
		}
	}
	return nil
}

// Run runs every channel runner until ctx is cancelled.
func (i *Instance) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range i.runners {
		g.Go(func() error { return r.Run(ctx) })
	}
	i.logger.Info("instance started", logpkg.Int("channels", len(i.runners)))
	return g.Wait()
}

// restoreTimeout bounds the rollback of a partial filter change.
const restoreTimeout = 5 * time.Second

// SetFilter switches every channel to filter f. If one channel fails, the
// channels already switched go back to their previous filter with their
// stored cursors.
func (i *Instance) SetFilter(ctx context.Context, f event.Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	prev := make([]event.Filter, 0, len(i.runners))
	for n, r := range i.runners {
		prev = append(prev, r.Filter())
		if err := r.SetFilter(ctx, f); err != nil {
			err = fmt.Errorf("channel %s: %w", r.Channel(), err)
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
			defer cancel()
			for k := 0; k < n; k++ {
				if rerr := i.runners[k].ResumeFilter(rctx, prev[k]); rerr != nil {
					err = errors.Join(err, fmt.Errorf("restore channel %s: %w", i.runners[k].Channel(), rerr))
				}
			}
			i.logger.Warn("filter change rolled back", logpkg.Err(err))
			return err
		}
	}
	return nil
}

// Filter returns the filter of the instance's first channel; all channels
// share one filter outside a failed change.
func (i *Instance) Filter() event.Filter {
	if len(i.runners) == 0 {
		return nil
	}
	return i.runners[0].Filter()
}

// Snapshots returns the health of every channel of the instance.
func (i *Instance) Snapshots() []health.Snapshot {
	out := make([]health.Snapshot, 0, len(i.runners))
	for _, r := range i.runners {
		out = append(out, r.Health())
	}
	return out
}

func (i *Instance) closeMonitors() {
	for _, m := range i.monitors {
		m.Close()
	}
}
