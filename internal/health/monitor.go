package health

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	logpkg "github.com/rzbill/hostlive/pkg/log"
)

// Origin tells where a successful cycle's data came from.
type Origin string

const (
	OriginPoll   Origin = "poll"
	OriginFanout Origin = "fanout"
)

// Snapshot is the read-only health of one channel on one instance.
type Snapshot struct {
	Channel             string    `json:"channel"`
	Instance            string    `json:"instance,omitempty"`
	IsLive              bool      `json:"isLive"`
	LastEventAt         time.Time `json:"lastEventAt,omitzero"`
	LastSuccessAt       time.Time `json:"lastSuccessAt,omitzero"`
	LastOrigin          Origin    `json:"lastOrigin,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
	Role                string    `json:"role"`
	Degraded            bool      `json:"degraded"`
}

// Observer is called with every new snapshot, on the writer's goroutine.
type Observer func(Snapshot)

// Cycle describes one finished poll for metrics and telemetry.
type Cycle struct {
	Outcome   string
	Events    int
	Latency   time.Duration
	NextDelay time.Duration
}

// Options configures a Monitor.
type Options struct {
	Instance string
	// LiveFailureThreshold is the number of consecutive failures after which
	// the channel stops being live. Defaults to 3.
	LiveFailureThreshold int
	// TelemetrySampleRate is the fraction of cycles logged, in [0,1].
	TelemetrySampleRate float64
	Metrics             *Metrics
	Logger              logpkg.Logger
	// Rand returns a value in [0,1). Nil uses math/rand/v2.
	Rand func() float64
}

// Monitor tracks one channel.
type Monitor struct {
	opts   Options
	logger logpkg.Logger
	cur    atomic.Pointer[Snapshot]

	mu        sync.Mutex
	observers []Observer
}

// NewMonitor creates a monitor for channel in the unleased, not-live state.
func NewMonitor(channel string, opts Options) *Monitor {
	if opts.LiveFailureThreshold <= 0 {
		opts.LiveFailureThreshold = 3
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	m := &Monitor{
		opts:   opts,
		logger: logger.WithComponent("health").With(logpkg.Channel(channel)),
	}
	m.cur.Store(&Snapshot{Channel: channel, Instance: opts.Instance, Role: "unleased"})
	return m
}

// AddObserver registers fn for future snapshots.
func (m *Monitor) AddObserver(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Snapshot returns the current snapshot.
func (m *Monitor) Snapshot() Snapshot { return *m.cur.Load() }

// RecordSuccess resets failures and marks the channel live.
func (m *Monitor) RecordSuccess(now time.Time, events int, origin Origin) Snapshot {
	return m.update(func(s *Snapshot) {
		s.ConsecutiveFailures = 0
		s.LastError = ""
		s.LastSuccessAt = now
		s.LastOrigin = origin
		if events > 0 {
			s.LastEventAt = now
		}
		s.IsLive = true
		m.opts.Metrics.delivered(s.Channel, origin, events)
	})
}

// RecordFailure increments the failure streak. The channel stays live until
// the streak reaches the threshold.
func (m *Monitor) RecordFailure(now time.Time, err error) Snapshot {
	return m.update(func(s *Snapshot) {
		s.ConsecutiveFailures++
		if err != nil {
			s.LastError = err.Error()
		}
		if s.ConsecutiveFailures >= m.opts.LiveFailureThreshold {
			s.IsLive = false
		}
	})
}

// SetRole records the election role.
func (m *Monitor) SetRole(role string, degraded bool) Snapshot {
	return m.update(func(s *Snapshot) {
		s.Role = role
		s.Degraded = degraded
	})
}

// ObserveCycle counts a finished cycle and logs a sampled telemetry line.
func (m *Monitor) ObserveCycle(c Cycle) {
	s := m.cur.Load()
	m.opts.Metrics.cycle(s.Channel, c)
	if m.opts.TelemetrySampleRate <= 0 || m.opts.Rand() >= m.opts.TelemetrySampleRate {
		return
	}
	m.logger.Info("realtime cycle",
		logpkg.Str("outcome", c.Outcome),
		logpkg.Int("events", c.Events),
		logpkg.Dur("latency", c.Latency),
		logpkg.Dur("next_delay", c.NextDelay),
		logpkg.Bool("live", s.IsLive),
		logpkg.Str("role", s.Role),
		logpkg.Int("consecutive_failures", s.ConsecutiveFailures))
}

// ObserveTakeover counts a lease takeover by this instance.
func (m *Monitor) ObserveTakeover() {
	m.opts.Metrics.takeover(m.cur.Load().Channel)
}

// Close removes the channel's gauges.
func (m *Monitor) Close() {
	s := m.cur.Load()
	m.opts.Metrics.forget(s.Channel, s.Instance)
}

func (m *Monitor) update(fn func(*Snapshot)) Snapshot {
	m.mu.Lock()
	next := *m.cur.Load()
	fn(&next)
	m.cur.Store(&next)
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	m.opts.Metrics.snapshot(next)
	for _, o := range observers {
		o(next)
	}
	return next
}
