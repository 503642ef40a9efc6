package lease

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	logpkg "github.com/rzbill/hostlive/pkg/log"
)

// Role is an instance's position in the election for one scope.
type Role int

const (
	RoleUnleased Role = iota
	RoleFollower
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleUnleased:
		return "unleased"
	case RoleFollower:
		return "follower"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// Config parameterizes a Coordinator.
type Config struct {
	// Key is the lease store key for the scope.
	Key string
	// Owner identifies this instance.
	Owner string
	// TTL is the lease lifetime and the follower takeover threshold.
	TTL time.Duration
	// Jitter is added to every expiry, uniformly in [0, Jitter).
	Jitter            time.Duration
	HeartbeatInterval time.Duration
	FollowerTickMin   time.Duration
	FollowerTickMax   time.Duration
	// Rand returns a value in [0,1). Nil uses math/rand/v2.
	Rand func() float64
}

// State is the coordinator's position after an operation.
type State struct {
	Role     Role
	Degraded bool
	// Changed is set when Role or Degraded differ from before the call.
	Changed bool
	// Takeover is set when leadership was taken from a stale lease held by
	// another owner.
	Takeover bool
	// Holder is the owner of the lease as last read, when known.
	Holder string
}

// Coordinator runs the election for one scope on behalf of one instance.
// Its methods are safe for concurrent use but are meant to be driven by a
// single channel runner.
type Coordinator struct {
	store  Store
	cfg    Config
	logger logpkg.Logger

	mu        sync.Mutex
	role      Role
	degraded  bool
	holder    string
	lastRenew time.Time
}

// NewCoordinator creates a coordinator in RoleUnleased.
func NewCoordinator(store Store, cfg Config, logger logpkg.Logger) *Coordinator {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Coordinator{
		store:  store,
		cfg:    cfg,
		logger: logger.WithComponent("lease").With(logpkg.Str("key", cfg.Key), logpkg.Str("owner", cfg.Owner)),
	}
}

// Owner returns this instance's owner id.
func (c *Coordinator) Owner() string { return c.cfg.Owner }

// Role returns the current role.
func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Degraded reports whether leadership is held without store confirmation.
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// LastRenew returns the time of the last successful acquire or renewal.
func (c *Coordinator) LastRenew() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRenew
}

// TryAcquire reads the lease and takes it when it is absent, corrupt,
// expired, or already ours. Otherwise the instance becomes a follower.
func (c *Coordinator) TryAcquire(ctx context.Context, now time.Time) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tryAcquireLocked(ctx, now)
}

func (c *Coordinator) tryAcquireLocked(ctx context.Context, now time.Time) State {
	prevRole, prevDegraded := c.role, c.degraded

	cur, err := c.store.Read(ctx, c.cfg.Key)
	switch {
	case err == nil && cur.Fresh(now) && cur.Owner != c.cfg.Owner:
		c.holder = cur.Owner
		return c.settle(prevRole, prevDegraded, RoleFollower, false, false)
	case err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrCorrupt):
		return c.degrade(prevRole, prevDegraded, err)
	}
	takeover := err == nil && cur.Owner != c.cfg.Owner

	ok, err := c.store.WriteIfFresh(ctx, c.cfg.Key, c.record(now), now)
	if err != nil {
		return c.degrade(prevRole, prevDegraded, err)
	}
	if !ok {
		return c.refreshHolder(ctx, now, prevRole, prevDegraded)
	}

	confirmed, err := c.store.Read(ctx, c.cfg.Key)
	if err != nil {
		return c.degrade(prevRole, prevDegraded, err)
	}
	c.holder = confirmed.Owner
	if confirmed.Owner != c.cfg.Owner {
		return c.settle(prevRole, prevDegraded, RoleFollower, false, false)
	}
	c.lastRenew = now
	return c.settle(prevRole, prevDegraded, RoleLeader, false, takeover && prevRole != RoleLeader)
}

// Renew extends a held lease. A failed conditional write means another
// instance holds a fresh lease and this one demotes to follower. A degraded
// leader retries normal election instead.
func (c *Coordinator) Renew(ctx context.Context, now time.Time) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	prevRole, prevDegraded := c.role, c.degraded
	if c.role != RoleLeader {
		return c.settle(prevRole, prevDegraded, c.role, c.degraded, false)
	}
	if c.degraded {
		return c.tryAcquireLocked(ctx, now)
	}
	ok, err := c.store.WriteIfFresh(ctx, c.cfg.Key, c.record(now), now)
	if err != nil {
		return c.degrade(prevRole, prevDegraded, err)
	}
	if !ok {
		c.logger.Info("lease taken by another instance; stepping down")
		return c.refreshHolder(ctx, now, prevRole, prevDegraded)
	}
	c.lastRenew = now
	c.holder = c.cfg.Owner
	return c.settle(prevRole, prevDegraded, RoleLeader, false, false)
}

// FollowerTick checks lease freshness and attempts a takeover when it has
// gone stale. Leaders are left untouched.
func (c *Coordinator) FollowerTick(ctx context.Context, now time.Time) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	prevRole, prevDegraded := c.role, c.degraded
	if c.role == RoleLeader {
		return c.settle(prevRole, prevDegraded, c.role, c.degraded, false)
	}
	cur, err := c.store.Read(ctx, c.cfg.Key)
	if err == nil && cur.Fresh(now) && cur.Owner != c.cfg.Owner {
		c.holder = cur.Owner
		return c.settle(prevRole, prevDegraded, RoleFollower, false, false)
	}
	return c.tryAcquireLocked(ctx, now)
}

// ObserveHeartbeat demotes a leader that sees another owner's heartbeat
// stamped at or after its own last renewal. Degraded leaders cannot confirm
// the other claim and ignore it.
func (c *Coordinator) ObserveHeartbeat(owner string, at time.Time) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	prevRole, prevDegraded := c.role, c.degraded
	if owner == "" || owner == c.cfg.Owner || c.degraded {
		return c.settle(prevRole, prevDegraded, c.role, c.degraded, false)
	}
	if c.role == RoleLeader && !at.Before(c.lastRenew) {
		c.holder = owner
		c.logger.Info("observed newer leader heartbeat; stepping down", logpkg.Str("leader", owner))
		return c.settle(prevRole, prevDegraded, RoleFollower, false, false)
	}
	if c.role != RoleLeader {
		c.holder = owner
	}
	return c.settle(prevRole, prevDegraded, c.role, c.degraded, false)
}

// Lapse drops leadership without touching the store; the stored lease
// expires on its own. Used when the instance stops renewing.
func (c *Coordinator) Lapse() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settle(c.role, c.degraded, RoleUnleased, false, false)
}

// NextFollowerTick returns a random delay in [FollowerTickMin, FollowerTickMax].
func (c *Coordinator) NextFollowerTick() time.Duration {
	span := c.cfg.FollowerTickMax - c.cfg.FollowerTickMin
	if span <= 0 {
		return c.cfg.FollowerTickMin
	}
	return c.cfg.FollowerTickMin + time.Duration(c.rand()*float64(span+1))
}

// HeartbeatInterval returns the renewal interval.
func (c *Coordinator) HeartbeatInterval() time.Duration { return c.cfg.HeartbeatInterval }

// TTL returns the lease lifetime.
func (c *Coordinator) TTL() time.Duration { return c.cfg.TTL }

func (c *Coordinator) record(now time.Time) Record {
	exp := now.Add(c.cfg.TTL)
	if c.cfg.Jitter > 0 {
		exp = exp.Add(time.Duration(c.rand() * float64(c.cfg.Jitter)))
	}
	return Record{Owner: c.cfg.Owner, ExpiresAt: exp.UnixMilli()}
}

func (c *Coordinator) rand() float64 {
	if c.cfg.Rand != nil {
		return c.cfg.Rand()
	}
	return rand.Float64()
}

func (c *Coordinator) refreshHolder(ctx context.Context, now time.Time, prevRole Role, prevDegraded bool) State {
	if cur, err := c.store.Read(ctx, c.cfg.Key); err == nil {
		c.holder = cur.Owner
	}
	return c.settle(prevRole, prevDegraded, RoleFollower, false, false)
}

func (c *Coordinator) degrade(prevRole Role, prevDegraded bool, err error) State {
	if !prevDegraded {
		c.logger.Warn("lease store unavailable; running as degraded leader", logpkg.Err(err))
	}
	c.holder = c.cfg.Owner
	return c.settle(prevRole, prevDegraded, RoleLeader, true, false)
}

func (c *Coordinator) settle(prevRole Role, prevDegraded bool, role Role, degraded, takeover bool) State {
	c.role, c.degraded = role, degraded
	changed := role != prevRole || degraded != prevDegraded
	if changed {
		c.logger.Debug("role changed",
			logpkg.Str("from", prevRole.String()),
			logpkg.Str("to", role.String()),
			logpkg.Bool("degraded", degraded))
	}
	return State{Role: role, Degraded: degraded, Changed: changed, Takeover: takeover, Holder: c.holder}
}
