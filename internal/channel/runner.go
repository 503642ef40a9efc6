package channel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rzbill/hostlive/internal/backoff"
	"github.com/rzbill/hostlive/internal/cursor"
	"github.com/rzbill/hostlive/internal/dispatch"
	"github.com/rzbill/hostlive/internal/event"
	"github.com/rzbill/hostlive/internal/fanout"
	"github.com/rzbill/hostlive/internal/health"
	"github.com/rzbill/hostlive/internal/lease"
	"github.com/rzbill/hostlive/internal/transport"
	"github.com/rzbill/hostlive/internal/visibility"
	logpkg "github.com/rzbill/hostlive/pkg/log"
)

var (
	// ErrStopped is returned by commands sent to a runner that is not running.
	ErrStopped = errors.New("channel runner stopped")
	// ErrLeaderSilent is recorded by a follower that has not heard from the
	// leader for two heartbeat intervals.
	ErrLeaderSilent = errors.New("no fanout from leader")
)

// Options configures a Runner.
type Options struct {
	Channel string
	Filter  event.Filter
	// Owner identifies the instance in leases and fanout messages.
	Owner       string
	SessionHash string

	Client     *transport.Client
	Cursors    cursor.Store
	Leases     lease.Store
	Topic      fanout.Topic
	Dispatcher *dispatch.Dispatcher
	Gate       *visibility.Gate
	Health     *health.Monitor

	// Lease timings. Key and Owner are derived per scope.
	Lease   lease.Config
	Backoff backoff.Policy

	Logger logpkg.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (o *Options) validate() error {
	switch {
	case o.Channel == "":
		return errors.New("channel name required")
	case o.Owner == "":
		return errors.New("owner required")
	case o.Client == nil || o.Cursors == nil || o.Leases == nil || o.Topic == nil:
		return errors.New("client, cursors, leases and topic are required")
	case o.Dispatcher == nil || o.Gate == nil:
		return errors.New("dispatcher and gate are required")
	case o.Lease.TTL <= 0 || o.Lease.HeartbeatInterval <= 0 || o.Lease.HeartbeatInterval >= o.Lease.TTL:
		return fmt.Errorf("heartbeat interval %s must be positive and shorter than ttl %s", o.Lease.HeartbeatInterval, o.Lease.TTL)
	}
	return nil
}

type command struct {
	filter event.Filter
	reset  bool
	done   chan error
}

type pollResult struct {
	gen uint64
	res transport.Result
}

// Runner drives one channel scope.
type Runner struct {
	opts   Options
	logger logpkg.Logger
	health *health.Monitor
	cmds   chan command
	done   chan struct{}
	filter atomic.Pointer[event.Filter]
}

// New validates opts and builds a Runner. Call Run to start it.
func New(opts Options) (*Runner, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNop()
	}
	opts.Filter = opts.Filter.Clone()
	h := opts.Health
	if h == nil {
		h = health.NewMonitor(opts.Channel, health.Options{Instance: opts.Owner})
	}
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		opts:   opts,
		logger: opts.Logger.WithComponent("channel").With(logpkg.Channel(opts.Channel), logpkg.Instance(opts.Owner)),
		health: h,
		cmds:   make(chan command),
		done:   make(chan struct{}),
	}
	r.filter.Store(&opts.Filter)
	return r, nil
}

// Channel returns the channel name.
func (r *Runner) Channel() string { return r.opts.Channel }

// Health returns the latest health snapshot.
func (r *Runner) Health() health.Snapshot { return r.health.Snapshot() }

// Done is closed when Run returns.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Filter returns the filter of the current scope.
func (r *Runner) Filter() event.Filter { return r.filter.Load().Clone() }

// SetFilter switches the runner to a new filter scope. The in-flight poll is
// cancelled, the new scope's cursor is cleared and backoff restarts.
func (r *Runner) SetFilter(ctx context.Context, f event.Filter) error {
	return r.switchScope(ctx, f, true)
}

// ResumeFilter switches to f like SetFilter but keeps the stored cursor of
// f's scope. Used to undo a filter change.
func (r *Runner) ResumeFilter(ctx context.Context, f event.Filter) error {
	return r.switchScope(ctx, f, false)
}

func (r *Runner) switchScope(ctx context.Context, f event.Filter, reset bool) error {
	if err := f.Validate(); err != nil {
		return err
	}
	cmd := command{filter: f.Clone(), reset: reset, done: make(chan error, 1)}
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run blocks until ctx is cancelled. It always returns nil; failures are
// absorbed into health and backoff.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	l := &loop{
		Runner:  r,
		ctx:     ctx,
		results: make(chan pollResult, 1),
		timer:   time.NewTimer(time.Hour),
	}
	l.timer.Stop()
	defer l.timer.Stop()

	gateCh, cancelGate := r.opts.Gate.Subscribe()
	defer cancelGate()

	l.enterScope(r.opts.Filter, false)
	defer l.leaveScope()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.timer.C:
			l.onTimer()
		case pr := <-l.results:
			l.onPollResult(pr)
		case msg, ok := <-l.topicCh:
			if ok {
				l.onFanout(msg)
			} else {
				l.fanoutLost(errors.New("fanout subscription closed"))
			}
		case tr := <-gateCh:
			l.onVisibility(tr)
		case cmd := <-r.cmds:
			l.leaveScope()
			l.enterScope(cmd.filter, cmd.reset)
			cmd.done <- nil
		}
		l.reschedule()
	}
}

// loop is the state owned by the Run goroutine.
type loop struct {
	*Runner
	ctx context.Context

	scope       event.Scope
	filter      event.Filter
	coord       *lease.Coordinator
	topicKey    string
	topicCh     <-chan fanout.Message
	topicCancel func()

	gen        uint64
	cursor     string
	delay      time.Duration
	polling    bool
	pollCancel context.CancelFunc
	results    chan pollResult

	subDelay   time.Duration
	lastFanout time.Time

	timer     *time.Timer
	nextPoll  time.Time
	nextRenew time.Time
	nextTick  time.Time
	nextSub   time.Time
}

func (l *loop) now() time.Time { return l.opts.Now() }

// enterScope starts the state machine for filter f. The stored cursor is
// resumed unless reset is set, as it is on a filter change. The scope is
// fully set up even when the fanout subscription fails; it is retried with
// backoff.
func (l *loop) enterScope(f event.Filter, reset bool) {
	l.filter = f
	l.Runner.filter.Store(&f)
	l.scope = event.NewScope(l.opts.Channel, f)
	l.delay = l.opts.Backoff.Initial()
	l.subDelay = 0
	l.nextPoll, l.nextRenew, l.nextTick, l.nextSub = time.Time{}, time.Time{}, time.Time{}, time.Time{}

	l.cursor = ""
	if reset {
		if err := l.opts.Cursors.Reset(l.ctx, l.scope); err != nil {
			l.logger.Warn("reset cursor", logpkg.Err(err))
		}
	} else if c, err := l.opts.Cursors.Load(l.ctx, l.scope); err != nil {
		l.logger.Warn("load cursor", logpkg.Err(err))
	} else {
		l.cursor = c
	}

	cfg := l.opts.Lease
	cfg.Key = event.LeaseKey(l.opts.SessionHash, l.scope)
	cfg.Owner = l.opts.Owner
	l.coord = lease.NewCoordinator(l.opts.Leases, cfg, l.opts.Logger)
	l.health.SetRole(lease.RoleUnleased.String(), false)

	l.topicKey = event.TopicKey(l.opts.SessionHash, l.scope)

	l.logger.Info("channel scope started", logpkg.Str("scope", l.scope.String()), logpkg.Bool("resumed", l.cursor != ""))
	now := l.now()
	l.lastFanout = now
	if l.opts.Gate.Foreground() {
		l.apply(l.coord.TryAcquire(l.ctx, now), now)
	}
	l.subscribe(now)
	l.reschedule()
}

// subscribe joins the scope's fanout topic, scheduling a retry on failure.
func (l *loop) subscribe(now time.Time) {
	ch, cancel, err := l.opts.Topic.Subscribe(l.ctx, l.topicKey)
	if err != nil {
		l.fanoutLost(fmt.Errorf("subscribe fanout %s: %w", l.scope, err))
		return
	}
	l.topicCh, l.topicCancel = ch, cancel
	l.subDelay, l.nextSub = 0, time.Time{}
	l.lastFanout = now
}

// fanoutLost drops the current subscription and schedules a resubscribe.
func (l *loop) fanoutLost(err error) {
	if l.topicCancel != nil {
		l.topicCancel()
	}
	l.topicCh, l.topicCancel = nil, nil
	l.subDelay = l.opts.Backoff.Next(l.subDelay, backoff.Failure, 0)
	l.nextSub = l.now().Add(l.subDelay)
	l.logger.Warn("fanout unavailable", logpkg.Err(err), logpkg.Dur("retry_in", l.subDelay))
}

func (l *loop) leaveScope() {
	l.cancelPoll()
	l.gen++
	if l.topicCancel != nil {
		l.topicCancel()
		l.topicCancel, l.topicCh = nil, nil
	}
}

func (l *loop) cancelPoll() {
	if l.pollCancel != nil {
		l.pollCancel()
		l.pollCancel = nil
	}
	l.polling = false
}

// apply reacts to a coordinator state.
func (l *loop) apply(st lease.State, now time.Time) {
	if st.Takeover {
		l.health.ObserveTakeover()
		l.logger.Info("took over stale lease")
	}
	if st.Changed {
		l.health.SetRole(st.Role.String(), st.Degraded)
		l.logger.Info("lease role changed", logpkg.Str("role", st.Role.String()), logpkg.Bool("degraded", st.Degraded), logpkg.Str("holder", st.Holder))
	}
	switch st.Role {
	case lease.RoleLeader:
		l.nextTick = time.Time{}
		if st.Changed {
			l.nextRenew = now.Add(l.coord.HeartbeatInterval())
			l.publishHeartbeat(now)
			if l.opts.Gate.Foreground() && !l.polling {
				l.nextPoll = now
			}
		}
	default:
		if st.Changed {
			l.cancelPoll()
			l.gen++
			l.lastFanout = now
		}
		l.nextPoll, l.nextRenew = time.Time{}, time.Time{}
		if l.opts.Gate.Foreground() && l.nextTick.IsZero() {
			l.nextTick = now.Add(l.coord.NextFollowerTick())
		}
	}
}

func (l *loop) onTimer() {
	now := l.now()
	if due(l.nextRenew, now) {
		l.nextRenew = time.Time{}
		l.renew(now)
	}
	if due(l.nextSub, now) {
		l.nextSub = time.Time{}
		l.subscribe(now)
	}
	if due(l.nextTick, now) {
		l.nextTick = time.Time{}
		if l.opts.Gate.Foreground() {
			l.apply(l.coord.FollowerTick(l.ctx, now), now)
			l.checkLeaderSilence(now)
		}
	}
	if due(l.nextPoll, now) {
		l.nextPoll = time.Time{}
		l.startPoll()
	}
}

// checkLeaderSilence records a failure when a follower has heard no fanout
// for two heartbeat intervals.
func (l *loop) checkLeaderSilence(now time.Time) {
	if l.coord.Role() != lease.RoleFollower {
		return
	}
	if silent := now.Sub(l.lastFanout); silent > 2*l.coord.HeartbeatInterval() {
		l.health.RecordFailure(now, fmt.Errorf("%w for %s", ErrLeaderSilent, silent.Round(time.Millisecond)))
	}
}

func (l *loop) renew(now time.Time) {
	if l.coord.Role() != lease.RoleLeader {
		return
	}
	if bg := l.opts.Gate.BackgroundedFor(now); bg >= l.coord.TTL() {
		l.logger.Info("backgrounded past lease ttl; letting lease lapse", logpkg.Dur("backgrounded", bg))
		l.apply(l.coord.Lapse(), now)
		return
	}
	st := l.coord.Renew(l.ctx, now)
	l.apply(st, now)
	if st.Role == lease.RoleLeader {
		if !st.Changed {
			l.publishHeartbeat(now)
		}
		l.nextRenew = now.Add(l.coord.HeartbeatInterval())
	}
}

func (l *loop) startPoll() {
	if l.polling || l.coord.Role() != lease.RoleLeader || !l.opts.Gate.Foreground() {
		return
	}
	ctx, cancel := context.WithCancel(l.ctx)
	l.polling, l.pollCancel = true, cancel
	gen := l.gen
	req := transport.Request{Channel: l.opts.Channel, Cursor: l.cursor, Filter: l.filter}
	client, results := l.opts.Client, l.results
	go func() {
		res := client.Poll(ctx, req)
		cancel()
		select {
		case results <- pollResult{gen: gen, res: res}:
		case <-l.ctx.Done():
		}
	}()
}

func (l *loop) onPollResult(pr pollResult) {
	if pr.gen != l.gen {
		l.logger.Debug("discarding superseded poll result", logpkg.Str("outcome", pr.res.Outcome.String()))
		return
	}
	l.polling, l.pollCancel = false, nil
	res, now := pr.res, l.now()

	var bo backoff.Outcome
	switch res.Outcome {
	case transport.OutcomeEvents:
		bo = backoff.Events
		l.adoptCursor(res.Cursor)
		l.opts.Dispatcher.Dispatch(l.ctx, l.opts.Channel, res.Events)
		l.publish(fanout.Message{Kind: fanout.KindEvents, Events: res.Events, Cursor: res.Cursor}, now)
		l.health.RecordSuccess(now, len(res.Events), health.OriginPoll)
	case transport.OutcomeEmpty:
		bo = backoff.Empty
		l.adoptCursor(res.Cursor)
		l.health.RecordSuccess(now, 0, health.OriginPoll)
	case transport.OutcomeMalformed:
		bo = backoff.Empty
		l.logger.Warn("malformed subscribe response", logpkg.Err(res.Err))
		l.health.RecordSuccess(now, 0, health.OriginPoll)
	case transport.OutcomeError:
		bo = backoff.Failure
		l.logger.Warn("subscribe failed", logpkg.Err(res.Err))
		l.health.RecordFailure(now, res.Err)
	default:
		bo = backoff.Neutral
	}
	l.delay = l.opts.Backoff.Next(l.delay, bo, res.Latency)
	l.health.ObserveCycle(health.Cycle{
		Outcome:   res.Outcome.String(),
		Events:    len(res.Events),
		Latency:   res.Latency,
		NextDelay: l.delay,
	})
	if l.coord.Role() == lease.RoleLeader && l.opts.Gate.Foreground() {
		l.nextPoll = now.Add(l.delay)
	}
}

func (l *loop) onFanout(msg fanout.Message) {
	if msg.Owner == l.opts.Owner {
		return
	}
	now := l.now()
	l.lastFanout = now
	l.apply(l.coord.ObserveHeartbeat(msg.Owner, msg.At), now)
	if l.coord.Role() == lease.RoleLeader {
		return
	}
	l.adoptCursor(msg.Cursor)
	switch msg.Kind {
	case fanout.KindEvents:
		l.opts.Dispatcher.Dispatch(l.ctx, l.opts.Channel, msg.Events)
		l.health.RecordSuccess(now, len(msg.Events), health.OriginFanout)
	case fanout.KindHeartbeat:
		l.health.RecordSuccess(now, 0, health.OriginFanout)
	}
}

func (l *loop) onVisibility(tr visibility.Transition) {
	now := l.now()
	if !tr.Foreground {
		l.cancelPoll()
		l.gen++
		l.nextPoll, l.nextTick = time.Time{}, time.Time{}
		l.logger.Debug("backgrounded; polling suspended")
		return
	}
	// A debounced resume waits out the window instead of polling at once.
	at := tr.ResumeAt
	if tr.Kick || at.Before(now) {
		at = now
	}
	switch l.coord.Role() {
	case lease.RoleLeader:
		if !l.polling && (l.nextPoll.IsZero() || at.Before(l.nextPoll)) {
			l.nextPoll = at
		}
	case lease.RoleUnleased:
		l.apply(l.coord.TryAcquire(l.ctx, now), now)
		if !l.nextPoll.IsZero() && l.nextPoll.Before(at) {
			l.nextPoll = at
		}
	default:
		if l.nextTick.IsZero() || at.Before(l.nextTick) {
			l.nextTick = at
		}
	}
}

func (l *loop) adoptCursor(c string) {
	if c == "" || c == l.cursor {
		return
	}
	l.cursor = c
	if err := l.opts.Cursors.Save(l.ctx, l.scope, c); err != nil {
		l.logger.Warn("save cursor", logpkg.Err(err))
	}
}

// publishHeartbeat is a no-op while backgrounded.
func (l *loop) publishHeartbeat(now time.Time) {
	if !l.opts.Gate.Foreground() {
		return
	}
	l.publish(fanout.Message{Kind: fanout.KindHeartbeat, Cursor: l.cursor}, now)
}

func (l *loop) publish(msg fanout.Message, now time.Time) {
	msg.Channel = l.opts.Channel
	msg.Owner = l.opts.Owner
	msg.At = now
	if err := l.opts.Topic.Publish(l.ctx, l.topicKey, msg); err != nil {
		l.logger.Warn("fanout publish failed", logpkg.Str("kind", string(msg.Kind)), logpkg.Err(err))
	}
}

func (l *loop) reschedule() {
	next := earliest(l.nextPoll, l.nextRenew, l.nextTick, l.nextSub)
	if next.IsZero() {
		l.timer.Stop()
		return
	}
	l.timer.Reset(max(next.Sub(l.now()), 0))
}

func due(t, now time.Time) bool { return !t.IsZero() && !t.After(now) }

func earliest(ts ...time.Time) time.Time {
	var out time.Time
	for _, t := range ts {
		if !t.IsZero() && (out.IsZero() || t.Before(out)) {
			out = t
		}
	}
	return out
}
