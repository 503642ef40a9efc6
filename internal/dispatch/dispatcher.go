package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rzbill/hostlive/internal/event"
	logpkg "github.com/rzbill/hostlive/pkg/log"
)

// Handler receives the events of one batch that passed its subscription's
// predicate, in order.
type Handler func(ctx context.Context, channel string, events []event.Event)

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID uint64

// Option configures a subscription.
type Option func(*subscription) error

// WithPredicate restricts delivery to events matching a CEL expression.
func WithPredicate(expr string) Option {
	return func(s *subscription) error {
		f, err := newCELFilter(expr)
		if err != nil {
			return fmt.Errorf("compile predicate %q: %w", expr, err)
		}
		s.filter = f
		return nil
	}
}

type subscription struct {
	id      SubscriptionID
	channel string
	handler Handler
	filter  celFilter
}

// Dispatcher fans batches out to subscribers of a channel.
type Dispatcher struct {
	logger logpkg.Logger

	mu     sync.RWMutex
	nextID SubscriptionID
	subs   map[string]map[SubscriptionID]*subscription
}

// New creates a Dispatcher.
func New(logger logpkg.Logger) *Dispatcher {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Dispatcher{
		logger: logger.WithComponent("dispatch"),
		subs:   make(map[string]map[SubscriptionID]*subscription),
	}
}

// Subscribe registers handler for channel.
func (d *Dispatcher) Subscribe(channel string, handler Handler, opts ...Option) (SubscriptionID, error) {
	s := &subscription{channel: channel, handler: handler}
	for _, o := range opts {
		if err := o(s); err != nil {
			return 0, err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	s.id = d.nextID
	if d.subs[channel] == nil {
		d.subs[channel] = make(map[SubscriptionID]*subscription)
	}
	d.subs[channel][s.id] = s
	return s.id, nil
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (d *Dispatcher) Unsubscribe(id SubscriptionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch, m := range d.subs {
		if _, ok := m[id]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(d.subs, ch)
			}
			return
		}
	}
}

// Subscribers returns the number of subscriptions on channel.
func (d *Dispatcher) Subscribers(channel string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[channel])
}

// Dispatch hands events to every subscriber of channel in subscription
// order. A panicking handler is logged and does not affect the others.
func (d *Dispatcher) Dispatch(ctx context.Context, channel string, events []event.Event) {
	if len(events) == 0 {
		return
	}
	for _, s := range d.snapshot(channel) {
		batch := events
		if s.filter.enabled {
			batch = s.filter.Select(events)
			if len(batch) == 0 {
				continue
			}
		}
		d.deliver(ctx, s, batch)
	}
}

func (d *Dispatcher) snapshot(channel string) []*subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*subscription, 0, len(d.subs[channel]))
	for _, s := range d.subs[channel] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, s *subscription, events []event.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("subscriber panicked",
				logpkg.Channel(s.channel),
				logpkg.Int64("subscription", int64(s.id)),
				logpkg.Any("panic", r))
		}
	}()
	s.handler(ctx, s.channel, events)
}
