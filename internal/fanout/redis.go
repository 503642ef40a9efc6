package fanout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	logpkg "github.com/rzbill/hostlive/pkg/log"
)

// RedisTopic broadcasts over Redis Pub/Sub so instances in different
// processes can share one poller.
type RedisTopic struct {
	client  redis.UniversalClient
	buffer  int
	logger  logpkg.Logger
	dropped atomic.Uint64
}

// NewRedisTopic binds a topic to client.
func NewRedisTopic(client redis.UniversalClient, buffer int, logger logpkg.Logger) *RedisTopic {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &RedisTopic{client: client, buffer: buffer, logger: logger.WithComponent("fanout")}
}

func (t *RedisTopic) Publish(ctx context.Context, key string, msg Message) error {
	b, err := encode(msg)
	if err != nil {
		return fmt.Errorf("encode fanout message: %w", err)
	}
	if err := t.client.Publish(ctx, key, b).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed before returning.
func (t *RedisTopic) Subscribe(ctx context.Context, key string) (<-chan Message, func(), error) {
	ps := t.client.Subscribe(ctx, key)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	out := make(chan Message, t.buffer)
	in := ps.Channel()
	go func() {
		defer close(out)
		for m := range in {
			msg, err := decode([]byte(m.Payload))
			if err != nil {
				t.logger.Warn("dropping undecodable fanout message", logpkg.Str("topic", key), logpkg.Err(err))
				continue
			}
			select {
			case out <- msg:
			default:
				t.dropped.Add(1)
			}
		}
	}()

	var once sync.Once
	cancel := func() { once.Do(func() { _ = ps.Close() }) }
	stop := context.AfterFunc(ctx, cancel)
	return out, func() { stop(); cancel() }, nil
}

// Dropped returns how many messages were discarded for full subscribers.
func (t *RedisTopic) Dropped() uint64 { return t.dropped.Load() }
