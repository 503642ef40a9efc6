package fanout

import (
	"context"
	"sync"
	"sync/atomic"
)

// Hub is an in-process Topic.
type Hub struct {
	buffer  int
	dropped atomic.Uint64

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]chan Message
}

// NewHub creates a hub whose subscribers queue up to buffer messages.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[string]map[uint64]chan Message)}
}

// Publish delivers msg to every current subscriber of key without blocking.
func (h *Hub) Publish(_ context.Context, key string, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[key] {
		select {
		case ch <- msg:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a subscriber for key.
func (h *Hub) Subscribe(ctx context.Context, key string) (<-chan Message, func(), error) {
	ch := make(chan Message, h.buffer)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[key] == nil {
		h.subs[key] = make(map[uint64]chan Message)
	}
	h.subs[key][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[key], id)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() { stop(); cancel() }, nil
}

// Dropped returns how many messages were discarded for full subscribers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Subscribers returns the number of subscribers on key.
func (h *Hub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}
