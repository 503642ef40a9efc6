package dispatch

import (
	"context"
	"sync"

	"github.com/rzbill/hostlive/internal/event"
)

// Dedup wraps h so that event ids seen within the last size deliveries are
// dropped. Batches that end up empty are not delivered.
func Dedup(h Handler, size int) Handler {
	if size <= 0 {
		size = 1024
	}
	w := &window{ring: make([]string, size), seen: make(map[string]struct{}, size)}
	return func(ctx context.Context, channel string, events []event.Event) {
		fresh := w.filter(channel, events)
		if len(fresh) == 0 {
			return
		}
		h(ctx, channel, fresh)
	}
}

// window remembers the last len(ring) (channel, id) pairs.
type window struct {
	mu   sync.Mutex
	ring []string
	next int
	seen map[string]struct{}
}

func (w *window) filter(channel string, events []event.Event) []event.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := events[:0:0]
	for _, ev := range events {
		k := channel + "\x00" + ev.ID
		if _, dup := w.seen[k]; dup {
			continue
		}
		if old := w.ring[w.next]; old != "" {
			delete(w.seen, old)
		}
		w.ring[w.next] = k
		w.next = (w.next + 1) % len(w.ring)
		w.seen[k] = struct{}{}
		out = append(out, ev)
	}
	return out
}
