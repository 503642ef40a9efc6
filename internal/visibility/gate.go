// Package visibility tracks whether the process is in the foreground and
// tells channel runners when to suspend or resume polling.
package visibility

import (
	"sync"
	"time"
)

// Transition is delivered to listeners on every visibility change and on
// every foreground kick that survives debouncing.
type Transition struct {
	Foreground bool
	// Kick asks runners to poll immediately instead of waiting for their
	// timer. Only set on foreground transitions.
	Kick bool
	At   time.Time
	// ResumeAt is when a foreground transition may trigger a poll: At for a
	// kick, the end of the debounce window otherwise.
	ResumeAt time.Time
}

// Gate is the process-level visibility switch. It starts in the foreground.
type Gate struct {
	debounce time.Duration

	mu         sync.Mutex
	foreground bool
	since      time.Time
	lastKick   time.Time
	nextID     int
	listeners  map[int]chan Transition
}

// NewGate creates a foreground gate. Kicks closer than debounce to the
// previous kick are suppressed.
func NewGate(debounce time.Duration, now time.Time) *Gate {
	return &Gate{
		debounce:   debounce,
		foreground: true,
		since:      now,
		listeners:  make(map[int]chan Transition),
	}
}

// Foreground reports the current state.
func (g *Gate) Foreground() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.foreground
}

// BackgroundedFor returns how long the gate has been in the background, or
// zero when it is in the foreground.
func (g *Gate) BackgroundedFor(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.foreground {
		return 0
	}
	return now.Sub(g.since)
}

// SetForeground resumes polling. It returns the emitted transition and
// whether anything was emitted.
func (g *Gate) SetForeground(now time.Time) (Transition, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	changed := !g.foreground
	if changed {
		g.foreground = true
		g.since = now
	}
	kick := g.lastKick.IsZero() || now.Sub(g.lastKick) >= g.debounce
	if kick {
		g.lastKick = now
	}
	if !changed && !kick {
		return Transition{}, false
	}
	tr := Transition{Foreground: true, Kick: kick, At: now, ResumeAt: now}
	if !kick {
		tr.ResumeAt = g.lastKick.Add(g.debounce)
	}
	g.broadcast(tr)
	return tr, true
}

// SetBackground suspends polling.
func (g *Gate) SetBackground(now time.Time) (Transition, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.foreground {
		return Transition{}, false
	}
	g.foreground = false
	g.since = now
	tr := Transition{Foreground: false, At: now}
	g.broadcast(tr)
	return tr, true
}

// Subscribe returns a channel receiving transitions and a cancel function.
// A listener that falls behind only sees the latest transition.
func (g *Gate) Subscribe() (<-chan Transition, func()) {
	ch := make(chan Transition, 1)
	g.mu.Lock()
	g.nextID++
	id := g.nextID
	g.listeners[id] = ch
	g.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.listeners, id)
			g.mu.Unlock()
		})
	}
}

func (g *Gate) broadcast(tr Transition) {
	for _, ch := range g.listeners {
		select {
		case ch <- tr:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- tr:
		default:
		}
	}
}
