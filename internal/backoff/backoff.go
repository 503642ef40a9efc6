// Package backoff computes the delay before a channel's next poll.
//
// The policy is a pure function of the previous delay, the outcome of the last
// cycle and its latency. Only a cycle that delivered events may lower the
// delay; every other outcome keeps or raises it, and nothing exceeds MaxDelay.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Outcome is the backoff-relevant classification of a poll cycle.
type Outcome int

const (
	// Events means the poll returned at least one event.
	Events Outcome = iota
	// Empty means the poll completed without events (including heartbeats).
	Empty
	// Failure covers transport errors.
	Failure
	// Neutral covers cancelled, skipped and dropped cycles.
	Neutral
)

func (o Outcome) String() string {
	switch o {
	case Events:
		return "events"
	case Empty:
		return "empty"
	case Failure:
		return "error"
	case Neutral:
		return "neutral"
	default:
		return "unknown"
	}
}

// Policy holds the delay bands.
type Policy struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// FastEmptyThreshold separates an immediate empty answer from a long-poll
	// that was held open until its heartbeat window.
	FastEmptyThreshold time.Duration
	FastEmptyMin       time.Duration
	FastEmptyMax       time.Duration
	HeartbeatDelay     time.Duration

	// Rand returns a value in [0,1). Nil uses math/rand/v2.
	Rand func() float64
}

// Default returns the standard bands.
func Default() Policy {
	return Policy{
		MinDelay:           500 * time.Millisecond,
		MaxDelay:           5 * time.Second,
		FastEmptyThreshold: 1500 * time.Millisecond,
		FastEmptyMin:       2 * time.Second,
		FastEmptyMax:       5 * time.Second,
		HeartbeatDelay:     1200 * time.Millisecond,
	}
}

// Initial is the delay a fresh or reset runner starts with.
func (p Policy) Initial() time.Duration { return p.floor() }

// Next returns the delay to wait after a cycle that followed a wait of prev.
func (p Policy) Next(prev time.Duration, outcome Outcome, latency time.Duration) time.Duration {
	var next time.Duration
	switch outcome {
	case Events:
		return p.floor()
	case Empty:
		if latency < p.FastEmptyThreshold {
			next = max(prev, p.fastEmpty())
		} else {
			next = max(prev, p.HeartbeatDelay)
		}
	case Failure:
		next = max(prev, p.floor()) * 2
	default:
		next = prev
		if next <= 0 {
			next = p.floor()
		}
	}
	return p.cap(next)
}

func (p Policy) floor() time.Duration {
	return p.cap(p.MinDelay)
}

func (p Policy) cap(d time.Duration) time.Duration {
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) fastEmpty() time.Duration {
	span := p.FastEmptyMax - p.FastEmptyMin
	if span <= 0 {
		return p.FastEmptyMin
	}
	r := p.Rand
	if r == nil {
		r = rand.Float64
	}
	return p.FastEmptyMin + time.Duration(r()*float64(span))
}
