package visibility

import (
	"testing"
	"time"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestTransitions(t *testing.T) {
	g := NewGate(500*time.Millisecond, t0)
	ch, cancel := g.Subscribe()
	defer cancel()

	if !g.Foreground() {
		t.Fatalf("gate should start in foreground")
	}
	if _, ok := g.SetBackground(t0.Add(time.Second)); !ok {
		t.Fatalf("background not emitted")
	}
	if tr := <-ch; tr.Foreground {
		t.Fatalf("got %+v", tr)
	}
	if _, ok := g.SetBackground(t0.Add(2 * time.Second)); ok {
		t.Fatalf("repeated background emitted")
	}
	if d := g.BackgroundedFor(t0.Add(4 * time.Second)); d != 3*time.Second {
		t.Fatalf("backgrounded for %s", d)
	}

	tr, ok := g.SetForeground(t0.Add(5 * time.Second))
	if !ok || !tr.Foreground || !tr.Kick {
		t.Fatalf("foreground = %+v ok=%v", tr, ok)
	}
	if got := <-ch; !got.Kick {
		t.Fatalf("listener got %+v", got)
	}
	if g.BackgroundedFor(t0.Add(6*time.Second)) != 0 {
		t.Fatalf("foreground gate reports background time")
	}
}

func TestKickDebounce(t *testing.T) {
	g := NewGate(500*time.Millisecond, t0)

	if tr, ok := g.SetForeground(t0); !ok || !tr.Kick {
		t.Fatalf("first kick suppressed")
	}
	if _, ok := g.SetForeground(t0.Add(200 * time.Millisecond)); ok {
		t.Fatalf("kick within debounce emitted")
	}

	// A real background/foreground cycle still resumes, just without a kick.
	g.SetBackground(t0.Add(300 * time.Millisecond))
	tr, ok := g.SetForeground(t0.Add(400 * time.Millisecond))
	if !ok || !tr.Foreground || tr.Kick {
		t.Fatalf("debounced resume = %+v ok=%v", tr, ok)
	}
	if want := t0.Add(500 * time.Millisecond); !tr.ResumeAt.Equal(want) {
		t.Fatalf("debounced resume at %s, want %s", tr.ResumeAt, want)
	}
	if tr, ok := g.SetForeground(t0.Add(600 * time.Millisecond)); !ok || !tr.Kick || !tr.ResumeAt.Equal(tr.At) {
		t.Fatalf("kick after debounce = %+v ok=%v", tr, ok)
	}
}

func TestSlowListenerSeesLatest(t *testing.T) {
	g := NewGate(0, t0)
	ch, cancel := g.Subscribe()
	defer cancel()
	g.SetBackground(t0.Add(time.Second))
	g.SetForeground(t0.Add(2 * time.Second))
	g.SetBackground(t0.Add(3 * time.Second))
	if tr := <-ch; tr.Foreground || !tr.At.Equal(t0.Add(3*time.Second)) {
		t.Fatalf("latest = %+v", tr)
	}
	select {
	case tr := <-ch:
		t.Fatalf("stale transition queued: %+v", tr)
	default:
	}
}
