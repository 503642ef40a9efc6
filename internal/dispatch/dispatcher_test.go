package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/hostlive/internal/event"
)

type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) handle(_ context.Context, _ string, events []event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range events {
		r.ids = append(r.ids, ev.ID)
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func batch(ids ...string) []event.Event {
	out := make([]event.Event, len(ids))
	for i, id := range ids {
		out[i] = event.Event{ID: id, Type: "task.updated", EntityID: "t-" + id, Timestamp: time.UnixMilli(int64(1000 + i))}
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDispatchInOrderPerChannel(t *testing.T) {
	d := New(nil)
	var fin, dash recorder
	if _, err := d.Subscribe("finance", fin.handle); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Subscribe("dashboard", dash.handle); err != nil {
		t.Fatal(err)
	}
	d.Dispatch(context.Background(), "finance", batch("1", "2", "3"))
	d.Dispatch(context.Background(), "finance", batch("4"))

	if got := fin.got(); !equal(got, []string{"1", "2", "3", "4"}) {
		t.Fatalf("finance got %v", got)
	}
	if got := dash.got(); len(got) != 0 {
		t.Fatalf("dashboard got %v", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	d := New(nil)
	var r recorder
	id, _ := d.Subscribe("finance", r.handle)
	d.Unsubscribe(id)
	d.Unsubscribe(id)
	d.Dispatch(context.Background(), "finance", batch("1"))
	if len(r.got()) != 0 || d.Subscribers("finance") != 0 {
		t.Fatalf("delivered after unsubscribe")
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	d := New(nil)
	var r recorder
	_, _ = d.Subscribe("finance", func(context.Context, string, []event.Event) { panic("boom") })
	_, _ = d.Subscribe("finance", r.handle)
	d.Dispatch(context.Background(), "finance", batch("1"))
	if got := r.got(); !equal(got, []string{"1"}) {
		t.Fatalf("second handler got %v", got)
	}
}

func TestPredicate(t *testing.T) {
	d := New(nil)
	var r recorder
	_, err := d.Subscribe("finance", r.handle, WithPredicate(`type.startsWith("invoice.") && metadata.amount > 100.0`))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	events := []event.Event{
		{ID: "1", Type: "invoice.paid", Metadata: map[string]any{"amount": 250.0}},
		{ID: "2", Type: "invoice.paid", Metadata: map[string]any{"amount": 50.0}},
		{ID: "3", Type: "payment.captured", Metadata: map[string]any{"amount": 500.0}},
		{ID: "4", Type: "invoice.void"},
	}
	d.Dispatch(context.Background(), "finance", events)
	if got := r.got(); !equal(got, []string{"1"}) {
		t.Fatalf("predicate delivered %v", got)
	}
}

func TestPredicateRejectsInvalid(t *testing.T) {
	d := New(nil)
	for _, expr := range []string{`type ==`, `id + "x"`} {
		if _, err := d.Subscribe("finance", func(context.Context, string, []event.Event) {}, WithPredicate(expr)); err == nil {
			t.Fatalf("expected error for %q", expr)
		}
	}
}

func TestDuplicateBatchIsIdempotentWithDedup(t *testing.T) {
	d := New(nil)
	var r recorder
	_, _ = d.Subscribe("guest-checkin", Dedup(r.handle, 16))

	first := batch("a", "b", "c")
	d.Dispatch(context.Background(), "guest-checkin", first)
	d.Dispatch(context.Background(), "guest-checkin", first)
	d.Dispatch(context.Background(), "guest-checkin", batch("c", "d"))

	if got := r.got(); !equal(got, []string{"a", "b", "c", "d"}) {
		t.Fatalf("got %v", got)
	}
}

func TestDedupWindowEvicts(t *testing.T) {
	var r recorder
	h := Dedup(r.handle, 2)
	ctx := context.Background()
	h(ctx, "c", batch("1", "2", "3"))
	h(ctx, "c", batch("1"))
	if got := r.got(); !equal(got, []string{"1", "2", "3", "1"}) {
		t.Fatalf("got %v", got)
	}
}
