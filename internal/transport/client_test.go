package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rzbill/hostlive/internal/event"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func newServer(t *testing.T, h http.HandlerFunc) (*HTTPRequester, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	req, err := NewHTTPRequester(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("requester: %v", err)
	}
	return req, &hits
}

func TestPollEvents(t *testing.T) {
	var gotPath, gotCursor, gotProp, gotAuth string
	r, _ := newServer(t, func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		gotCursor = req.URL.Query().Get("cursor")
		gotProp = req.URL.Query().Get("propertyId")
		gotAuth = req.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"events":[{"id":"e1","type":"invoice.paid","entityId":"inv-1","timestamp":"2026-01-02T03:04:05Z"},{"id":"e2","type":"invoice.void","entityId":"inv-2","timestamp":"2026-01-02T03:04:06Z"}],"cursor":"c-2"}`))
	})
	c := NewClient(r, StaticToken("tok"))
	res := c.Poll(context.Background(), Request{Channel: "finance", Cursor: "c-1", Filter: event.Filter{"propertyId": "42"}})

	if res.Outcome != OutcomeEvents || len(res.Events) != 2 || res.Cursor != "c-2" {
		t.Fatalf("result = %+v", res)
	}
	if res.Events[0].ID != "e1" || res.Events[1].EntityID != "inv-2" {
		t.Fatalf("events decoded wrong: %+v", res.Events)
	}
	if gotPath != "/v1/realtime/finance/subscribe" || gotCursor != "c-1" || gotProp != "42" {
		t.Fatalf("request path=%q cursor=%q propertyId=%q", gotPath, gotCursor, gotProp)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("authorization = %q", gotAuth)
	}
}

func TestPollEmptyAdoptsCursor(t *testing.T) {
	r, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"events":[],"cursor":"c-9"}`))
	})
	res := NewClient(r, StaticToken("tok")).Poll(context.Background(), Request{Channel: "dashboard", Cursor: "c-8"})
	if res.Outcome != OutcomeEmpty || res.Cursor != "c-9" {
		t.Fatalf("result = %+v", res)
	}
}

func TestPollEmptyWithoutCursorKeepsPrevious(t *testing.T) {
	r, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"events":[]}`))
	})
	res := NewClient(r, StaticToken("tok")).Poll(context.Background(), Request{Channel: "dashboard", Cursor: "c-8"})
	if res.Outcome != OutcomeEmpty || res.Cursor != "c-8" {
		t.Fatalf("result = %+v", res)
	}
}

func TestPollServerError(t *testing.T) {
	r, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	res := NewClient(r, StaticToken("tok")).Poll(context.Background(), Request{Channel: "finance", Cursor: "c-1"})
	if res.Outcome != OutcomeError || !errors.Is(res.Err, ErrTransport) {
		t.Fatalf("result = %+v", res)
	}
	if res.Cursor != "c-1" {
		t.Fatalf("cursor changed on error: %q", res.Cursor)
	}
}

func TestPollMalformed(t *testing.T) {
	r, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"events": [`))
	})
	res := NewClient(r, StaticToken("tok")).Poll(context.Background(), Request{Channel: "finance", Cursor: "c-1"})
	if res.Outcome != OutcomeMalformed || !errors.Is(res.Err, ErrMalformed) {
		t.Fatalf("result = %+v", res)
	}
	if res.Cursor != "c-1" {
		t.Fatalf("cursor changed on malformed body: %q", res.Cursor)
	}
}

func TestPollSkipsWithoutToken(t *testing.T) {
	r, hits := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"events":[]}`))
	})
	res := NewClient(r, StaticToken("")).Poll(context.Background(), Request{Channel: "finance"})
	if res.Outcome != OutcomeSkipped || !errors.Is(res.Err, ErrAuthMissing) {
		t.Fatalf("result = %+v", res)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Fatalf("network was touched without a token")
	}
}

func TestPollCancelled(t *testing.T) {
	release := make(chan struct{})
	r, _ := newServer(t, func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-req.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	res := NewClient(r, StaticToken("tok")).Poll(ctx, Request{Channel: "finance", Cursor: "c-1"})
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("result = %+v", res)
	}
}

type blockingRequester struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingRequester) Send(ctx context.Context, _ Request) (Response, error) {
	b.calls.Add(1)
	b.entered <- struct{}{}
	<-b.release
	return Response{Cursor: "c-next"}, nil
}

func TestOverlappingPollIsDropped(t *testing.T) {
	b := &blockingRequester{entered: make(chan struct{}, 1), release: make(chan struct{})}
	c := NewClient(b, StaticToken("tok"))

	done := make(chan Result, 1)
	go func() { done <- c.Poll(context.Background(), Request{Channel: "finance"}) }()
	<-b.entered

	if !c.InFlight() {
		t.Fatalf("expected in-flight poll")
	}
	if res := c.Poll(context.Background(), Request{Channel: "finance", Cursor: "x"}); res.Outcome != OutcomeDropped || res.Cursor != "x" {
		t.Fatalf("overlap result = %+v", res)
	}
	close(b.release)
	if res := <-done; res.Outcome != OutcomeEmpty || res.Cursor != "c-next" {
		t.Fatalf("first result = %+v", res)
	}
	if n := b.calls.Load(); n != 1 {
		t.Fatalf("requester called %d times", n)
	}
}

func TestTraceContextInjected(t *testing.T) {
	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		traceparent = req.Header.Get("traceparent")
		_, _ = w.Write([]byte(`{"events":[]}`))
	}))
	defer srv.Close()

	r, err := NewHTTPRequester(srv.URL, time.Second, WithPropagator(propagation.TraceContext{}))
	if err != nil {
		t.Fatalf("requester: %v", err)
	}
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	c := NewClient(r, StaticToken("tok"), WithTracer(tp.Tracer("test")))
	c.Poll(context.Background(), Request{Channel: "finance"})
	if traceparent == "" {
		t.Fatalf("traceparent header not injected")
	}
}

func TestNewHTTPRequesterRejectsScheme(t *testing.T) {
	if _, err := NewHTTPRequester("ftp://example.com", 0); err == nil {
		t.Fatalf("expected scheme error")
	}
}

// bigBody returns a valid subscribe body of at least n bytes.
func bigBody(n int) string {
	pad := strings.Repeat("x", n)
	return `{"events":[{"id":"e1","type":"invoice.paid","entityId":"inv-1","timestamp":"2026-01-02T03:04:05Z","metadata":{"note":"` + pad + `"}}],"cursor":"c-2"}`
}

func TestOversizedBodyIsTransportError(t *testing.T) {
	body := bigBody(4 << 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	r, err := NewHTTPRequester(srv.URL, time.Second, WithMaxBodyBytes(1<<10))
	if err != nil {
		t.Fatalf("requester: %v", err)
	}
	res := NewClient(r, StaticToken("tok")).Poll(context.Background(), Request{Channel: "finance", Cursor: "c-1"})
	if res.Outcome != OutcomeError || !errors.Is(res.Err, ErrTransport) || errors.Is(res.Err, ErrMalformed) {
		t.Fatalf("result = %+v", res)
	}
	if res.Cursor != "c-1" {
		t.Fatalf("cursor moved on oversized body: %q", res.Cursor)
	}

	// The same body fits under a larger cap.
	r, err = NewHTTPRequester(srv.URL, time.Second, WithMaxBodyBytes(int64(len(body))))
	if err != nil {
		t.Fatalf("requester: %v", err)
	}
	res = NewClient(r, StaticToken("tok")).Poll(context.Background(), Request{Channel: "finance"})
	if res.Outcome != OutcomeEvents || res.Cursor != "c-2" {
		t.Fatalf("result under cap = %+v", res)
	}
}

func TestDefaultBodyCapFitsLargeBatch(t *testing.T) {
	r, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(bigBody(9 << 20)))
	})
	res := NewClient(r, StaticToken("tok")).Poll(context.Background(), Request{Channel: "finance"})
	if res.Outcome != OutcomeEvents || res.Cursor != "c-2" {
		t.Fatalf("outcome = %s err = %v", res.Outcome, res.Err)
	}
}

func TestCursorWinsOverFilterKey(t *testing.T) {
	r, err := NewHTTPRequester("http://127.0.0.1:8080", 0)
	if err != nil {
		t.Fatalf("requester: %v", err)
	}
	u := r.URL(Request{Channel: "finance", Cursor: "c-7", Filter: event.Filter{"cursor": "c-0", "propertyId": "4"}})
	if !strings.Contains(u, "cursor=c-7") || strings.Contains(u, "cursor=c-0") {
		t.Fatalf("url = %s", u)
	}
}
