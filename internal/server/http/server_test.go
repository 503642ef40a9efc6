package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/hostlive/internal/config"
	"github.com/rzbill/hostlive/internal/event"
	"github.com/rzbill/hostlive/internal/runtime"
	"github.com/rzbill/hostlive/internal/transport"
)

// onceRequester answers the first poll with one event and then holds.
type onceRequester struct{ calls atomic.Int32 }

func (o *onceRequester) Send(ctx context.Context, _ transport.Request) (transport.Response, error) {
	if o.calls.Add(1) == 1 {
		return transport.Response{Events: []event.Event{{ID: "e1", Type: "guest.updated"}}, Cursor: "c-1"}, nil
	}
	<-ctx.Done()
	return transport.Response{}, ctx.Err()
}

func openRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Session.Token = "tok"
	cfg.Channels = []string{"finance"}
	cfg.Lease.TTL = 200 * time.Millisecond
	cfg.Lease.Jitter = 20 * time.Millisecond
	cfg.Lease.HeartbeatInterval = 100 * time.Millisecond
	cfg.Lease.FollowerTickMin = 30 * time.Millisecond
	cfg.Lease.FollowerTickMax = 50 * time.Millisecond
	rt, err := runtime.Open(runtime.Options{Config: cfg, Requester: &onceRequester{}})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func runInstance(t *testing.T, rt *runtime.Runtime) *runtime.Instance {
	t.Helper()
	inst, err := rt.NewInstance()
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); _ = inst.Run(ctx) }()
	t.Cleanup(func() { cancel(); wg.Wait() })
	return inst
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthNotLiveBeforeFirstSuccess(t *testing.T) {
	rt := openRuntime(t)
	if _, err := rt.NewInstance(); err != nil {
		t.Fatalf("new instance: %v", err)
	}
	s := New(rt, nil)
	w := get(t, s, "/v1/healthz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: %d", w.Code)
	}
	var body healthBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "not_live" || len(body.Channels) != 1 || body.Channels[0].Role != "unleased" {
		t.Fatalf("body: %+v", body)
	}
}

func TestHealthLiveAfterPoll(t *testing.T) {
	rt := openRuntime(t)
	runInstance(t, rt)
	s := New(rt, nil)

	deadline := time.Now().Add(2 * time.Second)
	var w *httptest.ResponseRecorder
	for time.Now().Before(deadline) {
		w = get(t, s, "/v1/healthz")
		if w.Code == http.StatusOK {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d body %s", w.Code, w.Body.String())
	}
	var body healthBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || !body.Channels[0].IsLive || body.Channels[0].Role != "leader" {
		t.Fatalf("body: %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rt := openRuntime(t)
	s := New(rt, nil)
	w := get(t, s, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("missing go collector output")
	}
}

func TestLeasesEndpoint(t *testing.T) {
	rt := openRuntime(t)
	inst := runInstance(t, rt)
	s := New(rt, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var body struct {
			Leases []struct {
				Channel string `json:"channel"`
				Owner   string `json:"owner"`
				Fresh   bool   `json:"fresh"`
			} `json:"leases"`
		}
		w := get(t, s, "/v1/leases")
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Leases) != 1 {
			t.Fatalf("leases: %+v", body.Leases)
		}
		if l := body.Leases[0]; l.Owner == inst.ID() && l.Fresh {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("lease never held by %s", inst.ID())
}

func TestVisibilityControl(t *testing.T) {
	rt := openRuntime(t)
	inst, err := rt.NewInstance()
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	s := New(rt, nil)

	req := httptest.NewRequest(http.MethodPut, "/v1/instances/"+inst.ID()+"/visibility", strings.NewReader(`{"foreground":false}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status: %d", w.Code)
	}
	if inst.Gate().Foreground() {
		t.Fatalf("instance still in foreground")
	}

	req = httptest.NewRequest(http.MethodPut, "/v1/instances/nope/visibility", strings.NewReader(`{"foreground":true}`))
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown instance status: %d", w.Code)
	}
}

func TestFilterControlAfterStop(t *testing.T) {
	rt := openRuntime(t)
	inst, err := rt.NewInstance()
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = inst.Run(ctx); close(done) }()
	cancel()
	<-done

	s := New(rt, nil)
	req := httptest.NewRequest(http.MethodPut, "/v1/instances/"+inst.ID()+"/filter", strings.NewReader(`{"filter":{"entity":"g-1"}}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("status: %d", w.Code)
	}
}

type healthBody struct {
	Status   string `json:"status"`
	Channels []struct {
		IsLive bool   `json:"isLive"`
		Role   string `json:"role"`
	} `json:"channels"`
}

func TestFilterRejectsReservedKey(t *testing.T) {
	rt := openRuntime(t)
	inst := runInstance(t, rt)
	s := New(rt, nil)

	req := httptest.NewRequest(http.MethodPut, "/v1/instances/"+inst.ID()+"/filter", strings.NewReader(`{"filter":{"cursor":"c-0"}}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
	if f := inst.Filter(); len(f) != 0 {
		t.Fatalf("filter changed to %v", f)
	}
}

func TestLeasesFollowFilterChange(t *testing.T) {
	rt := openRuntime(t)
	inst := runInstance(t, rt)
	s := New(rt, nil)

	req := httptest.NewRequest(http.MethodPut, "/v1/instances/"+inst.ID()+"/filter", strings.NewReader(`{"filter":{"propertyId":"9"}}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var body struct {
			Leases []struct {
				Filter string `json:"filter"`
				Owner  string `json:"owner"`
			} `json:"leases"`
		}
		if err := json.NewDecoder(get(t, s, "/v1/leases").Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Leases) != 1 || body.Leases[0].Filter != "propertyId=9" {
			t.Fatalf("leases: %+v", body.Leases)
		}
		if body.Leases[0].Owner == inst.ID() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("lease under new filter never held by %s", inst.ID())
}
