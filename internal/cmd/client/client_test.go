package client

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type statusStub struct {
	mu   sync.Mutex
	puts map[string]string
}

func (s *statusStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/healthz":
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_live","channels":[
			{"channel":"finance","instance":"a","isLive":true,"role":"leader","lastOrigin":"poll"},
			{"channel":"finance","instance":"b","isLive":false,"role":"follower","consecutiveFailures":3}]}`))
	case r.Method == http.MethodGet && r.URL.Path == "/v1/instances/":
		_, _ = w.Write([]byte(`{"instances":[{"id":"a","foreground":true,"channels":[{"channel":"finance","role":"leader"}]}]}`))
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/v1/instances/missing/"):
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"instance not found"}`))
	case r.Method == http.MethodPut:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b, _ := json.Marshal(body)
		s.mu.Lock()
		s.puts[r.URL.Path] = string(b)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func startStub(t *testing.T) (*statusStub, BaseURLFunc) {
	t.Helper()
	stub := &statusStub{puts: map[string]string{}}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return stub, func() string { return srv.URL }
}

func run(t *testing.T, base BaseURLFunc, args ...string) (string, error) {
	t.Helper()
	root := NewRoot(base)
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestStatusPrintsChannels(t *testing.T) {
	_, base := startStub(t)
	out, err := run(t, base, "status")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "status: not_live") {
		t.Fatalf("missing status line: %s", out)
	}
	if !strings.Contains(out, "leader") || !strings.Contains(out, "follower") {
		t.Fatalf("missing roles: %s", out)
	}
}

func TestInstanceListAndVisibility(t *testing.T) {
	stub, base := startStub(t)
	out, err := run(t, base, "instance", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "finance=leader") {
		t.Fatalf("list output: %s", out)
	}

	if _, err := run(t, base, "instance", "background", "a"); err != nil {
		t.Fatalf("background: %v", err)
	}
	if _, err := run(t, base, "instance", "filter", "a", "--set", "property=p-1"); err != nil {
		t.Fatalf("filter: %v", err)
	}
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if got := stub.puts["/v1/instances/a/visibility"]; got != `{"foreground":false}` {
		t.Fatalf("visibility body: %s", got)
	}
	if got := stub.puts["/v1/instances/a/filter"]; got != `{"filter":{"property":"p-1"}}` {
		t.Fatalf("filter body: %s", got)
	}
}

func TestInstanceVisibilityUnknown(t *testing.T) {
	_, base := startStub(t)
	if _, err := run(t, base, "instance", "foreground", "missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestStatusOverGRPC(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("hostlive.finance", healthpb.HealthCheckResponse_SERVING)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	t.Setenv("HOSTLIVE_GRPC", lis.Addr().String())

	out, err := run(t, func() string { return "http://unused" }, "status", "--grpc", "--service", "hostlive.finance")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "hostlive.finance: SERVING") {
		t.Fatalf("output: %s", out)
	}
}
