package grpcserver

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	cfgpkg "github.com/rzbill/hostlive/internal/config"
	"github.com/rzbill/hostlive/internal/event"
	"github.com/rzbill/hostlive/internal/runtime"
	"github.com/rzbill/hostlive/internal/transport"
)

const bufSize = 1 << 20

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

func healthClient(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	go func() { _ = s.grpc.Serve(lis) }()
	t.Cleanup(s.Close)
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("check %q: %v", service, err)
	}
	return res.GetStatus()
}

func TestNotServingBeforeLive(t *testing.T) {
	rt := openRuntime(t)
	if _, err := rt.NewInstance(); err != nil {
		t.Fatalf("new instance: %v", err)
	}
	c := healthClient(t, New(rt, nil))
	if st := check(t, c, ""); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("overall: %v", st)
	}
	if st := check(t, c, "hostlive.finance"); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("finance: %v", st)
	}
}

func TestServingOnceChannelLive(t *testing.T) {
	rt := openRuntime(t)
	inst, err := rt.NewInstance()
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); _ = inst.Run(ctx) }()
	t.Cleanup(func() { cancel(); wg.Wait() })

	s := New(rt, nil)
	c := healthClient(t, s)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.Sync(context.Background())
		if check(t, c, "hostlive.finance") == healthpb.HealthCheckResponse_SERVING {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st := check(t, c, "hostlive.finance"); st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("finance: %v", st)
	}
	if st := check(t, c, ""); st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("overall: %v", st)
	}
}

func TestUnknownServiceNotFound(t *testing.T) {
	rt := openRuntime(t)
	c := healthClient(t, New(rt, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: "hostlive.payroll"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
