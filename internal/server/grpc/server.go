package grpcserver

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rzbill/hostlive/internal/runtime"
	logpkg "github.com/rzbill/hostlive/pkg/log"
)

// DefaultRefresh is how often serving statuses follow channel health.
const DefaultRefresh = time.Second

// Server owns the gRPC server instance and runtime.
type Server struct {
	rt      *runtime.Runtime
	grpc    *grpc.Server
	health  *health.Server
	lis     net.Listener
	logger  logpkg.Logger
	refresh time.Duration
}

// New constructs a gRPC server exposing grpc.health.v1 for the runtime.
// Extra options are appended after the tracing stats handler.
func New(rt *runtime.Runtime, logger logpkg.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := &Server{
		rt:      rt,
		grpc:    grpc.NewServer(opts...),
		health:  health.NewServer(),
		logger:  logger.WithComponent("grpc"),
		refresh: DefaultRefresh,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.Sync(context.Background())
	return s
}

// ListenAndServe binds to addr and serves until ctx is done. Serving
// statuses are refreshed while it runs.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("status grpc listening", logpkg.Str("addr", l.Addr().String()))
	go s.watch(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func (s *Server) watch(ctx context.Context) {
	t := time.NewTicker(s.refresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sync(ctx)
		}
	}
}
