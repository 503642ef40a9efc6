package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/hostlive/internal/config"
	"github.com/rzbill/hostlive/internal/dispatch"
	"github.com/rzbill/hostlive/internal/event"
	"github.com/rzbill/hostlive/internal/runtime"
	grpcserver "github.com/rzbill/hostlive/internal/server/grpc"
	httpserver "github.com/rzbill/hostlive/internal/server/http"
	"github.com/rzbill/hostlive/internal/telemetry"
	"github.com/rzbill/hostlive/internal/transport"
	logpkg "github.com/rzbill/hostlive/pkg/log"
)

// DefaultDedupWindow is the number of recent event ids remembered per
// instance when printing.
const DefaultDedupWindow = 4096

type Options struct {
	Config cfgpkg.Config
	// Out receives one JSON line per delivered event. Defaults to stdout.
	Out io.Writer
	// Where is an optional CEL predicate applied to printed events.
	Where       string
	DedupWindow int
	Logger      logpkg.Logger
	// Requester overrides the HTTP subscribe requester.
	Requester transport.Requester
}

// Line is the JSON shape printed for each delivered event.
type Line struct {
	Instance string      `json:"instance"`
	Channel  string      `json:"channel"`
	Event    event.Event `json:"event"`
}

// Run starts the configured number of instances plus the enabled status
// servers and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.ApplyConfig(&cfg.Log)
		if err != nil {
			return fmt.Errorf("log config: %w", err)
		}
		logger = l
		// Redirect stdlib logs (e.g., Pebble) to our logger
		logpkg.RedirectStdLog(logger)
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		logger.Warn("tracing disabled", logpkg.Err(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(sctx)
	}()

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger, Requester: opts.Requester})
	if err != nil {
		return err
	}
	defer rt.Close()

	p := &printer{enc: json.NewEncoder(opts.Out)}
	var subOpts []dispatch.Option
	if opts.Where != "" {
		subOpts = append(subOpts, dispatch.WithPredicate(opts.Where))
	}
	insts := make([]*runtime.Instance, 0, cfg.Instances)
	for k := 0; k < cfg.Instances; k++ {
		inst, err := rt.NewInstance()
		if err != nil {
			return err
		}
		for _, ch := range cfg.Channels {
			h := dispatch.Dedup(p.handler(inst.ID()), opts.DedupWindow)
			if _, err := inst.Dispatcher().Subscribe(ch, h, subOpts...); err != nil {
				return fmt.Errorf("subscribe %s: %w", ch, err)
			}
		}
		insts = append(insts, inst)
	}

	logger.Info("Starting hostlive agent",
		logpkg.Int("instances", len(insts)),
		logpkg.Any("channels", cfg.Channels),
		logpkg.Str("endpoint", cfg.Endpoint.BaseURL),
		logpkg.Str("lease_backend", cfg.Lease.Backend),
		logpkg.Str("status_http", cfg.Status.HTTPAddr),
		logpkg.Str("status_grpc", cfg.Status.GRPCAddr),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range insts {
		g.Go(func() error { return inst.Run(gctx) })
	}
	if addr := cfg.Status.HTTPAddr; addr != "" {
		hsrv := httpserver.New(rt, logger)
		g.Go(func() error {
			if err := hsrv.ListenAndServe(gctx, addr); err != nil && gctx.Err() == nil {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
	}
	if addr := cfg.Status.GRPCAddr; addr != "" {
		gsrv := grpcserver.New(rt, logger)
		g.Go(func() error {
			if err := gsrv.ListenAndServe(gctx, addr); err != nil && gctx.Err() == nil {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		watchVisibility(gctx, insts, logger)
		return nil
	})
	return g.Wait()
}

// SetVisibility moves every instance to the foreground or background.
func SetVisibility(insts []*runtime.Instance, foreground bool, now time.Time) {
	for _, inst := range insts {
		if foreground {
			inst.Gate().SetForeground(now)
		} else {
			inst.Gate().SetBackground(now)
		}
	}
}

type printer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (p *printer) handler(instance string) dispatch.Handler {
	return func(_ context.Context, channel string, events []event.Event) {
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, ev := range events {
			_ = p.enc.Encode(Line{Instance: instance, Channel: channel, Event: ev})
		}
	}
}
