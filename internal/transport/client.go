package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rzbill/hostlive/internal/event"
	logpkg "github.com/rzbill/hostlive/pkg/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrTransport wraps network failures and non-2xx responses.
	ErrTransport = errors.New("transport error")
	// ErrMalformed is returned when the response body cannot be decoded.
	ErrMalformed = errors.New("malformed response")
	// ErrAuthMissing is returned when the token source yields no token.
	ErrAuthMissing = errors.New("session token missing")
)

// Outcome classifies a poll cycle.
type Outcome int

const (
	OutcomeEvents Outcome = iota
	OutcomeEmpty
	OutcomeError
	OutcomeCancelled
	OutcomeMalformed
	OutcomeSkipped
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEvents:
		return "events"
	case OutcomeEmpty:
		return "empty"
	case OutcomeError:
		return "error"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Request describes one subscribe call.
type Request struct {
	Channel string
	Cursor  string
	Filter  event.Filter
	// Token is filled in by Client from its TokenSource.
	Token string
}

// Response is the decoded subscribe body.
type Response struct {
	Events []event.Event `json:"events"`
	Cursor string        `json:"cursor"`
}

// Requester performs one cancellable subscribe request.
type Requester interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// TokenSource yields the current session token. An empty token means the
// session is not (yet) authenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Result is the outcome of one Poll.
type Result struct {
	Outcome Outcome
	Events  []event.Event
	// Cursor is the cursor to adopt. It equals the request cursor unless the
	// server returned a new one.
	Cursor  string
	Latency time.Duration
	Err     error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l logpkg.Logger) Option { return func(c *Client) { c.logger = l } }

// WithTracer overrides the tracer used for poll spans.
func WithTracer(t trace.Tracer) Option { return func(c *Client) { c.tracer = t } }

// WithClock overrides time.Now for latency measurement.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// Client runs poll cycles for one channel.
type Client struct {
	requester Requester
	tokens    TokenSource
	logger    logpkg.Logger
	tracer    trace.Tracer
	now       func() time.Time
	inflight  atomic.Bool
}

// NewClient builds a Client.
func NewClient(r Requester, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		requester: r,
		tokens:    tokens,
		logger:    logpkg.NewNop(),
		tracer:    otel.Tracer("github.com/rzbill/hostlive/internal/transport"),
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.WithComponent("transport")
	return c
}

// InFlight reports whether a poll is currently running.
func (c *Client) InFlight() bool { return c.inflight.Load() }

// Poll executes one long-poll cycle.
func (c *Client) Poll(ctx context.Context, req Request) Result {
	if !c.inflight.CompareAndSwap(false, true) {
		return Result{Outcome: OutcomeDropped, Cursor: req.Cursor}
	}
	defer c.inflight.Store(false)

	token, err := c.token(ctx)
	if err != nil {
		return Result{Outcome: OutcomeSkipped, Cursor: req.Cursor, Err: err}
	}
	req.Token = token

	ctx, span := c.tracer.Start(ctx, "realtime.poll",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("hostlive.channel", req.Channel),
			attribute.String("hostlive.filter", req.Filter.Key()),
			attribute.Bool("hostlive.has_cursor", req.Cursor != ""),
		))
	defer span.End()

	start := c.now()
	resp, err := c.requester.Send(ctx, req)
	res := Result{Cursor: req.Cursor, Latency: c.now().Sub(start)}

	switch {
	case ctx.Err() != nil:
		res.Outcome = OutcomeCancelled
		res.Err = ctx.Err()
	case errors.Is(err, ErrMalformed):
		res.Outcome = OutcomeMalformed
		res.Err = err
	case err != nil:
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		res.Outcome = OutcomeError
		res.Err = err
	default:
		if resp.Cursor != "" {
			res.Cursor = resp.Cursor
		}
		res.Events = resp.Events
		res.Outcome = OutcomeEmpty
		if len(resp.Events) > 0 {
			res.Outcome = OutcomeEvents
		}
	}

	span.SetAttributes(
		attribute.String("hostlive.outcome", res.Outcome.String()),
		attribute.Int("hostlive.events", len(res.Events)),
	)
	if res.Outcome == OutcomeError || res.Outcome == OutcomeMalformed {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	c.logger.Debug("poll finished",
		logpkg.Channel(req.Channel),
		logpkg.Str("outcome", res.Outcome.String()),
		logpkg.Int("events", len(res.Events)),
		logpkg.Dur("latency", res.Latency))
	return res
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", ErrAuthMissing
	}
	t, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthMissing, err)
	}
	if t == "" {
		return "", ErrAuthMissing
	}
	return t, nil
}
