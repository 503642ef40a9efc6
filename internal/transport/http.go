package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// DefaultMaxBodyBytes caps a subscribe response body unless overridden.
const DefaultMaxBodyBytes = 32 << 20

// HTTPRequester calls GET {base}/v1/realtime/{channel}/subscribe.
type HTTPRequester struct {
	base       *url.URL
	client     *http.Client
	propagator propagation.TextMapPropagator
	maxBody    int64
}

// HTTPOption configures an HTTPRequester.
type HTTPOption func(*HTTPRequester)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) HTTPOption { return func(r *HTTPRequester) { r.client = c } }

// WithPropagator sets the propagator used to inject trace headers. Defaults
// to the global propagator.
func WithPropagator(p propagation.TextMapPropagator) HTTPOption {
	return func(r *HTTPRequester) { r.propagator = p }
}

// WithMaxBodyBytes caps the response body. A body over the cap fails with
// ErrTransport; n <= 0 keeps DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) HTTPOption {
	return func(r *HTTPRequester) {
		if n > 0 {
			r.maxBody = n
		}
	}
}

// NewHTTPRequester builds a requester for baseURL. window is the server's
// long-poll hold time; requests time out a little after it.
func NewHTTPRequester(baseURL string, window time.Duration, opts ...HTTPOption) (*HTTPRequester, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q: scheme must be http or https", baseURL)
	}
	r := &HTTPRequester{base: u, maxBody: DefaultMaxBodyBytes}
	if window > 0 {
		r.client = &http.Client{Timeout: window + 5*time.Second}
	} else {
		r.client = &http.Client{}
	}
	for _, o := range opts {
		o(r)
	}
	if r.propagator == nil {
		r.propagator = otel.GetTextMapPropagator()
	}
	return r, nil
}

// URL returns the subscribe URL for req.
func (r *HTTPRequester) URL(req Request) string {
	u := *r.base
	u.Path = r.base.Path + "/v1/realtime/" + url.PathEscape(req.Channel) + "/subscribe"
	q := url.Values{}
	for k, v := range req.Filter {
		q.Set(k, v)
	}
	if req.Cursor != "" {
		q.Set("cursor", req.Cursor)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Send performs the request and decodes the body.
func (r *HTTPRequester) Send(ctx context.Context, req Request) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL(req), nil)
	if err != nil {
		return Response{}, fmt.Errorf("%w: build request: %w", ErrTransport, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	r.propagator.Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBody+1))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	if int64(len(body)) > r.maxBody {
		return Response{}, fmt.Errorf("%w: response body exceeds %d bytes", ErrTransport, r.maxBody)
	}
	var out Response
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return out, nil
}
