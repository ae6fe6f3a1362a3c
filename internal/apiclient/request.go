package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-authgate/lease-cli/internal/apierr"
)

// Option adjusts a single request.
type Option func(*request)

// WithHeader sets a request header.
func WithHeader(key, value string) Option {
	return func(r *request) { r.header.Set(key, value) }
}

// WithQuery merges query parameters into the request URL.
func WithQuery(q url.Values) Option {
	return func(r *request) {
		for k, vs := range q {
			for _, v := range vs {
				r.query.Add(k, v)
			}
		}
	}
}

// request is the per-call context shared by a send and its replay.
type request struct {
	id     string
	method string
	route  string
	url    string
	header http.Header
	query  url.Values
	body   []byte

	attempted bool
}

// response is one drained HTTP exchange.
type response struct {
	raw    *http.Response
	status int
	body   []byte
}

func (r *response) decode(out any) error {
	if out == nil || len(bytes.TrimSpace(r.body)) == 0 {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = append((*raw)[:0], r.body...)
		return nil
	}
	if err := json.Unmarshal(r.body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(method, path string, body any, opts []Option) (*request, error) {
	r := &request{
		id:     uuid.NewString(),
		method: method,
		route:  path,
		url:    c.resolve(path),
		header: make(http.Header),
		query:  make(url.Values),
	}
	r.header.Set("Accept", "application/json")
	for k, vs := range c.cfg.Headers {
		r.header[k] = append([]string(nil), vs...)
	}

	switch b := body.(type) {
	case nil:
	case []byte:
		r.body = b
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		r.body = data
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		r.body = data
	}
	if r.body != nil && r.header.Get("Content-Type") == "" {
		r.header.Set("Content-Type", "application/json")
	}

	for _, opt := range opts {
		opt(r)
	}
	if len(r.query) > 0 {
		u, err := url.Parse(r.url)
		if err != nil {
			return nil, fmt.Errorf("invalid request URL: %w", err)
		}
		q := u.Query()
		for k, vs := range r.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		r.url = u.String()
	}
	return r, nil
}

// execute runs one attempt of the request state machine:
//
//	2xx                 -> success
//	401, not replayed   -> refresh, then replay once; refresh failure clears
//	                       credentials and fails UNAUTHORIZED
//	403                 -> hand off to the forbidden handler, fail FORBIDDEN
//	anything else       -> fail with the classified error
func (c *Client) execute(ctx context.Context, r *request) (*response, error) {
	for {
		resp, err := c.send(ctx, r)
		if err != nil {
			return nil, err
		}
		if resp.status >= 200 && resp.status < 300 {
			return resp, nil
		}

		apiErr := apierr.FromResponse(resp.raw, resp.body)

		switch resp.status {
		case http.StatusUnauthorized:
			if r.attempted {
				return nil, apiErr
			}
			r.attempted = true
			if err := c.refresh(ctx); err != nil {
				c.logf("[HTTP] refresh failed: %v", err)
				if cerr := c.session.Clear(); cerr != nil {
					c.logf("[HTTP] clear credentials: %v", cerr)
				}
				return nil, apiErr
			}
			continue
		case http.StatusForbidden:
			if c.cfg.Forbidden != nil {
				c.cfg.Forbidden.HandleForbidden()
			}
			return nil, apiErr
		default:
			return nil, apiErr
		}
	}
}

// send performs one HTTP exchange and drains the body. Transport failures are
// returned classified.
func (c *Client) send(ctx context.Context, r *request) (*response, error) {
	ctx, span := c.tracer.Start(ctx, "lease.http "+r.method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.method),
			attribute.String("http.route", r.route),
			attribute.String("lease.request_id", r.id),
			attribute.Bool("lease.replay", r.attempted),
		),
	)
	defer span.End()

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range r.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header.Set("X-Request-ID", r.id)
	c.session.Authorize(req)
	c.logRequest(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.cfg.Metrics.ObserveRequest(r.method, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logf("[HTTP] %s %s failed: %v", r.method, r.url, err)
		return nil, apierr.FromTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	took := time.Since(start)
	c.cfg.Metrics.ObserveRequest(r.method, resp.StatusCode, took)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, apierr.FromTransport(err)
	}
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	c.logf("[HTTP] %s %s -> %d (%v)", r.method, r.url, resp.StatusCode, took)

	return &response{raw: resp, status: resp.StatusCode, body: data}, nil
}

func (c *Client) logRequest(req *http.Request) {
	if c.cfg.Logger == nil {
		return
	}
	auth := "none"
	if tok := c.session.AccessToken(); tok != "" && req.Header.Get("Authorization") != "" {
		auth = "Bearer " + maskToken(tok)
	}
	c.logf("[HTTP] %s %s id=%s auth=%s", req.Method, req.URL, req.Header.Get("X-Request-ID"), auth)
}
