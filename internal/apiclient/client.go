// Package apiclient is the single point of egress for backend calls. It
// attaches credentials, classifies every failure into an apierr.Error,
// recovers a 401 with one refresh-and-replay, hands a 403 to the auth
// lifecycle handler and retries transient failures.
package apiclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	httpretry "github.com/appleboy/go-httpretry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/go-authgate/lease-cli/internal/clock"
	"github.com/go-authgate/lease-cli/internal/metrics"
	"github.com/go-authgate/lease-cli/internal/retry"
	"github.com/go-authgate/lease-cli/internal/session"
	"github.com/go-authgate/lease-cli/internal/state"
)

const tracerName = "github.com/go-authgate/lease-cli/internal/apiclient"

// Default endpoint paths, relative to BaseURL.
const (
	DefaultLoginPath   = "/auth/login"
	DefaultRefreshPath = "/auth/refresh"
	DefaultLogoutPath  = "/auth/logout"
)

// ForbiddenHandler receives every 403. It reports whether the call tore the
// session down.
type ForbiddenHandler interface {
	HandleForbidden() bool
}

// Dispatcher receives login/logout actions.
type Dispatcher interface {
	Dispatch(state.Action) error
}

// Hooks observe the client. All are optional.
type Hooks struct {
	// OnRetry runs before each retry wait (attempt is 0-indexed).
	OnRetry func(attempt int, delay time.Duration, err error)
	// OnRefresh runs after each refresh attempt.
	OnRefresh func(err error)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration // default 30s

	// Retries is the retry budget for transient failures (default 3; use
	// retry.NoRetries for none). RetryDelay is the linear backoff base
	// (default 1s).
	Retries    int
	RetryDelay time.Duration

	// Headers are sent with every request.
	Headers http.Header

	// DownloadDir receives Download files (default ".").
	DownloadDir string

	LoginPath   string
	RefreshPath string
	LogoutPath  string

	Session   *session.Manager
	Forbidden ForbiddenHandler
	State     Dispatcher

	// HTTPClient sends API requests. Default: a pooled client with Timeout.
	HTTPClient *http.Client
	// TokenClient sends login/refresh/logout calls. Default: a go-httpretry
	// client wrapping HTTPClient.
	TokenClient *httpretry.Client

	Clock   clock.Clock
	Metrics *metrics.Collector
	Tracer  trace.Tracer
	Hooks   Hooks

	// Logger, when set, receives request/response debug lines with tokens
	// masked.
	Logger *log.Logger
}

// Client issues backend requests. It is safe for concurrent use.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	tokens  *httpretry.Client
	session *session.Manager
	policy  *retry.Policy
	tracer  trace.Tracer

	refreshGroup singleflight.Group
}

// New builds a Client. Session is required.
func New(cfg Config) (*Client, error) {
	if cfg.Session == nil {
		return nil, errors.New("apiclient: session manager is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("apiclient: base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "."
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = DefaultRefreshPath
	}
	if cfg.LogoutPath == "" {
		cfg.LogoutPath = DefaultLogoutPath
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	tc := cfg.TokenClient
	if tc == nil {
		var err error
		tc, err = httpretry.NewBackgroundClient(httpretry.WithHTTPClient(hc))
		if err != nil {
			return nil, fmt.Errorf("failed to create token client: %w", err)
		}
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		tokens:  tc,
		session: cfg.Session,
		tracer:  cfg.Tracer,
	}
	c.policy = retry.New(retry.Config{
		Retries:   cfg.Retries,
		BaseDelay: cfg.RetryDelay,
		Clock:     cfg.Clock,
		OnRetry:   c.onRetry,
	})
	return c, nil
}

// Get issues a GET and decodes the JSON response into out (nil discards it).
func (c *Client) Get(ctx context.Context, path string, out any, opts ...Option) error {
	return c.Do(ctx, http.MethodGet, path, nil, out, opts...)
}

// Post issues a POST with body encoded as JSON.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...Option) error {
	return c.Do(ctx, http.MethodPost, path, body, out, opts...)
}

// Put issues a PUT with body encoded as JSON.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...Option) error {
	return c.Do(ctx, http.MethodPut, path, body, out, opts...)
}

// Patch issues a PATCH with body encoded as JSON.
func (c *Client) Patch(ctx context.Context, path string, body, out any, opts ...Option) error {
	return c.Do(ctx, http.MethodPatch, path, body, out, opts...)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any, opts ...Option) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out, opts...)
}

// Do issues one logical request under the retry policy. body may be nil,
// []byte, io.Reader or any JSON-marshalable value.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts ...Option) error {
	rc, err := c.newRequest(method, path, body, opts)
	if err != nil {
		return err
	}

	result, err := c.run(ctx, rc)
	if err != nil {
		return err
	}
	return result.decode(out)
}

// run executes rc under the retry policy. The refresh-and-replay allowance
// belongs to rc, so it is spent at most once across all policy attempts.
func (c *Client) run(ctx context.Context, rc *request) (*response, error) {
	var result *response
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		resp, err := c.execute(ctx, rc)
		if err != nil {
			return err
		}
		result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetCredentials installs a new token pair for subsequent requests.
func (c *Client) SetCredentials(tok *oauth2.Token) error {
	return c.session.Set(tok)
}

// ClearCredentials removes the token pair from memory and storage.
// Subsequent requests carry no Authorization header.
func (c *Client) ClearCredentials() error {
	return c.session.Clear()
}

// Session returns the credential manager in use.
func (c *Client) Session() *session.Manager { return c.session }

func (c *Client) onRetry(attempt int, delay time.Duration, err error) {
	c.cfg.Metrics.Retry()
	c.logf("[HTTP] retry %d in %v after: %v", attempt+1, delay, err)
	if c.cfg.Hooks.OnRetry != nil {
		c.cfg.Hooks.OnRetry(attempt, delay, err)
	}
}

func (c *Client) logf(format string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Printf(format, args...)
	}
}

// resolve joins path onto the base URL; absolute URLs pass through.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// maskToken keeps the first and last four characters.
func maskToken(tok string) string {
	if len(tok) <= 8 {
		return "***"
	}
	return tok[:4] + "..." + tok[len(tok)-4:]
}
