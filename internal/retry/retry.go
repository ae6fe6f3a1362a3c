// Package retry re-runs an operation that failed with a transient API error,
// waiting a linearly growing delay between attempts.
package retry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-authgate/lease-cli/internal/apierr"
	"github.com/go-authgate/lease-cli/internal/clock"
)

// Defaults applied by New when the matching Config field is zero.
const (
	DefaultRetries   = 3
	DefaultBaseDelay = time.Second
)

// OnRetryHook is called before each retry wait. attempt is 0-indexed.
type OnRetryHook func(attempt int, delay time.Duration, err error)

// Config configures a Policy.
type Config struct {
	// Retries is the number of retries after the first attempt. Negative
	// values disable retrying; use NoRetries to request zero explicitly.
	Retries   int
	BaseDelay time.Duration
	Clock     clock.Clock
	OnRetry   OnRetryHook
}

// NoRetries is a Retries value meaning "attempt once".
const NoRetries = -1

func (c *Config) setDefaults() {
	switch {
	case c.Retries == 0:
		c.Retries = DefaultRetries
	case c.Retries < 0:
		c.Retries = 0
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
}

// Policy runs operations under a retry budget. It is safe for concurrent
// use.
type Policy struct {
	cfg Config
}

// New returns a Policy with defaults applied.
func New(cfg Config) *Policy {
	cfg.setDefaults()
	return &Policy{cfg: cfg}
}

// Retries reports the configured budget.
func (p *Policy) Retries() int { return p.cfg.Retries }

// Do runs op, retrying while ShouldRetry holds and budget remains. The last
// error is returned once the budget is spent.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.cfg.Retries || !ShouldRetry(err) {
			return err
		}

		delay := Backoff(p.cfg.BaseDelay, attempt)
		if p.cfg.OnRetry != nil {
			p.cfg.OnRetry(attempt, delay, err)
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-p.cfg.Clock.After(delay):
			}
		}
	}
}

// Backoff returns the wait before retry number attempt (0-indexed):
// base * (attempt+1).
func Backoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt+1)
}

// ShouldRetry reports whether err is transient.
//
// Retried: status > 500, 429, network and timeout errors.
// Never retried: 403 (the session is being torn down), cancellation, and
// everything else including 500, 4xx and non-API errors.
func ShouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	e, ok := apierr.As(err)
	if !ok {
		return false
	}
	switch {
	case e.Kind == apierr.KindForbidden:
		return false
	case e.Status > http.StatusInternalServerError:
		return true
	case e.Status == http.StatusTooManyRequests:
		return true
	case e.Kind == apierr.KindNetwork, e.Kind == apierr.KindTimeout:
		return true
	default:
		return false
	}
}
