// Package authflow is the single authority for "the session is no longer
// valid". The API client hands every 403 to a Handler, which tears the
// session down once no matter how many requests fail together.
package authflow

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/go-authgate/lease-cli/internal/clock"
	"github.com/go-authgate/lease-cli/internal/metrics"
	"github.com/go-authgate/lease-cli/internal/state"
)

// Defaults applied by New.
const (
	DefaultLoginPath  = "/login"
	DefaultResetDelay = time.Second
)

// SessionExpiredMessage is shown to the user on a forced logout.
const SessionExpiredMessage = "Your session has expired or access was revoked. Please sign in again."

// Phase of the handler.
type Phase int

const (
	Idle Phase = iota
	LoggingOut
)

func (p Phase) String() string {
	if p == LoggingOut {
		return "logging_out"
	}
	return "idle"
}

// Credentials is the credential owner; Clear must drop tokens and the
// cached profile from memory and from persistent storage.
type Credentials interface {
	Clear() error
}

// AppState receives the logout and drops its persisted blob.
type AppState interface {
	Dispatch(state.Action) error
	Purge() error
}

// Notifier shows user-facing notifications.
type Notifier interface {
	SessionExpired(message string)
}

// Navigator performs hard redirects.
type Navigator interface {
	Location() string
	Redirect(path string)
}

// Config wires a Handler.
type Config struct {
	Credentials Credentials
	State       AppState
	Notifier    Notifier
	Navigator   Navigator

	LoginPath  string
	ResetDelay time.Duration
	Clock      clock.Clock
	Metrics    *metrics.Collector
	Logger     *log.Logger
}

// Handler tears down the session on a forced logout.
type Handler struct {
	cfg Config

	mu    sync.Mutex
	phase Phase
	timer clock.Timer
}

// New returns an idle Handler.
func New(cfg Config) *Handler {
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.ResetDelay == 0 {
		cfg.ResetDelay = DefaultResetDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Handler{cfg: cfg}
}

// Phase reports the current phase.
func (h *Handler) Phase() Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// HandleForbidden tears the session down. It is a no-op, returning false,
// while a teardown is in progress or when the user is already on the login
// route.
func (h *Handler) HandleForbidden() bool {
	h.mu.Lock()
	if h.phase == LoggingOut || h.onLoginRoute() {
		h.mu.Unlock()
		h.cfg.Metrics.ForcedLogout(false)
		return false
	}
	h.phase = LoggingOut
	h.mu.Unlock()

	h.teardown()
	h.cfg.Metrics.ForcedLogout(true)

	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = h.cfg.Clock.AfterFunc(h.cfg.ResetDelay, h.reset)
	h.mu.Unlock()
	return true
}

// Close cancels a pending guard reset and returns the handler to Idle.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.phase = Idle
}

func (h *Handler) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.phase = Idle
	h.timer = nil
}

func (h *Handler) onLoginRoute() bool {
	return h.cfg.Navigator != nil && h.cfg.Navigator.Location() == h.cfg.LoginPath
}

// teardown runs every step even when an earlier one fails.
func (h *Handler) teardown() {
	var errs []error
	if h.cfg.Credentials != nil {
		errs = append(errs, h.cfg.Credentials.Clear())
	}
	if h.cfg.State != nil {
		errs = append(errs, h.cfg.State.Dispatch(state.LoggedOut{}))
		errs = append(errs, h.cfg.State.Purge())
	}
	if err := errors.Join(errs...); err != nil && h.cfg.Logger != nil {
		h.cfg.Logger.Printf("[auth] forced logout cleanup: %v", err)
	}

	if h.cfg.Notifier != nil {
		h.cfg.Notifier.SessionExpired(SessionExpiredMessage)
	}
	if h.cfg.Navigator != nil {
		h.cfg.Navigator.Redirect(h.cfg.LoginPath)
	}
}

// Router is a Navigator for a command-line process. A hard redirect records
// the new location and runs OnRedirect, which the CLI uses to cancel the
// running command so no stale in-memory state is used afterwards.
type Router struct {
	mu         sync.Mutex
	location   string
	redirects  []string
	OnRedirect func(path string)
}

// NewRouter returns a Router positioned at location.
func NewRouter(location string) *Router {
	return &Router{location: location}
}

func (r *Router) Location() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.location
}

// Navigate is a soft route change.
func (r *Router) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.location = path
}

func (r *Router) Redirect(path string) {
	r.mu.Lock()
	r.location = path
	r.redirects = append(r.redirects, path)
	fn := r.OnRedirect
	r.mu.Unlock()

	if fn != nil {
		fn(path)
	}
}

// Redirects returns every hard redirect performed so far.
func (r *Router) Redirects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.redirects...)
}
