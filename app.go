package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-authgate/lease-cli/internal/apiclient"
	"github.com/go-authgate/lease-cli/internal/authflow"
	"github.com/go-authgate/lease-cli/internal/leasing"
	"github.com/go-authgate/lease-cli/internal/metrics"
	"github.com/go-authgate/lease-cli/internal/retry"
	"github.com/go-authgate/lease-cli/internal/session"
	"github.com/go-authgate/lease-cli/internal/state"
	"github.com/go-authgate/lease-cli/internal/store"
	"github.com/go-authgate/lease-cli/internal/store/gormstore"
	"github.com/go-authgate/lease-cli/internal/store/redisstore"
	"github.com/go-authgate/lease-cli/tui"
)

// errSessionExpired is the cancellation cause after a forced logout.
var errSessionExpired = errors.New("session expired")

// app is everything one command needs, wired from config.
type app struct {
	cfg     *config
	display tui.Displayer
	stderr  io.Writer

	kv      store.Store
	session *session.Manager
	state   *state.Store
	router  *authflow.Router
	auth    *authflow.Handler
	client  *apiclient.Client
	svc     *leasing.Service
	metrics *metrics.Collector

	closeStore    func() error
	shutdownTrace func(context.Context) error
	cancel        context.CancelCauseFunc
}

// tracerName names the tracer installed by --trace.
const tracerName = "github.com/go-authgate/lease-cli"

// newApp opens the store, restores the session and builds the client. The
// returned context is cancelled by a forced logout. route is the command's
// location for the login-route check.
func newApp(
	ctx context.Context,
	cfg *config,
	d tui.Displayer,
	stderr io.Writer,
	route string,
) (*app, context.Context, error) {
	kv, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	a := &app{
		cfg:        cfg,
		display:    d,
		stderr:     stderr,
		kv:         kv,
		session:    session.New(kv),
		state:      state.New(kv, cfg.StoreKey),
		router:     authflow.NewRouter(route),
		closeStore: closeStore,
	}
	if cfg.Metrics {
		a.metrics = metrics.New()
	}

	if err := a.session.Load(); err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	if err := a.state.Rehydrate(); err != nil {
		_ = a.Close()
		return nil, nil, err
	}

	ctx, a.cancel = context.WithCancelCause(ctx)
	a.router.OnRedirect = func(string) { a.cancel(errSessionExpired) }

	var logger *log.Logger
	if cfg.Debug {
		logger = log.New(stderr, "[lease] ", log.LstdFlags|log.Lmicroseconds)
		a.state.Subscribe(func(st state.State) {
			logger.Printf("[state] logged_in=%t user=%q resources=%d",
				st.Auth.LoggedIn, st.Auth.UserName, len(st.Resources))
		})
	}

	var tracer trace.Tracer
	if cfg.Trace {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			_ = a.Close()
			return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		a.shutdownTrace = tp.Shutdown
		tracer = tp.Tracer(tracerName)
	}

	a.auth = authflow.New(authflow.Config{
		Credentials: a.session,
		State:       a.state,
		Notifier:    d,
		Navigator:   a.router,
		Metrics:     a.metrics,
		Logger:      logger,
	})

	retries := cfg.Retries
	if retries == 0 {
		retries = retry.NoRetries
	}
	a.client, err = apiclient.New(apiclient.Config{
		BaseURL:     cfg.APIURL,
		Timeout:     cfg.Timeout,
		Retries:     retries,
		RetryDelay:  cfg.RetryDelay,
		DownloadDir: cfg.DownloadDir,
		Session:     a.session,
		Forbidden:   a.auth,
		State:       a.state,
		Metrics:     a.metrics,
		Tracer:      tracer,
		Logger:      logger,
		Hooks: apiclient.Hooks{
			OnRetry: d.Retrying,
			OnRefresh: func(err error) {
				if err != nil {
					d.RefreshFailed(err)
					return
				}
				d.TokenRefreshed()
			},
		},
	})
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	a.svc = leasing.New(a.client, a.state)
	return a, ctx, nil
}

// Close releases the store and prints metrics when requested.
func (a *app) Close() error {
	if a.cancel != nil {
		a.cancel(context.Canceled)
	}
	if a.auth != nil {
		a.auth.Close()
	}
	if a.shutdownTrace != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.shutdownTrace(ctx)
		cancel()
	}
	if a.metrics != nil {
		if out, err := a.metrics.Dump(); err == nil {
			fmt.Fprint(a.stderr, out)
		}
	}
	if a.closeStore != nil {
		return a.closeStore()
	}
	return nil
}

// interpret maps a failure caused by a forced logout to the FORBIDDEN error
// that triggered it.
func interpret(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(context.Cause(ctx), errSessionExpired) && errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s", errSessionExpired, authflow.SessionExpiredMessage)
	}
	return err
}

func openStore(cfg *config) (store.Store, func() error, error) {
	switch cfg.Store {
	case storeMemory:
		return store.NewMemStore(), func() error { return nil }, nil
	case storeSQLite:
		s, err := gormstore.OpenSQLite(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case storeRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:        cfg.RedisAddr,
			DialTimeout: 5 * time.Second,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		s := redisstore.New(rdb, "")
		return s, s.Close, nil
	default:
		return store.NewFileStore(cfg.StorePath), func() error { return nil }, nil
	}
}
