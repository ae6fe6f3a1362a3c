// Package metrics exposes Prometheus collectors for the API client.
package metrics

import (
	"bytes"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "lease").
	Namespace string
	// Subsystem is the metrics subsystem (default: "client").
	Subsystem string
	// Registry receives the collectors. Default: a private registry, so a
	// CLI run never touches prometheus.DefaultRegisterer.
	Registry *prometheus.Registry
}

// Option configures Config.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(ns string) Option {
	return func(c *Config) { c.Namespace = ns }
}

// WithRegistry sets the registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(c *Config) { c.Registry = r }
}

// Collector records request outcomes. A nil *Collector is valid and records
// nothing.
type Collector struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	retries        prometheus.Counter
	refreshes      *prometheus.CounterVec
	forcedLogouts  prometheus.Counter
	logoutsSkipped prometheus.Counter
}

// New creates and registers the collectors.
func New(opts ...Option) *Collector {
	cfg := Config{Namespace: "lease", Subsystem: "client"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(cfg.Registry)

	return &Collector{
		registry: cfg.Registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "requests_total",
			Help:      "HTTP attempts by method and status (0 = no response).",
		}, []string{"method", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP attempt latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "retries_total",
			Help:      "Retries issued for transient failures.",
		}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "token_refresh_total",
			Help:      "Access token refresh attempts by result.",
		}, []string{"result"}),
		forcedLogouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "forced_logouts_total",
			Help:      "Sessions torn down after a 403.",
		}),
		logoutsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "forced_logouts_suppressed_total",
			Help:      "403s that arrived while a logout was already in progress.",
		}),
	}
}

// ObserveRequest records one HTTP attempt.
func (c *Collector) ObserveRequest(method string, status int, took time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.duration.WithLabelValues(method).Observe(took.Seconds())
}

// Retry records one retry.
func (c *Collector) Retry() {
	if c == nil {
		return
	}
	c.retries.Inc()
}

// Refresh records a refresh attempt; ok selects the result label.
func (c *Collector) Refresh(ok bool) {
	if c == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	c.refreshes.WithLabelValues(result).Inc()
}

// ForcedLogout records a 403 handoff; applied reports whether it tore the
// session down or was suppressed by the in-progress guard.
func (c *Collector) ForcedLogout(applied bool) {
	if c == nil {
		return
	}
	if applied {
		c.forcedLogouts.Inc()
		return
	}
	c.logoutsSkipped.Inc()
}

// Dump renders the registry in the Prometheus text format.
func (c *Collector) Dump() (string, error) {
	if c == nil {
		return "", nil
	}
	families, err := c.registry.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
