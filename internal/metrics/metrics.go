// Package metrics holds the Prometheus collectors for the pipeline. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	listings      *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	upstream      *prometheus.CounterVec
}

type Config struct {
	Namespace      string
	ProcessMetrics bool
}

type OptionFn func(Config) Config

func WithNamespace(ns string) OptionFn {
	return func(c Config) Config {
		c.Namespace = ns
		return c
	}
}

// WithProcessMetrics adds the Go runtime and process collectors.
func WithProcessMetrics() OptionFn {
	return func(c Config) Config {
		c.ProcessMetrics = true
		return c
	}
}

// New registers every collector on a private registry.
func New(opts ...OptionFn) *Metrics {
	cfg := Config{Namespace: "scoutline"}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		listings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: "ingest", Name: "listings_total",
			Help: "Listings processed, by outcome (approved, passed, tracked, error).",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: "ingest", Name: "runs_total",
			Help: "Ingestion runs, by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: "ingest", Name: "run_duration_seconds",
			Help:    "Wall time of ingestion runs.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: "lifecycle", Name: "transitions_total",
			Help: "Lifecycle commands, by action and outcome.",
		}, []string{"action", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: "notify", Name: "messages_total",
			Help: "Notification deliveries, by channel and result.",
		}, []string{"channel", "result"}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: "marketplace", Name: "requests_total",
			Help: "Marketplace API calls, by operation and result.",
		}, []string{"operation", "result"}),
	}
	reg.MustRegister(m.listings, m.runs, m.runDuration, m.transitions, m.notifications, m.upstream)
	if cfg.ProcessMetrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) Listing(outcome string) {
	if m == nil {
		return
	}
	m.listings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Run(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(took.Seconds())
}

func (m *Metrics) Transition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) Notification(channel, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) Upstream(operation, result string) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(operation, result).Inc()
}
