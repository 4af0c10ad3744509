// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default histogram buckets for relay latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  prometheus.Histogram
	UpstreamResponses *prometheus.CounterVec
	UpstreamFailures  prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "form_relay_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "form_relay_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "form_relay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "form_relay_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "form_relay_upstream_responses_total",
			Help: "Total upstream responses by status code.",
		}, []string{"status_code"}),

		UpstreamFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "form_relay_upstream_failures_total",
			Help: "Upstream calls that failed before a response was received.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamFailures,
	)

	return m
}

// Handler returns an http.Handler exposing the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPaths lists the allowed path label values (bounded cardinality).
var knownPaths = []string{"/proxy", "/healthz", "/relay/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, p := range knownPaths {
		if path == p || strings.HasPrefix(path, p+"?") {
			return p
		}
	}
	return "other"
}
