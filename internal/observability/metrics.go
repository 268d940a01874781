package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Attempt outcomes
const (
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
)

// Metrics collects router metrics.
type Metrics interface {
	// RecordAttempt counts one adapter call; outcome is "success" or an error kind
	RecordAttempt(provider, outcome string, duration time.Duration)
	// RecordRequest counts one top-level generate call; status is "success" or an error type
	RecordRequest(status string, attempts int, duration time.Duration)
	RecordTokens(provider string, prompt, completion int)
	RecordRateLimited(provider string)
	RecordUsageDropped()
}

// PrometheusMetrics implements Metrics on a private registry
type PrometheusMetrics struct {
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	requestDuration prometheus.Histogram
	requestAttempts prometheus.Histogram
	tokens          *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	usageDropped    prometheus.Counter
}

// NewPrometheusMetrics creates and registers the router collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_router_attempts_total",
			Help: "Provider calls made, by provider and outcome",
		}, []string{"provider", "outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_router_attempt_duration_seconds",
			Help:    "Latency of individual provider calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"provider"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_router_requests_total",
			Help: "Generate calls, by final status",
		}, []string{"status"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "llm_router_request_duration_seconds",
			Help:    "End to end latency of generate calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		requestAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "llm_router_request_attempts",
			Help:    "Provider calls needed per generate call",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_router_tokens_total",
			Help: "Tokens reported by providers",
		}, []string{"provider", "type"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_router_rate_limited_total",
			Help: "Candidates skipped because their window was full",
		}, []string{"provider"}),
		usageDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llm_router_usage_records_dropped_total",
			Help: "Usage records dropped because the recorder buffer was full",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.attempts,
		m.attemptDuration,
		m.requests,
		m.requestDuration,
		m.requestAttempts,
		m.tokens,
		m.rateLimited,
		m.usageDropped,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *PrometheusMetrics) RecordAttempt(provider, outcome string, duration time.Duration) {
	m.attempts.WithLabelValues(provider, outcome).Inc()
	m.attemptDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordRequest(status string, attempts int, duration time.Duration) {
	m.requests.WithLabelValues(status).Inc()
	m.requestDuration.Observe(duration.Seconds())
	m.requestAttempts.Observe(float64(attempts))
}

func (m *PrometheusMetrics) RecordTokens(provider string, prompt, completion int) {
	m.tokens.WithLabelValues(provider, "prompt").Add(float64(prompt))
	m.tokens.WithLabelValues(provider, "completion").Add(float64(completion))
}

func (m *PrometheusMetrics) RecordRateLimited(provider string) {
	m.rateLimited.WithLabelValues(provider).Inc()
}

func (m *PrometheusMetrics) RecordUsageDropped() {
	m.usageDropped.Inc()
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordAttempt(string, string, time.Duration) {}
func (NopMetrics) RecordRequest(string, int, time.Duration)    {}
func (NopMetrics) RecordTokens(string, int, int)               {}
func (NopMetrics) RecordRateLimited(string)                    {}
func (NopMetrics) RecordUsageDropped()                         {}
