// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	rateLimitDenials *prometheus.CounterVec
	activeStreams    prometheus.Gauge
}

// New creates and registers the gateway collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests handled, by endpoint, backend and status code.",
		}, []string{"endpoint", "backend", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request latency in seconds, by endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		rateLimitDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_denials_total",
			Help: "Admissions denied, by token label and window.",
		}, []string{"token_label", "window"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_streams",
			Help: "Streaming responses currently open.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.rateLimitDenials,
		m.activeStreams,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one handled request.
func (m *Metrics) ObserveRequest(endpoint, backend string, status int, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(endpoint, backend, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveRateLimitDenial records one denied admission.
func (m *Metrics) ObserveRateLimitDenial(tokenLabel, window string) {
	m.rateLimitDenials.WithLabelValues(tokenLabel, window).Inc()
}

// StreamStarted marks a streaming response as open until the returned
// function is called.
func (m *Metrics) StreamStarted() (done func()) {
	m.activeStreams.Inc()
	return m.activeStreams.Dec
}
