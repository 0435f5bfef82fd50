// Package observability exposes the engine's Prometheus metrics. Every method is safe on a nil
// *Metrics so that callers without metrics need no special casing.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
)

type Metrics struct {
	registry *prometheus.Registry

	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	dependencyErrs *prometheus.CounterVec
	queueMessages  *prometheus.CounterVec
	queueRetries   prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// NewMetrics registers the engine metrics, plus the Go and process collectors, on a private
// registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indicator_jobs_total",
			Help: "Indicator jobs by period kind and outcome.",
		}, []string{"kind", "outcome"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indicator_job_duration_seconds",
			Help:    "Duration of single indicator jobs by period kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		dependencyErrs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indicator_dependency_errors_total",
			Help: "Transient failures of the measurement repository or the indicator store.",
		}, []string{"dependency"}),
		queueMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indicator_queue_messages_total",
			Help: "Job messages consumed from the queue by result.",
		}, []string{"result"}),
		queueRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "indicator_queue_retries_total",
			Help: "Retries of job messages after transient failures.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// JobFinished implements indicator.Recorder.
func (m *Metrics) JobFinished(kind model.PeriodKind, outcome indicator.Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(string(kind), string(outcome)).Inc()
	m.jobDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// DependencyError implements indicator.Recorder.
func (m *Metrics) DependencyError(dependency string) {
	if m == nil {
		return
	}
	m.dependencyErrs.WithLabelValues(dependency).Inc()
}

func (m *Metrics) QueueMessage(result string) {
	if m == nil {
		return
	}
	m.queueMessages.WithLabelValues(result).Inc()
}

func (m *Metrics) QueueRetry() {
	if m == nil {
		return
	}
	m.queueRetries.Inc()
}

func (m *Metrics) HTTPRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
