// Package telemetry records report run metrics in a private prometheus
// registry that is either scraped by the API server or pushed to a
// pushgateway at the end of a run.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "buildstatsoor"

var requestBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// Run status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusLocked  = "locked"
)

// Metrics holds the report collectors.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   prometheus.Gauge
	lastSuccess   prometheus.Gauge
	apps          prometheus.Gauge
	buildsFetched prometheus.Counter
	rowsAppended  *prometheus.CounterVec
	tableColumns  *prometheus.GaugeVec

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimited    *prometheus.CounterVec
}

// New creates Metrics registered in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "runs_total",
			Help:      "Report runs by final status",
		}, []string{"status"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last report run",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful report run",
		}),
		apps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "apps",
			Help:      "Enabled apps seen by the last run",
		}),
		buildsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "builds_fetched_total",
			Help:      "Builds fetched from the CI provider",
		}),
		rowsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "table",
			Name:      "rows_appended_total",
			Help:      "Rows appended per report table",
		}, []string{"table"}),
		tableColumns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "table",
			Name:      "columns",
			Help:      "Named columns per report table after the last run",
		}, []string{"table"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   requestBuckets,
		}, []string{"method", "route", "status"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Table requests rejected by the per-client rate limit",
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.runs,
		m.runDuration,
		m.lastSuccess,
		m.apps,
		m.buildsFetched,
		m.rowsAppended,
		m.tableColumns,
		m.requests,
		m.requestLatency,
		m.rateLimited,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status string, took time.Duration, finished time.Time) {
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Set(took.Seconds())

	if status == StatusSuccess {
		m.lastSuccess.Set(float64(finished.Unix()))
	}
}

// SetApps records the number of enabled apps.
func (m *Metrics) SetApps(n int) {
	m.apps.Set(float64(n))
}

// AddBuilds counts fetched builds.
func (m *Metrics) AddBuilds(n int) {
	m.buildsFetched.Add(float64(n))
}

// RowAppended counts a row written to table and records its column count.
func (m *Metrics) RowAppended(table string, columns int) {
	m.rowsAppended.WithLabelValues(table).Inc()
	m.tableColumns.WithLabelValues(table).Set(float64(columns))
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, took time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}

	m.requests.With(labels).Inc()
	m.requestLatency.With(labels).Observe(took.Seconds())
}

// RateLimited counts a request to route rejected by the rate limiter.
func (m *Metrics) RateLimited(route string) {
	m.rateLimited.WithLabelValues(route).Inc()
}

// Push sends every collected metric to a pushgateway, replacing the
// previous group for job.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if err := push.New(gatewayURL, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", gatewayURL, err)
	}

	return nil
}
