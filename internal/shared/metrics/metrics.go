package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Gate metrics
	GateDecisionsTotal *prometheus.CounterVec
	GateCheckDuration  prometheus.Histogram

	// Catalog metrics
	CatalogLoadsTotal  *prometheus.CounterVec
	CatalogLastSuccess prometheus.Gauge

	// Usage metrics
	UsageIncrementsTotal *prometheus.CounterVec

	// Subscription metrics
	SubscriptionTransitionsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance registered with reg.
// A nil reg registers with the default registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gate"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		GateDecisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "decisions_total",
				Help:      "Total number of gate decisions",
			},
			[]string{"allowed", "reason"},
		),
		GateCheckDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "check_duration_seconds",
				Help:      "Server guard check duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),

		CatalogLoadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "catalog",
				Name:      "loads_total",
				Help:      "Total number of catalog fetches",
			},
			[]string{"source", "result"}, // result: success, stale, error
		),
		CatalogLastSuccess: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "catalog",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful catalog fetch",
			},
		),

		UsageIncrementsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "increments_total",
				Help:      "Total number of usage counter increments",
			},
			[]string{"result"}, // result: counted, duplicate, rejected, error
		),

		SubscriptionTransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "subscription",
				Name:      "transitions_total",
				Help:      "Total number of subscription state changes",
			},
			[]string{"status"},
		),
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGateDecision records the outcome of a server guard check.
func (m *Metrics) RecordGateDecision(allowed bool, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.GateDecisionsTotal.WithLabelValues(strconv.FormatBool(allowed), reason).Inc()
	m.GateCheckDuration.Observe(duration.Seconds())
}

// RecordCatalogLoad records a catalog fetch attempt.
func (m *Metrics) RecordCatalogLoad(source, result string) {
	if m == nil {
		return
	}
	m.CatalogLoadsTotal.WithLabelValues(source, result).Inc()
	if result == "success" {
		m.CatalogLastSuccess.SetToCurrentTime()
	}
}

// RecordUsageIncrement records a usage counter increment.
func (m *Metrics) RecordUsageIncrement(result string) {
	if m == nil {
		return
	}
	m.UsageIncrementsTotal.WithLabelValues(result).Inc()
}

// RecordSubscriptionTransition records a subscription moving to status.
func (m *Metrics) RecordSubscriptionTransition(status string) {
	if m == nil {
		return
	}
	m.SubscriptionTransitionsTotal.WithLabelValues(status).Inc()
}
