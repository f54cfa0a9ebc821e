// Package metrics provides Prometheus metrics for the facility operations engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	AdmissionsTotal     *prometheus.CounterVec
	AdmissionsRejected  *prometheus.CounterVec
	DispatchesTotal     *prometheus.CounterVec
	DispatchWaitMinutes prometheus.Histogram
	PendingAdmissions   *prometheus.GaugeVec
	QueueClears         prometheus.Counter
	RouteQueries        *prometheus.CounterVec
	RouteDuration       prometheus.Histogram
	IntakeMessages      *prometheus.CounterVec
	OutboxPending       prometheus.Gauge
	OutboxFailed        prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
	registry            prometheus.Gatherer
}

// New creates metrics registered with the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry creates metrics registered with reg and served from gatherer
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		AdmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_admissions_total",
			Help: "Total patients admitted to the triage queue",
		}, []string{"severity"}),
		AdmissionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_admissions_rejected_total",
			Help: "Total admission requests rejected",
		}, []string{"reason"}),
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_dispatches_total",
			Help: "Total patients dispatched for treatment",
		}, []string{"severity"}),
		DispatchWaitMinutes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triage_dispatch_wait_minutes",
			Help:    "Minutes waited in the queue before treatment",
			Buckets: []float64{0, 1, 5, 10, 15, 30, 60, 120, 240},
		}),
		PendingAdmissions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "triage_pending_admissions",
			Help: "Patients currently waiting, by severity",
		}, []string{"severity"}),
		QueueClears: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_queue_clears_total",
			Help: "Total administrative queue clears",
		}),
		RouteQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wayfinding_route_queries_total",
			Help: "Total route queries by outcome",
		}, []string{"outcome"}),
		RouteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wayfinding_route_duration_seconds",
			Help:    "Shortest path computation duration",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		}),
		IntakeMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_messages_total",
			Help: "Kiosk intake messages by result",
		}, []string{"result"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		OutboxFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_failed_entries",
			Help: "Outbox entries past max retries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		registry: gatherer,
	}

	reg.MustRegister(
		m.AdmissionsTotal,
		m.AdmissionsRejected,
		m.DispatchesTotal,
		m.DispatchWaitMinutes,
		m.PendingAdmissions,
		m.QueueClears,
		m.RouteQueries,
		m.RouteDuration,
		m.IntakeMessages,
		m.OutboxPending,
		m.OutboxFailed,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
