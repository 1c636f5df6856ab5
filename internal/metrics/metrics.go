// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn and document outcomes.
const (
	OutcomeCanned    = "canned"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Upstream results other than error kinds.
const (
	ResultOK       = "ok"
	ResultFallback = "fallback"
)

// Metrics holds all gateway metrics on a private registry. All methods are
// safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal            *prometheus.CounterVec
	DocumentsTotal        *prometheus.CounterVec
	ErrorsTotal           *prometheus.CounterVec
	UpstreamRequestsTotal *prometheus.CounterVec
	UpstreamDuration      prometheus.Histogram
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.TurnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sapphir_turns_total",
			Help: "Total number of chat turns by outcome",
		},
		[]string{"outcome"},
	)

	m.DocumentsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sapphir_documents_total",
			Help: "Total number of document analyses by outcome",
		},
		[]string{"outcome"},
	)

	m.ErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sapphir_errors_total",
			Help: "Total number of failed calls by error kind",
		},
		[]string{"kind"},
	)

	m.UpstreamRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sapphir_upstream_requests_total",
			Help: "Total number of upstream completion calls by result",
		},
		[]string{"result"},
	)

	m.UpstreamDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sapphir_upstream_request_duration_seconds",
			Help:    "Duration of upstream completion calls in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		},
	)

	return m
}

// RegisterSessionGauge exposes the live session count reported by fn.
func (m *Metrics) RegisterSessionGauge(fn func() int) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sapphir_sessions",
			Help: "Number of sessions currently held in memory",
		},
		func() float64 { return float64(fn()) },
	)
}

// ObserveTurn counts one turn.
func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDocument counts one document analysis.
func (m *Metrics) ObserveDocument(outcome string) {
	if m == nil {
		return
	}
	m.DocumentsTotal.WithLabelValues(outcome).Inc()
}

// ObserveError counts one failure of the given kind.
func (m *Metrics) ObserveError(kind string) {
	if m == nil || kind == "" {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveUpstream records one upstream call.
func (m *Metrics) ObserveUpstream(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequestsTotal.WithLabelValues(result).Inc()
	m.UpstreamDuration.Observe(d.Seconds())
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
