// Package metrics exposes Prometheus counters for tracked-change activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests and multiple servers in one
// process do not collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	MarkersCreated   *prometheus.CounterVec
	MarkersResolved  *prometheus.CounterVec
	ParagraphEdits   *prometheus.CounterVec
	CommitsPersisted prometheus.Counter
	PersistFailures  *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	SSEClients       prometheus.GaugeFunc
}

// New registers every collector. clients may be nil.
func New(clients func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	if clients == nil {
		clients = func() float64 { return 0 }
	}
	return &Metrics{
		registry: reg,
		MarkersCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "redline_markers_created_total",
			Help: "Tracked-change markers created, by kind.",
		}, []string{"kind"}),
		MarkersResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "redline_markers_resolved_total",
			Help: "Tracked-change markers accepted or rejected, by kind and action.",
		}, []string{"kind", "action"}),
		ParagraphEdits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "redline_paragraph_edits_total",
			Help: "Paragraph edits received, by outcome (applied, skipped).",
		}, []string{"outcome"}),
		CommitsPersisted: f.NewCounter(prometheus.CounterOpts{
			Name: "redline_commits_persisted_total",
			Help: "Document versions written to git.",
		}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "redline_persist_failures_total",
			Help: "Failures while persisting a committed edit, by stage.",
		}, []string{"stage"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redline_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		SSEClients: f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "redline_sse_clients",
			Help: "Connected event stream clients.",
		}, clients),
	}
}

func (m *Metrics) MarkerCreated(kind string) {
	m.MarkersCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) MarkerResolved(kind, action string) {
	m.MarkersResolved.WithLabelValues(kind, action).Inc()
}

func (m *Metrics) ParagraphEditsApplied(applied, skipped int) {
	m.ParagraphEdits.WithLabelValues("applied").Add(float64(applied))
	m.ParagraphEdits.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *Metrics) PersistFailed(stage string) {
	m.PersistFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.RequestDuration.WithLabelValues(route, method, statusClass(status)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
