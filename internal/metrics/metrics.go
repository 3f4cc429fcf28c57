package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments of the workflow engine.
type Metrics struct {
	WorkflowEventsTotal       *prometheus.CounterVec
	VersionConflictsTotal     *prometheus.CounterVec
	DisplayNumbersAllocated   *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec
	NameCacheLookupsTotal     *prometheus.CounterVec
	registry                  prometheus.Gatherer
}

// New creates and registers all instruments on reg. A nil reg uses a fresh
// registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		WorkflowEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringi_workflow_events_total",
			Help: "Total number of workflow business events.",
		}, []string{"action", "result"}),
		VersionConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringi_version_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts.",
		}, []string{"entity"}),
		DisplayNumbersAllocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringi_display_numbers_allocated_total",
			Help: "Total number of display numbers allocated.",
		}, []string{"entity_type"}),
		NotificationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringi_notification_failures_total",
			Help: "Total number of notifications that could not be delivered.",
		}, []string{"kind"}),
		NameCacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ringi_name_cache_lookups_total",
			Help: "User name cache lookups by outcome.",
		}, []string{"outcome"}),
		registry: reg,
	}
	reg.MustRegister(
		m.WorkflowEventsTotal,
		m.VersionConflictsTotal,
		m.DisplayNumbersAllocated,
		m.NotificationFailuresTotal,
		m.NameCacheLookupsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Conflict(entity string) {
	if m == nil {
		return
	}
	m.VersionConflictsTotal.WithLabelValues(entity).Inc()
}

func (m *Metrics) Allocated(entityType string, n int) {
	if m == nil {
		return
	}
	m.DisplayNumbersAllocated.WithLabelValues(entityType).Add(float64(n))
}

func (m *Metrics) NotificationFailed(kind string) {
	if m == nil {
		return
	}
	m.NotificationFailuresTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) NameCache(outcome string) {
	if m == nil {
		return
	}
	m.NameCacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// Event counts one workflow operation outcome.
func (m *Metrics) Event(action, result string) {
	if m == nil {
		return
	}
	m.WorkflowEventsTotal.WithLabelValues(action, result).Inc()
}
