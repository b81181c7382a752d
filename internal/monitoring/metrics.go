// Package monitoring exposes prometheus metrics for the dev server: build
// cycles, reload notifications and live reload sessions.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "folio"

// Metrics holds the collectors registered for one dev server.
type Metrics struct {
	registry *prometheus.Registry

	builds         *prometheus.CounterVec
	buildDuration  prometheus.Histogram
	pagesRendered  prometheus.Gauge
	reloadsTotal   prometheus.Counter
	activeSessions prometheus.Gauge
	sessionsTotal  prometheus.Counter
	sessionErrors  *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry so several
// servers in one process do not clash.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		builds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "builds_total",
			Help:      "Total number of site builds by status",
		}, []string{"status"}),

		buildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "build_duration_seconds",
			Help:      "Site build duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		pagesRendered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pages_rendered",
			Help:      "Number of pages written by the last successful build",
		}),

		reloadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reload_events_total",
			Help:      "Total number of reload notifications published",
		}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "live_reload_sessions",
			Help:      "Number of connected live reload sessions",
		}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "live_reload_sessions_total",
			Help:      "Total number of accepted live reload sessions",
		}),

		sessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "live_reload_session_errors_total",
			Help:      "Live reload session failures by reason",
		}, []string{"reason"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordBuild records one finished build. pages is ignored for failed builds.
func (m *Metrics) RecordBuild(duration time.Duration, pages int, err error) {
	if m == nil {
		return
	}
	m.buildDuration.Observe(duration.Seconds())
	if err != nil {
		m.builds.WithLabelValues("error").Inc()
		return
	}
	m.builds.WithLabelValues("success").Inc()
	m.pagesRendered.Set(float64(pages))
}

// RecordReload counts a published reload notification.
func (m *Metrics) RecordReload() {
	if m == nil {
		return
	}
	m.reloadsTotal.Inc()
}

// SessionOpened tracks a newly accepted live reload session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.activeSessions.Inc()
}

// SessionClosed tracks the end of a live reload session.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// SessionError counts a session failure. Reasons are a fixed set such as
// "accept", "write" or "closed" to keep label cardinality low.
func (m *Metrics) SessionError(reason string) {
	if m == nil {
		return
	}
	m.sessionErrors.WithLabelValues(reason).Inc()
}
