package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/ops-portal/internal/events"
)

// Metrics holds the Prometheus collectors of the service on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	httpErrors    *prometheus.CounterVec
	domainEvents  *prometheus.CounterVec
	notifyFailure *prometheus.CounterVec
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_portal_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ops_portal_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_portal_http_errors_total",
			Help: "HTTP requests that ended in a domain error",
		}, []string{"method", "route", "code"}),
		domainEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_portal_domain_events_total",
			Help: "Committed lifecycle mutations by event type",
		}, []string{"type"}),
		notifyFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_portal_notification_failures_total",
			Help: "Notifications the dispatcher failed to deliver",
		}, []string{"event"}),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.httpErrors.WithLabelValues(method, route, code).Inc()
}

// RecordNotificationFailure counts a failed notification for the triggering event.
func (m *Metrics) RecordNotificationFailure(eventType events.EventType) {
	if m == nil {
		return
	}
	m.notifyFailure.WithLabelValues(string(eventType)).Inc()
}

// ObserveEvent is an events.EventHandler counting committed mutations.
func (m *Metrics) ObserveEvent(_ context.Context, event events.Event) error {
	if m == nil {
		return nil
	}
	m.domainEvents.WithLabelValues(string(event.Type)).Inc()
	return nil
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
