// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the engine's collectors. All record methods are nil-safe
// so components can run without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal       *prometheus.CounterVec
	notificationsTotal prometheus.Counter
	webhookDeliveries *prometheus.CounterVec
	wsClients         prometheus.Gauge
	httpRequests      *prometheus.CounterVec
}

// New registers the engine collectors on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opengate_events_total",
			Help: "Events emitted, by event type.",
		}, []string{"type"}),
		notificationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opengate_notifications_total",
			Help: "Notifications created for agents.",
		}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opengate_webhook_deliveries_total",
			Help: "Webhook delivery attempts that reached a final outcome.",
		}, []string{"outcome"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opengate_ws_clients",
			Help: "Connected WebSocket clients.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opengate_http_requests_total",
			Help: "HTTP requests served, by method, route, and status.",
		}, []string{"method", "path", "status"}),
	}

	collectors := []prometheus.Collector{
		m.eventsTotal, m.notificationsTotal, m.webhookDeliveries, m.wsClients, m.httpRequests,
	}
	for _, collector := range collectors {
		if err := m.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent counts one emitted event.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(eventType).Inc()
}

// RecordNotifications counts created notifications.
func (m *Metrics) RecordNotifications(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notificationsTotal.Add(float64(n))
}

// RecordWebhookDelivery counts a webhook that reached a final outcome,
// either "delivered" or "failed".
func (m *Metrics) RecordWebhookDelivery(outcome string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(outcome).Inc()
}

// WSClientConnected moves the connected-clients gauge up.
func (m *Metrics) WSClientConnected() {
	if m == nil {
		return
	}
	m.wsClients.Inc()
}

// WSClientDisconnected moves the connected-clients gauge down.
func (m *Metrics) WSClientDisconnected() {
	if m == nil {
		return
	}
	m.wsClients.Dec()
}

// RecordHTTPRequest counts one served request against its matched route.
func (m *Metrics) RecordHTTPRequest(method, path string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
