package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	OpenConnections      prometheus.Gauge
	OnlineUsers          prometheus.Gauge
	PresenceDeltas       *prometheus.CounterVec
	EventsDelivered      *prometheus.CounterVec
	TransportFailures    prometheus.Counter
	TypingExpiries       prometheus.Counter
	NotificationsCreated *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		OpenConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_open_connections",
			Help: "Currently registered push connections.",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_online_users",
			Help: "Users with at least one open connection.",
		}),
		PresenceDeltas: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_presence_deltas_total",
			Help: "Presence transitions emitted by the registry.",
		}, []string{"online"}),
		EventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_delivered_total",
			Help: "Events queued onto connections, by event type.",
		}, []string{"type"}),
		TransportFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_transport_failures_total",
			Help: "Sends that failed and evicted the connection.",
		}),
		TypingExpiries: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_typing_expiries_total",
			Help: "Typing sessions cleared by timer expiry.",
		}),
		NotificationsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_notifications_created_total",
			Help: "Durable notifications created, by kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
