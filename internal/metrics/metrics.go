package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wizard_rooms"

// Metrics собирает счетчики сервера. Все методы безопасны для nil.
type Metrics struct {
	activeUsers    prometheus.Gauge
	rooms          prometheus.Gauge
	joins          prometheus.Counter
	broadcasts     *prometheus.CounterVec
	dropped        prometheus.Counter
	storeFallbacks *prometheus.CounterVec
	malformed      prometheus.Counter

	gatherer prometheus.Gatherer
}

func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		activeUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_users",
			Help:      "Distinct users with at least one live connection.",
		}),
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms created by this instance and not yet deleted.",
		}),
		joins: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Successful createOrJoin calls.",
		}),
		broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Events broadcast to rooms, by event type.",
		}, []string{"type"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because a client send queue was full.",
		}),
		storeFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_fallbacks_total",
			Help:      "Store operations served from memory after a backend failure.",
		}, []string{"op"}),
		malformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_messages_total",
			Help:      "Inbound frames rejected at the transport boundary.",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) SetActiveUsers(n int) {
	if m == nil {
		return
	}
	m.activeUsers.Set(float64(n))
}

func (m *Metrics) RoomOpened() {
	if m == nil {
		return
	}
	m.rooms.Inc()
}

func (m *Metrics) RoomClosed() {
	if m == nil {
		return
	}
	m.rooms.Dec()
}

func (m *Metrics) Joined() {
	if m == nil {
		return
	}
	m.joins.Inc()
}

func (m *Metrics) Broadcast(eventType string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) StoreFallback(op string) {
	if m == nil {
		return
	}
	m.storeFallbacks.WithLabelValues(op).Inc()
}

func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

// Handler отдает метрики в формате Prometheus
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
