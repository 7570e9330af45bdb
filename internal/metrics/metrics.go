// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors the room service updates. A nil *Metrics is valid and records
// nothing, so tests and tools can skip instrumentation.
type Metrics struct {
	ActiveRooms     *prometheus.GaugeVec
	SeatedPlayers   prometheus.Gauge
	RoomsCreated    *prometheus.CounterVec
	RoomsClosed     *prometheus.CounterVec
	CommandsHandled *prometheus.CounterVec
	CommandLatency  prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New builds the collectors under namespace and registers them with reg. Passing nil registers
// with the default registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveRooms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms currently in the registry",
		}, []string{"game_type"}),
		SeatedPlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seated_players",
			Help:      "Number of players holding a seat in some room",
		}),
		RoomsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Rooms created, by game type and join path",
		}, []string{"game_type", "matchmaking"}),
		RoomsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_closed_total",
			Help:      "Rooms closed, by close reason",
		}, []string{"reason"}),
		CommandsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_handled_total",
			Help:      "Game commands delivered to a room",
		}, []string{"game_type"}),
		CommandLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_latency_seconds",
			Help:      "Time spent applying a game command under the room lock",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.ActiveRooms,
		m.SeatedPlayers,
		m.RoomsCreated,
		m.RoomsClosed,
		m.CommandsHandled,
		m.CommandLatency,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler serves the registry the collectors were registered with.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RoomCreated(gameType string, matchmaking bool) {
	if m == nil {
		return
	}
	mm := "false"
	if matchmaking {
		mm = "true"
	}
	m.RoomsCreated.WithLabelValues(gameType, mm).Inc()
	m.ActiveRooms.WithLabelValues(gameType).Inc()
}

func (m *Metrics) RoomClosed(gameType, reason string, seated int) {
	if m == nil {
		return
	}
	m.RoomsClosed.WithLabelValues(reason).Inc()
	m.ActiveRooms.WithLabelValues(gameType).Dec()
	m.SeatedPlayers.Sub(float64(seated))
}

func (m *Metrics) PlayerSeated() {
	if m == nil {
		return
	}
	m.SeatedPlayers.Inc()
}

func (m *Metrics) PlayerUnseated() {
	if m == nil {
		return
	}
	m.SeatedPlayers.Dec()
}

// ObserveCommand counts one command and records how long it held the room.
func (m *Metrics) ObserveCommand(gameType string, took time.Duration) {
	if m == nil {
		return
	}
	m.CommandsHandled.WithLabelValues(gameType).Inc()
	m.CommandLatency.Observe(took.Seconds())
}
