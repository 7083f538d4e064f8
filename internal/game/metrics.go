package game

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the game's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	rooms          prometheus.Gauge
	activeRaces    prometheus.Gauge
	racesStarted   prometheus.Counter
	racesFinished  *prometheus.CounterVec
	algorithmWins  *prometheus.CounterVec
	engineFailures *prometheus.CounterVec
	betsPlaced     prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sortrace_rooms",
			Help: "Rooms currently registered.",
		}),
		activeRaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sortrace_active_races",
			Help: "Races currently running.",
		}),
		racesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sortrace_races_started_total",
			Help: "Races started.",
		}),
		racesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sortrace_races_finished_total",
			Help: "Races finalized, by whether they were ended early.",
		}, []string{"ended_early"}),
		algorithmWins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sortrace_algorithm_wins_total",
			Help: "Races won per algorithm.",
		}, []string{"algorithm"}),
		engineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sortrace_engine_failures_total",
			Help: "Engines aborted by an internal error.",
		}, []string{"algorithm"}),
		betsPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sortrace_bets_placed_total",
			Help: "Bets accepted, including replacements.",
		}),
	}
	m.registry.MustRegister(
		m.rooms,
		m.activeRaces,
		m.racesStarted,
		m.racesFinished,
		m.algorithmWins,
		m.engineFailures,
		m.betsPlaced,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) setRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) raceStarted() {
	if m != nil {
		m.racesStarted.Inc()
		m.activeRaces.Inc()
	}
}

func (m *Metrics) raceEnded(endedEarly bool, winner string) {
	if m == nil {
		return
	}
	m.activeRaces.Dec()
	label := "false"
	if endedEarly {
		label = "true"
	}
	m.racesFinished.WithLabelValues(label).Inc()
	if winner != "" {
		m.algorithmWins.WithLabelValues(winner).Inc()
	}
}

func (m *Metrics) raceAborted() {
	if m != nil {
		m.activeRaces.Dec()
	}
}

func (m *Metrics) engineFailed(algorithm string) {
	if m != nil {
		m.engineFailures.WithLabelValues(algorithm).Inc()
	}
}

func (m *Metrics) betPlaced() {
	if m != nil {
		m.betsPlaced.Inc()
	}
}
