package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "xo"

// Metrics are the game counters exported on /metrics.
type Metrics struct {
	moves          *prometheus.CounterVec
	gamesCompleted *prometheus.CounterVec
	scoring        *prometheus.CounterVec
	gameDuration   prometheus.Histogram
}

// NewMetrics registers the game metrics with reg. Pass prometheus.DefaultRegisterer in production
// and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		moves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moves_total",
			Help:      "Moves submitted, by result (accepted or the rejection reason).",
		}, []string{"result"}),

		gamesCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_completed_total",
			Help:      "Sessions that reached a terminal state, by outcome.",
		}, []string{"outcome"}),

		scoring: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_applied_total",
			Help:      "Scoring applications, split by whether the session had already been scored.",
		}, []string{"duplicate"}),

		gameDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "game_duration_seconds",
			Help:      "Duration of completed games.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}
}

func (m *Metrics) MoveAccepted() {
	m.moves.WithLabelValues("accepted").Inc()
}

func (m *Metrics) MoveRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.moves.WithLabelValues(reason).Inc()
}

// GameEnded records a terminal session. outcome is "X", "O", "draw" or "abandoned".
func (m *Metrics) GameEnded(outcome string, d time.Duration) {
	m.gamesCompleted.WithLabelValues(outcome).Inc()
	if outcome != "abandoned" {
		m.gameDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ScoringApplied(duplicate bool) {
	m.scoring.WithLabelValues(strconv.FormatBool(duplicate)).Inc()
}
