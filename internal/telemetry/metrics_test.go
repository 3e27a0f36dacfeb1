package telemetry_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/xo/internal/telemetry"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)

	m.MoveAccepted()
	m.MoveAccepted()
	m.MoveRejected("NOT_YOUR_TURN")
	m.MoveRejected("")
	m.GameEnded("X", 20*time.Second)
	m.GameEnded("draw", 90*time.Second)
	m.GameEnded("abandoned", time.Hour)
	m.ScoringApplied(false)
	m.ScoringApplied(true)
	m.ScoringApplied(true)

	families := gather(t, reg)

	assert.Equal(t, map[string]float64{
		"accepted":      2,
		"NOT_YOUR_TURN": 1,
		"unknown":       1,
	}, counters(families["xo_moves_total"]))

	assert.Equal(t, map[string]float64{
		"X":         1,
		"draw":      1,
		"abandoned": 1,
	}, counters(families["xo_games_completed_total"]))

	assert.Equal(t, map[string]float64{
		"false": 1,
		"true":  2,
	}, counters(families["xo_scoring_applied_total"]))

	h := families["xo_game_duration_seconds"].GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), h.GetSampleCount(), "abandoned games should not be observed")
	assert.InDelta(t, 110, h.GetSampleSum(), 0.001)
}

func TestNewMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	telemetry.NewMetrics(reg)

	assert.Panics(t, func() { telemetry.NewMetrics(reg) })
}

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

// counters keys each counter by its only label value.
func counters(mf *dto.MetricFamily) map[string]float64 {
	out := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		out[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	return out
}
