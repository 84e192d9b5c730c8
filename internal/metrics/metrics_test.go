package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecordGrokSuccessIncrementsTokensAndCost(t *testing.T) {
	m := New(prometheus.NewRegistry())
	cost := 0.005
	m.RecordGrokSuccess(42, &cost)

	assert.Equal(t, float64(42), counterValue(t, m.GrokTokensTotal))
	assert.InDelta(t, 0.005, counterValue(t, m.GrokCostEstimateTotal), 1e-9)
}

func TestRecordGrokErrorDoesNotTouchTokens(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordGrokError()
	assert.Equal(t, float64(0), counterValue(t, m.GrokTokensTotal))
}

func TestUpdateQueueDepthSetsGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.UpdateQueueDepth(7)

	var metric dto.Metric
	require.NoError(t, m.QueueDepth.Write(&metric))
	assert.Equal(t, float64(7), metric.GetGauge().GetValue())
}

func TestRecordBackpressureIncrementsCounter(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordBackpressure()
	m.RecordBackpressure()
	assert.Equal(t, float64(2), counterValue(t, m.BackpressureTotal))
}
