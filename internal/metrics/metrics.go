// Package metrics defines the Prometheus instruments exposed at GET
// /metrics: request latency, LLM call outcomes, token/cost counters, queue
// depth, and backpressure events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every instrument this service exposes.
type Metrics struct {
	RequestDuration       *prometheus.HistogramVec
	GrokRequestsTotal     *prometheus.CounterVec
	GrokTokensTotal       prometheus.Counter
	GrokCostEstimateTotal prometheus.Counter
	QueueDepth            prometheus.Gauge
	BackpressureTotal     prometheus.Counter
}

// New constructs and registers every instrument against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conversation_insights_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"method", "path"}),

		GrokRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conversation_insights_grok_requests_total",
			Help: "Total Grok API requests",
		}, []string{"status"}),

		GrokTokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conversation_insights_grok_tokens_total",
			Help: "Total tokens (prompt + completion) sent to Grok",
		}),

		GrokCostEstimateTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conversation_insights_grok_cost_estimate_total",
			Help: "Estimated cost (USD) from Grok usage",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conversation_insights_queue_depth",
			Help: "Current number of conversation IDs in the analysis queue",
		}),

		BackpressureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conversation_insights_backpressure_events_total",
			Help: "Times ingest was rejected due to queue full",
		}),
	}

	reg.MustRegister(
		m.RequestDuration, m.GrokRequestsTotal, m.GrokTokensTotal,
		m.GrokCostEstimateTotal, m.QueueDepth, m.BackpressureTotal,
	)
	return m
}

// UpdateQueueDepth sets the queue depth gauge.
func (m *Metrics) UpdateQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordBackpressure increments the backpressure counter.
func (m *Metrics) RecordBackpressure() {
	m.BackpressureTotal.Inc()
}

// RecordGrokSuccess implements internal/worker.Metrics.
func (m *Metrics) RecordGrokSuccess(tokens int, cost *float64) {
	m.GrokRequestsTotal.WithLabelValues("success").Inc()
	if tokens > 0 {
		m.GrokTokensTotal.Add(float64(tokens))
	}
	if cost != nil {
		m.GrokCostEstimateTotal.Add(*cost)
	}
}

// RecordGrokError implements internal/worker.Metrics.
func (m *Metrics) RecordGrokError() {
	m.GrokRequestsTotal.WithLabelValues("error").Inc()
}
