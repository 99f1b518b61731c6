package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the proxy.
type Metrics struct {
	RequestTotal        *prometheus.CounterVec
	RequestDurationMs   *prometheus.HistogramVec
	TierTotal           *prometheus.CounterVec
	DedupHitTotal       *prometheus.CounterVec
	CompressionBytesSaved *prometheus.CounterVec
	CircuitState        *prometheus.GaugeVec
	FallbackAttempts    *prometheus.HistogramVec
	SavingsUSDTotal     *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "blockrun_request_total",
			Help: "Total number of requests processed by the proxy.",
		}, []string{"model", "tier", "status", "profile"}),

		RequestDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blockrun_request_duration_ms",
			Help:    "Total request duration in milliseconds, including upstream latency.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"model"}),

		TierTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "blockrun_tier_total",
			Help: "Total requests classified per tier.",
		}, []string{"tier", "method"}),

		DedupHitTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "blockrun_dedup_hit_total",
			Help: "Dedup cache outcomes: completed hit, inflight hit, or miss.",
		}, []string{"outcome"}),

		CompressionBytesSaved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "blockrun_compression_bytes_saved_total",
			Help: "Bytes removed from request bodies by the compression pipeline.",
		}, []string{"layer"}),

		CircuitState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blockrun_circuit_state",
			Help: "Circuit breaker state per model (0=closed, 1=open, 2=half-open).",
		}, []string{"model"}),

		FallbackAttempts: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blockrun_fallback_attempts",
			Help:    "Number of models attempted before a request succeeded or exhausted.",
			Buckets: []float64{1, 2, 3, 4},
		}, []string{"tier"}),

		SavingsUSDTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "blockrun_savings_usd_total",
			Help: "Estimated USD saved versus the baseline model.",
		}, []string{"tier", "profile"}),
	}
}

// RequestLabels holds the label values for recording a completed request.
type RequestLabels struct {
	Model            string
	Tier             string
	Status           string
	Profile          string
	DurationMs       float64
	FallbackAttempts int
	SavingsUSD       float64
}

// RecordRequest records metrics for a completed request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	m.RequestTotal.WithLabelValues(labels.Model, labels.Tier, labels.Status, labels.Profile).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Model).Observe(labels.DurationMs)
	m.FallbackAttempts.WithLabelValues(labels.Tier).Observe(float64(labels.FallbackAttempts))
	if labels.SavingsUSD > 0 {
		m.SavingsUSDTotal.WithLabelValues(labels.Tier, labels.Profile).Add(labels.SavingsUSD)
	}
}

// RecordClassification records which tier and method a request was
// classified under.
func (m *Metrics) RecordClassification(tier, method string) {
	m.TierTotal.WithLabelValues(tier, method).Inc()
}

// RecordDedupOutcome records a dedup cache lookup outcome: "hit",
// "inflight", or "miss".
func (m *Metrics) RecordDedupOutcome(outcome string) {
	m.DedupHitTotal.WithLabelValues(outcome).Inc()
}

// RecordCompressionSavings records bytes saved by a named layer.
func (m *Metrics) RecordCompressionSavings(layer string, bytesSaved int) {
	if bytesSaved <= 0 {
		return
	}
	m.CompressionBytesSaved.WithLabelValues(layer).Add(float64(bytesSaved))
}

// RecordCircuitState sets the gauge for a model's breaker state.
func (m *Metrics) RecordCircuitState(model string, state int) {
	m.CircuitState.WithLabelValues(model).Set(float64(state))
}
