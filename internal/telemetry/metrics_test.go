package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m.RequestTotal == nil {
		t.Error("RequestTotal should not be nil")
	}
	if m.RequestDurationMs == nil {
		t.Error("RequestDurationMs should not be nil")
	}
	if m.TierTotal == nil {
		t.Error("TierTotal should not be nil")
	}
	if m.DedupHitTotal == nil {
		t.Error("DedupHitTotal should not be nil")
	}
	if m.CompressionBytesSaved == nil {
		t.Error("CompressionBytesSaved should not be nil")
	}
	if m.CircuitState == nil {
		t.Error("CircuitState should not be nil")
	}
	if m.FallbackAttempts == nil {
		t.Error("FallbackAttempts should not be nil")
	}
	if m.SavingsUSDTotal == nil {
		t.Error("SavingsUSDTotal should not be nil")
	}
}

func TestRecordRequest(t *testing.T) {
	reg := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_blockrun_request_total",
		Help: "Test counter",
	}, []string{"model", "tier", "status", "profile"})

	durationMs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_blockrun_request_duration_ms",
		Help:    "Test histogram",
		Buckets: []float64{100, 500, 1000},
	}, []string{"model"})

	fallbackAttempts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_blockrun_fallback_attempts",
		Help:    "Test histogram",
		Buckets: []float64{1, 2, 3, 4},
	}, []string{"tier"})

	savingsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_blockrun_savings_usd_total",
		Help: "Test counter",
	}, []string{"tier", "profile"})

	reg.MustRegister(requestTotal, durationMs, fallbackAttempts, savingsTotal)

	m := &Metrics{
		RequestTotal:      requestTotal,
		RequestDurationMs: durationMs,
		FallbackAttempts:  fallbackAttempts,
		SavingsUSDTotal:   savingsTotal,
	}

	m.RecordRequest(RequestLabels{
		Model:            "anthropic/claude-sonnet",
		Tier:             "standard",
		Status:           "200",
		Profile:          "default",
		DurationMs:       150,
		FallbackAttempts: 1,
		SavingsUSD:       0.02,
	})

	counter, err := requestTotal.GetMetricWithLabelValues("anthropic/claude-sonnet", "standard", "200", "default")
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var metric dto.Metric
	counter.Write(&metric)
	if *metric.Counter.Value != 1 {
		t.Errorf("expected request count 1, got %v", *metric.Counter.Value)
	}

	savingsCounter, err := savingsTotal.GetMetricWithLabelValues("standard", "default")
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	savingsCounter.Write(&metric)
	if *metric.Counter.Value != 0.02 {
		t.Errorf("expected savings 0.02, got %v", *metric.Counter.Value)
	}
}

func TestRecordRequest_ZeroSavingsNotRecorded(t *testing.T) {
	savingsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_blockrun_savings_zero",
		Help: "Test counter",
	}, []string{"tier", "profile"})
	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_blockrun_request_zero",
		Help: "Test counter",
	}, []string{"model", "tier", "status", "profile"})
	durationMs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_blockrun_duration_zero",
		Help:    "Test histogram",
		Buckets: []float64{100},
	}, []string{"model"})
	fallbackAttempts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_blockrun_fallback_zero",
		Help:    "Test histogram",
		Buckets: []float64{1},
	}, []string{"tier"})

	m := &Metrics{
		RequestTotal:      requestTotal,
		RequestDurationMs: durationMs,
		FallbackAttempts:  fallbackAttempts,
		SavingsUSDTotal:   savingsTotal,
	}

	m.RecordRequest(RequestLabels{Model: "m", Tier: "premium", Status: "200", Profile: "default"})

	counter, err := savingsTotal.GetMetricWithLabelValues("premium", "default")
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var metric dto.Metric
	counter.Write(&metric)
	if *metric.Counter.Value != 0 {
		t.Errorf("expected no savings recorded for zero SavingsUSD, got %v", *metric.Counter.Value)
	}
}

func TestRecordClassification(t *testing.T) {
	tierTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_blockrun_tier_total",
		Help: "Test",
	}, []string{"tier", "method"})

	m := &Metrics{TierTotal: tierTotal}
	m.RecordClassification("eco", "heuristic")

	counter, err := tierTotal.GetMetricWithLabelValues("eco", "heuristic")
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var metric dto.Metric
	counter.Write(&metric)
	if *metric.Counter.Value != 1 {
		t.Errorf("expected classification count 1, got %v", *metric.Counter.Value)
	}
}

func TestRecordDedupOutcome(t *testing.T) {
	dedupTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_blockrun_dedup_hit_total",
		Help: "Test",
	}, []string{"outcome"})

	m := &Metrics{DedupHitTotal: dedupTotal}
	m.RecordDedupOutcome("inflight")
	m.RecordDedupOutcome("inflight")

	counter, err := dedupTotal.GetMetricWithLabelValues("inflight")
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var metric dto.Metric
	counter.Write(&metric)
	if *metric.Counter.Value != 2 {
		t.Errorf("expected dedup outcome count 2, got %v", *metric.Counter.Value)
	}
}

func TestRecordCompressionSavings(t *testing.T) {
	bytesSaved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_blockrun_compression_bytes_saved",
		Help: "Test",
	}, []string{"layer"})

	m := &Metrics{CompressionBytesSaved: bytesSaved}
	m.RecordCompressionSavings("dedup", 500)
	m.RecordCompressionSavings("dedup", 0)
	m.RecordCompressionSavings("dedup", -10)

	counter, err := bytesSaved.GetMetricWithLabelValues("dedup")
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var metric dto.Metric
	counter.Write(&metric)
	if *metric.Counter.Value != 500 {
		t.Errorf("expected 500 bytes saved (non-positive values ignored), got %v", *metric.Counter.Value)
	}
}

func TestRecordCircuitState(t *testing.T) {
	circuitState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "test_blockrun_circuit_state",
		Help: "Test",
	}, []string{"model"})

	m := &Metrics{CircuitState: circuitState}
	m.RecordCircuitState("anthropic/claude-opus", 1)

	gauge, err := circuitState.GetMetricWithLabelValues("anthropic/claude-opus")
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var metric dto.Metric
	gauge.Write(&metric)
	if *metric.Gauge.Value != 1 {
		t.Errorf("expected circuit state 1 (open), got %v", *metric.Gauge.Value)
	}
}
