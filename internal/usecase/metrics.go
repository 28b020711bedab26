package usecase

import (
	"sync"

	"github.com/example/leaf-check/internal/classifier"
)

// MetricsSummary represents aggregated comparison insights.
type MetricsSummary struct {
	TotalRequests             int64   `json:"total_requests"`
	AgreedRequests            int64   `json:"agreed_requests"`
	CacheHits                 int64   `json:"cache_hits"`
	AgreementRate             float64 `json:"agreement_rate"`
	AverageCustomCNNLatencyMs float64 `json:"average_custom_cnn_latency_ms"`
	AverageMobileNetLatencyMs float64 `json:"average_mobilenet_latency_ms"`
}

// MetricsRecorder keeps in-memory counters over completed comparisons.
// Results are not persisted, so the counters reset with the process.
type MetricsRecorder struct {
	mu               sync.Mutex
	total            int64
	agreed           int64
	cacheHits        int64
	cnnLatencySum    float64
	mobileLatencySum float64
}

// NewMetricsRecorder constructs an empty recorder.
func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{}
}

// Record accounts for one freshly computed comparison.
func (r *MetricsRecorder) Record(c *classifier.Comparison) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if c.Agreement {
		r.agreed++
	}
	r.cnnLatencySum += c.CustomCNN.InferenceTimeMs
	r.mobileLatencySum += c.MobileNet.InferenceTimeMs
}

// RecordCacheHit accounts for a request answered from the cache.
func (r *MetricsRecorder) RecordCacheHit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheHits++
}

// Summary returns a snapshot of the counters.
func (r *MetricsRecorder) Summary() *MetricsSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := &MetricsSummary{
		TotalRequests:  r.total,
		AgreedRequests: r.agreed,
		CacheHits:      r.cacheHits,
	}
	if r.total > 0 {
		summary.AgreementRate = float64(r.agreed) / float64(r.total)
		summary.AverageCustomCNNLatencyMs = r.cnnLatencySum / float64(r.total)
		summary.AverageMobileNetLatencyMs = r.mobileLatencySum / float64(r.total)
	}
	return summary
}
