package latency

import (
	"fmt"
	"sync"

	"github.com/tributary-ai/provider-advisor/internal/types"
)

const (
	// MaxSamples bounds the history retained per provider/operation pair.
	MaxSamples = 200

	// Band boundaries by sample count.
	mediumConfidenceSamples = 10
	highConfidenceSamples   = 50

	// DefaultEstimateSeconds is used when no history exists at all.
	DefaultEstimateSeconds = 2.0
)

// Sample is one observed execution duration.
type Sample struct {
	Tokens     int64
	DurationMs int64
}

type pairKey struct {
	provider  string
	operation types.OperationType
}

type history struct {
	samples [MaxSamples]Sample
	next    int
	count   int
}

// Estimator predicts expected duration per provider/operation from
// historical samples. The estimate scales linearly with token count
// relative to the historical average tokens per sample.
type Estimator struct {
	mu        sync.RWMutex
	histories map[pairKey]*history
}

// NewEstimator creates an empty latency estimator.
func NewEstimator() *Estimator {
	return &Estimator{histories: make(map[pairKey]*history)}
}

// RecordSample appends one duration observation. Safe for concurrent
// callers; oldest samples are evicted once the bound is reached.
func (e *Estimator) RecordSample(provider string, op types.OperationType, tokens int64, durationMs int64) {
	key := pairKey{provider: provider, operation: op}

	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.histories[key]
	if h == nil {
		h = &history{}
		e.histories[key] = h
	}
	h.samples[h.next] = Sample{Tokens: tokens, DurationMs: durationMs}
	h.next = (h.next + 1) % MaxSamples
	if h.count < MaxSamples {
		h.count++
	}
}

// Predict estimates the duration for running the given token count against
// a provider/operation pair. Prediction never fails; with no history it
// falls back to a flat default at zero confidence.
func (e *Estimator) Predict(provider string, op types.OperationType, tokens int64) types.LatencyEstimate {
	e.mu.RLock()
	h := e.histories[pairKey{provider: provider, operation: op}]
	var sumDuration, sumTokens float64
	var count int
	if h != nil {
		count = h.count
		for i := 0; i < count; i++ {
			sumDuration += float64(h.samples[i].DurationMs)
			sumTokens += float64(h.samples[i].Tokens)
		}
	}
	e.mu.RUnlock()

	if count == 0 {
		return types.LatencyEstimate{
			EstimatedSeconds: DefaultEstimateSeconds,
			Confidence:       0,
			Band:             "low",
			Description:      fmt.Sprintf("no historical data for %s/%s, using default estimate", provider, op),
			SampleCount:      0,
		}
	}

	avgDurationMs := sumDuration / float64(count)
	avgTokens := sumTokens / float64(count)

	estimatedMs := avgDurationMs
	if avgTokens > 0 && tokens > 0 {
		estimatedMs = avgDurationMs * float64(tokens) / avgTokens
	}

	est := types.LatencyEstimate{
		EstimatedSeconds: estimatedMs / 1000.0,
		Confidence:       confidenceFor(count),
		SampleCount:      count,
	}
	switch {
	case count >= highConfidenceSamples:
		est.Band = "high"
		est.Description = fmt.Sprintf("based on %d samples averaging %.0fms", count, avgDurationMs)
	case count >= mediumConfidenceSamples:
		est.Band = "medium"
		est.Description = fmt.Sprintf("based on %d samples averaging %.0fms", count, avgDurationMs)
	default:
		est.Band = "low"
		est.Description = fmt.Sprintf("limited historical data (%d samples)", count)
	}
	return est
}

// confidenceFor maps sample count to a 0-100 confidence score. Monotonic in
// the count, saturating at the high-confidence boundary.
func confidenceFor(count int) float64 {
	if count >= highConfidenceSamples {
		return 95
	}
	// Linear ramp: 0 samples -> 0, 50 samples -> 95.
	return float64(count) * 95.0 / float64(highConfidenceSamples)
}

// SampleCount reports how many samples back a provider/operation pair.
func (e *Estimator) SampleCount(provider string, op types.OperationType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if h := e.histories[pairKey{provider: provider, operation: op}]; h != nil {
		return h.count
	}
	return 0
}
