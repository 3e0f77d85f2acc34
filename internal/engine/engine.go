package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/tributary-ai/provider-advisor/internal/cache"
	"github.com/tributary-ai/provider-advisor/internal/health"
	"github.com/tributary-ai/provider-advisor/internal/latency"
	"github.com/tributary-ai/provider-advisor/internal/providers"
	"github.com/tributary-ai/provider-advisor/internal/types"
)

// DefaultComputeBudget bounds a single ranking computation.
const DefaultComputeBudget = 50 * time.Millisecond

// Availability sub-scores by health state. Unknown sits between healthy and
// degraded: no data is better than bad data.
var availabilityScore = map[types.HealthState]float64{
	types.HealthHealthy:   1.0,
	types.HealthUnknown:   0.7,
	types.HealthDegraded:  0.4,
	types.HealthUnhealthy: 0.0,
}

// Engine composes health, cost, and latency signals with static quality
// metadata into a ranked, explained candidate list. Computation is
// read-mostly and CPU-bound; it runs synchronously on the caller's path
// under a small time budget, with a short-TTL cache in front.
type Engine struct {
	registry  *providers.Registry
	monitor   *health.Monitor
	estimator *latency.Estimator
	cache     *cache.RecommendationCache
	logger    *logrus.Logger

	// group collapses concurrent recomputes of the same ranking shape.
	group singleflight.Group

	computeBudget time.Duration
}

// New creates a recommendation engine.
func New(registry *providers.Registry, monitor *health.Monitor, estimator *latency.Estimator,
	recCache *cache.RecommendationCache, computeBudget time.Duration, logger *logrus.Logger) *Engine {
	if computeBudget <= 0 {
		computeBudget = DefaultComputeBudget
	}
	return &Engine{
		registry:      registry,
		monitor:       monitor,
		estimator:     estimator,
		cache:         recCache,
		logger:        logger,
		computeBudget: computeBudget,
	}
}

// Recommend returns the ranked candidate list for an operation and workload
// size under the given profile. The cache is consulted first; on a miss the
// ranking is computed within the engine's time budget. The only error ever
// returned is a context cancellation/deadline, which the resolver absorbs.
func (e *Engine) Recommend(ctx context.Context, op types.OperationType, tokens int64,
	profile types.ProfileName, weights types.Weights) ([]types.Recommendation, error) {

	if recs, ok := e.cache.Get(op, tokens, profile); ok {
		return recs, nil
	}

	key := fmt.Sprintf("%d|%s|%s|%s", e.cache.Generation(), op, cache.BucketFor(tokens), profile)
	result, err, _ := e.group.Do(key, func() (interface{}, error) {
		computeCtx, cancel := context.WithTimeout(ctx, e.computeBudget)
		defer cancel()

		start := time.Now()
		recs, err := e.compute(computeCtx, op, tokens, profile, weights)
		if err != nil {
			return nil, err
		}
		e.cache.Put(op, tokens, profile, recs)

		e.logger.WithFields(logrus.Fields{
			"operation":   op,
			"profile":     profile,
			"candidates":  len(recs),
			"duration_us": time.Since(start).Microseconds(),
		}).Debug("Ranking computed")
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]types.Recommendation), nil
}

type scored struct {
	rec       types.Recommendation
	quality   float64
	cost      float64
	priority  int
	unhealthy bool
	terminal  bool
}

// compute builds the ranking from scratch. Internal data problems degrade
// individual entries to zero confidence; only an expired context aborts.
func (e *Engine) compute(ctx context.Context, op types.OperationType, tokens int64,
	profile types.ProfileName, weights types.Weights) ([]types.Recommendation, error) {

	candidates := e.registry.Candidates(op)

	// Pre-pass for normalization baselines. cheapest tracks the lowest
	// nonzero cost; a zero-cost candidate (other than the terminal
	// fallback, which is force-ranked last anyway) is tracked separately
	// because it must strictly outrank every paid rate on cost.
	cheapest := 0.0
	fastest := 0.0
	freeCandidate := false
	type candidateState struct {
		desc    *types.ProviderDescriptor
		healthV types.ProviderHealth
		costUSD float64
		latEst  types.LatencyEstimate
	}
	states := make([]candidateState, 0, len(candidates))
	for _, desc := range candidates {
		h := e.monitor.Status(desc.Name)
		if excludeFromProfile(profile, desc, h.State) {
			continue
		}
		costUSD := float64(tokens) / 1000.0 * desc.CostPer1KTokens
		latEst := e.estimator.Predict(desc.Name, op, tokens)

		if costUSD > 0 {
			if cheapest == 0 || costUSD < cheapest {
				cheapest = costUSD
			}
		} else if desc.Name != providers.FallbackProviderName {
			freeCandidate = true
		}
		if latEst.EstimatedSeconds > 0 && (fastest == 0 || latEst.EstimatedSeconds < fastest) {
			fastest = latEst.EstimatedSeconds
		}
		states = append(states, candidateState{desc: desc, healthV: h, costUSD: costUSD, latEst: latEst})
	}

	entries := make([]scored, 0, len(states))
	for _, st := range states {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ranking computation aborted: %w", err)
		}
		entries = append(entries, e.score(st.desc, st.healthV, st.costUSD, st.latEst, op, weights, cheapest, fastest, freeCandidate))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		// The terminal fallback always ranks last; unhealthy providers rank
		// after everyone else regardless of raw score.
		if a.terminal != b.terminal {
			return b.terminal
		}
		if a.unhealthy != b.unhealthy {
			return b.unhealthy
		}
		if a.rec.Score != b.rec.Score {
			return a.rec.Score > b.rec.Score
		}
		if a.quality != b.quality {
			return a.quality > b.quality
		}
		if a.cost != b.cost {
			return a.cost < b.cost
		}
		return a.priority < b.priority
	})

	recs := make([]types.Recommendation, len(entries))
	for i, s := range entries {
		recs[i] = s.rec
	}
	return recs, nil
}

// score computes one candidate's composite score and reasoning.
func (e *Engine) score(desc *types.ProviderDescriptor, h types.ProviderHealth, costUSD float64,
	latEst types.LatencyEstimate, op types.OperationType, weights types.Weights,
	cheapest, fastest float64, freeCandidate bool) scored {

	quality := desc.QualityFor(op)
	qualitySub := quality / 100.0

	costSub := 1.0
	if costUSD > 0 && cheapest > 0 {
		if freeCandidate {
			// A free candidate holds 1.0, so every paid rate lands
			// strictly below it while staying ordered among paid peers.
			costSub = cheapest / (costUSD + cheapest)
		} else {
			costSub = cheapest / costUSD
		}
	}

	latencySub := 1.0
	if latEst.EstimatedSeconds > 0 && fastest > 0 {
		latencySub = fastest / latEst.EstimatedSeconds
	}

	availSub := availabilityScore[h.State]

	total := weights.Quality*qualitySub +
		weights.Cost*costSub +
		weights.Latency*latencySub +
		weights.Availability*availSub

	confidence := e.confidence(h, latEst)

	reasoning := fmt.Sprintf(
		"quality %.0f/100 (%.2f), est cost $%.4f (%.2f), est latency %.1fs (%.2f), %s (%.2f); score %.3f",
		quality, weights.Quality*qualitySub,
		costUSD, weights.Cost*costSub,
		latEst.EstimatedSeconds, weights.Latency*latencySub,
		h.State, weights.Availability*availSub,
		total,
	)
	if latEst.Band == "low" {
		reasoning += "; " + latEst.Description
	}

	return scored{
		rec: types.Recommendation{
			Provider:         desc.Name,
			Score:            total,
			QualityScore:     quality,
			EstimatedCostUSD: costUSD,
			EstimatedLatency: time.Duration(latEst.EstimatedSeconds * float64(time.Second)),
			Confidence:       confidence,
			Reasoning:        reasoning,
			Availability:     h.State,
		},
		quality:   quality,
		cost:      costUSD,
		priority:  desc.Priority,
		unhealthy: h.State == types.HealthUnhealthy,
		terminal:  desc.Name == providers.FallbackProviderName,
	}
}

// confidence blends the latency estimator's confidence with how populated
// the health window is. A corrupt or empty sample set simply yields zero,
// never an error.
func (e *Engine) confidence(h types.ProviderHealth, latEst types.LatencyEstimate) float64 {
	healthConf := float64(h.SampleCount)
	if healthConf > 100 {
		healthConf = 100
	}
	c := 0.6*latEst.Confidence + 0.4*healthConf
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// excludeFromProfile applies profile-level candidate filtering. local_only
// keeps offline-capable providers; quality-first profiles drop unhealthy
// providers outright, other profiles keep them ranked last.
func excludeFromProfile(profile types.ProfileName, desc *types.ProviderDescriptor, state types.HealthState) bool {
	if desc.Name == providers.FallbackProviderName {
		return false
	}
	if profile == types.ProfileLocalOnly && !desc.OfflineCapable {
		return true
	}
	if state == types.HealthUnhealthy &&
		(profile == types.ProfileLocalOnly || profile == types.ProfileMaximumQuality) {
		return true
	}
	return false
}
