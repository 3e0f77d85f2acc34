// Package resolver applies user overrides, profile weighting and budget
// gating on top of the recommendation engine's ranking and guarantees that
// exactly one provider is always returned.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/provider-advisor/internal/engine"
	"github.com/tributary-ai/provider-advisor/internal/health"
	"github.com/tributary-ai/provider-advisor/internal/ledger"
	"github.com/tributary-ai/provider-advisor/internal/prefs"
	"github.com/tributary-ai/provider-advisor/internal/providers"
	"github.com/tributary-ai/provider-advisor/internal/types"
)

// Options tweak a single selection call.
type Options struct {
	// OverrideBudget bypasses a hard-budget block. Must be explicit.
	OverrideBudget bool

	// IncludeCandidates attaches the full ranked list to the result.
	IncludeCandidates bool
}

// Resolver produces the final provider selection. Resolution order: pin,
// exclusions, per-operation override, profile-weighted ranking, budget
// walk, terminal fallback.
type Resolver struct {
	engine   *engine.Engine
	registry *providers.Registry
	monitor  *health.Monitor
	ledger   *ledger.Ledger
	prefs    *prefs.Service
	logger   *logrus.Logger
}

// New creates a resolver.
func New(eng *engine.Engine, registry *providers.Registry, monitor *health.Monitor,
	costs *ledger.Ledger, preferences *prefs.Service, logger *logrus.Logger) *Resolver {
	return &Resolver{
		engine:   eng,
		registry: registry,
		monitor:  monitor,
		ledger:   costs,
		prefs:    preferences,
		logger:   logger,
	}
}

// Select returns exactly one provider for the operation and workload size.
// It never returns an error: outages, missing data, expired deadlines and
// misconfiguration all degrade toward the pinned or terminal provider. The
// only adverse outcome that surfaces is a hard-budget block, reported as a
// typed field on the result with the terminal fallback selected.
func (r *Resolver) Select(ctx context.Context, op types.OperationType, estimatedTokens int64, opts Options) *types.SelectionResult {
	p := r.prefs.Snapshot()
	result := &types.SelectionResult{
		SelectionID: uuid.NewString(),
		Operation:   op,
		Profile:     p.ActiveProfile,
		Budget:      types.BudgetDecision{Allowed: true, Level: types.BudgetOK},
		Timestamp:   time.Now(),
	}

	// (1) Pinned provider bypasses scoring entirely unless it is unhealthy
	// with auto-failover enabled, or explicitly excluded.
	if p.PinnedProvider != "" && !p.IsExcluded(p.PinnedProvider) {
		if _, known := r.registry.Descriptor(p.PinnedProvider); known {
			status := r.monitor.Status(p.PinnedProvider)
			if status.State != types.HealthUnhealthy || !p.AutoFailover {
				result.Pinned = true
				return r.finish(result, p.PinnedProvider, nil,
					fmt.Sprintf("pinned provider %s selected (health: %s)", p.PinnedProvider, status.State))
			}
			result.Reasoning = append(result.Reasoning,
				fmt.Sprintf("pinned provider %s is unhealthy and auto-failover is enabled, falling through to scoring", p.PinnedProvider))
		} else {
			result.Reasoning = append(result.Reasoning,
				fmt.Sprintf("pinned provider %s is not registered, ignoring pin", p.PinnedProvider))
		}
	}

	// (3) Per-operation override short-circuits scoring when usable.
	if override, ok := p.OperationOverride[op]; ok && !p.IsExcluded(override) {
		if _, known := r.registry.Descriptor(override); known {
			return r.finish(result, override, nil,
				fmt.Sprintf("per-operation override for %s selected %s", op, override))
		}
		result.Reasoning = append(result.Reasoning,
			fmt.Sprintf("per-operation override %s is not registered, ignoring", override))
	}

	// (4) Profile-weighted ranking. A configuration problem here means the
	// persisted profile went stale; fall back to balanced weights rather
	// than failing the selection.
	weights, err := engine.ResolveProfile(p.ActiveProfile, p.CustomWeights)
	if err != nil {
		result.Reasoning = append(result.Reasoning,
			fmt.Sprintf("profile %s invalid (%v), using balanced weights", p.ActiveProfile, err))
		weights, _ = engine.ResolveProfile(types.ProfileBalanced, nil)
	}

	ranked, err := r.engine.Recommend(ctx, op, estimatedTokens, p.ActiveProfile, weights)
	if err != nil {
		// Deadline expired mid-computation: fall back directly to the
		// pinned or terminal provider instead of failing.
		result.Reasoning = append(result.Reasoning,
			fmt.Sprintf("ranking aborted (%v), selecting direct fallback", err))
		target := providers.FallbackProviderName
		if p.PinnedProvider != "" && !p.IsExcluded(p.PinnedProvider) {
			if _, known := r.registry.Descriptor(p.PinnedProvider); known {
				target = p.PinnedProvider
			}
		}
		result.FallbackUsed = target == providers.FallbackProviderName
		return r.finish(result, target, nil, fmt.Sprintf("selected %s without scoring", target))
	}
	// (2) Excluded providers are removed from the candidate set before the
	// budget walk and before the list is ever exposed to callers.
	ranked = WithoutExcluded(ranked, &p)
	if opts.IncludeCandidates {
		result.Candidates = ranked
	}

	// (5) Walk the ranking, skipping budget blocks. The terminal fallback
	// is always in the list and never blocks.
	var firstBlock *types.BudgetDecision
	for _, rec := range ranked {
		if rec.Provider == providers.FallbackProviderName {
			result.FallbackUsed = true
			result.Reasoning = append(result.Reasoning, "all scored candidates excluded or blocked")
			if firstBlock != nil {
				result.Budget = *firstBlock
			}
			return r.finish(result, rec.Provider, &rec, "terminal fallback selected")
		}

		decision := r.ledger.CheckBudget(rec.Provider, rec.EstimatedCostUSD, opts.OverrideBudget)
		if !decision.Allowed {
			if firstBlock == nil {
				d := decision
				firstBlock = &d
			}
			result.Reasoning = append(result.Reasoning,
				fmt.Sprintf("skipping %s: %s", rec.Provider, decision.Reason))
			continue
		}
		result.Budget = decision
		return r.finish(result, rec.Provider, &rec,
			fmt.Sprintf("top viable candidate %s (score %.3f)", rec.Provider, rec.Score))
	}

	// The engine guarantees the terminal fallback is in every ranking, so
	// this path only runs if every entry including it was excluded. The
	// guarantee still holds: select it regardless.
	result.FallbackUsed = true
	if firstBlock != nil {
		result.Budget = *firstBlock
	}
	return r.finish(result, providers.FallbackProviderName, nil,
		"candidate list exhausted, terminal fallback selected")
}

// WithoutExcluded returns the ranked list minus the providers excluded by
// the preference record. The ranking order is preserved.
func WithoutExcluded(ranked []types.Recommendation, p *types.UserPreferences) []types.Recommendation {
	if len(p.ExcludedProviders) == 0 {
		return ranked
	}
	out := make([]types.Recommendation, 0, len(ranked))
	for _, rec := range ranked {
		if !p.IsExcluded(rec.Provider) {
			out = append(out, rec)
		}
	}
	return out
}

// finish stamps the selected provider and final reasoning onto the result.
func (r *Resolver) finish(result *types.SelectionResult, provider string,
	rec *types.Recommendation, reason string) *types.SelectionResult {

	result.Provider = provider
	result.Reasoning = append(result.Reasoning, reason)
	if rec != nil {
		result.Reasoning = append(result.Reasoning, rec.Reasoning)
	}

	r.logger.WithFields(logrus.Fields{
		"selection_id": result.SelectionID,
		"operation":    result.Operation,
		"provider":     provider,
		"profile":      result.Profile,
		"fallback":     result.FallbackUsed,
		"budget_level": result.Budget.Level,
	}).Info("Provider selected")
	return result
}
