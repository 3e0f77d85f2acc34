package types

import "time"

// ProfileName identifies a named weighting strategy.
type ProfileName string

const (
	ProfileMaximumQuality  ProfileName = "maximum_quality"
	ProfileBalanced        ProfileName = "balanced"
	ProfileBudgetConscious ProfileName = "budget_conscious"
	ProfileSpeedOptimized  ProfileName = "speed_optimized"
	ProfileLocalOnly       ProfileName = "local_only"
	ProfileCustom          ProfileName = "custom"
)

// ProfileInfo describes a selectable profile for the query interface.
type ProfileInfo struct {
	Name        ProfileName `json:"name"`
	Description string      `json:"description"`
}

// Recommendation is a single ranked candidate produced by the recommendation
// engine. Recommendations are ephemeral; they live only in the short-TTL
// cache and are never persisted.
type Recommendation struct {
	Provider         string        `json:"provider"`
	Score            float64       `json:"score"`
	QualityScore     float64       `json:"quality_score"`
	EstimatedCostUSD float64       `json:"estimated_cost_usd"`
	EstimatedLatency time.Duration `json:"estimated_latency"`

	// Confidence on a 0-100 scale, driven by how much historical data
	// backed the cost and latency estimates.
	Confidence float64 `json:"confidence"`

	Reasoning    string      `json:"reasoning"`
	Availability HealthState `json:"availability"`
}

// BudgetLevel classifies the result of a budget check.
type BudgetLevel string

const (
	BudgetOK      BudgetLevel = "ok"
	BudgetWarning BudgetLevel = "warning"
	BudgetBlocked BudgetLevel = "blocked"
)

// BudgetDecision is the typed, non-exceptional result of a budget check.
type BudgetDecision struct {
	Allowed bool        `json:"allowed"`
	Level   BudgetLevel `json:"level"`
	Reason  string      `json:"reason,omitempty"`
}

// SelectionResult names exactly one provider plus the reasoning trail that
// produced it. Selection never fails: under outages, missing data, or an
// expired deadline the resolver still returns a usable provider.
type SelectionResult struct {
	SelectionID  string           `json:"selection_id"`
	Provider     string           `json:"provider"`
	Operation    OperationType    `json:"operation"`
	Profile      ProfileName      `json:"profile"`
	Reasoning    []string         `json:"reasoning"`
	Budget       BudgetDecision   `json:"budget"`
	FallbackUsed bool             `json:"fallback_used"`
	Pinned       bool             `json:"pinned"`
	Candidates   []Recommendation `json:"candidates,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// LatencyEstimate is the latency estimator's prediction for one
// provider/operation pair at a given workload size.
type LatencyEstimate struct {
	EstimatedSeconds float64 `json:"estimated_seconds"`
	Confidence       float64 `json:"confidence"`
	Band             string  `json:"band"` // "low", "medium", "high"
	Description      string  `json:"description"`
	SampleCount      int     `json:"sample_count"`
}
