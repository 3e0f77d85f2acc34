package types

import "time"

// OperationType categorizes a unit of work a provider is evaluated against.
type OperationType string

const (
	OperationSummarize  OperationType = "summarize"
	OperationTranscribe OperationType = "transcribe"
	OperationAnalyze    OperationType = "analyze"
	OperationGenerate   OperationType = "generate"
	OperationEmbed      OperationType = "embed"
)

// ProviderDescriptor holds the static metadata for a provider. Descriptors
// are built once from configuration at startup and never mutated.
type ProviderDescriptor struct {
	Name string `json:"name" yaml:"name"`

	// Base quality score on a 0-100 scale.
	Quality float64 `json:"quality" yaml:"quality"`

	// Per-operation quality adjustments added on top of the base score.
	OperationBonuses map[OperationType]float64 `json:"operation_bonuses,omitempty" yaml:"operation_bonuses,omitempty"`

	// Operations this provider can execute.
	Operations []OperationType `json:"operations" yaml:"operations"`

	// OfflineCapable providers keep working without network connectivity
	// and are the only candidates under the local_only profile.
	OfflineCapable bool `json:"offline_capable" yaml:"offline_capable"`

	// Declared cost rate in USD per 1K tokens.
	CostPer1KTokens float64 `json:"cost_per_1k_tokens" yaml:"cost_per_1k_tokens"`

	// Declared priority used as the final tie-break, lower wins.
	Priority int `json:"priority" yaml:"priority"`
}

// Supports reports whether the descriptor lists the given operation.
func (d *ProviderDescriptor) Supports(op OperationType) bool {
	for _, o := range d.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// QualityFor returns the base quality plus any operation-specific bonus,
// clamped to the 0-100 scale.
func (d *ProviderDescriptor) QualityFor(op OperationType) float64 {
	q := d.Quality
	if bonus, ok := d.OperationBonuses[op]; ok {
		q += bonus
	}
	if q > 100 {
		q = 100
	}
	if q < 0 {
		q = 0
	}
	return q
}

// HealthState classifies a provider's rolling-window health.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// ProviderHealth is a point-in-time view derived from a provider's rolling
// outcome window. It is recomputed on every read, never cached.
type ProviderHealth struct {
	Provider            string      `json:"provider"`
	State               HealthState `json:"state"`
	SuccessRate         float64     `json:"success_rate"`
	AvgLatencyMs        float64     `json:"avg_latency_ms"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	SampleCount         int         `json:"sample_count"`
	LastOutcome         time.Time   `json:"last_outcome,omitempty"`
}

// Outcome is a single execution result reported back by the caller after
// running work against a selected provider.
type Outcome struct {
	Provider  string        `json:"provider"`
	Operation OperationType `json:"operation"`
	Success   bool          `json:"success"`
	LatencyMs int64         `json:"latency_ms"`
	ErrorKind string        `json:"error_kind,omitempty"`
	CostUSD   float64       `json:"cost_usd"`
	TokensIn  int64         `json:"tokens_in"`
	TokensOut int64         `json:"tokens_out"`
	Timestamp time.Time     `json:"timestamp"`
}
