package types

// BudgetLimits configures spend ceilings. A zero limit means unlimited.
type BudgetLimits struct {
	GlobalLimitUSD      float64            `json:"global_limit_usd" yaml:"global_limit_usd"`
	PerProviderLimitUSD map[string]float64 `json:"per_provider_limit_usd,omitempty" yaml:"per_provider_limit_usd,omitempty"`
	HardLimitEnabled    bool               `json:"hard_limit_enabled" yaml:"hard_limit_enabled"`

	// SoftThresholdPct is the fraction of a cap at which warnings start.
	// Defaults to 0.8 when unset.
	SoftThresholdPct float64 `json:"soft_threshold_pct,omitempty" yaml:"soft_threshold_pct,omitempty"`
}

// UserPreferences carries all user-controlled overrides applied on top of
// engine scoring. Mutated only through the preferences service; persisted
// through the injected store.
type UserPreferences struct {
	PinnedProvider    string                   `json:"pinned_provider,omitempty"`
	ExcludedProviders []string                 `json:"excluded_providers,omitempty"`
	ActiveProfile     ProfileName              `json:"active_profile"`
	CustomWeights     *Weights                 `json:"custom_weights,omitempty"`
	OperationOverride map[OperationType]string `json:"operation_override,omitempty"`
	AutoFailover      bool                     `json:"auto_failover"`
	Budget            *BudgetLimits            `json:"budget,omitempty"`
}

// IsExcluded reports whether the named provider is on the exclusion list.
func (p *UserPreferences) IsExcluded(provider string) bool {
	for _, name := range p.ExcludedProviders {
		if name == provider {
			return true
		}
	}
	return false
}

// Weights is a resolved scoring weight vector. Components should sum to 1.
type Weights struct {
	Quality      float64 `json:"quality" yaml:"quality"`
	Cost         float64 `json:"cost" yaml:"cost"`
	Latency      float64 `json:"latency" yaml:"latency"`
	Availability float64 `json:"availability" yaml:"availability"`
}

// Sum returns the total of all weight components.
func (w Weights) Sum() float64 {
	return w.Quality + w.Cost + w.Latency + w.Availability
}
