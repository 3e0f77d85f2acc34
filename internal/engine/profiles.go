package engine

import (
	"fmt"

	"github.com/tributary-ai/provider-advisor/internal/types"
)

// ConfigurationError reports an invalid profile name or weight vector. It
// is surfaced at setup time and is fatal only to that configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Named profiles resolve to concrete weight vectors at load time, not at
// call time. Components are quality/cost/latency/availability and sum to 1.
var profileWeights = map[types.ProfileName]types.Weights{
	types.ProfileBalanced:        {Quality: 0.30, Cost: 0.25, Latency: 0.25, Availability: 0.20},
	types.ProfileMaximumQuality:  {Quality: 0.60, Cost: 0.10, Latency: 0.10, Availability: 0.20},
	types.ProfileBudgetConscious: {Quality: 0.15, Cost: 0.55, Latency: 0.10, Availability: 0.20},
	types.ProfileSpeedOptimized:  {Quality: 0.15, Cost: 0.10, Latency: 0.55, Availability: 0.20},
	// local_only filters candidates to offline-capable providers and then
	// scores them with balanced weights.
	types.ProfileLocalOnly: {Quality: 0.30, Cost: 0.25, Latency: 0.25, Availability: 0.20},
}

var profileDescriptions = map[types.ProfileName]string{
	types.ProfileMaximumQuality:  "Prefer the highest-quality provider regardless of cost",
	types.ProfileBalanced:        "Weigh quality, cost, latency and availability roughly equally",
	types.ProfileBudgetConscious: "Prefer the cheapest viable provider",
	types.ProfileSpeedOptimized:  "Prefer the fastest provider",
	types.ProfileLocalOnly:       "Restrict candidates to offline-capable providers",
	types.ProfileCustom:          "Apply user-supplied scoring weights",
}

// ResolveProfile validates a profile name and returns its weight vector.
// For the custom profile the caller's weights are validated instead.
func ResolveProfile(name types.ProfileName, custom *types.Weights) (types.Weights, error) {
	if name == types.ProfileCustom {
		if custom == nil {
			return types.Weights{}, &ConfigurationError{
				Field:  "profile",
				Reason: "custom profile selected but no weights supplied",
			}
		}
		if err := ValidateWeights(*custom); err != nil {
			return types.Weights{}, err
		}
		return *custom, nil
	}

	weights, ok := profileWeights[name]
	if !ok {
		return types.Weights{}, &ConfigurationError{
			Field:  "profile",
			Reason: fmt.Sprintf("unknown profile %q", name),
		}
	}
	return weights, nil
}

// ValidateWeights checks that a custom weight vector is non-negative and
// sums to 1 within rounding tolerance.
func ValidateWeights(w types.Weights) error {
	if w.Quality < 0 || w.Cost < 0 || w.Latency < 0 || w.Availability < 0 {
		return &ConfigurationError{Field: "weights", Reason: "weight components must be non-negative"}
	}
	sum := w.Sum()
	if sum < 0.99 || sum > 1.01 {
		return &ConfigurationError{
			Field:  "weights",
			Reason: fmt.Sprintf("weight components must sum to 1.0, got %.3f", sum),
		}
	}
	return nil
}

// ListProfiles returns the selectable profiles with descriptions, in a
// stable order for the query interface.
func ListProfiles() []types.ProfileInfo {
	order := []types.ProfileName{
		types.ProfileBalanced,
		types.ProfileMaximumQuality,
		types.ProfileBudgetConscious,
		types.ProfileSpeedOptimized,
		types.ProfileLocalOnly,
		types.ProfileCustom,
	}
	out := make([]types.ProfileInfo, 0, len(order))
	for _, name := range order {
		out = append(out, types.ProfileInfo{Name: name, Description: profileDescriptions[name]})
	}
	return out
}
