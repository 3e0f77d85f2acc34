package engine

import (
	"testing"

	"github.com/tributary-ai/provider-advisor/internal/types"
)

func TestResolveProfile_Named(t *testing.T) {
	for _, name := range []types.ProfileName{
		types.ProfileBalanced,
		types.ProfileMaximumQuality,
		types.ProfileBudgetConscious,
		types.ProfileSpeedOptimized,
		types.ProfileLocalOnly,
	} {
		weights, err := ResolveProfile(name, nil)
		if err != nil {
			t.Errorf("Profile %s should resolve, got %v", name, err)
		}
		sum := weights.Sum()
		if sum < 0.99 || sum > 1.01 {
			t.Errorf("Profile %s weights sum to %.3f, want 1.0", name, sum)
		}
	}
}

func TestResolveProfile_Unknown(t *testing.T) {
	if _, err := ResolveProfile("turbo", nil); err == nil {
		t.Error("Expected error for unknown profile")
	}
}

func TestResolveProfile_Custom(t *testing.T) {
	if _, err := ResolveProfile(types.ProfileCustom, nil); err == nil {
		t.Error("Custom profile without weights must be rejected")
	}

	weights := &types.Weights{Quality: 0.5, Cost: 0.3, Latency: 0.1, Availability: 0.1}
	got, err := ResolveProfile(types.ProfileCustom, weights)
	if err != nil {
		t.Fatalf("Valid custom weights rejected: %v", err)
	}
	if got != *weights {
		t.Errorf("Expected caller weights back, got %+v", got)
	}
}

func TestValidateWeights(t *testing.T) {
	tests := []struct {
		name    string
		weights types.Weights
		wantErr bool
	}{
		{"exact sum", types.Weights{Quality: 0.25, Cost: 0.25, Latency: 0.25, Availability: 0.25}, false},
		{"low tolerance edge", types.Weights{Quality: 0.99}, false},
		{"high tolerance edge", types.Weights{Quality: 1.01}, false},
		{"sum too low", types.Weights{Quality: 0.5}, true},
		{"sum too high", types.Weights{Quality: 0.8, Cost: 0.8}, true},
		{"negative component", types.Weights{Quality: 1.2, Cost: -0.2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWeights(tt.weights)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateWeights(%+v) error = %v, wantErr %t", tt.weights, err, tt.wantErr)
			}
		})
	}
}

func TestListProfiles(t *testing.T) {
	profiles := ListProfiles()
	if len(profiles) != 6 {
		t.Fatalf("Expected 6 profiles, got %d", len(profiles))
	}
	if profiles[0].Name != types.ProfileBalanced {
		t.Errorf("Expected balanced first, got %s", profiles[0].Name)
	}
	for _, p := range profiles {
		if p.Description == "" {
			t.Errorf("Profile %s has no description", p.Name)
		}
	}
}
