// Package prefs manages user preferences: pinned provider, exclusions,
// active profile, per-operation overrides, failover and budget settings.
// Preferences change only through explicit user action and round-trip
// through the injected store as JSON.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/provider-advisor/internal/engine"
	"github.com/tributary-ai/provider-advisor/internal/store"
	"github.com/tributary-ai/provider-advisor/internal/types"
)

const storeKey = "preferences/default"

// Service owns the single mutable UserPreferences record.
type Service struct {
	mu     sync.RWMutex
	prefs  types.UserPreferences
	store  store.Store
	logger *logrus.Logger

	// onChange fires after every successful mutation; wired to cache
	// invalidation and budget limit propagation.
	onChange []func(types.UserPreferences)
}

// NewService creates a preferences service seeded with the given defaults
// (typically built from configuration), then loads any persisted record
// from the store; a persisted record wins over the defaults.
func NewService(ctx context.Context, st store.Store, defaults types.UserPreferences, logger *logrus.Logger) *Service {
	if defaults.ActiveProfile == "" {
		defaults.ActiveProfile = types.ProfileBalanced
	}
	if _, err := engine.ResolveProfile(defaults.ActiveProfile, defaults.CustomWeights); err != nil {
		logger.WithError(err).Warn("Configured default profile is invalid, using balanced")
		defaults = Defaults()
	}
	s := &Service{
		store:  st,
		logger: logger,
		prefs:  clone(defaults),
	}
	s.load(ctx)
	return s
}

// Defaults returns the preference record used when nothing is persisted.
func Defaults() types.UserPreferences {
	return types.UserPreferences{
		ActiveProfile: types.ProfileBalanced,
		AutoFailover:  true,
	}
}

// OnChange registers a change listener. Must be called before concurrent
// use.
func (s *Service) OnChange(fn func(types.UserPreferences)) {
	s.onChange = append(s.onChange, fn)
}

// Snapshot returns a copy of the current preferences.
func (s *Service) Snapshot() types.UserPreferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.prefs)
}

// Update validates and applies a full preference record, persists it, and
// notifies listeners. The only rejected updates are configuration errors
// (unknown profile, bad weight vector).
func (s *Service) Update(ctx context.Context, p types.UserPreferences) error {
	if p.ActiveProfile == "" {
		p.ActiveProfile = types.ProfileBalanced
	}
	if _, err := engine.ResolveProfile(p.ActiveProfile, p.CustomWeights); err != nil {
		return err
	}
	if p.PinnedProvider != "" && p.IsExcluded(p.PinnedProvider) {
		// A pinned-and-excluded provider is contradictory but not fatal:
		// the resolver treats the exclusion as winning. Log it.
		s.logger.WithField("provider", p.PinnedProvider).
			Warn("Pinned provider is also excluded, exclusion will win")
	}

	s.mu.Lock()
	s.prefs = clone(p)
	applied := clone(s.prefs)
	s.mu.Unlock()

	s.persist(ctx, applied)
	for _, fn := range s.onChange {
		fn(applied)
	}
	return nil
}

// Mutate applies a partial change through fn and runs the same validation,
// persistence and notification path as Update.
func (s *Service) Mutate(ctx context.Context, fn func(*types.UserPreferences)) error {
	s.mu.RLock()
	p := clone(s.prefs)
	s.mu.RUnlock()
	fn(&p)
	return s.Update(ctx, p)
}

// persist writes the record to the store. Failures are logged, never
// surfaced: preferences stay effective in memory and the next successful
// save catches up.
func (s *Service) persist(ctx context.Context, p types.UserPreferences) {
	payload, err := json.Marshal(p)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode preferences")
		return
	}
	if err := s.store.Put(ctx, storeKey, payload); err != nil {
		s.logger.WithError(err).Warn("Failed to persist preferences, keeping in-memory copy")
	}
}

func (s *Service) load(ctx context.Context) {
	payload, ok, err := s.store.Get(ctx, storeKey)
	if err != nil {
		s.logger.WithError(err).Warn("Could not read persisted preferences, using defaults")
		return
	}
	if !ok {
		return
	}
	var p types.UserPreferences
	if err := json.Unmarshal(payload, &p); err != nil {
		s.logger.WithError(err).Warn("Persisted preferences are corrupt, using defaults")
		return
	}
	if p.ActiveProfile == "" {
		p.ActiveProfile = types.ProfileBalanced
	}
	if _, err := engine.ResolveProfile(p.ActiveProfile, p.CustomWeights); err != nil {
		s.logger.WithError(err).Warn("Persisted preferences reference an invalid profile, using defaults")
		return
	}
	s.mu.Lock()
	s.prefs = p
	s.mu.Unlock()
	s.logger.WithField("profile", p.ActiveProfile).Info("User preferences loaded")
}

func clone(p types.UserPreferences) types.UserPreferences {
	out := p
	out.ExcludedProviders = append([]string(nil), p.ExcludedProviders...)
	if p.OperationOverride != nil {
		out.OperationOverride = make(map[types.OperationType]string, len(p.OperationOverride))
		for k, v := range p.OperationOverride {
			out.OperationOverride[k] = v
		}
	}
	if p.CustomWeights != nil {
		w := *p.CustomWeights
		out.CustomWeights = &w
	}
	if p.Budget != nil {
		b := *p.Budget
		if p.Budget.PerProviderLimitUSD != nil {
			b.PerProviderLimitUSD = make(map[string]float64, len(p.Budget.PerProviderLimitUSD))
			for k, v := range p.Budget.PerProviderLimitUSD {
				b.PerProviderLimitUSD[k] = v
			}
		}
		out.Budget = &b
	}
	return out
}

// Describe renders a short human-readable summary for logs.
func Describe(p types.UserPreferences) string {
	pin := p.PinnedProvider
	if pin == "" {
		pin = "none"
	}
	return fmt.Sprintf("profile=%s pin=%s excluded=%d auto_failover=%t",
		p.ActiveProfile, pin, len(p.ExcludedProviders), p.AutoFailover)
}
