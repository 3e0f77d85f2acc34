package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/provider-advisor/internal/types"
)

// Registry holds the configured provider descriptors and any attached
// executors. Descriptors are immutable after registration; the registry
// guarantees the terminal fallback provider is always present so that a
// candidate set can never be empty.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*types.ProviderDescriptor
	executors   map[string]Executor
	order       []string
	logger      *logrus.Logger
}

// NewRegistry creates a registry pre-seeded with the terminal fallback
// descriptor and executor.
func NewRegistry(logger *logrus.Logger) *Registry {
	r := &Registry{
		descriptors: make(map[string]*types.ProviderDescriptor),
		executors:   make(map[string]Executor),
		logger:      logger,
	}

	fallback := NewFallbackExecutor()
	r.register(FallbackDescriptor(), fallback)
	return r
}

// Register adds a provider descriptor and optional executor. Re-registering
// the terminal fallback name is rejected.
func (r *Registry) Register(desc *types.ProviderDescriptor, exec Executor) error {
	if desc.Name == "" {
		return fmt.Errorf("provider descriptor requires a name")
	}
	if desc.Name == FallbackProviderName {
		return fmt.Errorf("provider name %q is reserved", FallbackProviderName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[desc.Name]; exists {
		return fmt.Errorf("provider %q already registered", desc.Name)
	}
	r.register(desc, exec)
	return nil
}

func (r *Registry) register(desc *types.ProviderDescriptor, exec Executor) {
	r.descriptors[desc.Name] = desc
	r.order = append(r.order, desc.Name)
	if exec != nil {
		r.executors[desc.Name] = exec
	}
	r.logger.WithFields(logrus.Fields{
		"provider":        desc.Name,
		"quality":         desc.Quality,
		"offline_capable": desc.OfflineCapable,
	}).Info("Provider registered")
}

// Descriptor returns the descriptor for a provider name.
func (r *Registry) Descriptor(name string) (*types.ProviderDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.descriptors[name]
	return desc, ok
}

// Executor returns the executor attached to a provider name.
func (r *Registry) Executor(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[name]
	return exec, ok
}

// Candidates returns all descriptors supporting the given operation, in
// declared priority order. The terminal fallback supports every operation,
// so the result is never empty.
func (r *Registry) Candidates(op types.OperationType) []*types.ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.ProviderDescriptor
	for _, name := range r.order {
		desc := r.descriptors[name]
		if name == FallbackProviderName || desc.Supports(op) {
			out = append(out, desc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Names returns all registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}
