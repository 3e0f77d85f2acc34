package providers

import (
	"context"

	"github.com/tributary-ai/provider-advisor/internal/types"
)

// FallbackProviderName is the reserved name of the terminal always-available
// provider. It appears in every candidate set and never fails its budget or
// availability checks, so provider resolution can never come up empty.
const FallbackProviderName = "offline-fallback"

var fallbackOperations = []types.OperationType{
	types.OperationSummarize,
	types.OperationTranscribe,
	types.OperationAnalyze,
	types.OperationGenerate,
	types.OperationEmbed,
}

// FallbackDescriptor returns the static descriptor for the terminal
// fallback. Quality is deliberately the floor of the scale and priority the
// ceiling so it only wins when nothing else survives filtering.
func FallbackDescriptor() *types.ProviderDescriptor {
	return &types.ProviderDescriptor{
		Name:            FallbackProviderName,
		Quality:         1,
		Operations:      fallbackOperations,
		OfflineCapable:  true,
		CostPer1KTokens: 0,
		Priority:        1 << 30,
	}
}

// FallbackExecutor is the no-op offline implementation behind the terminal
// descriptor. Invoke echoes the request back unprocessed at zero cost.
type FallbackExecutor struct{}

// NewFallbackExecutor returns the terminal fallback executor.
func NewFallbackExecutor() *FallbackExecutor {
	return &FallbackExecutor{}
}

func (f *FallbackExecutor) Name() string { return FallbackProviderName }

func (f *FallbackExecutor) SupportedOperations() []types.OperationType {
	ops := make([]types.OperationType, len(fallbackOperations))
	copy(ops, fallbackOperations)
	return ops
}

func (f *FallbackExecutor) OfflineCapable() bool { return true }

// Invoke returns the payload untouched. Callers treat a fallback result as
// "work deferred" rather than "work done".
func (f *FallbackExecutor) Invoke(ctx context.Context, req *WorkRequest) (*WorkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &WorkResult{
		Output:   req.Payload,
		TokensIn: req.Tokens,
		CostUSD:  0,
	}, nil
}
