package providers

import (
	"context"

	"github.com/tributary-ai/provider-advisor/internal/types"
)

// WorkRequest is the opaque unit of work handed to a provider executor. The
// engine never builds or inspects payloads; it only selects who runs them.
type WorkRequest struct {
	ID        string              `json:"id"`
	Operation types.OperationType `json:"operation"`
	Tokens    int64               `json:"tokens"`
	Payload   []byte              `json:"payload,omitempty"`
}

// WorkResult is what an executor returns after running a request.
type WorkResult struct {
	Output    []byte  `json:"output,omitempty"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// Executor is the capability contract supplied by the caller's environment.
// The advisor selects among executors; it never invokes them itself, with
// the single exception of the terminal fallback it owns.
type Executor interface {
	Name() string
	SupportedOperations() []types.OperationType
	OfflineCapable() bool
	Invoke(ctx context.Context, req *WorkRequest) (*WorkResult, error)
}
