package security

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/provider-advisor/internal/types"
)

// AuditEvent is one recorded selection decision. The trail exists so an
// operator can answer "why did request X run on provider Y" after the fact.
type AuditEvent struct {
	SelectionID  string              `json:"selection_id"`
	Timestamp    time.Time           `json:"timestamp"`
	UserID       string              `json:"user_id,omitempty"`
	Operation    types.OperationType `json:"operation"`
	Provider     string              `json:"provider"`
	Profile      types.ProfileName   `json:"profile"`
	FallbackUsed bool                `json:"fallback_used"`
	BudgetLevel  types.BudgetLevel   `json:"budget_level"`
	Reasoning    []string            `json:"reasoning"`
}

// AuditConfig holds selection audit configuration.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
}

// AuditTrail keeps a bounded in-memory ring of selection events and emits
// each one as a structured log line. Recording never blocks selection.
type AuditTrail struct {
	config *AuditConfig
	logger *logrus.Logger

	mu     sync.RWMutex
	events []AuditEvent
	next   int
	count  int
}

// NewAuditTrail creates a selection audit trail.
func NewAuditTrail(config *AuditConfig, logger *logrus.Logger) *AuditTrail {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	return &AuditTrail{
		config: config,
		logger: logger,
		events: make([]AuditEvent, config.BufferSize),
	}
}

// Record appends one selection event.
func (a *AuditTrail) Record(userID string, result *types.SelectionResult) {
	if !a.config.Enabled {
		return
	}

	event := AuditEvent{
		SelectionID:  result.SelectionID,
		Timestamp:    result.Timestamp,
		UserID:       userID,
		Operation:    result.Operation,
		Provider:     result.Provider,
		Profile:      result.Profile,
		FallbackUsed: result.FallbackUsed,
		BudgetLevel:  result.Budget.Level,
		Reasoning:    result.Reasoning,
	}

	a.mu.Lock()
	a.events[a.next] = event
	a.next = (a.next + 1) % len(a.events)
	if a.count < len(a.events) {
		a.count++
	}
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"selection_id": event.SelectionID,
		"user_id":      event.UserID,
		"operation":    event.Operation,
		"provider":     event.Provider,
		"budget_level": event.BudgetLevel,
	}).Info("Selection audited")
}

// Recent returns up to n most recent events, newest first.
func (a *AuditTrail) Recent(n int) []AuditEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if n > a.count {
		n = a.count
	}
	out := make([]AuditEvent, 0, n)
	for i := 1; i <= n; i++ {
		idx := (a.next - i + len(a.events)) % len(a.events)
		out = append(out, a.events[idx])
	}
	return out
}
