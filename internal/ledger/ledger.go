package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/provider-advisor/internal/store"
	"github.com/tributary-ai/provider-advisor/internal/types"
)

const (
	// DefaultSoftThresholdPct is the fraction of a cap at which the budget
	// check starts warning.
	DefaultSoftThresholdPct = 0.8

	storePrefix = "ledger/"
)

// Entry is one append-only cost record. Entries are never deleted or
// mutated; summaries are always rebuilt from them.
type Entry struct {
	ID        string              `json:"id"`
	Provider  string              `json:"provider"`
	Operation types.OperationType `json:"operation"`
	Timestamp time.Time           `json:"timestamp"`
	TokensIn  int64               `json:"tokens_in"`
	TokensOut int64               `json:"tokens_out"`
	CostUSD   float64             `json:"cost_usd"`
}

// OperationCost aggregates spend for one provider/operation pair.
type OperationCost struct {
	CostUSD   float64 `json:"cost_usd"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	Requests  int     `json:"requests"`
}

// MonthlySummary is the per-provider/per-operation breakdown for one
// calendar month, rebuilt from entries on read.
type MonthlySummary struct {
	Month       string                                           `json:"month"`
	TotalUSD    float64                                          `json:"total_usd"`
	ByProvider  map[string]float64                               `json:"by_provider"`
	ByOperation map[types.OperationType]float64                  `json:"by_operation"`
	Breakdown   map[string]map[types.OperationType]OperationCost `json:"breakdown"`
}

// Ledger records spend per provider/operation and enforces budget limits.
// Appends are concurrent-safe; persistence to the injected store happens on
// an interval off the critical path, while hard-budget checks read the
// in-memory state synchronously so a limit cannot be raced past.
type Ledger struct {
	mu        sync.RWMutex
	entries   []Entry
	unflushed int
	limits    types.BudgetLimits

	store  store.Store
	logger *logrus.Logger

	flushInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
	startOnce     sync.Once
	stopOnce      sync.Once
}

// New creates a ledger with the given limits. The store may be nil, in
// which case entries are held in memory only.
func New(limits types.BudgetLimits, st store.Store, flushInterval time.Duration, logger *logrus.Logger) *Ledger {
	if limits.SoftThresholdPct <= 0 || limits.SoftThresholdPct >= 1 {
		limits.SoftThresholdPct = DefaultSoftThresholdPct
	}
	if flushInterval <= 0 {
		flushInterval = time.Minute
	}
	return &Ledger{
		limits:        limits,
		store:         st,
		logger:        logger,
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// SetLimits replaces the active budget limits (user preference change).
func (l *Ledger) SetLimits(limits types.BudgetLimits) {
	if limits.SoftThresholdPct <= 0 || limits.SoftThresholdPct >= 1 {
		limits.SoftThresholdPct = DefaultSoftThresholdPct
	}
	l.mu.Lock()
	l.limits = limits
	l.mu.Unlock()
}

// Limits returns the active budget limits.
func (l *Ledger) Limits() types.BudgetLimits {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limits
}

// RecordCost appends one cost entry. Safe for concurrent callers.
func (l *Ledger) RecordCost(provider string, op types.OperationType, costUSD float64, tokensIn, tokensOut int64) {
	entry := Entry{
		ID:        uuid.NewString(),
		Provider:  provider,
		Operation: op,
		Timestamp: time.Now(),
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostUSD:   costUSD,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.unflushed++
	l.mu.Unlock()
}

// MonthlySummary rebuilds the current month's breakdown from the entry log.
func (l *Ledger) MonthlySummary() *MonthlySummary {
	return l.summaryFor(time.Now())
}

func (l *Ledger) summaryFor(now time.Time) *MonthlySummary {
	month := now.Format("2006-01")
	summary := &MonthlySummary{
		Month:       month,
		ByProvider:  make(map[string]float64),
		ByOperation: make(map[types.OperationType]float64),
		Breakdown:   make(map[string]map[types.OperationType]OperationCost),
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.Timestamp.Format("2006-01") != month {
			continue
		}
		summary.TotalUSD += e.CostUSD
		summary.ByProvider[e.Provider] += e.CostUSD
		summary.ByOperation[e.Operation] += e.CostUSD

		ops := summary.Breakdown[e.Provider]
		if ops == nil {
			ops = make(map[types.OperationType]OperationCost)
			summary.Breakdown[e.Provider] = ops
		}
		oc := ops[e.Operation]
		oc.CostUSD += e.CostUSD
		oc.TokensIn += e.TokensIn
		oc.TokensOut += e.TokensOut
		oc.Requests++
		ops[e.Operation] = oc
	}
	return summary
}

// CheckBudget evaluates an estimated spend against the global and
// per-provider limits. Hard limits block unless override is set; soft
// limits only warn. The read is synchronous against in-memory state.
func (l *Ledger) CheckBudget(provider string, estimatedCostUSD float64, override bool) types.BudgetDecision {
	l.mu.RLock()
	limits := l.limits
	l.mu.RUnlock()

	summary := l.MonthlySummary()

	if d := l.checkCap("global", limits.GlobalLimitUSD, summary.TotalUSD, estimatedCostUSD, limits, override); d != nil {
		return *d
	}
	if cap, ok := limits.PerProviderLimitUSD[provider]; ok {
		spent := summary.ByProvider[provider]
		scope := fmt.Sprintf("provider %s", provider)
		if d := l.checkCap(scope, cap, spent, estimatedCostUSD, limits, override); d != nil {
			return *d
		}
	}
	return types.BudgetDecision{Allowed: true, Level: types.BudgetOK}
}

// checkCap returns a non-nil decision when the cap produces a warning or
// block; nil means the cap has nothing to say.
func (l *Ledger) checkCap(scope string, cap, spent, estimated float64, limits types.BudgetLimits, override bool) *types.BudgetDecision {
	if cap <= 0 {
		return nil
	}
	projected := spent + estimated
	if projected >= cap {
		if limits.HardLimitEnabled && !override {
			return &types.BudgetDecision{
				Allowed: false,
				Level:   types.BudgetBlocked,
				Reason: fmt.Sprintf("%s hard limit $%.2f reached (spent $%.2f, estimated $%.4f)",
					scope, cap, spent, estimated),
			}
		}
		reason := fmt.Sprintf("%s limit $%.2f reached (spent $%.2f)", scope, cap, spent)
		if override {
			reason += ", proceeding on explicit override"
		}
		return &types.BudgetDecision{Allowed: true, Level: types.BudgetWarning, Reason: reason}
	}
	if projected >= cap*limits.SoftThresholdPct {
		return &types.BudgetDecision{
			Allowed: true,
			Level:   types.BudgetWarning,
			Reason: fmt.Sprintf("%s spend $%.2f is above %.0f%% of the $%.2f limit",
				scope, projected, limits.SoftThresholdPct*100, cap),
		}
	}
	return nil
}

// Start launches the background flush loop. No-op without a store.
func (l *Ledger) Start() {
	if l.store == nil {
		return
	}
	l.startOnce.Do(func() {
		go l.flushLoop()
	})
}

// Close flushes outstanding entries and stops the flush loop.
func (l *Ledger) Close() {
	if l.store == nil {
		return
	}
	l.stopOnce.Do(func() {
		close(l.stop)
		<-l.done
	})
}

func (l *Ledger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.flush()
		case <-l.stop:
			l.flush()
			return
		}
	}
}

// flush persists entries appended since the last flush as one batch. Write
// failures are logged and the batch retried on the next tick; flushing
// never blocks recording.
func (l *Ledger) flush() {
	l.mu.RLock()
	pending := l.unflushed
	var batch []Entry
	if pending > 0 {
		batch = make([]Entry, pending)
		copy(batch, l.entries[len(l.entries)-pending:])
	}
	l.mu.RUnlock()

	if len(batch) == 0 {
		return
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		l.logger.WithError(err).Error("Failed to encode ledger batch")
		return
	}

	key := fmt.Sprintf("%s%s/%s", storePrefix, batch[0].Timestamp.Format("2006-01"), uuid.NewString())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.store.Put(ctx, key, payload); err != nil {
		l.logger.WithError(err).WithField("entries", len(batch)).Warn("Ledger flush failed, will retry")
		return
	}

	l.mu.Lock()
	l.unflushed -= len(batch)
	if l.unflushed < 0 {
		l.unflushed = 0
	}
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"entries": len(batch),
		"key":     key,
	}).Debug("Ledger batch flushed")
}

// LoadFromStore rebuilds the current month's entries from previously
// flushed batches. Failures are absorbed: the ledger starts empty and logs
// the problem rather than failing startup.
func (l *Ledger) LoadFromStore(ctx context.Context) {
	if l.store == nil {
		return
	}
	prefix := storePrefix + time.Now().Format("2006-01") + "/"
	keys, err := l.store.ListKeys(ctx, prefix)
	if err != nil {
		l.logger.WithError(err).Warn("Could not list ledger batches, starting with empty ledger")
		return
	}

	var loaded int
	for _, key := range keys {
		payload, ok, err := l.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var batch []Entry
		if err := json.Unmarshal(payload, &batch); err != nil {
			l.logger.WithError(err).WithField("key", key).Warn("Skipping corrupt ledger batch")
			continue
		}
		l.mu.Lock()
		l.entries = append(l.entries, batch...)
		l.mu.Unlock()
		loaded += len(batch)
	}
	if loaded > 0 {
		l.logger.WithField("entries", loaded).Info("Cost ledger restored from store")
	}
}
