package health

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/provider-advisor/internal/types"
)

const (
	// WindowSize is the number of most recent outcomes retained per provider.
	WindowSize = 100

	// MinSamples is the minimum window population before a provider can be
	// classified as anything other than unknown.
	MinSamples = 10

	// ConsecutiveFailureAlert is the consecutive-failure count that raises
	// an outage alert independent of the rolling success rate.
	ConsecutiveFailureAlert = 5

	healthyThreshold  = 0.90
	degradedThreshold = 0.70
)

// Alert signals a suspected hard outage, raised when a provider fails
// ConsecutiveFailureAlert times in a row.
type Alert struct {
	Provider            string
	ConsecutiveFailures int
	LastErrorKind       string
	Timestamp           time.Time
}

// Transition describes a health state change observed while recording an
// outcome.
type Transition struct {
	Provider string
	From     types.HealthState
	To       types.HealthState
}

type outcome struct {
	success   bool
	latencyMs int64
	errorKind string
}

// window is a fixed-size ring of recent outcomes for one provider, guarded
// by its own mutex so providers never contend with each other.
type window struct {
	mu                  sync.Mutex
	outcomes            [WindowSize]outcome
	next                int
	count               int
	consecutiveFailures int
	lastOutcome         time.Time
	lastErrorKind       string
}

// Monitor tracks rolling success/failure/latency per provider. Status is a
// pure function of the window, recomputed on every read.
type Monitor struct {
	mu      sync.RWMutex
	windows map[string]*window
	logger  *logrus.Logger

	alerts chan Alert

	// onTransition is invoked (outside the window lock) whenever recording
	// an outcome moves a provider between health states.
	onTransition func(Transition)
}

// NewMonitor creates a health monitor. The alert channel is bounded;
// recording never blocks on a slow alert consumer.
func NewMonitor(logger *logrus.Logger) *Monitor {
	return &Monitor{
		windows: make(map[string]*window),
		logger:  logger,
		alerts:  make(chan Alert, 16),
	}
}

// Alerts exposes the outage alert stream.
func (m *Monitor) Alerts() <-chan Alert {
	return m.alerts
}

// OnTransition registers a callback fired on health state changes. Intended
// for cache invalidation; must be set before concurrent use.
func (m *Monitor) OnTransition(fn func(Transition)) {
	m.onTransition = fn
}

func (m *Monitor) window(provider string) *window {
	m.mu.RLock()
	w, ok := m.windows[provider]
	m.mu.RUnlock()
	if ok {
		return w
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok = m.windows[provider]; ok {
		return w
	}
	w = &window{}
	m.windows[provider] = w
	return w
}

// RecordOutcome appends one outcome to the provider's rolling window. Safe
// for concurrent callers.
func (m *Monitor) RecordOutcome(provider string, success bool, latencyMs int64, errorKind string) {
	w := m.window(provider)

	w.mu.Lock()
	before := classify(w)

	w.outcomes[w.next] = outcome{success: success, latencyMs: latencyMs, errorKind: errorKind}
	w.next = (w.next + 1) % WindowSize
	if w.count < WindowSize {
		w.count++
	}
	if success {
		w.consecutiveFailures = 0
	} else {
		w.consecutiveFailures++
		w.lastErrorKind = errorKind
	}
	w.lastOutcome = time.Now()

	after := classify(w)
	failures := w.consecutiveFailures
	lastError := w.lastErrorKind
	w.mu.Unlock()

	if failures == ConsecutiveFailureAlert {
		alert := Alert{
			Provider:            provider,
			ConsecutiveFailures: failures,
			LastErrorKind:       lastError,
			Timestamp:           time.Now(),
		}
		select {
		case m.alerts <- alert:
		default:
			m.logger.WithField("provider", provider).Warn("Health alert dropped, channel full")
		}
		m.logger.WithFields(logrus.Fields{
			"provider":             provider,
			"consecutive_failures": failures,
			"error_kind":           lastError,
		}).Warn("Provider failing consecutively")
	}

	if before != after {
		m.logger.WithFields(logrus.Fields{
			"provider": provider,
			"from":     before,
			"to":       after,
		}).Info("Provider health transition")
		if m.onTransition != nil {
			m.onTransition(Transition{Provider: provider, From: before, To: after})
		}
	}
}

// Status returns the derived health view for one provider. Providers that
// have never reported are unknown.
func (m *Monitor) Status(provider string) types.ProviderHealth {
	m.mu.RLock()
	w, ok := m.windows[provider]
	m.mu.RUnlock()
	if !ok {
		return types.ProviderHealth{Provider: provider, State: types.HealthUnknown}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return snapshot(provider, w)
}

// AllStatuses returns the derived health view for every provider that has
// reported at least once.
func (m *Monitor) AllStatuses() map[string]types.ProviderHealth {
	m.mu.RLock()
	names := make([]string, 0, len(m.windows))
	for name := range m.windows {
		names = append(names, name)
	}
	m.mu.RUnlock()

	out := make(map[string]types.ProviderHealth, len(names))
	for _, name := range names {
		out[name] = m.Status(name)
	}
	return out
}

// snapshot derives the full health view; caller holds w.mu.
func snapshot(provider string, w *window) types.ProviderHealth {
	h := types.ProviderHealth{
		Provider:            provider,
		State:               classify(w),
		ConsecutiveFailures: w.consecutiveFailures,
		SampleCount:         w.count,
		LastOutcome:         w.lastOutcome,
	}
	if w.count == 0 {
		return h
	}

	var successes int
	var totalLatency int64
	for i := 0; i < w.count; i++ {
		o := w.outcomes[i]
		if o.success {
			successes++
		}
		totalLatency += o.latencyMs
	}
	h.SuccessRate = float64(successes) / float64(w.count)
	h.AvgLatencyMs = float64(totalLatency) / float64(w.count)
	return h
}

// classify maps the window to a health state; caller holds w.mu. Fewer than
// MinSamples outcomes is unknown regardless of rate.
func classify(w *window) types.HealthState {
	if w.count < MinSamples {
		return types.HealthUnknown
	}
	var successes int
	for i := 0; i < w.count; i++ {
		if w.outcomes[i].success {
			successes++
		}
	}
	rate := float64(successes) / float64(w.count)
	switch {
	case rate > healthyThreshold:
		return types.HealthHealthy
	case rate >= degradedThreshold:
		return types.HealthDegraded
	default:
		return types.HealthUnhealthy
	}
}
