package health

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/provider-advisor/internal/types"
)

func newTestMonitor() *Monitor {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewMonitor(logger)
}

// fill records successes+failures outcomes, successes first.
func fill(m *Monitor, provider string, successes, failures int) {
	for i := 0; i < successes; i++ {
		m.RecordOutcome(provider, true, 100, "")
	}
	for i := 0; i < failures; i++ {
		m.RecordOutcome(provider, false, 100, "timeout")
	}
}

func TestMonitor_UnknownWithoutSamples(t *testing.T) {
	m := newTestMonitor()

	status := m.Status("never-seen")
	if status.State != types.HealthUnknown {
		t.Errorf("Expected unknown for unseen provider, got %s", status.State)
	}

	// Nine outcomes is still below the classification minimum.
	fill(m, "sparse", 9, 0)
	status = m.Status("sparse")
	if status.State != types.HealthUnknown {
		t.Errorf("Expected unknown below %d samples, got %s", MinSamples, status.State)
	}
	if status.SampleCount != 9 {
		t.Errorf("Expected 9 samples, got %d", status.SampleCount)
	}

	// The tenth sample crosses into classification.
	fill(m, "sparse", 1, 0)
	status = m.Status("sparse")
	if status.State != types.HealthHealthy {
		t.Errorf("Expected healthy at %d samples, got %s", MinSamples, status.State)
	}
}

func TestMonitor_ThresholdBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		failures  int
		want      types.HealthState
	}{
		{"91 percent is healthy", 91, 9, types.HealthHealthy},
		{"90 percent is degraded", 90, 10, types.HealthDegraded},
		{"70 percent is degraded", 70, 30, types.HealthDegraded},
		{"69 percent is unhealthy", 69, 31, types.HealthUnhealthy},
		{"all failures is unhealthy", 0, 100, types.HealthUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor()
			fill(m, "p", tt.successes, tt.failures)

			status := m.Status("p")
			if status.State != tt.want {
				t.Errorf("Expected %s at %d/%d, got %s (rate %.2f)",
					tt.want, tt.successes, tt.successes+tt.failures, status.State, status.SuccessRate)
			}
		})
	}
}

func TestMonitor_WindowEviction(t *testing.T) {
	m := newTestMonitor()

	// Fill the window with failures, then push them out with successes.
	fill(m, "p", 0, WindowSize)
	if got := m.Status("p").State; got != types.HealthUnhealthy {
		t.Fatalf("Expected unhealthy, got %s", got)
	}

	fill(m, "p", WindowSize, 0)
	status := m.Status("p")
	if status.State != types.HealthHealthy {
		t.Errorf("Expected healthy after window turnover, got %s", status.State)
	}
	if status.SuccessRate != 1.0 {
		t.Errorf("Expected success rate 1.0, got %.2f", status.SuccessRate)
	}
	if status.SampleCount != WindowSize {
		t.Errorf("Expected sample count capped at %d, got %d", WindowSize, status.SampleCount)
	}
}

func TestMonitor_ConsecutiveFailureAlert(t *testing.T) {
	m := newTestMonitor()

	fill(m, "p", 0, ConsecutiveFailureAlert)

	select {
	case alert := <-m.Alerts():
		if alert.Provider != "p" {
			t.Errorf("Expected alert for p, got %s", alert.Provider)
		}
		if alert.ConsecutiveFailures != ConsecutiveFailureAlert {
			t.Errorf("Expected %d consecutive failures, got %d",
				ConsecutiveFailureAlert, alert.ConsecutiveFailures)
		}
		if alert.LastErrorKind != "timeout" {
			t.Errorf("Expected error kind timeout, got %s", alert.LastErrorKind)
		}
	default:
		t.Fatal("Expected an outage alert")
	}

	// More failures past the threshold do not re-alert.
	fill(m, "p", 0, 3)
	select {
	case <-m.Alerts():
		t.Error("Did not expect a second alert without recovery")
	default:
	}

	// A success resets the streak; a fresh run of failures alerts again.
	fill(m, "p", 1, ConsecutiveFailureAlert)
	select {
	case <-m.Alerts():
	default:
		t.Error("Expected a new alert after the streak reset")
	}
}

func TestMonitor_TransitionCallback(t *testing.T) {
	m := newTestMonitor()

	var transitions []Transition
	m.OnTransition(func(tr Transition) {
		transitions = append(transitions, tr)
	})

	// unknown -> healthy at the tenth sample.
	fill(m, "p", MinSamples, 0)
	if len(transitions) != 1 {
		t.Fatalf("Expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].From != types.HealthUnknown || transitions[0].To != types.HealthHealthy {
		t.Errorf("Unexpected transition %s -> %s", transitions[0].From, transitions[0].To)
	}

	// Drive the success rate down until the state changes again.
	fill(m, "p", 0, 90)
	last := transitions[len(transitions)-1]
	if last.To != types.HealthUnhealthy {
		t.Errorf("Expected final transition to unhealthy, got %s", last.To)
	}
}

func TestMonitor_AllStatuses(t *testing.T) {
	m := newTestMonitor()
	fill(m, "a", 20, 0)
	fill(m, "b", 0, 20)

	statuses := m.AllStatuses()
	if len(statuses) != 2 {
		t.Fatalf("Expected 2 tracked providers, got %d", len(statuses))
	}
	if statuses["a"].State != types.HealthHealthy {
		t.Errorf("Expected a healthy, got %s", statuses["a"].State)
	}
	if statuses["b"].State != types.HealthUnhealthy {
		t.Errorf("Expected b unhealthy, got %s", statuses["b"].State)
	}
}

func TestMonitor_AverageLatency(t *testing.T) {
	m := newTestMonitor()
	m.RecordOutcome("p", true, 100, "")
	m.RecordOutcome("p", true, 300, "")

	status := m.Status("p")
	if status.AvgLatencyMs != 200 {
		t.Errorf("Expected average latency 200ms, got %.1f", status.AvgLatencyMs)
	}
}
