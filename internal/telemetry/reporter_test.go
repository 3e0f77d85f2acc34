package telemetry

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/provider-advisor/internal/health"
	"github.com/tributary-ai/provider-advisor/internal/latency"
	"github.com/tributary-ai/provider-advisor/internal/ledger"
	"github.com/tributary-ai/provider-advisor/internal/types"
)

func newTestReporter(queueSize int) (*Reporter, *health.Monitor, *ledger.Ledger, *latency.Estimator) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	monitor := health.NewMonitor(logger)
	costs := ledger.New(types.BudgetLimits{}, nil, 0, logger)
	estimator := latency.NewEstimator()
	return NewReporter(monitor, costs, estimator, queueSize, logger), monitor, costs, estimator
}

func TestReporter_FansOutToAllSinks(t *testing.T) {
	r, monitor, costs, estimator := newTestReporter(16)

	r.Report(types.Outcome{
		Provider:  "alpha",
		Operation: types.OperationSummarize,
		Success:   true,
		LatencyMs: 250,
		CostUSD:   0.05,
		TokensIn:  800,
		TokensOut: 200,
	})
	r.Close()

	if got := monitor.Status("alpha").SampleCount; got != 1 {
		t.Errorf("Expected 1 health sample, got %d", got)
	}
	if got := costs.MonthlySummary().TotalUSD; got != 0.05 {
		t.Errorf("Expected $0.05 recorded, got $%.2f", got)
	}
	if got := estimator.SampleCount("alpha", types.OperationSummarize); got != 1 {
		t.Errorf("Expected 1 latency sample, got %d", got)
	}
}

func TestReporter_FailureSkipsLatencySample(t *testing.T) {
	r, monitor, _, estimator := newTestReporter(16)

	r.Report(types.Outcome{
		Provider:  "alpha",
		Operation: types.OperationAnalyze,
		Success:   false,
		LatencyMs: 30000,
		ErrorKind: "timeout",
	})
	r.Close()

	// Failures feed health but must not poison the latency history.
	if got := monitor.Status("alpha").SampleCount; got != 1 {
		t.Errorf("Expected failure in the health window, got %d samples", got)
	}
	if got := estimator.SampleCount("alpha", types.OperationAnalyze); got != 0 {
		t.Errorf("Expected no latency sample from a failure, got %d", got)
	}
}

func TestReporter_ZeroCostSkipsLedger(t *testing.T) {
	r, _, costs, _ := newTestReporter(16)

	r.Report(types.Outcome{
		Provider:  "local",
		Operation: types.OperationSummarize,
		Success:   true,
		LatencyMs: 100,
	})
	r.Close()

	if got := len(costs.MonthlySummary().ByProvider); got != 0 {
		t.Errorf("Expected no ledger entry for a free outcome, got %d providers", got)
	}
}

func TestReporter_NeverBlocks(t *testing.T) {
	r, _, _, _ := newTestReporter(2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			r.Report(types.Outcome{
				Provider:  "alpha",
				Operation: types.OperationGenerate,
				Success:   true,
				LatencyMs: 10,
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Report blocked on a full queue")
	}
	r.Close()
}

func TestReporter_CloseDrainsQueue(t *testing.T) {
	r, monitor, _, _ := newTestReporter(64)

	for i := 0; i < 30; i++ {
		r.Report(types.Outcome{
			Provider:  "alpha",
			Operation: types.OperationEmbed,
			Success:   true,
			LatencyMs: 5,
		})
	}
	r.Close()

	if got := monitor.Status("alpha").SampleCount; got != 30 {
		t.Errorf("Expected all 30 outcomes applied on close, got %d", got)
	}
}

func TestReporter_StampsMissingTimestamp(t *testing.T) {
	r, _, costs, _ := newTestReporter(16)

	r.Report(types.Outcome{
		Provider:  "alpha",
		Operation: types.OperationSummarize,
		Success:   true,
		CostUSD:   1.0,
		TokensIn:  10,
	})
	r.Close()

	// The entry lands in the current month, so the summary sees it.
	if got := costs.MonthlySummary().TotalUSD; got != 1.0 {
		t.Errorf("Expected timestamped entry in current month, got $%.2f", got)
	}
}
