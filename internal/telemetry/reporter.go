// Package telemetry closes the feedback loop: after a caller executes work
// against a selected provider it reports the outcome here, which feeds the
// health monitor, cost ledger and latency estimator.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/provider-advisor/internal/health"
	"github.com/tributary-ai/provider-advisor/internal/latency"
	"github.com/tributary-ai/provider-advisor/internal/ledger"
	"github.com/tributary-ai/provider-advisor/internal/types"
)

// DefaultQueueSize bounds the outcome queue.
const DefaultQueueSize = 1024

// Reporter fans one outcome report out to the three telemetry sinks.
// Reports go through a bounded queue drained by a single background
// goroutine; when the queue is full the oldest report is dropped so the
// caller's critical path never blocks.
type Reporter struct {
	monitor   *health.Monitor
	costs     *ledger.Ledger
	estimator *latency.Estimator
	logger    *logrus.Logger

	queue   chan types.Outcome
	dropped atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewReporter creates and starts a reporter.
func NewReporter(monitor *health.Monitor, costs *ledger.Ledger, estimator *latency.Estimator,
	queueSize int, logger *logrus.Logger) *Reporter {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Reporter{
		monitor:   monitor,
		costs:     costs,
		estimator: estimator,
		logger:    logger,
		queue:     make(chan types.Outcome, queueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go r.drain()
	return r
}

// Report enqueues one outcome. Never blocks: on a full queue the oldest
// queued report is evicted to make room.
func (r *Reporter) Report(o types.Outcome) {
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}
	for {
		select {
		case r.queue <- o:
			return
		default:
		}
		// Queue full: evict the oldest and retry. Another producer may win
		// the race for the freed slot, hence the loop.
		select {
		case evicted := <-r.queue:
			n := r.dropped.Add(1)
			if n%100 == 1 {
				r.logger.WithFields(logrus.Fields{
					"dropped_total": n,
					"provider":      evicted.Provider,
				}).Warn("Telemetry queue full, dropping oldest outcome")
			}
		default:
		}
	}
}

// Dropped returns how many outcomes have been evicted so far.
func (r *Reporter) Dropped() uint64 {
	return r.dropped.Load()
}

// Close drains remaining reports and stops the background goroutine.
func (r *Reporter) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.done
	})
}

func (r *Reporter) drain() {
	defer close(r.done)
	for {
		select {
		case o := <-r.queue:
			r.apply(o)
		case <-r.stop:
			for {
				select {
				case o := <-r.queue:
					r.apply(o)
				default:
					return
				}
			}
		}
	}
}

func (r *Reporter) apply(o types.Outcome) {
	r.monitor.RecordOutcome(o.Provider, o.Success, o.LatencyMs, o.ErrorKind)
	if o.CostUSD > 0 || o.TokensIn > 0 || o.TokensOut > 0 {
		r.costs.RecordCost(o.Provider, o.Operation, o.CostUSD, o.TokensIn, o.TokensOut)
	}
	if o.Success && o.LatencyMs > 0 {
		r.estimator.RecordSample(o.Provider, o.Operation, o.TokensIn+o.TokensOut, o.LatencyMs)
	}
}
