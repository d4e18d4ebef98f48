package daemon

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/honkhq/honk/internal/cleanup"
)

const meterName = "github.com/honkhq/honk/daemon"

// daemonMetrics holds OTel instruments for the watchdog loop.
// All methods are nil-safe so callers don't need to guard against disabled telemetry.
type daemonMetrics struct {
	cyclesTotal   metric.Int64Counter
	cleanupsTotal metric.Int64Counter
	signalsTotal  metric.Int64Counter
	errorsTotal   metric.Int64Counter

	// mu protects the gauge values written by the cycle.
	mu             sync.RWMutex
	totalPTYs      int64
	processCount   int64
	leakCandidates int64
}

// newDaemonMetrics registers instruments against the global MeterProvider.
// Without telemetry.Init the provider is a no-op.
func newDaemonMetrics() (*daemonMetrics, error) {
	m := otel.GetMeterProvider().Meter(meterName)
	dm := &daemonMetrics{}

	var err error

	dm.cyclesTotal, err = m.Int64Counter("honk.pty.cycles.total",
		metric.WithDescription("Total number of watchdog cycles"),
	)
	if err != nil {
		return nil, err
	}

	dm.cleanupsTotal, err = m.Int64Counter("honk.pty.cleanups.total",
		metric.WithDescription("Cycles in which the PTY total exceeded max_ptys"),
	)
	if err != nil {
		return nil, err
	}

	dm.signalsTotal, err = m.Int64Counter("honk.pty.signals.total",
		metric.WithDescription("Cleanup outcomes by action"),
	)
	if err != nil {
		return nil, err
	}

	dm.errorsTotal, err = m.Int64Counter("honk.pty.cycle_errors.total",
		metric.WithDescription("Cycles that failed to scan or persist"),
	)
	if err != nil {
		return nil, err
	}

	totalGauge, err := m.Int64ObservableGauge("honk.pty.total",
		metric.WithDescription("PTYs held at the last scan"),
	)
	if err != nil {
		return nil, err
	}

	procGauge, err := m.Int64ObservableGauge("honk.pty.processes",
		metric.WithDescription("PTY-holding processes at the last scan"),
	)
	if err != nil {
		return nil, err
	}

	leakGauge, err := m.Int64ObservableGauge("honk.pty.leak_candidates",
		metric.WithDescription("Leak candidates at the last scan"),
	)
	if err != nil {
		return nil, err
	}

	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		dm.mu.RLock()
		defer dm.mu.RUnlock()
		o.ObserveInt64(totalGauge, dm.totalPTYs)
		o.ObserveInt64(procGauge, dm.processCount)
		o.ObserveInt64(leakGauge, dm.leakCandidates)
		return nil
	}, totalGauge, procGauge, leakGauge)
	if err != nil {
		return nil, err
	}

	return dm, nil
}

func (dm *daemonMetrics) recordCycle(ctx context.Context) {
	if dm == nil {
		return
	}
	dm.cyclesTotal.Add(ctx, 1)
}

func (dm *daemonMetrics) recordError(ctx context.Context, stage string) {
	if dm == nil {
		return
	}
	dm.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// recordCleanup counts one cleanup batch and its outcomes by action.
func (dm *daemonMetrics) recordCleanup(ctx context.Context, outcomes []cleanup.Outcome) {
	if dm == nil {
		return
	}
	dm.cleanupsTotal.Add(ctx, 1)
	for action, n := range cleanup.Counts(outcomes) {
		dm.signalsTotal.Add(ctx, int64(n),
			metric.WithAttributes(attribute.String("action", action.String())),
		)
	}
}

// updateScan stores the latest scan totals for the observable gauges.
func (dm *daemonMetrics) updateScan(totalPTYs, processes, leakCandidates int) {
	if dm == nil {
		return
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.totalPTYs = int64(totalPTYs)
	dm.processCount = int64(processes)
	dm.leakCandidates = int64(leakCandidates)
}
