// Package daemon runs the PTY watchdog loop: scan, evaluate, clean up when
// the PTY total passes max_ptys, persist the cache, emit events, sleep.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/honkhq/honk/internal/cache"
	"github.com/honkhq/honk/internal/cleanup"
	"github.com/honkhq/honk/internal/clock"
	"github.com/honkhq/honk/internal/config"
	"github.com/honkhq/honk/internal/events"
	"github.com/honkhq/honk/internal/leak"
	"github.com/honkhq/honk/internal/logging"
	"github.com/honkhq/honk/internal/watchdog"
)

// Phase is where the loop currently is.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhaseEvaluating
	PhaseCleaningUp
	PhasePersisting
	PhaseSleeping
	PhaseShuttingDown
)

var phaseNames = [...]string{"idle", "scanning", "evaluating", "cleaning_up", "persisting", "sleeping", "shutting_down"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// errLoopActive is returned when Run is called on a daemon that is already looping.
var errLoopActive = errors.New("watch loop already active on this daemon")

// Options configures a Daemon.
type Options struct {
	Config   *config.Config
	Paths    config.Paths
	Pipeline *watchdog.Pipeline
	// Events receives the NDJSON stream. Nil writes to Paths.Events.
	Events events.Emitter
	Clock  clock.Clock
	Log    *zap.SugaredLogger
}

// Summary is reported when the loop exits.
type Summary struct {
	Cycles    int `json:"cycles"`
	Cleanups  int `json:"cleanups"`
	Signalled int `json:"signalled"`
}

// CycleResult is what one cycle did.
type CycleResult struct {
	Assessment *watchdog.Assessment
	Over       bool
	Outcomes   []cleanup.Outcome
	Persisted  bool
}

// Daemon is the watchdog loop. One instance runs at most one cycle at a time.
type Daemon struct {
	paths    config.Paths
	pipeline *watchdog.Pipeline
	emitter  events.Emitter
	clock    clock.Clock
	log      *zap.SugaredLogger
	metrics  *daemonMetrics
	tracker  *cache.Tracker

	cfg     atomic.Pointer[config.Config]
	pending atomic.Pointer[config.Config]

	phase   atomic.Int32
	looping atomic.Bool
	flight  singleflight.Group

	mu      sync.Mutex
	state   State
	summary Summary
}

// New creates a daemon. It does not touch the lock or PID file; see Serve.
func New(opts Options) (*Daemon, error) {
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("daemon needs a pipeline")
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Events == nil {
		opts.Events = events.NewFileLog(opts.Paths.Events)
	}
	log := logging.OrNop(opts.Log)

	metrics, err := newDaemonMetrics()
	if err != nil {
		log.Warnf("metrics disabled: %v", err)
		metrics = nil
	}

	d := &Daemon{
		paths:    opts.Paths,
		pipeline: opts.Pipeline,
		emitter:  opts.Events,
		clock:    opts.Clock,
		log:      log,
		metrics:  metrics,
		tracker:  cache.NewTracker(),
	}
	d.cfg.Store(opts.Config.Clone())
	return d, nil
}

// Config returns the configuration the next cycle will use.
func (d *Daemon) Config() *config.Config { return d.cfg.Load() }

// Phase returns the current phase.
func (d *Daemon) Phase() Phase { return Phase(d.phase.Load()) }

func (d *Daemon) setPhase(p Phase) {
	d.phase.Store(int32(p))
	d.log.Debugf("phase %s", p)
}

// Reload queues cfg for the next cycle boundary.
func (d *Daemon) Reload(cfg *config.Config) {
	d.pending.Store(cfg.Clone())
}

// Summary returns the counters so far.
func (d *Daemon) Summary() Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.summary
}

func (d *Daemon) applyPending() {
	cfg := d.pending.Swap(nil)
	if cfg == nil {
		return
	}
	if err := d.pipeline.Reconfigure(cfg); err != nil {
		d.log.Warnf("ignoring reloaded config: %v", err)
		return
	}
	d.cfg.Store(cfg)
	d.log.Infof("config reloaded: interval %v, max_ptys %d, max_actions %d, plan_only %v",
		cfg.ScanInterval, cfg.MaxPTYs, cfg.MaxActions, cfg.PlanOnly)
}

// Run loops until ctx is cancelled. Cancellation is honored between phases
// and during sleep; a started cleanup batch always completes. A safety gate
// bypass stops the loop and is returned.
func (d *Daemon) Run(ctx context.Context) (Summary, error) {
	if !d.looping.CompareAndSwap(false, true) {
		return Summary{}, errLoopActive
	}
	defer d.looping.Store(false)
	defer d.setPhase(PhaseIdle)

	d.resume()

	d.mu.Lock()
	d.state = State{Running: true, PID: os.Getpid(), StartedAt: d.clock.Now()}
	d.mu.Unlock()
	d.saveState()

	cfg := d.Config()
	d.log.Infof("watchdog running (PID %d), interval %v, max_ptys %d", os.Getpid(), cfg.ScanInterval, cfg.MaxPTYs)

	var fatal error
loop:
	for ctx.Err() == nil {
		if _, err := d.Cycle(ctx); errors.Is(err, cleanup.ErrSafetyGateBypass) {
			fatal = err
			break
		}
		if ctx.Err() != nil {
			break
		}

		d.setPhase(PhaseSleeping)
		select {
		case <-ctx.Done():
			break loop
		case <-d.clock.After(d.Config().ScanInterval):
		}
	}

	d.setPhase(PhaseShuttingDown)
	summary := d.Summary()
	d.log.Infof("watchdog stopping: %d cycles, %d cleanups, %d processes signalled",
		summary.Cycles, summary.Cleanups, summary.Signalled)

	d.mu.Lock()
	d.state.Running = false
	d.mu.Unlock()
	d.saveState()

	return summary, fatal
}

// resume seeds first-seen tracking and scan numbering from the last cache.
func (d *Daemon) resume() {
	prev, err := cache.Load(d.paths.Cache)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			d.log.Warnf("ignoring previous cache: %v", err)
		}
		return
	}
	d.tracker.Seed(prev)
	d.pipeline.Resume(prev.ScanNumber)
}

// Cycle applies any queued config and runs one scan-to-persist pass.
// Concurrent callers share the in-flight cycle instead of starting another.
func (d *Daemon) Cycle(ctx context.Context) (*CycleResult, error) {
	v, err, _ := d.flight.Do("cycle", func() (interface{}, error) {
		d.applyPending()
		return d.cycle(ctx)
	})
	res, _ := v.(*CycleResult)
	return res, err
}

func (d *Daemon) cycle(ctx context.Context) (*CycleResult, error) {
	cfg := d.Config()
	d.metrics.recordCycle(ctx)
	d.mu.Lock()
	d.summary.Cycles++
	d.state.Cycles = d.summary.Cycles
	d.mu.Unlock()

	d.setPhase(PhaseScanning)
	snap, err := d.pipeline.Scan(ctx)
	if err != nil {
		return nil, d.fail(ctx, "scan", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	d.setPhase(PhaseEvaluating)
	caller, err := d.pipeline.Caller(ctx)
	if err != nil {
		return nil, d.fail(ctx, "lineage", err)
	}
	a := d.pipeline.Evaluate(snap, caller)
	res := &CycleResult{Assessment: a, Over: watchdog.Over(snap, cfg.MaxPTYs)}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	var bypass error
	if res.Over {
		d.setPhase(PhaseCleaningUp)
		d.log.Warnf("PTY total %d exceeds max %d, cleaning up %d candidates (max %d actions)",
			snap.TotalPTYs(), cfg.MaxPTYs, len(a.Ranked), cfg.MaxActions)
		res.Outcomes, bypass = d.pipeline.Cleanup(context.WithoutCancel(ctx), a, cfg.MaxActions, cfg.PlanOnly)
		d.metrics.recordCleanup(ctx, res.Outcomes)
		if bypass != nil {
			d.log.Errorf("cleanup aborted: %v", bypass)
		}
	}

	d.setPhase(PhasePersisting)
	signalled := watchdog.Signalled(res.Outcomes)
	file := cache.Build(snap, a.Leaks, d.tracker.Observe(snap), signalled)
	if err := cache.Write(d.paths.Cache, file); err != nil {
		d.recordError(ctx, "persist", err)
	} else {
		res.Persisted = true
	}

	d.emit(events.Scan(snap.TakenAt(), snap.ScanNumber(), snap.TotalPTYs(), snap.ProcessCount()))
	if res.Over {
		d.emit(events.ThresholdExceeded(snap.TakenAt(), snap.ScanNumber(), snap.TotalPTYs(), cfg.MaxPTYs))
		d.emit(events.CleanupStarted(snap.TakenAt(), snap.ScanNumber(), len(a.Ranked), cfg.PlanOnly))
		d.emit(events.CleanupCompleted(d.clock.Now(), snap.ScanNumber(),
			len(signalled), watchdog.FreedPTYs(snap, res.Outcomes), cfg.PlanOnly))
	}

	leaks := 0
	for _, v := range a.Leaks {
		if v.Category == leak.LeakCandidate {
			leaks++
		}
	}
	d.metrics.updateScan(snap.TotalPTYs(), snap.ProcessCount(), leaks)

	d.mu.Lock()
	if res.Over {
		d.summary.Cleanups++
	}
	d.summary.Signalled += len(signalled)
	d.state.Cleanups = d.summary.Cleanups
	d.state.Signalled = d.summary.Signalled
	d.state.LastCycle = snap.TakenAt()
	d.state.LastScanNumber = snap.ScanNumber()
	d.state.LastTotalPTYs = snap.TotalPTYs()
	if res.Persisted && bypass == nil {
		d.state.LastError = ""
		d.state.LastErrorAt = time.Time{}
	}
	if bypass != nil {
		d.state.LastError = bypass.Error()
		d.state.LastErrorAt = d.clock.Now()
	}
	d.mu.Unlock()
	d.saveState()

	return res, bypass
}

// fail records a cycle that produced no snapshot. The loop retries at the
// next interval.
func (d *Daemon) fail(ctx context.Context, stage string, err error) error {
	d.recordError(ctx, stage, err)
	d.saveState()
	return err
}

func (d *Daemon) recordError(ctx context.Context, stage string, err error) {
	d.log.Errorf("%s failed: %v", stage, err)
	d.metrics.recordError(ctx, stage)
	d.mu.Lock()
	d.state.LastError = fmt.Sprintf("%s: %v", stage, err)
	d.state.LastErrorAt = d.clock.Now()
	d.mu.Unlock()
}

func (d *Daemon) emit(e events.Event) {
	if err := d.emitter.Emit(e); err != nil {
		d.log.Warnf("emitting %s event: %v", e.Type, err)
	}
}

func (d *Daemon) saveState() {
	d.mu.Lock()
	s := d.state
	d.mu.Unlock()
	if d.paths.StateFile == "" {
		return
	}
	if err := SaveState(d.paths.StateFile, &s); err != nil {
		d.log.Warnf("failed to save state: %v", err)
	}
}
