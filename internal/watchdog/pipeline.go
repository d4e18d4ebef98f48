// Package watchdog wires the scan, safety, classification, ranking and
// cleanup stages into one pass over a consistent snapshot.
package watchdog

import (
	"context"
	"fmt"
	"os"
	"slices"

	"go.uber.org/zap"

	"github.com/honkhq/honk/internal/cleanup"
	"github.com/honkhq/honk/internal/clock"
	"github.com/honkhq/honk/internal/config"
	"github.com/honkhq/honk/internal/leak"
	"github.com/honkhq/honk/internal/logging"
	"github.com/honkhq/honk/internal/ptyscan"
	"github.com/honkhq/honk/internal/safety"
)

// Deps are the collaborators a pipeline talks to.
type Deps struct {
	Source  ptyscan.Source
	Lineage ptyscan.Lineage
	Sender  cleanup.SignalSender
	Clock   clock.Clock
	Log     *zap.SugaredLogger

	// Self is the caller's pid and uid; zero values mean this process.
	SelfPID int
	SelfUID *int
}

// Pipeline runs one assessment and optional cleanup.
type Pipeline struct {
	scanner   *ptyscan.Scanner
	lineage   ptyscan.Lineage
	evaluator *safety.Evaluator
	patterns  leak.PatternTable
	ranker    *leak.Ranker
	executor  *cleanup.Executor
	selfPID   int
	selfUID   int
	log       *zap.SugaredLogger
}

// Assessment is everything decided about one snapshot.
type Assessment struct {
	Snapshot *ptyscan.Snapshot
	Safety   map[int]safety.Verdict
	Leaks    map[int]leak.Verdict
	Ranked   []leak.Candidate
	// Zombies are defunct PTY holders. They are reported for reaping by
	// their parent and never reach the executor.
	Zombies []int
}

// New builds a pipeline from cfg.
func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("pipeline needs a process source")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Sender == nil {
		deps.Sender = cleanup.UnixSender{}
	}
	if deps.SelfPID == 0 {
		deps.SelfPID = os.Getpid()
	}
	uid := os.Getuid()
	if deps.SelfUID != nil {
		uid = *deps.SelfUID
	}

	p := &Pipeline{
		scanner: ptyscan.NewScanner(deps.Source, deps.Clock),
		lineage: deps.Lineage,
		selfPID: deps.SelfPID,
		selfUID: uid,
		log:     logging.OrNop(deps.Log),
	}
	p.executor = cleanup.NewExecutor(deps.Sender, p.log)
	if err := p.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Reconfigure swaps thresholds and weights. Scan numbering is kept.
func (p *Pipeline) Reconfigure(cfg *config.Config) error {
	table, err := leak.NewPatternTable(cfg.Classifier)
	if err != nil {
		return err
	}
	policy := safety.Policy(cfg.Safety)
	p.patterns = table
	p.evaluator = safety.NewEvaluator(policy)
	p.ranker = leak.NewRanker(leak.WeightsFromConfig(cfg.Ranking), policy)
	return nil
}

// Resume continues scan numbering after n.
func (p *Pipeline) Resume(n int64) { p.scanner.Resume(n) }

// Caller resolves this process and its ancestors. A lineage failure is
// reported as ErrToolUnavailable: without ancestry nothing may be signalled.
func (p *Pipeline) Caller(ctx context.Context) (safety.Caller, error) {
	var ancestors []int
	if p.lineage != nil {
		var err error
		ancestors, err = p.lineage.Ancestors(ctx, p.selfPID)
		if err != nil {
			return safety.Caller{}, &ptyscan.UnavailableError{
				Tool:   "process lineage",
				Remedy: "ensure ps or /proc is readable",
				Err:    err,
			}
		}
	}
	return safety.NewCaller(p.selfPID, p.selfUID, ancestors), nil
}

// Scan queries the source once.
func (p *Pipeline) Scan(ctx context.Context) (*ptyscan.Snapshot, error) {
	return p.scanner.Scan(ctx)
}

// Assess scans once and evaluates every record.
func (p *Pipeline) Assess(ctx context.Context) (*Assessment, error) {
	snap, err := p.Scan(ctx)
	if err != nil {
		return nil, err
	}
	caller, err := p.Caller(ctx)
	if err != nil {
		return nil, err
	}
	return p.Evaluate(snap, caller), nil
}

// Evaluate runs safety, classification and ranking over snap.
func (p *Pipeline) Evaluate(snap *ptyscan.Snapshot, caller safety.Caller) *Assessment {
	a := &Assessment{
		Snapshot: snap,
		Safety:   p.evaluator.EvaluateAll(snap, caller),
		Leaks:    leak.ClassifyAll(snap, p.patterns),
	}

	var rankable []leak.Verdict
	for _, pid := range snap.PIDs() {
		rec, _ := snap.Get(pid)
		if rec.Zombie {
			a.Zombies = append(a.Zombies, pid)
			continue
		}
		if v := a.Leaks[pid]; v.Category != leak.Normal {
			rankable = append(rankable, v)
		}
	}
	a.Ranked = p.ranker.Rank(rankable, snap)

	p.log.Debugw("assessed", "scan", snap.ScanNumber(), "total_ptys", snap.TotalPTYs(),
		"processes", snap.ProcessCount(), "ranked", len(a.Ranked), "zombies", len(a.Zombies))
	return a
}

// Cleanup runs the executor over the ranked candidates.
func (p *Pipeline) Cleanup(ctx context.Context, a *Assessment, maxActions int, planOnly bool) ([]cleanup.Outcome, error) {
	return p.executor.Execute(ctx, a.Ranked, a.Safety, maxActions, planOnly)
}

// Over reports whether the snapshot breaches max. A max of zero never does.
func Over(snap *ptyscan.Snapshot, maxPTYs int) bool {
	return maxPTYs > 0 && snap.TotalPTYs() > maxPTYs
}

// Signalled returns the pids that received SIGTERM or were already gone.
func Signalled(outcomes []cleanup.Outcome) []int {
	var pids []int
	for _, o := range outcomes {
		if o.Action == cleanup.Killed || o.Action == cleanup.AlreadyGone {
			pids = append(pids, o.PID)
		}
	}
	slices.Sort(pids)
	return pids
}

// FreedPTYs sums the PTYs held by Killed and AlreadyGone pids.
func FreedPTYs(snap *ptyscan.Snapshot, outcomes []cleanup.Outcome) int {
	n := 0
	for _, pid := range Signalled(outcomes) {
		if rec, ok := snap.Get(pid); ok {
			n += rec.PTYCount()
		}
	}
	return n
}
