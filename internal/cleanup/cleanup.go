// Package cleanup sends SIGTERM to ranked leak candidates that the safety
// gate cleared, within a per-batch action cap.
package cleanup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/honkhq/honk/internal/leak"
	"github.com/honkhq/honk/internal/logging"
	"github.com/honkhq/honk/internal/safety"
	"github.com/honkhq/honk/internal/telemetry"
)

// Action is what happened to one candidate.
type Action int

const (
	Killed Action = iota + 1
	AlreadyGone
	PermissionDenied
	SkippedUnsafe
	PlannedOnly
	Failed
)

var actionNames = map[Action]string{
	Killed:           "killed",
	AlreadyGone:      "already_gone",
	PermissionDenied: "permission_denied",
	SkippedUnsafe:    "skipped_unsafe",
	PlannedOnly:      "planned_only",
	Failed:           "failed",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return "unknown"
}

// MarshalText renders the action name in JSON output.
func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// Outcome records the action taken for one pid.
type Outcome struct {
	PID    int    `json:"pid"`
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// ErrSafetyGateBypass means a signal was about to reach a process the
// safety gate protects. It is an internal invariant violation.
var ErrSafetyGateBypass = errors.New("safety gate bypass")

// Executor applies outcomes in rank order.
type Executor struct {
	sender SignalSender
	log    *zap.SugaredLogger
	guard  func(pid int, verdicts map[int]safety.Verdict) bool
}

// NewExecutor creates an executor that signals through sender.
func NewExecutor(sender SignalSender, log *zap.SugaredLogger) *Executor {
	return &Executor{sender: sender, log: logging.OrNop(log), guard: cleared}
}

func cleared(pid int, verdicts map[int]safety.Verdict) bool {
	v, ok := verdicts[pid]
	return ok && v.Safe && len(v.Reasons) == 0
}

// Execute walks ranked candidates. Unsafe or unjudged pids are skipped
// without counting toward maxActions; planned and signalled pids count.
// Once maxActions attempts were made the remaining candidates are left
// untouched. A bypass of the final guard aborts that action and is returned
// as ErrSafetyGateBypass alongside the outcomes gathered so far.
func (e *Executor) Execute(ctx context.Context, ranked []leak.Candidate, verdicts map[int]safety.Verdict, maxActions int, planOnly bool) ([]Outcome, error) {
	var (
		outcomes []Outcome
		attempts int
		bypass   error
	)

	for _, c := range ranked {
		if attempts >= maxActions {
			break
		}

		v, ok := verdicts[c.PID]
		if !ok || !v.Safe {
			reason := "no safety verdict"
			if ok {
				reason = reasonList(v.Reasons)
			}
			outcomes = append(outcomes, Outcome{PID: c.PID, Action: SkippedUnsafe, Reason: reason})
			continue
		}

		attempts++
		if planOnly {
			outcomes = append(outcomes, Outcome{PID: c.PID, Action: PlannedOnly, Reason: fmt.Sprintf("rank %d", c.Rank)})
			continue
		}

		if !e.guard(c.PID, verdicts) {
			err := fmt.Errorf("%w: pid %d reached the signal step without clearance", ErrSafetyGateBypass, c.PID)
			e.log.Errorw("refusing to signal", "pid", c.PID, "error", err)
			outcomes = append(outcomes, Outcome{PID: c.PID, Action: Failed, Reason: err.Error()})
			bypass = errors.Join(bypass, err)
			continue
		}

		res := e.sender.Terminate(ctx, c.PID)
		out := Outcome{PID: c.PID, Action: res.action()}
		if res.Err != nil {
			out.Reason = res.Err.Error()
		}
		e.log.Infow("terminate", "pid", c.PID, "rank", c.Rank, "action", out.Action.String())
		telemetry.RecordSignal(ctx, c.PID, out.Action.String(), out.Reason)
		outcomes = append(outcomes, out)
	}

	return outcomes, bypass
}

func reasonList(reasons []safety.Reason) string {
	s := ""
	for i, r := range reasons {
		if i > 0 {
			s += ","
		}
		s += r.String()
	}
	return s
}

// Counts tallies outcomes by action.
func Counts(outcomes []Outcome) map[Action]int {
	out := make(map[Action]int)
	for _, o := range outcomes {
		out[o.Action]++
	}
	return out
}
