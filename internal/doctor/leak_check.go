package doctor

import (
	"errors"
	"fmt"
	"os"

	"github.com/honkhq/honk/internal/cache"
	"github.com/honkhq/honk/internal/ui"
)

// maxLeakDetails caps how many candidates a result lists.
const maxLeakDetails = 5

// LeakCheck reports heavy PTY users and leak candidates, from a live scan
// when a pipeline is available and from the daemon cache otherwise.
type LeakCheck struct {
	BaseCheck
}

// NewLeakCheck creates a new leak candidate check.
func NewLeakCheck() *LeakCheck {
	return &LeakCheck{
		BaseCheck: BaseCheck{
			CheckName:        "pty-leaks",
			CheckDescription: "Check for processes holding more PTYs than expected",
			CheckCategory:    CategoryPTY,
		},
	}
}

// Run reports the classified holders, largest first.
func (c *LeakCheck) Run(ctx *CheckContext) *CheckResult {
	heavy, leaks, source, err := c.collect(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &CheckResult{
				Name:    c.Name(),
				Status:  StatusWarning,
				Message: "No scan data",
				FixHint: "Run 'honk pty show' or start the daemon",
			}
		}
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "Could not classify PTY holders",
			Details: []string{err.Error()},
		}
	}

	res := &CheckResult{Name: c.Name(), Status: StatusOK}
	switch {
	case len(leaks) > 0:
		res.Status = StatusWarning
		res.Message = fmt.Sprintf("%d leak candidates, %d heavy users (%s)", len(leaks), len(heavy), source)
		res.FixHint = "Run 'honk pty clean --plan' to review what would be terminated"
	case len(heavy) > 0:
		res.Message = fmt.Sprintf("%d heavy users, no leak candidates (%s)", len(heavy), source)
	default:
		res.Message = fmt.Sprintf("No heavy users (%s)", source)
	}
	for i, e := range leaks {
		if i == maxLeakDetails {
			res.Details = append(res.Details, fmt.Sprintf("... and %d more", len(leaks)-maxLeakDetails))
			break
		}
		res.Details = append(res.Details, fmt.Sprintf("PID %d %s: %d PTYs", e.PID, e.Command, e.PTYCount))
	}
	return res
}

func (c *LeakCheck) collect(ctx *CheckContext) (heavy, leaks []cache.Process, source string, err error) {
	if ctx.Pipeline != nil {
		a, err := ctx.Pipeline.Assess(ctx.context())
		if err != nil {
			return nil, nil, "", err
		}
		f := cache.Build(a.Snapshot, a.Leaks, nil, nil)
		return f.HeavyUsers, f.SuspectedLeaks, "live scan", nil
	}

	f, err := cache.Load(ctx.Paths.Cache)
	if err != nil {
		return nil, nil, "", err
	}
	age := ui.RelativeTime(f.Age(ctx.now()))
	return f.HeavyUsers, f.SuspectedLeaks, "cache, " + age + " old", nil
}
