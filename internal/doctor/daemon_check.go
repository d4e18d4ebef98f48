package doctor

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/honkhq/honk/internal/daemon"
	"github.com/honkhq/honk/internal/ui"
)

// DaemonCheck verifies the watchdog daemon is running and its cache is fresh.
type DaemonCheck struct {
	FixableCheck
}

// NewDaemonCheck creates a new daemon check.
func NewDaemonCheck() *DaemonCheck {
	return &DaemonCheck{
		FixableCheck: FixableCheck{
			BaseCheck: BaseCheck{
				CheckName:        "daemon",
				CheckDescription: "Check if the PTY watchdog daemon is running",
				CheckCategory:    CategoryDaemon,
			},
		},
	}
}

// Run reports liveness, then whether the daemon is keeping its cache fresh.
func (c *DaemonCheck) Run(ctx *CheckContext) *CheckResult {
	now := ctx.now()
	st, err := daemon.Status(ctx.Paths, ctx.config().ScanInterval, now)
	if err != nil {
		return &CheckResult{Status: StatusError, Message: "Failed to check daemon status", Details: []string{err.Error()}}
	}
	if !st.Running {
		return &CheckResult{
			Status:  StatusWarning,
			Message: "Daemon is not running",
			FixHint: "Run 'honk pty daemon start' or 'honk doctor --fix'",
		}
	}

	res := &CheckResult{
		Status:  StatusOK,
		Message: fmt.Sprintf("Daemon is running (PID %d)", st.PID),
		Details: stateDetails(st.State, now),
	}
	switch {
	case !st.HasCache:
		res.Status = StatusWarning
		res.Message += ", no cache written yet"
	case st.Stale:
		res.Status = StatusWarning
		res.Message += fmt.Sprintf(", cache is stale (%s old)", ui.RelativeTime(st.CacheAge))
		res.FixHint = "Check 'honk pty daemon logs' or run 'honk pty daemon restart'"
	default:
		res.Message += fmt.Sprintf(", cache %s old", ui.RelativeTime(st.CacheAge))
	}
	return res
}

func stateDetails(s *daemon.State, now time.Time) []string {
	if s == nil || s.StartedAt.IsZero() {
		return nil
	}
	out := []string{
		"Uptime: " + ui.RelativeTime(now.Sub(s.StartedAt)),
		"Cycles: " + strconv.Itoa(s.Cycles),
	}
	if s.LastError != "" {
		out = append(out, "Last error: "+s.LastError)
	}
	return out
}

// Fix starts the daemon when it is down. A running daemon with a stale
// cache is left for the operator.
func (c *DaemonCheck) Fix(ctx *CheckContext) error {
	exe := ctx.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return err
		}
	}
	_, err := daemon.Spawn(ctx.Paths, exe, "pty", "daemon", "run")
	return err
}
