package doctor

import (
	"fmt"
)

// Utilization levels for the host PTY budget.
const (
	ptyWarnPercent  = 80
	ptyErrorPercent = 95
)

// PTYLimits is the host's pseudo-terminal usage against its kernel limit.
type PTYLimits struct {
	InUse int
	Max   int
}

// Percent returns InUse as a percentage of Max, or 0 when Max is unknown.
func (l PTYLimits) Percent() float64 {
	if l.Max <= 0 {
		return 0
	}
	return float64(l.InUse) * 100 / float64(l.Max)
}

// PTYUsageCheck compares allocated PTYs against the kernel limit.
type PTYUsageCheck struct {
	BaseCheck
	// Read returns the current limits. Defaults to ReadPTYLimits.
	Read func() (PTYLimits, error)
}

// NewPTYUsageCheck creates a new PTY utilization check.
func NewPTYUsageCheck() *PTYUsageCheck {
	return &PTYUsageCheck{
		BaseCheck: BaseCheck{
			CheckName:        "pty-usage",
			CheckDescription: "Check PTY allocation against the kernel limit",
			CheckCategory:    CategoryPTY,
		},
		Read: ReadPTYLimits,
	}
}

// Run reads the limits and grades utilization.
func (c *PTYUsageCheck) Run(ctx *CheckContext) *CheckResult {
	lim, err := c.Read()
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "Could not read PTY limits",
			Details: []string{err.Error()},
		}
	}

	pct := lim.Percent()
	res := &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: fmt.Sprintf("%d of %d PTYs in use (%.0f%%)", lim.InUse, lim.Max, pct),
	}
	switch {
	case pct >= ptyErrorPercent:
		res.Status = StatusError
		res.FixHint = "New terminals will fail soon. Run 'honk pty clean --plan' to review candidates"
	case pct >= ptyWarnPercent:
		res.Status = StatusWarning
		res.FixHint = "Run 'honk pty show' to find the heaviest holders"
	}
	return res
}
