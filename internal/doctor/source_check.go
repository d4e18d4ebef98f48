package doctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/honkhq/honk/internal/ptyscan"
)

// sourceProbeTimeout bounds the probe query.
const sourceProbeTimeout = 15 * time.Second

// SourceCheck verifies the configured process source can enumerate PTY
// holders.
type SourceCheck struct {
	BaseCheck
}

// NewSourceCheck creates a new process source check.
func NewSourceCheck() *SourceCheck {
	return &SourceCheck{
		BaseCheck: BaseCheck{
			CheckName:        "process-source",
			CheckDescription: "Check that PTY holders can be enumerated",
			CheckCategory:    CategorySource,
		},
	}
}

// Run queries the source once.
func (c *SourceCheck) Run(ctx *CheckContext) *CheckResult {
	src := ctx.Source
	if src == nil {
		s, err := ptyscan.NewSource(ctx.config(), nil)
		if err != nil {
			return sourceFailure(err)
		}
		src = s
	}

	qctx, cancel := context.WithTimeout(ctx.context(), sourceProbeTimeout)
	defer cancel()
	rows, err := src.Query(qctx)
	if err != nil {
		return sourceFailure(err)
	}

	holders := ptyscan.Merge(rows)
	total := 0
	for _, r := range holders {
		total += r.PTYCount()
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: fmt.Sprintf("%s: %d processes hold %d PTYs", src.Name(), len(holders), total),
	}
}

func sourceFailure(err error) *CheckResult {
	res := &CheckResult{
		Status:  StatusError,
		Message: "Process source unavailable",
		Details: []string{err.Error()},
	}
	var ue *ptyscan.UnavailableError
	if errors.As(err, &ue) && ue.Remedy != "" {
		res.FixHint = ue.Remedy
	}
	return res
}
