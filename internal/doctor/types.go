// Package doctor runs health checks on the PTY watchdog and the host's
// pseudo-terminal budget.
package doctor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/honkhq/honk/internal/config"
	"github.com/honkhq/honk/internal/ptyscan"
	"github.com/honkhq/honk/internal/ui"
	"github.com/honkhq/honk/internal/watchdog"
)

// Display categories.
const (
	CategorySource = "Process source"
	CategoryPTY    = "PTY"
	CategoryDaemon = "Daemon"
)

// CategoryOrder is the order categories are printed in.
var CategoryOrder = []string{
	CategorySource,
	CategoryPTY,
	CategoryDaemon,
}

// ErrCannotFix is returned by Fix on checks that have no automatic remedy.
var ErrCannotFix = errors.New("check does not support auto-fix")

// CheckStatus is the outcome of a check.
type CheckStatus int

// Statuses order by severity.
const (
	StatusOK CheckStatus = iota
	StatusWarning
	StatusError
)

// String returns a human-readable status.
func (s CheckStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "Warning"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// MarshalText renders the status in JSON reports.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckContext carries what checks need from the caller. Zero fields fall
// back to defaults.
type CheckContext struct {
	Ctx     context.Context
	Config  *config.Config
	Paths   config.Paths
	Verbose bool
	// Now is the reference time for freshness checks. Zero means time.Now.
	Now time.Time
	// Executable is the honk binary Fix uses to start the daemon.
	Executable string
	// Source overrides the configured process source.
	Source ptyscan.Source
	// Pipeline, when set, lets checks run a live assessment instead of
	// reading the cache.
	Pipeline *watchdog.Pipeline
}

func (ctx *CheckContext) context() context.Context {
	if ctx.Ctx == nil {
		return context.Background()
	}
	return ctx.Ctx
}

func (ctx *CheckContext) now() time.Time {
	if ctx.Now.IsZero() {
		return time.Now()
	}
	return ctx.Now
}

func (ctx *CheckContext) config() *config.Config {
	if ctx.Config == nil {
		return config.Default()
	}
	return ctx.Config
}

// CheckResult is what one check reports.
type CheckResult struct {
	Name     string        `json:"name"`
	Status   CheckStatus   `json:"status"`
	Message  string        `json:"message,omitempty"`
	Details  []string      `json:"details,omitempty"`
	FixHint  string        `json:"fix_hint,omitempty"`
	Category string        `json:"category,omitempty"`
	Fixed    bool          `json:"fixed,omitempty"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// Check is one diagnostic. Fix is only called when CanFix is true.
type Check interface {
	Name() string
	Description() string
	Category() string
	Run(ctx *CheckContext) *CheckResult
	Fix(ctx *CheckContext) error
	CanFix() bool
}

// ReportSummary counts results by outcome.
type ReportSummary struct {
	Total    int `json:"total"`
	OK       int `json:"ok"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
	Fixed    int `json:"fixed"`
	Slow     int `json:"slow"`
}

// Report is the outcome of one doctor run.
type Report struct {
	Timestamp time.Time      `json:"timestamp"`
	Checks    []*CheckResult `json:"checks"`
	Summary   ReportSummary  `json:"summary"`
}

// NewReport starts an empty report stamped with the current time.
func NewReport() *Report {
	return &Report{Timestamp: time.Now(), Checks: []*CheckResult{}}
}

// Add appends res and tallies it.
func (r *Report) Add(res *CheckResult) {
	r.Checks = append(r.Checks, res)
	s := &r.Summary
	s.Total++
	switch res.Status {
	case StatusOK:
		s.OK++
	case StatusWarning:
		s.Warnings++
	case StatusError:
		s.Errors++
	}
	if res.Fixed {
		s.Fixed++
	}
}

func (r *Report) HasErrors() bool   { return r.Summary.Errors > 0 }
func (r *Report) HasWarnings() bool { return r.Summary.Warnings > 0 }

// IsHealthy reports whether nothing warned or failed.
func (r *Report) IsHealthy() bool { return !r.HasErrors() && !r.HasWarnings() }

const otherCategory = "Other"

// Print writes the results grouped under category headings, a tally line,
// and then the problems (errors before warnings) with their fix hints.
// Details of passing checks are shown only when verbose.
func (r *Report) Print(w io.Writer, verbose bool) {
	groups := make(map[string][]*CheckResult, len(CategoryOrder)+1)
	for _, res := range r.Checks {
		groups[displayCategory(res.Category)] = append(groups[displayCategory(res.Category)], res)
	}

	_, _ = fmt.Fprintln(w)
	var problems []*CheckResult
	for _, cat := range append(slices.Clone(CategoryOrder), otherCategory) {
		if len(groups[cat]) == 0 {
			continue
		}
		_, _ = fmt.Fprintln(w, ui.RenderCategory(cat))
		for _, res := range groups[cat] {
			printResult(w, res, verbose || res.Status != StatusOK)
			if res.Status != StatusOK {
				problems = append(problems, res)
			}
		}
		_, _ = fmt.Fprintln(w)
	}

	_, _ = fmt.Fprintln(w, ui.RenderSeparator(40))
	_, _ = fmt.Fprintln(w, r.tally())
	_, _ = fmt.Fprintln(w)
	printProblems(w, problems)
}

func displayCategory(cat string) string {
	if slices.Contains(CategoryOrder, cat) {
		return cat
	}
	return otherCategory
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusError:
		return ui.RenderFailIcon()
	case StatusWarning:
		return ui.RenderWarnIcon()
	}
	return ui.RenderPassIcon()
}

func printResult(w io.Writer, res *CheckResult, withDetails bool) {
	line := "  " + statusIcon(res.Status) + "  " + res.Name
	if res.Message != "" {
		line += ui.RenderMuted(" " + res.Message)
	}
	_, _ = fmt.Fprintln(w, line)
	if !withDetails {
		return
	}
	for _, d := range res.Details {
		_, _ = fmt.Fprintf(w, "     %s%s\n", ui.MutedStyle.Render(ui.TreeLast), ui.RenderMuted(d))
	}
}

func (r *Report) tally() string {
	s := r.Summary
	out := fmt.Sprintf("%s %d passed  %s %d warnings  %s %d failed",
		ui.RenderPassIcon(), s.OK, ui.RenderWarnIcon(), s.Warnings, ui.RenderFailIcon(), s.Errors)
	if s.Fixed > 0 {
		out += fmt.Sprintf("  %s %d fixed", ui.RenderFixIcon(), s.Fixed)
	}
	return out
}

func printProblems(w io.Writer, problems []*CheckResult) {
	if len(problems) == 0 {
		_, _ = fmt.Fprintln(w, ui.RenderPass(ui.IconPass+" All checks passed"))
		return
	}
	_, _ = fmt.Fprintln(w, ui.RenderWarn(ui.IconWarn+"  WARNINGS"))
	slices.SortStableFunc(problems, func(a, b *CheckResult) int {
		return cmp.Compare(b.Status, a.Status)
	})
	for i, res := range problems {
		num := strconv.Itoa(i+1) + "."
		text := res.Name + ": " + res.Message
		if res.Status == StatusError {
			_, _ = fmt.Fprintf(w, "  %s  %s %s\n", ui.RenderFailIcon(), ui.RenderFail(num), ui.RenderFail(text))
		} else {
			_, _ = fmt.Fprintf(w, "  %s  %s %s\n", ui.RenderWarnIcon(), ui.RenderWarn(num), text)
		}
		if res.FixHint != "" {
			_, _ = fmt.Fprintf(w, "        %s%s\n", ui.MutedStyle.Render(ui.TreeLast), res.FixHint)
		}
	}
}
