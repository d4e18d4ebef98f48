package doctor

import (
	"fmt"
	"io"
	"time"

	"github.com/honkhq/honk/internal/ui"
)

// Doctor holds an ordered set of checks.
type Doctor struct {
	checks []Check
}

// NewDoctor returns a doctor with nothing registered.
func NewDoctor() *Doctor {
	return &Doctor{}
}

// Default returns a doctor with the source, PTY and daemon checks.
func Default() *Doctor {
	d := NewDoctor()
	d.RegisterAll(NewSourceCheck(), NewPTYUsageCheck(), NewLeakCheck(), NewDaemonCheck())
	return d
}

func (d *Doctor) Register(c Check) { d.checks = append(d.checks, c) }

func (d *Doctor) RegisterAll(cs ...Check) { d.checks = append(d.checks, cs...) }

// Checks returns the registered checks in registration order.
func (d *Doctor) Checks() []Check { return d.checks }

// Run executes every check silently.
func (d *Doctor) Run(ctx *CheckContext) *Report {
	return d.RunStreaming(ctx, nil, 0, true)
}

// RunStreaming executes every check and reports progress to w as it goes.
// On a terminal each line is drawn as pending and then overwritten with the
// result; otherwise one PASS/WARN/FAIL line is written per check. Checks
// slower than slow (when positive) are flagged.
func (d *Doctor) RunStreaming(ctx *CheckContext, w io.Writer, slow time.Duration, isTTY bool) *Report {
	return d.walk(ctx, progress{w: w, tty: isTTY, slow: slow}, false)
}

// Fix is Run, except that failing fixable checks are repaired and re-run.
func (d *Doctor) Fix(ctx *CheckContext) *Report {
	return d.FixStreaming(ctx, nil, 0, true)
}

// FixStreaming is Fix with RunStreaming's progress output.
func (d *Doctor) FixStreaming(ctx *CheckContext, w io.Writer, slow time.Duration, isTTY bool) *Report {
	return d.walk(ctx, progress{w: w, tty: isTTY, slow: slow}, true)
}

func (d *Doctor) walk(ctx *CheckContext, p progress, fix bool) *Report {
	report := NewReport()
	for _, c := range d.checks {
		p.pending(c.Name())
		began := time.Now()

		res := evaluate(ctx, c)
		if fix && res.Status != StatusOK && c.CanFix() {
			p.fixing(res.Status, c.Name())
			res = repair(ctx, c, res)
		}
		res.Elapsed = time.Since(began)

		slow := p.isSlow(res.Elapsed)
		if slow {
			report.Summary.Slow++
		}
		p.done(res, slow)
		report.Add(res)
	}
	return report
}

// evaluate runs c and fills in the name and category it left blank.
func evaluate(ctx *CheckContext, c Check) *CheckResult {
	res := c.Run(ctx)
	if res.Name == "" {
		res.Name = c.Name()
	}
	if res.Category == "" {
		res.Category = c.Category()
	}
	return res
}

// repair applies c's fix and re-evaluates. A failed fix keeps the original
// result with the error appended to its details.
func repair(ctx *CheckContext, c Check, before *CheckResult) *CheckResult {
	if err := c.Fix(ctx); err != nil {
		before.Details = append(before.Details, "Fix failed: "+err.Error())
		return before
	}
	after := evaluate(ctx, c)
	if after.Status == StatusOK {
		after.Message += " (fixed)"
		after.Fixed = true
	}
	return after
}

// progress writes per-check lines while the doctor runs. A nil writer
// discards everything.
type progress struct {
	w    io.Writer
	tty  bool
	slow time.Duration
}

func (p progress) isSlow(d time.Duration) bool {
	return p.slow > 0 && d >= p.slow
}

func (p progress) pending(name string) {
	if p.w != nil && p.tty {
		_, _ = fmt.Fprintf(p.w, "  %s  %s...", ui.RenderMuted("○"), name)
	}
}

func (p progress) fixing(s CheckStatus, name string) {
	if p.w != nil && p.tty {
		_, _ = fmt.Fprintf(p.w, "\r  %s  %s%s", statusIcon(s), name, ui.RenderMuted(" (fixing)..."))
	}
}

func (p progress) done(res *CheckResult, slow bool) {
	if p.w == nil {
		return
	}
	var line string
	if p.tty {
		line = p.ttyLine(res, slow)
	} else {
		line = p.plainLine(res, slow)
	}
	_, _ = fmt.Fprintln(p.w, line)
}

func (p progress) plainLine(res *CheckResult, slow bool) string {
	tag := "PASS"
	switch {
	case res.Fixed:
		tag = "FIXED"
	case res.Status == StatusWarning:
		tag = "WARN"
	case res.Status == StatusError:
		tag = "FAIL"
	}
	line := tag + "  " + res.Name
	if res.Message != "" {
		line += "  " + res.Message
	}
	if slow {
		line += "  (" + formatDuration(res.Elapsed) + ")"
	}
	return line
}

func (p progress) ttyLine(res *CheckResult, slow bool) string {
	icon, mark := statusIcon(res.Status), "  "
	if res.Fixed {
		icon = ui.RenderFixIcon()
	}
	if slow {
		mark = "⏳"
	}
	line := "\r  " + icon + mark + res.Name
	if res.Message != "" {
		line += ui.RenderMuted(" " + res.Message)
	}
	if slow {
		line += ui.RenderMuted(" (" + formatDuration(res.Elapsed) + ")")
	}
	return line
}

func formatDuration(d time.Duration) string {
	if d >= time.Second {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

// BaseCheck supplies the identity methods of Check. Embedders that cannot
// repair anything inherit CanFix false and a Fix returning ErrCannotFix.
type BaseCheck struct {
	CheckName        string
	CheckDescription string
	CheckCategory    string
}

func (b *BaseCheck) Name() string        { return b.CheckName }
func (b *BaseCheck) Description() string { return b.CheckDescription }
func (b *BaseCheck) Category() string    { return b.CheckCategory }
func (b *BaseCheck) CanFix() bool        { return false }

func (b *BaseCheck) Fix(*CheckContext) error { return ErrCannotFix }

// FixableCheck is BaseCheck for checks that implement their own Fix.
type FixableCheck struct {
	BaseCheck
}

func (f *FixableCheck) CanFix() bool { return true }
