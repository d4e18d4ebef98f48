package doctor

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCheck is a test check that can be configured to return any status.
type mockCheck struct {
	BaseCheck
	status   CheckStatus
	fixable  bool
	fixError error
	fixCount int
}

func newMockCheck(name string, status CheckStatus) *mockCheck {
	return &mockCheck{
		BaseCheck: BaseCheck{
			CheckName:        name,
			CheckDescription: "Test check: " + name,
			CheckCategory:    CategoryPTY,
		},
		status: status,
	}
}

func (m *mockCheck) Run(ctx *CheckContext) *CheckResult {
	return &CheckResult{
		Status:  m.status,
		Message: "mock result",
	}
}

func (m *mockCheck) CanFix() bool {
	return m.fixable
}

func (m *mockCheck) Fix(ctx *CheckContext) error {
	m.fixCount++
	if m.fixError != nil {
		return m.fixError
	}
	m.status = StatusOK
	return nil
}

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusOK, "OK"},
		{StatusWarning, "Warning"},
		{StatusError, "Error"},
		{CheckStatus(99), "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestReport_Add(t *testing.T) {
	r := NewReport()
	r.Add(&CheckResult{Name: "a", Status: StatusOK})
	r.Add(&CheckResult{Name: "b", Status: StatusWarning})
	r.Add(&CheckResult{Name: "c", Status: StatusError, Fixed: false})
	r.Add(&CheckResult{Name: "d", Status: StatusOK, Fixed: true})

	assert.Equal(t, ReportSummary{Total: 4, OK: 2, Warnings: 1, Errors: 1, Fixed: 1}, r.Summary)
	assert.True(t, r.HasErrors())
	assert.True(t, r.HasWarnings())
	assert.False(t, r.IsHealthy())
}

func TestReport_Print(t *testing.T) {
	r := NewReport()
	r.Add(&CheckResult{Name: "pty-usage", Status: StatusOK, Message: "12 of 4096", Category: CategoryPTY})
	r.Add(&CheckResult{Name: "daemon", Status: StatusWarning, Message: "Daemon is not running",
		FixHint: "Run 'honk pty daemon start'", Category: CategoryDaemon})
	r.Add(&CheckResult{Name: "process-source", Status: StatusError, Message: "unavailable",
		Details: []string{"lsof not found"}, Category: CategorySource})
	r.Add(&CheckResult{Name: "custom", Status: StatusOK})

	var buf bytes.Buffer
	r.Print(&buf, false)
	out := buf.String()

	for _, want := range []string{CategorySource, CategoryPTY, CategoryDaemon, "Other", "lsof not found", "honk pty daemon start", "WARNINGS"} {
		assert.Contains(t, out, want)
	}
	// Categories print in display order and errors lead the warnings list.
	assert.Less(t, strings.Index(out, CategorySource), strings.Index(out, CategoryPTY))
	assert.Less(t, strings.Index(out, "1. process-source"), strings.Index(out, "2. daemon"))
}

func TestReport_PrintHealthy(t *testing.T) {
	r := NewReport()
	r.Add(&CheckResult{Name: "pty-usage", Status: StatusOK, Details: []string{"hidden"}, Category: CategoryPTY})

	var buf bytes.Buffer
	r.Print(&buf, false)
	assert.Contains(t, buf.String(), "All checks passed")
	assert.NotContains(t, buf.String(), "hidden")

	buf.Reset()
	r.Print(&buf, true)
	assert.Contains(t, buf.String(), "hidden")
}

func TestDoctor_Run(t *testing.T) {
	d := NewDoctor()
	d.RegisterAll(newMockCheck("one", StatusOK), newMockCheck("two", StatusWarning))
	require.Len(t, d.Checks(), 2)

	r := d.Run(&CheckContext{})
	assert.Equal(t, 2, r.Summary.Total)
	assert.Equal(t, 1, r.Summary.Warnings)
	assert.Equal(t, "one", r.Checks[0].Name)
	assert.Equal(t, CategoryPTY, r.Checks[0].Category)
}

func TestDoctor_Fix(t *testing.T) {
	fixable := newMockCheck("fixable", StatusError)
	fixable.fixable = true
	broken := newMockCheck("broken", StatusWarning)
	broken.fixable = true
	broken.fixError = errors.New("nope")
	plain := newMockCheck("plain", StatusWarning)

	d := NewDoctor()
	d.RegisterAll(fixable, broken, plain)
	r := d.Fix(&CheckContext{})

	assert.Equal(t, 1, fixable.fixCount)
	assert.True(t, r.Checks[0].Fixed)
	assert.Equal(t, StatusOK, r.Checks[0].Status)
	assert.Contains(t, r.Checks[0].Message, "(fixed)")

	assert.Equal(t, 1, broken.fixCount)
	assert.Contains(t, r.Checks[1].Details, "Fix failed: nope")

	assert.Equal(t, 0, plain.fixCount)
	assert.Equal(t, 1, r.Summary.Fixed)
}

func TestRunStreaming_NonTTY(t *testing.T) {
	d := NewDoctor()
	d.RegisterAll(newMockCheck("ok-check", StatusOK), newMockCheck("warn-check", StatusWarning), newMockCheck("err-check", StatusError))

	var buf bytes.Buffer
	d.RunStreaming(&CheckContext{}, &buf, 0, false)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "PASS  ok-check  mock result", lines[0])
	assert.Equal(t, "WARN  warn-check  mock result", lines[1])
	assert.Equal(t, "FAIL  err-check  mock result", lines[2])
	assert.NotContains(t, buf.String(), "\r")
}

func TestFixStreaming_NonTTY(t *testing.T) {
	c := newMockCheck("fixable", StatusError)
	c.fixable = true
	d := NewDoctor()
	d.Register(c)

	var buf bytes.Buffer
	d.FixStreaming(&CheckContext{}, &buf, 0, false)
	assert.Equal(t, "FIXED  fixable  mock result (fixed)\n", buf.String())
}

func TestBaseCheck(t *testing.T) {
	b := &BaseCheck{CheckName: "x", CheckDescription: "desc", CheckCategory: CategoryDaemon}
	assert.Equal(t, "x", b.Name())
	assert.Equal(t, "desc", b.Description())
	assert.Equal(t, CategoryDaemon, b.Category())
	assert.False(t, b.CanFix())
	assert.ErrorIs(t, b.Fix(nil), ErrCannotFix)

	f := &FixableCheck{BaseCheck: *b}
	assert.True(t, f.CanFix())
}

func TestDefault_RegistersPack(t *testing.T) {
	var names []string
	for _, c := range Default().Checks() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"process-source", "pty-usage", "pty-leaks", "daemon"}, names)
}

func TestFilterChecks(t *testing.T) {
	checks := Default().Checks()

	r := FilterChecks(checks, nil)
	assert.Len(t, r.Matched, 4)

	r = FilterChecks(checks, []string{"PTY_Usage", "daemon", "bogus"})
	require.Len(t, r.Matched, 2)
	assert.Equal(t, "pty-usage", r.Matched[0].Name())
	assert.Equal(t, []string{"bogus"}, r.Unmatched)

	r = FilterChecks(checks, []string{"pty", "pty-leaks"})
	assert.Len(t, r.Matched, 2, "category match must not duplicate")
}

func TestSuggestCheck(t *testing.T) {
	checks := Default().Checks()
	assert.Equal(t, []string{"daemon"}, SuggestCheck(checks, "deamon"))
	assert.Empty(t, SuggestCheck(checks, "daemon"))
	assert.Empty(t, SuggestCheck(checks, "zzzzzz"))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("", ""))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("kitten", "sitten"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}
