package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/honkhq/honk/internal/cleanup"
	"github.com/honkhq/honk/internal/style"
	"github.com/honkhq/honk/internal/ui"
	"github.com/honkhq/honk/internal/watchdog"
)

var (
	cleanPlan       bool
	cleanThreshold  int
	cleanMaxActions int
	cleanForce      bool
	cleanJSON       bool
)

// stdinIsTerminal is swapped in tests.
var stdinIsTerminal = ui.IsStdinTerminal

var ptyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Terminate leaked PTY holders",
	Long: `Scan once and send SIGTERM to the highest-ranked leak candidates the
safety gate clears.

The caller and its ancestors, processes with a controlling terminal,
system processes and zombies are never signalled. At most --max-actions
signals are sent; protected candidates are reported as skipped_unsafe.

--plan reports what would happen without signalling anything. Without
--plan, an interactive terminal is asked for confirmation and a
non-interactive run must pass --force.

Examples:
  honk pty clean --plan
  honk pty clean --threshold 4 --max-actions 10
  honk pty clean --force --json`,
	Args: cobra.NoArgs,
	RunE: runPTYClean,
}

func init() {
	ptyCleanCmd.Flags().BoolVar(&cleanPlan, "plan", false, "Show what would be signalled without signalling")
	ptyCleanCmd.Flags().IntVar(&cleanThreshold, "threshold", 0, "Override the generic leak threshold")
	ptyCleanCmd.Flags().IntVar(&cleanMaxActions, "max-actions", 0, "Override the per-batch signal cap")
	ptyCleanCmd.Flags().BoolVarP(&cleanForce, "force", "f", false, "Skip the confirmation prompt")
	ptyCleanCmd.Flags().BoolVar(&cleanJSON, "json", false, "Output as JSON")
	ptyCmd.AddCommand(ptyCleanCmd)
}

// cleanFacts is the JSON payload of "pty clean".
type cleanFacts struct {
	PlanOnly   bool              `json:"plan_only"`
	TotalPTYs  int               `json:"total_ptys"`
	Candidates int               `json:"candidates"`
	MaxActions int               `json:"max_actions"`
	Outcomes   []cleanup.Outcome `json:"outcomes"`
	Counts     map[string]int    `json:"counts"`
	FreedPTYs  int               `json:"freed_ptys"`
}

func runPTYClean(cmd *cobra.Command, args []string) error {
	r := newRun(buildCommandPath(cmd))
	out := cmd.OutOrStdout()

	cfg := app.cfg.Clone()
	if cmd.Flags().Changed("threshold") {
		if cleanThreshold < 0 {
			return usageError("--threshold must not be negative")
		}
		cfg.Classifier.GenericThreshold = cleanThreshold
	}
	if cmd.Flags().Changed("max-actions") {
		if cleanMaxActions < 0 {
			return usageError("--max-actions must not be negative")
		}
		cfg.MaxActions = cleanMaxActions
	}

	interactive := !cleanJSON && stdinIsTerminal()
	if !cleanPlan && !cleanForce && !interactive {
		return usageError("refusing to signal processes non-interactively without --force (or use --plan)")
	}

	p, err := newPipeline(cfg)
	if err != nil {
		return finishClean(r, out, nil, err)
	}
	a, err := p.Assess(cmd.Context())
	if err != nil {
		return finishClean(r, out, nil, err)
	}

	facts := &cleanFacts{
		PlanOnly:   cleanPlan,
		TotalPTYs:  a.Snapshot.TotalPTYs(),
		Candidates: len(a.Ranked),
		MaxActions: cfg.MaxActions,
	}
	if len(a.Ranked) == 0 {
		facts.Outcomes = []cleanup.Outcome{}
		facts.Counts = map[string]int{}
		if !cleanJSON {
			fmt.Fprintf(out, "%s No leak candidates (%d PTYs in use)\n", style.SuccessPrefix, facts.TotalPTYs)
		}
		return finishClean(r, out, facts, nil)
	}

	if !cleanPlan && !cleanForce {
		plan, err := p.Cleanup(cmd.Context(), a, cfg.MaxActions, true)
		if err != nil {
			return finishClean(r, out, nil, err)
		}
		printOutcomes(out, a, plan)
		if !confirm(cmd, fmt.Sprintf("Send SIGTERM to %d process(es)?", len(planned(plan)))) {
			fmt.Fprintln(out, "Aborted")
			return nil
		}
	}

	outcomes, err := p.Cleanup(cmd.Context(), a, cfg.MaxActions, cleanPlan)
	facts.Outcomes = outcomes
	facts.Counts = countsByName(outcomes)
	facts.FreedPTYs = watchdog.FreedPTYs(a.Snapshot, outcomes)
	if err != nil {
		return finishClean(r, out, facts, err)
	}

	if !cleanJSON {
		if len(outcomes) > 0 {
			printOutcomes(out, a, outcomes)
		}
		printCleanSummary(out, facts)
	}
	return finishClean(r, out, facts, nil)
}

func finishClean(r *run, w io.Writer, facts *cleanFacts, err error) error {
	if !cleanJSON {
		return err
	}
	var payload any
	summary := ""
	var next []string
	changed := false
	if facts != nil {
		payload = facts
		summary = cleanSummary(facts)
		changed = !facts.PlanOnly && facts.Counts[cleanup.Killed.String()] > 0
		if facts.PlanOnly && facts.Counts[cleanup.PlannedOnly.String()] > 0 {
			next = []string{"honk pty clean --force"}
		}
	}
	return r.write(w, changed, summary, payload, next, err)
}

// planned returns the pids a plan would signal.
func planned(outcomes []cleanup.Outcome) []int {
	var pids []int
	for _, o := range outcomes {
		if o.Action == cleanup.PlannedOnly {
			pids = append(pids, o.PID)
		}
	}
	return pids
}

func countsByName(outcomes []cleanup.Outcome) map[string]int {
	counts := make(map[string]int)
	for action, n := range cleanup.Counts(outcomes) {
		counts[action.String()] = n
	}
	return counts
}

func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", question)
	var response string
	_, _ = fmt.Fscanln(cmd.InOrStdin(), &response)
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

func printOutcomes(w io.Writer, a *watchdog.Assessment, outcomes []cleanup.Outcome) {
	t := style.NewTable(
		style.Column{Name: "PID", Width: 8, Align: style.AlignRight},
		style.Column{Name: "PTYS", Width: 5, Align: style.AlignRight},
		style.Column{Name: "ACTION", Width: 18},
		style.Column{Name: "COMMAND", Width: 28},
		style.Column{Name: "REASON", Width: 30},
	)
	for _, o := range outcomes {
		ptys, command := "?", ""
		if rec, ok := a.Snapshot.Get(o.PID); ok {
			ptys = strconv.Itoa(rec.PTYCount())
			command = rec.Command
		}
		t.AddRow(strconv.Itoa(o.PID), ptys, renderAction(o.Action), command, o.Reason)
	}
	fmt.Fprint(w, t.Render())
	fmt.Fprintln(w)
}

func renderAction(a cleanup.Action) string {
	switch a {
	case cleanup.Killed:
		return style.Success.Render(a.String())
	case cleanup.AlreadyGone, cleanup.PlannedOnly:
		return style.Info.Render(a.String())
	case cleanup.SkippedUnsafe:
		return style.Dim.Render(a.String())
	default:
		return style.Error.Render(a.String())
	}
}

func cleanSummary(f *cleanFacts) string {
	if f.Candidates == 0 {
		return fmt.Sprintf("no leak candidates (%d PTYs in use)", f.TotalPTYs)
	}
	if f.PlanOnly {
		return fmt.Sprintf("plan: %d of %d candidates would be signalled, %d skipped as unsafe",
			f.Counts[cleanup.PlannedOnly.String()], f.Candidates, f.Counts[cleanup.SkippedUnsafe.String()])
	}
	return fmt.Sprintf("%d signalled, %d already gone, %d skipped as unsafe, %d failed; %d PTYs freed",
		f.Counts[cleanup.Killed.String()], f.Counts[cleanup.AlreadyGone.String()],
		f.Counts[cleanup.SkippedUnsafe.String()],
		f.Counts[cleanup.Failed.String()]+f.Counts[cleanup.PermissionDenied.String()], f.FreedPTYs)
}

func printCleanSummary(w io.Writer, f *cleanFacts) {
	prefix := style.SuccessPrefix
	if f.Counts[cleanup.Failed.String()]+f.Counts[cleanup.PermissionDenied.String()] > 0 {
		prefix = style.WarningPrefix
	}
	fmt.Fprintf(w, "%s %s\n", prefix, cleanSummary(f))
	if f.PlanOnly && f.Counts[cleanup.PlannedOnly.String()] > 0 {
		fmt.Fprintf(w, "%s Run without --plan to send SIGTERM\n", style.ArrowPrefix)
	}
}
