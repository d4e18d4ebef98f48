package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/honkhq/honk/internal/doctor"
	"github.com/honkhq/honk/internal/exitcode"
	"github.com/honkhq/honk/internal/ui"
)

var (
	doctorFix  bool
	doctorSlow string
	doctorJSON bool
	doctorLive bool
)

var doctorCmd = &cobra.Command{
	Use:               "doctor [check-name | category]...",
	GroupID:           GroupDiag,
	Short:             "Run PTY health checks",
	Args:              cobra.ArbitraryArgs,
	RunE:              runDoctor,
	ValidArgsFunction: completeDoctorArgs,
}

func init() {
	doctorCmd.Long = buildDoctorLong()
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Attempt to automatically fix issues")
	doctorCmd.Flags().StringVar(&doctorSlow, "slow", "", "Highlight slow checks (optional threshold, default 1s)")
	doctorCmd.Flags().Lookup("slow").NoOptDefVal = "1s"
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output as JSON")
	doctorCmd.Flags().BoolVar(&doctorLive, "live", false, "Scan now instead of reading the daemon cache")
	rootCmd.AddCommand(doctorCmd)
}

// buildDoctorLong lists the registered checks by category.
func buildDoctorLong() string {
	byCategory := make(map[string][]doctor.Check)
	for _, c := range doctor.Default().Checks() {
		byCategory[c.Category()] = append(byCategory[c.Category()], c)
	}

	var b strings.Builder
	b.WriteString("Check the process source, the kernel PTY budget, leak candidates and\n")
	b.WriteString("the watchdog daemon.\n\n")
	b.WriteString("Run all checks (default), specific checks by name, or all checks in a category.\n")
	for _, category := range doctor.CategoryOrder {
		checks := byCategory[category]
		if len(checks) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", category)
		for _, c := range checks {
			fix := "  "
			if c.CanFix() {
				fix = "🔧"
			}
			fmt.Fprintf(&b, "  %-16s %s %s\n", c.Name(), fix, c.Description())
		}
	}
	b.WriteString("\nChecks marked 🔧 can be fixed automatically with --fix\n")
	b.WriteString("\nExamples:\n")
	b.WriteString("  honk doctor                 # Run all checks\n")
	b.WriteString("  honk doctor pty-usage       # Run one check\n")
	b.WriteString("  honk doctor daemon --fix    # Start the daemon if it is down")
	return b.String()
}

func completeDoctorArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var completions []string
	for _, c := range doctor.Default().Checks() {
		if strings.HasPrefix(c.Name(), toComplete) {
			completions = append(completions, c.Name()+"\t"+c.Description())
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

func runDoctor(cmd *cobra.Command, args []string) error {
	r := newRun(buildCommandPath(cmd))
	out := cmd.OutOrStdout()

	all := doctor.Default().Checks()
	result := doctor.FilterChecks(all, args)
	if len(result.Unmatched) > 0 {
		return formatUnmatchedError(all, result.Unmatched)
	}

	var slowThreshold time.Duration
	if doctorSlow != "" {
		var err error
		if slowThreshold, err = time.ParseDuration(doctorSlow); err != nil {
			return usageError("invalid --slow duration %q: %v", doctorSlow, err)
		}
	}

	ctx := &doctor.CheckContext{
		Ctx:     cmd.Context(),
		Config:  app.cfg,
		Paths:   app.paths,
		Verbose: flagVerbose,
	}
	if src, err := newSource(app.cfg); err == nil {
		ctx.Source = src
	}
	if doctorLive {
		p, err := newPipeline(app.cfg)
		if err != nil {
			return err
		}
		ctx.Pipeline = p
	}

	d := doctor.NewDoctor()
	d.RegisterAll(result.Matched...)

	var report *doctor.Report
	switch {
	case doctorJSON && doctorFix:
		report = d.Fix(ctx)
	case doctorJSON:
		report = d.Run(ctx)
	case ui.IsTerminal():
		if doctorFix {
			report = d.Fix(ctx)
		} else {
			report = d.Run(ctx)
		}
		report.Print(out, flagVerbose)
	case doctorFix:
		report = d.FixStreaming(ctx, out, slowThreshold, false)
	default:
		report = d.RunStreaming(ctx, out, slowThreshold, false)
	}

	var err error
	if report.HasErrors() {
		err = exitcode.Newf(exitcode.ErrGeneral, "doctor found %d error(s)", report.Summary.Errors)
	}
	if doctorJSON {
		var next []string
		if !report.IsHealthy() && !doctorFix {
			next = []string{"honk doctor --fix"}
		}
		summary := fmt.Sprintf("%d passed, %d warnings, %d failed", report.Summary.OK, report.Summary.Warnings, report.Summary.Errors)
		if err != nil {
			// Keep the check list in the envelope even on failure.
			env := r.envelope(report.Summary.Fixed > 0, summary, report, next, err)
			env.Summary = summary
			return writeEnvelope(out, env, err)
		}
		return r.write(out, report.Summary.Fixed > 0, summary, report, next, nil)
	}
	return err
}

// formatUnmatchedError builds an error message for unknown check names with suggestions.
func formatUnmatchedError(all []doctor.Check, unmatched []string) error {
	var b strings.Builder
	if len(unmatched) == 1 {
		name := unmatched[0]
		fmt.Fprintf(&b, "unknown check %q", name)
		suggestions := doctor.SuggestCheck(all, name)
		if len(suggestions) == 1 {
			fmt.Fprintf(&b, "\n\n  Did you mean: %s?", suggestions[0])
		} else if len(suggestions) > 1 {
			fmt.Fprintf(&b, "\n\n  Did you mean one of: %s?", strings.Join(suggestions, ", "))
		}
	} else {
		quoted := make([]string, len(unmatched))
		for i, name := range unmatched {
			quoted[i] = fmt.Sprintf("%q", name)
		}
		fmt.Fprintf(&b, "unknown checks %s", strings.Join(quoted, ", "))
	}
	b.WriteString("\n\n  Run \"honk doctor --help\" to see all available checks.")
	return usageError("%s", b.String())
}
