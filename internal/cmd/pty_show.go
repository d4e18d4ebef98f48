package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/honkhq/honk/internal/cache"
	"github.com/honkhq/honk/internal/exitcode"
	"github.com/honkhq/honk/internal/leak"
	"github.com/honkhq/honk/internal/report"
	"github.com/honkhq/honk/internal/style"
	"github.com/honkhq/honk/internal/ui"
)

var (
	showJSON  bool
	showCache bool
	showAll   bool
)

// showRowLimit caps the per-process table unless --all is given.
const showRowLimit = 15

var ptyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show which processes hold PTYs",
	Long: `Show which processes hold pseudo-terminals, grouped by application.

By default this runs a live scan. With --cache it reads the daemon's last
scan instead, which is cheap and does not need lsof or /proc.

Examples:
  honk pty show
  honk pty show --cache
  honk pty show --json | jq '.facts.groups[0]'`,
	Args: cobra.NoArgs,
	RunE: runPTYShow,
}

func init() {
	ptyShowCmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")
	ptyShowCmd.Flags().BoolVar(&showCache, "cache", false, "Read the daemon cache instead of scanning")
	ptyShowCmd.Flags().BoolVar(&showAll, "all", false, "List every PTY holder, not just the top ones")
	ptyCmd.AddCommand(ptyShowCmd)
}

// showFacts is the JSON payload of "pty show".
type showFacts struct {
	report.Aggregate
	Source     string           `json:"source"`
	CacheAgeMS int64            `json:"cache_age_ms,omitempty"`
	Ranked     []leak.Candidate `json:"ranked,omitempty"`
	Zombies    []int            `json:"zombies,omitempty"`
}

func runPTYShow(cmd *cobra.Command, args []string) error {
	r := newRun(buildCommandPath(cmd))
	facts, err := loadShowFacts(cmd, time.Now())
	if showJSON {
		summary := ""
		var next []string
		if err == nil {
			summary = showSummary(facts)
			next = showNext(facts)
		}
		var out any
		if facts != nil {
			out = facts
		}
		return r.write(cmd.OutOrStdout(), false, summary, out, next, err)
	}
	if err != nil {
		return err
	}
	printShow(cmd.OutOrStdout(), facts)
	return nil
}

func loadShowFacts(cmd *cobra.Command, now time.Time) (*showFacts, error) {
	if showCache {
		f, err := cache.Load(app.paths.Cache)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, exitcode.New(exitcode.ErrGeneral,
					"no cache yet: start the daemon with 'honk pty daemon start' or run without --cache")
			}
			return nil, systemError("reading cache", err)
		}
		return &showFacts{
			Aggregate:  report.FromCache(f),
			Source:     "cache",
			CacheAgeMS: f.Age(now).Milliseconds(),
		}, nil
	}

	p, err := newPipeline(app.cfg)
	if err != nil {
		return nil, err
	}
	a, err := p.Assess(cmd.Context())
	if err != nil {
		return nil, err
	}
	return &showFacts{
		Aggregate: report.Summarize(a.Snapshot, a.Leaks),
		Source:    "live",
		Ranked:    a.Ranked,
		Zombies:   a.Zombies,
	}, nil
}

func showSummary(f *showFacts) string {
	return fmt.Sprintf("%d PTYs held by %d processes, %d heavy users, %d leak candidates",
		f.TotalPTYs, f.ProcessCount, f.HeavyUsers, f.LeakCandidates)
}

func showNext(f *showFacts) []string {
	var next []string
	if f.LeakCandidates > 0 || f.HeavyUsers > 0 {
		next = append(next, "honk pty clean --plan")
	}
	if f.Source == "cache" {
		next = append(next, "honk pty top")
	}
	return next
}

func printShow(w io.Writer, f *showFacts) {
	header := fmt.Sprintf("%s PTYs held by %s processes",
		style.Bold.Render(strconv.Itoa(f.TotalPTYs)), style.Bold.Render(strconv.Itoa(f.ProcessCount)))
	if f.Source == "cache" {
		header += ui.RenderMuted(fmt.Sprintf(" (cache, scan #%d, %s old)",
			f.ScanNumber, ui.RelativeTime(time.Duration(f.CacheAgeMS)*time.Millisecond)))
	} else {
		header += ui.RenderMuted(fmt.Sprintf(" (live scan #%d)", f.ScanNumber))
	}
	fmt.Fprintln(w, header)
	if f.ProcessCount == 0 {
		fmt.Fprintf(w, "%s No process holds a PTY\n", style.SuccessPrefix)
		return
	}
	fmt.Fprintln(w)

	groups := style.NewTable(
		style.Column{Name: "APPLICATION", Width: 36},
		style.Column{Name: "PTYS", Width: 6, Align: style.AlignRight},
		style.Column{Name: "PROCS", Width: 6, Align: style.AlignRight},
		style.Column{Name: "HEAVY", Width: 6, Align: style.AlignRight},
		style.Column{Name: "LEAKS", Width: 6, Align: style.AlignRight},
	)
	for _, g := range f.Groups {
		leaks := strconv.Itoa(g.LeakCandidates)
		if g.LeakCandidates > 0 {
			leaks = style.Error.Render(leaks)
		}
		groups.AddRow(g.Name, strconv.Itoa(g.PTYs), strconv.Itoa(g.Processes), strconv.Itoa(g.HeavyUsers), leaks)
	}
	fmt.Fprint(w, groups.Render())
	fmt.Fprintln(w)

	procs := style.NewTable(
		style.Column{Name: "PID", Width: 8, Align: style.AlignRight},
		style.Column{Name: "PTYS", Width: 5, Align: style.AlignRight},
		style.Column{Name: "CATEGORY", Width: 15},
		style.Column{Name: "IDENTITY", Width: 40},
	)
	shown := 0
	for _, row := range f.Rows {
		if !showAll && shown == showRowLimit {
			break
		}
		procs.AddRow(strconv.Itoa(row.PID), strconv.Itoa(row.PTYCount), renderCategory(row.Category), row.Identity)
		shown++
	}
	fmt.Fprint(w, procs.Render())
	if rest := len(f.Rows) - shown; rest > 0 {
		fmt.Fprintf(w, "  %s\n", ui.RenderMuted(fmt.Sprintf("... and %d more (use --all)", rest)))
	}

	if len(f.Zombies) > 0 {
		fmt.Fprintf(w, "\n%s %d defunct PTY holders left for their parents to reap\n", style.WarningPrefix, len(f.Zombies))
	}
	if f.LeakCandidates > 0 {
		fmt.Fprintf(w, "\n%s %d leak candidates. Preview a cleanup with: %s\n",
			style.ArrowPrefix, f.LeakCandidates, style.Bold.Render("honk pty clean --plan"))
	}
}

func renderCategory(c leak.Category) string {
	name := humanize(c.String())
	switch c {
	case leak.LeakCandidate:
		return style.Error.Render(name)
	case leak.HeavyUser:
		return style.Warning.Render(name)
	default:
		return style.Dim.Render(name)
	}
}
