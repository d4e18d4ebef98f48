package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/honkhq/honk/internal/cleanup"
	"github.com/honkhq/honk/internal/config"
	"github.com/honkhq/honk/internal/ptyscan"
	"github.com/honkhq/honk/internal/watchdog"
)

var ptyCmd = &cobra.Command{
	Use:     "pty",
	GroupID: GroupPTY,
	Short:   "Inspect and clean up pseudo-terminal usage",
	RunE:    requireSubcommand,
	Long: `Inspect and clean up pseudo-terminal usage.

show and top are read-only. clean and the watch loop only ever send SIGTERM,
and only to processes the safety gate clears.`,
}

func init() {
	rootCmd.AddCommand(ptyCmd)
}

// Seams for tests.
var (
	newSource = func(cfg *config.Config) (ptyscan.LineageSource, error) {
		return ptyscan.NewSource(cfg, app.log)
	}
	newSender = func() cleanup.SignalSender { return cleanup.UnixSender{} }
)

// newPipeline builds a pipeline over the configured process source.
func newPipeline(cfg *config.Config) (*watchdog.Pipeline, error) {
	src, err := newSource(cfg)
	if err != nil {
		return nil, err
	}
	return watchdog.New(cfg, watchdog.Deps{
		Source:  src,
		Lineage: src,
		Sender:  newSender(),
		Log:     app.log,
	})
}

var titleCaser = cases.Title(language.English)

// humanize turns "leak_candidate" into "Leak Candidate".
func humanize(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}
