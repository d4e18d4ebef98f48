package cmd

import (
	"github.com/spf13/cobra"

	"github.com/honkhq/honk/internal/cache"
	"github.com/honkhq/honk/internal/report"
	"github.com/honkhq/honk/internal/tui/ptytop"
	"github.com/honkhq/honk/internal/ui"
)

var ptyTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Live dashboard of PTY usage",
	Long: `Show a live dashboard of PTY usage read from the daemon cache.

The dashboard never scans or signals; start the daemon with
'honk pty daemon start' to keep the cache fresh.

Keys: r refresh, ? help, q quit.`,
	Args: cobra.NoArgs,
	RunE: runPTYTop,
}

func init() {
	ptyCmd.AddCommand(ptyTopCmd)
}

func runPTYTop(cmd *cobra.Command, args []string) error {
	if !ui.IsTerminal() {
		return usageError("pty top needs a terminal; use 'honk pty show --cache' instead")
	}
	path := app.paths.Cache
	return ptytop.Run(func() (report.Aggregate, error) {
		f, err := cache.Load(path)
		if err != nil {
			return report.Aggregate{}, err
		}
		return report.FromCache(f), nil
	})
}
