package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/honkhq/honk/internal/config"
	"github.com/honkhq/honk/internal/daemon"
	"github.com/honkhq/honk/internal/events"
	"github.com/honkhq/honk/internal/style"
	"github.com/honkhq/honk/internal/telemetry"
	"github.com/honkhq/honk/internal/ui"
)

var (
	watchInterval time.Duration
	watchMaxPTYs  int
	watchPlan     bool
	watchJSON     bool
)

var ptyWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the watchdog loop in the foreground",
	Long: `Run the watchdog loop in the foreground until interrupted.

Every interval the loop scans, writes the cache and, when the PTY total
exceeds --max-ptys, terminates up to max_actions leak candidates. It takes
the same lock as the background daemon, so the two never run at once.

With --json the event stream is written to stdout, one object per line.
Ctrl-C stops the loop after the current phase and exits 0.`,
	Args: cobra.NoArgs,
	RunE: runPTYWatch,
}

func init() {
	ptyWatchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "Scan interval (default from config)")
	ptyWatchCmd.Flags().IntVar(&watchMaxPTYs, "max-ptys", 0, "PTY total that triggers cleanup (default from config, 0 disables)")
	ptyWatchCmd.Flags().BoolVar(&watchPlan, "plan", false, "Record what cleanup would do without signalling")
	ptyWatchCmd.Flags().BoolVar(&watchJSON, "json", false, "Write events to stdout as NDJSON")
	ptyCmd.AddCommand(ptyWatchCmd)
}

func runPTYWatch(cmd *cobra.Command, args []string) error {
	cfg := app.cfg.Clone()
	overridden := false
	if cmd.Flags().Changed("interval") {
		cfg.ScanInterval = watchInterval
		overridden = true
	}
	if cmd.Flags().Changed("max-ptys") {
		cfg.MaxPTYs = watchMaxPTYs
		overridden = true
	}
	if watchPlan {
		cfg.PlanOnly = true
		overridden = true
	}
	if err := cfg.Validate(); err != nil {
		return usageError("%v", err)
	}

	var stdout io.Writer
	if watchJSON {
		stdout = cmd.OutOrStdout()
	}
	d, err := newDaemon(cfg, stdout)
	if err != nil {
		return err
	}

	if !watchJSON {
		mode := ""
		if cfg.PlanOnly {
			mode = ui.RenderMuted(" (plan only)")
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s Watching PTYs every %v, cleanup above %d%s. Ctrl-C to stop.\n",
			style.ArrowPrefix, cfg.ScanInterval, cfg.MaxPTYs, mode)
	}

	// Flag overrides would be lost on reload, so only watch the file
	// when running with the configured values.
	configPath := app.configPath
	if overridden {
		configPath = ""
	}
	summary, err := daemon.Serve(cmd.Context(), d, configPath)
	if err != nil {
		return err
	}
	if !watchJSON {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s Stopped after %d cycles: %d cleanups, %d processes signalled\n",
			style.SuccessPrefix, summary.Cycles, summary.Cleanups, summary.Signalled)
	}
	return nil
}

// newDaemon builds a watchdog daemon writing events to the state
// directory, to OTel when enabled, and to stdout when given.
func newDaemon(cfg *config.Config, stdout io.Writer) (*daemon.Daemon, error) {
	p, err := newPipeline(cfg)
	if err != nil {
		return nil, err
	}
	sinks := events.Multi{events.NewFileLog(app.paths.Events)}
	if app.otel != nil {
		sinks = append(sinks, telemetry.EventLog{})
	}
	if stdout != nil {
		sinks = append(sinks, events.NewWriter(stdout))
	}
	return daemon.New(daemon.Options{
		Config:   cfg,
		Paths:    app.paths,
		Pipeline: p,
		Events:   sinks,
		Log:      app.log,
	})
}
