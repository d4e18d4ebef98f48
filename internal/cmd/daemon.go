package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/honkhq/honk/internal/daemon"
	"github.com/honkhq/honk/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background PTY watchdog",
	RunE:  requireSubcommand,
	Long: `Manage the background PTY watchdog.

The daemon runs the same loop as 'honk pty watch', detached, and keeps
cache.json fresh for 'honk pty show --cache', 'honk pty top' and
'honk doctor'.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long: `Send SIGTERM to the daemon and wait for it to exit.

The daemon is never sent SIGKILL. If it is still alive after stop_grace
the command fails with exit code 30.`,
	Args: cobra.NoArgs,
	RunE: runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon logs",
	Args:  cobra.NoArgs,
	RunE:  runDaemonLogs,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon",
	Long:  `Stop and start the daemon. Useful after upgrading honk or editing settings that are not hot reloaded.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonRestart,
}

var daemonRunCmd = &cobra.Command{
	Use:         "run",
	Short:       "Run daemon in foreground (internal)",
	Hidden:      true,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationLogFile: "true"},
	RunE:        runDaemonRun,
}

var (
	daemonLogLines   int
	daemonLogFollow  bool
	daemonStatusJSON bool
)

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonRunCmd)

	daemonLogsCmd.Flags().IntVarP(&daemonLogLines, "lines", "n", 50, "Number of lines to show")
	daemonLogsCmd.Flags().BoolVarP(&daemonLogFollow, "follow", "f", false, "Follow log output")
	daemonStatusCmd.Flags().BoolVar(&daemonStatusJSON, "json", false, "Output as JSON")

	ptyCmd.AddCommand(daemonCmd)
}

// daemonArgs is how the detached process is invoked.
var daemonArgs = []string{"pty", "daemon", "run"}

func spawnDaemon() (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("finding executable: %w", err)
	}
	args := append([]string(nil), daemonArgs...)
	if flagConfig != "" {
		args = append(args, "--config", flagConfig)
	}
	return daemon.Spawn(app.paths, exe, args...)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	pid, err := spawnDaemon()
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		fmt.Fprintf(out, "%s Daemon already running (PID %d)\n", ui.RenderWarnIcon(), pid)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s Daemon started (PID %d, v%s)\n", ui.RenderPassIcon(), pid, Version)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	pid, err := daemon.Stop(app.paths, app.cfg.StopGrace)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Daemon stopped (was PID %d)\n", ui.RenderPassIcon(), pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	r := newRun(buildCommandPath(cmd))
	out := cmd.OutOrStdout()
	st, err := daemon.Status(app.paths, app.cfg.ScanInterval, time.Now())
	if daemonStatusJSON {
		if err != nil {
			return r.write(out, false, "", nil, nil, err)
		}
		return r.write(out, false, statusSummary(st), st, statusNext(st), nil)
	}
	if err != nil {
		return err
	}
	printStatus(out, st)
	return nil
}

func statusSummary(st *daemon.StatusReport) string {
	switch {
	case !st.Running:
		return "daemon not running"
	case !st.HasCache:
		return fmt.Sprintf("daemon running (PID %d), no scan yet", st.PID)
	case st.Stale:
		return fmt.Sprintf("daemon running (PID %d), cache stale (%s old)", st.PID, ui.RelativeTime(st.CacheAge))
	default:
		return fmt.Sprintf("daemon running (PID %d), %d PTYs at scan #%d", st.PID, st.TotalPTYs, st.ScanCount)
	}
}

func statusNext(st *daemon.StatusReport) []string {
	if !st.Running {
		return []string{"honk pty daemon start"}
	}
	if st.Stale {
		return []string{"honk pty daemon logs", "honk pty daemon restart"}
	}
	return nil
}

func printStatus(w io.Writer, st *daemon.StatusReport) {
	if !st.Running {
		fmt.Fprintf(w, "%s Daemon not running\n\n", ui.RenderMuted("○"))
		fmt.Fprintf(w, "  State dir:  %s\n", ui.ShortenPath(app.paths.Dir))
		if st.HasCache {
			fmt.Fprintf(w, "  Last scan:  #%d, %d PTYs (%s ago)\n", st.ScanCount, st.TotalPTYs, ui.RelativeTime(st.CacheAge))
		}
		fmt.Fprintf(w, "\n  Start with: %s\n", ui.RenderMuted("honk pty daemon start"))
		return
	}

	fmt.Fprintf(w, "%s Daemon running (PID %d, v%s)\n\n", ui.RenderPassIcon(), st.PID, Version)
	fmt.Fprintf(w, "  State dir:  %s\n", ui.ShortenPath(app.paths.Dir))
	if s := st.State; s != nil {
		fmt.Fprintf(w, "  Started:    %s (%s ago)\n", s.StartedAt.Format("2006-01-02 15:04:05"), ui.RelativeTime(time.Since(s.StartedAt)))
		fmt.Fprintf(w, "  Cycles:     %d (%d cleanups, %d signalled)\n", s.Cycles, s.Cleanups, s.Signalled)
	}
	switch {
	case !st.HasCache:
		fmt.Fprintf(w, "  Last scan:  %s\n", ui.RenderMuted("none yet"))
	case st.Stale:
		fmt.Fprintf(w, "  Last scan:  #%d, %d PTYs %s\n", st.ScanCount, st.TotalPTYs,
			ui.RenderWarn(fmt.Sprintf("(stale, %s ago)", ui.RelativeTime(st.CacheAge))))
	default:
		fmt.Fprintf(w, "  Last scan:  #%d, %d PTYs (%s ago)\n", st.ScanCount, st.TotalPTYs, ui.RelativeTime(st.CacheAge))
	}
	if s := st.State; s != nil && s.LastError != "" {
		fmt.Fprintf(w, "  Last error: %s (%s ago)\n", ui.RenderFail(s.LastError), ui.RelativeTime(time.Since(s.LastErrorAt)))
	}
	fmt.Fprintf(w, "  Log:        %s\n", ui.ShortenPath(app.paths.LogFile))
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	logFile := app.paths.LogFile
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("no log file found at %s", logFile)
	}

	tailArgs := []string{"-n", strconv.Itoa(daemonLogLines)}
	if daemonLogFollow {
		tailArgs = append(tailArgs, "-f")
	}
	tailCmd := exec.CommandContext(cmd.Context(), "tail", append(tailArgs, logFile)...)
	tailCmd.Stdout = cmd.OutOrStdout()
	tailCmd.Stderr = cmd.ErrOrStderr()
	if err := tailCmd.Run(); err != nil && cmd.Context().Err() == nil {
		return fmt.Errorf("reading logs: %w", err)
	}
	return nil
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	d, err := newDaemon(app.cfg, nil)
	if err != nil {
		return err
	}
	_, err = daemon.Serve(cmd.Context(), d, app.configPath)
	return err
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	oldPID, err := daemon.Stop(app.paths, app.cfg.StopGrace)
	switch {
	case errors.Is(err, daemon.ErrNotRunning):
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "Stopped daemon (PID %d)\n", oldPID)
	}

	pid, err := spawnDaemon()
	if err != nil {
		return err
	}
	if oldPID > 0 {
		fmt.Fprintf(out, "%s Daemon restarted (PID %d → %d, v%s)\n", ui.RenderPassIcon(), oldPID, pid, Version)
	} else {
		fmt.Fprintf(out, "%s Daemon started (PID %d, v%s)\n", ui.RenderPassIcon(), pid, Version)
	}
	return nil
}
