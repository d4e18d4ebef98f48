// Package cmd provides CLI commands for the honk tool.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/honkhq/honk/internal/config"
	"github.com/honkhq/honk/internal/logging"
	"github.com/honkhq/honk/internal/style"
	"github.com/honkhq/honk/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:     "honk",
	Short:   "Find leaked pseudo-terminals and clean them up safely",
	Version: Version,
	Long: `honk finds processes that hold pseudo-terminals, flags the ones that look
leaked, and terminates them only after a safety gate clears them.

The caller, its ancestors, interactive sessions and system processes are
never signalled.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

// Global flags.
var (
	flagStateDir string
	flagConfig   string
	flagVerbose  bool
)

// Command group IDs - used by subcommands to organize help output
const (
	GroupPTY  = "pty"
	GroupDiag = "diag"
)

// annotationLogFile marks commands that log to the daemon log file.
const annotationLogFile = "honk.log-file"

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupPTY, Title: "PTY Watchdog:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupDiag)

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError("%v", err)
	})

	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "State directory (default $HONK_STATE_DIR or ~/.honk/pty)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default $HONK_CONFIG or <state-dir>/watchdog.toml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}

// Commands that run without loading config.
var setupExemptCommands = map[string]bool{
	"version":    true,
	"help":       true,
	"completion": true,
}

// appEnv is what every command needs after setup.
type appEnv struct {
	cfg        *config.Config
	configPath string
	paths      config.Paths
	log        *zap.SugaredLogger
	closeLog   func()
	otel       *telemetry.Provider
}

var app appEnv

// setup resolves the state directory, loads config, and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	if setupExemptCommands[cmd.Name()] {
		return nil
	}
	dir := flagStateDir
	if dir == "" {
		var err error
		if dir, err = config.StateDir(); err != nil {
			return err
		}
	}
	app.paths = config.NewPaths(dir)

	app.configPath = flagConfig
	if app.configPath == "" {
		app.configPath = config.ConfigPath(dir)
	}
	cfg, err := config.Load(app.configPath)
	if err != nil {
		return usageError("%v", err)
	}
	app.cfg = cfg

	opts := logging.Options{Verbose: flagVerbose}
	if cmd.Annotations[annotationLogFile] == "true" {
		opts.File = app.paths.LogFile
	}
	log, closeLog, err := logging.New(opts)
	if err != nil {
		return err
	}
	app.log, app.closeLog = log, closeLog

	if p, err := telemetry.Init(cmd.Context(), "honk", Version); err != nil {
		app.log.Warnf("telemetry disabled: %v", err)
	} else {
		app.otel = p
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) {
	if app.otel != nil {
		_ = app.otel.Shutdown(context.Background())
	}
	if app.log != nil {
		_ = app.log.Sync()
	}
	if app.closeLog != nil {
		app.closeLog()
	}
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	return execute(context.Background(), os.Args[1:])
}

func execute(ctx context.Context, args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 0
	}
	coded := classify(err)
	var silent *silentError
	if !errors.As(err, &silent) {
		fmt.Fprintf(os.Stderr, "%s %v\n", style.ErrorPrefix, err)
	}
	return codeOf(coded)
}

// buildCommandPath walks the command hierarchy to build the full command path.
// For example: "honk pty show".
func buildCommandPath(cmd *cobra.Command) string {
	var parts []string
	for c := cmd; c != nil; c = c.Parent() {
		parts = append([]string{c.Name()}, parts...)
	}
	return strings.Join(parts, " ")
}

// requireSubcommand returns an error for parent commands run without a
// valid subcommand, instead of cobra's silent help-and-exit-0.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return usageError("requires a subcommand\n\nRun '%s --help' for usage", buildCommandPath(cmd))
	}
	return usageError("unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], buildCommandPath(cmd), buildCommandPath(cmd))
}
