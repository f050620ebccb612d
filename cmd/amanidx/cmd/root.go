// Package cmd provides the CLI commands of amanidx.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	amanerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/logging"
	"github.com/Aman-CERP/amanidx/internal/profiling"
	"github.com/Aman-CERP/amanidx/pkg/version"
)

// Global flags.
var (
	debugMode bool
	profiles  profiling.Paths
)

// Per-invocation state set up by the persistent hooks.
var (
	loggingCleanup func()
	profileSession *profiling.Session
)

// NewRootCmd creates the root command of the amanidx CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanidx",
		Short: "Incremental file index with an MCP server",
		Long: `amanidx keeps a full-text and symbol index of a project up to date.

A full build runs the first time a project is opened. Afterwards only
changed files are indexed: small change sets in the background, large ones
as a rebuild during which index readers are refused.

Run 'amanidx' with no arguments in a project directory to index it, watch
it and serve the index to AI assistants over MCP (stdio).`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout is reserved for JSON-RPC from here on.
			return runServe(cmd.Context(), ".", serveOptions{watch: true})
		},
	}
	cmd.SetVersionTemplate("amanidx version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.amanidx/logs/")
	cmd.PersistentFlags().StringVar(&profiles.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profiles.Heap, "profile-mem", "", "Write heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&profiles.Goroutine, "profile-goroutine", "", "Write goroutine dump to file on exit")
	cmd.PersistentFlags().StringVar(&profiles.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging installs file logging and starts the requested
// profiles. Logs never go to stdout or stderr: the TUI owns the terminal
// and serve owns stdout.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	cleanup, err := logging.Install(logging.DefaultConfig(debugMode))
	if err != nil {
		// Logging is not critical for the CLI.
		slog.Debug("logging_setup_failed", slog.String("error", err.Error()))
	} else {
		loggingCleanup = cleanup
	}

	if profiles.Enabled() {
		if profileSession, err = profiling.Start(profiles); err != nil {
			return fmt.Errorf("failed to start profiling: %w", err)
		}
	}
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profileSession != nil {
		err = profileSession.Stop()
		profileSession = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	if err != nil {
		return fmt.Errorf("failed to write profiles: %w", err)
	}
	return nil
}

// Execute runs the root command and prints a failure to stderr.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		_, _ = fmt.Fprint(root.ErrOrStderr(), amanerrors.FormatForCLI(err))
	}
	return err
}
