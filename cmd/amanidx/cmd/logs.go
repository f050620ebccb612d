package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanidx/internal/logging"
	"github.com/Aman-CERP/amanidx/internal/ui"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	noColor bool
	file    string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View amanidx logs",
		Long: `Show the last lines of the amanidx log (~/.amanidx/logs/amanidx.log).

Use -f to follow new entries as they are written.`,
		Example: `  amanidx logs                   # Last 50 lines
  amanidx logs -f                # Follow in real time
  amanidx logs --level warn      # Warnings and errors only
  amanidx logs --filter job_     # Lines matching a pattern`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Filter by log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Filter by pattern (regex)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.file, "file", "", "Path to log file")

	return cmd
}

func runLogs(ctx context.Context, out, errOut io.Writer, opts logsOptions) error {
	path, err := logging.FindLogFile(opts.file)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		if pattern, err = regexp.Compile(opts.filter); err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   opts.level,
		Pattern: pattern,
		NoColor: opts.noColor || ui.DetectNoColor() || !ui.IsTTY(out),
	}, out)

	if !opts.follow {
		entries, err := viewer.Tail(path, opts.lines)
		if err != nil {
			return err
		}
		viewer.Print(entries)
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, _ = fmt.Fprintf(errOut, "Following %s (Ctrl+C to stop)\n", path)
	entries := make(chan logging.Entry, 100)
	errCh := make(chan error, 1)
	go func() { errCh <- viewer.Follow(ctx, path, entries) }()

	for {
		select {
		case e := <-entries:
			_, _ = fmt.Fprintln(out, viewer.Format(e))
		case err := <-errCh:
			return err
		}
	}
}
