package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanidx/internal/app"
	"github.com/Aman-CERP/amanidx/internal/diagnostic"
	"github.com/Aman-CERP/amanidx/internal/preflight"
	"github.com/Aman-CERP/amanidx/internal/ui"
)

type indexOptions struct {
	force     bool
	noTUI     bool
	noColor   bool
	skipCheck bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Bring the project's index up to date",
		Long: `Bring the index of the project containing path up to date and exit.

The first run builds the whole index. Later runs rescan the tree and index
only what changed since the last run. A build that was interrupted, or an
index written by an incompatible version, is rebuilt from scratch.

Use --force to drop the index and rebuild it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(ctx, cmd.OutOrStdout(), path, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "Drop the existing index and rebuild from scratch")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colors")
	cmd.Flags().BoolVar(&opts.skipCheck, "skip-check", false, "Skip pre-flight system checks")

	return cmd
}

// historyCollector is a diagnostic sink feeding finished jobs to the
// renderer and the completion summary.
type historyCollector struct {
	renderer ui.Renderer

	mu    sync.Mutex
	stats ui.CompletionStats
}

func (c *historyCollector) Dump(_ context.Context, h diagnostic.History) error {
	for _, f := range h.Failures {
		c.renderer.AddError(ui.ErrorEvent{
			File:   f.Path,
			Err:    fmt.Errorf("%s: %s", f.Provider, f.Error),
			IsWarn: true,
		})
	}
	c.mu.Lock()
	c.stats.Add(h)
	c.mu.Unlock()
	return nil
}

func (c *historyCollector) Stats() ui.CompletionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func runIndex(ctx context.Context, out io.Writer, path string, opts indexOptions) error {
	root, err := app.ResolveRoot(path)
	if err != nil {
		return err
	}

	if !opts.skipCheck {
		results := preflight.New(preflight.WithOutput(io.Discard)).RunAll(ctx, root)
		if preflight.HasCriticalFailures(results) {
			slog.Error("preflight_failed", slog.String("root", root))
			return errors.New("system check failed, run 'amanidx doctor' for details")
		}
	}

	uiCfg := ui.NewConfig(out,
		ui.WithForcePlain(opts.noTUI),
		ui.WithNoColor(opts.noColor || ui.DetectNoColor()),
		ui.WithProjectDir(root))
	renderer := ui.NewRenderer(uiCfg)
	collector := &historyCollector{renderer: renderer}

	a, err := app.Open(root, app.Options{Debug: debugMode, Sink: collector})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			slog.Warn("close_failed", slog.String("error", err.Error()))
		}
	}()

	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}

	if opts.force {
		err = a.Handler.StartupRebuild(ctx)
	} else {
		err = a.Handler.Startup(ctx)
	}
	if err != nil {
		_ = renderer.Stop()
		return err
	}

	followCtx, stopFollow := context.WithCancel(ctx)
	followed := make(chan struct{})
	go func() {
		defer close(followed)
		ui.Follow(followCtx, renderer, a.Dumb, a.Project, ui.DefaultFollowInterval)
	}()

	waitErr := a.Dumb.WaitIdle(ctx, a.Project)
	stopFollow()
	<-followed

	stats := collector.Stats()
	if waitErr != nil {
		stats.Interrupted = true
	}
	renderer.Complete(stats)
	_ = renderer.Stop()

	if waitErr != nil {
		return fmt.Errorf("indexing interrupted: %w", waitErr)
	}
	if stats.Errors > 0 && stats.Files == 0 && stats.Removed == 0 {
		return errors.New("indexing failed, see the log for details")
	}
	return nil
}
