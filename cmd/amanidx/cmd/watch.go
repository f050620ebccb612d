package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanidx/internal/app"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [path]",
		Short: "Keep the index up to date until interrupted",
		Long: `Bring the project's index up to date, then watch the project and
index every change until interrupted.

Only one process watches a project at a time. 'amanidx status' shows which.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runWatch(cmd.Context(), path)
		},
	}
}

func runWatch(ctx context.Context, path string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := app.ResolveRoot(path)
	if err != nil {
		return err
	}
	a, err := app.Open(root, app.Options{Debug: debugMode})
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

	if err := a.Handler.Startup(ctx); err != nil {
		return err
	}
	return a.Watch(ctx)
}
