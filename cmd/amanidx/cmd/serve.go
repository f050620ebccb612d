package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanidx/internal/app"
	"github.com/Aman-CERP/amanidx/internal/mcp"
	"github.com/Aman-CERP/amanidx/internal/telemetry"
)

// closeTimeout bounds how long shutdown waits for running tasks.
const closeTimeout = 10 * time.Second

type serveOptions struct {
	watch       bool
	metricsAddr string
}

func newServeCmd() *cobra.Command {
	var (
		opts    serveOptions
		noWatch bool
	)

	cmd := &cobra.Command{
		Use:   "serve [path]",
		Short: "Serve the index over MCP (stdio)",
		Long: `Index the project, keep it up to date and serve it to AI assistants
over the Model Context Protocol on stdin/stdout.

Tools that read the index answer with an "index not ready" error while a
rebuild runs. Indexing status and history stay available throughout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			opts.watch = !noWatch
			return runServe(cmd.Context(), path, opts)
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch the project for changes")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (overrides config)")

	return cmd
}

func runServe(ctx context.Context, path string, opts serveOptions) error {
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

	deps := mcp.Deps{
		Indexer: a.Handler,
		Gate:    a.Dumb,
		History: a.History,
		Symbols: a.Store,
	}
	if a.FullText != nil {
		deps.FullText = a.FullText
	}
	srv, err := mcp.NewServer(deps)
	if err != nil {
		return err
	}

	metricsAddr := opts.metricsAddr
	if metricsAddr == "" {
		metricsAddr = a.Config.Server.MetricsAddr
	}

	g, gctx := errgroup.WithContext(ctx)
	bg, cancelBG := context.WithCancel(gctx)
	defer cancelBG()

	if metricsAddr != "" {
		g.Go(func() error {
			if err := telemetry.Serve(bg, metricsAddr); err != nil {
				slog.Warn("metrics_unavailable", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	if opts.watch && a.Config.Watch.Enabled {
		g.Go(func() error {
			err := a.Watch(bg)
			if errors.Is(err, app.ErrAlreadyWatched) {
				slog.Info("watch_skipped", slog.String("reason", err.Error()))
				return nil
			}
			if err != nil {
				slog.Warn("watch_stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	g.Go(func() error {
		defer cancelBG()
		slog.Info("serve_started",
			slog.String("project", a.Project.Name),
			slog.Any("tools", srv.Tools()))
		return srv.Serve(gctx)
	})

	return g.Wait()
}
