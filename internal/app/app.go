// Package app assembles the indexing pipeline of one project for the CLI
// commands and the MCP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/amanidx/internal/changes"
	"github.com/Aman-CERP/amanidx/internal/config"
	"github.com/Aman-CERP/amanidx/internal/diagnostic"
	amanerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/dumb"
	"github.com/Aman-CERP/amanidx/internal/fileset"
	"github.com/Aman-CERP/amanidx/internal/handler"
	"github.com/Aman-CERP/amanidx/internal/project"
	"github.com/Aman-CERP/amanidx/internal/provider"
	"github.com/Aman-CERP/amanidx/internal/store"
)

// Options configures Open.
type Options struct {
	// Config is loaded from the project root when nil.
	Config *config.Config
	// Debug logs pending changes each time dumb mode ends.
	Debug bool
	// Sink also receives every finished job's history. Optional.
	Sink diagnostic.Sink
	// ReadOnly opens the store without providers or a handler. Used by
	// commands that only report.
	ReadOnly bool
}

// App is one open project with its pipeline.
type App struct {
	Config   *config.Config
	Manager  *project.Manager
	Project  *project.Project
	Store    *store.Store
	Tracker  *changes.Tracker
	Dumb     *dumb.Service
	Registry *fileset.Registry

	Providers provider.Set
	// FullText is the full-text provider when enabled.
	FullText *provider.FullText
	History  *diagnostic.StoreSink
	Handler  *handler.Handler
}

// ResolveRoot returns the project root containing path.
func ResolveRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", amanerrors.New(amanerrors.ErrCodeInvalidPath, "cannot access "+abs, err)
	}
	if !info.IsDir() {
		return "", amanerrors.New(amanerrors.ErrCodeInvalidPath, abs+" is not a directory", nil).
			WithSuggestion("Pass the project directory, not a file")
	}
	root, err := config.FindProjectRoot(abs)
	if err != nil {
		return abs, nil
	}
	return root, nil
}

// Open opens the project rooted at root. Nothing is queued; call
// Handler.Startup to index.
func Open(root string, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(root); err != nil {
			slog.Warn("config_load_failed",
				slog.String("root", root),
				slog.String("error", err.Error()))
			cfg = config.NewConfig()
		}
	}

	a := &App{
		Config:   cfg,
		Manager:  project.NewManager(),
		Registry: fileset.NewRegistry(),
	}

	p, err := a.Manager.Open(root, cfg)
	if err != nil {
		return nil, err
	}
	a.Project = p

	st, err := store.Open(filepath.Join(p.DataDir, store.DefaultFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}
	a.Store = st
	a.Tracker = changes.NewTracker(st)
	a.History = diagnostic.NewStoreSink(st, cfg.Indexing.HistoryKeep)
	a.Dumb = dumb.NewService()

	if opts.ReadOnly {
		return a, nil
	}

	if a.Providers, err = provider.FromConfig(cfg, st, p.DataDir); err != nil {
		_ = a.Close(context.Background())
		return nil, fmt.Errorf("failed to open providers: %w", err)
	}
	for _, pr := range a.Providers {
		if ft, ok := pr.(*provider.FullText); ok {
			a.FullText = ft
		}
	}

	sink := diagnostic.MultiSink{
		a.History,
		diagnostic.NewDumper(p.DataDir, cfg.Indexing.HistoryKeep),
		diagnostic.LogSink{},
	}
	if opts.Sink != nil {
		sink = append(sink, opts.Sink)
	}
	a.Handler, err = handler.New(p, handler.Deps{
		Config:    cfg,
		Store:     st,
		Tracker:   a.Tracker,
		Providers: a.Providers,
		Dumb:      a.Dumb,
		Registry:  a.Registry,
		Manager:   a.Manager,
		Sink:      sink,
		Debug:     opts.Debug,
	})
	if err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

// Close stops the project's tasks and releases the store and providers.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Handler != nil {
		errs = append(errs, a.Handler.Close(ctx))
	}
	if a.Dumb != nil {
		errs = append(errs, a.Dumb.CloseAll(ctx))
	}
	if a.Manager != nil {
		a.Manager.CloseAll(ctx)
	}
	errs = append(errs, a.Providers.Close())
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

// ReadStatus collects the status of a project opened read-only, where no
// handler exists.
func (a *App) ReadStatus(ctx context.Context) (handler.Status, error) {
	if a.Handler != nil {
		return a.Handler.Status(ctx)
	}
	return handler.ReadStatus(ctx, a.Project, handler.Deps{
		Config:  a.Config,
		Store:   a.Store,
		Tracker: a.Tracker,
		Dumb:    a.Dumb,
	})
}
