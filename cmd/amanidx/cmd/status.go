package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanidx/internal/app"
	"github.com/Aman-CERP/amanidx/internal/handler"
	"github.com/Aman-CERP/amanidx/internal/project"
	"github.com/Aman-CERP/amanidx/internal/store"
	"github.com/Aman-CERP/amanidx/internal/ui"
)

// statusPollInterval is how often status --wait re-reads the index.
const statusPollInterval = 500 * time.Millisecond

type statusOptions struct {
	json    bool
	wait    bool
	timeout time.Duration
}

func newStatusCmd() *cobra.Command {
	var opts statusOptions

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show index health and status",
		Long: `Display information about the project's index:
  - Number of indexed files and symbols
  - Last indexing time and the last job
  - Whether the index is current or a build was left unfinished
  - Watcher status

With --wait, block until no build is in progress.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runStatus(cmd.Context(), cmd.OutOrStdout(), path, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "Wait until no build is in progress")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Maximum time to wait with --wait")

	return cmd
}

func runStatus(ctx context.Context, out io.Writer, path string, opts statusOptions) error {
	root, err := app.ResolveRoot(path)
	if err != nil {
		return err
	}
	if !indexExists(root) {
		return fmt.Errorf("no index found in %s\nRun 'amanidx index' to create one", root)
	}

	a, err := app.Open(root, app.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	if opts.wait {
		if err := waitForBuild(ctx, a.Project, opts.timeout); err != nil {
			return err
		}
	}

	info, err := collectStatus(ctx, a)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}

	renderer := ui.NewStatusRenderer(out, ui.DetectNoColor())
	if opts.json {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func indexExists(root string) bool {
	_, err := os.Stat(filepath.Join(root, project.DataDirName, store.DefaultFileName))
	return err == nil
}

// waitForBuild polls until the unfinished-build marker of another process
// disappears.
func waitForBuild(ctx context.Context, p *project.Project, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()
	for handler.HasIncompleteMarker(p.DataDir) {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("build still unfinished after %s, run 'amanidx index' if no build is running", timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func collectStatus(ctx context.Context, a *app.App) (ui.StatusInfo, error) {
	st, err := a.ReadStatus(ctx)
	if err != nil {
		return ui.StatusInfo{}, err
	}

	info := ui.StatusInfo{
		ProjectName:    st.ProjectName,
		ProjectID:      st.ProjectID,
		BasePath:       st.BasePath,
		State:          st.State,
		LastIndexed:    st.LastIndexed,
		IndexedFiles:   st.IndexedFiles,
		Symbols:        st.Symbols,
		PendingDirty:   st.PendingDirty,
		PendingRemoved: st.PendingRemoved,
		IndexCurrent:   st.IndexCurrent,
		Incomplete:     st.Incomplete,
		StoreSize:      st.StoreSize,
		WatcherStatus:  app.NewPIDFile(a.Project.DataDir).WatcherStatus(),
	}

	recent, err := a.History.Recent(ctx, a.Project.ID, 1)
	if err != nil {
		slog.Warn("history_read_failed", slog.String("error", err.Error()))
	} else if len(recent) > 0 {
		info.LastJob = ui.JobInfoFromHistory(recent[0])
	}
	return info, nil
}
