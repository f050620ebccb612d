package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanidx/internal/app"
	"github.com/Aman-CERP/amanidx/internal/diagnostic"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history [path]",
		Short: "Show recent indexing jobs",
		Long: `List the most recent indexing jobs of the project, newest first.

Each job shows what it indexed, how long it took and whether it was
interrupted. Use --json for the full record including per-provider
statistics and file failures.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runHistory(cmd.Context(), cmd.OutOrStdout(), path, limit, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of jobs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runHistory(ctx context.Context, out io.Writer, path string, limit int, jsonOutput bool) error {
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}
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

	histories, err := a.History.Recent(ctx, a.Project.ID, limit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	if jsonOutput {
		if histories == nil {
			histories = []diagnostic.History{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(histories)
	}

	if len(histories) == 0 {
		_, _ = fmt.Fprintln(out, "No indexing jobs recorded.")
		return nil
	}
	printHistory(out, histories)
	return nil
}

func printHistory(out io.Writer, histories []diagnostic.History) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FINISHED\tJOB\tFILES\tREMOVED\tFAILURES\tDURATION\tSTATUS")
	_, _ = fmt.Fprintln(w, "--------\t---\t-----\t-------\t--------\t--------\t------")
	for _, h := range histories {
		status := "ok"
		switch {
		case h.Error != "":
			status = "error"
		case h.Times.WasInterrupted:
			status = "interrupted"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			h.Times.IndexingEnd.Local().Format("2006-01-02 15:04:05"),
			h.Label,
			h.Files,
			h.Removed,
			len(h.Failures),
			h.Duration().Round(time.Millisecond),
			status)
	}
	_ = w.Flush()
}
