package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanidx/internal/app"
	"github.com/Aman-CERP/amanidx/internal/config"
	"github.com/Aman-CERP/amanidx/internal/preflight"
)

// doctorOutput is the JSON form of a doctor run.
type doctorOutput struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func newDoctorCmd() *cobra.Command {
	var verbose, jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor [path]",
		Short: "Check system requirements and diagnose issues",
		Long: `Run system diagnostics to ensure amanidx can index the project.

Checks:
  - Write permissions on the data directory
  - Disk space
  - File descriptor limits
  - File watch limits (Linux)
  - Configuration
  - Index state (built, current, unfinished build)

Use --verbose for detailed diagnostic information.
Use --json for machine-readable output.`,
		Example: `  # Run diagnostics
  amanidx doctor

  # JSON output for scripting
  amanidx doctor --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runDoctor(cmd.Context(), cmd.OutOrStdout(), path, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDoctor(ctx context.Context, out io.Writer, path string, verbose, jsonOutput bool) error {
	root, err := app.ResolveRoot(path)
	if err != nil {
		return err
	}

	opts := []preflight.Option{
		preflight.WithVerbose(verbose),
		preflight.WithOutput(out),
	}
	cfg, cfgErr := config.Load(root)
	if cfgErr == nil {
		opts = append(opts, preflight.WithConfig(cfg))
	}
	checker := preflight.New(opts...)

	results := checker.RunAll(ctx, root)
	if cfgErr != nil {
		results = append(results, preflight.CheckResult{
			Name:     "config",
			Status:   preflight.StatusFail,
			Message:  cfgErr.Error(),
			Required: true,
		})
	}
	results = append(results, indexCheck(ctx, root))

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doctorOutput{Status: preflight.SummaryStatus(results), Checks: results}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if preflight.HasCriticalFailures(results) {
		return errors.New("system check failed")
	}
	return nil
}

func indexCheck(ctx context.Context, root string) preflight.CheckResult {
	if !indexExists(root) {
		return preflight.CheckIndex(preflight.IndexState{})
	}
	a, err := app.Open(root, app.Options{ReadOnly: true})
	if err != nil {
		return preflight.CheckResult{Name: "index", Status: preflight.StatusFail, Message: err.Error()}
	}
	defer func() { _ = a.Close(context.Background()) }()

	st, err := a.ReadStatus(ctx)
	if err != nil {
		slog.Warn("index_status_failed", slog.String("error", err.Error()))
		return preflight.CheckResult{Name: "index", Status: preflight.StatusFail, Message: err.Error()}
	}
	return preflight.CheckIndex(preflight.IndexState{
		Files:      st.IndexedFiles,
		Current:    st.IndexCurrent,
		Incomplete: st.Incomplete,
		Watcher:    app.NewPIDFile(a.Project.DataDir).WatcherStatus(),
	})
}
