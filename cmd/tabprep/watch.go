package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/tabprep/pkg/jobs"
	"github.com/logflow/tabprep/pkg/tui"
	"github.com/logflow/tabprep/pkg/watch"
)

var (
	watchDebounce  time.Duration
	watchExisting  bool
	watchFinancial bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir|file>...",
	Short: "Process files as they appear",
	Long: `Watch directories (or single files) and submit every new or rewritten
file as a job. Cleaned data and reports go to the configured storage.

Examples:
  tabprep watch inbox/
  tabprep watch inbox/ --existing --debounce 2s`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Quiet period before a changed file is processed")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "Also process files already present")
	watchCmd.Flags().BoolVar(&watchFinancial, "financial", false, "Use the financial cleaning pipeline")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := manager.Get()
	if err := manager.EnsureDirs(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := startTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	rt, err := openRunner(ctx, cfg, 0)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	handler := func(ctx context.Context, path string) error {
		h, err := rt.runner.Submit(ctx, jobs.Request{
			Path:      path,
			Name:      filepath.Base(path),
			Financial: watchFinancial,
		})
		if err != nil {
			return err
		}
		go func() {
			res, job, err := h.Wait(ctx)
			if err != nil {
				return
			}
			tui.PrintResult(out, res, tui.Options{Verbose: verbose})
			if job.ReportKey != "" {
				fmt.Fprintf(out, "  Report: %s\n\n", rt.artifacts.Location(job.ReportKey))
			}
		}()
		return nil
	}

	w, err := watch.New(handler,
		watch.WithDebounce(watchDebounce),
		watch.WithExtensions(ingestOptions(cfg).AllowedExtensions),
		watch.WithExisting(watchExisting),
		watch.WithLogger(logger))
	if err != nil {
		return err
	}
	defer w.Close()
	for _, path := range args {
		if err := w.Add(path); err != nil {
			return err
		}
	}

	tui.PrintHeader(out, version)
	fmt.Fprintln(out, "  Watching for files. Press Ctrl+C to stop.")
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
