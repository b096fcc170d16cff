package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/logflow/tabprep/pkg/config"
	"github.com/logflow/tabprep/pkg/jobs"
	"github.com/logflow/tabprep/pkg/resilience"
	"github.com/logflow/tabprep/pkg/server"
	"github.com/logflow/tabprep/pkg/storage"
	"github.com/logflow/tabprep/pkg/writer"
)

var (
	serveAddr    string
	serveWorkers int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start an HTTP server that accepts uploads and processes them as jobs.

Endpoints:
  POST /api/upload                 upload a file (multipart field "file")
  GET  /api/jobs                   list jobs
  GET  /api/jobs/{id}              job status
  GET  /api/jobs/{id}/report       JSON processing report
  GET  /api/jobs/{id}/download     cleaned data (?sheet=, ?format=csv)
  GET  /jobs/{id}/events           progress as server-sent events

Examples:
  tabprep serve
  tabprep serve --addr :9000
  TABPREP_JOBS_BACKEND=redis tabprep serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Concurrent jobs (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := manager.Get()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
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

	broker := server.NewBroker()
	rt, err := openRunner(ctx, cfg, serveWorkers, jobs.WithHook(broker.Publish))
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := server.New(rt.runner, broker, server.Config{
		UploadDir:      cfg.Server.UploadDir,
		Ingest:         ingestOptions(cfg),
		RequestTimeout: cfg.Server.RequestTimeout,
		Version:        version,
	}, server.WithLogger(logger))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ╭─────────────────────────────────────╮")
	fmt.Fprintln(out, "  │         TABPREP SERVER              │")
	fmt.Fprintln(out, "  ├─────────────────────────────────────┤")
	fmt.Fprintf(out, "  │  Listen:  %-25s │\n", cfg.Server.Addr)
	fmt.Fprintf(out, "  │  Storage: %-25s │\n", cfg.Storage.Backend)
	fmt.Fprintf(out, "  │  Jobs:    %-25s │\n", cfg.Jobs.Backend)
	fmt.Fprintln(out, "  │                                     │")
	fmt.Fprintln(out, "  │  Press Ctrl+C to stop               │")
	fmt.Fprintln(out, "  ╰─────────────────────────────────────╯")
	fmt.Fprintln(out)

	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}

// jobRuntime bundles the job runner with the stores it owns.
type jobRuntime struct {
	runner    *jobs.Runner
	store     jobs.Store
	artifacts storage.Store
}

// Close waits for running jobs, then releases the job store.
func (r *jobRuntime) Close() error {
	r.runner.Wait()
	return r.store.Close()
}

// openRunner wires artifact storage, the job store and a runner from config.
func openRunner(ctx context.Context, cfg *config.Config, workers int, opts ...jobs.Option) (*jobRuntime, error) {
	artifacts, err := storage.Open(ctx, storage.Config{
		Backend:      cfg.Storage.Backend,
		Dir:          cfg.Storage.Dir,
		Bucket:       cfg.Storage.Bucket,
		Region:       cfg.Storage.Region,
		Endpoint:     cfg.Storage.Endpoint,
		Prefix:       cfg.Storage.Prefix,
		UsePathStyle: cfg.Storage.UsePathStyle,
	})
	if err != nil {
		return nil, err
	}

	var store jobs.Store
	switch cfg.Jobs.Backend {
	case "redis":
		rc := jobs.DefaultRedisConfig(cfg.Jobs.RedisAddr)
		rc.Password = cfg.Jobs.RedisPassword
		rc.Database = cfg.Jobs.RedisDB
		if cfg.Jobs.TTL > 0 {
			rc.TTL = cfg.Jobs.TTL
		}
		rs, err := jobs.NewRedisStore(ctx, rc)
		if err != nil {
			return nil, err
		}
		store = rs
	default:
		store = jobs.NewMemoryStore(cfg.Jobs.TTL)
	}

	if workers <= 0 {
		workers = cfg.Processing.Workers
	}
	breaker := resilience.New(
		resilience.WithMaxInFlight(cfg.Jobs.MaxInFlight),
		resilience.WithMaxFailures(cfg.Jobs.MaxFailures),
		resilience.WithCooldown(cfg.Jobs.Cooldown),
		resilience.WithStateChange(func(from, to resilience.State) {
			logger.Warn("job admission changed", "from", from.String(), "to", to.String())
		}),
	)
	opts = append([]jobs.Option{
		jobs.WithLogger(logger),
		jobs.WithWorkers(workers),
		jobs.WithWriterConfig(writer.DefaultConfig()),
		jobs.WithBreaker(breaker),
	}, opts...)

	logger.Info("job runner ready",
		"storage", cfg.Storage.Backend,
		"jobs", cfg.Jobs.Backend,
		"workers", workers)
	return &jobRuntime{
		runner:    jobs.NewRunner(newPreprocessor(cfg), store, artifacts, opts...),
		store:     store,
		artifacts: artifacts,
	}, nil
}
