// tabprep cleans and profiles tabular files (CSV, TSV, Excel) and writes
// the cleaned data as Parquet alongside a JSON processing report.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/logflow/tabprep/pkg/config"
	"github.com/logflow/tabprep/pkg/ingest"
	"github.com/logflow/tabprep/pkg/logging"
	"github.com/logflow/tabprep/pkg/preprocess"
	"github.com/logflow/tabprep/pkg/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
	verbose    bool
)

var (
	manager = config.NewManager()
	logger  = slog.Default()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tabprep",
	Short: "tabprep - detect, type, clean and profile tabular data",
	Long: `tabprep prepares messy spreadsheets and delimited files for analysis.

Each file goes through layout detection, type inference, type-aware
cleaning and quality profiling. Results are written as Parquet with a
JSON report describing every transformation.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tabprep %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default search: /etc/tabprep, ~/.tabprep, ./.tabprep.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if err := manager.Load(configFile); err != nil {
		return err
	}
	cfg := manager.Get()
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if verbose && logLevel == "" {
		cfg.Logging.Level = "debug"
	}
	logger = logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return nil
}

func ingestOptions(cfg *config.Config) ingest.Options {
	opts := ingest.DefaultOptions()
	opts.MaxFileSize = cfg.Processing.MaxFileSize
	if len(cfg.Processing.AllowedExtensions) > 0 {
		opts.AllowedExtensions = cfg.Processing.AllowedExtensions
	}
	return opts
}

func newPreprocessor(cfg *config.Config) *preprocess.Preprocessor {
	return preprocess.New(
		preprocess.WithLogger(logger),
		preprocess.WithIngestOptions(ingestOptions(cfg)),
		preprocess.WithSheetWorkers(cfg.Processing.SheetWorkers),
		preprocess.WithTracer(otel.Tracer("github.com/logflow/tabprep")),
	)
}

// startTelemetry installs the OTLP exporter when enabled in config.
func startTelemetry(ctx context.Context, cfg *config.Config) (telemetry.Shutdown, error) {
	tc := telemetry.DefaultConfig(cfg.Telemetry.ServiceName)
	tc.Enabled = cfg.Telemetry.Enabled
	tc.Endpoint = cfg.Telemetry.Endpoint
	tc.SampleRate = cfg.Telemetry.SampleRate
	tc.Insecure = cfg.Telemetry.Insecure
	tc.ServiceVersion = version
	return telemetry.Init(ctx, tc)
}
