package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/tabprep/pkg/errors"
	"github.com/logflow/tabprep/pkg/preprocess"
	"github.com/logflow/tabprep/pkg/tui"
	"github.com/logflow/tabprep/pkg/writer"
)

var (
	outputDir       string
	outputFormat    string
	compressionFlag string
	batchSize       int
	financialMode   bool
	jsonOutput      bool
	showTransforms  int
	batchWorkers    int
)

var processCmd = &cobra.Command{
	Use:   "process <file>",
	Short: "Clean and profile a single file",
	Long: `Run the full preprocessing pipeline on one file.

Excel workbooks are processed sheet by sheet. Without --output only the
summary is printed.

Examples:
  tabprep process sales.csv
  tabprep process book.xlsx -o out/ --format csv
  tabprep process ledger.csv --financial -o out/
  tabprep process data.tsv --json > report.json`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

var batchCmd = &cobra.Command{
	Use:   "batch <file|dir>...",
	Short: "Process many files concurrently",
	Long: `Process every supported file given, expanding directories one level.

Examples:
  tabprep batch inbox/ -o cleaned/
  tabprep batch a.csv b.xlsx --workers 4`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	for _, cmd := range []*cobra.Command{processCmd, batchCmd} {
		cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for cleaned data and reports")
		cmd.Flags().StringVarP(&outputFormat, "format", "f", "parquet", "Cleaned data format (parquet, csv)")
		cmd.Flags().StringVar(&compressionFlag, "compression", "snappy", "Parquet compression (none, snappy, gzip, zstd)")
		cmd.Flags().IntVar(&batchSize, "batch-size", writer.DefaultConfig().BatchSize, "Rows per Parquet row group")
		cmd.Flags().BoolVar(&financialMode, "financial", false, "Use the financial cleaning pipeline")
	}
	processCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the JSON report instead of the summary")
	processCmd.Flags().IntVar(&showTransforms, "transformations", 10, "Transformations to list (0 hides them)")
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", 0, "Concurrent files (default from config)")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(batchCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg := manager.Get()
	if err := checkFormat(); err != nil {
		return err
	}
	shutdown, err := startTelemetry(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer shutdown(cmd.Context())

	pre := newPreprocessor(cfg)
	res := runFile(cmd, pre, args[0])

	if outputDir != "" {
		if err := writeOutputs(res, args[0]); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := writer.WriteJSON(out, res); err != nil {
			return err
		}
	} else {
		tui.PrintHeader(out, version)
		tui.PrintResult(out, res, tui.Options{Transformations: showTransforms, Verbose: verbose})
		if outputDir != "" && res.OK() {
			fmt.Fprintf(out, "  Output written to %s\n\n", outputDir)
		}
	}
	if !res.OK() {
		return res.Err()
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg := manager.Get()
	if err := checkFormat(); err != nil {
		return err
	}
	files, err := collectFiles(args, ingestOptions(cfg).AllowedExtensions)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New(errors.CodeEmptyInput, "no supported files found")
	}
	shutdown, err := startTelemetry(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer shutdown(cmd.Context())

	workers := batchWorkers
	if workers <= 0 {
		workers = max(1, cfg.Processing.Workers)
	}

	pre := newPreprocessor(cfg)
	out := cmd.OutOrStdout()
	tui.PrintHeader(out, version)
	bar := tui.ShowProgress(cmd.ErrOrStderr(), len(files), "processing")

	entries := make([]tui.BatchEntry, len(files))
	var (
		mu        sync.Mutex
		writeErrs errors.MultiError
	)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			start := time.Now()
			res := runFile(cmd, pre, path)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			entries[i] = tui.BatchEntry{Path: path, Result: res, Elapsed: time.Since(start)}
			if outputDir != "" {
				if err := writeOutputs(res, path); err != nil {
					mu.Lock()
					writeErrs.Add(errors.Wrapf(err, errors.CodeWriteFailed, "write outputs for %s", filepath.Base(path)))
					mu.Unlock()
				}
			}
			return bar.Add(1)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	_ = bar.Finish()

	tui.PrintBatch(out, entries)
	return batchError(entries, &writeErrs)
}

// batchError combines every output write failure with a summary of the
// files that failed processing.
func batchError(entries []tui.BatchEntry, errs *errors.MultiError) error {
	if n := countFailed(entries); n > 0 {
		errs.Add(errors.Newf(errors.CodeStageFailed, "%d of %d files failed", n, len(entries)))
	}
	return errs.Combined()
}

func runFile(cmd *cobra.Command, pre *preprocess.Preprocessor, path string) *preprocess.Result {
	if financialMode {
		return pre.FinancialFile(cmd.Context(), path)
	}
	return pre.ProcessFile(cmd.Context(), path)
}

func checkFormat() error {
	switch outputFormat {
	case "parquet", "csv":
		return nil
	}
	return errors.Newf(errors.CodeUnsupportedType, "unknown output format %q (parquet, csv)", outputFormat)
}

func countFailed(entries []tui.BatchEntry) int {
	n := 0
	for _, e := range entries {
		if !e.Result.OK() {
			n++
		}
	}
	return n
}

// collectFiles expands directories one level and keeps files whose
// extension is allowed. Explicit file arguments are kept as given.
func collectFiles(args []string, exts []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, errors.FileNotFound(arg)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeFileNotFound, "read directory").WithContext("dir", arg)
		}
		for _, e := range entries {
			name := e.Name()
			if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
				continue
			}
			if slices.Contains(exts, strings.ToLower(filepath.Ext(name))) {
				files = append(files, filepath.Join(arg, name))
			}
		}
	}
	return files, nil
}

// writeOutputs writes <base>.report.json and one cleaned file per sheet
// that produced data into outputDir.
func writeOutputs(res *preprocess.Result, input string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "create output directory").WithContext("dir", outputDir)
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))

	if err := writeFile(filepath.Join(outputDir, base+".report.json"), func(f *os.File) error {
		return writer.WriteJSON(f, res)
	}); err != nil {
		return err
	}

	wcfg := writer.DefaultConfig()
	wcfg.Compression = writer.ParseCompression(compressionFlag)
	if batchSize > 0 {
		wcfg.BatchSize = batchSize
	}

	sheets := res.SheetNames()
	for _, name := range sheets {
		sr := res
		if s, ok := res.Sheets[name]; ok {
			sr = s
		}
		if sr.Data == nil {
			continue
		}
		stem := base
		if len(sheets) > 1 {
			stem = base + "_" + sanitize(name)
		}
		path := filepath.Join(outputDir, stem+"."+outputFormat)
		err := writeFile(path, func(f *os.File) error {
			if outputFormat == "csv" {
				return writer.WriteCSV(f, sr.Data)
			}
			cfg := wcfg
			cfg.Metadata = map[string]string{
				"tabprep.source": filepath.Base(input),
				"tabprep.sheet":  name,
				"tabprep.run_id": sr.ID(),
			}
			return writer.WriteParquet(f, sr.Data, sr.Metadata.Signatures, cfg)
		})
		if err != nil {
			return err
		}
		logger.Debug("wrote cleaned data", "path", path, "rows", sr.Data.NumRows())
	}
	return nil
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "create output").WithContext("path", path)
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "close output").WithContext("path", path)
	}
	return nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}
