// Package preprocess runs the tabular preprocessing pipeline: layout
// cleanup, type inference, type-aware cleaning, profiling and quality
// scoring, with every stage recorded by a monitor.
//
// A stage that fails or panics is recorded and the run continues with the
// stage's default output. Only ingestion failures fail a run.
package preprocess

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/clean"
	"github.com/logflow/tabprep/pkg/errors"
	"github.com/logflow/tabprep/pkg/infer"
	"github.com/logflow/tabprep/pkg/ingest"
	"github.com/logflow/tabprep/pkg/layout"
	"github.com/logflow/tabprep/pkg/monitor"
	"github.com/logflow/tabprep/pkg/profile"
)

const (
	tableStages     = 5
	fileStages      = 6
	financialStages = 3

	// Cleaned samples kept per column in the transformation ledger.
	ledgerSample = 3
)

// Preprocessor wires the pipeline components. It holds no per-run state
// and is safe for concurrent use.
type Preprocessor struct {
	engine   *infer.Engine
	cleaner  *clean.Cleaner
	profiler *profile.Profiler
	ingest   ingest.Options
	workers  int
	tracer   trace.Tracer
	logger   *slog.Logger
}

// Option configures a Preprocessor.
type Option func(*Preprocessor)

// WithLogger sets the logger passed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(p *Preprocessor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithIngestOptions sets file validation and parsing limits.
func WithIngestOptions(o ingest.Options) Option {
	return func(p *Preprocessor) { p.ingest = o }
}

// WithSheetWorkers bounds how many sheets of a workbook run at once.
func WithSheetWorkers(n int) Option {
	return func(p *Preprocessor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithTracer sets the tracer used for run and node spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Preprocessor) { p.tracer = t }
}

// New creates a Preprocessor with its own engine, cleaner and profiler.
func New(opts ...Option) *Preprocessor {
	p := &Preprocessor{
		ingest:  ingest.DefaultOptions(),
		workers: 4,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.engine = infer.NewEngine(infer.WithLogger(p.logger))
	p.cleaner = clean.New(clean.WithLogger(p.logger))
	p.profiler = profile.New(profile.WithLogger(p.logger))
	return p
}

// RunOption configures a single run.
type RunOption func(*runConfig)

type runConfig struct {
	id       string
	progress func(monitor.Status)
}

// WithRunID fixes the processing ID of the run (the primary sheet for
// workbooks).
func WithRunID(id string) RunOption {
	return func(c *runConfig) { c.id = id }
}

// WithProgress receives a status snapshot after every node transition.
func WithProgress(fn func(monitor.Status)) RunOption {
	return func(c *runConfig) { c.progress = fn }
}

func (p *Preprocessor) newMonitor(meta model.FileMetadata, expected int, opts []RunOption) *monitor.Monitor {
	var rc runConfig
	for _, opt := range opts {
		opt(&rc)
	}
	mopts := []monitor.Option{
		monitor.WithLogger(p.logger),
		monitor.WithExpectedNodes(expected),
		monitor.WithID(rc.id),
	}
	if p.tracer != nil {
		mopts = append(mopts, monitor.WithTracer(p.tracer))
	}
	var mon *monitor.Monitor
	if rc.progress != nil {
		mopts = append(mopts, monitor.WithNodeHook(func(monitor.NodeStatus) {
			rc.progress(mon.Status())
		}))
	}
	mon = monitor.New(meta, mopts...)
	return mon
}

// stage runs fn as a monitored node. Panics become errors; the returned
// error is already recorded on the monitor.
func (p *Preprocessor) stage(ctx context.Context, mon *monitor.Monitor, name string, fn func(context.Context) error) (err error) {
	node := mon.StartNode(ctx, name)
	defer func() {
		if r := recover(); r != nil {
			err = errors.Panic(name, r)
		}
		if err != nil && errors.GetCode(err) == errors.CodeUnknown {
			err = errors.StageFailed(name, err)
		}
		mon.CompleteNode(node, err)
	}()
	return fn(node.Context())
}

// Process runs the pipeline over a decoded table.
func (p *Preprocessor) Process(ctx context.Context, t *model.Table, meta model.FileMetadata, opts ...RunOption) *Result {
	mon := p.newMonitor(meta, tableStages, opts)
	ctx = mon.Start(ctx)
	if t == nil {
		err := errors.New(errors.CodeEmptyInput, "no table to process")
		return failed(mon, err)
	}
	return p.run(ctx, mon, t)
}

func (p *Preprocessor) run(ctx context.Context, mon *monitor.Monitor, t *model.Table) *Result {
	res := &Result{Status: StatusSuccess}
	res.Metadata.OriginalShape = shapeOf(t)

	raw := t
	_ = p.stage(ctx, mon, StageLayout, func(context.Context) error {
		if err := t.Validate(); err != nil {
			return err
		}
		stripped, info := layout.Strip(t)
		raw = stripped
		res.Metadata.Layout = info
		logLayout(mon, info)
		return nil
	})

	sigs := infer.Signatures{}
	_ = p.stage(ctx, mon, StageInference, func(context.Context) error {
		sigs = p.engine.InferTable(raw)
		return nil
	})
	res.Metadata.Signatures = sigs

	cleaned := raw
	report := &clean.Report{}
	_ = p.stage(ctx, mon, StageCleaning, func(context.Context) error {
		out, rep := p.cleaner.CleanTable(raw, sigs)
		logCleaning(mon, raw, out, rep)
		cleaned, report = out, rep
		return nil
	})
	res.Metadata.Cleaning = report

	_ = p.stage(ctx, mon, StageProfiling, func(context.Context) error {
		prof := p.profiler.Profile(raw, sigs)
		res.Metadata.Profile = prof
		res.Metadata.InitialQuality = prof.Quality
		return nil
	})

	_ = p.stage(ctx, mon, StageQuality, func(context.Context) error {
		res.Quality = profile.FinalScores(raw, cleaned, report.WarningCount())
		return nil
	})

	res.Data = cleaned
	res.Metadata.FinalShape = shapeOf(cleaned)
	mon.SetDatasetSize(res.Metadata.FinalShape.Rows, res.Metadata.FinalShape.Columns)
	res.finish(mon.Finalize(res.Quality.Overall))
	return res
}

// ProcessWorkbook runs every sheet independently and concurrently. The
// first sheet is the primary one.
func (p *Preprocessor) ProcessWorkbook(ctx context.Context, wb *model.Workbook, meta model.FileMetadata, opts ...RunOption) *Result {
	if wb.Primary() == nil {
		mon := p.newMonitor(meta, tableStages, opts)
		mon.Start(ctx)
		return failed(mon, errors.New(errors.CodeEmptyInput, "workbook has no sheets"))
	}

	results := make([]*Result, len(wb.Sheets))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, sheet := range wb.Sheets {
		var ropts []RunOption
		if i == 0 {
			ropts = opts
		}
		g.Go(func() error {
			results[i] = p.Process(ctx, sheet.Table, meta, ropts...)
			return nil
		})
	}
	_ = g.Wait()
	return combine(wb.SheetNames(), results)
}

// ProcessFile loads a CSV or Excel file and processes every sheet. The
// ingestion stage is recorded on the primary sheet's monitor.
func (p *Preprocessor) ProcessFile(ctx context.Context, path string, opts ...RunOption) *Result {
	mon := p.newMonitor(model.FileMetadata{Name: filepath.Base(path), Path: path}, fileStages, opts)
	ctx = mon.Start(ctx)

	var (
		wb   *model.Workbook
		meta model.FileMetadata
	)
	err := p.stage(ctx, mon, StageIngestion, func(ctx context.Context) error {
		var err error
		wb, meta, err = ingest.Load(ctx, path, p.ingest)
		return err
	})
	if err != nil {
		p.logger.Error("ingestion failed", "file", path, "error", err)
		return failed(mon, err)
	}
	mon.SetFile(meta)

	results := make([]*Result, len(wb.Sheets))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, sheet := range wb.Sheets {
		g.Go(func() error {
			if i == 0 {
				results[i] = p.run(ctx, mon, sheet.Table)
			} else {
				results[i] = p.Process(ctx, sheet.Table, meta)
			}
			return nil
		})
	}
	_ = g.Wait()
	return combine(wb.SheetNames(), results)
}

func combine(names []string, results []*Result) *Result {
	for i, r := range results {
		r.Sheet = names[i]
	}
	if len(results) == 1 {
		return results[0]
	}
	top := *results[0]
	top.Primary = names[0]
	top.order = names
	top.Sheets = make(map[string]*Result, len(results))
	for i, r := range results {
		top.Sheets[names[i]] = r
	}
	return &top
}

func logLayout(mon *monitor.Monitor, info layout.Info) {
	for _, group := range []struct {
		op   string
		rows []layout.RemovedRow
	}{
		{"remove_subsection_headers", info.SubsectionHeaders},
		{"remove_blank_rows", info.BlankRows},
	} {
		if len(group.rows) == 0 {
			continue
		}
		var before []string
		for _, row := range group.rows[:min(len(group.rows), ledgerSample)] {
			before = append(before, fmt.Sprintf("row %d: %s", row.Index, firstCell(row.Values)))
		}
		mon.LogTransformation(monitor.Transformation{
			Node:         StageLayout,
			Operation:    group.op,
			Before:       before,
			RowsAffected: len(group.rows),
		})
	}
}

func firstCell(vals []model.Value) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0].String()
}

func logCleaning(mon *monitor.Monitor, raw, cleaned *model.Table, rep *clean.Report) {
	for _, cr := range rep.Columns {
		before, after := samplePairs(raw.Column(cr.Column), cleaned.Column(cr.Column))
		mon.LogTransformation(monitor.Transformation{
			Node:         StageCleaning,
			Operation:    cr.Operation,
			Column:       cr.Column,
			Before:       before,
			After:        after,
			RowsAffected: cr.Converted,
		})
		for _, w := range cr.Warnings {
			mon.LogWarning(StageCleaning,
				fmt.Sprintf("column %q row %d: %s (%q)", w.Column, w.Row, w.Issue, w.Value),
				w.Action)
		}
	}
}

// samplePairs returns the first non-null raw values with their cleaned
// counterparts.
func samplePairs(raw, cleaned *model.Column) (before, after []string) {
	if raw == nil || cleaned == nil {
		return nil, nil
	}
	for i, v := range raw.Values {
		if len(before) == ledgerSample {
			break
		}
		if v.IsNull() || i >= cleaned.Len() {
			continue
		}
		before = append(before, v.String())
		after = append(after, cleaned.Values[i].String())
	}
	return before, after
}
