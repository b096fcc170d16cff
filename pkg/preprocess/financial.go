package preprocess

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/clean"
	"github.com/logflow/tabprep/pkg/errors"
	"github.com/logflow/tabprep/pkg/ingest"
	"github.com/logflow/tabprep/pkg/monitor"
	"github.com/logflow/tabprep/pkg/profile"
)

// Financial runs the standalone financial-statement path: layout cleanup
// and regex-based currency and numeric conversion, without type inference.
func (p *Preprocessor) Financial(ctx context.Context, t *model.Table, meta model.FileMetadata, opts ...RunOption) *Result {
	mon := p.newMonitor(meta, financialStages, opts)
	ctx = mon.Start(ctx)
	if t == nil {
		return failed(mon, errors.New(errors.CodeEmptyInput, "no table to process"))
	}
	return p.financial(ctx, mon, t)
}

// FinancialFile loads a file and runs the financial path over its primary
// sheet.
func (p *Preprocessor) FinancialFile(ctx context.Context, path string, opts ...RunOption) *Result {
	mon := p.newMonitor(model.FileMetadata{Name: filepath.Base(path), Path: path}, financialStages+1, opts)
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

	sheet := wb.Primary()
	res := p.financial(ctx, mon, sheet.Table)
	res.Sheet = sheet.Name
	return res
}

func (p *Preprocessor) financial(ctx context.Context, mon *monitor.Monitor, t *model.Table) *Result {
	res := &Result{Status: StatusSuccess}
	res.Metadata.OriginalShape = shapeOf(t)

	cleaned := t
	var report clean.FinancialReport
	_ = p.stage(ctx, mon, StageFinancialCleaning, func(context.Context) error {
		if err := t.Validate(); err != nil {
			return err
		}
		out, rep := p.cleaner.Financial(t)
		cleaned, report = out, rep
		res.Metadata.Layout = rep.Layout
		res.Metadata.Financial = &rep
		for _, op := range rep.Operations {
			mon.LogTransformation(monitor.Transformation{
				Node:         StageFinancialCleaning,
				Operation:    op,
				RowsAffected: rep.FinalRows,
			})
		}
		for _, w := range rep.Warnings {
			mon.LogWarning(StageFinancialCleaning,
				fmt.Sprintf("column %q row %d: %s (%q)", w.Column, w.Row, w.Issue, w.Value),
				w.Action)
		}
		return nil
	})

	_ = p.stage(ctx, mon, StageFinancialValidation, func(context.Context) error {
		v := clean.ValidateFinancial(cleaned, report)
		res.Metadata.Validation = &v
		if !v.Passed {
			mon.LogWarning(StageFinancialValidation,
				fmt.Sprintf("%d blank rows remain, %d columns hold non-numeric cells", v.RemainingBlankRows, len(v.NonNumericCells)),
				"review the source layout")
		}
		return nil
	})

	_ = p.stage(ctx, mon, StageQuality, func(context.Context) error {
		res.Quality = profile.FinalScores(t, cleaned, len(report.Warnings))
		return nil
	})

	res.Data = cleaned
	res.Metadata.FinalShape = shapeOf(cleaned)
	mon.SetDatasetSize(res.Metadata.FinalShape.Rows, res.Metadata.FinalShape.Columns)
	res.finish(mon.Finalize(res.Quality.Overall))
	return res
}
