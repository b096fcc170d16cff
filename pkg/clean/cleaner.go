// Package clean converts raw column values into typed values using one
// strategy per detected type. Failed cells become null and are reported as
// warnings; cleaning never aborts a column.
package clean

import (
	"log/slog"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/infer"
)

// Cleaner applies type-specific strategies. The strategy table is built
// per instance and never modified afterwards.
type Cleaner struct {
	strategies map[infer.DetectedType]strategy
	logger     *slog.Logger
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithLogger sets the cleaner logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cleaner) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Cleaner with a strategy for every detected type.
func New(opts ...Option) *Cleaner {
	c := &Cleaner{
		strategies: defaultStrategies(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Operation names the strategy used for a type.
func (c *Cleaner) Operation(t infer.DetectedType) string {
	if st, ok := c.strategies[t]; ok {
		return st.operation
	}
	return passthrough.operation
}

// CleanTable cleans every column of t. Columns without a signature pass
// through unchanged. The input table is not modified.
func (c *Cleaner) CleanTable(t *model.Table, sigs infer.Signatures) (*model.Table, *Report) {
	out := &model.Table{Columns: make([]*model.Column, len(t.Columns))}
	report := &Report{Columns: make([]ColumnReport, 0, len(t.Columns))}

	for i, col := range t.Columns {
		sig, ok := sigs.Get(col.Name)
		var cr ColumnReport
		if ok {
			out.Columns[i], cr = c.CleanColumn(col, sig)
		} else {
			out.Columns[i], cr = c.apply(col, infer.Signature{Column: col.Name}, passthrough)
		}
		report.Columns = append(report.Columns, cr)
	}

	c.logger.Info("table cleaned",
		"columns", len(out.Columns),
		"warnings", report.WarningCount())
	return out, report
}

// CleanColumn cleans one column according to its signature.
func (c *Cleaner) CleanColumn(col *model.Column, sig infer.Signature) (*model.Column, ColumnReport) {
	st, ok := c.strategies[sig.Type]
	if !ok {
		st = passthrough
	}
	return c.apply(col, sig, st)
}

func (c *Cleaner) apply(col *model.Column, sig infer.Signature, st strategy) (*model.Column, ColumnReport) {
	rep := ColumnReport{
		Column:    col.Name,
		Type:      sig.Type,
		Operation: st.operation,
	}
	fn := st.build(col, sig, &rep)

	out := &model.Column{Name: col.Name, Values: make([]model.Value, col.Len())}
	for i, v := range col.Values {
		if v.IsNull() {
			rep.Nulled++
			continue
		}
		cleaned, err := fn(v)
		if err != nil {
			rep.Warnings = append(rep.Warnings, Warning{
				Column: col.Name,
				Row:    i,
				Value:  v.String(),
				Issue:  err.Error(),
				Action: st.action,
			})
		}
		if err != nil || cleaned.IsNull() {
			rep.Nulled++
			continue
		}
		out.Values[i] = cleaned
		rep.Converted++
	}

	if len(rep.Warnings) > 0 {
		c.logger.Debug("column cleaned with warnings",
			"column", col.Name,
			"operation", st.operation,
			"warnings", len(rep.Warnings))
	}
	return out, rep
}
