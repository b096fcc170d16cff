// Package profile computes per-column statistics, correlations, outliers
// and quality scores for a table and its inferred signatures.
package profile

import (
	"log/slog"
	"time"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/infer"
)

const defaultTopN = 5

// DatasetInfo summarizes the table as a whole.
type DatasetInfo struct {
	Rows            int                `json:"total_rows"`
	Columns         int                `json:"total_columns"`
	EstimatedBytes  int64              `json:"estimated_bytes"`
	NullCounts      map[string]int     `json:"null_counts"`
	NullPercentages map[string]float64 `json:"null_percentages"`
	TypeCounts      map[string]int     `json:"type_counts"`
}

// ColumnProfile is the profile of a single column.
type ColumnProfile struct {
	Name             string             `json:"name"`
	Type             infer.DetectedType `json:"detected_type"`
	Confidence       float64            `json:"confidence"`
	NullCount        int                `json:"null_count"`
	NullPercentage   float64            `json:"null_percentage"`
	UniqueCount      int                `json:"unique_count"`
	UniquePercentage float64            `json:"unique_percentage"`
	Completeness     float64            `json:"completeness_score"`
	UniquenessScore  float64            `json:"uniqueness_score"`
	Entropy          float64            `json:"entropy_bits"`
	TopValues        []ValueCount       `json:"most_frequent"`

	Numeric     *NumericStats     `json:"numeric,omitempty"`
	Date        *DateStats        `json:"date,omitempty"`
	Categorical *CategoricalStats `json:"categorical,omitempty"`
	Text        *TextStats        `json:"text,omitempty"`
}

// DatasetProfile is the full profiling output.
type DatasetProfile struct {
	GeneratedAt  time.Time         `json:"generated_at"`
	Dataset      DatasetInfo       `json:"dataset_info"`
	Columns      []ColumnProfile   `json:"column_profiles"`
	Quality      QualityScore      `json:"quality_scores"`
	Correlations CorrelationReport `json:"correlations"`
	Outliers     OutlierReport     `json:"outliers"`
}

// Column returns the profile of a column by name.
func (p *DatasetProfile) Column(name string) (ColumnProfile, bool) {
	for _, c := range p.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnProfile{}, false
}

// Profiler builds dataset profiles. It is stateless and safe for
// concurrent use.
type Profiler struct {
	topN   int
	logger *slog.Logger
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithTopN sets how many frequent values each column profile keeps.
func WithTopN(n int) Option {
	return func(p *Profiler) {
		if n > 0 {
			p.topN = n
		}
	}
}

// WithLogger sets the profiler logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Profiler) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Profiler.
func New(opts ...Option) *Profiler {
	p := &Profiler{topN: defaultTopN, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Profile describes t using sigs for type-specific statistics. Numeric
// statistics read text cells leniently, so raw tables profile the same way
// cleaned ones do.
func (p *Profiler) Profile(t *model.Table, sigs infer.Signatures) *DatasetProfile {
	prof := &DatasetProfile{
		GeneratedAt: time.Now().UTC(),
		Dataset: DatasetInfo{
			Rows:            t.NumRows(),
			Columns:         t.NumColumns(),
			EstimatedBytes:  estimateBytes(t),
			NullCounts:      make(map[string]int, t.NumColumns()),
			NullPercentages: make(map[string]float64, t.NumColumns()),
			TypeCounts:      make(map[string]int),
		},
		Columns: make([]ColumnProfile, 0, t.NumColumns()),
	}

	for _, col := range t.Columns {
		sig, ok := sigs.Get(col.Name)
		if !ok {
			sig = infer.Signature{Column: col.Name, Type: infer.TypeUnknown}
		}
		cp := p.column(col, sig)
		prof.Columns = append(prof.Columns, cp)
		prof.Dataset.NullCounts[col.Name] = cp.NullCount
		prof.Dataset.NullPercentages[col.Name] = cp.NullPercentage
		prof.Dataset.TypeCounts[sig.Type.String()]++
	}

	prof.Quality = QualityScores(t, sigs)
	prof.Correlations = Correlations(t, sigs)
	prof.Outliers = outlierReport(t, sigs)

	p.logger.Info("dataset profiled",
		"rows", prof.Dataset.Rows,
		"columns", prof.Dataset.Columns,
		"quality", prof.Quality.Overall,
		"outliers", prof.Outliers.Total)
	return prof
}

func (p *Profiler) column(col *model.Column, sig infer.Signature) ColumnProfile {
	counts := valueCounts(col)
	cp := ColumnProfile{
		Name:        col.Name,
		Type:        sig.Type,
		Confidence:  sig.Confidence,
		NullCount:   col.NullCount(),
		UniqueCount: len(counts),
		Entropy:     entropy(counts),
		TopValues:   counts[:min(p.topN, len(counts))],
	}
	if n := col.Len(); n > 0 {
		cp.NullPercentage = float64(cp.NullCount) / float64(n) * 100
		cp.UniquePercentage = float64(cp.UniqueCount) / float64(n) * 100
		cp.Completeness = 100 - cp.NullPercentage
	}
	cp.UniquenessScore = UniquenessScore(uniqueRatio(col))

	switch {
	case sig.Type.IsNumeric():
		cp.Numeric = numericStats(NumericValues(col))
	case sig.Type == infer.TypeDate:
		cp.Date = dateStats(col)
	case sig.Type == infer.TypeCategorical:
		cp.Categorical = categoricalStats(counts)
	case sig.Type == infer.TypeText:
		cp.Text = textStats(col)
	}
	return cp
}

// estimateBytes approximates in-memory size: text payload plus a fixed
// per-cell overhead.
func estimateBytes(t *model.Table) int64 {
	const cellOverhead = 16
	var n int64
	for _, c := range t.Columns {
		for _, v := range c.Values {
			n += cellOverhead
			if s, ok := v.Str(); ok {
				n += int64(len(s))
			}
		}
	}
	return n
}
