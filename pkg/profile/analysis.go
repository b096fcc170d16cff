package profile

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/infer"
)

const (
	strongCorrelation = 0.7
	iqrFence          = 1.5
)

// CorrelationPair is a strongly correlated column pair.
type CorrelationPair struct {
	Column1     string  `json:"column1"`
	Column2     string  `json:"column2"`
	Correlation float64 `json:"correlation"`
	Direction   string  `json:"direction"`
}

// CorrelationReport holds pairwise Pearson coefficients between numeric
// columns. Pairs without enough overlapping variation are left out.
type CorrelationReport struct {
	Columns []string                      `json:"numeric_columns"`
	Matrix  map[string]map[string]float64 `json:"correlation_matrix"`
	Strong  []CorrelationPair             `json:"strong_correlations"`
	Message string                        `json:"message,omitempty"`
}

// numericColumns returns columns whose signature has a numeric type.
func numericColumns(t *model.Table, sigs infer.Signatures) []*model.Column {
	var cols []*model.Column
	for _, c := range t.Columns {
		if sig, ok := sigs.Get(c.Name); ok && sig.Type.IsNumeric() {
			cols = append(cols, c)
		}
	}
	return cols
}

// Correlations computes Pearson coefficients over rows where both columns
// hold a number.
func Correlations(t *model.Table, sigs infer.Signatures) CorrelationReport {
	cols := numericColumns(t, sigs)
	rep := CorrelationReport{Matrix: make(map[string]map[string]float64)}
	for _, c := range cols {
		rep.Columns = append(rep.Columns, c.Name)
	}
	if len(cols) < 2 {
		rep.Message = "insufficient numeric columns for correlation analysis"
		return rep
	}

	for i, a := range cols {
		for j := i + 1; j < len(cols); j++ {
			b := cols[j]
			r, ok := pearson(a, b)
			if !ok {
				continue
			}
			setCell(rep.Matrix, a.Name, b.Name, r)
			setCell(rep.Matrix, b.Name, a.Name, r)
			if math.Abs(r) > strongCorrelation {
				dir := "positive"
				if r < 0 {
					dir = "negative"
				}
				rep.Strong = append(rep.Strong, CorrelationPair{a.Name, b.Name, r, dir})
			}
		}
		setCell(rep.Matrix, a.Name, a.Name, 1)
	}
	return rep
}

func setCell(m map[string]map[string]float64, a, b string, v float64) {
	if m[a] == nil {
		m[a] = make(map[string]float64)
	}
	m[a][b] = v
}

func pearson(a, b *model.Column) (float64, bool) {
	n := min(a.Len(), b.Len())
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		x, okX := NumericValue(a.Values[i])
		y, okY := NumericValue(b.Values[i])
		if okX && okY {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	if len(xs) < 2 || stat.Variance(xs, nil) == 0 || stat.Variance(ys, nil) == 0 {
		return 0, false
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return math.Max(-1, math.Min(1, r)), true
}

// OutlierStats is the IQR outlier summary for one column.
type OutlierStats struct {
	Count      int       `json:"count"`
	Percentage float64   `json:"percentage"`
	LowerBound float64   `json:"lower_bound"`
	UpperBound float64   `json:"upper_bound"`
	Values     []float64 `json:"outlier_values"`
}

// Outliers flags values outside [Q1 - 1.5 IQR, Q3 + 1.5 IQR]. Every
// outlier is listed in input order.
func Outliers(values []float64) OutlierStats {
	if len(values) == 0 {
		return OutlierStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	q1, q3 := Quantile(sorted, 0.25), Quantile(sorted, 0.75)
	iqr := q3 - q1

	s := OutlierStats{
		LowerBound: q1 - iqrFence*iqr,
		UpperBound: q3 + iqrFence*iqr,
	}
	for _, v := range values {
		if v < s.LowerBound || v > s.UpperBound {
			s.Count++
			s.Values = append(s.Values, v)
		}
	}
	s.Percentage = float64(s.Count) / float64(len(values)) * 100
	return s
}

// OutlierReport holds per-column outlier summaries.
type OutlierReport struct {
	Columns map[string]OutlierStats `json:"columns"`
	Total   int                     `json:"total_outliers"`
}

func outlierReport(t *model.Table, sigs infer.Signatures) OutlierReport {
	rep := OutlierReport{Columns: make(map[string]OutlierStats)}
	for _, c := range numericColumns(t, sigs) {
		values := NumericValues(c)
		if len(values) == 0 {
			continue
		}
		s := Outliers(values)
		rep.Columns[c.Name] = s
		rep.Total += s.Count
	}
	return rep
}
