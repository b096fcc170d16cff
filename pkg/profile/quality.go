package profile

import (
	"math"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/infer"
)

// Quality dimension weights. They sum to 1.
const (
	WeightCompleteness = 0.3
	WeightUniqueness   = 0.2
	WeightValidity     = 0.3
	WeightConsistency  = 0.2

	warningPenalty    = 2.0
	maxWarningPenalty = 20.0
)

// Stages a quality score can be computed at.
const (
	StagePreCleaning  = "pre_cleaning"
	StagePostCleaning = "post_cleaning"
)

// QualityScore holds the four dimensions and their weighted total, each on
// a 0-100 scale.
type QualityScore struct {
	Stage        string  `json:"stage"`
	Overall      float64 `json:"overall_score"`
	Completeness float64 `json:"completeness"`
	Uniqueness   float64 `json:"uniqueness"`
	Validity     float64 `json:"validity"`
	Consistency  float64 `json:"consistency"`
}

func (q *QualityScore) total() {
	q.Overall = q.Completeness*WeightCompleteness +
		q.Uniqueness*WeightUniqueness +
		q.Validity*WeightValidity +
		q.Consistency*WeightConsistency
	q.Overall = math.Max(0, math.Min(100, q.Overall))
}

// UniquenessScore buckets a unique ratio into a 0-100 score.
func UniquenessScore(ratio float64) float64 {
	switch {
	case ratio >= 1.0:
		return 100
	case ratio >= 0.9:
		return 90
	case ratio >= 0.7:
		return 70
	case ratio >= 0.5:
		return 50
	default:
		return ratio * 100
	}
}

func uniqueRatio(col *model.Column) float64 {
	if col.Len() == 0 {
		return 0
	}
	seen := make(map[string]struct{})
	for _, v := range col.Values {
		if !v.IsNull() {
			seen[v.String()] = struct{}{}
		}
	}
	return float64(len(seen)) / float64(col.Len())
}

// Completeness is the share of non-null cells, 0-100.
func Completeness(t *model.Table) float64 {
	cells := t.CellCount()
	if cells == 0 {
		return 0
	}
	nulls := 0
	for _, c := range t.Columns {
		nulls += c.NullCount()
	}
	return float64(cells-nulls) / float64(cells) * 100
}

// Uniqueness averages the per-column uniqueness scores.
func Uniqueness(t *model.Table) float64 {
	if t.NumColumns() == 0 {
		return 0
	}
	var sum float64
	for _, c := range t.Columns {
		sum += UniquenessScore(uniqueRatio(c))
	}
	return sum / float64(t.NumColumns())
}

// Mixed reports whether the non-null cells of col span more than one value
// family.
func Mixed(col *model.Column) bool {
	family := ""
	for _, v := range col.Values {
		if v.IsNull() {
			continue
		}
		f := v.Family()
		if family == "" {
			family = f
		} else if f != family {
			return true
		}
	}
	return false
}

// Consistency is the share of columns without mixed value families, 0-100.
func Consistency(t *model.Table) float64 {
	if t.NumColumns() == 0 {
		return 0
	}
	mixed := 0
	for _, c := range t.Columns {
		if Mixed(c) {
			mixed++
		}
	}
	return (1 - float64(mixed)/float64(t.NumColumns())) * 100
}

// QualityScores scores a raw table. Validity is the mean inference
// confidence.
func QualityScores(t *model.Table, sigs infer.Signatures) QualityScore {
	q := QualityScore{
		Stage:        StagePreCleaning,
		Completeness: Completeness(t),
		Uniqueness:   Uniqueness(t),
		Validity:     sigs.MeanConfidence() * 100,
		Consistency:  Consistency(t),
	}
	q.total()
	return q
}

// FinalScores scores a cleaned table. Validity starts at 100 and loses two
// points per cleaning warning, at most twenty. Consistency is measured on
// the raw table, since cleaning erases mixed types by construction.
func FinalScores(raw, cleaned *model.Table, warnings int) QualityScore {
	q := QualityScore{
		Stage:        StagePostCleaning,
		Completeness: Completeness(cleaned),
		Uniqueness:   Uniqueness(cleaned),
		Validity:     100 - math.Min(warningPenalty*float64(warnings), maxWarningPenalty),
		Consistency:  Consistency(raw),
	}
	q.total()
	return q
}
