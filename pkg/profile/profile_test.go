package profile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/infer"
)

func sig(name string, t infer.DetectedType, conf float64) infer.Signature {
	return infer.Signature{Column: name, Type: t, Confidence: conf}
}

func TestOutliersIQR(t *testing.T) {
	s := Outliers([]float64{1, 2, 3, 4, 100})

	assert.Equal(t, 1, s.Count)
	assert.Equal(t, -1.0, s.LowerBound)
	assert.Equal(t, 7.0, s.UpperBound)
	assert.Equal(t, []float64{100}, s.Values)
	assert.Equal(t, 20.0, s.Percentage)

	assert.Zero(t, Outliers(nil).Count)
}

func TestOutliersListsEveryValue(t *testing.T) {
	values := make([]float64, 0, 115)
	for i := 0; i < 100; i++ {
		values = append(values, float64(i%10))
	}
	for i := 1; i <= 15; i++ {
		values = append(values, float64(1000*i))
	}

	s := Outliers(values)
	assert.Equal(t, 15, s.Count)
	require.Len(t, s.Values, 15)
	assert.Equal(t, 1000.0, s.Values[0])
	assert.Equal(t, 15000.0, s.Values[14])
}

func TestUniquenessScore(t *testing.T) {
	tests := []struct {
		ratio float64
		want  float64
	}{
		{1.0, 100},
		{0.95, 90},
		{0.9, 90},
		{0.75, 70},
		{0.55, 50},
		{0.3, 30},
		{0, 0},
	}
	for _, tt := range tests {
		if got := UniquenessScore(tt.ratio); got != tt.want {
			t.Errorf("UniquenessScore(%v) = %v, want %v", tt.ratio, got, tt.want)
		}
	}
}

func TestNumericStats(t *testing.T) {
	s := numericStats([]float64{100, 1, 3, 2, 4})

	assert.Equal(t, 5, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 100.0, s.Max)
	assert.Equal(t, 22.0, s.Mean)
	assert.Equal(t, 3.0, s.Median)
	assert.Equal(t, 1.0, s.Mode)
	assert.Equal(t, 2.0, s.Q1)
	assert.Equal(t, 4.0, s.Q3)
	assert.Equal(t, 2.0, s.IQR)
	assert.InDelta(t, 1902.5, s.Variance, 1e-9)
	assert.Greater(t, s.Skewness, 0.0)
	assert.Greater(t, s.Kurtosis, 0.0)
}

func TestNumericStatsSmallSamples(t *testing.T) {
	s := numericStats([]float64{5})
	assert.Zero(t, s.Std)
	assert.Zero(t, s.Skewness)
	assert.Zero(t, s.Kurtosis)

	assert.NotEmpty(t, numericStats(nil).Error)
}

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	assert.Equal(t, 1.75, Quantile(sorted, 0.25))
	assert.Equal(t, 2.5, Quantile(sorted, 0.5))
	assert.Equal(t, 3.25, Quantile(sorted, 0.75))
	assert.Zero(t, Quantile(nil, 0.5))
}

func TestNumericValue(t *testing.T) {
	tests := []struct {
		in   model.Value
		want float64
		ok   bool
	}{
		{model.String("$1,990"), 1990, true},
		{model.String("15%"), 15, true},
		{model.String("(250)"), -250, true},
		{model.Int(3), 3, true},
		{model.String("n/a"), 0, false},
		{model.Null(), 0, false},
	}
	for _, tt := range tests {
		got, ok := NumericValue(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in.String())
		assert.Equal(t, tt.want, got, tt.in.String())
	}
}

func TestQualityScores(t *testing.T) {
	tbl := model.FromRecords(
		[]string{"a", "b"},
		[][]string{{"1", "x"}, {"2", "x"}, {"3", ""}, {"4", "y"}},
	)
	sigs := infer.Signatures{sig("a", infer.TypeInteger, 1.0), sig("b", infer.TypeText, 0.8)}

	q := QualityScores(tbl, sigs)
	assert.Equal(t, StagePreCleaning, q.Stage)
	assert.InDelta(t, 87.5, q.Completeness, 1e-9)
	assert.InDelta(t, 75.0, q.Uniqueness, 1e-9)
	assert.InDelta(t, 90.0, q.Validity, 1e-9)
	assert.InDelta(t, 100.0, q.Consistency, 1e-9)
	assert.InDelta(t, 88.25, q.Overall, 1e-9)
}

func TestFinalScoresPenalty(t *testing.T) {
	raw := model.NewTable(
		model.NewColumn("a", model.Int(1), model.String("x")),
		model.StringColumn("b", "p", "q"),
	)
	cleaned := model.NewTable(
		model.NewColumn("a", model.Int(1), model.Null()),
		model.StringColumn("b", "p", "q"),
	)

	q := FinalScores(raw, cleaned, 3)
	assert.Equal(t, StagePostCleaning, q.Stage)
	assert.Equal(t, 94.0, q.Validity)
	assert.Equal(t, 50.0, q.Consistency)
	assert.Equal(t, 75.0, q.Completeness)

	assert.Equal(t, 80.0, FinalScores(raw, cleaned, 50).Validity)
}

func TestEmptyTableScores(t *testing.T) {
	q := QualityScores(model.NewTable(), nil)
	assert.Zero(t, q.Overall)
}

func TestCorrelations(t *testing.T) {
	tbl := model.NewTable(
		model.StringColumn("x", "1", "2", "3", "4"),
		model.StringColumn("y", "2", "4", "6", "8"),
		model.StringColumn("z", "4", "3", "2", "1"),
		model.StringColumn("label", "a", "b", "c", "d"),
	)
	sigs := infer.Signatures{
		sig("x", infer.TypeInteger, 1),
		sig("y", infer.TypeInteger, 1),
		sig("z", infer.TypeInteger, 1),
		sig("label", infer.TypeText, 0.8),
	}

	rep := Correlations(tbl, sigs)
	assert.Equal(t, []string{"x", "y", "z"}, rep.Columns)
	assert.InDelta(t, 1.0, rep.Matrix["x"]["y"], 1e-9)
	assert.InDelta(t, rep.Matrix["x"]["z"], rep.Matrix["z"]["x"], 1e-12)
	assert.Equal(t, 1.0, rep.Matrix["x"]["x"])
	require.Len(t, rep.Strong, 3)
	assert.Equal(t, "negative", rep.Strong[1].Direction)

	single := Correlations(tbl, infer.Signatures{sig("x", infer.TypeInteger, 1)})
	assert.NotEmpty(t, single.Message)
}

func TestProfile(t *testing.T) {
	tbl := model.FromRecords(
		[]string{"price", "joined", "tier", "notes"},
		[][]string{
			{"$1,990", "2024-01-01", "gold", "hello"},
			{"$25.00", "2024-01-31", "gold", "  "},
			{"$4,650", "bad", "silver", "hi there"},
			{"", "2024-01-15", "gold", "x"},
		},
	)
	sigs := infer.Signatures{
		sig("price", infer.TypeCurrency, 1),
		sig("joined", infer.TypeDate, 1),
		sig("tier", infer.TypeCategorical, 0.9),
		sig("notes", infer.TypeText, 0.8),
	}

	prof := New(WithTopN(2)).Profile(tbl, sigs)
	assert.Equal(t, 4, prof.Dataset.Rows)
	assert.Equal(t, 1, prof.Dataset.NullCounts["price"])
	assert.Equal(t, 1, prof.Dataset.TypeCounts["currency"])

	price, ok := prof.Column("price")
	require.True(t, ok)
	require.NotNil(t, price.Numeric)
	assert.Equal(t, 3, price.Numeric.Count)
	assert.Equal(t, 25.0, price.Numeric.Min)
	assert.Equal(t, 75.0, price.Completeness)

	joined, _ := prof.Column("joined")
	require.NotNil(t, joined.Date)
	assert.Equal(t, 30, joined.Date.RangeDays)
	assert.Equal(t, 3, joined.Date.UniqueDates)

	tier, _ := prof.Column("tier")
	require.NotNil(t, tier.Categorical)
	assert.Equal(t, "gold", tier.Categorical.MostCommon)
	assert.Equal(t, 3.0, tier.Categorical.ImbalanceRatio)
	assert.Len(t, tier.TopValues, 2)

	notes, _ := prof.Column("notes")
	require.NotNil(t, notes.Text)
	assert.Equal(t, 1, notes.Text.EmptyStrings)
	assert.Equal(t, 8, notes.Text.MaxLength)

	_, err := json.Marshal(prof)
	assert.NoError(t, err)
}

func TestProfileColumnWithoutSignature(t *testing.T) {
	tbl := model.FromRecords([]string{"price", "extra"}, [][]string{{"$1", "a"}, {"$2", "b"}})
	prof := New().Profile(tbl, infer.Signatures{sig("price", infer.TypeCurrency, 1)})

	assert.Equal(t, 1, prof.Dataset.TypeCounts["unknown"])
	extra, ok := prof.Column("extra")
	require.True(t, ok)
	assert.Nil(t, extra.Text)
	assert.Nil(t, extra.Numeric)
}

func TestProfileSingleValueColumnEncodes(t *testing.T) {
	tbl := model.FromRecords([]string{"n"}, [][]string{{"5"}})
	prof := New().Profile(tbl, infer.Signatures{sig("n", infer.TypeInteger, 1)})

	_, err := json.Marshal(prof)
	assert.NoError(t, err)
}
