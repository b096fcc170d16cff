package profile

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"gonum.org/v1/gonum/stat"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/infer"
)

// NumericStats describes a numeric column. Moments that need more values
// than are present are reported as zero.
type NumericStats struct {
	Count    int     `json:"count"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	Mode     float64 `json:"mode"`
	Std      float64 `json:"std"`
	Variance float64 `json:"variance"`
	Q1       float64 `json:"q1"`
	Q3       float64 `json:"q3"`
	IQR      float64 `json:"iqr"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"`
	Error    string  `json:"error,omitempty"`
}

// DateStats describes a date column.
type DateStats struct {
	Count       int       `json:"count"`
	Min         time.Time `json:"min_date"`
	Max         time.Time `json:"max_date"`
	RangeDays   int       `json:"date_range_days"`
	UniqueDates int       `json:"unique_dates"`
	Error       string    `json:"error,omitempty"`
}

// CategoricalStats describes a categorical column.
type CategoricalStats struct {
	Categories       int      `json:"total_categories"`
	MostCommon       string   `json:"most_common"`
	MostCommonCount  int      `json:"most_common_count"`
	LeastCommon      string   `json:"least_common"`
	LeastCommonCount int      `json:"least_common_count"`
	ImbalanceRatio   float64  `json:"category_imbalance"`
	Values           []string `json:"categories"`
}

// TextStats describes a text column by value length in characters.
type TextStats struct {
	MinLength       int     `json:"min_length"`
	MaxLength       int     `json:"max_length"`
	MeanLength      float64 `json:"avg_length"`
	MedianLength    float64 `json:"median_length"`
	TotalCharacters int     `json:"total_characters"`
	EmptyStrings    int     `json:"empty_strings"`
}

// NumericValue reads a cell as a number. Text is read leniently: currency
// symbols, thousands separators, whitespace and a trailing % are ignored,
// and "(x)" is negative.
func NumericValue(v model.Value) (float64, bool) {
	if f, ok := v.Float64(); ok {
		return f, !math.IsInf(f, 0)
	}
	s, ok := v.Str()
	if !ok {
		return 0, false
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == ',' || strings.ContainsRune(infer.CurrencySymbols, r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSuffix(s, "%")
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	if negative {
		s = s[1 : len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if negative {
		f = -f
	}
	return f, true
}

// NumericValues collects the numeric readings of a column's cells.
func NumericValues(col *model.Column) []float64 {
	out := make([]float64, 0, col.Len())
	for _, v := range col.Values {
		if f, ok := NumericValue(v); ok {
			out = append(out, f)
		}
	}
	return out
}

// Quantile returns the q-quantile of sorted values by linear interpolation
// between closest ranks.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func mode(sorted []float64) float64 {
	best, bestCount := sorted[0], 0
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		if j-i > bestCount {
			best, bestCount = sorted[i], j-i
		}
		i = j
	}
	return best
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func numericStats(values []float64) *NumericStats {
	if len(values) == 0 {
		return &NumericStats{Error: "no numeric values"}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	s := &NumericStats{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   stat.Mean(sorted, nil),
		Median: Quantile(sorted, 0.5),
		Mode:   mode(sorted),
		Q1:     Quantile(sorted, 0.25),
		Q3:     Quantile(sorted, 0.75),
	}
	s.IQR = s.Q3 - s.Q1
	if n >= 2 {
		s.Variance = finite(stat.Variance(sorted, nil))
		s.Std = math.Sqrt(s.Variance)
	}
	if s.Std > 0 {
		if n >= 3 {
			s.Skewness = finite(stat.Skew(sorted, nil))
		}
		if n >= 4 {
			s.Kurtosis = finite(stat.ExKurtosis(sorted, nil))
		}
	}
	return s
}

// DateValue reads a time cell or parses a date string.
func DateValue(v model.Value) (time.Time, bool) {
	if t, ok := v.Time(); ok {
		return t, true
	}
	if s, ok := v.Str(); ok {
		return infer.ParseDate(s)
	}
	return time.Time{}, false
}

func dateStats(col *model.Column) *DateStats {
	s := &DateStats{}
	unique := make(map[time.Time]struct{})
	for _, v := range col.Values {
		t, ok := DateValue(v)
		if !ok {
			continue
		}
		t = t.UTC()
		if s.Count == 0 || t.Before(s.Min) {
			s.Min = t
		}
		if s.Count == 0 || t.After(s.Max) {
			s.Max = t
		}
		unique[t] = struct{}{}
		s.Count++
	}
	if s.Count == 0 {
		s.Error = "no parseable dates"
		return s
	}
	s.RangeDays = int(s.Max.Sub(s.Min).Hours() / 24)
	s.UniqueDates = len(unique)
	return s
}

// ValueCount is a value with its frequency.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// valueCounts orders values by descending count, then by value.
func valueCounts(col *model.Column) []ValueCount {
	counts := make(map[string]int)
	for _, v := range col.Values {
		if !v.IsNull() {
			counts[v.String()]++
		}
	}
	out := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func categoricalStats(counts []ValueCount) *CategoricalStats {
	if len(counts) == 0 {
		return &CategoricalStats{}
	}
	first, last := counts[0], counts[len(counts)-1]
	s := &CategoricalStats{
		Categories:       len(counts),
		MostCommon:       first.Value,
		MostCommonCount:  first.Count,
		LeastCommon:      last.Value,
		LeastCommonCount: last.Count,
		ImbalanceRatio:   float64(first.Count) / float64(last.Count),
		Values:           make([]string, len(counts)),
	}
	for i, c := range counts {
		s.Values[i] = c.Value
	}
	sort.Strings(s.Values)
	return s
}

func textStats(col *model.Column) *TextStats {
	var lengths []float64
	s := &TextStats{}
	for _, v := range col.Values {
		if v.IsNull() {
			continue
		}
		str := v.String()
		n := utf8.RuneCountInString(str)
		if strings.TrimSpace(str) == "" {
			s.EmptyStrings++
		}
		if len(lengths) == 0 || n < s.MinLength {
			s.MinLength = n
		}
		if n > s.MaxLength {
			s.MaxLength = n
		}
		s.TotalCharacters += n
		lengths = append(lengths, float64(n))
	}
	if len(lengths) == 0 {
		return s
	}
	sort.Float64s(lengths)
	s.MeanLength = float64(s.TotalCharacters) / float64(len(lengths))
	s.MedianLength = Quantile(lengths, 0.5)
	return s
}

// entropy is the Shannon entropy in bits of the value distribution.
func entropy(counts []ValueCount) float64 {
	total := 0
	for _, c := range counts {
		total += c.Count
	}
	if total == 0 {
		return 0
	}
	h := 0.0
	for _, c := range counts {
		p := float64(c.Count) / float64(total)
		h -= p * math.Log2(p)
	}
	return math.Max(h, 0)
}
