package clean

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/infer"
)

var (
	markupRe = regexp.MustCompile(`<[^>]+>`)

	errNotFinite = errors.New("not a finite number")
	errNoDate    = errors.New("no known date format")
)

// cellFunc converts one non-null cell.
type cellFunc func(v model.Value) (model.Value, error)

// strategy cleans a column of one detected type. build sees the whole
// column so strategies that need column context (categorical) can set up.
type strategy struct {
	operation string
	action    string
	build     func(col *model.Column, sig infer.Signature, rep *ColumnReport) cellFunc
}

func static(fn cellFunc) func(*model.Column, infer.Signature, *ColumnReport) cellFunc {
	return func(*model.Column, infer.Signature, *ColumnReport) cellFunc { return fn }
}

func defaultStrategies() map[infer.DetectedType]strategy {
	return map[infer.DetectedType]strategy{
		infer.TypeCurrency:    {"currency_normalization", ActionSetNull, static(cleanCurrency)},
		infer.TypePercentage:  {"percentage_normalization", ActionSetNull, static(cleanPercentage)},
		infer.TypeDate:        {"date_parsing", ActionSetNullTime, static(cleanDate)},
		infer.TypeID:          {"id_normalization", ActionSetNull, static(cleanID)},
		infer.TypeInteger:     {"integer_conversion", ActionSetNull, static(cleanInteger)},
		infer.TypeFloat:       {"float_conversion", ActionSetNull, static(cleanFloat)},
		infer.TypeCategorical: {"categorical_standardization", ActionSetNull, buildCategorical},
		infer.TypeText:        {"text_cleaning", ActionSetNull, static(cleanText)},
		infer.TypeEmpty:       passthrough,
		infer.TypeUnknown:     passthrough,
	}
}

var passthrough = strategy{
	operation: "passthrough",
	action:    ActionSetNull,
	build: static(func(v model.Value) (model.Value, error) {
		return v, nil
	}),
}

// collapseSpace trims and folds internal whitespace runs to one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func dropRunes(s, cutset string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || strings.ContainsRune(cutset, r) {
			return -1
		}
		return r
	}, s)
}

func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	return f, nil
}

func conversionErr(v model.Value, target infer.DetectedType, err error) error {
	return &ConversionError{Value: v.String(), Target: target, Err: err}
}

func cleanCurrency(v model.Value) (model.Value, error) {
	if f, ok := v.Float64(); ok {
		return model.Float(f), nil
	}
	s := dropRunes(v.String(), infer.CurrencySymbols+",")
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	if negative {
		s = s[1 : len(s)-1]
	}
	f, err := parseFinite(s)
	if err != nil {
		return model.Null(), conversionErr(v, infer.TypeCurrency, err)
	}
	if negative {
		f = -f
	}
	return model.Float(f), nil
}

// cleanPercentage divides text percentages by 100. Number cells are
// taken to be fractions already, which keeps re-cleaning stable.
func cleanPercentage(v model.Value) (model.Value, error) {
	if f, ok := v.Float64(); ok {
		return model.Float(f), nil
	}
	s := strings.ToLower(strings.TrimSpace(v.String()))
	for _, suffix := range []string{"per cent", "percent", "%"} {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	f, err := parseFinite(dropRunes(s, ""))
	if err != nil {
		return model.Null(), conversionErr(v, infer.TypePercentage, err)
	}
	return model.Float(f / 100), nil
}

func cleanDate(v model.Value) (model.Value, error) {
	if _, ok := v.Time(); ok {
		return v, nil
	}
	t, ok := infer.ParseDate(v.String())
	if !ok {
		return model.Null(), conversionErr(v, infer.TypeDate, errNoDate)
	}
	return model.Time(t), nil
}

func cleanID(v model.Value) (model.Value, error) {
	return model.String(collapseSpace(v.String())), nil
}

func cleanInteger(v model.Value) (model.Value, error) {
	if i, ok := v.Int64(); ok {
		return model.Int(i), nil
	}
	f, ok := v.Float64()
	if !ok {
		var err error
		if f, err = parseFinite(dropRunes(v.String(), ",")); err != nil {
			return model.Null(), conversionErr(v, infer.TypeInteger, err)
		}
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	t := math.Trunc(f)
	if t < math.MinInt64 || t >= math.MaxInt64 {
		return model.Null(), conversionErr(v, infer.TypeInteger, errNotFinite)
	}
	return model.Int(int64(t)), nil
}

func cleanFloat(v model.Value) (model.Value, error) {
	if f, ok := v.Float64(); ok {
		return model.Float(f), nil
	}
	f, err := parseFinite(dropRunes(v.String(), ","))
	if err != nil {
		return model.Null(), conversionErr(v, infer.TypeFloat, err)
	}
	return model.Float(f), nil
}

func cleanText(v model.Value) (model.Value, error) {
	s := markupRe.ReplaceAllString(v.String(), "")
	s = strings.ToValidUTF8(s, "")
	return model.String(collapseSpace(s)), nil
}

// categoryKey folds spelling variants: case, spacing and punctuation.
func categoryKey(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}

// buildCategorical title-cases each value and maps spelling variants that
// share a categoryKey onto the most frequent spelling. Merged variants are
// listed in rep.Mappings.
func buildCategorical(col *model.Column, _ infer.Signature, rep *ColumnReport) cellFunc {
	caser := cases.Title(language.Und)
	normalize := func(v model.Value) string {
		return caser.String(collapseSpace(v.String()))
	}

	counts := make(map[string]map[string]int)
	for _, v := range col.Values {
		if v.IsNull() {
			continue
		}
		n := normalize(v)
		k := categoryKey(n)
		if counts[k] == nil {
			counts[k] = make(map[string]int)
		}
		counts[k][n]++
	}

	canonical := make(map[string]string, len(counts))
	for k, spellings := range counts {
		c := mostFrequent(spellings)
		canonical[k] = c
		for s := range spellings {
			if s != c && k != "" {
				if rep.Mappings == nil {
					rep.Mappings = make(map[string]string)
				}
				rep.Mappings[s] = c
			}
		}
	}

	return func(v model.Value) (model.Value, error) {
		n := normalize(v)
		if c, ok := canonical[categoryKey(n)]; ok && categoryKey(n) != "" {
			return model.String(c), nil
		}
		return model.String(n), nil
	}
}

// mostFrequent picks the highest count, breaking ties alphabetically.
func mostFrequent(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best := keys[0]
	for _, k := range keys[1:] {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return best
}
