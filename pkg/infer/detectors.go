package infer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/logflow/tabprep/internal/model"
)

const (
	// AcceptThreshold is the score a detector must exceed to claim a column.
	AcceptThreshold = 0.7
	// TextConfidence is reported for the text fallback. It sits above
	// AcceptThreshold, so text always outranks a rejected detector.
	TextConfidence = 0.8

	currencyBoost   = 0.2
	percentageBoost = 0.2
	dateBoost       = 0.3

	// numericThreshold is the parse ratio a numeric or date column must exceed.
	numericThreshold = 0.8

	maxCategories = 50
)

// CurrencySymbols are the symbols recognized around amounts.
const CurrencySymbols = "$€£¥₹₽₩₪"

var (
	amount           = `-?\d+(?:,\d{3})*(?:\.\d{1,2})?`
	currencyPrefixRe = regexp.MustCompile(`^-?[` + CurrencySymbols + `]\s*` + amount + `$`)
	currencySuffixRe = regexp.MustCompile(`^` + amount + `\s*[` + CurrencySymbols + `]$`)
	unmarkedAmountRe = regexp.MustCompile(`^` + amount + `$`)

	percentagePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^-?\d+(?:\.\d+)?\s*%$`),
		regexp.MustCompile(`(?i)^-?\d+(?:\.\d+)?\s*percent$`),
		regexp.MustCompile(`(?i)^-?\d+(?:\.\d+)?\s*per\s*cent$`),
	}

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}$`),
		regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`),
		regexp.MustCompile(`^\d{1,2}-\d{1,2}-\d{4}$`),
		regexp.MustCompile(`^\d{1,2}\.\d{1,2}\.\d{4}$`),
		regexp.MustCompile(`^\d{1,2}\s+[A-Za-z]{3}\s+\d{4}$`),
		regexp.MustCompile(`^[A-Za-z]{3}\s+\d{1,2},?\s+\d{4}$`),
	}

	idPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d+$`),
		regexp.MustCompile(`^[A-Z0-9]+$`),
		regexp.MustCompile(`^[a-z0-9]+$`),
		regexp.MustCompile(`^[A-Za-z]+[-_]\d+$`),
		regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`),
		regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{4}$`),
	}

	currencyKeywords   = []string{"price", "cost", "amount", "salary", "budget", "currency"}
	percentageKeywords = []string{"percentage", "rate", "ratio", "discount", "tax", "interest"}
	dateKeywords       = []string{"date", "time", "day", "month", "year", "timestamp", "created", "updated"}
	idKeywords         = []string{"id", "key", "code", "identifier", "uuid", "index", "number"}
)

// columnInput is the pre-digested view every detector works from.
type columnInput struct {
	name   string
	tokens []string
	raw    []model.Value // non-null cells
	values []string      // trimmed text of raw
	unique int
}

func newColumnInput(col *model.Column) *columnInput {
	in := &columnInput{
		name:   strings.ToLower(col.Name),
		tokens: nameTokens(col.Name),
		raw:    col.NonNull(),
	}
	seen := make(map[string]struct{}, len(in.raw))
	in.values = make([]string, len(in.raw))
	for i, v := range in.raw {
		s := strings.TrimSpace(v.String())
		in.values[i] = s
		seen[s] = struct{}{}
	}
	in.unique = len(seen)
	return in
}

func (in *columnInput) uniqueRatio() float64 {
	if len(in.values) == 0 {
		return 0
	}
	return float64(in.unique) / float64(len(in.values))
}

func (in *columnInput) ratio(match func(i int, s string) bool) float64 {
	if len(in.values) == 0 {
		return 0
	}
	n := 0
	for i, s := range in.values {
		if match(i, s) {
			n++
		}
	}
	return float64(n) / float64(len(in.values))
}

// hasKeyword matches long keywords as substrings of the lowercased name and
// short ones (three letters or fewer) against whole name tokens.
func (in *columnInput) hasKeyword(keywords []string) bool {
	for _, kw := range keywords {
		if len(kw) > 3 {
			if strings.Contains(in.name, kw) {
				return true
			}
			continue
		}
		for _, tok := range in.tokens {
			if tok == kw {
				return true
			}
		}
	}
	return false
}

// nameTokens splits a column name on punctuation and camel-case boundaries.
func nameTokens(name string) []string {
	var tokens []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return tokens
}

// detection is a scored candidate type.
type detection struct {
	typ   DetectedType
	score float64
}

type detector func(in *columnInput) detection

var rejected = detection{TypeUnknown, 0}

func boosted(score float64, apply bool, boost float64) float64 {
	if apply {
		score += boost
	}
	return math.Min(score, 1.0)
}

func detectCurrency(in *columnInput) detection {
	keyword := in.hasKeyword(currencyKeywords)
	marked := false
	score := in.ratio(func(i int, s string) bool {
		if currencyPrefixRe.MatchString(s) || currencySuffixRe.MatchString(s) {
			marked = true
			return true
		}
		return unmarkedAmountRe.MatchString(s)
	})
	if !marked && !keyword {
		return rejected
	}
	return detection{TypeCurrency, boosted(score, keyword, currencyBoost)}
}

func detectPercentage(in *columnInput) detection {
	score := in.ratio(func(i int, s string) bool {
		for _, re := range percentagePatterns {
			if re.MatchString(s) {
				return true
			}
		}
		return false
	})
	return detection{TypePercentage, boosted(score, in.hasKeyword(percentageKeywords), percentageBoost)}
}

func isDateValue(v model.Value, s string) bool {
	if v.Kind() == model.KindTime {
		return true
	}
	if v.Kind() != model.KindString {
		return false
	}
	if matchesDatePattern(s) {
		return true
	}
	if !looksTemporal(s) {
		return false
	}
	_, ok := parseFlexible(s)
	return ok
}

func matchesDatePattern(s string) bool {
	for _, re := range datePatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// detectDate accepts a column outright when more than numericThreshold of
// its values parse as dates. Otherwise the pattern ratio plus the keyword
// boost must clear AcceptThreshold.
func detectDate(in *columnInput) detection {
	parsed := in.ratio(func(i int, s string) bool {
		return isDateValue(in.raw[i], s)
	})
	if parsed > numericThreshold {
		return detection{TypeDate, parsed}
	}
	matched := in.ratio(func(i int, s string) bool {
		return in.raw[i].Kind() == model.KindTime || matchesDatePattern(s)
	})
	score := boosted(matched, in.hasKeyword(dateKeywords), dateBoost)
	if score <= AcceptThreshold {
		return rejected
	}
	return detection{TypeDate, score}
}

func detectID(in *columnInput) detection {
	unique := in.uniqueRatio()
	if unique > 0.9 && in.hasKeyword(idKeywords) {
		return detection{TypeID, 0.9}
	}
	shaped := in.ratio(func(i int, s string) bool {
		for _, re := range idPatterns {
			if re.MatchString(s) {
				return true
			}
		}
		return false
	})
	switch {
	case shaped > 0.8 && unique > 0.8:
		return detection{TypeID, 0.8}
	case unique > 0.8:
		return detection{TypeID, 0.7}
	}
	return rejected
}

// parseNumber reads a number cell or a plain numeric string.
func parseNumber(v model.Value, s string) (float64, bool) {
	if f, ok := v.Float64(); ok {
		return f, !math.IsInf(f, 0)
	}
	if v.Kind() != model.KindString {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func detectNumeric(in *columnInput) detection {
	whole := true
	score := in.ratio(func(i int, s string) bool {
		f, ok := parseNumber(in.raw[i], s)
		if ok && f != math.Trunc(f) {
			whole = false
		}
		return ok
	})
	if score <= numericThreshold {
		return rejected
	}
	if whole {
		return detection{TypeInteger, score}
	}
	return detection{TypeFloat, score}
}

func detectCategorical(in *columnInput) detection {
	if in.uniqueRatio() <= 0.1 && in.unique <= maxCategories {
		return detection{TypeCategorical, 0.9}
	}
	return rejected
}
