package infer

import (
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/logflow/tabprep/internal/model"
)

const sampleSize = 5

// Engine infers column types. It holds no mutable state after construction
// and is safe for concurrent use.
type Engine struct {
	detectors []detector
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine builds an engine with the standard detector precedence:
// currency, percentage, date, id, numeric, categorical.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		detectors: []detector{
			detectCurrency,
			detectPercentage,
			detectDate,
			detectID,
			detectNumeric,
			detectCategorical,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InferTable infers every column of t in order.
func (e *Engine) InferTable(t *model.Table) Signatures {
	sigs := make(Signatures, 0, t.NumColumns())
	for _, col := range t.Columns {
		sig := e.InferColumn(col)
		e.logger.Debug("column type inferred",
			"column", col.Name,
			"type", sig.Type.String(),
			"confidence", sig.Confidence)
		sigs = append(sigs, sig)
	}
	return sigs
}

// InferColumn classifies a single column.
func (e *Engine) InferColumn(col *model.Column) Signature {
	in := newColumnInput(col)

	sig := Signature{
		Column:         col.Name,
		NullPercentage: nullPercentage(col),
		SampleValues:   samples(in.values),
	}

	if len(in.values) == 0 {
		sig.Type = TypeEmpty
		sig.Confidence = 1.0
		sig.ValidationRules = validationRules(TypeEmpty)
		return sig
	}

	sig.Type = TypeText
	sig.Confidence = TextConfidence
	for _, detect := range e.detectors {
		d := detect(in)
		if d.score > AcceptThreshold {
			sig.Type = d.typ
			sig.Confidence = clamp01(d.score)
			break
		}
	}

	sig.ValidationRules = validationRules(sig.Type)
	annotate(&sig, in)
	return sig
}

// annotate fills the type-specific detail fields.
func annotate(sig *Signature, in *columnInput) {
	switch sig.Type {
	case TypeCurrency:
		sig.CurrencySymbol = firstCurrencySymbol(in.values)
	case TypeDate:
		sig.DateFormat = detectDateFormat(in.values)
		sig.Timezone = "UTC"
	case TypeID:
		sig.UniqueRatio = in.uniqueRatio()
		sig.PrimaryKey = in.unique == len(in.values)
	case TypeInteger, TypeFloat:
		sig.Numeric = numericRange(in)
	case TypeCategorical:
		sig.Categories = categories(in.values)
		sig.UniqueCount = in.unique
	case TypeText:
		total, longest := 0, 0
		for _, s := range in.values {
			n := utf8.RuneCountInString(s)
			total += n
			if n > longest {
				longest = n
			}
		}
		sig.TextLengthMean = float64(total) / float64(len(in.values))
		sig.TextLengthMax = longest
	}
}

func firstCurrencySymbol(values []string) string {
	for _, s := range values {
		if i := strings.IndexAny(s, CurrencySymbols); i >= 0 {
			r, _ := utf8.DecodeRuneInString(s[i:])
			return string(r)
		}
	}
	return "$"
}

func numericRange(in *columnInput) *NumericRange {
	r := &NumericRange{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	n := 0
	for i, s := range in.values {
		f, ok := parseNumber(in.raw[i], s)
		if !ok {
			continue
		}
		r.Min = math.Min(r.Min, f)
		r.Max = math.Max(r.Max, f)
		sum += f
		n++
	}
	if n == 0 {
		return nil
	}
	r.Mean = sum / float64(n)
	return r
}

func categories(values []string) []string {
	seen := make(map[string]struct{})
	for _, s := range values {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func samples(values []string) []string {
	return slices.Clone(values[:min(sampleSize, len(values))])
}

func nullPercentage(col *model.Column) float64 {
	if col.Len() == 0 {
		return 0
	}
	return float64(col.NullCount()) / float64(col.Len()) * 100
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
