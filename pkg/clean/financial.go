package clean

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/infer"
	"github.com/logflow/tabprep/pkg/layout"
)

var dollarAmountRe = regexp.MustCompile(`\$[\d,]+(?:\.\d{2})?`)

const (
	currencyColumnShare = 0.5
	numericColumnShare  = 0.8
)

// FinancialReport describes a financial-statement cleaning run.
type FinancialReport struct {
	Layout          layout.Info `json:"layout"`
	OriginalRows    int         `json:"original_rows"`
	FinalRows       int         `json:"final_rows"`
	Columns         int         `json:"columns"`
	CurrencyColumns []string    `json:"currency_columns"`
	NumericColumns  []string    `json:"numeric_columns"`
	Operations      []string    `json:"operations"`
	Warnings        []Warning   `json:"warnings,omitempty"`
}

// Financial cleans a financial statement export: layout rows are removed,
// then dollar-formatted columns and plain numeric columns become floats.
func (c *Cleaner) Financial(t *model.Table) (*model.Table, FinancialReport) {
	out, info := layout.Strip(t)
	rep := FinancialReport{
		Layout:       info,
		OriginalRows: t.NumRows(),
		Columns:      t.NumColumns(),
	}
	if n := len(info.SubsectionHeaders); n > 0 {
		rep.Operations = append(rep.Operations, fmt.Sprintf("Removed %d subsection header rows", n))
	}
	if n := len(info.BlankRows); n > 0 {
		rep.Operations = append(rep.Operations, fmt.Sprintf("Removed %d blank rows", n))
	}

	converted := make(map[string]bool)
	for i, col := range out.Columns {
		if !isCurrencyColumn(col) {
			continue
		}
		var cr ColumnReport
		out.Columns[i], cr = c.apply(col, infer.Signature{Column: col.Name, Type: infer.TypeCurrency}, c.strategies[infer.TypeCurrency])
		converted[col.Name] = true
		rep.CurrencyColumns = append(rep.CurrencyColumns, col.Name)
		rep.Warnings = append(rep.Warnings, cr.Warnings...)
		rep.Operations = append(rep.Operations, fmt.Sprintf("Cleaned currency column '%s'", col.Name))
	}

	for i, col := range out.Columns {
		if converted[col.Name] || !isNumericTextColumn(col) {
			continue
		}
		var cr ColumnReport
		out.Columns[i], cr = c.apply(col, infer.Signature{Column: col.Name, Type: infer.TypeFloat}, financialNumeric)
		rep.NumericColumns = append(rep.NumericColumns, col.Name)
		rep.Warnings = append(rep.Warnings, cr.Warnings...)
		rep.Operations = append(rep.Operations, fmt.Sprintf("Converted column '%s' to numeric", col.Name))
	}

	rep.FinalRows = out.NumRows()
	c.logger.Info("financial data cleaned",
		"original_rows", rep.OriginalRows,
		"final_rows", rep.FinalRows,
		"currency_columns", len(rep.CurrencyColumns),
		"numeric_columns", len(rep.NumericColumns))
	return out, rep
}

var financialNumeric = strategy{
	operation: "numeric_conversion",
	action:    ActionSetNull,
	build: static(func(v model.Value) (model.Value, error) {
		if f, ok := v.Float64(); ok {
			return model.Float(f), nil
		}
		s := strings.TrimSpace(v.String())
		if s == "" {
			return model.Null(), nil
		}
		f, err := parseFinite(dropRunes(s, "$,"))
		if err != nil {
			return model.Null(), conversionErr(v, infer.TypeFloat, err)
		}
		return model.Float(f), nil
	}),
}

func hasText(col *model.Column) bool {
	for _, v := range col.Values {
		if v.Kind() == model.KindString {
			return true
		}
	}
	return false
}

// isCurrencyColumn: more than half of the non-null cells contain a dollar amount.
func isCurrencyColumn(col *model.Column) bool {
	if !hasText(col) {
		return false
	}
	vals := col.NonNull()
	if len(vals) == 0 {
		return false
	}
	hits := 0
	for _, v := range vals {
		if dollarAmountRe.MatchString(v.String()) {
			hits++
		}
	}
	return float64(hits) > float64(len(vals))*currencyColumnShare
}

// isNumericTextColumn: every non-blank cell parses once "$" and "," are
// removed, and parsed cells exceed 80% of non-null cells.
func isNumericTextColumn(col *model.Column) bool {
	if !hasText(col) {
		return false
	}
	vals := col.NonNull()
	if len(vals) == 0 {
		return false
	}
	parsed := 0
	for _, v := range vals {
		s := strings.TrimSpace(v.String())
		if s == "" {
			continue
		}
		if _, err := parseFinite(dropRunes(s, "$,")); err != nil {
			return false
		}
		parsed++
	}
	return float64(parsed) > float64(len(vals))*numericColumnShare
}

// FinancialValidation summarizes the state of a cleaned financial table.
type FinancialValidation struct {
	Rows               int            `json:"rows"`
	Columns            int            `json:"columns"`
	RemainingBlankRows int            `json:"remaining_blank_rows"`
	NullCounts         map[string]int `json:"null_counts"`
	NonNumericCells    map[string]int `json:"non_numeric_cells,omitempty"`
	Passed             bool           `json:"passed"`
}

// ValidateFinancial checks that no blank rows remain and that the columns
// listed in rep hold only numbers.
func ValidateFinancial(t *model.Table, rep FinancialReport) FinancialValidation {
	v := FinancialValidation{
		Rows:       t.NumRows(),
		Columns:    t.NumColumns(),
		NullCounts: make(map[string]int, t.NumColumns()),
	}
	for i := 0; i < t.NumRows(); i++ {
		if layout.IsBlankRow(t.Row(i)) {
			v.RemainingBlankRows++
		}
	}
	for _, col := range t.Columns {
		v.NullCounts[col.Name] = col.NullCount()
	}

	for _, name := range append(append([]string{}, rep.CurrencyColumns...), rep.NumericColumns...) {
		col := t.Column(name)
		if col == nil {
			continue
		}
		for _, val := range col.NonNull() {
			if !val.IsNumber() {
				if v.NonNumericCells == nil {
					v.NonNumericCells = make(map[string]int)
				}
				v.NonNumericCells[name]++
			}
		}
	}
	v.Passed = v.RemainingBlankRows == 0 && len(v.NonNumericCells) == 0
	return v
}
