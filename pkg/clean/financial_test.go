package clean

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/tabprep/internal/model"
)

func statement() *model.Table {
	return model.FromRecords(
		[]string{"Account", "2022", "2023", "Notes"},
		[][]string{
			{"Assets", "", "", ""},
			{"Cash", "$1,990", "1,500", "ok"},
			{"Receivables", "$9,907", "2,250", "late"},
			{"", "0", "0", ""},
			{"Inventory", "$4,650.50", "800", "—"},
			{"Total Curr. Assets", "", "", ""},
		},
	)
}

func TestFinancial(t *testing.T) {
	out, rep := New().Financial(statement())

	assert.Equal(t, 6, rep.OriginalRows)
	assert.Equal(t, 3, rep.FinalRows)
	assert.Len(t, rep.Layout.SubsectionHeaders, 2)
	assert.Len(t, rep.Layout.BlankRows, 1)
	assert.Equal(t, []string{"2022"}, rep.CurrencyColumns)
	assert.Equal(t, []string{"2023"}, rep.NumericColumns)
	assert.Empty(t, rep.Warnings)

	got, ok := out.Column("2022").Values[2].Float64()
	require.True(t, ok)
	assert.Equal(t, 4650.5, got)

	got, ok = out.Column("2023").Values[1].Float64()
	require.True(t, ok)
	assert.Equal(t, 2250.0, got)

	assert.Equal(t, "late", out.Column("Notes").Values[1].String())

	v := ValidateFinancial(out, rep)
	assert.True(t, v.Passed)
	assert.Equal(t, 3, v.Rows)
	assert.Zero(t, v.RemainingBlankRows)
}

func TestFinancialColumnDetection(t *testing.T) {
	tests := []struct {
		name     string
		col      *model.Column
		currency bool
		numeric  bool
	}{
		{"dollar majority", model.StringColumn("c", "$1", "$2", "x"), true, false},
		{"dollar minority", model.StringColumn("c", "$1", "x", "y"), false, false},
		{"plain numbers", model.StringColumn("c", "1", "2,000", "3.5"), false, true},
		{"one bad value", model.StringColumn("c", "1", "2", "n/a"), false, false},
		{"already numeric", model.NewColumn("c", model.Float(1), model.Float(2)), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.currency, isCurrencyColumn(tt.col))
			assert.Equal(t, tt.numeric, isNumericTextColumn(tt.col))
		})
	}
}
