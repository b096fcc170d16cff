package preprocess

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/errors"
	"github.com/logflow/tabprep/pkg/infer"
	"github.com/logflow/tabprep/pkg/monitor"
)

func salesTable() *model.Table {
	return model.NewTable(
		model.StringColumn("Item", "Blue Widget", "Red Gadget", "Total Curr. Assets", "Green Gizmo", ""),
		model.StringColumn("Revenue", "$1,990", "9,907", "", "$4,650", ""),
		model.StringColumn("Units", "10", "20", "", "10", ""),
	)
}

func floats(t *testing.T, col *model.Column) []float64 {
	t.Helper()
	require.NotNil(t, col)
	out := make([]float64, 0, col.Len())
	for _, v := range col.Values {
		f, ok := v.Float64()
		require.True(t, ok, "value %v is not numeric", v)
		out = append(out, f)
	}
	return out
}

func nodeNames(chain []monitor.NodeStatus) []string {
	names := make([]string, len(chain))
	for i, n := range chain {
		names[i] = n.Name
	}
	return names
}

func TestProcess(t *testing.T) {
	in := salesTable()
	res := New().Process(context.Background(), in, model.FileMetadata{Name: "sales.csv"})

	require.True(t, res.OK(), res.Error)
	assert.NotEmpty(t, res.ID())
	assert.Equal(t, Shape{Rows: 5, Columns: 3}, res.Metadata.OriginalShape)
	assert.Equal(t, Shape{Rows: 3, Columns: 3}, res.Metadata.FinalShape)
	assert.Len(t, res.Metadata.Layout.SubsectionHeaders, 1)
	assert.Len(t, res.Metadata.Layout.BlankRows, 1)

	sig, ok := res.Metadata.Signatures.Get("Revenue")
	require.True(t, ok)
	assert.Equal(t, infer.TypeCurrency, sig.Type)
	assert.Equal(t, []float64{1990, 9907, 4650}, floats(t, res.Data.Column("Revenue")))

	units, ok := res.Metadata.Signatures.Get("Units")
	require.True(t, ok)
	assert.Equal(t, infer.TypeInteger, units.Type)

	// The input table is never modified.
	assert.Equal(t, "$1,990", in.Column("Revenue").Values[0].String())
	assert.Equal(t, 5, in.NumRows())

	rec := res.Metadata.Record
	assert.Equal(t, []string{StageLayout, StageInference, StageCleaning, StageProfiling, StageQuality}, nodeNames(rec.Chain))
	for _, n := range rec.Chain {
		assert.Equal(t, monitor.NodeCompleted, n.Status, n.Name)
	}
	assert.Equal(t, monitor.RunCompleted, rec.State)
	assert.Equal(t, 3, rec.Rows)
	assert.Equal(t, 3, rec.Columns)
	assert.Equal(t, res.Quality.Overall, rec.QualityScore)

	assert.Empty(t, res.Audit.Errors)
	assert.Equal(t, len(res.Audit.Transformations), res.Audit.Totals.Transformations)
	ops := make(map[string]bool)
	for _, tr := range res.Audit.Transformations {
		ops[tr.Operation] = true
	}
	assert.True(t, ops["remove_subsection_headers"])
	assert.True(t, ops["remove_blank_rows"])
	assert.True(t, ops["currency_normalization"])

	require.NotNil(t, res.Metadata.Profile)
	assert.Equal(t, res.Metadata.Profile.Quality, res.Metadata.InitialQuality)
	assert.Greater(t, res.Quality.Overall, 0.0)
	assert.LessOrEqual(t, res.Quality.Overall, 100.0)
}

func TestProcessNilTable(t *testing.T) {
	res := New().Process(context.Background(), nil, model.FileMetadata{Name: "nothing"})

	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, errors.IsCode(res.Err(), errors.CodeEmptyInput))
	assert.Zero(t, res.Quality.Overall)
	assert.Nil(t, res.Data)
	assert.Equal(t, monitor.RunFailed, res.Metadata.Record.State)
	assert.Equal(t, res.Error, res.Metadata.Record.Error)
}

func TestStageFailureContinues(t *testing.T) {
	ragged := model.NewTable(
		model.StringColumn("a", "1", "2", "3"),
		model.StringColumn("b", "x", "y"),
	)
	res := New().Process(context.Background(), ragged, model.FileMetadata{Name: "ragged.csv"})

	assert.Equal(t, StatusSuccess, res.Status)
	chain := res.Metadata.Record.Chain
	require.Len(t, chain, tableStages)
	assert.Equal(t, StageLayout, chain[0].Name)
	assert.Equal(t, monitor.NodeFailed, chain[0].Status)
	assert.Equal(t, 1, chain[0].ErrorCount)

	require.NotEmpty(t, res.Audit.Errors)
	first := res.Audit.Errors[0]
	assert.Equal(t, StageLayout, first.Node)
	assert.Equal(t, string(errors.CodeMalformedTable), first.Type)
	assert.Equal(t, monitor.RecoveryContinue, first.RecoveryAction)

	// Inference still ran on the unstripped table.
	assert.Equal(t, monitor.NodeCompleted, chain[1].Status)
	assert.Len(t, res.Metadata.Signatures, 2)
}

func TestProcessFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(path, []byte("order_id;amount;status\n1;$10.50;open\n2;$7.25;closed\n3;$3.00;open\n"), 0o644))

	res := New().ProcessFile(context.Background(), path)
	require.True(t, res.OK(), res.Error)

	rec := res.Metadata.Record
	assert.Equal(t, "orders.csv", rec.File.Name)
	assert.Equal(t, ";", rec.File.Delimiter)
	assert.Equal(t, "orders", res.Sheet)
	require.Len(t, rec.Chain, fileStages)
	assert.Equal(t, StageIngestion, rec.Chain[0].Name)
	assert.Equal(t, monitor.NodeCompleted, rec.Chain[0].Status)
	assert.Equal(t, []float64{10.5, 7.25, 3}, floats(t, res.Data.Column("amount")))
}

func TestProcessFileIngestionFailure(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		code errors.Code
	}{
		{"missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "gone.csv") }, errors.CodeFileNotFound},
		{"unsupported", func(t *testing.T) string {
			p := filepath.Join(t.TempDir(), "data.json")
			require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))
			return p
		}, errors.CodeUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New().ProcessFile(context.Background(), tt.path(t))

			assert.Equal(t, StatusFailed, res.Status)
			assert.True(t, errors.IsCode(res.Err(), tt.code))
			assert.NotEmpty(t, res.Error)
			assert.Zero(t, res.Quality.Overall)
			require.Len(t, res.Metadata.Record.Chain, 1)
			assert.Equal(t, monitor.NodeFailed, res.Metadata.Record.Chain[0].Status)
			assert.Equal(t, monitor.RunFailed, res.Metadata.Record.State)
			assert.Len(t, res.Audit.Errors, 1)
		})
	}
}

func TestProcessWorkbook(t *testing.T) {
	wb := &model.Workbook{Sheets: []model.Sheet{
		{Name: "Summary", Table: salesTable()},
		{Name: "Rates", Table: model.NewTable(
			model.StringColumn("region", "north", "south", "east"),
			model.StringColumn("tax_rate", "15%", "7.5%", "10%"),
		)},
	}}

	res := New(WithSheetWorkers(2)).ProcessWorkbook(context.Background(), wb, model.FileMetadata{Name: "book.xlsx"}, WithRunID("run-1"))

	require.True(t, res.OK())
	assert.Equal(t, "Summary", res.Primary)
	assert.Equal(t, []string{"Summary", "Rates"}, res.SheetNames())
	assert.Equal(t, "run-1", res.ID())
	require.Len(t, res.Sheets, 2)
	assert.Equal(t, "run-1", res.Sheets["Summary"].ID())
	assert.NotEqual(t, "run-1", res.Sheets["Rates"].ID())

	rates := res.Sheets["Rates"]
	sig, ok := rates.Metadata.Signatures.Get("tax_rate")
	require.True(t, ok)
	assert.Equal(t, infer.TypePercentage, sig.Type)
	assert.InDeltaSlice(t, []float64{0.15, 0.075, 0.10}, floats(t, rates.Data.Column("tax_rate")), 1e-9)
}

func TestProcessWorkbookEmpty(t *testing.T) {
	res := New().ProcessWorkbook(context.Background(), &model.Workbook{}, model.FileMetadata{})
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, errors.IsCode(res.Err(), errors.CodeEmptyInput))
}

func TestProgress(t *testing.T) {
	var (
		mu       sync.Mutex
		statuses []monitor.Status
	)
	New().Process(context.Background(), salesTable(), model.FileMetadata{Name: "p.csv"},
		WithProgress(func(s monitor.Status) {
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
		}))

	// One snapshot per node start and per node completion.
	require.Len(t, statuses, 2*tableStages)
	for i := 1; i < len(statuses); i++ {
		assert.GreaterOrEqual(t, statuses[i].Progress, statuses[i-1].Progress)
	}
	assert.Equal(t, 100.0, statuses[len(statuses)-1].Progress)
	assert.Equal(t, StageLayout, statuses[0].CurrentNode)
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	p := New()
	in := salesTable()

	const runs = 8
	results := make([]*Result, runs)
	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.Process(context.Background(), in, model.FileMetadata{Name: "shared.csv"})
		}()
	}
	wg.Wait()

	ids := make(map[string]bool)
	for _, r := range results {
		require.True(t, r.OK())
		assert.InDelta(t, results[0].Quality.Overall, r.Quality.Overall, 1e-9)
		ids[r.ID()] = true
	}
	assert.Len(t, ids, runs)
	assert.Equal(t, "$1,990", in.Column("Revenue").Values[0].String())
}

func TestFinancial(t *testing.T) {
	statement := model.NewTable(
		model.StringColumn("Line", "Current Assets", "Cash", "Receivables", "", "Total"),
		model.StringColumn("2023", "", "$1,000", "$2,500.50", "", "$3,500.50"),
		model.StringColumn("2022", "", "900", "2,100", "0", "3000"),
	)

	res := New().Financial(context.Background(), statement, model.FileMetadata{Name: "balance.xlsx"})
	require.True(t, res.OK())

	require.NotNil(t, res.Metadata.Financial)
	assert.Equal(t, []string{"2023"}, res.Metadata.Financial.CurrencyColumns)
	assert.Equal(t, 3, res.Data.NumRows())
	assert.Equal(t, []float64{1000, 2500.50, 3500.50}, floats(t, res.Data.Column("2023")))

	require.NotNil(t, res.Metadata.Validation)
	assert.Zero(t, res.Metadata.Validation.RemainingBlankRows)

	names := nodeNames(res.Metadata.Record.Chain)
	assert.Equal(t, []string{StageFinancialCleaning, StageFinancialValidation, StageQuality}, names)
}

func TestFinancialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statement.csv")
	require.NoError(t, os.WriteFile(path, []byte("Line,2023\nCash,\"$1,000\"\nReceivables,$250\n,\nTotal,\"$1,250\"\n"), 0o644))

	res := New().FinancialFile(context.Background(), path, WithRunID("fin-1"))
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, "fin-1", res.ID())
	assert.Equal(t, "statement", res.Sheet)
	assert.Equal(t, []float64{1000, 250, 1250}, floats(t, res.Data.Column("2023")))

	names := nodeNames(res.Metadata.Record.Chain)
	assert.Equal(t, []string{StageIngestion, StageFinancialCleaning, StageFinancialValidation, StageQuality}, names)

	missing := New().FinancialFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.False(t, missing.OK())
	assert.True(t, errors.IsCode(missing.Err(), errors.CodeFileNotFound))
}
