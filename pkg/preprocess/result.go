package preprocess

import (
	"slices"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/clean"
	"github.com/logflow/tabprep/pkg/infer"
	"github.com/logflow/tabprep/pkg/layout"
	"github.com/logflow/tabprep/pkg/monitor"
	"github.com/logflow/tabprep/pkg/profile"
)

// Status is the outcome of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Stage names, in pipeline order.
const (
	StageIngestion           = "file_ingestion"
	StageLayout              = "layout_detection"
	StageInference           = "type_inference"
	StageCleaning            = "data_cleaning"
	StageProfiling           = "data_profiling"
	StageQuality             = "quality_assessment"
	StageFinancialCleaning   = "financial_cleaning"
	StageFinancialValidation = "financial_validation"
)

// Shape is a table size.
type Shape struct {
	Rows    int `json:"rows"`
	Columns int `json:"columns"`
}

func shapeOf(t *model.Table) Shape {
	if t == nil {
		return Shape{}
	}
	return Shape{Rows: t.NumRows(), Columns: t.NumColumns()}
}

// Metadata carries everything a run learned about its input.
type Metadata struct {
	Record         monitor.Record             `json:"processing"`
	OriginalShape  Shape                      `json:"original_shape"`
	FinalShape     Shape                      `json:"final_shape"`
	Layout         layout.Info                `json:"layout"`
	Signatures     infer.Signatures           `json:"type_signatures"`
	Cleaning       *clean.Report              `json:"cleaning,omitempty"`
	Financial      *clean.FinancialReport     `json:"financial,omitempty"`
	Validation     *clean.FinancialValidation `json:"validation,omitempty"`
	Profile        *profile.DatasetProfile    `json:"profile,omitempty"`
	InitialQuality profile.QualityScore       `json:"initial_quality"`
}

// Result is the output of a run. Workbook runs mirror the primary sheet at
// the top level and list every sheet in Sheets.
type Result struct {
	Status   Status               `json:"status"`
	Error    string               `json:"error,omitempty"`
	Sheet    string               `json:"sheet,omitempty"`
	Data     *model.Table         `json:"-"`
	Metadata Metadata             `json:"metadata"`
	Quality  profile.QualityScore `json:"quality"`
	Audit    monitor.Audit        `json:"audit"`

	Primary string             `json:"primary_sheet,omitempty"`
	Sheets  map[string]*Result `json:"sheets,omitempty"`

	order []string
	err   error
}

// Err returns the error that failed the run, if any.
func (r *Result) Err() error { return r.err }

// OK reports whether the run succeeded.
func (r *Result) OK() bool { return r.Status == StatusSuccess }

// ID returns the processing ID.
func (r *Result) ID() string { return r.Metadata.Record.ID }

// SheetNames lists the sheets in file order, primary first.
func (r *Result) SheetNames() []string {
	if len(r.Sheets) == 0 {
		if r.Sheet != "" {
			return []string{r.Sheet}
		}
		return nil
	}
	return slices.Clone(r.order)
}

func (r *Result) finish(rep *monitor.Report) {
	r.Metadata.Record = rep.Record
	r.Audit = rep.Audit
}

// failed closes the run as failed and wraps err in a failed result.
func failed(mon *monitor.Monitor, err error) *Result {
	r := &Result{Status: StatusFailed, Error: err.Error(), err: err}
	r.finish(mon.Fail(err))
	return r
}
