package clean

import (
	"fmt"

	"github.com/logflow/tabprep/pkg/infer"
)

// Actions recorded on warnings.
const (
	ActionSetNull     = "set_to_null"
	ActionSetNullTime = "set_to_null_time"
)

// ConversionError is a per-cell failure. It never aborts a column.
type ConversionError struct {
	Value  string
	Target infer.DetectedType
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot convert %q to %s: %v", e.Value, e.Target, e.Err)
	}
	return fmt.Sprintf("cannot convert %q to %s", e.Value, e.Target)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Warning records a cell that was replaced by null.
type Warning struct {
	Column string `json:"column"`
	Row    int    `json:"row"`
	Value  string `json:"value"`
	Issue  string `json:"issue"`
	Action string `json:"action"`
}

// ColumnReport summarizes one cleaned column.
// Converted + Nulled always equals the column length.
type ColumnReport struct {
	Column    string             `json:"column"`
	Type      infer.DetectedType `json:"type"`
	Operation string             `json:"operation"`
	Converted int                `json:"values_converted"`
	Nulled    int                `json:"values_nulled"`
	Warnings  []Warning          `json:"warnings,omitempty"`
	Mappings  map[string]string  `json:"mappings,omitempty"`
}

// Report covers a whole table.
type Report struct {
	Columns []ColumnReport `json:"columns"`
}

// Warnings flattens the per-column warnings in column order.
func (r *Report) Warnings() []Warning {
	var out []Warning
	for _, c := range r.Columns {
		out = append(out, c.Warnings...)
	}
	return out
}

// WarningCount counts warnings across columns.
func (r *Report) WarningCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, c := range r.Columns {
		n += len(c.Warnings)
	}
	return n
}

// Column returns the report for a column.
func (r *Report) Column(name string) (ColumnReport, bool) {
	for _, c := range r.Columns {
		if c.Column == name {
			return c, true
		}
	}
	return ColumnReport{}, false
}
