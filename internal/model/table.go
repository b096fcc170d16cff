package model

import (
	"fmt"
	"time"

	"github.com/logflow/tabprep/pkg/errors"
)

// Column is a named sequence of cells.
type Column struct {
	Name   string  `json:"name"`
	Values []Value `json:"values"`
}

// NewColumn builds a column from values.
func NewColumn(name string, values ...Value) *Column {
	return &Column{Name: name, Values: values}
}

// StringColumn builds a column of text cells. Empty strings become null.
func StringColumn(name string, values ...string) *Column {
	col := &Column{Name: name, Values: make([]Value, len(values))}
	for i, s := range values {
		if s != "" {
			col.Values[i] = String(s)
		}
	}
	return col
}

func (c *Column) Len() int { return len(c.Values) }

// NonNull returns the non-null cells in row order.
func (c *Column) NonNull() []Value {
	out := make([]Value, 0, len(c.Values))
	for _, v := range c.Values {
		if !v.IsNull() {
			out = append(out, v)
		}
	}
	return out
}

// NullCount counts null cells.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v.IsNull() {
			n++
		}
	}
	return n
}

// Clone returns a copy that shares no backing storage.
func (c *Column) Clone() *Column {
	vals := make([]Value, len(c.Values))
	copy(vals, c.Values)
	return &Column{Name: c.Name, Values: vals}
}

// Table is an ordered set of equally long columns.
type Table struct {
	Columns []*Column `json:"columns"`
}

// NewTable builds a table from columns.
func NewTable(cols ...*Column) *Table {
	return &Table{Columns: cols}
}

// FromRecords builds a string table from a header and rows.
// Short rows are padded with null and empty fields become null.
func FromRecords(header []string, rows [][]string) *Table {
	t := &Table{Columns: make([]*Column, len(header))}
	for j, name := range header {
		t.Columns[j] = &Column{Name: name, Values: make([]Value, len(rows))}
	}
	for i, row := range rows {
		for j := range header {
			if j < len(row) && row[j] != "" {
				t.Columns[j].Values[i] = String(row[j])
			}
		}
	}
	return t
}

// NumRows returns the length of the longest column.
func (t *Table) NumRows() int {
	n := 0
	for _, c := range t.Columns {
		if c.Len() > n {
			n = c.Len()
		}
	}
	return n
}

func (t *Table) NumColumns() int { return len(t.Columns) }

// Column returns the column with the given name, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Names returns column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Row returns the cells at row i. Missing cells are null.
func (t *Table) Row(i int) []Value {
	row := make([]Value, len(t.Columns))
	for j, c := range t.Columns {
		if i < c.Len() {
			row[j] = c.Values[i]
		}
	}
	return row
}

// CellCount returns the total number of cells across columns.
func (t *Table) CellCount() int {
	n := 0
	for _, c := range t.Columns {
		n += c.Len()
	}
	return n
}

// Clone deep-copies the table.
func (t *Table) Clone() *Table {
	out := &Table{Columns: make([]*Column, len(t.Columns))}
	for i, c := range t.Columns {
		out.Columns[i] = c.Clone()
	}
	return out
}

// DropRows returns a new table without the given row indices.
// Remaining rows keep their relative order and are renumbered from zero.
func (t *Table) DropRows(drop map[int]bool) *Table {
	out := &Table{Columns: make([]*Column, len(t.Columns))}
	for j, c := range t.Columns {
		vals := make([]Value, 0, c.Len())
		for i, v := range c.Values {
			if !drop[i] {
				vals = append(vals, v)
			}
		}
		out.Columns[j] = &Column{Name: c.Name, Values: vals}
	}
	return out
}

// Validate checks that every column has the same length and a unique name.
func (t *Table) Validate() error {
	if t == nil {
		return errors.New(errors.CodeMalformedTable, "nil table")
	}
	seen := make(map[string]bool, len(t.Columns))
	rows := -1
	for _, c := range t.Columns {
		if c == nil {
			return errors.New(errors.CodeMalformedTable, "nil column")
		}
		if seen[c.Name] {
			return errors.New(errors.CodeMalformedTable, "duplicate column name").
				WithContext("column", c.Name)
		}
		seen[c.Name] = true
		if rows >= 0 && c.Len() != rows {
			return errors.New(errors.CodeMalformedTable, "ragged columns").
				WithContext("column", c.Name).
				WithContext("rows", c.Len()).
				WithContext("expected", rows)
		}
		rows = c.Len()
	}
	return nil
}

// Sheet is a named table inside a workbook.
type Sheet struct {
	Name  string
	Table *Table
}

// Workbook holds one or more sheets. CSV input yields a single sheet.
type Workbook struct {
	Sheets []Sheet
}

// Primary returns the first sheet, or nil for an empty workbook.
func (w *Workbook) Primary() *Sheet {
	if w == nil || len(w.Sheets) == 0 {
		return nil
	}
	return &w.Sheets[0]
}

// SheetNames returns the sheet names in workbook order.
func (w *Workbook) SheetNames() []string {
	names := make([]string, len(w.Sheets))
	for i, s := range w.Sheets {
		names[i] = s.Name
	}
	return names
}

// FileMetadata describes the input a table came from.
type FileMetadata struct {
	Name        string    `json:"name"`
	Path        string    `json:"path,omitempty"`
	Size        int64     `json:"size"`
	Extension   string    `json:"extension"`
	ContentType string    `json:"content_type,omitempty"`
	Encoding    string    `json:"encoding,omitempty"`
	Delimiter   string    `json:"delimiter,omitempty"`
	Sheets      []string  `json:"sheets,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

func (m FileMetadata) String() string {
	return fmt.Sprintf("%s (%d bytes)", m.Name, m.Size)
}
