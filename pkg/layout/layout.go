// Package layout detects spreadsheet layout artifacts in a raw table:
// subsection header rows and blank separator rows.
package layout

import (
	"strings"

	"github.com/logflow/tabprep/internal/model"
)

// RemovedRow is a row taken out of the table, kept verbatim.
type RemovedRow struct {
	Index  int           `json:"index"`
	Values []model.Value `json:"values"`
}

// Info describes what Strip removed.
type Info struct {
	OriginalRows       int          `json:"original_rows"`
	RemainingRows      int          `json:"remaining_rows"`
	SubsectionHeaders  []RemovedRow `json:"subsection_headers"`
	BlankRows          []RemovedRow `json:"blank_rows"`
	SubsectionRowIndex []int        `json:"subsection_row_indices"`
	BlankRowIndex      []int        `json:"blank_row_indices"`
}

// Removed returns the total number of dropped rows.
func (i Info) Removed() int {
	return len(i.SubsectionHeaders) + len(i.BlankRows)
}

// IsBlank reports whether a cell counts as empty for layout purposes:
// null, whitespace only, or the literal "0".
func IsBlank(v model.Value) bool {
	if v.IsNull() {
		return true
	}
	s := strings.TrimSpace(v.String())
	return s == "" || s == "0"
}

// IsSubsectionHeader reports whether row is a label row: a non-blank first
// cell with every other cell blank. Rows narrower than two columns never
// qualify.
func IsSubsectionHeader(row []model.Value) bool {
	if len(row) < 2 || IsBlank(row[0]) {
		return false
	}
	for _, v := range row[1:] {
		if !IsBlank(v) {
			return false
		}
	}
	return true
}

// IsBlankRow reports whether every cell in row is blank.
func IsBlankRow(row []model.Value) bool {
	for _, v := range row {
		if !IsBlank(v) {
			return false
		}
	}
	return true
}

// Detect identifies subsection headers on t and blank rows on what remains.
// Blank row indices refer to the table after subsection removal.
func Detect(t *model.Table) Info {
	_, info := Strip(t)
	return info
}

// Strip removes subsection headers first, then re-scans the remainder for
// blank rows. The input table is left untouched.
func Strip(t *model.Table) (*model.Table, Info) {
	info := Info{OriginalRows: t.NumRows()}

	headers := make(map[int]bool)
	for i := 0; i < t.NumRows(); i++ {
		row := t.Row(i)
		if IsSubsectionHeader(row) {
			headers[i] = true
			info.SubsectionHeaders = append(info.SubsectionHeaders, RemovedRow{Index: i, Values: row})
			info.SubsectionRowIndex = append(info.SubsectionRowIndex, i)
		}
	}
	out := t
	if len(headers) > 0 {
		out = t.DropRows(headers)
	}

	blanks := make(map[int]bool)
	for i := 0; i < out.NumRows(); i++ {
		row := out.Row(i)
		if IsBlankRow(row) {
			blanks[i] = true
			info.BlankRows = append(info.BlankRows, RemovedRow{Index: i, Values: row})
			info.BlankRowIndex = append(info.BlankRowIndex, i)
		}
	}
	if len(blanks) > 0 {
		out = out.DropRows(blanks)
	}
	if out == t {
		out = t.Clone()
	}

	info.RemainingRows = out.NumRows()
	return out, info
}
