package ingest

import (
	"context"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/errors"
)

// ReadWorkbook reads every non-empty sheet of an XLSX workbook. The first
// row of each sheet is its header. Numeric and boolean cells keep their
// type; everything else is read as displayed text.
func ReadWorkbook(ctx context.Context, r io.Reader, nullValues []string) (*model.Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeParseFailed, "open workbook")
	}
	defer f.Close()

	nulls := nullSet(nullValues)
	wb := &model.Workbook{}
	for _, name := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.CodeContextCanceled, "read workbook")
		}
		t, err := readSheet(f, name, nulls)
		if err != nil {
			return nil, err
		}
		if t == nil {
			continue
		}
		wb.Sheets = append(wb.Sheets, model.Sheet{Name: name, Table: t})
	}
	if len(wb.Sheets) == 0 {
		return nil, errors.New(errors.CodeEmptyInput, "workbook has no data")
	}
	return wb, nil
}

func readSheet(f *excelize.File, sheet string, nulls map[string]bool) (*model.Table, error) {
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeParseFailed, "read sheet").WithContext("sheet", sheet)
	}
	defer rows.Close()

	var header []string
	var body [][]model.Value
	width := 0
	rowNum := 0
	for rows.Next() {
		rowNum++
		cols, err := rows.Columns()
		if err != nil {
			return nil, errors.ParseError("xlsx", rowNum, err).WithContext("sheet", sheet)
		}
		if header == nil {
			if isEmptyRow(cols) {
				continue
			}
			header = cols
			width = len(cols)
			continue
		}
		vals := make([]model.Value, len(cols))
		for j, text := range cols {
			vals[j] = cellValue(f, sheet, j+1, rowNum, text, nulls)
		}
		width = max(width, len(vals))
		body = append(body, vals)
	}
	if err := rows.Error(); err != nil {
		return nil, errors.Wrap(err, errors.CodeParseFailed, "read sheet").WithContext("sheet", sheet)
	}
	if header == nil {
		return nil, nil
	}

	names := HeaderNames(header, width)
	t := &model.Table{Columns: make([]*model.Column, width)}
	for j, name := range names {
		col := &model.Column{Name: name, Values: make([]model.Value, len(body))}
		for i, row := range body {
			if j < len(row) {
				col.Values[i] = row[j]
			}
		}
		t.Columns[j] = col
	}
	return t, nil
}

func cellValue(f *excelize.File, sheet string, col, row int, text string, nulls map[string]bool) model.Value {
	if nulls[strings.TrimSpace(text)] {
		return model.Null()
	}
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return model.String(text)
	}
	typ, err := f.GetCellType(sheet, ref)
	if err != nil {
		return model.String(text)
	}
	switch typ {
	case excelize.CellTypeBool:
		return model.Bool(text == "TRUE" || text == "1")
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		// Formatted numbers such as "$1,200.00" or "15%" stay text so the
		// type detectors can see their markers.
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
				return model.Int(int64(v))
			}
			return model.Float(v)
		}
	}
	return model.String(text)
}

func isEmptyRow(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func nullSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
