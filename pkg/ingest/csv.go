package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/errors"
)

// DefaultNullValues are the tokens read as missing in delimited text.
var DefaultNullValues = []string{
	"", "#N/A", "#N/A N/A", "#NA", "-NaN", "-nan", "<NA>",
	"N/A", "NA", "NULL", "NaN", "None", "n/a", "nan", "null",
}

// CSVInfo reports what was detected while reading delimited text.
type CSVInfo struct {
	Encoding  Encoding
	Delimiter rune
	Rows      int
}

const sniffBytes = 64 << 10

// ReadCSV parses delimited text into a string table. The first record is
// the header. Ragged rows are padded with null; extra fields get generated
// column names.
func ReadCSV(r io.Reader, nullValues []string) (*model.Table, CSVInfo, error) {
	var info CSVInfo

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, info, errors.Wrap(err, errors.CodeParseFailed, "read input")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, info, errors.New(errors.CodeEmptyInput, "input is empty")
	}

	info.Encoding = DetectEncoding(sniff(raw))
	data, err := ToUTF8(raw, info.Encoding)
	if err != nil {
		return nil, info, errors.Wrap(err, errors.CodeEncodingError, "decode input").
			WithContext("encoding", string(info.Encoding))
	}
	info.Delimiter = DetectDelimiter(sniff(data))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = info.Delimiter
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	records, err := cr.ReadAll()
	if err != nil {
		line := 0
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			line = pe.Line
		}
		return nil, info, errors.ParseError("csv", line, err)
	}
	records = dropEmptyRecords(records)
	if len(records) == 0 {
		return nil, info, errors.New(errors.CodeEmptyInput, "no records")
	}

	width := 0
	for _, rec := range records {
		width = max(width, len(rec))
	}
	header := HeaderNames(records[0], width)

	nulls := nullSet(nullValues)
	rows := records[1:]
	for _, row := range rows {
		for j, field := range row {
			if nulls[strings.TrimSpace(field)] {
				row[j] = ""
			}
		}
	}
	info.Rows = len(rows)
	return model.FromRecords(header, rows), info, nil
}

// HeaderNames trims header cells, fills blanks with "Unnamed: i" and
// suffixes duplicates with ".n".
func HeaderNames(first []string, width int) []string {
	names := make([]string, width)
	seen := make(map[string]int, width)
	for j := range names {
		name := ""
		if j < len(first) {
			name = strings.TrimSpace(first[j])
		}
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", j)
		}
		base := name
		for seen[name] > 0 {
			name = fmt.Sprintf("%s.%d", base, seen[base])
			seen[base]++
		}
		seen[name]++
		names[j] = name
	}
	return names
}

func dropEmptyRecords(records [][]string) [][]string {
	out := records[:0]
	for _, rec := range records {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// sniff returns the first sniffBytes of b. A cut that lands inside a
// multi-byte UTF-8 sequence is moved back to the start of that sequence.
func sniff(b []byte) []byte {
	if len(b) <= sniffBytes {
		return b
	}
	b = b[:sniffBytes]
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			break
		}
	}
	return b
}
