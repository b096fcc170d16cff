// Package writer exports cleaned tables as Parquet or CSV and run reports
// as JSON.
package writer

import (
	"encoding/csv"
	"encoding/json"
	"io"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/errors"
)

// Content types of the produced artifacts.
const (
	ContentTypeParquet = "application/vnd.apache.parquet"
	ContentTypeJSON    = "application/json"
	ContentTypeCSV     = "text/csv"
)

// Config holds Parquet writer settings.
type Config struct {
	// BatchSize is the number of rows per record batch and row group.
	BatchSize int

	Compression CompressionType

	// Metadata is stored in the Arrow schema of the file.
	Metadata map[string]string
}

// CompressionType represents Parquet compression options.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
)

// String returns the compression type name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// ParseCompression parses a compression type name.
func ParseCompression(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	case "zstd":
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// DefaultConfig returns snappy-compressed 64k-row groups.
func DefaultConfig() Config {
	return Config{
		BatchSize:   64 * 1024,
		Compression: CompressionSnappy,
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "encode json")
	}
	return nil
}

// WriteCSV writes t with a header row. Null cells are empty.
func WriteCSV(w io.Writer, t *model.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Names()); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "write csv header")
	}
	rec := make([]string, t.NumColumns())
	for i := 0; i < t.NumRows(); i++ {
		for j, v := range t.Row(i) {
			rec[j] = v.String()
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "write csv row").WithContext("row", i)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "flush csv")
	}
	return nil
}
