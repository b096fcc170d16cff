// Package ingest loads delimited text and Excel workbooks into tables.
package ingest

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/errors"
)

// DefaultMaxFileSize caps uploads and local inputs.
const DefaultMaxFileSize int64 = 50 << 20

// DefaultExtensions lists the file types the loader accepts.
var DefaultExtensions = []string{".csv", ".tsv", ".txt", ".xlsx", ".xlsm"}

var contentTypes = map[string]string{
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".txt":  "text/plain",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xlsm": "application/vnd.ms-excel.sheet.macroEnabled.12",
}

// Options controls validation and parsing.
type Options struct {
	MaxFileSize       int64
	AllowedExtensions []string
	NullValues        []string
}

// DefaultOptions returns the standard limits.
func DefaultOptions() Options {
	return Options{
		MaxFileSize:       DefaultMaxFileSize,
		AllowedExtensions: DefaultExtensions,
		NullValues:        DefaultNullValues,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if len(o.AllowedExtensions) == 0 {
		o.AllowedExtensions = DefaultExtensions
	}
	if o.NullValues == nil {
		o.NullValues = DefaultNullValues
	}
	return o
}

// ContentType returns the MIME type for a file name, or
// application/octet-stream for unknown extensions.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// IsExcel reports whether ext names a workbook format.
func IsExcel(ext string) bool {
	ext = strings.ToLower(ext)
	return ext == ".xlsx" || ext == ".xlsm"
}

// CheckFile validates a name and size against the options without
// reading content.
func CheckFile(name string, size int64, opts Options) error {
	opts = opts.withDefaults()
	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(opts.AllowedExtensions, ext) {
		return errors.UnsupportedType(ext, opts.AllowedExtensions)
	}
	if size > opts.MaxFileSize {
		return errors.FileTooLarge(name, size, opts.MaxFileSize)
	}
	return nil
}

// Load validates and parses the file at path.
func Load(ctx context.Context, path string, opts Options) (*model.Workbook, model.FileMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.FileMetadata{}, errors.FileNotFound(path)
		}
		return nil, model.FileMetadata{}, errors.Wrap(err, errors.CodeParseFailed, "stat input").
			WithContext("path", path)
	}
	if info.IsDir() {
		return nil, model.FileMetadata{}, errors.UnsupportedType("directory", opts.withDefaults().AllowedExtensions)
	}
	if err := CheckFile(path, info.Size(), opts); err != nil {
		return nil, model.FileMetadata{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, model.FileMetadata{}, errors.Wrap(err, errors.CodeParseFailed, "open input").
			WithContext("path", path)
	}
	defer f.Close()

	wb, meta, err := Read(ctx, filepath.Base(path), f, info.Size(), opts)
	meta.Path = path
	return wb, meta, err
}

// Read parses content already opened by the caller, such as an upload.
func Read(ctx context.Context, name string, r io.Reader, size int64, opts Options) (*model.Workbook, model.FileMetadata, error) {
	opts = opts.withDefaults()
	ext := strings.ToLower(filepath.Ext(name))
	meta := model.FileMetadata{
		Name:        name,
		Size:        size,
		Extension:   ext,
		ContentType: contentTypes[ext],
		UploadedAt:  time.Now().UTC(),
	}
	if err := CheckFile(name, size, opts); err != nil {
		return nil, meta, err
	}
	if err := ctx.Err(); err != nil {
		return nil, meta, errors.Wrap(err, errors.CodeContextCanceled, "load")
	}

	// Enforce the cap even when the declared size was wrong.
	data, err := io.ReadAll(io.LimitReader(r, opts.MaxFileSize+1))
	if err != nil {
		return nil, meta, errors.Wrap(err, errors.CodeParseFailed, "read input")
	}
	if int64(len(data)) > opts.MaxFileSize {
		return nil, meta, errors.FileTooLarge(name, int64(len(data)), opts.MaxFileSize)
	}
	meta.Size = int64(len(data))

	if IsExcel(ext) {
		wb, err := ReadWorkbook(ctx, bytes.NewReader(data), opts.NullValues)
		if err != nil {
			return nil, meta, err
		}
		meta.Sheets = wb.SheetNames()
		return wb, meta, nil
	}

	t, csvInfo, err := ReadCSV(bytes.NewReader(data), opts.NullValues)
	meta.Encoding = string(csvInfo.Encoding)
	if csvInfo.Delimiter != 0 {
		meta.Delimiter = string(csvInfo.Delimiter)
	}
	if err != nil {
		return nil, meta, err
	}
	sheet := strings.TrimSuffix(name, filepath.Ext(name))
	meta.Sheets = []string{sheet}
	return &model.Workbook{Sheets: []model.Sheet{{Name: sheet, Table: t}}}, meta, nil
}
