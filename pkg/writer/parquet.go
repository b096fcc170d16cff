package writer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/logflow/tabprep/internal/model"
	"github.com/logflow/tabprep/pkg/errors"
	"github.com/logflow/tabprep/pkg/infer"
)

// Field metadata keys carried from type signatures.
const (
	MetaDetectedType = "tabprep.detected_type"
	MetaConfidence   = "tabprep.confidence"
)

var timestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// ArrowType picks the physical column type from the cleaned values. The
// signature refines numbers: money and rates stay floating point even when
// every value happens to be whole.
func ArrowType(col *model.Column, sig infer.Signature, hasSig bool) arrow.DataType {
	kinds := make(map[model.Kind]int)
	for _, v := range col.Values {
		if !v.IsNull() {
			kinds[v.Kind()]++
		}
	}
	only := func(ks ...model.Kind) bool {
		n := 0
		for _, k := range ks {
			n += kinds[k]
		}
		return n > 0 && n == sumCounts(kinds)
	}

	switch {
	case only(model.KindInt):
		if hasSig && (sig.Type == infer.TypeFloat || sig.Type == infer.TypeCurrency || sig.Type == infer.TypePercentage) {
			return arrow.PrimitiveTypes.Float64
		}
		return arrow.PrimitiveTypes.Int64
	case only(model.KindInt, model.KindFloat):
		return arrow.PrimitiveTypes.Float64
	case only(model.KindTime):
		return timestampType
	case only(model.KindBool):
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

func sumCounts(m map[model.Kind]int) int {
	n := 0
	for _, c := range m {
		n += c
	}
	return n
}

// Schema derives the Arrow schema of a cleaned table.
func Schema(t *model.Table, sigs infer.Signatures, meta map[string]string) *arrow.Schema {
	fields := make([]arrow.Field, len(t.Columns))
	for i, col := range t.Columns {
		sig, ok := sigs.Get(col.Name)
		f := arrow.Field{Name: col.Name, Type: ArrowType(col, sig, ok), Nullable: true}
		if ok {
			f.Metadata = arrow.NewMetadata(
				[]string{MetaDetectedType, MetaConfidence},
				[]string{sig.Type.String(), fmt.Sprintf("%.4f", sig.Confidence)},
			)
		}
		fields[i] = f
	}
	var md *arrow.Metadata
	if len(meta) > 0 {
		m := arrow.MetadataFrom(meta)
		md = &m
	}
	return arrow.NewSchema(fields, md)
}

// WriteParquet writes a cleaned table as a single Parquet file. w is
// left open; closing it stays with the caller.
func WriteParquet(w io.Writer, t *model.Table, sigs infer.Signatures, cfg Config) error {
	// pqarrow closes its sink when it implements io.Closer.
	w = struct{ io.Writer }{w}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	mem := memory.NewGoAllocator()
	schema := Schema(t, sigs, cfg.Metadata)

	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec(cfg.Compression)),
		parquet.WithDictionaryDefault(true),
		parquet.WithMaxRowGroupLength(int64(cfg.BatchSize)),
		parquet.WithAllocator(mem),
	)
	fw, err := pqarrow.NewFileWriter(schema, w, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "create parquet writer")
	}

	rows := t.NumRows()
	for start := 0; start < rows || start == 0; start += cfg.BatchSize {
		end := min(start+cfg.BatchSize, rows)
		rec, err := buildRecord(mem, schema, t, start, end)
		if err != nil {
			fw.Close()
			return err
		}
		err = fw.Write(rec)
		rec.Release()
		if err != nil {
			fw.Close()
			return errors.Wrap(err, errors.CodeWriteFailed, "write record batch").WithContext("offset", start)
		}
		if rows == 0 {
			break
		}
	}
	if err := fw.Close(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "close parquet writer")
	}
	return nil
}

func codec(c CompressionType) compress.Compression {
	switch c {
	case CompressionSnappy:
		return compress.Codecs.Snappy
	case CompressionGzip:
		return compress.Codecs.Gzip
	case CompressionZstd:
		return compress.Codecs.Zstd
	default:
		return compress.Codecs.Uncompressed
	}
}

func buildRecord(mem memory.Allocator, schema *arrow.Schema, t *model.Table, start, end int) (arrow.Record, error) {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for j, col := range t.Columns {
		fb := b.Field(j)
		for i := start; i < end; i++ {
			var v model.Value
			if i < col.Len() {
				v = col.Values[i]
			}
			if v.IsNull() {
				fb.AppendNull()
				continue
			}
			switch bld := fb.(type) {
			case *array.Int64Builder:
				n, _ := v.Int64()
				bld.Append(n)
			case *array.Float64Builder:
				f, _ := v.Float64()
				bld.Append(f)
			case *array.TimestampBuilder:
				ts, _ := v.Time()
				bld.Append(arrow.Timestamp(ts.UTC().UnixMicro()))
			case *array.BooleanBuilder:
				bv := v.String() == "true"
				bld.Append(bv)
			case *array.StringBuilder:
				bld.Append(v.String())
			default:
				return nil, errors.Newf(errors.CodeWriteFailed, "no builder for column %q", col.Name)
			}
		}
	}
	return b.NewRecord(), nil
}

// ReadParquet loads a Parquet file written by WriteParquet back into a
// table.
func ReadParquet(ctx context.Context, r parquet.ReaderAtSeeker) (*model.Table, error) {
	mem := memory.NewGoAllocator()
	tbl, err := pqarrow.ReadTable(ctx, r, parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeParseFailed, "read parquet")
	}
	defer tbl.Release()

	out := &model.Table{Columns: make([]*model.Column, tbl.NumCols())}
	for j := 0; j < int(tbl.NumCols()); j++ {
		c := tbl.Column(j)
		col := &model.Column{Name: c.Name(), Values: make([]model.Value, 0, c.Len())}
		for _, chunk := range c.Data().Chunks() {
			vals, err := chunkValues(chunk)
			if err != nil {
				return nil, err
			}
			col.Values = append(col.Values, vals...)
		}
		out.Columns[j] = col
	}
	return out, nil
}

func chunkValues(arr arrow.Array) ([]model.Value, error) {
	vals := make([]model.Value, arr.Len())
	for i := range vals {
		if arr.IsNull(i) {
			continue
		}
		switch a := arr.(type) {
		case *array.Int64:
			vals[i] = model.Int(a.Value(i))
		case *array.Float64:
			vals[i] = model.Float(a.Value(i))
		case *array.Timestamp:
			vals[i] = model.Time(time.UnixMicro(int64(a.Value(i))).UTC())
		case *array.Boolean:
			vals[i] = model.Bool(a.Value(i))
		case *array.String:
			vals[i] = model.String(a.Value(i))
		default:
			return nil, errors.Newf(errors.CodeParseFailed, "unsupported parquet column type %s", arr.DataType())
		}
	}
	return vals, nil
}
