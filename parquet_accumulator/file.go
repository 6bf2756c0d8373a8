package parquet_accumulator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"

	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

const parallelism = 4

type (
	Writer struct {
		pw    *writer.JSONWriter
		acc   *ParquetSchemaAccumulator
		count int64
	}

	Reader struct {
		pr   *reader.ParquetReader
		pf   source.ParquetFile
		left int64
	}

	// RawRow is one record as parquet-go decoded it: the table name and one native value per column, nil for null.
	RawRow struct {
		Table  string
		Values []any
	}

	// bytesFile serves a parquet file held in memory. Every Open gets its own cursor.
	bytesFile struct {
		*bytes.Reader
		b []byte
	}
)

var (
	ErrReadOnly  = errors.New("parquet source is read only")
	ErrBadRecord = errors.New("parquet record does not hold a table row")
)

func NewWriter(w io.Writer, s *table.Schema) (*Writer, error) {
	acc, err := NewParquetAccumulator(s)
	if err != nil {
		return nil, err
	}
	schema, err := acc.GetSchemaString()
	if err != nil {
		return nil, err
	}
	pw, err := writer.NewJSONWriterFromWriter(schema, w, parallelism)
	if err != nil {
		return nil, fmt.Errorf("error in writer.NewJSONWriterFromWriter: %w", err)
	}
	return &Writer{pw: pw, acc: acc}, nil
}

// AppendRows renders every row before writing any, so a bad row leaves the file unchanged.
func (w *Writer) AppendRows(rows []table.Row) error {
	recs := make([]string, len(rows))
	for i, r := range rows {
		rec, err := w.acc.RowJSON(r)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		recs[i] = rec
	}
	for _, rec := range recs {
		if err := w.pw.Write(rec); err != nil {
			return fmt.Errorf("error in pw.Write: %w", err)
		}
		w.count++
	}
	return nil
}

func (w *Writer) Count() int64 {
	return w.count
}

// Close flushes the row groups and the footer. It does not close the underlying writer.
func (w *Writer) Close() error {
	if err := w.pw.WriteStop(); err != nil {
		return fmt.Errorf("error in pw.WriteStop: %w", err)
	}
	return nil
}

// NewReader reads pf using the schema stored in its footer.
func NewReader(pf source.ParquetFile) (*Reader, error) {
	pr, err := reader.NewParquetReader(pf, nil, parallelism)
	if err != nil {
		return nil, fmt.Errorf("error in reader.NewParquetReader: %w", err)
	}
	return &Reader{pr: pr, pf: pf, left: pr.GetNumRows()}, nil
}

func NewBytesReader(b []byte) (*Reader, error) {
	return NewReader(newBytesFile(b))
}

func (r *Reader) NumRows() int64 {
	return r.pr.GetNumRows()
}

// Next returns up to n rows, or none once the file is exhausted.
func (r *Reader) Next(n int) ([]RawRow, error) {
	if r.left <= 0 {
		return nil, nil
	}
	if int64(n) > r.left {
		n = int(r.left)
	}
	res, err := r.pr.ReadByNumber(n)
	if err != nil {
		return nil, fmt.Errorf("error in pr.ReadByNumber: %w", err)
	}
	r.left -= int64(len(res))
	if len(res) == 0 {
		r.left = 0
	}
	rows := make([]RawRow, 0, len(res))
	for _, item := range res {
		// row is a struct, fields in schema order
		v := reflect.ValueOf(item)
		if v.Kind() != reflect.Struct || v.NumField() < 1 {
			return nil, ErrBadRecord
		}
		name, ok := deref(v.Field(0)).(string)
		if !ok {
			return nil, fmt.Errorf("%w: table name is %T", ErrBadRecord, v.Field(0).Interface())
		}
		row := RawRow{Table: name, Values: make([]any, v.NumField()-1)}
		for i := 1; i < v.NumField(); i++ {
			row.Values[i-1] = deref(v.Field(i))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (r *Reader) Close() error {
	r.pr.ReadStop()
	return r.pf.Close()
}

func deref(v reflect.Value) any {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

// Decode converts the natives of a RawRow into values of fields.
func Decode(fields []table.Field, natives []any) ([]coltype.Value, error) {
	if len(natives) != len(fields) {
		return nil, fmt.Errorf("%w: %d values for %d columns", ErrBadRecord, len(natives), len(fields))
	}
	out := make([]coltype.Value, len(fields))
	for i, f := range fields {
		v, err := decodeValue(f, natives[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func decodeValue(f table.Field, native any) (coltype.Value, error) {
	switch n := native.(type) {
	case nil:
		return coltype.NullValue(), nil
	case bool:
		return coltype.NewBool(n), nil
	case int32:
		if f.Type.IsUnsigned() {
			return coltype.NewUint(uint64(uint32(n))), nil
		}
		return coltype.NewInt(int64(n)), nil
	case int64:
		if f.Type.IsUnsigned() {
			return coltype.NewUint(uint64(n)), nil
		}
		return coltype.NewInt(n), nil
	case float32:
		return coltype.NewFloat(float64(n)), nil
	case float64:
		return coltype.NewFloat(n), nil
	case string:
		if f.Type == coltype.UBigInt {
			u, err := strconv.ParseUint(n, 10, 64)
			if err != nil {
				return coltype.NullValue(), fmt.Errorf("%w: %s", coltype.ErrOutOfRange, err)
			}
			return coltype.NewUint(u), nil
		}
		return coltype.NewString(n), nil
	}
	return coltype.NullValue(), fmt.Errorf("%w: parquet native %T", coltype.ErrKindMismatch, native)
}

func newBytesFile(b []byte) *bytesFile {
	return &bytesFile{Reader: bytes.NewReader(b), b: b}
}

func (f *bytesFile) Write([]byte) (int, error) {
	return 0, ErrReadOnly
}

func (f *bytesFile) Close() error {
	return nil
}

func (f *bytesFile) Open(string) (source.ParquetFile, error) {
	return newBytesFile(f.b), nil
}

func (f *bytesFile) Create(string) (source.ParquetFile, error) {
	return nil, ErrReadOnly
}
