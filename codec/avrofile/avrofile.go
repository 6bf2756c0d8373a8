package avrofile

import (
	"errors"
	"fmt"
	"io"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/linkedin/goavro/v2"
)

type (
	Options struct {
		Loose bool
		// Compression is an OCF block codec: "null", "deflate" or "snappy"
		Compression string
	}

	Writer struct {
		ocfw   *goavro.OCFWriter
		layout *layout
		stable string
		count  int64
	}

	// Record is one decoded row. Table and SuperTable come from the synthetic fields, or from the schema name in
	// loose mode.
	Record struct {
		Table      string
		SuperTable string
		Values     []coltype.Value
	}

	// Header describes a file as read back from its embedded schema.
	Header struct {
		Kind      Kind
		DB        string
		Name      string
		Loose     bool
		Precision coltype.Precision
		Fields    []table.Field
	}

	Reader struct {
		ocfr   *goavro.OCFReader
		layout *layout
	}
)

var (
	ErrWrongKind   = errors.New("operation does not match file kind")
	ErrFieldCount  = errors.New("value count does not match field count")
	ErrNotARecord  = errors.New("avro datum is not a record")
	ErrMissingName = errors.New("record has no table name")
)

func newWriter(w io.Writer, l *layout, opts Options) (*Writer, error) {
	schema, err := l.schemaJSON()
	if err != nil {
		return nil, err
	}
	comp := opts.Compression
	if comp == "" {
		comp = goavro.CompressionDeflateLabel
	}
	ocfw, err := goavro.NewOCFWriter(goavro.OCFConfig{W: w, Schema: schema, CompressionName: comp})
	if err != nil {
		return nil, fmt.Errorf("error in goavro.NewOCFWriter: %w", err)
	}
	return &Writer{ocfw: ocfw, layout: l}, nil
}

// NewDataWriter starts a row data file for tables of schema s.
func NewDataWriter(w io.Writer, s *table.Schema, opts Options) (*Writer, error) {
	l, err := newLayout(KindData, s, opts.Loose)
	if err != nil {
		return nil, err
	}
	return newWriter(w, l, opts)
}

// NewTagWriter starts the tag file of super table s, one record per child table.
func NewTagWriter(w io.Writer, s *table.Schema, opts Options) (*Writer, error) {
	l, err := newLayout(KindTags, s, opts.Loose)
	if err != nil {
		return nil, err
	}
	wr, err := newWriter(w, l, opts)
	if err != nil {
		return nil, err
	}
	wr.stable = s.Name
	return wr, nil
}

// NewNtbWriter starts a plain table definition file for database db.
func NewNtbWriter(w io.Writer, db string, p coltype.Precision, opts Options) (*Writer, error) {
	l := &layout{kind: KindNtb, db: db, name: recordNames[KindNtb], precision: p}
	return newWriter(w, l, opts)
}

func (w *Writer) encodeValues(values []coltype.Value, datum map[string]any) error {
	if len(values) != len(w.layout.cols) {
		return fmt.Errorf("%w: %d values for %d fields", ErrFieldCount, len(values), len(w.layout.cols))
	}
	for i, c := range w.layout.cols {
		v := values[i]
		if err := codec.CheckLength(c.field, v); err != nil {
			return err
		}
		if v.IsNull() && c.field.Nullable {
			datum[c.avroName] = nil
			continue
		}
		native, err := c.codec.ToAvro(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", c.field.Name, codec.Mismatch(err))
		}
		if c.field.Nullable {
			native = goavro.Union(c.codec.AvroBranch(), native)
		}
		datum[c.avroName] = native
	}
	return nil
}

// AppendRows writes data rows. A row without a table name takes the schema name. Rows are validated before any
// is written, so a bad row fails the whole call and leaves the file unchanged.
func (w *Writer) AppendRows(rows []table.Row) error {
	if w.layout.kind != KindData {
		return ErrWrongKind
	}
	data := make([]any, 0, len(rows))
	for i, r := range rows {
		datum := make(map[string]any, len(w.layout.cols)+1)
		if !w.layout.loose {
			if r.Table == "" {
				return fmt.Errorf("row %d: %w", i, ErrMissingName)
			}
			datum[tbnameField] = r.Table
		}
		if err := w.encodeValues(r.Values, datum); err != nil {
			return fmt.Errorf("row %d of %s: %w", i, r.Table, err)
		}
		data = append(data, datum)
	}
	return w.append(data)
}

// AppendTags writes the tag values of one child table.
func (w *Writer) AppendTags(child string, tags []coltype.Value) error {
	if w.layout.kind != KindTags {
		return ErrWrongKind
	}
	datum := map[string]any{tbnameField: child}
	if !w.layout.loose {
		datum[stbnameField] = w.stable
	}
	if err := w.encodeValues(tags, datum); err != nil {
		return fmt.Errorf("tags of %s: %w", child, err)
	}
	return w.append([]any{datum})
}

// AppendTable writes the column definitions of one plain table.
func (w *Writer) AppendTable(s *table.Schema) error {
	if w.layout.kind != KindNtb {
		return ErrWrongKind
	}
	data := make([]any, 0, len(s.Columns))
	for _, d := range s.DescribeRows() {
		data = append(data, map[string]any{
			tbnameField: s.Name,
			"field":     d.Field,
			"type":      d.Type,
			"length":    int32(d.Length),
			"note":      d.Note,
		})
	}
	return w.append(data)
}

func (w *Writer) append(data []any) error {
	if len(data) == 0 {
		return nil
	}
	if err := w.ocfw.Append(data); err != nil {
		return fmt.Errorf("error in ocfw.Append: %w", err)
	}
	w.count += int64(len(data))
	return nil
}

// Count is the number of records written so far.
func (w *Writer) Count() int64 {
	return w.count
}

// NewReader reads the OCF header of r and resolves the column plan from the embedded schema.
func NewReader(r io.Reader, kind Kind) (*Reader, error) {
	ocfr, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, fmt.Errorf("error in goavro.NewOCFReader: %w", err)
	}
	l, err := parseLayout(kind, ocfr.Codec().Schema())
	if err != nil {
		return nil, err
	}
	return &Reader{ocfr: ocfr, layout: l}, nil
}

func (r *Reader) Header() Header {
	return Header{
		Kind:      r.layout.kind,
		DB:        r.layout.db,
		Name:      r.layout.tableName(),
		Loose:     r.layout.loose,
		Precision: r.layout.precision,
		Fields:    r.layout.fields(),
	}
}

func (r *Reader) Next() bool {
	return r.ocfr.Scan()
}

func (r *Reader) Err() error {
	return r.ocfr.Err()
}

// Record decodes the current datum. For ntb files Values holds field, type, length and note.
func (r *Reader) Record() (Record, error) {
	native, err := r.ocfr.Read()
	if err != nil {
		return Record{}, fmt.Errorf("error in ocfr.Read: %w", err)
	}
	datum, ok := native.(map[string]any)
	if !ok {
		return Record{}, ErrNotARecord
	}
	if r.layout.kind == KindNtb {
		return r.ntbRecord(datum)
	}
	rec := Record{Values: make([]coltype.Value, len(r.layout.cols))}
	switch {
	case r.layout.kind == KindData && r.layout.loose:
		rec.Table = r.layout.tableName()
	case r.layout.kind == KindData:
		rec.Table, _ = datum[tbnameField].(string)
	case r.layout.loose:
		rec.SuperTable = r.layout.tableName()
		rec.Table, _ = datum[tbnameField].(string)
	default:
		rec.SuperTable, _ = datum[stbnameField].(string)
		rec.Table, _ = datum[tbnameField].(string)
	}
	if rec.Table == "" {
		return rec, ErrMissingName
	}
	for i, c := range r.layout.cols {
		v, err := decodeValue(c, datum[c.avroName])
		if err != nil {
			return rec, fmt.Errorf("field %s of %s: %w", c.field.Name, rec.Table, codec.Mismatch(err))
		}
		rec.Values[i] = v
	}
	return rec, nil
}

func decodeValue(c column, native any) (coltype.Value, error) {
	if native == nil {
		return coltype.NullValue(), nil
	}
	if c.field.Nullable {
		u, ok := native.(map[string]any)
		if !ok || len(u) != 1 {
			return coltype.NullValue(), fmt.Errorf("%w: union value %T", coltype.ErrKindMismatch, native)
		}
		for _, inner := range u {
			native = inner
		}
	}
	return c.codec.FromAvro(native)
}

func (r *Reader) ntbRecord(datum map[string]any) (Record, error) {
	tb, _ := datum[tbnameField].(string)
	if tb == "" {
		return Record{}, ErrMissingName
	}
	field, _ := datum["field"].(string)
	typ, _ := datum["type"].(string)
	length, _ := datum["length"].(int32)
	note, _ := datum["note"].(string)
	return Record{
		Table: tb,
		Values: []coltype.Value{
			coltype.NewString(field), coltype.NewString(typ), coltype.NewInt(int64(length)), coltype.NewString(note),
		},
	}, nil
}

// DescribeRow converts an ntb record back into a DESCRIBE line.
func (rec Record) DescribeRow() (table.DescribeRow, error) {
	if len(rec.Values) != 4 {
		return table.DescribeRow{}, fmt.Errorf("%w: ntb record has %d values", ErrFieldCount, len(rec.Values))
	}
	return table.DescribeRow{
		Field:  rec.Values[0].AsString(),
		Type:   rec.Values[1].AsString(),
		Length: int(rec.Values[2].Int),
		Note:   rec.Values[3].AsString(),
	}, nil
}
