package avrofile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
)

type (
	// Kind is the class of file, which fixes its record layout.
	Kind int

	recordSchema struct {
		Type      string        `json:"type"`
		Name      string        `json:"name"`
		Namespace string        `json:"namespace"`
		Doc       string        `json:"doc,omitempty"`
		Fields    []fieldSchema `json:"fields"`
	}

	fieldSchema struct {
		Name string `json:"name"`
		Type any    `json:"type"`
		Doc  string `json:"doc,omitempty"`
	}

	// column is one schema field resolved for encoding and decoding.
	column struct {
		avroName string
		field    table.Field
		codec    codec.ColumnCodec
	}
)

const (
	KindData Kind = iota
	KindTags
	KindNtb
)

const (
	tbnameField  = "tbname"
	stbnameField = "stbname"
	tbnameDoc    = "TBNAME"
	stbnameDoc   = "STBNAME"
)

var (
	ErrBadSchema = errors.New("avro schema does not describe a dump file")

	recordNames = map[Kind]string{
		KindData: "data",
		KindTags: "tags",
		KindNtb:  "ntb",
	}

	ntbFields = []fieldSchema{
		{Name: tbnameField, Type: "string", Doc: tbnameDoc},
		{Name: "field", Type: "string"},
		{Name: "type", Type: "string"},
		{Name: "length", Type: "int"},
		{Name: "note", Type: "string"},
	}
)

func (k Kind) String() string {
	return recordNames[k]
}

// Sanitize maps an identifier onto the avro name grammar [A-Za-z_][A-Za-z0-9_]*. Distinct inputs may collide.
func Sanitize(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// typeDoc is what restore reads back to recover the column type, e.g. "VARCHAR(16)".
func typeDoc(f table.Field) string {
	if f.Type.IsText() {
		return f.Type.String() + "(" + strconv.Itoa(f.Length) + ")"
	}
	return f.Type.String()
}

func parseTypeDoc(doc string) (coltype.Type, int, error) {
	t, err := coltype.Parse(doc)
	if err != nil {
		return 0, 0, err
	}
	length := t.ByteWidth()
	if i := strings.IndexByte(doc, '('); i >= 0 && strings.HasSuffix(doc, ")") {
		n, err := strconv.Atoi(doc[i+1 : len(doc)-1])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: length in %q", ErrBadSchema, doc)
		}
		length = n
	}
	return t, length, nil
}

// resolveColumns assigns unique avro names to fields.
func resolveColumns(fields []table.Field, taken map[string]bool) ([]column, error) {
	cols := make([]column, len(fields))
	for i, f := range fields {
		c, err := codec.Lookup(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		name := Sanitize(f.Name)
		for n := 1; taken[strings.ToLower(name)]; n++ {
			name = Sanitize(f.Name) + "_" + strconv.Itoa(n)
		}
		taken[strings.ToLower(name)] = true
		cols[i] = column{avroName: name, field: f, codec: c}
	}
	return cols, nil
}

func (c column) schema() fieldSchema {
	var typ any = c.codec.AvroSchema()
	if c.field.Nullable {
		typ = []any{"null", typ}
	}
	return fieldSchema{Name: c.avroName, Type: typ, Doc: typeDoc(c.field)}
}

// layout is the ordered field plan of one file.
type layout struct {
	kind      Kind
	loose     bool
	db        string
	name      string
	// table is the unsanitized table name a loose layout was built from
	table     string
	precision coltype.Precision
	synthetic []string
	cols      []column
}

func newLayout(kind Kind, s *table.Schema, loose bool) (*layout, error) {
	l := &layout{kind: kind, loose: loose, db: s.DB, precision: s.Precision, name: recordNames[kind]}
	taken := map[string]bool{tbnameField: true, stbnameField: true}
	var (
		fields []table.Field
		err    error
	)
	switch kind {
	case KindData:
		fields = s.Columns
		if loose {
			l.name, l.table = Sanitize(s.Name), s.Name
		} else {
			l.synthetic = []string{tbnameField}
		}
	case KindTags:
		fields = s.Tags
		if loose {
			l.name, l.table = Sanitize(s.Name), s.Name
			l.synthetic = []string{tbnameField}
		} else {
			l.synthetic = []string{stbnameField, tbnameField}
		}
	default:
		return nil, fmt.Errorf("%w: no column layout for %s", ErrBadSchema, kind)
	}
	if l.cols, err = resolveColumns(fields, taken); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *layout) schemaJSON() (string, error) {
	rs := recordSchema{Type: "record", Name: l.name, Namespace: Sanitize(l.db), Doc: recordDoc(l.precision, l.table)}
	if l.kind == KindNtb {
		rs.Fields = ntbFields
	}
	for _, s := range l.synthetic {
		doc := tbnameDoc
		if s == stbnameField {
			doc = stbnameDoc
		}
		rs.Fields = append(rs.Fields, fieldSchema{Name: s, Type: "string", Doc: doc})
	}
	for _, c := range l.cols {
		rs.Fields = append(rs.Fields, c.schema())
	}
	b, err := json.Marshal(rs)
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}

// recordDoc carries the precision and, for loose files, the table name the record name was sanitized from.
func recordDoc(p coltype.Precision, table string) string {
	if table == "" {
		return string(p)
	}
	return string(p) + " " + table
}

func parseRecordDoc(doc string) (coltype.Precision, string) {
	p, tb, _ := strings.Cut(doc, " ")
	return coltype.Precision(p), tb
}

// tableName is the table a loose layout restores into.
func (l *layout) tableName() string {
	if l.table != "" {
		return l.table
	}
	return l.name
}

// parseLayout rebuilds the plan from a schema read back out of a file.
func parseLayout(kind Kind, schema string) (*layout, error) {
	var rs recordSchema
	if err := json.Unmarshal([]byte(schema), &rs); err != nil {
		return nil, fmt.Errorf("error in json.Unmarshal for avro schema: %w", err)
	}
	if rs.Type != "record" {
		return nil, fmt.Errorf("%w: type %q", ErrBadSchema, rs.Type)
	}
	p, tb := parseRecordDoc(rs.Doc)
	l := &layout{kind: kind, db: rs.Namespace, name: rs.Name, table: tb, precision: p}
	if kind == KindNtb {
		if len(rs.Fields) != len(ntbFields) {
			return nil, fmt.Errorf("%w: ntb file has %d fields", ErrBadSchema, len(rs.Fields))
		}
		return l, nil
	}
	i := 0
	for i < len(rs.Fields) && (rs.Fields[i].Doc == tbnameDoc || rs.Fields[i].Doc == stbnameDoc) {
		l.synthetic = append(l.synthetic, rs.Fields[i].Name)
		i++
	}
	switch kind {
	case KindData:
		l.loose = len(l.synthetic) == 0
	case KindTags:
		l.loose = len(l.synthetic) == 1
		if len(l.synthetic) == 0 {
			return nil, fmt.Errorf("%w: tag file without tbname", ErrBadSchema)
		}
	}
	for _, fs := range rs.Fields[i:] {
		t, length, err := parseTypeDoc(fs.Doc)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fs.Name, err)
		}
		c, err := codec.Lookup(t)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fs.Name, err)
		}
		_, nullable := fs.Type.([]any)
		l.cols = append(l.cols, column{
			avroName: fs.Name,
			field:    table.Field{Name: fs.Name, Type: t, Length: length, Nullable: nullable, IsTag: kind == KindTags},
			codec:    c,
		})
	}
	return l, nil
}

func (l *layout) fields() []table.Field {
	out := make([]table.Field, len(l.cols))
	for i, c := range l.cols {
		out[i] = c.field
	}
	return out
}
