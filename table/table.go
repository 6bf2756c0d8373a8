package table

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/danthegoodman1/tsmover/coltype"
)

type (
	// Field describes one column or tag.
	Field struct {
		Name   string       `json:"name"`
		Type   coltype.Type `json:"type"`
		Length int          `json:"length,omitempty"`
		// Min and Max bound generated values, Min inclusive and Max exclusive.
		Min      int64 `json:"min,omitempty"`
		Max      int64 `json:"max,omitempty"`
		Nullable bool  `json:"nullable,omitempty"`
		IsTag    bool  `json:"isTag,omitempty"`
		// Values replaces random text generation with a uniform pick from the list
		Values []string `json:"values,omitempty"`
	}

	Schema struct {
		DB         string            `json:"db"`
		Name       string            `json:"name"`
		SuperTable string            `json:"superTable,omitempty"`
		Precision  coltype.Precision `json:"precision,omitempty"`
		Columns    []Field           `json:"columns"`
		Tags       []Field           `json:"tags,omitempty"`
	}

	// Row holds one value per schema column, in column order.
	Row struct {
		Table  string
		Values []coltype.Value
	}
)

const (
	boolBuffLen      = 6
	tinyIntBuffLen   = 5
	smallIntBuffLen  = 7
	intBuffLen       = 12
	bigIntBuffLen    = 21
	floatBuffLen     = 22
	doubleBuffLen    = 42
	timestampBuffLen = 21

	// quotes plus separator around a text value
	textOverhead = 3
)

var (
	ErrNoTimestamp     = errors.New("first column must be a timestamp")
	ErrDuplicateField  = errors.New("duplicate field name")
	ErrMissingLength   = errors.New("text field needs a declared length")
	ErrInvalidBounds   = errors.New("field min must be below max")
	ErrEmptyIdentifier = errors.New("empty identifier")
)

// Validate checks the structural invariants of the schema.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return ErrEmptyIdentifier
	}
	if len(s.Columns) == 0 || s.Columns[0].Type != coltype.Timestamp {
		return fmt.Errorf("%w: %s", ErrNoTimestamp, s.Name)
	}
	seen := make(map[string]bool, len(s.Columns)+len(s.Tags))
	for _, fields := range [][]Field{s.Columns, s.Tags} {
		for _, f := range fields {
			if f.Name == "" {
				return ErrEmptyIdentifier
			}
			key := strings.ToLower(f.Name)
			if seen[key] {
				return fmt.Errorf("%w: %s", ErrDuplicateField, f.Name)
			}
			seen[key] = true
			if !f.Type.Valid() {
				return fmt.Errorf("%w: %s", coltype.ErrUnknownType, f.Name)
			}
			if (f.Type == coltype.Binary || f.Type == coltype.NChar) && f.Length <= 0 {
				return fmt.Errorf("%w: %s", ErrMissingLength, f.Name)
			}
			if f.Type.IsNumeric() && f.Min >= f.Max && (f.Min != 0 || f.Max != 0) {
				return fmt.Errorf("%w: %s [%d, %d)", ErrInvalidBounds, f.Name, f.Min, f.Max)
			}
		}
	}
	return nil
}

// IsSuper reports whether the schema is a super table template, i.e. has tags but no parent.
func (s *Schema) IsSuper() bool {
	return s.SuperTable == "" && len(s.Tags) > 0
}

func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

func (s *Schema) TagNames() []string {
	names := make([]string, len(s.Tags))
	for i, c := range s.Tags {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column or tag by case insensitive name.
func (s *Schema) Column(name string) (Field, bool) {
	for _, fields := range [][]Field{s.Columns, s.Tags} {
		for _, f := range fields {
			if strings.EqualFold(f.Name, name) {
				return f, true
			}
		}
	}
	return Field{}, false
}

// MaxEncodedRowBytes is an upper bound on the text length of one row of column values.
func (s *Schema) MaxEncodedRowBytes() int {
	return RowLen(s.Columns)
}

// MaxEncodedTagBytes is the same bound for the tag values of one child table.
func (s *Schema) MaxEncodedTagBytes() int {
	return RowLen(s.Tags)
}

// RowLen sums a conservative per-type width over fields, one separator per field and a trailing timestamp.
func RowLen(fields []Field) int {
	n := 0
	for _, f := range fields {
		switch f.Type {
		case coltype.Binary, coltype.NChar:
			n += f.Length + textOverhead
		case coltype.Int, coltype.UInt:
			n += intBuffLen
		case coltype.BigInt, coltype.UBigInt:
			n += bigIntBuffLen
		case coltype.SmallInt, coltype.USmallInt:
			n += smallIntBuffLen
		case coltype.TinyInt, coltype.UTinyInt:
			n += tinyIntBuffLen
		case coltype.Bool:
			n += boolBuffLen
		case coltype.Float:
			n += floatBuffLen
		case coltype.Double:
			n += doubleBuffLen
		case coltype.Timestamp:
			n += timestampBuffLen
		case coltype.JSON:
			n += f.Length * len(fields)
		}
		n++
	}
	return n + timestampBuffLen
}

// DefaultBounds is the generation range used when a field declares none. The range never reaches a null sentinel.
func DefaultBounds(t coltype.Type) (min, max int64) {
	switch t {
	case coltype.Bool:
		return 0, 2
	case coltype.TinyInt:
		return math.MinInt8 + 1, math.MaxInt8
	case coltype.SmallInt:
		return math.MinInt16 + 1, math.MaxInt16
	case coltype.Int, coltype.BigInt:
		return math.MinInt32 + 1, math.MaxInt32
	case coltype.UTinyInt:
		return 0, math.MaxUint8
	case coltype.USmallInt:
		return 0, math.MaxUint16
	case coltype.UInt, coltype.UBigInt:
		return 0, math.MaxUint32
	case coltype.Float, coltype.Double:
		return 0, 1000
	case coltype.Timestamp:
		return 0, math.MaxInt32
	}
	return 0, 0
}

// WithDefaults fills unset bounds and text lengths.
func (f Field) WithDefaults() Field {
	if f.Min == 0 && f.Max == 0 {
		f.Min, f.Max = DefaultBounds(f.Type)
	}
	if f.Length == 0 {
		switch {
		case f.Type == coltype.Binary || f.Type == coltype.NChar:
			f.Length = 16
		case f.Type == coltype.JSON:
			f.Length = 4095
		case f.Type.ByteWidth() != coltype.Variable:
			f.Length = f.Type.ByteWidth()
		}
	}
	return f
}

// NewRow allocates a row of nulls sized to the schema columns.
func (s *Schema) NewRow() Row {
	return Row{Table: s.Name, Values: make([]coltype.Value, len(s.Columns))}
}

// Check validates every value of r against the schema.
func (s *Schema) Check(r Row) error {
	if len(r.Values) != len(s.Columns) {
		return fmt.Errorf("row has %d values, %s has %d columns", len(r.Values), s.Name, len(s.Columns))
	}
	for i, v := range r.Values {
		if err := coltype.Check(s.Columns[i].Type, v); err != nil {
			return fmt.Errorf("column %s: %w", s.Columns[i].Name, err)
		}
		if v.Kind == coltype.KindBytes && s.Columns[i].Type != coltype.JSON && len(v.Bytes) > s.Columns[i].Length {
			return fmt.Errorf("column %s: %d bytes over length %d", s.Columns[i].Name, len(v.Bytes), s.Columns[i].Length)
		}
	}
	return nil
}
