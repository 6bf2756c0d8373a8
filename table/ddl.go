package table

import (
	"fmt"
	"strings"

	"github.com/danthegoodman1/tsmover/coltype"
)

type (
	// DescribeRow is one line of a DESCRIBE result: field, type, length, note.
	DescribeRow struct {
		Field  string
		Type   string
		Length int
		Note   string
	}
)

const tagNote = "TAG"

// Quote wraps an identifier in backticks when escaping is on.
func Quote(name string, escape bool) string {
	if escape {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return name
}

// Qualified is db.name with the same quoting rule applied to both parts.
func Qualified(db, name string, escape bool) string {
	if db == "" {
		return Quote(name, escape)
	}
	return Quote(db, escape) + "." + Quote(name, escape)
}

// DescribeRowFromNative converts one raw result row (as returned by the driver) into a DescribeRow.
func DescribeRowFromNative(row []any) (DescribeRow, error) {
	if len(row) < 3 {
		return DescribeRow{}, fmt.Errorf("describe row has %d columns", len(row))
	}
	d := DescribeRow{
		Field: nativeString(row[0]),
		Type:  nativeString(row[1]),
	}
	l, err := coltype.FromNative(coltype.Int, row[2], coltype.Millisecond)
	if err != nil {
		return d, fmt.Errorf("error in describe length for %s: %w", d.Field, err)
	}
	d.Length = int(l.Int)
	if len(row) > 3 {
		d.Note = nativeString(row[3])
	}
	return d, nil
}

func nativeString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// FieldFromDescribe builds a Field from a DESCRIBE line.
func FieldFromDescribe(d DescribeRow) (Field, error) {
	t, err := coltype.Parse(d.Type)
	if err != nil {
		return Field{}, fmt.Errorf("field %s: %w", d.Field, err)
	}
	f := Field{
		Name:     d.Field,
		Type:     t,
		Length:   d.Length,
		Nullable: true,
		IsTag:    strings.EqualFold(strings.TrimSpace(d.Note), tagNote),
	}
	if f.Length == 0 && t.ByteWidth() != coltype.Variable {
		f.Length = t.ByteWidth()
	}
	return f, nil
}

// FromDescribe assembles a schema from DESCRIBE output. The first column is the primary timestamp and is not
// nullable.
func FromDescribe(db, name string, rows []DescribeRow, p coltype.Precision) (*Schema, error) {
	s := &Schema{DB: db, Name: name, Precision: p}
	for _, r := range rows {
		f, err := FieldFromDescribe(r)
		if err != nil {
			return nil, err
		}
		if f.IsTag {
			s.Tags = append(s.Tags, f)
		} else {
			s.Columns = append(s.Columns, f)
		}
	}
	if len(s.Columns) > 0 {
		s.Columns[0].Nullable = false
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("error in Validate for %s.%s: %w", db, name, err)
	}
	return s, nil
}

// DescribeRows is the inverse of FromDescribe, columns first.
func (s *Schema) DescribeRows() []DescribeRow {
	rows := make([]DescribeRow, 0, len(s.Columns)+len(s.Tags))
	for _, f := range s.Columns {
		rows = append(rows, DescribeRow{Field: f.Name, Type: f.Type.String(), Length: f.Length})
	}
	for _, f := range s.Tags {
		rows = append(rows, DescribeRow{Field: f.Name, Type: f.Type.String(), Length: f.Length, Note: tagNote})
	}
	return rows
}

func fieldList(fields []Field, escape bool) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = Quote(f.Name, escape) + " " + f.Type.DDL(f.Length)
	}
	return strings.Join(parts, ",")
}

// CreateStatement renders CREATE STABLE for a super table or CREATE TABLE for a plain table.
func (s *Schema) CreateStatement(escape bool) string {
	var b strings.Builder
	if s.IsSuper() {
		b.WriteString("CREATE STABLE IF NOT EXISTS ")
	} else {
		b.WriteString("CREATE TABLE IF NOT EXISTS ")
	}
	b.WriteString(Qualified(s.DB, s.Name, escape))
	b.WriteString(" (")
	b.WriteString(fieldList(s.Columns, escape))
	b.WriteString(")")
	if s.IsSuper() {
		b.WriteString(" TAGS (")
		b.WriteString(fieldList(s.Tags, escape))
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String()
}

// CreateChildStatement renders CREATE TABLE ... USING for one child table of super table s. tagLiterals are
// already formatted SQL literals, one per tag.
func (s *Schema) CreateChildStatement(child string, tagLiterals []string, escape bool) (string, error) {
	if len(tagLiterals) != len(s.Tags) {
		return "", fmt.Errorf("child %s has %d tag values, %s has %d tags", child, len(tagLiterals), s.Name, len(s.Tags))
	}
	return "CREATE TABLE IF NOT EXISTS " + Qualified(s.DB, child, escape) + " USING " + Qualified(s.DB, s.Name, escape) +
		" TAGS (" + strings.Join(tagLiterals, ",") + ");", nil
}

// CreateDatabaseStatement renders the database definition the restore replays first.
func CreateDatabaseStatement(db string, p coltype.Precision, escape bool) string {
	stmt := "CREATE DATABASE IF NOT EXISTS " + Quote(db, escape)
	if p != "" {
		stmt += " PRECISION '" + string(p) + "'"
	}
	return stmt + ";"
}
