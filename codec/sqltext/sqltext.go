package sqltext

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
)

var (
	ErrFieldCount   = errors.New("value count does not match field count")
	ErrUnterminated = errors.New("unterminated quoted literal")
)

// EncodeValues appends "(v1,v2,...)" for one row to ctx.Buf. On error the buffer is rolled back to where it was.
func EncodeValues(ctx *codec.EncodingContext, fields []table.Field, values []coltype.Value) error {
	if len(fields) != len(values) {
		return fmt.Errorf("%w: %d values for %d fields", ErrFieldCount, len(values), len(fields))
	}
	start := ctx.Buf.Len()
	err := encodeValues(ctx.Buf, fields, values)
	if err != nil {
		ctx.Buf.Truncate(start)
	}
	return err
}

func encodeValues(buf *codec.Buffer, fields []table.Field, values []coltype.Value) error {
	if err := buf.WriteByte('('); err != nil {
		return err
	}
	for i, f := range fields {
		if i > 0 {
			if err := buf.WriteByte(','); err != nil {
				return err
			}
		}
		lit, err := Literal(f, values[i])
		if err != nil {
			return err
		}
		if _, err = buf.WriteString(lit); err != nil {
			return err
		}
	}
	return buf.WriteByte(')')
}

// Literal renders one value for field f, rejecting text over the declared length.
func Literal(f table.Field, v coltype.Value) (string, error) {
	c, err := codec.Lookup(f.Type)
	if err != nil {
		return "", err
	}
	if err = codec.CheckLength(f, v); err != nil {
		return "", err
	}
	lit, err := c.SQL(v)
	if err != nil {
		return "", fmt.Errorf("field %s: %w", f.Name, err)
	}
	return lit, nil
}

// Literals renders each value for its field, used for TAGS (...) lists.
func Literals(fields []table.Field, values []coltype.Value) ([]string, error) {
	if len(fields) != len(values) {
		return nil, fmt.Errorf("%w: %d values for %d fields", ErrFieldCount, len(values), len(fields))
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		lit, err := Literal(f, values[i])
		if err != nil {
			return nil, err
		}
		out[i] = lit
	}
	return out, nil
}

// RowCapacity bounds the literal text of one row: the schema row length, the parentheses and room for every text
// byte to be escaped.
func RowCapacity(fields []table.Field) int {
	n := table.RowLen(fields) + 2
	for _, f := range fields {
		if f.Type.IsText() {
			n += f.Length
		}
	}
	return n
}

// Row renders one row with a buffer sized by RowCapacity.
func Row(fields []table.Field, values []coltype.Value) (string, error) {
	buf := codec.NewBuffer(RowCapacity(fields))
	ctx := &codec.EncodingContext{Format: codec.FormatSQL, Buf: buf}
	if err := EncodeValues(ctx, fields, values); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Insert renders a multi-row INSERT for one table. A row that fails to encode fails the statement.
func Insert(s *table.Schema, tableName string, rows [][]coltype.Value, escape bool) (string, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table.Qualified(s.DB, tableName, escape))
	b.WriteString(" VALUES ")
	buf := codec.NewBuffer(RowCapacity(s.Columns))
	ctx := &codec.EncodingContext{Format: codec.FormatSQL, Buf: buf}
	for _, r := range rows {
		buf.Reset()
		if err := EncodeValues(ctx, s.Columns, r); err != nil {
			return "", err
		}
		b.Write(buf.Bytes())
	}
	return b.String(), nil
}

// InsertUsing renders INSERT ... USING ... TAGS, creating the child table on first write.
func InsertUsing(s *table.Schema, child string, tags []coltype.Value, rows [][]coltype.Value, escape bool) (string, error) {
	lits, err := Literals(s.Tags, tags)
	if err != nil {
		return "", err
	}
	ins, err := Insert(s, child, rows, escape)
	if err != nil {
		return "", err
	}
	head := "INSERT INTO " + table.Qualified(s.DB, child, escape)
	using := head + " USING " + table.Qualified(s.DB, s.Name, escape) + " TAGS (" + strings.Join(lits, ",") + ")"
	return using + strings.TrimPrefix(ins, head), nil
}

// TagBag builds the JSON tag value from tag names and values. Null values are left out.
func TagBag(fields []table.Field, values []coltype.Value) (coltype.Value, error) {
	if len(fields) != len(values) {
		return coltype.NullValue(), fmt.Errorf("%w: %d values for %d fields", ErrFieldCount, len(values), len(fields))
	}
	obj := make(map[string]any, len(fields))
	for i, f := range fields {
		v := values[i]
		switch v.Kind {
		case coltype.KindNull:
			continue
		case coltype.KindBool:
			obj[f.Name] = v.AsBool()
		case coltype.KindInt:
			obj[f.Name] = v.Int
		case coltype.KindUint:
			obj[f.Name] = v.AsUint()
		case coltype.KindFloat:
			obj[f.Name] = v.Float
		case coltype.KindBytes:
			obj[f.Name] = v.AsString()
		}
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return coltype.NullValue(), fmt.Errorf("error in json.Marshal: %w", err)
	}
	return coltype.NewBytes(b), nil
}

// ParseValues splits one comma separated literal row, honouring single and double quotes, and parses each item
// for its field.
func ParseValues(fields []table.Field, line string) ([]coltype.Value, error) {
	items, err := Split(line)
	if err != nil {
		return nil, err
	}
	if len(items) != len(fields) {
		return nil, fmt.Errorf("%w: %d items for %d fields", ErrFieldCount, len(items), len(fields))
	}
	out := make([]coltype.Value, len(fields))
	for i, f := range fields {
		v, err := coltype.ParseLiteral(f.Type, items[i])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		if err = codec.CheckLength(f, v); err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Split breaks a literal list on top level commas. Quotes are kept on the items.
func Split(line string) ([]string, error) {
	line = strings.TrimSpace(line)
	line = strings.TrimSuffix(strings.TrimPrefix(line, "("), ")")
	var (
		items []string
		cur   strings.Builder
		quote byte
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0 && c == '\\' && i+1 < len(line):
			cur.WriteByte(c)
			i++
			cur.WriteByte(line[i])
		case quote != 0 && c == quote:
			quote = 0
			cur.WriteByte(c)
		case quote != 0:
			cur.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			cur.WriteByte(c)
		case c == ',':
			items = append(items, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if quote != 0 {
		return nil, ErrUnterminated
	}
	items = append(items, strings.TrimSpace(cur.String()))
	return items, nil
}
