package generator

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"unicode/utf8"

	"github.com/danthegoodman1/tsmover/codec/sqltext"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/gologger"
	"github.com/danthegoodman1/tsmover/table"
)

var (
	logger = gologger.NewLogger()

	ErrEmptyRange = errors.New("field range is empty")
)

const (
	charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890"

	cjkFirst = 0x4e00
	cjkLast  = 0x9fa5

	// longest random value put under each key of a generated JSON tag
	jsonValueLen = 16
)

type (
	// Generator draws column values. It is not safe for concurrent use, each worker owns one.
	Generator struct {
		r       *rand.Rand
		chinese bool
	}
)

func New(seed int64, chinese bool) *Generator {
	return &Generator{r: rand.New(rand.NewSource(seed)), chinese: chinese}
}

// Rand exposes the generator's source so timestamp disorder draws from the same sequence.
func (g *Generator) Rand() *rand.Rand {
	return g.r
}

func (g *Generator) between(f table.Field) (int64, error) {
	if f.Max <= f.Min {
		return 0, fmt.Errorf("%w: %s [%d, %d)", ErrEmptyRange, f.Name, f.Min, f.Max)
	}
	return f.Min + g.r.Int63n(f.Max-f.Min), nil
}

// Value draws one value for f from [Min, Max). Floats add a fractional jitter below one.
func (g *Generator) Value(f table.Field) (coltype.Value, error) {
	f = f.WithDefaults()
	switch {
	case f.Type == coltype.Bool:
		return coltype.NewBool(g.r.Intn(2) == 1), nil
	case f.Type.IsSigned() || f.Type == coltype.Timestamp:
		i, err := g.between(f)
		if err != nil {
			return coltype.NullValue(), err
		}
		return coltype.NewInt(i), nil
	case f.Type.IsUnsigned():
		i, err := g.between(f)
		if err != nil {
			return coltype.NullValue(), err
		}
		if i < 0 {
			return coltype.NullValue(), fmt.Errorf("%w: negative bound for %s", coltype.ErrOutOfRange, f.Name)
		}
		return coltype.NewUint(uint64(i)), nil
	case f.Type == coltype.Float:
		i, err := g.between(f)
		if err != nil {
			return coltype.NullValue(), err
		}
		return coltype.NewFloat(float64(float32(float64(i) + float64(g.r.Intn(1000))/1000.0))), nil
	case f.Type == coltype.Double:
		i, err := g.between(f)
		if err != nil {
			return coltype.NullValue(), err
		}
		return coltype.NewFloat(float64(i) + float64(g.r.Intn(1000000))/1000000.0), nil
	case f.Type == coltype.Binary || f.Type == coltype.NChar:
		if len(f.Values) > 0 {
			return coltype.NewString(f.Values[g.r.Intn(len(f.Values))]), nil
		}
		return coltype.NewString(g.Text(f.Length)), nil
	case f.Type == coltype.JSON:
		return g.JSONTag(1, f.Length)
	}
	return coltype.NullValue(), fmt.Errorf("%w: %s", coltype.ErrUnknownType, f.Type)
}

// Text returns a random string of at most size bytes: size alphanumerics, or as many CJK characters as fit.
func (g *Generator) Text(size int) string {
	if g.chinese {
		b := make([]byte, 0, size)
		for {
			r := rune(cjkFirst + g.r.Intn(cjkLast-cjkFirst))
			if utf8.RuneLen(r) > size-len(b) {
				break
			}
			b = utf8.AppendRune(b, r)
		}
		return string(b)
	}
	b := make([]byte, size)
	for i := range b {
		b[i] = charset[g.r.Intn(len(charset))]
	}
	return string(b)
}

// JSONTag builds a tag bag with keys k0..k(n-1), each holding random text, bounded by the declared length.
func (g *Generator) JSONTag(n, length int) (coltype.Value, error) {
	if n < 1 {
		n = 1
	}
	per := jsonValueLen
	if budget := length/n - 8; budget < per {
		per = budget
	}
	if per < 1 {
		return coltype.NullValue(), fmt.Errorf("%w: JSON length %d for %d keys", ErrEmptyRange, length, n)
	}
	fields := make([]table.Field, n)
	values := make([]coltype.Value, n)
	for i := range fields {
		fields[i] = table.Field{Name: "k" + strconv.Itoa(i), Type: coltype.Binary, Length: per}
		values[i] = coltype.NewString(g.Text(per))
	}
	return sqltext.TagBag(fields, values)
}

// Row draws one value per field.
func (g *Generator) Row(fields []table.Field) ([]coltype.Value, error) {
	out := make([]coltype.Value, len(fields))
	for i, f := range fields {
		v, err := g.Value(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Prepare draws n rows of the non-timestamp columns of s. The timestamp slot is left null for the caller to fill.
func (g *Generator) Prepare(s *table.Schema, n int) ([][]coltype.Value, error) {
	rows := make([][]coltype.Value, n)
	for i := range rows {
		vals, err := g.Row(s.Columns[1:])
		if err != nil {
			return nil, fmt.Errorf("error in Row for %s: %w", s.Name, err)
		}
		rows[i] = append([]coltype.Value{coltype.NullValue()}, vals...)
	}
	logger.Debug().Str("table", s.Name).Int("rows", n).Int("rowLen", s.MaxEncodedRowBytes()).Msg("prepared sample rows")
	return rows, nil
}
