package bind

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/danthegoodman1/tsmover/codec"
	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
)

type (
	// Column is one bound parameter covering RowCount rows: a contiguous buffer of fixed width slots plus a
	// length and a null flag per row.
	Column struct {
		Type         coltype.Type
		Buffer       []byte
		ElementWidth int
		Lengths      []int32
		IsNull       []bool
		RowCount     int
	}

	// RowError points at the row and column that failed to bind.
	RowError struct {
		Row    int
		Column string
		Err    error
	}
)

var (
	ErrEmptyBatch   = errors.New("batch has no rows")
	ErrRaggedBatch  = errors.New("row value count does not match columns")
	ErrColumnLength = errors.New("bind columns disagree on row count")
)

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d column %s: %s", e.Row, e.Column, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Encode transposes row-major values into one Column per field. fields[0] must be the timestamp.
func Encode(fields []table.Field, rows [][]coltype.Value) ([]*Column, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyBatch
	}
	codecs, err := codec.Codecs(fields)
	if err != nil {
		return nil, err
	}
	cols := make([]*Column, len(fields))
	bufs := make([]*codec.Buffer, len(fields))
	for i, f := range fields {
		w := codecs[i].Width(f.Length)
		cols[i] = &Column{
			Type:         f.Type,
			ElementWidth: w,
			Lengths:      make([]int32, len(rows)),
			IsNull:       make([]bool, len(rows)),
			RowCount:     len(rows),
		}
		bufs[i] = codec.NewBuffer(w * len(rows))
	}
	for r, row := range rows {
		if len(row) != len(fields) {
			return nil, &RowError{Row: r, Err: fmt.Errorf("%w: %d values for %d columns", ErrRaggedBatch, len(row), len(fields))}
		}
		for i, f := range fields {
			col := cols[i]
			v := row[i]
			if v.IsNull() {
				col.IsNull[r] = true
				if err = bufs[i].Pad(col.ElementWidth); err != nil {
					return nil, &RowError{Row: r, Column: f.Name, Err: err}
				}
				continue
			}
			if err = codec.CheckLength(f, v); err != nil && f.Type != coltype.JSON {
				return nil, &RowError{Row: r, Column: f.Name, Err: err}
			}
			before := bufs[i].Len()
			if err = codecs[i].Bind(bufs[i], v, col.ElementWidth); err != nil {
				return nil, &RowError{Row: r, Column: f.Name, Err: err}
			}
			switch {
			case f.Type == coltype.JSON:
				col.Lengths[r] = int32(textLen(bufs[i].Bytes()[before:]))
			case f.Type.IsText():
				col.Lengths[r] = int32(len(v.Bytes))
			default:
				col.Lengths[r] = int32(col.ElementWidth)
			}
		}
	}
	for i := range cols {
		cols[i].Buffer = bufs[i].Bytes()
	}
	return cols, nil
}

// textLen is the value length inside a zero padded slot. Only used for flattened JSON, which never ends in a
// zero byte.
func textLen(slot []byte) int {
	n := len(slot)
	for n > 0 && slot[n-1] == 0 {
		n--
	}
	return n
}

// Slot returns the bytes of row r.
func (c *Column) Slot(r int) []byte {
	return c.Buffer[r*c.ElementWidth : (r+1)*c.ElementWidth]
}

// Value decodes row r. A null row is reported without touching the buffer.
func (c *Column) Value(r int) (coltype.Value, error) {
	if c.IsNull[r] {
		return coltype.NullValue(), nil
	}
	cc, err := codec.Lookup(c.Type)
	if err != nil {
		return coltype.NullValue(), err
	}
	return cc.Unbind(c.Slot(r), c.Lengths[r])
}

// Decode turns bound columns back into row-major values.
func Decode(cols []*Column) ([][]coltype.Value, error) {
	if len(cols) == 0 {
		return nil, nil
	}
	n := cols[0].RowCount
	for _, c := range cols {
		if c.RowCount != n {
			return nil, ErrColumnLength
		}
	}
	rows := make([][]coltype.Value, n)
	for r := 0; r < n; r++ {
		rows[r] = make([]coltype.Value, len(cols))
		for i, c := range cols {
			v, err := c.Value(r)
			if err != nil {
				return nil, &RowError{Row: r, Column: c.Type.String(), Err: err}
			}
			rows[r][i] = v
		}
	}
	return rows, nil
}

// RandTail is the timestamp offset of row seq. With probability ratio% the offset is pushed back by 1..rng steps
// of the clock and negated, marking the row as out of order.
func RandTail(r *rand.Rand, step int64, seq int, ratio, rng int) int64 {
	tail := step * int64(seq)
	if ratio > 0 && rng > 0 && r.Intn(100) < ratio {
		tail = (tail + int64(r.Intn(rng)) + 1) * -1
	}
	return tail
}

// Timestamps builds n timestamps from start, applying disorder when ratio is set.
func Timestamps(r *rand.Rand, start, step int64, n, ratio, rng int) []coltype.Value {
	out := make([]coltype.Value, n)
	for k := 0; k < n; k++ {
		out[k] = coltype.NewInt(start + RandTail(r, step, k, ratio, rng))
	}
	return out
}

// ClampBatch limits a statement batch to the number of prepared rows. The second result reports a clamp.
func ClampBatch(batch, prepared int) (int, bool) {
	if prepared > 0 && batch > prepared {
		return prepared, true
	}
	return batch, false
}
