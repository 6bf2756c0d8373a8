package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danthegoodman1/gojsonutils"
	"github.com/danthegoodman1/tsmover/coltype"
)

type (
	boolCodec      struct{}
	signedCodec    struct{ t coltype.Type }
	unsignedCodec  struct{ t coltype.Type }
	floatCodec     struct{ t coltype.Type }
	timestampCodec struct{}
	textCodec      struct{ t coltype.Type }
	jsonCodec      struct{}
)

var (
	lineStringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

	lineSuffix = map[coltype.Type]string{
		coltype.TinyInt:   "i8",
		coltype.SmallInt:  "i16",
		coltype.Int:       "i32",
		coltype.BigInt:    "i64",
		coltype.UTinyInt:  "u8",
		coltype.USmallInt: "u16",
		coltype.UInt:      "u32",
		coltype.UBigInt:   "u64",
		coltype.Float:     "f32",
		coltype.Double:    "f64",
		coltype.Timestamp: "i64",
	}

	jsonTypeName = map[coltype.Type]string{
		coltype.Bool:     "bool",
		coltype.TinyInt:  "tinyint",
		coltype.SmallInt: "smallint",
		coltype.Int:      "int",
		coltype.BigInt:   "bigint",
		coltype.Float:    "float",
		coltype.Double:   "double",
		coltype.Binary:   "binary",
		coltype.NChar:    "nchar",
	}
)

func bindFixed(buf *Buffer, t coltype.Type, v coltype.Value) error {
	b, err := coltype.FormatBind(t, v)
	if err != nil {
		return err
	}
	_, err = buf.Write(b)
	return err
}

func unbindFixed(t coltype.Type, slot []byte) (coltype.Value, error) {
	return coltype.ParseBind(t, slot)
}

func nativeInt(native any) (int64, error) {
	switch n := native.(type) {
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	}
	return 0, fmt.Errorf("%w: avro %T is not an integer", coltype.ErrKindMismatch, native)
}

func (boolCodec) Type() coltype.Type { return coltype.Bool }

func (c boolCodec) SQL(v coltype.Value) (string, error) { return coltype.FormatSQL(coltype.Bool, v) }

func (boolCodec) Width(int) int { return 1 }

func (boolCodec) Bind(buf *Buffer, v coltype.Value, _ int) error { return bindFixed(buf, coltype.Bool, v) }

func (boolCodec) Unbind(slot []byte, _ int32) (coltype.Value, error) {
	return unbindFixed(coltype.Bool, slot)
}

func (boolCodec) Line(v coltype.Value) (string, error) {
	if v.IsNull() {
		return "", ErrNoNull
	}
	return strconv.FormatBool(v.AsBool()), nil
}

func (boolCodec) JSON(v coltype.Value) (any, string, error) {
	if v.IsNull() {
		return nil, "", ErrNoNull
	}
	return v.AsBool(), "bool", nil
}

func (boolCodec) AvroSchema() any { return "boolean" }

func (boolCodec) AvroBranch() string { return "boolean" }

func (boolCodec) ToAvro(v coltype.Value) (any, error) {
	if v.IsNull() {
		return nil, fmt.Errorf("%w: bool", ErrNoNull)
	}
	return v.AsBool(), nil
}

func (boolCodec) FromAvro(native any) (coltype.Value, error) {
	b, ok := native.(bool)
	if !ok {
		return coltype.NullValue(), fmt.Errorf("%w: avro %T for BOOL", coltype.ErrKindMismatch, native)
	}
	return coltype.NewBool(b), nil
}

func (c signedCodec) Type() coltype.Type { return c.t }

func (c signedCodec) SQL(v coltype.Value) (string, error) { return coltype.FormatSQL(c.t, v) }

func (c signedCodec) Width(int) int { return c.t.ByteWidth() }

func (c signedCodec) Bind(buf *Buffer, v coltype.Value, _ int) error { return bindFixed(buf, c.t, v) }

func (c signedCodec) Unbind(slot []byte, _ int32) (coltype.Value, error) { return unbindFixed(c.t, slot) }

func (c signedCodec) Line(v coltype.Value) (string, error) {
	if v.IsNull() {
		return "", ErrNoNull
	}
	if err := coltype.Check(c.t, v); err != nil {
		return "", err
	}
	return strconv.FormatInt(v.Int, 10) + lineSuffix[c.t], nil
}

func (c signedCodec) JSON(v coltype.Value) (any, string, error) {
	if v.IsNull() {
		return nil, "", ErrNoNull
	}
	if err := coltype.Check(c.t, v); err != nil {
		return nil, "", err
	}
	return json.Number(strconv.FormatInt(v.Int, 10)), jsonTypeName[c.t], nil
}

func (c signedCodec) AvroSchema() any { return c.AvroBranch() }

func (c signedCodec) AvroBranch() string {
	if c.t == coltype.BigInt {
		return "long"
	}
	return "int"
}

// ToAvro writes a null as the type's sentinel, used by the non-nullable path.
func (c signedCodec) ToAvro(v coltype.Value) (any, error) {
	if v.IsNull() {
		v = coltype.NullSentinel(c.t)
	}
	if err := coltype.Check(c.t, v); err != nil {
		return nil, err
	}
	if c.t == coltype.BigInt {
		return v.Int, nil
	}
	return int32(v.Int), nil
}

func (c signedCodec) FromAvro(native any) (coltype.Value, error) {
	i, err := nativeInt(native)
	if err != nil {
		return coltype.NullValue(), err
	}
	v := coltype.NewInt(i)
	if coltype.IsNullSentinel(c.t, v) {
		return coltype.NullValue(), nil
	}
	return v, coltype.Check(c.t, v)
}

func (c unsignedCodec) Type() coltype.Type { return c.t }

func (c unsignedCodec) SQL(v coltype.Value) (string, error) { return coltype.FormatSQL(c.t, v) }

func (c unsignedCodec) Width(int) int { return c.t.ByteWidth() }

func (c unsignedCodec) Bind(buf *Buffer, v coltype.Value, _ int) error { return bindFixed(buf, c.t, v) }

func (c unsignedCodec) Unbind(slot []byte, _ int32) (coltype.Value, error) { return unbindFixed(c.t, slot) }

func (c unsignedCodec) Line(v coltype.Value) (string, error) {
	if v.IsNull() {
		return "", ErrNoNull
	}
	if err := coltype.Check(c.t, v); err != nil {
		return "", err
	}
	return strconv.FormatUint(v.AsUint(), 10) + lineSuffix[c.t], nil
}

func (c unsignedCodec) JSON(coltype.Value) (any, string, error) {
	return nil, "", fmt.Errorf("%w: %s in schemaless json", ErrUnsupported, c.t)
}

func (c unsignedCodec) AvroSchema() any {
	return map[string]any{"type": "array", "items": c.itemType()}
}

func (c unsignedCodec) itemType() string {
	if c.t == coltype.UBigInt {
		return "long"
	}
	return "int"
}

func (unsignedCodec) AvroBranch() string { return "array" }

// ToAvro applies the bias encoding: [u - MAX_SIGNED_W, MAX_SIGNED_W] with W-bit wraparound.
func (c unsignedCodec) ToAvro(v coltype.Value) (any, error) {
	if v.IsNull() {
		v = coltype.NullSentinel(c.t)
	}
	if err := coltype.Check(c.t, v); err != nil {
		return nil, err
	}
	e0, e1 := BiasEncode(c.t, v.AsUint())
	if c.t == coltype.UBigInt {
		return []any{e0, e1}, nil
	}
	return []any{int32(e0), int32(e1)}, nil
}

func (c unsignedCodec) FromAvro(native any) (coltype.Value, error) {
	arr, ok := native.([]any)
	if !ok || len(arr) != 2 {
		return coltype.NullValue(), fmt.Errorf("%w: avro %T for %s, want 2 element array", coltype.ErrKindMismatch, native, c.t)
	}
	e0, err := nativeInt(arr[0])
	if err != nil {
		return coltype.NullValue(), err
	}
	e1, err := nativeInt(arr[1])
	if err != nil {
		return coltype.NullValue(), err
	}
	v := coltype.NewUint(BiasDecode(c.t, e0, e1))
	if coltype.IsNullSentinel(c.t, v) {
		return coltype.NullValue(), nil
	}
	return v, nil
}

// BiasEncode splits an unsigned value of type t into the two signed elements of the bias array.
func BiasEncode(t coltype.Type, u uint64) (e0, e1 int64) {
	bias := coltype.MaxSigned(t)
	return wrapSigned(t, u-uint64(bias)), bias
}

// BiasDecode sums the bias array back into the unsigned value, wrapping at the type's width.
func BiasDecode(t coltype.Type, e0, e1 int64) uint64 {
	return uint64(e0+e1) & coltype.MaxUnsigned(t)
}

func wrapSigned(t coltype.Type, u uint64) int64 {
	switch t.Bits() {
	case 8:
		return int64(int8(u))
	case 16:
		return int64(int16(u))
	case 32:
		return int64(int32(u))
	}
	return int64(u)
}

func (c floatCodec) Type() coltype.Type { return c.t }

func (c floatCodec) SQL(v coltype.Value) (string, error) { return coltype.FormatSQL(c.t, v) }

func (c floatCodec) Width(int) int { return c.t.ByteWidth() }

func (c floatCodec) Bind(buf *Buffer, v coltype.Value, _ int) error { return bindFixed(buf, c.t, v) }

func (c floatCodec) Unbind(slot []byte, _ int32) (coltype.Value, error) { return unbindFixed(c.t, slot) }

func (c floatCodec) Line(v coltype.Value) (string, error) {
	if v.IsNull() {
		return "", ErrNoNull
	}
	if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
		return "", fmt.Errorf("%w: %g", coltype.ErrNotRepresentable, v.Float)
	}
	return coltype.FormatFloat(c.t, v.Float) + lineSuffix[c.t], nil
}

func (c floatCodec) JSON(v coltype.Value) (any, string, error) {
	if v.IsNull() {
		return nil, "", ErrNoNull
	}
	if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
		return nil, "", fmt.Errorf("%w: %g", coltype.ErrNotRepresentable, v.Float)
	}
	return json.Number(coltype.FormatFloat(c.t, v.Float)), jsonTypeName[c.t], nil
}

func (c floatCodec) AvroSchema() any { return c.AvroBranch() }

func (c floatCodec) AvroBranch() string {
	if c.t == coltype.Float {
		return "float"
	}
	return "double"
}

func (c floatCodec) ToAvro(v coltype.Value) (any, error) {
	if v.IsNull() {
		v = coltype.NullSentinel(c.t)
	}
	if c.t == coltype.Float {
		return float32(v.Float), nil
	}
	return v.Float, nil
}

func (c floatCodec) FromAvro(native any) (coltype.Value, error) {
	var v coltype.Value
	switch f := native.(type) {
	case float32:
		v = coltype.NewFloat(float64(f))
	case float64:
		v = coltype.NewFloat(f)
	default:
		return coltype.NullValue(), fmt.Errorf("%w: avro %T for %s", coltype.ErrKindMismatch, native, c.t)
	}
	if coltype.IsNullSentinel(c.t, v) {
		return coltype.NullValue(), nil
	}
	return v, nil
}

func (timestampCodec) Type() coltype.Type { return coltype.Timestamp }

func (timestampCodec) SQL(v coltype.Value) (string, error) {
	return coltype.FormatSQL(coltype.Timestamp, v)
}

func (timestampCodec) Width(int) int { return 8 }

func (timestampCodec) Bind(buf *Buffer, v coltype.Value, _ int) error {
	return bindFixed(buf, coltype.Timestamp, v)
}

func (timestampCodec) Unbind(slot []byte, _ int32) (coltype.Value, error) {
	return unbindFixed(coltype.Timestamp, slot)
}

func (timestampCodec) Line(v coltype.Value) (string, error) {
	if v.IsNull() {
		return "", ErrNoNull
	}
	return strconv.FormatInt(v.Int, 10) + lineSuffix[coltype.Timestamp], nil
}

func (timestampCodec) JSON(coltype.Value) (any, string, error) {
	return nil, "", fmt.Errorf("%w: TIMESTAMP value in schemaless json", ErrUnsupported)
}

func (timestampCodec) AvroSchema() any { return "long" }

func (timestampCodec) AvroBranch() string { return "long" }

func (timestampCodec) ToAvro(v coltype.Value) (any, error) {
	if v.IsNull() {
		v = coltype.NullSentinel(coltype.Timestamp)
	}
	return v.Int, nil
}

func (timestampCodec) FromAvro(native any) (coltype.Value, error) {
	i, err := nativeInt(native)
	if err != nil {
		return coltype.NullValue(), err
	}
	v := coltype.NewInt(i)
	if coltype.IsNullSentinel(coltype.Timestamp, v) {
		return coltype.NullValue(), nil
	}
	return v, nil
}

func (c textCodec) Type() coltype.Type { return c.t }

func (c textCodec) SQL(v coltype.Value) (string, error) { return coltype.FormatSQL(c.t, v) }

func (c textCodec) Width(length int) int { return length }

// Bind writes the value and pads the slot, refusing values wider than the slot.
func (c textCodec) Bind(buf *Buffer, v coltype.Value, width int) error {
	if v.Kind != coltype.KindBytes {
		return fmt.Errorf("%w: %s value for %s", coltype.ErrKindMismatch, v.Kind, c.t)
	}
	if len(v.Bytes) > width {
		return fmt.Errorf("%w: %d bytes into %d", ErrOverLength, len(v.Bytes), width)
	}
	if _, err := buf.Write(v.Bytes); err != nil {
		return err
	}
	return buf.Pad(width - len(v.Bytes))
}

func (c textCodec) Unbind(slot []byte, length int32) (coltype.Value, error) {
	if int(length) > len(slot) || length < 0 {
		return coltype.NullValue(), fmt.Errorf("%w: length %d for slot of %d", coltype.ErrShortBuffer, length, len(slot))
	}
	return coltype.ParseBind(c.t, slot[:length])
}

func (c textCodec) Line(v coltype.Value) (string, error) {
	if v.IsNull() {
		return "", ErrNoNull
	}
	s := `"` + lineStringEscaper.Replace(v.AsString()) + `"`
	if c.t == coltype.NChar {
		return "L" + s, nil
	}
	return s, nil
}

func (c textCodec) JSON(v coltype.Value) (any, string, error) {
	if v.IsNull() {
		return nil, "", ErrNoNull
	}
	return v.AsString(), jsonTypeName[c.t], nil
}

func (c textCodec) AvroSchema() any { return c.AvroBranch() }

func (c textCodec) AvroBranch() string {
	if c.t == coltype.Binary {
		return "bytes"
	}
	return "string"
}

func (c textCodec) ToAvro(v coltype.Value) (any, error) {
	if v.IsNull() {
		v = coltype.NullSentinel(c.t)
	}
	if c.t == coltype.Binary {
		return v.Bytes, nil
	}
	return v.AsString(), nil
}

func (c textCodec) FromAvro(native any) (coltype.Value, error) {
	var v coltype.Value
	switch s := native.(type) {
	case []byte:
		v = coltype.NewBytes(append([]byte(nil), s...))
	case string:
		v = coltype.NewString(s)
	default:
		return coltype.NullValue(), fmt.Errorf("%w: avro %T for %s", coltype.ErrKindMismatch, native, c.t)
	}
	if coltype.IsNullSentinel(c.t, v) {
		return coltype.NullValue(), nil
	}
	return v, nil
}

func (jsonCodec) Type() coltype.Type { return coltype.JSON }

// SQL flattens nested objects, the database only accepts one level of keys in a JSON tag.
func (jsonCodec) SQL(v coltype.Value) (string, error) {
	if v.IsNull() {
		return "NULL", nil
	}
	flat, err := FlattenJSON(v.Bytes)
	if err != nil {
		return "", err
	}
	return coltype.QuoteSQL(string(flat)), nil
}

func (jsonCodec) Width(length int) int { return length }

func (jsonCodec) Bind(buf *Buffer, v coltype.Value, width int) error {
	if v.Kind != coltype.KindBytes {
		return fmt.Errorf("%w: %s value for JSON", coltype.ErrKindMismatch, v.Kind)
	}
	flat, err := FlattenJSON(v.Bytes)
	if err != nil {
		return err
	}
	return textCodec{t: coltype.JSON}.Bind(buf, coltype.NewBytes(flat), width)
}

func (jsonCodec) Unbind(slot []byte, length int32) (coltype.Value, error) {
	return textCodec{t: coltype.JSON}.Unbind(slot, length)
}

func (jsonCodec) Line(coltype.Value) (string, error) {
	return "", fmt.Errorf("%w: JSON in schemaless", ErrUnsupported)
}

func (jsonCodec) JSON(coltype.Value) (any, string, error) {
	return nil, "", fmt.Errorf("%w: JSON in schemaless json", ErrUnsupported)
}

func (jsonCodec) AvroSchema() any { return "string" }

func (jsonCodec) AvroBranch() string { return "string" }

func (jsonCodec) ToAvro(v coltype.Value) (any, error) {
	return textCodec{t: coltype.JSON}.ToAvro(v)
}

func (jsonCodec) FromAvro(native any) (coltype.Value, error) {
	return textCodec{t: coltype.JSON}.FromAvro(native)
}

// FlattenJSON parses a JSON object and re-marshals it with nested objects flattened into dotted keys.
func FlattenJSON(raw []byte) ([]byte, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("error in json.Unmarshal for JSON tag: %w", err)
	}
	if obj == nil {
		return []byte("{}"), nil
	}
	flat, err := gojsonutils.Flatten(obj, nil)
	if err != nil {
		return nil, fmt.Errorf("error in gojsonutils.Flatten: %w", err)
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return nil, fmt.Errorf("error in json.Marshal: %w", err)
	}
	return b, nil
}
