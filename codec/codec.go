package codec

import (
	"errors"
	"fmt"

	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
	"github.com/danthegoodman1/tsmover/utils"
)

type (
	// ColumnCodec converts a Value of one column type to and from every wire representation. One instance per
	// type is shared by all encoders through Lookup.
	ColumnCodec interface {
		Type() coltype.Type

		// SQL renders an INSERT literal. NULL is allowed.
		SQL(v coltype.Value) (string, error)

		// Width is the bind buffer slot width for a field of the given declared length.
		Width(length int) int
		// Bind writes v into one slot of buf, zero padded to width. v must not be NULL.
		Bind(buf *Buffer, v coltype.Value, width int) error
		Unbind(slot []byte, length int32) (coltype.Value, error)

		// Line renders a schemaless field value with its type suffix.
		Line(v coltype.Value) (string, error)
		// JSON returns a schemaless JSON value and its type name.
		JSON(v coltype.Value) (any, string, error)

		// AvroSchema is the non-union schema of the field, a type name or an array schema.
		AvroSchema() any
		// AvroBranch is the union branch name goavro uses for the field.
		AvroBranch() string
		ToAvro(v coltype.Value) (any, error)
		FromAvro(native any) (coltype.Value, error)
	}

	Format int

	// EncodingContext carries the per-call parameters of a row or batch encode.
	EncodingContext struct {
		Format   Format
		IsTag    bool
		Protocol Protocol
		Buf      *Buffer
	}

	Protocol string
)

const (
	FormatSQL Format = iota
	FormatBind
	FormatSchemaless
	FormatAvro
	FormatParquet
)

const (
	ProtocolLine   Protocol = "line"
	ProtocolTelnet Protocol = "telnet"
	ProtocolJSON   Protocol = "json"
)

var (
	ErrOverLength  = errors.New("value longer than declared length")
	ErrUnsupported = errors.New("type not supported by this representation")
	ErrNoNull      = errors.New("representation has no null")

	codecs = map[coltype.Type]ColumnCodec{}
)

func init() {
	register(boolCodec{})
	for _, t := range []coltype.Type{coltype.TinyInt, coltype.SmallInt, coltype.Int, coltype.BigInt} {
		register(signedCodec{t: t})
	}
	for _, t := range []coltype.Type{coltype.UTinyInt, coltype.USmallInt, coltype.UInt, coltype.UBigInt} {
		register(unsignedCodec{t: t})
	}
	register(floatCodec{t: coltype.Float})
	register(floatCodec{t: coltype.Double})
	register(timestampCodec{})
	register(textCodec{t: coltype.Binary})
	register(textCodec{t: coltype.NChar})
	register(jsonCodec{})
}

func register(c ColumnCodec) {
	codecs[c.Type()] = c
}

// Lookup returns the codec for t. An unknown type is a schema mismatch.
func Lookup(t coltype.Type) (ColumnCodec, error) {
	c, ok := codecs[t]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %d", utils.ErrSchemaMismatch, coltype.ErrUnknownType, uint8(t))
	}
	return c, nil
}

// Mismatch marks type errors as schema mismatches and returns other errors unchanged.
func Mismatch(err error) error {
	if err == nil || errors.Is(err, utils.ErrSchemaMismatch) {
		return err
	}
	if errors.Is(err, coltype.ErrUnknownType) || errors.Is(err, coltype.ErrKindMismatch) {
		return fmt.Errorf("%w: %w", utils.ErrSchemaMismatch, err)
	}
	return err
}

// MustLookup is Lookup for callers that already validated the schema.
func MustLookup(t coltype.Type) ColumnCodec {
	c, err := Lookup(t)
	if err != nil {
		panic(err)
	}
	return c
}

// CheckLength rejects text values over the field's declared length. JSON carries its own length limit in the
// database and is only checked when a length is set.
func CheckLength(f table.Field, v coltype.Value) error {
	if v.Kind != coltype.KindBytes || f.Length <= 0 {
		return nil
	}
	if len(v.Bytes) > f.Length {
		return fmt.Errorf("%w: %s has %d bytes, declared %d", ErrOverLength, f.Name, len(v.Bytes), f.Length)
	}
	return nil
}

// Codecs resolves one codec per field, failing on the first unknown type.
func Codecs(fields []table.Field) ([]ColumnCodec, error) {
	out := make([]ColumnCodec, len(fields))
	for i, f := range fields {
		c, err := Lookup(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[i] = c
	}
	return out, nil
}
