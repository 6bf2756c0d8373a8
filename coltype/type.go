package coltype

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// Type is a scalar column type. The numeric codes are the ones the database uses on the wire, so a Type can be
	// handed to a bind buffer as-is.
	Type uint8
)

const (
	Bool      Type = 1
	TinyInt   Type = 2
	SmallInt  Type = 3
	Int       Type = 4
	BigInt    Type = 5
	Float     Type = 6
	Double    Type = 7
	Binary    Type = 8
	Timestamp Type = 9
	NChar     Type = 10
	UTinyInt  Type = 11
	USmallInt Type = 12
	UInt      Type = 13
	UBigInt   Type = 14
	JSON      Type = 15
)

// Variable is returned by ByteWidth for types whose width comes from the declared length
const Variable = -1

var (
	ErrUnknownType = errors.New("unknown column type")

	typeNames = map[Type]string{
		Bool:      "BOOL",
		TinyInt:   "TINYINT",
		SmallInt:  "SMALLINT",
		Int:       "INT",
		BigInt:    "BIGINT",
		Float:     "FLOAT",
		Double:    "DOUBLE",
		Binary:    "VARCHAR",
		Timestamp: "TIMESTAMP",
		NChar:     "NCHAR",
		UTinyInt:  "TINYINT UNSIGNED",
		USmallInt: "SMALLINT UNSIGNED",
		UInt:      "INT UNSIGNED",
		UBigInt:   "BIGINT UNSIGNED",
		JSON:      "JSON",
	}

	typeAliases = map[string]Type{
		"BOOL":              Bool,
		"BOOLEAN":           Bool,
		"TINYINT":           TinyInt,
		"SMALLINT":          SmallInt,
		"INT":               Int,
		"INTEGER":           Int,
		"BIGINT":            BigInt,
		"FLOAT":             Float,
		"DOUBLE":            Double,
		"BINARY":            Binary,
		"VARCHAR":           Binary,
		"TIMESTAMP":         Timestamp,
		"NCHAR":             NChar,
		"UTINYINT":          UTinyInt,
		"TINYINT UNSIGNED":  UTinyInt,
		"USMALLINT":         USmallInt,
		"SMALLINT UNSIGNED": USmallInt,
		"UINT":              UInt,
		"INT UNSIGNED":      UInt,
		"UBIGINT":           UBigInt,
		"BIGINT UNSIGNED":   UBigInt,
		"JSON":              JSON,
	}
)

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Parse accepts the type names DESCRIBE returns plus the usual aliases. A trailing "(n)" length is ignored.
func Parse(s string) (Type, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	name = strings.Join(strings.Fields(name), " ")
	t, ok := typeAliases[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ByteWidth is the in-memory width of one value, or Variable for text types.
func (t Type) ByteWidth() int {
	switch t {
	case Bool, TinyInt, UTinyInt:
		return 1
	case SmallInt, USmallInt:
		return 2
	case Int, UInt, Float:
		return 4
	case BigInt, UBigInt, Double, Timestamp:
		return 8
	default:
		return Variable
	}
}

// Bits is the integer bit width, 0 for non-integer types.
func (t Type) Bits() int {
	switch t {
	case TinyInt, UTinyInt:
		return 8
	case SmallInt, USmallInt:
		return 16
	case Int, UInt:
		return 32
	case BigInt, UBigInt, Timestamp:
		return 64
	}
	return 0
}

func (t Type) IsSigned() bool {
	return t == TinyInt || t == SmallInt || t == Int || t == BigInt
}

func (t Type) IsUnsigned() bool {
	return t == UTinyInt || t == USmallInt || t == UInt || t == UBigInt
}

func (t Type) IsInteger() bool {
	return t.IsSigned() || t.IsUnsigned()
}

func (t Type) IsFloat() bool {
	return t == Float || t == Double
}

func (t Type) IsNumeric() bool {
	return t.IsInteger() || t.IsFloat()
}

// IsText covers the variable length types, JSON included.
func (t Type) IsText() bool {
	return t == Binary || t == NChar || t == JSON
}

// Kind is the Value kind a non-null value of this type carries.
func (t Type) Kind() Kind {
	switch {
	case t == Bool:
		return KindBool
	case t.IsSigned() || t == Timestamp:
		return KindInt
	case t.IsUnsigned():
		return KindUint
	case t.IsFloat():
		return KindFloat
	case t.IsText():
		return KindBytes
	}
	return KindNull
}

// DDL renders the type as it appears in a CREATE statement.
func (t Type) DDL(length int) string {
	switch t {
	case Binary, NChar:
		return fmt.Sprintf("%s(%d)", t.String(), length)
	}
	return t.String()
}
