package parquet_accumulator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/danthegoodman1/tsmover/coltype"
	"github.com/danthegoodman1/tsmover/table"
)

type (
	// ParquetSchemaAccumulator maps a table schema onto a parquet-go JSON schema. The first field is the required
	// table name, the columns follow in schema order as c0, c1...
	ParquetSchemaAccumulator struct {
		schema ParquetSchema
		fields []table.Field
	}

	ParquetSchema struct {
		TagStructs SchemaTag        `json:"-,omitempty"`
		Fields     []*ParquetSchema `json:",omitempty"`
	}

	ParquetJSONSchema struct {
		Tag    string               `json:",omitempty"`
		Fields []*ParquetJSONSchema `json:",omitempty"`
	}

	SchemaTag struct {
		Name           string         `json:"name,omitempty"`
		Type           string         `json:"type,omitempty"`
		ConvertedType  string         `json:"convertedtype,omitempty"`
		RepetitionType RepetitionType `json:"repetitiontype,omitempty"`
		Encoding       string         `json:"encoding,omitempty"`
	}

	RepetitionType string
)

const TableField = "tbname"

var (
	Optional RepetitionType = "OPTIONAL"
	Required RepetitionType = "REQUIRED"
)

func NewParquetAccumulator(s *table.Schema) (*ParquetSchemaAccumulator, error) {
	pa := &ParquetSchemaAccumulator{
		schema: ParquetSchema{
			TagStructs: SchemaTag{
				Name:           "parquet_go_root",
				RepetitionType: Required,
			},
		},
		fields: s.Columns,
	}
	pa.schema.Fields = append(pa.schema.Fields, &ParquetSchema{
		TagStructs: SchemaTag{
			Name:           TableField,
			Type:           "BYTE_ARRAY",
			ConvertedType:  "UTF8",
			Encoding:       "PLAIN",
			RepetitionType: Required,
		},
	})
	for i, f := range s.Columns {
		ps, err := getParquetSchema(ColumnName(i), f)
		if err != nil {
			return nil, err
		}
		pa.schema.Fields = append(pa.schema.Fields, ps)
	}
	return pa, nil
}

func ColumnName(i int) string {
	return "c" + strconv.Itoa(i)
}

// getParquetSchema returns the Type and ConvertedType. UBIGINT has no exact parquet type and travels as decimal text.
func getParquetSchema(key string, f table.Field) (*ParquetSchema, error) {
	schema := &ParquetSchema{
		TagStructs: SchemaTag{
			Name:           key,
			RepetitionType: Optional,
		},
	}
	tag := &schema.TagStructs
	switch f.Type {
	case coltype.Bool:
		tag.Type = "BOOLEAN"
	case coltype.TinyInt:
		tag.Type, tag.ConvertedType = "INT32", "INT_8"
	case coltype.SmallInt:
		tag.Type, tag.ConvertedType = "INT32", "INT_16"
	case coltype.Int:
		tag.Type, tag.ConvertedType = "INT32", "INT_32"
	case coltype.UTinyInt:
		tag.Type, tag.ConvertedType = "INT32", "UINT_8"
	case coltype.USmallInt:
		tag.Type, tag.ConvertedType = "INT32", "UINT_16"
	case coltype.BigInt, coltype.Timestamp, coltype.UInt:
		tag.Type = "INT64"
	case coltype.Float:
		tag.Type = "FLOAT"
	case coltype.Double:
		tag.Type = "DOUBLE"
	case coltype.UBigInt, coltype.Binary, coltype.NChar, coltype.JSON:
		tag.Type, tag.ConvertedType, tag.Encoding = "BYTE_ARRAY", "UTF8", "PLAIN"
	default:
		return nil, fmt.Errorf("%w: %s", coltype.ErrUnknownType, f.Type)
	}
	return schema, nil
}

func (pa *ParquetSchemaAccumulator) GetColumnNames() []string {
	var cols []string
	for _, field := range pa.schema.Fields {
		cols = append(cols, field.TagStructs.Name)
	}
	return cols
}

func (ps *ParquetSchema) GetType() string {
	switch ps.TagStructs.Type {
	case "BYTE_ARRAY":
		return "string"
	case "DOUBLE", "FLOAT":
		return "float"
	case "INT32", "INT64":
		return "int"
	case "BOOLEAN":
		return "bool"
	}
	return "unknown"
}

// GetColumnTypes returns the types of columns in the same order, one of string, float, int or bool
func (pa *ParquetSchemaAccumulator) GetColumnTypes() []string {
	var cols []string
	for _, field := range pa.schema.Fields {
		cols = append(cols, field.GetType())
	}
	return cols
}

// ToParquetJSONSchema recursively converts
func (ps *ParquetSchema) ToParquetJSONSchema() *ParquetJSONSchema {
	var tagArr []string
	if ps.TagStructs.Type != "" {
		tagArr = append(tagArr, "type="+ps.TagStructs.Type)
	}
	if ps.TagStructs.ConvertedType != "" {
		tagArr = append(tagArr, "convertedtype="+ps.TagStructs.ConvertedType)
	}
	if ps.TagStructs.Encoding != "" {
		tagArr = append(tagArr, "encoding="+ps.TagStructs.Encoding)
	}
	if ps.TagStructs.Name != "" {
		tagArr = append(tagArr, "name="+ps.TagStructs.Name)
	}
	if string(ps.TagStructs.RepetitionType) != "" {
		tagArr = append(tagArr, "repetitiontype="+string(ps.TagStructs.RepetitionType))
	}
	var fields []*ParquetJSONSchema
	for _, field := range ps.Fields {
		fields = append(fields, field.ToParquetJSONSchema())
	}
	return &ParquetJSONSchema{
		Tag:    strings.Join(tagArr, ", "),
		Fields: fields,
	}
}

// GetSchemaString returns the JSON formatted schema string
func (pa *ParquetSchemaAccumulator) GetSchemaString() (string, error) {
	b, err := json.Marshal(pa.schema.ToParquetJSONSchema())
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}

// RowJSON renders one row as the JSON record the parquet-go JSON writer consumes. Null columns are left out.
func (pa *ParquetSchemaAccumulator) RowJSON(r table.Row) (string, error) {
	if len(r.Values) != len(pa.fields) {
		return "", fmt.Errorf("row has %d values for %d columns", len(r.Values), len(pa.fields))
	}
	rec := make(map[string]any, len(r.Values)+1)
	rec[TableField] = r.Table
	for i, v := range r.Values {
		if v.IsNull() {
			continue
		}
		f := pa.fields[i]
		switch {
		case f.Type == coltype.Bool:
			rec[ColumnName(i)] = v.AsBool()
		case f.Type == coltype.UBigInt:
			rec[ColumnName(i)] = strconv.FormatUint(v.AsUint(), 10)
		case f.Type.IsUnsigned():
			rec[ColumnName(i)] = v.AsUint()
		case f.Type.IsFloat():
			rec[ColumnName(i)] = v.AsFloat()
		case f.Type.IsText():
			rec[ColumnName(i)] = v.AsString()
		default:
			rec[ColumnName(i)] = v.AsInt()
		}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal for row of %s: %w", r.Table, err)
	}
	return string(b), nil
}
