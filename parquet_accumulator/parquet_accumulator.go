package parquet_accumulator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danthegoodman1/icetree/block"
	"github.com/xitongsys/parquet-go/writer"
)

type (
	// ParquetSchemaAccumulator builds a parquet-go JSON schema from part columns
	ParquetSchemaAccumulator struct {
		schema ParquetSchema
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

var (
	Optional RepetitionType = "OPTIONAL"
	Required RepetitionType = "REQUIRED"

	ErrDuplicateColumn = errors.New("two columns map to the same parquet field")
)

func NewParquetAccumulator() ParquetSchemaAccumulator {
	return ParquetSchemaAccumulator{
		schema: ParquetSchema{
			TagStructs: SchemaTag{
				Name:           "parquet_go_root",
				RepetitionType: Required,
			},
		},
	}
}

// FieldName is the parquet field a column is exported as. Field names must
// start with an upper case letter for parquet-go to map them.
func FieldName(column string) string {
	out := []byte(column)
	for i, c := range out {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			out[i] = '_'
		}
	}
	if len(out) > 0 && out[0] >= 'a' && out[0] <= 'z' {
		out[0] -= 'a' - 'A'
	}
	if len(out) == 0 || !(out[0] >= 'A' && out[0] <= 'Z') {
		return "C" + string(out)
	}
	return string(out)
}

// AddColumn appends one part column to the schema
func (pa *ParquetSchemaAccumulator) AddColumn(nt block.NameAndType) error {
	name := FieldName(nt.Name)
	if pa.fieldExists(name) {
		return fmt.Errorf("%w: %s", ErrDuplicateColumn, nt.Name)
	}
	schema := &ParquetSchema{
		TagStructs: SchemaTag{
			Name:           name,
			RepetitionType: Required,
		},
	}
	switch nt.Type {
	case block.String:
		schema.TagStructs.Type = "BYTE_ARRAY"
		schema.TagStructs.ConvertedType = "UTF8"
		schema.TagStructs.Encoding = "PLAIN"
	case block.Int64, block.DateTime:
		// DateTime exports as unix seconds
		schema.TagStructs.Type = "INT64"
	case block.UInt64:
		schema.TagStructs.Type = "INT64"
		schema.TagStructs.ConvertedType = "UINT_64"
	case block.Bool:
		schema.TagStructs.Type = "BOOLEAN"
	default:
		schema.TagStructs.Type = "DOUBLE"
	}
	pa.schema.Fields = append(pa.schema.Fields, schema)
	return nil
}

func (pa *ParquetSchemaAccumulator) fieldExists(fieldName string) (exists bool) {
	for _, field := range pa.schema.Fields {
		if field.TagStructs.Name == fieldName {
			return true
		}
	}
	return
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
	case "DOUBLE":
		return "float"
	case "BOOLEAN":
		return "bool"
	default:
		if ps.TagStructs.ConvertedType == "UINT_64" {
			return "uint"
		}
		return "int"
	}
}

// GetColumnTypes returns the types of columns in the same order
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
	var fields []*ParquetJSONSchema
	for _, field := range pa.schema.Fields {
		fields = append(fields, field.ToParquetJSONSchema())
	}
	pjs := ParquetJSONSchema{
		Tag:    "name=parquet_go_root, repetitiontype=REQUIRED",
		Fields: fields,
	}

	b, err := json.Marshal(pjs)
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}

// WriteBlock writes the rows of b as a parquet file to w, returning the schema used
func WriteBlock(w io.Writer, b block.Block) (string, error) {
	pa := NewParquetAccumulator()
	for _, nt := range b.NamesAndTypes() {
		if err := pa.AddColumn(nt); err != nil {
			return "", err
		}
	}
	parquetSchema, err := pa.GetSchemaString()
	if err != nil {
		return "", fmt.Errorf("error in GetSchemaString: %w", err)
	}

	pw, err := writer.NewJSONWriterFromWriter(parquetSchema, w, 4)
	if err != nil {
		return "", fmt.Errorf("error in NewJSONWriterFromWriter: %w", err)
	}
	fields := pa.GetColumnNames()
	for row := 0; row < b.Rows(); row++ {
		jsonRow := make(map[string]any, len(fields))
		for i, c := range b.Columns {
			v := c.ValueAt(row)
			if ts, ok := v.(uint32); ok {
				v = int64(ts)
			}
			jsonRow[fields[i]] = v
		}
		rowBytes, err := json.Marshal(jsonRow)
		if err != nil {
			return "", fmt.Errorf("error in json.Marshal of row: %w", err)
		}
		if err := pw.Write(string(rowBytes)); err != nil {
			return "", fmt.Errorf("error in pw.Write for row %d: %w", row, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return "", fmt.Errorf("error in pw.WriteStop: %w", err)
	}
	return parquetSchema, nil
}
