// Package schema compiles JSON Schema documents into reusable input shapes.
// A shape validates candidate inputs and reports which declared top-level
// fields can be coerced from string form.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/xeipuuv/gojsonschema"

	"github.com/srushti98/trpc-openapi/pkg/rpcerr"
)

// Kind classifies a declared top-level field for query and path coercion.
// Opaque fields are left untouched.
type Kind int

const (
	KindOpaque Kind = iota
	KindString
	KindNumber
	KindBoolean
	KindStringList
	KindNumberList
	KindBooleanList
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindStringList:
		return "string_list"
	case KindNumberList:
		return "number_list"
	case KindBooleanList:
		return "boolean_list"
	default:
		return "opaque"
	}
}

// Elem returns the element kind for list kinds and false for everything else.
func (k Kind) Elem() (Kind, bool) {
	switch k {
	case KindStringList:
		return KindString, true
	case KindNumberList:
		return KindNumber, true
	case KindBooleanList:
		return KindBoolean, true
	default:
		return KindOpaque, false
	}
}

// Field describes one declared top-level property of an input shape.
type Field struct {
	Name string
	Kind Kind
}

// Shape validates input documents against a compiled schema and lists the
// declared top-level fields.
type Shape interface {
	Validate(input map[string]any) error
	Fields() []Field
}

// Compile parses and compiles a JSON Schema document once. The returned
// shape is safe for concurrent use.
func Compile(raw []byte) (Shape, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("schema document is empty")
	}

	compiledSchema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema document: %w", err)
	}

	fields, err := listFields(raw)
	if err != nil {
		return nil, err
	}

	return &compiled{schema: compiledSchema, fields: fields}, nil
}

// Coerce converts a raw string value into the Go type matching kind. The
// second return reports whether the conversion applied; callers keep the
// original value when it did not.
func Coerce(raw string, kind Kind) (any, bool) {
	switch kind {
	case KindString:
		return raw, true
	case KindNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	case KindBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, false
		}
		return b, true
	default:
		return nil, false
	}
}

type compiled struct {
	schema *gojsonschema.Schema
	fields []Field
}

func (c *compiled) Fields() []Field {
	out := make([]Field, len(c.fields))
	copy(out, c.fields)
	return out
}

func (c *compiled) Validate(input map[string]any) error {
	doc := input
	if doc == nil {
		doc = map[string]any{}
	}

	result, err := c.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to evaluate input against schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	issues := make([]rpcerr.Issue, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		issues = append(issues, rpcerr.Issue{
			Field:   resultErr.Field(),
			Message: resultErr.Description(),
		})
	}
	return rpcerr.Validation(issues...)
}

type propertyDoc struct {
	Type  any          `json:"type"`
	Items *propertyDoc `json:"items"`
}

func listFields(raw []byte) ([]Field, error) {
	var doc struct {
		Properties map[string]propertyDoc `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema document: %w", err)
	}

	fields := make([]Field, 0, len(doc.Properties))
	for name, prop := range doc.Properties {
		fields = append(fields, Field{Name: name, Kind: kindForProperty(prop)})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}

func kindForProperty(prop propertyDoc) Kind {
	switch typeName(prop.Type) {
	case "string":
		return KindString
	case "number", "integer":
		return KindNumber
	case "boolean":
		return KindBoolean
	case "array":
		if prop.Items == nil {
			return KindOpaque
		}
		switch typeName(prop.Items.Type) {
		case "string":
			return KindStringList
		case "number", "integer":
			return KindNumberList
		case "boolean":
			return KindBooleanList
		}
		return KindOpaque
	default:
		return KindOpaque
	}
}

// typeName flattens the schema "type" keyword, which may be a single name
// or a list that includes "null".
func typeName(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []any:
		for _, entry := range v {
			name, ok := entry.(string)
			if ok && name != "null" {
				return name
			}
		}
	}
	return ""
}
