package mcp

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// FieldKind is the semantic runtime type of one declared argument field.
type FieldKind int

const (
	KindText FieldKind = iota
	KindNumber
	KindInteger
	KindBoolean
	KindSequence
	KindMapping
)

func (k FieldKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Field is one compiled argument declaration.
type Field struct {
	Name        string
	Kind        FieldKind
	Required    bool
	Description string
	Default     any
}

// CompiledSchema is a reusable validator built once from a tool's declared
// input schema. Validation happens before any process interaction: missing
// required fields fail fast, optional fields fall back to declared defaults,
// and extra unspecified fields pass through untouched for forward
// compatibility.
type CompiledSchema struct {
	Tool   string
	Fields []Field
}

// CompileSchema parses a raw JSON schema declaration into a CompiledSchema.
// Fields are ordered by name so compiled output is deterministic. A missing
// or non-object schema compiles to a validator that accepts anything.
func CompileSchema(toolName string, inputSchema json.RawMessage) (*CompiledSchema, error) {
	compiled := &CompiledSchema{Tool: toolName}
	if len(inputSchema) == 0 {
		return compiled, nil
	}

	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(inputSchema, &schema); err != nil {
		return nil, fmt.Errorf("mcp: tool %s: parse input schema: %w", toolName, err)
	}
	if len(schema.Properties) == 0 {
		return compiled, nil
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var prop struct {
			Type        string `json:"type"`
			Description string `json:"description"`
			Default     any    `json:"default"`
		}
		if err := json.Unmarshal(schema.Properties[name], &prop); err != nil {
			return nil, fmt.Errorf("mcp: tool %s: parse field %q: %w", toolName, name, err)
		}
		compiled.Fields = append(compiled.Fields, Field{
			Name:        name,
			Kind:        kindOf(prop.Type),
			Required:    required[name],
			Description: prop.Description,
			Default:     prop.Default,
		})
	}
	return compiled, nil
}

func kindOf(jsonType string) FieldKind {
	switch jsonType {
	case "number":
		return KindNumber
	case "integer":
		return KindInteger
	case "boolean":
		return KindBoolean
	case "array":
		return KindSequence
	case "object":
		return KindMapping
	default:
		return KindText
	}
}

// Validate checks supplied arguments against the compiled declaration and
// returns a copy with defaults applied and declared types coerced. The input
// map is never modified.
func (s *CompiledSchema) Validate(args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	for _, field := range s.Fields {
		value, present := out[field.Name]
		if !present {
			if field.Required {
				return nil, &ValidationError{Tool: s.Tool, Field: field.Name, Message: "is required"}
			}
			if field.Default != nil {
				out[field.Name] = field.Default
			}
			continue
		}
		coerced, err := coerce(field.Kind, value)
		if err != nil {
			return nil, &ValidationError{Tool: s.Tool, Field: field.Name, Message: err.Error()}
		}
		out[field.Name] = coerced
	}
	return out, nil
}

// coerce converts a decoded JSON value to the field's semantic type, or
// reports why it cannot.
func coerce(kind FieldKind, value any) (any, error) {
	switch kind {
	case KindText:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("must be text, got %T", value)
	case KindNumber:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, fmt.Errorf("must be a number")
			}
			return f, nil
		}
		return nil, fmt.Errorf("must be a number, got %T", value)
	case KindInteger:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("must be an integer, got %v", v)
			}
			return int64(v), nil
		case json.Number:
			i, err := v.Int64()
			if err != nil {
				return nil, fmt.Errorf("must be an integer")
			}
			return i, nil
		}
		return nil, fmt.Errorf("must be an integer, got %T", value)
	case KindBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("must be a boolean, got %T", value)
	case KindSequence:
		if v, ok := value.([]any); ok {
			return v, nil
		}
		return nil, fmt.Errorf("must be a sequence, got %T", value)
	case KindMapping:
		if v, ok := value.(map[string]any); ok {
			return v, nil
		}
		return nil, fmt.Errorf("must be a mapping, got %T", value)
	default:
		return value, nil
	}
}
