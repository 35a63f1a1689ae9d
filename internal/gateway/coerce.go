package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolDef is one catalog entry: a downstream tool addressed as
// "provider:tool" with its parameter schema normalized into the constrained
// shape agent backends accept. When normalization fails, Parameters is nil
// and FallbackText carries a textual description instead; the tool is still
// callable.
type ToolDef struct {
	Name        string `json:"name"` // namespaced provider:tool
	Provider    string `json:"provider"`
	Tool        string `json:"tool"`
	Description string `json:"description"`

	Parameters   *ParamSchema `json:"parameters,omitempty"`
	FallbackText string       `json:"fallback_text,omitempty"`
}

// ParamSchema is the constrained object schema the consuming backends
// understand: a flat object of typed properties, optional enums, one level of
// array item typing.
type ParamSchema struct {
	Type       string           `json:"type"`
	Properties map[string]Param `json:"properties,omitempty"`
	Required   []string         `json:"required,omitempty"`
}

type Param struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Items       *Param `json:"items,omitempty"`
}

// SplitName splits a namespaced "provider:tool" name. Tool names may
// themselves contain colons; only the first separates the provider.
func SplitName(name string) (provider, tool string, ok bool) {
	i := strings.Index(name, ":")
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// Coerce normalizes a downstream tool into a ToolDef. It never rejects a
// tool: anything that cannot be expressed in the constrained shape degrades
// to FallbackText.
func Coerce(providerName string, t *mcp.Tool) ToolDef {
	def := ToolDef{
		Name:        providerName + ":" + t.Name,
		Provider:    providerName,
		Tool:        t.Name,
		Description: t.Description,
	}

	schema, reason := inputSchema(t.InputSchema)
	var params *ParamSchema
	if reason == "" {
		params, reason = coerceSchema(schema)
	}
	if params != nil {
		def.Parameters = params
		return def
	}

	var b strings.Builder
	b.WriteString("Parameters for this tool could not be normalized")
	if reason != "" {
		fmt.Fprintf(&b, " (%s)", reason)
	}
	b.WriteString(". Pass arguments as described: ")
	if t.Description != "" {
		b.WriteString(t.Description)
	} else {
		b.WriteString("consult the provider's documentation.")
	}
	def.FallbackText = b.String()
	return def
}

// inputSchema narrows the wire-typed schema field. Providers hand back
// either a decoded *jsonschema.Schema or raw JSON, depending on transport.
func inputSchema(v any) (*jsonschema.Schema, string) {
	switch s := v.(type) {
	case nil:
		return nil, ""
	case *jsonschema.Schema:
		return s, ""
	case json.RawMessage:
		return decodeSchema([]byte(s))
	case []byte:
		return decodeSchema(s)
	case map[string]any:
		data, err := json.Marshal(s)
		if err != nil {
			return nil, "schema is not valid JSON"
		}
		return decodeSchema(data)
	default:
		return nil, fmt.Sprintf("schema has unexpected type %T", v)
	}
}

func decodeSchema(data []byte) (*jsonschema.Schema, string) {
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, "schema could not be decoded"
	}
	return &s, ""
}

func coerceSchema(s *jsonschema.Schema) (*ParamSchema, string) {
	if s == nil {
		// No declared parameters; a bare object schema is valid.
		return &ParamSchema{Type: "object"}, ""
	}
	if len(s.AnyOf) > 0 || len(s.OneOf) > 0 || len(s.AllOf) > 0 {
		return nil, "union schemas are not supported"
	}
	if s.Type != "" && s.Type != "object" {
		return nil, fmt.Sprintf("top-level type %q is not an object", s.Type)
	}

	out := &ParamSchema{Type: "object", Required: s.Required}
	if len(s.Properties) == 0 {
		return out, ""
	}

	out.Properties = make(map[string]Param, len(s.Properties))
	for name, prop := range s.Properties {
		out.Properties[name] = coerceParam(prop, 0)
	}
	return out, ""
}

// coerceParam maps a property schema to the constrained Param shape. Any
// construct it does not understand degrades to a described string rather
// than failing the whole tool.
func coerceParam(s *jsonschema.Schema, depth int) Param {
	if s == nil {
		return Param{Type: "string"}
	}

	p := Param{Description: s.Description}

	switch s.Type {
	case "string", "number", "integer", "boolean":
		p.Type = s.Type
	case "array":
		if depth >= 2 {
			p.Type = "string"
			p.Description = noteDegraded(p.Description, "deeply nested array flattened to string")
			return p
		}
		p.Type = "array"
		if s.Items != nil {
			item := coerceParam(s.Items, depth+1)
			p.Items = &item
		}
	case "object":
		// Nested objects collapse to a JSON-encoded string argument.
		p.Type = "string"
		p.Description = noteDegraded(p.Description, "pass a JSON object encoded as a string")
	case "":
		p.Type = "string"
	default:
		p.Type = "string"
		p.Description = noteDegraded(p.Description, fmt.Sprintf("original type %q", s.Type))
	}

	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	return p
}

func noteDegraded(desc, note string) string {
	if desc == "" {
		return note
	}
	return desc + " (" + note + ")"
}
