// Package schema implements the gateway's structured-extraction schema
// type: a compiled JSON Schema plus a compact summary
// renderer used to build the extractor's prompt. Loading schemas from disk
// is not done in this package; callers construct a Schema from an
// already-loaded document (internal/app reads the schema directory at
// startup).
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON Schema plus the raw document it was compiled
// from, which the summary renderer and raw-fetch endpoint both need.
type Schema struct {
	ID       string
	Raw      json.RawMessage
	compiled *jsonschema.Schema
	doc      map[string]any
}

// Compile builds a Schema from a raw JSON Schema document.
func Compile(id string, raw json.RawMessage) (*Schema, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema %q: invalid JSON: %w", id, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := "mem://schemas/" + id
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("schema %q: loading: %w", id, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %q: compiling: %w", id, err)
	}

	return &Schema{ID: id, Raw: raw, compiled: compiled, doc: doc}, nil
}

// Validate reports whether v (a decoded JSON value, typically
// map[string]any) satisfies the schema.
func (s *Schema) Validate(v any) error {
	return s.compiled.Validate(v)
}

// property is one field entry in the schema summary.
type property struct {
	Name        string
	Type        string
	Enum        []any
	Pattern     string
	Description string
	Required    bool
}

// Summary renders the compact field-level description used in the
// extraction prompt template: required fields, each field's
// type/enum/pattern/description, and whether extra fields are forbidden.
func (s *Schema) Summary() string {
	required := map[string]bool{}
	if req, ok := s.doc["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	props, _ := s.doc["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]property, 0, len(names))
	for _, name := range names {
		def, _ := props[name].(map[string]any)
		fields = append(fields, property{
			Name:        name,
			Type:        stringField(def, "type"),
			Enum:        sliceField(def, "enum"),
			Pattern:     stringField(def, "pattern"),
			Description: stringField(def, "description"),
			Required:    required[name],
		})
	}

	var b strings.Builder
	if len(required) > 0 {
		reqNames := make([]string, 0, len(required))
		for name := range required {
			reqNames = append(reqNames, name)
		}
		sort.Strings(reqNames)
		fmt.Fprintf(&b, "Required fields: %s\n", strings.Join(reqNames, ", "))
	}

	for _, f := range fields {
		b.WriteString("- ")
		b.WriteString(f.Name)
		if f.Type != "" {
			fmt.Fprintf(&b, " (%s)", f.Type)
		}
		if f.Required {
			b.WriteString(" [required]")
		}
		if len(f.Enum) > 0 {
			fmt.Fprintf(&b, " one of %v", f.Enum)
		}
		if f.Pattern != "" {
			fmt.Fprintf(&b, " matching /%s/", f.Pattern)
		}
		if f.Description != "" {
			fmt.Fprintf(&b, ": %s", f.Description)
		}
		b.WriteString("\n")
	}

	if additional, ok := s.doc["additionalProperties"].(bool); ok && !additional {
		b.WriteString("No properties beyond those listed are allowed.\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func sliceField(m map[string]any, key string) []any {
	v, _ := m[key].([]any)
	return v
}
