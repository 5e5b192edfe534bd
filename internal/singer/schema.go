package singer

import (
	"bytes"
	"fmt"
	"net/url"
	"slices"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is the compiled SCHEMA message of a stream. It is used for
// diagnostics only; records are never rejected because of it.
type Schema struct {
	Stream        string
	KeyProperties []string
	properties    map[string]struct{}
	required      []string
}

// CompileSchema compiles the JSON schema of a SCHEMA message
func CompileSchema(stream string, raw []byte, keyProperties []string) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema for stream %s is not valid JSON: %w", stream, err)
	}

	loc := "https://singer.local/schemas/" + url.PathEscape(stream) + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(loc, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema for stream %s: %w", stream, err)
	}
	compiled, err := c.Compile(loc)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema for stream %s: %w", stream, err)
	}

	s := &Schema{
		Stream:        stream,
		KeyProperties: keyProperties,
		properties:    make(map[string]struct{}, len(compiled.Properties)),
		required:      compiled.Required,
	}
	for name := range compiled.Properties {
		s.properties[name] = struct{}{}
	}
	return s, nil
}

// Declares reports whether the schema lists field as a property. A schema
// without properties declares everything.
func (s *Schema) Declares(field string) bool {
	if len(s.properties) == 0 {
		return true
	}
	_, ok := s.properties[field]
	return ok
}

// Undeclared returns the sorted fields of a record the schema does not list
func (s *Schema) Undeclared(fields map[string]any) []string {
	var out []string
	for name := range fields {
		if !s.Declares(name) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Missing returns the required properties absent from a record
func (s *Schema) Missing(fields map[string]any) []string {
	var out []string
	for _, name := range s.required {
		if _, ok := fields[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}
