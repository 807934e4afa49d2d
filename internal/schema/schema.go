package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const resourceURL = "extraction.json"

// Schema is an immutable, compiled extraction schema.
type Schema struct {
	doc      map[string]any
	raw      []byte
	compiled *jsonschema.Schema
	fields   int
}

// Compile checks and compiles a descriptor.
func Compile(d Descriptor) (*Schema, error) {
	if err := d.Check(); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}
	raw, err := json.Marshal(d.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	s, err := compile(raw)
	if err != nil {
		return nil, err
	}
	s.fields = d.FieldCount()
	return s, nil
}

// CompileJSON compiles a caller-supplied JSON Schema document.
// The document must describe an object.
func CompileJSON(raw []byte) (*Schema, error) {
	s, err := compile(raw)
	if err != nil {
		return nil, err
	}
	if t, _ := s.doc["type"].(string); t != "object" {
		return nil, fmt.Errorf("schema root must be an object, got %q", t)
	}
	s.fields = countDocFields(s.doc)
	return s, nil
}

func compile(raw []byte) (*Schema, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema is not a JSON object: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}

	return &Schema{doc: doc, raw: raw, compiled: compiled}, nil
}

// Document returns a copy of the JSON Schema document.
func (s *Schema) Document() map[string]any {
	var doc map[string]any
	_ = json.Unmarshal(s.raw, &doc)
	return doc
}

// JSON returns the schema as indented JSON, for embedding in instructions.
func (s *Schema) JSON() string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, s.raw, "", "  "); err != nil {
		return string(s.raw)
	}
	return buf.String()
}

// FieldCount returns the number of leaf fields in the schema.
func (s *Schema) FieldCount() int {
	return s.fields
}

// Validate checks a record against the schema and returns a normalized copy.
// Normalization is a JSON round trip, so numbers arrive as json.Number with
// their original digits and the caller's map is never aliased.
func (s *Schema) Validate(record map[string]any) (map[string]any, error) {
	if record == nil {
		return nil, &ValidationError{Violations: []Violation{{Location: "/", Message: "record is empty"}}}
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("record is not serializable: %w", err)
	}
	normalized, err := DecodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("record is not a JSON object: %w", err)
	}

	if err := s.compiled.Validate(normalized); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, newValidationError(ve)
		}
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return normalized, nil
}

// ValidateJSON decodes raw and validates it.
func (s *Schema) ValidateJSON(raw []byte) (map[string]any, error) {
	record, err := DecodeRecord(raw)
	if err != nil {
		return nil, &ValidationError{Violations: []Violation{{Location: "/", Message: "not a JSON object: " + err.Error()}}}
	}
	return s.Validate(record)
}

// DecodeRecord decodes a JSON object keeping numbers as json.Number, so
// integers beyond 2^53 are not rounded through float64.
func DecodeRecord(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var record map[string]any
	if err := dec.Decode(&record); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after JSON object")
	}
	return record, nil
}

// countDocFields counts leaf properties of a raw JSON Schema object.
func countDocFields(node map[string]any) int {
	props, _ := node["properties"].(map[string]any)
	if len(props) == 0 {
		if items, ok := node["items"].(map[string]any); ok {
			return countDocFields(items)
		}
		return 1
	}
	n := 0
	for _, p := range props {
		if child, ok := p.(map[string]any); ok {
			n += countDocFields(child)
		} else {
			n++
		}
	}
	return n
}

// Violation is a single schema failure at an instance location.
type Violation struct {
	Location string `json:"location"`
	Message  string `json:"message"`
}

// ValidationError reports why a record does not conform to the schema.
type ValidationError struct {
	Violations []Violation
	cause      error
}

func newValidationError(ve *jsonschema.ValidationError) *ValidationError {
	var out []Violation
	var leaves func(*jsonschema.ValidationError)
	leaves = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				leaves(c)
			}
			return
		}
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		out = append(out, Violation{Location: loc, Message: e.Message})
	}
	leaves(ve)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return &ValidationError{Violations: out, cause: ve}
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Location, v.Message)
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return e.cause
}
