// Package schema describes extraction targets and validates records against them.
//
// A Descriptor is a tagged-variant tree of fields. It compiles into a Schema
// that owns the JSON Schema document sent to the model and the validator
// every state transition is checked against.
package schema

import (
	"fmt"
	"strings"
)

// Kind is the JSON type of a field.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindString, KindInteger, KindNumber, KindBoolean, KindObject, KindArray:
		return true
	}
	return false
}

// Field is one node of a descriptor.
// Objects carry Fields, arrays carry Items.
type Field struct {
	Name        string   `json:"name" yaml:"name" toml:"name"`
	Kind        Kind     `json:"type" yaml:"type" toml:"type"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Required    bool     `json:"required,omitempty" yaml:"required,omitempty" toml:"required,omitempty"`
	Nullable    bool     `json:"nullable,omitempty" yaml:"nullable,omitempty" toml:"nullable,omitempty"`
	Enum        []string `json:"enum,omitempty" yaml:"enum,omitempty" toml:"enum,omitempty"`
	Items       *Field   `json:"items,omitempty" yaml:"items,omitempty" toml:"items,omitempty"`
	Fields      []Field  `json:"fields,omitempty" yaml:"fields,omitempty" toml:"fields,omitempty"`
}

// Descriptor is the caller-facing definition of a record shape.
type Descriptor struct {
	Title       string  `json:"title,omitempty" yaml:"title,omitempty" toml:"title,omitempty"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Fields      []Field `json:"fields" yaml:"fields" toml:"fields"`
}

// Check verifies the descriptor is well formed.
func (d Descriptor) Check() error {
	if len(d.Fields) == 0 {
		return fmt.Errorf("descriptor has no fields")
	}
	return checkFields("", d.Fields)
}

func checkFields(prefix string, fields []Field) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		path := prefix + "/" + f.Name
		if f.Name == "" {
			return fmt.Errorf("field under %q has no name", prefix+"/")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", path)
		}
		seen[f.Name] = true
		if err := checkField(path, f); err != nil {
			return err
		}
	}
	return nil
}

func checkField(path string, f Field) error {
	if !f.Kind.Valid() {
		return fmt.Errorf("field %q has unknown type %q", path, f.Kind)
	}
	if len(f.Enum) > 0 && f.Kind != KindString {
		return fmt.Errorf("field %q: enum is only supported on strings", path)
	}
	switch f.Kind {
	case KindObject:
		if len(f.Fields) == 0 {
			return fmt.Errorf("object field %q has no fields", path)
		}
		return checkFields(path, f.Fields)
	case KindArray:
		if f.Items == nil {
			return fmt.Errorf("array field %q has no items", path)
		}
		return checkField(path+"/items", *f.Items)
	}
	return nil
}

// FieldCount returns the number of leaf values a single record carries.
// Array items count once.
func (d Descriptor) FieldCount() int {
	return countFields(d.Fields)
}

func countFields(fields []Field) int {
	n := 0
	for _, f := range fields {
		n += countField(f)
	}
	return n
}

func countField(f Field) int {
	switch f.Kind {
	case KindObject:
		return countFields(f.Fields)
	case KindArray:
		if f.Items != nil {
			return countField(*f.Items)
		}
	}
	return 1
}

// JSONSchema renders the descriptor as a JSON Schema document.
func (d Descriptor) JSONSchema() map[string]any {
	doc := objectSchema(d.Fields)
	doc["$schema"] = "http://json-schema.org/draft-07/schema#"
	if d.Title != "" {
		doc["title"] = d.Title
	}
	if d.Description != "" {
		doc["description"] = d.Description
	}
	return doc
}

func objectSchema(fields []Field) map[string]any {
	props := make(map[string]any, len(fields))
	var required []string
	for _, f := range fields {
		props[f.Name] = fieldSchema(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func fieldSchema(f Field) map[string]any {
	var s map[string]any
	switch f.Kind {
	case KindObject:
		s = objectSchema(f.Fields)
	case KindArray:
		s = map[string]any{"type": "array", "items": fieldSchema(*f.Items)}
	default:
		s = map[string]any{"type": string(f.Kind)}
	}
	if f.Nullable {
		s["type"] = []string{s["type"].(string), "null"}
	}
	if f.Description != "" {
		s["description"] = f.Description
	}
	if len(f.Enum) > 0 {
		enum := make([]any, 0, len(f.Enum)+1)
		for _, v := range f.Enum {
			enum = append(enum, v)
		}
		if f.Nullable {
			enum = append(enum, nil)
		}
		s["enum"] = enum
	}
	return s
}

// Names returns the top-level field names, in declaration order.
func (d Descriptor) Names() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

func (d Descriptor) String() string {
	title := d.Title
	if title == "" {
		title = "record"
	}
	return fmt.Sprintf("%s(%s)", title, strings.Join(d.Names(), ", "))
}
