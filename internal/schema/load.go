package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ParseDescriptor decodes a descriptor in the given format (json, yaml or toml).
func ParseDescriptor(data []byte, format string) (Descriptor, error) {
	var d Descriptor
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&d); err != nil {
			return d, fmt.Errorf("failed to parse JSON descriptor: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &d); err != nil {
			return d, fmt.Errorf("failed to parse YAML descriptor: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), &d); err != nil {
			return d, fmt.Errorf("failed to parse TOML descriptor: %w", err)
		}
	default:
		return d, fmt.Errorf("unsupported descriptor format: %q", format)
	}
	return d, nil
}

// LoadDescriptor reads a descriptor file. The format follows the extension.
func LoadDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to read descriptor: %w", err)
	}
	return ParseDescriptor(data, filepath.Ext(path))
}

// Load reads and compiles a schema file.
//
// JSON files whose root carries "properties" or "$schema" are treated as raw
// JSON Schema documents; everything else is parsed as a descriptor.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse compiles schema bytes in the given format.
func Parse(data []byte, format string) (*Schema, error) {
	if isJSONFormat(format) && isJSONSchema(data) {
		return CompileJSON(data)
	}
	d, err := ParseDescriptor(data, format)
	if err != nil {
		return nil, err
	}
	return Compile(d)
}

func isJSONFormat(format string) bool {
	return strings.EqualFold(strings.TrimPrefix(format, "."), "json")
}

func isJSONSchema(data []byte) bool {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return false
	}
	_, hasProps := top["properties"]
	_, hasDialect := top["$schema"]
	return hasProps || hasDialect
}
