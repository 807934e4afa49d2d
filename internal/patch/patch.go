// Package patch applies RFC 6902 JSON Patch operations to extraction records.
//
// Only add, replace and remove are accepted. A patch set commits in full or
// not at all, and the result must pass the caller's validator before it is
// returned.
package patch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Supported operations.
const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
)

// ErrEmpty is returned for a patch set with no operations.
var ErrEmpty = errors.New("patch set is empty")

// Operation is a single JSON Patch operation.
type Operation struct {
	Op    string `json:"op" jsonschema:"enum=add,enum=replace,enum=remove" jsonschema_description:"Operation type"`
	Path  string `json:"path" jsonschema_description:"JSON Pointer to the target location, e.g. /customer/name or /items/0/price"`
	Value any    `json:"value,omitempty" jsonschema_description:"Value to add or replace with (not used for remove)"`
}

func (o Operation) String() string {
	return fmt.Sprintf("%s %s", o.Op, o.Path)
}

// Validator accepts or rejects a patched record.
// *schema.Schema satisfies it.
type Validator interface {
	Validate(record map[string]any) (map[string]any, error)
}

// ApplicationError reports the operation that could not be applied.
type ApplicationError struct {
	Index int
	Op    Operation
	Err   error
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("patch %d (%s) failed: %v", e.Index, e.Op, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

// Apply runs ops in order against a serialized copy of doc.
//
// doc is never modified. On any failure, including a validator rejection, the
// error is returned and no partial result escapes. Validator errors are
// returned as-is so callers can match their concrete type.
func Apply(doc map[string]any, ops []Operation, v Validator) (map[string]any, error) {
	if len(ops) == 0 {
		return nil, ErrEmpty
	}

	current, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}

	opts := jsonpatch.NewApplyOptions()
	opts.SupportNegativeIndices = false

	for i, op := range ops {
		p, err := decode(op)
		if err != nil {
			return nil, &ApplicationError{Index: i, Op: op, Err: err}
		}
		next, err := p.ApplyWithOptions(current, opts)
		if err != nil {
			return nil, &ApplicationError{Index: i, Op: op, Err: err}
		}
		current = next
	}

	out, err := decodeObject(current)
	if err != nil {
		return nil, &ApplicationError{Index: len(ops) - 1, Op: ops[len(ops)-1], Err: fmt.Errorf("result is not an object: %w", err)}
	}

	if v != nil {
		validated, err := v.Validate(out)
		if err != nil {
			return nil, err
		}
		out = validated
	}
	return out, nil
}

// decodeObject keeps numbers as json.Number so large integers survive.
func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func decode(op Operation) (jsonpatch.Patch, error) {
	entry := map[string]any{"op": op.Op, "path": op.Path}
	switch op.Op {
	case OpAdd, OpReplace:
		entry["value"] = op.Value
	case OpRemove:
	default:
		return nil, fmt.Errorf("unsupported operation %q", op.Op)
	}
	if op.Path != "" && op.Path[0] != '/' {
		return nil, fmt.Errorf("invalid JSON pointer %q", op.Path)
	}

	raw, err := json.Marshal([]any{entry})
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation: %w", err)
	}
	return jsonpatch.DecodePatch(raw)
}

// Decode parses a tool argument into operations.
// It accepts either a JSON array or a JSON string holding one.
func Decode(raw json.RawMessage) ([]Operation, error) {
	if ops, err := decodeOps(raw); err == nil {
		return ops, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("patches must be an array of operations: %w", err)
	}
	ops, err := decodeOps([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("patches must be an array of operations: %w", err)
	}
	return ops, nil
}

func decodeOps(raw []byte) ([]Operation, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var ops []Operation
	if err := dec.Decode(&ops); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after operations")
	}
	return ops, nil
}
