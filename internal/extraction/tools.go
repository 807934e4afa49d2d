package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/invopop/jsonschema"

	"github.com/jackzampolin/sift/internal/agent"
	"github.com/jackzampolin/sift/internal/patch"
	"github.com/jackzampolin/sift/internal/providers"
	"github.com/jackzampolin/sift/internal/schema"
)

// Tool names.
const (
	ToolSetExtraction  = "set_extraction"
	ToolApplyPatches   = "apply_patches"
	ToolViewExtraction = "view_extraction"
)

// Tool result texts.
const (
	ExtractionSucceeded = "Extraction succeeded, the data format is correct"
	NoExtractionToPatch = "No current extraction to patch"
	NoExtractionToView  = "No extraction has been made yet. Use set_extraction to create one."
)

// applyPatchesArgs is the argument shape of apply_patches.
type applyPatchesArgs struct {
	Patches   []patch.Operation `json:"patches" jsonschema:"minItems=1" jsonschema_description:"JSON patch operations to apply, in order. Each follows RFC 6902 with op, path and (for add/replace) value."`
	Reasoning string            `json:"reasoning,omitempty" jsonschema_description:"What these patches fix or update"`
}

type patchResult struct {
	Status         string `json:"status"`
	PatchesApplied int    `json:"patches_applied"`
}

// Tools exposes the extraction state to the model.
// It implements agent.Tools.
type Tools struct {
	schema *schema.Schema
	state  *State
	defs   []providers.Tool
	logger *slog.Logger

	mutations int
}

// NewTools builds the three tool contracts for s over state.
func NewTools(s *schema.Schema, state *State, logger *slog.Logger) (*Tools, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defs, err := toolDefinitions(s)
	if err != nil {
		return nil, err
	}
	return &Tools{schema: s, state: state, defs: defs, logger: logger}, nil
}

func toolDefinitions(s *schema.Schema) ([]providers.Tool, error) {
	setParams, err := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"extraction": stripSchemaKeywords(s.Document()),
		},
		"required": []string{"extraction"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode set_extraction parameters: %w", err)
	}

	patchParams, err := reflectParameters(&applyPatchesArgs{})
	if err != nil {
		return nil, fmt.Errorf("failed to encode apply_patches parameters: %w", err)
	}

	return []providers.Tool{
		{
			Type: "function",
			Function: providers.ToolFunction{
				Name: ToolSetExtraction,
				Description: "Use this tool to return the requested data extraction. " +
					"Calling it overwrites the previous extraction; to expand an extraction use apply_patches. " +
					"It must succeed once before apply_patches can be used.",
				Parameters: setParams,
			},
		},
		{
			Type: "function",
			Function: providers.ToolFunction{
				Name:        ToolApplyPatches,
				Description: "Apply JSON patches (RFC 6902: add, replace, remove) to fix or update the current extraction. The whole set is applied atomically and the result must still match the schema.",
				Parameters:  patchParams,
			},
		},
		{
			Type: "function",
			Function: providers.ToolFunction{
				Name:        ToolViewExtraction,
				Description: "View the data currently stored as extracted.",
				Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
			},
		},
	}, nil
}

func reflectParameters(v any) (json.RawMessage, error) {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	raw, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(stripSchemaKeywords(doc))
}

// stripSchemaKeywords removes document-level keywords tool schemas reject.
func stripSchemaKeywords(doc map[string]any) map[string]any {
	delete(doc, "$schema")
	delete(doc, "$id")
	delete(doc, "title")
	return doc
}

// GetTools returns the tool definitions.
func (t *Tools) GetTools() []providers.Tool {
	return t.defs
}

// ExecuteTool runs one tool call. Domain failures are reported to the
// model as {"error": ...} payloads rather than Go errors.
func (t *Tools) ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case ToolSetExtraction:
		return t.setExtraction(args)
	case ToolApplyPatches:
		return t.applyPatches(args)
	case ToolViewExtraction:
		return t.viewExtraction()
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (t *Tools) setExtraction(args map[string]any) (string, error) {
	record, err := recordArg(args["extraction"])
	if err != nil {
		return errorPayload(err.Error()), nil
	}

	validated, err := t.schema.Validate(record)
	if err != nil {
		t.logger.Debug("set_extraction rejected", "error", err)
		return errorPayload(err.Error()), nil
	}

	t.state.Set(validated)
	t.mutations++
	t.logger.Debug("set_extraction stored record", "fields", len(validated))
	return ExtractionSucceeded, nil
}

func (t *Tools) applyPatches(args map[string]any) (string, error) {
	if !t.state.HasExtraction() {
		return errorPayload(NoExtractionToPatch), nil
	}

	raw, err := json.Marshal(args["patches"])
	if err != nil {
		return errorPayload("patches must be an array of operations"), nil
	}
	ops, err := patch.Decode(raw)
	if err != nil {
		return errorPayload(err.Error()), nil
	}

	patched, err := patch.Apply(t.state.Current(), ops, t.schema)
	if err != nil {
		var appErr *patch.ApplicationError
		if errors.As(err, &appErr) {
			t.logger.Debug("apply_patches rejected", "index", appErr.Index, "error", appErr.Err)
		} else {
			t.logger.Debug("apply_patches rejected", "error", err)
		}
		return errorPayload(err.Error()), nil
	}

	t.state.Set(patched)
	t.mutations++
	return mustJSON(patchResult{Status: "success", PatchesApplied: len(ops)}), nil
}

func (t *Tools) viewExtraction() (string, error) {
	current := t.state.Current()
	if len(current) == 0 {
		return NoExtractionToView, nil
	}
	raw, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode extraction: %w", err)
	}
	return string(raw), nil
}

// IsComplete reports whether a record exists.
func (t *Tools) IsComplete() bool {
	return t.state.HasExtraction()
}

// GetResult returns a copy of the current record.
func (t *Tools) GetResult() any {
	return t.state.Current()
}

// Mutations returns how many tool calls changed the state.
func (t *Tools) Mutations() int {
	return t.mutations
}

// recordArg accepts an object or a JSON string holding one.
func recordArg(v any) (map[string]any, error) {
	switch rec := v.(type) {
	case map[string]any:
		return rec, nil
	case string:
		out, err := schema.DecodeRecord([]byte(rec))
		if err != nil {
			return nil, fmt.Errorf("extraction must be a JSON object: %v", err)
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("extraction is required")
	default:
		return nil, fmt.Errorf("extraction must be a JSON object, got %T", v)
	}
}

func errorPayload(msg string) string {
	return mustJSON(map[string]string{"error": msg})
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(raw)
}

var _ agent.Tools = (*Tools)(nil)
