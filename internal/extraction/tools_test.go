package extraction

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newTestTools(t *testing.T) (*Tools, *State) {
	t.Helper()
	state := NewState()
	tools, err := NewTools(personSchema(t), state, discardLogger())
	if err != nil {
		t.Fatalf("NewTools() error = %v", err)
	}
	return tools, state
}

func decodeError(t *testing.T, payload string) string {
	t.Helper()
	var out map[string]string
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		t.Fatalf("payload is not an error object: %s", payload)
	}
	return out["error"]
}

func TestToolDefinitions(t *testing.T) {
	tools, _ := newTestTools(t)
	defs := tools.GetTools()

	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Function.Name
	}
	if strings.Join(names, ",") != "set_extraction,apply_patches,view_extraction" {
		t.Fatalf("tool names = %v", names)
	}

	var setParams map[string]any
	if err := json.Unmarshal(defs[0].Function.Parameters, &setParams); err != nil {
		t.Fatalf("set_extraction parameters: %v", err)
	}
	props := setParams["properties"].(map[string]any)
	extraction := props["extraction"].(map[string]any)
	if _, ok := extraction["$schema"]; ok {
		t.Error("set_extraction parameters still carry $schema")
	}
	if _, ok := extraction["properties"].(map[string]any)["age"]; !ok {
		t.Error("set_extraction parameters do not embed the record schema")
	}

	var patchParams map[string]any
	if err := json.Unmarshal(defs[1].Function.Parameters, &patchParams); err != nil {
		t.Fatalf("apply_patches parameters: %v", err)
	}
	patches := patchParams["properties"].(map[string]any)["patches"].(map[string]any)
	if patches["type"] != "array" || patches["minItems"] != float64(1) {
		t.Errorf("patches schema = %v", patches)
	}
	required, _ := patchParams["required"].([]any)
	if len(required) != 1 || required[0] != "patches" {
		t.Errorf("required = %v", patchParams["required"])
	}
}

func TestSetExtraction(t *testing.T) {
	ctx := context.Background()

	t.Run("valid record is stored", func(t *testing.T) {
		tools, state := newTestTools(t)
		out, err := tools.ExecuteTool(ctx, ToolSetExtraction, map[string]any{
			"extraction": map[string]any{"age": 34, "name": "Jane"},
		})
		if err != nil {
			t.Fatalf("ExecuteTool() error = %v", err)
		}
		if out != ExtractionSucceeded {
			t.Errorf("result = %q", out)
		}
		if !tools.IsComplete() || state.Current()["name"] != "Jane" {
			t.Errorf("state not updated: %v", state.Current())
		}
		if tools.Mutations() != 1 {
			t.Errorf("Mutations = %d, want 1", tools.Mutations())
		}
	})

	t.Run("json string argument", func(t *testing.T) {
		tools, state := newTestTools(t)
		out, _ := tools.ExecuteTool(ctx, ToolSetExtraction, map[string]any{
			"extraction": `{"age": 2, "name": "B"}`,
		})
		if out != ExtractionSucceeded || state.Current()["age"] != json.Number("2") {
			t.Errorf("result = %q, state = %v", out, state.Current())
		}
	})

	t.Run("invalid record leaves state untouched", func(t *testing.T) {
		tools, state := newTestTools(t)
		state.Set(map[string]any{"age": 1, "name": "A"})

		out, err := tools.ExecuteTool(ctx, ToolSetExtraction, map[string]any{
			"extraction": map[string]any{"age": "old"},
		})
		if err != nil {
			t.Fatalf("ExecuteTool() error = %v", err)
		}
		if msg := decodeError(t, out); msg == "" {
			t.Errorf("expected error payload, got %q", out)
		}
		if state.Current()["name"] != "A" {
			t.Errorf("state changed: %v", state.Current())
		}
		if tools.Mutations() != 0 {
			t.Errorf("Mutations = %d, want 0", tools.Mutations())
		}
	})

	t.Run("missing argument", func(t *testing.T) {
		tools, _ := newTestTools(t)
		out, _ := tools.ExecuteTool(ctx, ToolSetExtraction, map[string]any{})
		if decodeError(t, out) != "extraction is required" {
			t.Errorf("result = %q", out)
		}
	})
}

func TestApplyPatches(t *testing.T) {
	ctx := context.Background()
	patches := func(ops ...map[string]any) map[string]any {
		list := make([]any, len(ops))
		for i, op := range ops {
			list[i] = op
		}
		return map[string]any{"patches": list}
	}

	t.Run("requires an extraction", func(t *testing.T) {
		tools, _ := newTestTools(t)
		out, _ := tools.ExecuteTool(ctx, ToolApplyPatches, patches(map[string]any{"op": "replace", "path": "/age", "value": 1}))
		if out != `{"error":"No current extraction to patch"}` {
			t.Errorf("result = %q", out)
		}
	})

	t.Run("replace on baseline", func(t *testing.T) {
		tools, state := newTestTools(t)
		state.Preload(map[string]any{"age": 34, "name": "Jane"})

		out, _ := tools.ExecuteTool(ctx, ToolApplyPatches, patches(map[string]any{"op": "replace", "path": "/age", "value": 35}))
		if out != `{"status":"success","patches_applied":1}` {
			t.Fatalf("result = %q", out)
		}
		if state.Current()["age"] != json.Number("35") {
			t.Errorf("age = %v", state.Current()["age"])
		}
		if state.Baseline()["age"] != json.Number("34") {
			t.Errorf("baseline changed: %v", state.Baseline())
		}
	})

	t.Run("failing patch keeps the record viewable", func(t *testing.T) {
		tools, state := newTestTools(t)
		state.Set(map[string]any{"age": 34, "name": "Jane"})

		out, _ := tools.ExecuteTool(ctx, ToolApplyPatches, patches(map[string]any{"op": "remove", "path": "/missing/0"}))
		if decodeError(t, out) == "" {
			t.Fatalf("expected error payload, got %q", out)
		}

		view, err := tools.ExecuteTool(ctx, ToolViewExtraction, nil)
		if err != nil {
			t.Fatalf("view error = %v", err)
		}
		var viewed map[string]any
		if err := json.Unmarshal([]byte(view), &viewed); err != nil {
			t.Fatalf("view is not JSON: %s", view)
		}
		if viewed["age"] != float64(34) || viewed["name"] != "Jane" {
			t.Errorf("viewed = %v", viewed)
		}
	})

	t.Run("set is atomic across operations", func(t *testing.T) {
		tools, state := newTestTools(t)
		state.Set(map[string]any{"age": 34, "name": "Jane"})

		out, _ := tools.ExecuteTool(ctx, ToolApplyPatches, patches(
			map[string]any{"op": "replace", "path": "/name", "value": "Janet"},
			map[string]any{"op": "replace", "path": "/nope", "value": 1},
		))
		if decodeError(t, out) == "" {
			t.Fatalf("expected error payload, got %q", out)
		}
		if state.Current()["name"] != "Jane" {
			t.Errorf("partial patch committed: %v", state.Current())
		}
	})

	t.Run("result must satisfy the schema", func(t *testing.T) {
		tools, state := newTestTools(t)
		state.Set(map[string]any{"age": 34, "name": "Jane"})

		out, _ := tools.ExecuteTool(ctx, ToolApplyPatches, patches(map[string]any{"op": "remove", "path": "/name"}))
		if decodeError(t, out) == "" {
			t.Fatalf("expected error payload, got %q", out)
		}
		if state.Current()["name"] != "Jane" {
			t.Errorf("invalid patch committed: %v", state.Current())
		}
	})

	t.Run("empty set is rejected", func(t *testing.T) {
		tools, state := newTestTools(t)
		state.Set(map[string]any{"age": 34, "name": "Jane"})

		out, _ := tools.ExecuteTool(ctx, ToolApplyPatches, map[string]any{"patches": []any{}})
		if decodeError(t, out) == "" {
			t.Errorf("expected error payload, got %q", out)
		}
	})
}

func TestViewExtraction(t *testing.T) {
	tools, _ := newTestTools(t)
	out, err := tools.ExecuteTool(context.Background(), ToolViewExtraction, nil)
	if err != nil {
		t.Fatalf("ExecuteTool() error = %v", err)
	}
	if out != NoExtractionToView {
		t.Errorf("result = %q", out)
	}
}

func TestUnknownTool(t *testing.T) {
	tools, _ := newTestTools(t)
	if _, err := tools.ExecuteTool(context.Background(), "delete_everything", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}
