package providers

import (
	"encoding/json"
	"testing"
)

func TestSanitizeToolParameters(t *testing.T) {
	raw := `{
		"$schema":"http://json-schema.org/draft-07/schema#",
		"type":"object",
		"properties":{
			"level":{"type":"integer","minimum":1,"maximum":3},
			"confidence":{"type":"number","minimum":0.0,"maximum":1.0}
		}
	}`

	t.Run("claude strips integer bounds", func(t *testing.T) {
		var params map[string]any
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			t.Fatal(err)
		}
		sanitizeToolParameters("us.anthropic.claude-sonnet-4-20250514-v1:0", params)

		if _, ok := params["$schema"]; ok {
			t.Error("expected $schema to be removed")
		}
		props := params["properties"].(map[string]any)
		level := props["level"].(map[string]any)
		if _, ok := level["minimum"]; ok {
			t.Errorf("integer minimum should be removed, got %v", level)
		}
		confidence := props["confidence"].(map[string]any)
		if _, ok := confidence["minimum"]; !ok {
			t.Errorf("number minimum should remain, got %v", confidence)
		}
	})

	t.Run("other models keep bounds", func(t *testing.T) {
		var params map[string]any
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			t.Fatal(err)
		}
		sanitizeToolParameters("gpt-4.1", params)

		level := params["properties"].(map[string]any)["level"].(map[string]any)
		if _, ok := level["minimum"]; !ok {
			t.Errorf("integer minimum should remain, got %v", level)
		}
		if _, ok := params["$schema"]; ok {
			t.Error("expected $schema to be removed")
		}
	})
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"plain", `{"ok":true}`, false},
		{"code fence", "```json\n{\"ok\":true}\n```", false},
		{"surrounding text", `Here you go: {"ok":true} hope that helps`, false},
		{"empty", "", true},
		{"garbage", "not json at all", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RepairJSON(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("RepairJSON() error = %v", err)
			}
			var parsed map[string]any
			if err := json.Unmarshal(got, &parsed); err != nil {
				t.Fatalf("failed to unmarshal repaired JSON: %v", err)
			}
			if ok, _ := parsed["ok"].(bool); !ok {
				t.Errorf("expected ok=true, got %#v", parsed)
			}
		})
	}
}
