package agent

import (
	"reflect"
	"testing"

	"atrium/internal/gateway"
)

func TestWireName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"audio:sample", "audio__sample"},
		{"plain", "plain"},
		{"a:b:c", "a__b__c"},
	}
	for _, tc := range cases {
		if got := WireName(tc.in); got != tc.want {
			t.Errorf("WireName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolveWireName(t *testing.T) {
	tools := []gateway.ToolDef{
		{Name: "audio:sample"},
		{Name: "audio:record"},
	}

	def, ok := ResolveWireName(tools, "audio__record")
	if !ok || def.Name != "audio:record" {
		t.Fatalf("got %q ok=%v, want audio:record", def.Name, ok)
	}
	if _, ok := ResolveWireName(tools, "video__cut"); ok {
		t.Fatal("resolved a tool that is not in the turn")
	}
}

func TestToolSchema(t *testing.T) {
	t.Run("degraded parameters become a bare object", func(t *testing.T) {
		got := toolSchema(gateway.ToolDef{Name: "x", FallbackText: "pass args as text"})
		want := map[string]any{"type": "object"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("properties and required carry over", func(t *testing.T) {
		got := toolSchema(gateway.ToolDef{
			Name: "x",
			Parameters: &gateway.ParamSchema{
				Type: "object",
				Properties: map[string]gateway.Param{
					"voice": {Type: "string", Enum: []any{"a", "b"}},
					"takes": {Type: "array", Items: &gateway.Param{Type: "integer"}},
				},
				Required: []string{"voice"},
			},
		})
		want := map[string]any{
			"type": "object",
			"properties": map[string]any{
				"voice": map[string]any{"type": "string", "enum": []any{"a", "b"}},
				"takes": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			},
			"required": []string{"voice"},
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})
}
