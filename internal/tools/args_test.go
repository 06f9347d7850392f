package tools

import (
	"context"
	"testing"

	"github.com/crewline/crewline/pkg/models"
)

func stubExec(context.Context, map[string]any, *ExecutionContext) (*models.ToolResult, error) {
	return &models.ToolResult{OK: true}, nil
}

func TestParseArguments(t *testing.T) {
	if args, err := ParseArguments(nil); err != nil || len(args) != 0 {
		t.Errorf("nil should decode to empty object, got %v, %v", args, err)
	}
	if args, err := ParseArguments("  "); err != nil || len(args) != 0 {
		t.Errorf("blank string should decode to empty object, got %v, %v", args, err)
	}
	if args, err := ParseArguments(`{"a": 1}`); err != nil || args["a"] != float64(1) {
		t.Errorf("string object parse failed: %v, %v", args, err)
	}
	if args, err := ParseArguments(map[string]any{"k": "v"}); err != nil || args["k"] != "v" {
		t.Errorf("object pass-through failed: %v, %v", args, err)
	}
	if _, err := ParseArguments(42); err == nil {
		t.Error("numeric payload should fail")
	}
	if _, err := ParseArguments("[1,2]"); err == nil {
		t.Error("array payload should fail")
	}
}

func echoSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":  map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer"},
			"loud":  map[string]any{"type": "boolean"},
			"mode":  map[string]any{"type": "string", "enum": []any{"plain", "fancy"}},
		},
		"required":             []any{"text"},
		"additionalProperties": false,
	}
}

func TestValidateArgs_RequiredAndUnknown(t *testing.T) {
	res := ValidateArgs(echoSchema(), map[string]any{"count": float64(1)})
	if res.OK {
		t.Fatal("missing required property should fail")
	}

	res = ValidateArgs(echoSchema(), map[string]any{"text": "hi", "bogus": 1})
	if res.OK {
		t.Fatal("unknown property should fail with additionalProperties=false")
	}
}

func TestValidateArgs_Coercion(t *testing.T) {
	res := ValidateArgs(echoSchema(), map[string]any{
		"text":  "hi",
		"count": "3",
		"loud":  "true",
	})
	if !res.OK {
		t.Fatalf("validation failed: %v", res.Errors)
	}
	if res.NormalizedArgs["count"] != float64(3) {
		t.Errorf("count = %v, want 3", res.NormalizedArgs["count"])
	}
	if res.NormalizedArgs["loud"] != true {
		t.Errorf("loud = %v, want true", res.NormalizedArgs["loud"])
	}
}

func TestValidateArgs_CoercionRejectsAmbiguous(t *testing.T) {
	res := ValidateArgs(echoSchema(), map[string]any{"text": "hi", "count": "3.5"})
	if res.OK {
		t.Error("non-integer string should not coerce to integer")
	}
	res = ValidateArgs(echoSchema(), map[string]any{"text": "hi", "loud": "yes"})
	if res.OK {
		t.Error("'yes' should not coerce to boolean")
	}
}

func TestValidateArgs_Enum(t *testing.T) {
	res := ValidateArgs(echoSchema(), map[string]any{"text": "hi", "mode": "fancy"})
	if !res.OK {
		t.Fatalf("allowed enum value rejected: %v", res.Errors)
	}
	res = ValidateArgs(echoSchema(), map[string]any{"text": "hi", "mode": "shouty"})
	if res.OK {
		t.Error("disallowed enum value accepted")
	}
}

func TestValidateArgs_EnumAsStringSlice(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{"type": "string", "enum": []string{"spawn", "await"}},
		},
	}
	res := ValidateArgs(schema, map[string]any{"action": "spawn"})
	if !res.OK {
		t.Fatalf("allowed enum value rejected: %v", res.Errors)
	}
	res = ValidateArgs(schema, map[string]any{"action": "teleport"})
	if res.OK {
		t.Error("disallowed enum value accepted with []string enum")
	}
}

func TestValidateArgs_NestedAndArrays(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filter": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit": map[string]any{"type": "number"},
				},
				"required": []any{"limit"},
			},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}

	res := ValidateArgs(schema, map[string]any{
		"filter": map[string]any{"limit": "10"},
		"tags":   `["a","b"]`,
	})
	if !res.OK {
		t.Fatalf("validation failed: %v", res.Errors)
	}
	filter := res.NormalizedArgs["filter"].(map[string]any)
	if filter["limit"] != float64(10) {
		t.Errorf("nested limit = %v, want 10", filter["limit"])
	}
	tags := res.NormalizedArgs["tags"].([]any)
	if len(tags) != 2 || tags[0] != "a" {
		t.Errorf("tags = %v", tags)
	}

	res = ValidateArgs(schema, map[string]any{"filter": map[string]any{}})
	if res.OK {
		t.Error("nested required property should fail")
	}
	res = ValidateArgs(schema, map[string]any{"tags": []any{"ok", 5}})
	if res.OK {
		t.Error("array item type mismatch should fail")
	}
}

func TestCallSignature_OrderInsensitive(t *testing.T) {
	a := CallSignature("echo", map[string]any{"x": 1, "y": "b"})
	b := CallSignature("echo", map[string]any{"y": "b", "x": 1})
	if a != b {
		t.Errorf("signatures differ: %s vs %s", a, b)
	}
	c := CallSignature("other", map[string]any{"x": 1, "y": "b"})
	if a == c {
		t.Error("different tool ids must not share a signature")
	}
}
