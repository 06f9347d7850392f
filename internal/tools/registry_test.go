package tools

import (
	"testing"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)

	err := r.Register(Tool{ID: "echo", Name: "echo", Execute: stubExec})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, ok := r.GetByID("echo"); !ok {
		t.Error("GetByID should find registered tool")
	}
	if _, ok := r.GetByID("missing"); ok {
		t.Error("GetByID should miss unknown id")
	}

	got := r.GetByIDs([]string{"echo", "missing"})
	if len(got) != 1 || got[0].ID != "echo" {
		t.Errorf("GetByIDs = %v", got)
	}
	if len(r.GetAll()) != 1 {
		t.Errorf("GetAll len = %d, want 1", len(r.GetAll()))
	}
}

func TestRegistry_ReRegisterOverwrites(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(Tool{ID: "echo", Description: "first", Execute: stubExec}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Tool{ID: "echo", Description: "second", Execute: stubExec}); err != nil {
		t.Fatal(err)
	}
	tool, _ := r.GetByID("echo")
	if tool.Description != "second" {
		t.Errorf("Description = %q, want overwrite", tool.Description)
	}
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	r := NewRegistry(nil)

	if err := r.Register(Tool{Name: "anon", Execute: stubExec}); err == nil {
		t.Error("empty id should be rejected")
	}
	if err := r.Register(Tool{ID: "noexec"}); err == nil {
		t.Error("missing execute should be rejected")
	}
	bad := Tool{ID: "bad", Execute: stubExec, InputSchema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"x": map[string]any{"type": "not-a-type"}},
	}}
	if err := r.Register(bad); err == nil {
		t.Error("malformed schema should be rejected at registration")
	}
}
