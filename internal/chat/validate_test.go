package chat

import (
	"encoding/json"
	"strings"
	"testing"
)

const sampleSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"count": {"type": "integer", "minimum": 1}
	},
	"required": ["name", "count"]
}`

func TestValidateAccepts(t *testing.T) {
	v := newArgValidator()
	err := v.Validate("sample", json.RawMessage(sampleSchema), json.RawMessage(`{"name":"a","count":2}`))
	if err != nil {
		t.Fatal(err)
	}
}

func TestValidateCollectsAllViolations(t *testing.T) {
	v := newArgValidator()
	err := v.Validate("sample", json.RawMessage(sampleSchema), json.RawMessage(`{"count":0}`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "name") {
		t.Errorf("missing-required violation absent: %s", msg)
	}
	if !strings.Contains(msg, "count") {
		t.Errorf("minimum violation absent: %s", msg)
	}
}

func TestValidateEmptySchemaAcceptsAnything(t *testing.T) {
	v := newArgValidator()
	if err := v.Validate("open", nil, json.RawMessage(`{"whatever":true}`)); err != nil {
		t.Fatal(err)
	}
}

func TestValidateBrokenSchemaAccepts(t *testing.T) {
	v := newArgValidator()
	broken := json.RawMessage(`{"type": "not-a-real-type"}`)
	if err := v.Validate("buggy", broken, json.RawMessage(`{"x":1}`)); err != nil {
		t.Fatalf("broken schema should accept, got %v", err)
	}
}

func TestValidateCachesCompiledSchemas(t *testing.T) {
	v := newArgValidator()
	schema := json.RawMessage(sampleSchema)
	for i := 0; i < 3; i++ {
		if err := v.Validate("sample", schema, json.RawMessage(`{"name":"a","count":1}`)); err != nil {
			t.Fatal(err)
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.compiled) != 1 {
		t.Errorf("compiled cache size = %d, want 1", len(v.compiled))
	}
}
