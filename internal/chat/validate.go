package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// argValidator compiles tool argument schemas once and validates calls
// against them. Every schema violation is collected, not just the first, so
// the model gets one result naming everything to fix.
type argValidator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newArgValidator() *argValidator {
	return &argValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// Validate checks args against the tool's schema. The returned error lists
// all violations. A nil or empty schema accepts anything.
func (v *argValidator) Validate(toolName string, schema, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := v.compile(toolName, schema)
	if err != nil {
		// A broken schema is the tool author's bug, not the model's; accept
		// the arguments and let the tool fail on its own terms.
		return nil
	}

	var instance any
	if err := json.Unmarshal(args, &instance); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := compiled.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("argument validation failed: %s", strings.Join(flattenCauses(ve), "; "))
		}
		return fmt.Errorf("argument validation failed: %w", err)
	}
	return nil
}

func (v *argValidator) compile(toolName string, schema json.RawMessage) (*jsonschema.Schema, error) {
	key := toolName + "\x00" + string(schema)
	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.compiled[key]; ok {
		return c, nil
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	url := "tool://" + toolName + "/schema.json"
	if err := compiler.AddResource(url, strings.NewReader(string(schema))); err != nil {
		return nil, err
	}
	c, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	v.compiled[key] = c
	return c, nil
}

// flattenCauses collects the leaf violations of a validation error tree.
func flattenCauses(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, flattenCauses(c)...)
	}
	return out
}
