package chat

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Tool is one callable capability exposed to the model. Execute returns the
// tool's result as JSON text; a non-nil error is converted by the executor
// into a structured failure result, so implementations never need to encode
// their own error envelopes.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage, rc *RunContext) (string, error)
}

// Catalog resolves tool names to implementations. The orchestrator receives
// its catalog at construction; nothing reaches into a global registry.
type Catalog interface {
	Resolve(name string) (Tool, bool)
	Tools() []Tool
}

// Registry is a mutable Catalog, safe for concurrent use. The plugin manager
// registers and unregisters tools here as manifests change on disk.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Resolve implements Catalog.
func (r *Registry) Resolve(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools implements Catalog, returning tools sorted by name for stable
// prompt and schema ordering.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// MultiCatalog layers catalogs; Resolve returns the first match. Used to
// combine native tools, chat-kind tool sets, and plugin tools into the one
// catalog a run sees.
type MultiCatalog []Catalog

// Resolve implements Catalog.
func (m MultiCatalog) Resolve(name string) (Tool, bool) {
	for _, c := range m {
		if t, ok := c.Resolve(name); ok {
			return t, ok
		}
	}
	return nil, false
}

// Tools implements Catalog. Earlier catalogs shadow later ones.
func (m MultiCatalog) Tools() []Tool {
	seen := make(map[string]bool)
	var out []Tool
	for _, c := range m {
		for _, t := range c.Tools() {
			if seen[t.Name()] {
				continue
			}
			seen[t.Name()] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Schemas converts a catalog into the declarations sent to a provider.
func Schemas(c Catalog) []ToolSchema {
	tools := c.Tools()
	out := make([]ToolSchema, 0, len(tools))
	for _, t := range tools {
		s := t.Schema()
		if len(s) == 0 {
			s = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  s,
		})
	}
	return out
}

// ToolFunc adapts a plain function into a Tool. Used by the native tools
// and tests.
type ToolFunc struct {
	ToolName        string
	ToolDescription string
	ToolSchema      json.RawMessage
	Fn              func(ctx context.Context, args json.RawMessage, rc *RunContext) (string, error)
}

func (t *ToolFunc) Name() string            { return t.ToolName }
func (t *ToolFunc) Description() string     { return t.ToolDescription }
func (t *ToolFunc) Schema() json.RawMessage { return t.ToolSchema }

func (t *ToolFunc) Execute(ctx context.Context, args json.RawMessage, rc *RunContext) (string, error) {
	return t.Fn(ctx, args, rc)
}
