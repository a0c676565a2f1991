// Package chat implements the conversation orchestration engine: the
// provider abstraction, the tool catalog and executor, and the loop that
// drives a model through bounded rounds of tool use until it produces a
// final answer.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/praxisworks/praxis/pkg/models"
)

// Model describes one model a provider can serve.
type Model struct {
	// ID is the provider-native model identifier sent on the wire.
	ID string `json:"id"`
	// Name is the human-facing display name.
	Name string `json:"name"`
	// ContextWindow is the model's token limit; 0 means unknown.
	ContextWindow int `json:"context_window"`
	// SupportsTools reports whether the model accepts function declarations.
	SupportsTools bool `json:"supports_tools"`
	// SupportsVision reports whether the model accepts image input.
	SupportsVision bool `json:"supports_vision"`
}

// ToolSchema is the provider-neutral declaration of one callable tool.
// Parameters is a JSON Schema object.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// StreamRequest is a provider-neutral completion request. Adapters translate
// it to their wire format, including the normalization of content shapes the
// upstream APIs disagree on.
type StreamRequest struct {
	Model     string
	System    string
	Messages  []models.Message
	Tools     []ToolSchema
	MaxTokens int
}

// Usage is token accounting reported by the provider, when available.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StreamChunk is one unit of a streamed completion. Exactly one field group
// is populated per chunk; the channel closes after the final chunk.
type StreamChunk struct {
	// Text is an assistant content delta.
	Text string

	// ToolCall is a fully accumulated tool call. Adapters buffer partial
	// deltas internally and emit each call exactly once, complete.
	ToolCall *models.ToolCall

	// Usage is set on the final chunk when the provider reports it.
	Usage *Usage

	// Err terminates the stream; no further chunks follow it.
	Err error
}

// Provider is one LLM backend. Implementations live in the providers
// subpackage; each owns the translation between the neutral request shape
// and its upstream protocol.
type Provider interface {
	// Name returns the stable provider identifier ("anthropic", "openai", ...).
	Name() string

	// Models returns the models this provider serves.
	Models() []Model

	// Stream starts a completion and returns a channel of chunks. The
	// channel closes when the completion ends or ctx is canceled. An error
	// return means the request never started.
	Stream(ctx context.Context, req *StreamRequest) (<-chan *StreamChunk, error)
}

// ProviderRegistry holds the configured providers by name.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider.
func (r *ProviderRegistry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider by name.
func (r *ProviderRegistry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LookupModel finds the model descriptor for id within provider p.
func LookupModel(p Provider, id string) (Model, bool) {
	for _, m := range p.Models() {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// StreamOutcome is the uniform result of draining one completion stream.
type StreamOutcome struct {
	// Message is the accumulated assistant message, including any valid
	// tool calls.
	Message models.Message

	// Invalid holds tool calls filtered out as structurally unusable.
	Invalid []models.InvalidToolCall

	// ToolCallError is a non-fatal note when the provider signaled a
	// problem producing tool calls. The loop reports it and continues.
	ToolCallError string

	Usage Usage
}

// CollectStream drains a chunk channel into a StreamOutcome, invoking
// onDelta for each content delta as it arrives. A stream error or context
// cancellation aborts collection.
func CollectStream(ctx context.Context, ch <-chan *StreamChunk, onDelta func(string)) (*StreamOutcome, error) {
	out := &StreamOutcome{Message: models.Message{Role: models.RoleAssistant}}
	var content strings.Builder
	for {
		select {
		case <-ctx.Done():
			go drainChunks(ch)
			return nil, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				out.Message.Content = content.String()
				return out, nil
			}
			if chunk.Err != nil {
				go drainChunks(ch)
				return nil, chunk.Err
			}
			if chunk.Text != "" {
				content.WriteString(chunk.Text)
				if onDelta != nil {
					onDelta(chunk.Text)
				}
			}
			if chunk.ToolCall != nil {
				if inv := checkToolCall(chunk.ToolCall); inv != nil {
					out.Invalid = append(out.Invalid, *inv)
				} else {
					out.Message.ToolCalls = append(out.Message.ToolCalls, *chunk.ToolCall)
				}
			}
			if chunk.Usage != nil {
				out.Usage = *chunk.Usage
			}
		}
	}
}

// drainChunks consumes a stream abandoned mid-collection until the producer
// closes it. Adapters send a final error or usage chunk on an unbuffered
// channel; without a reader that send would block the producer goroutine
// forever and pin its response body.
func drainChunks(ch <-chan *StreamChunk) {
	for range ch {
	}
}

// checkToolCall returns a filter reason when tc is structurally unusable.
// Arguments that fail the tool's schema are not filtered here; that is the
// executor's job and produces an error result the model can react to.
func checkToolCall(tc *models.ToolCall) *models.InvalidToolCall {
	if strings.TrimSpace(tc.Name) == "" {
		return &models.InvalidToolCall{
			ID:     tc.ID,
			Raw:    string(tc.Arguments),
			Reason: "missing tool name",
		}
	}
	args := strings.TrimSpace(string(tc.Arguments))
	if args == "" {
		// Zero-argument calls are legal; normalize to an empty object.
		tc.Arguments = json.RawMessage("{}")
		return nil
	}
	if !json.Valid(tc.Arguments) {
		return &models.InvalidToolCall{
			ID:     tc.ID,
			Name:   tc.Name,
			Raw:    args,
			Reason: "arguments are not valid JSON",
		}
	}
	return nil
}
