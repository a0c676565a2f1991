package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	"google.golang.org/genai"

	"github.com/praxisworks/praxis/internal/chat"
	"github.com/praxisworks/praxis/pkg/models"
)

// GoogleConfig configures the Gemini adapter.
type GoogleConfig struct {
	// APIKey is required.
	APIKey string

	// MaxRetries caps retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the base backoff delay. Default 1s.
	RetryDelay time.Duration
}

// Google implements chat.Provider for the Gemini API.
type Google struct {
	base
	client *genai.Client
}

var _ chat.Provider = (*Google)(nil)

// NewGoogle creates the Gemini adapter.
func NewGoogle(cfg GoogleConfig) (*Google, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: creating client: %w", err)
	}
	return &Google{
		base:   newBase("google", cfg.MaxRetries, cfg.RetryDelay),
		client: client,
	}, nil
}

// Name returns "google".
func (p *Google) Name() string { return "google" }

// Models returns the served Gemini models.
func (p *Google) Models() []chat.Model {
	return []chat.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextWindow: 1000000, SupportsTools: true, SupportsVision: true},
		{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", ContextWindow: 1000000, SupportsTools: true, SupportsVision: true},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextWindow: 2000000, SupportsTools: true, SupportsVision: true},
	}
}

// Stream starts a streaming generation.
func (p *Google) Stream(ctx context.Context, req *chat.StreamRequest) (<-chan *chat.StreamChunk, error) {
	contents, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, NewError(p.name, req.Model, err)
	}
	config := p.buildConfig(req)

	chunks := make(chan *chat.StreamChunk)
	go func() {
		defer close(chunks)
		for attempt := 1; ; attempt++ {
			stream := p.client.Models.GenerateContentStream(ctx, req.Model, contents, config)
			emitted, err := p.drainStream(ctx, stream, chunks)
			if err == nil {
				return
			}
			// Only stream establishment is retried. Once a chunk has been
			// forwarded, replaying the generation would duplicate deltas
			// the client already saw.
			if !emitted && IsRetryable(err) && attempt < p.maxRetries && ctx.Err() == nil {
				select {
				case <-ctx.Done():
				case <-time.After(p.retryDelay * time.Duration(attempt)):
					continue
				}
			}
			if ctx.Err() != nil {
				chunks <- &chat.StreamChunk{Err: ctx.Err()}
				return
			}
			chunks <- &chat.StreamChunk{Err: NewError(p.name, req.Model, err)}
			return
		}
	}()
	return chunks, nil
}

// drainStream consumes the Gemini iterator. Gemini delivers function calls
// whole, not as deltas, but without call ids; ids are synthesized so the
// rest of the engine can correlate results. The returned bool reports
// whether any chunk was forwarded, which gates retry upstream.
func (p *Google) drainStream(ctx context.Context, stream iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- *chat.StreamChunk) (bool, error) {
	callSeq := 0
	emitted := false
	usage := &chat.Usage{}
	for resp, err := range stream {
		select {
		case <-ctx.Done():
			return emitted, ctx.Err()
		default:
		}
		if err != nil {
			return emitted, err
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					chunks <- &chat.StreamChunk{Text: part.Text}
					emitted = true
				}
				if part.FunctionCall != nil {
					args, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						args = []byte("{}")
					}
					callSeq++
					chunks <- &chat.StreamChunk{ToolCall: &models.ToolCall{
						ID:        fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, callSeq),
						Name:      part.FunctionCall.Name,
						Arguments: args,
					}}
					emitted = true
				}
			}
		}
	}
	chunks <- &chat.StreamChunk{Usage: usage}
	return true, nil
}

// convertMessages maps the transcript onto Gemini content. Assistant turns
// use the model role; tool results become function response parts on the
// user side, keyed by function name since Gemini has no call ids.
func (p *Google) convertMessages(msgs []models.Message) ([]*genai.Content, error) {
	var result []*genai.Content
	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			// Carried via SystemInstruction in the generation config.
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		switch msg.Role {
		case models.RoleTool:
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     msg.Name,
					Response: response,
				},
			})

		default:
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: tc.Name,
						Args: args,
					},
				})
			}
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, nil
}

func (p *Google) buildConfig(req *chat.StreamRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = p.convertTools(req.Tools)
	}
	return config
}

// convertTools maps JSON Schema declarations onto Gemini function
// declarations. Gemini takes a typed schema, so the JSON Schema is decoded
// into the subset Gemini understands.
func (p *Google) convertTools(tools []chat.ToolSchema) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		if schema := convertSchema(t.Parameters); schema != nil {
			decl.Parameters = schema
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// jsonSchema is the JSON Schema subset carried by tool declarations.
type jsonSchema struct {
	Type        string                `json:"type"`
	Description string                `json:"description"`
	Properties  map[string]jsonSchema `json:"properties"`
	Items       *jsonSchema           `json:"items"`
	Required    []string              `json:"required"`
	Enum        []string              `json:"enum"`
}

func convertSchema(raw json.RawMessage) *genai.Schema {
	if len(raw) == 0 {
		return nil
	}
	var s jsonSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return schemaToGenai(&s)
}

func schemaToGenai(s *jsonSchema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
	}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
		if len(s.Properties) > 0 {
			out.Properties = make(map[string]*genai.Schema, len(s.Properties))
			for name, prop := range s.Properties {
				out.Properties[name] = schemaToGenai(&prop)
			}
		}
	case "array":
		out.Type = genai.TypeArray
		out.Items = schemaToGenai(s.Items)
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	default:
		out.Type = genai.TypeObject
	}
	return out
}
