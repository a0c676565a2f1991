package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/praxisworks/praxis/internal/chat"
	"github.com/praxisworks/praxis/pkg/models"
)

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	// APIKey is required. Format: sk-...
	APIKey string

	// BaseURL overrides the default API endpoint, for OpenAI-compatible
	// servers.
	BaseURL string

	// MaxRetries caps retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the base backoff delay. Default 1s.
	RetryDelay time.Duration
}

// OpenAI implements chat.Provider for the OpenAI Chat Completions API.
type OpenAI struct {
	base
	client *openai.Client
}

var _ chat.Provider = (*OpenAI)(nil)

// NewOpenAI creates the OpenAI adapter.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		base:   newBase("openai", cfg.MaxRetries, cfg.RetryDelay),
		client: openai.NewClientWithConfig(clientCfg),
	}, nil
}

// Name returns "openai".
func (p *OpenAI) Name() string { return "openai" }

// Models returns the served GPT models.
func (p *OpenAI) Models() []chat.Model {
	return []chat.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextWindow: 128000, SupportsTools: true, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextWindow: 128000, SupportsTools: true, SupportsVision: true},
		{ID: "gpt-4.1", Name: "GPT-4.1", ContextWindow: 1000000, SupportsTools: true, SupportsVision: true},
		{ID: "o1", Name: "o1", ContextWindow: 200000, SupportsTools: false, SupportsVision: true},
	}
}

// Stream starts a streaming chat completion.
func (p *OpenAI) Stream(ctx context.Context, req *chat.StreamRequest) (<-chan *chat.StreamChunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: p.convertMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err := p.retry(ctx, func() error {
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return NewError(p.name, req.Model, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *chat.StreamChunk)
	go p.processStream(ctx, stream, chunks, req.Model)
	return chunks, nil
}

// processStream drains the completion stream. OpenAI delivers tool calls as
// fragments keyed by index (id and name first, then argument pieces); they
// are accumulated here and emitted complete when the stream finishes them.
func (p *OpenAI) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *chat.StreamChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	pending := make(map[int]*models.ToolCall)
	order := []int{}
	usage := &chat.Usage{}

	flush := func() {
		for _, idx := range order {
			tc := pending[idx]
			if tc != nil && tc.ID != "" && tc.Name != "" {
				if len(tc.Arguments) == 0 {
					tc.Arguments = json.RawMessage("{}")
				}
				chunks <- &chat.StreamChunk{ToolCall: tc}
			}
		}
		pending = make(map[int]*models.ToolCall)
		order = order[:0]
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &chat.StreamChunk{Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- &chat.StreamChunk{Usage: usage}
				return
			}
			chunks <- &chat.StreamChunk{Err: NewError(p.name, model, err)}
			return
		}

		if resp.Usage != nil {
			usage.InputTokens = resp.Usage.PromptTokens
			usage.OutputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &chat.StreamChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &models.ToolCall{}
				order = append(order, index)
			}
			call := pending[index]
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.Arguments = append(call.Arguments, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

// convertMessages maps the transcript onto OpenAI's format. The system
// prompt becomes the leading message; tool results are already one message
// per call, which is exactly OpenAI's shape.
func (p *OpenAI) convertMessages(msgs []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleSystem:
			// Already carried via the system parameter.
			continue

		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})

		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				m.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					m.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Arguments),
						},
					}
				}
			}
			result = append(result, m)

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return result
}

func (p *OpenAI) convertTools(tools []chat.ToolSchema) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return result
}
