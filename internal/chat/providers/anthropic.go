// Package providers implements the LLM backends behind the chat.Provider
// interface: Anthropic, OpenAI, Google Gemini, and Ollama. Each adapter owns
// the translation between the engine's neutral request shape and its
// upstream wire protocol, including streaming, retries, and the content
// shape normalization the upstream APIs disagree on.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/praxisworks/praxis/internal/chat"
	"github.com/praxisworks/praxis/pkg/models"
)

// defaultMaxTokens caps the reply when the request doesn't specify one.
const defaultMaxTokens = 4096

// maxEmptyStreamEvents bounds consecutive no-op events before a stream is
// treated as malformed, protecting against event floods.
const maxEmptyStreamEvents = 300

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	// APIKey is required. Format: sk-ant-...
	APIKey string

	// BaseURL overrides the default API endpoint.
	BaseURL string

	// MaxRetries caps retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the base backoff delay. Default 1s.
	RetryDelay time.Duration
}

// Anthropic implements chat.Provider for the Anthropic Messages API.
// Safe for concurrent use; each Stream call owns an independent goroutine.
type Anthropic struct {
	base
	client anthropic.Client
}

var _ chat.Provider = (*Anthropic)(nil)

// NewAnthropic creates the Anthropic adapter.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		base:   newBase("anthropic", cfg.MaxRetries, cfg.RetryDelay),
		client: anthropic.NewClient(options...),
	}, nil
}

// Name returns "anthropic".
func (p *Anthropic) Name() string { return "anthropic" }

// Models returns the served Claude models.
func (p *Anthropic) Models() []chat.Model {
	return []chat.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextWindow: 200000, SupportsTools: true, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextWindow: 200000, SupportsTools: true, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextWindow: 200000, SupportsTools: true, SupportsVision: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextWindow: 200000, SupportsTools: true, SupportsVision: true},
	}
}

// Stream starts a completion against the Messages API.
func (p *Anthropic) Stream(ctx context.Context, req *chat.StreamRequest) (<-chan *chat.StreamChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, NewError(p.name, req.Model, err)
	}

	chunks := make(chan *chat.StreamChunk)
	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		err := p.retry(ctx, func() error {
			stream = p.client.Messages.NewStreaming(ctx, params)
			if err := stream.Err(); err != nil {
				return NewError(p.name, req.Model, err)
			}
			return nil
		})
		if err != nil {
			chunks <- &chat.StreamChunk{Err: err}
			return
		}
		p.processStream(stream, chunks, req.Model)
	}()
	return chunks, nil
}

func (p *Anthropic) buildParams(req *chat.StreamRequest) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// processStream converts Messages API SSE events into neutral chunks. Tool
// input arrives as partial JSON deltas and is accumulated until the block
// stops; each call is emitted exactly once, complete.
func (p *Anthropic) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *chat.StreamChunk, model string) {
	var currentCall *models.ToolCall
	var currentInput strings.Builder
	inThinking := false
	emptyEvents := 0

	usage := &chat.Usage{}
	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				usage.InputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				inThinking = true
				processed = true
			case "tool_use":
				use := block.AsToolUse()
				currentCall = &models.ToolCall{ID: use.ID, Name: use.Name}
				currentInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &chat.StreamChunk{Text: delta.Text}
					processed = true
				}
			case "thinking_delta":
				processed = delta.Thinking != ""
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if inThinking {
				inThinking = false
				processed = true
			} else if currentCall != nil {
				input := currentInput.String()
				if strings.TrimSpace(input) == "" {
					input = "{}"
				}
				currentCall.Arguments = json.RawMessage(input)
				chunks <- &chat.StreamChunk{ToolCall: currentCall}
				currentCall = nil
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(delta.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			chunks <- &chat.StreamChunk{Usage: usage}
			return

		case "error":
			chunks <- &chat.StreamChunk{Err: NewError(p.name, model, errors.New("anthropic stream error"))}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- &chat.StreamChunk{Err: NewError(p.name, model,
					fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEvents))}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &chat.StreamChunk{Err: NewError(p.name, model, err)}
	}
}

// convertMessages maps the transcript onto Anthropic content blocks. The API
// has no tool role: tool results become tool_result blocks inside user
// messages, and consecutive tool results collapse into one user message so
// they directly follow the assistant turn that requested them.
func (p *Anthropic) convertMessages(msgs []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	i := 0
	for i < len(msgs) {
		msg := msgs[i]
		switch msg.Role {
		case models.RoleSystem:
			i++

		case models.RoleTool:
			var content []anthropic.ContentBlockParamUnion
			for i < len(msgs) && msgs[i].Role == models.RoleTool {
				content = append(content, anthropic.NewToolResultBlock(
					msgs[i].ToolCallID, msgs[i].Content, toolResultIsError(msgs[i].Content)))
				i++
			}
			result = append(result, anthropic.NewUserMessage(content...))

		case models.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				result = append(result, anthropic.NewAssistantMessage(content...))
			}
			i++

		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			i++
		}
	}
	return result, nil
}

func (p *Anthropic) convertTools(tools []chat.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}

// toolResultIsError sniffs the executor's failure envelope so the API sees
// failed calls flagged as errors.
func toolResultIsError(content string) bool {
	var probe struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(content), &probe); err != nil {
		return false
	}
	return probe.Success != nil && !*probe.Success
}
