package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/praxisworks/praxis/internal/chat"
	"github.com/praxisworks/praxis/pkg/models"
)

// OllamaConfig configures the Ollama adapter.
type OllamaConfig struct {
	// BaseURL of the Ollama server. Default http://localhost:11434.
	BaseURL string

	// Models lists the locally pulled models to serve. Ollama has no
	// capability metadata, so each entry declares its own.
	Models []chat.Model

	// Timeout is the whole-request deadline. Default 2m.
	Timeout time.Duration
}

// Ollama implements chat.Provider against a local Ollama server. The chat
// endpoint speaks newline-delimited JSON; tool declarations reuse the
// OpenAI function format Ollama accepts.
type Ollama struct {
	client  *http.Client
	baseURL string
	models  []chat.Model
}

var _ chat.Provider = (*Ollama)(nil)

// NewOllama creates the Ollama adapter.
func NewOllama(cfg OllamaConfig) *Ollama {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Ollama{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		models:  cfg.Models,
	}
}

// Name returns "ollama".
func (p *Ollama) Name() string { return "ollama" }

// Models returns the configured local models.
func (p *Ollama) Models() []chat.Model { return p.models }

// Stream sends a streaming chat request.
func (p *Ollama) Stream(ctx context.Context, req *chat.StreamRequest) (<-chan *chat.StreamChunk, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, NewError("ollama", req.Model, errors.New("model is required"))
	}

	payload := ollamaChatRequest{
		Model:    req.Model,
		Stream:   true,
		Messages: buildOllamaMessages(req),
	}
	if len(req.Tools) > 0 {
		payload.Tools = ollamaTools(req.Tools)
	}
	if req.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewError("ollama", req.Model, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewError("ollama", req.Model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewError("ollama", req.Model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		if readErr != nil {
			return nil, NewError("ollama", req.Model,
				fmt.Errorf("ollama status %d (read body failed: %w)", resp.StatusCode, readErr)).WithStatus(resp.StatusCode)
		}
		return nil, NewError("ollama", req.Model,
			fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
	}

	chunks := make(chan *chat.StreamChunk)
	go p.streamResponse(ctx, resp.Body, chunks, req.Model)
	return chunks, nil
}

func (p *Ollama) streamResponse(ctx context.Context, body io.ReadCloser, out chan<- *chat.StreamChunk, model string) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	emitted := map[string]struct{}{}
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			out <- &chat.StreamChunk{Err: ctx.Err()}
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			out <- &chat.StreamChunk{Err: NewError("ollama", model, fmt.Errorf("decode response: %w", err))}
			return
		}
		if resp.Error != "" {
			out <- &chat.StreamChunk{Err: NewError("ollama", model, errors.New(resp.Error))}
			return
		}
		if resp.Message != nil {
			if resp.Message.Content != "" {
				out <- &chat.StreamChunk{Text: resp.Message.Content}
			}
			for _, tc := range resp.Message.ToolCalls {
				callID := strings.TrimSpace(tc.ID)
				if callID == "" {
					callID = toolCallKey(tc)
					if callID == "" {
						callID = uuid.NewString()
					}
				}
				// Ollama repeats tool calls across lines; emit each once.
				if _, ok := emitted[callID]; ok {
					continue
				}
				emitted[callID] = struct{}{}
				call := &models.ToolCall{
					ID:        callID,
					Name:      strings.TrimSpace(tc.Function.Name),
					Arguments: tc.Function.Arguments,
				}
				if len(call.Arguments) == 0 {
					call.Arguments = json.RawMessage(`{}`)
				}
				out <- &chat.StreamChunk{ToolCall: call}
			}
		}
		if resp.Done {
			out <- &chat.StreamChunk{Usage: &chat.Usage{
				InputTokens:  resp.PromptEvalCount,
				OutputTokens: resp.EvalCount,
			}}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		out <- &chat.StreamChunk{Err: NewError("ollama", model, err)}
	}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []openai.Tool       `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaChatResponse struct {
	Message         *ollamaChatMessage `json:"message"`
	Done            bool               `json:"done"`
	Error           string             `json:"error"`
	EvalCount       int                `json:"eval_count"`
	PromptEvalCount int                `json:"prompt_eval_count"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func buildOllamaMessages(req *chat.StreamRequest) []ollamaChatMessage {
	messages := make([]ollamaChatMessage, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: system})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case models.RoleSystem:
			continue

		case models.RoleAssistant:
			m := ollamaChatMessage{Role: "assistant", Content: msg.Content}
			if len(msg.ToolCalls) > 0 {
				m.ToolCalls = make([]ollamaToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					args := tc.Arguments
					if len(args) == 0 {
						args = json.RawMessage(`{}`)
					}
					m.ToolCalls[i] = ollamaToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: ollamaToolFunction{
							Name:      tc.Name,
							Arguments: args,
						},
					}
				}
			}
			messages = append(messages, m)

		case models.RoleTool:
			messages = append(messages, ollamaChatMessage{
				Role:     "tool",
				Content:  msg.Content,
				ToolName: msg.Name,
			})

		default:
			messages = append(messages, ollamaChatMessage{Role: "user", Content: msg.Content})
		}
	}
	return messages
}

func ollamaTools(tools []chat.ToolSchema) []openai.Tool {
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

func toolCallKey(tc ollamaToolCall) string {
	if strings.TrimSpace(tc.ID) != "" {
		return strings.TrimSpace(tc.ID)
	}
	name := strings.TrimSpace(tc.Function.Name)
	args := strings.TrimSpace(string(tc.Function.Arguments))
	if name == "" && args == "" {
		return ""
	}
	return name + ":" + args
}
