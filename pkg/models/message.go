package models

import (
	"encoding/json"
	"strings"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatKind identifies which tool set and domain handlers a conversation uses.
type ChatKind string

const (
	// ChatGeneral is an ordinary assistant conversation.
	ChatGeneral ChatKind = "general"

	// ChatAgent is a conversation with (or about managing) a configured agent.
	ChatAgent ChatKind = "agent"

	// ChatWorkflow is a conversation that can inspect and run workflows.
	ChatWorkflow ChatKind = "workflow"

	// ChatGoal is a conversation tracking progress against a goal.
	ChatGoal ChatKind = "goal"
)

// Message is one entry of a conversation transcript. Ordering is significant:
// the message list is the model's memory.
//
// A tool-role message carries the result of exactly one tool call and is
// correlated to the assistant's request solely by ToolCallID.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name is the tool name on tool-role messages.
	Name string `json:"name,omitempty"`
}

// ToolCall is a model-issued request to invoke a named function.
// Arguments is the raw JSON text exactly as the model produced it; it may be
// malformed and must be validated before use.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// InvalidToolCall is a tool call the adapter filtered out because it was
// structurally unusable (missing name, unparseable arguments). These are
// surfaced to the caller as a recoverable event, never silently dropped.
type InvalidToolCall struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Raw    string `json:"raw,omitempty"`
	Reason string `json:"reason"`
}

// IsToolRole reports whether m is a tool result message.
func (m *Message) IsToolRole() bool { return m.Role == RoleTool }

// HasToolCalls reports whether m is an assistant message requesting tools.
func (m *Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// Chars returns the approximate character weight of the message as counted
// against the context budget.
func (m *Message) Chars() int {
	n := len(m.Content) + len(m.Name)
	for _, tc := range m.ToolCalls {
		n += len(tc.Name) + len(tc.Arguments)
	}
	return n
}

// NormalizeRole maps free-form role strings onto the known roles,
// defaulting to user.
func NormalizeRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSystem:
		return RoleSystem
	case RoleAssistant:
		return RoleAssistant
	case RoleTool:
		return RoleTool
	default:
		return RoleUser
	}
}
