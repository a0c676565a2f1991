package models

import "time"

// ExecutionStatus is the lifecycle state of an orchestration run.
type ExecutionStatus string

const (
	ExecutionStarted   ExecutionStatus = "started"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ExecutionRecord is the durable row tracking one orchestration run,
// independent of the conversation transcript itself. It is created before
// the loop starts, updated at round boundaries, and finalized regardless of
// how the loop terminates.
type ExecutionRecord struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Provider       string          `json:"provider"`
	Model          string          `json:"model"`
	ChatKind       ChatKind        `json:"chat_kind"`
	Status         ExecutionStatus `json:"status"`
	Rounds         int             `json:"rounds"`
	ToolCallCount  int             `json:"tool_call_count"`
	Error          string          `json:"error,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at,omitzero"`
}

// ToolExecutionRecord is the durable row for one tool invocation within a run.
type ToolExecutionRecord struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	ToolCallID  string          `json:"tool_call_id"`
	ToolName    string          `json:"tool_name"`
	Round       int             `json:"round"`
	Arguments   string          `json:"arguments,omitempty"`
	Result      string          `json:"result,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at,omitzero"`
}

// ConversationLog is the durable transcript of a conversation, upserted
// (never recreated) on each completed turn.
type ConversationLog struct {
	ID            string                `json:"id"`
	UserID        string                `json:"user_id"`
	ChatKind      ChatKind              `json:"chat_kind"`
	Messages      []Message             `json:"messages"`
	FinalResponse string                `json:"final_response"`
	ToolCalls     []ToolExecutionRecord `json:"tool_calls,omitempty"`
	Errors        []string              `json:"errors,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Agent is a user-configured assistant persona managed through agent chats.
type Agent struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Tools        []string  `json:"tools,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Workflow is a stored automation definition runnable from workflow chats.
type Workflow struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Definition  string    `json:"definition"` // serialized step graph, opaque to the engine
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Goal is a tracked objective updated from goal chats.
type Goal struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Notes     string    `json:"notes,omitempty"`
	Progress  int       `json:"progress"` // 0-100
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
