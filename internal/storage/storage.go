// Package storage persists orchestration telemetry, conversation
// transcripts, and the user-configured entities (agents, workflows, goals).
// Two implementations exist: SQLite for durable single-node deployments and
// an in-memory store for tests and ephemeral runs.
package storage

import (
	"context"
	"errors"

	"github.com/praxisworks/praxis/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the full persistence surface. The orchestrator only needs the
// telemetry subset; the chat-kind tools use the entity methods.
type Store interface {
	// Execution telemetry. SaveExecution is an upsert keyed by record id;
	// the orchestrator calls it at every status transition.
	SaveExecution(ctx context.Context, rec *models.ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error)
	ListExecutions(ctx context.Context, conversationID string, limit int) ([]*models.ExecutionRecord, error)
	SaveToolExecution(ctx context.Context, rec *models.ToolExecutionRecord) error
	ListToolExecutions(ctx context.Context, executionID string) ([]*models.ToolExecutionRecord, error)

	// Conversation transcripts, upserted whole per completed turn.
	UpsertConversation(ctx context.Context, log *models.ConversationLog) error
	GetConversation(ctx context.Context, id string) (*models.ConversationLog, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]*models.ConversationLog, error)

	// Agents.
	SaveAgent(ctx context.Context, a *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ListAgents(ctx context.Context, userID string) ([]*models.Agent, error)
	DeleteAgent(ctx context.Context, id string) error

	// Workflows.
	SaveWorkflow(ctx context.Context, w *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, userID string) ([]*models.Workflow, error)

	// Goals.
	SaveGoal(ctx context.Context, g *models.Goal) error
	GetGoal(ctx context.Context, id string) (*models.Goal, error)
	ListGoals(ctx context.Context, userID string) ([]*models.Goal, error)

	// Close releases underlying resources.
	Close() error
}
