package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/praxisworks/praxis/pkg/models"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens (and migrates) the database at path. ":memory:" is
// accepted for throwaway instances.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The driver serializes access per connection; a single connection
	// avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			user_id TEXT,
			provider TEXT,
			model TEXT,
			chat_kind TEXT,
			status TEXT NOT NULL,
			rounds INTEGER NOT NULL DEFAULT 0,
			tool_call_count INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_conversation ON executions(conversation_id)`,
		`CREATE TABLE IF NOT EXISTS tool_executions (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			tool_call_id TEXT,
			tool_name TEXT NOT NULL,
			round INTEGER NOT NULL,
			arguments TEXT,
			result TEXT,
			status TEXT NOT NULL,
			error TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_executions_execution ON tool_executions(execution_id)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			chat_kind TEXT,
			messages TEXT NOT NULL,
			final_response TEXT,
			tool_calls TEXT,
			errors TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			name TEXT NOT NULL,
			description TEXT,
			system_prompt TEXT,
			provider TEXT,
			model TEXT,
			tools TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			name TEXT NOT NULL,
			description TEXT,
			definition TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS goals (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			title TEXT NOT NULL,
			notes TEXT,
			progress INTEGER NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SaveExecution upserts an execution record.
func (s *SQLiteStore) SaveExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, conversation_id, user_id, provider, model, chat_kind, status, rounds, tool_call_count, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			rounds = excluded.rounds,
			tool_call_count = excluded.tool_call_count,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		rec.ID, rec.ConversationID, rec.UserID, rec.Provider, rec.Model,
		string(rec.ChatKind), string(rec.Status), rec.Rounds, rec.ToolCallCount,
		rec.Error, rec.StartedAt, nullTime(rec.FinishedAt))
	return err
}

// GetExecution returns one execution record.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, user_id, provider, model, chat_kind, status, rounds, tool_call_count, error, started_at, finished_at
		FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

// ListExecutions returns the most recent executions for a conversation.
func (s *SQLiteStore) ListExecutions(ctx context.Context, conversationID string, limit int) ([]*models.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, provider, model, chat_kind, status, rounds, tool_call_count, error, started_at, finished_at
		FROM executions WHERE conversation_id = ? ORDER BY started_at DESC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*models.ExecutionRecord, error) {
	var rec models.ExecutionRecord
	var kind, status string
	var errText sql.NullString
	var finished sql.NullTime
	err := row.Scan(&rec.ID, &rec.ConversationID, &rec.UserID, &rec.Provider,
		&rec.Model, &kind, &status, &rec.Rounds, &rec.ToolCallCount,
		&errText, &rec.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.ChatKind = models.ChatKind(kind)
	rec.Status = models.ExecutionStatus(status)
	rec.Error = errText.String
	if finished.Valid {
		rec.FinishedAt = finished.Time
	}
	return &rec, nil
}

// SaveToolExecution upserts a tool execution record.
func (s *SQLiteStore) SaveToolExecution(ctx context.Context, rec *models.ToolExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_executions (id, execution_id, tool_call_id, tool_name, round, arguments, result, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			result = excluded.result,
			status = excluded.status,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		rec.ID, rec.ExecutionID, rec.ToolCallID, rec.ToolName, rec.Round,
		rec.Arguments, rec.Result, string(rec.Status), rec.Error,
		rec.StartedAt, nullTime(rec.FinishedAt))
	return err
}

// ListToolExecutions returns a run's tool calls in execution order.
func (s *SQLiteStore) ListToolExecutions(ctx context.Context, executionID string) ([]*models.ToolExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, tool_call_id, tool_name, round, arguments, result, status, error, started_at, finished_at
		FROM tool_executions WHERE execution_id = ? ORDER BY round, started_at`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ToolExecutionRecord
	for rows.Next() {
		var rec models.ToolExecutionRecord
		var status string
		var args, result, errText sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.ExecutionID, &rec.ToolCallID,
			&rec.ToolName, &rec.Round, &args, &result, &status, &errText,
			&rec.StartedAt, &finished); err != nil {
			return nil, err
		}
		rec.Arguments = args.String
		rec.Result = result.String
		rec.Status = models.ExecutionStatus(status)
		rec.Error = errText.String
		if finished.Valid {
			rec.FinishedAt = finished.Time
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// UpsertConversation writes a conversation transcript, preserving the
// original created_at on update.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, log *models.ConversationLog) error {
	messages, err := json.Marshal(log.Messages)
	if err != nil {
		return fmt.Errorf("encoding messages: %w", err)
	}
	toolCalls, err := json.Marshal(log.ToolCalls)
	if err != nil {
		return fmt.Errorf("encoding tool calls: %w", err)
	}
	errs, err := json.Marshal(log.Errors)
	if err != nil {
		return fmt.Errorf("encoding errors: %w", err)
	}
	now := time.Now()
	if log.UpdatedAt.IsZero() {
		log.UpdatedAt = now
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, chat_kind, messages, final_response, tool_calls, errors, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			messages = excluded.messages,
			final_response = excluded.final_response,
			tool_calls = excluded.tool_calls,
			errors = excluded.errors,
			updated_at = excluded.updated_at`,
		log.ID, log.UserID, string(log.ChatKind), string(messages),
		log.FinalResponse, string(toolCalls), string(errs), now, log.UpdatedAt)
	return err
}

// GetConversation returns one conversation transcript.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.ConversationLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, chat_kind, messages, final_response, tool_calls, errors, created_at, updated_at
		FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// ListConversations returns a user's most recently updated conversations.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, limit int) ([]*models.ConversationLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, chat_kind, messages, final_response, tool_calls, errors, created_at, updated_at
		FROM conversations WHERE user_id = ? ORDER BY updated_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ConversationLog
	for rows.Next() {
		log, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, log)
	}
	return out, rows.Err()
}

func scanConversation(row rowScanner) (*models.ConversationLog, error) {
	var log models.ConversationLog
	var kind string
	var messages, toolCalls, errs sql.NullString
	var final sql.NullString
	err := row.Scan(&log.ID, &log.UserID, &kind, &messages, &final,
		&toolCalls, &errs, &log.CreatedAt, &log.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	log.ChatKind = models.ChatKind(kind)
	log.FinalResponse = final.String
	if messages.Valid && messages.String != "" {
		if err := json.Unmarshal([]byte(messages.String), &log.Messages); err != nil {
			return nil, fmt.Errorf("decoding messages: %w", err)
		}
	}
	if toolCalls.Valid && toolCalls.String != "" {
		if err := json.Unmarshal([]byte(toolCalls.String), &log.ToolCalls); err != nil {
			return nil, fmt.Errorf("decoding tool calls: %w", err)
		}
	}
	if errs.Valid && errs.String != "" {
		if err := json.Unmarshal([]byte(errs.String), &log.Errors); err != nil {
			return nil, fmt.Errorf("decoding errors: %w", err)
		}
	}
	return &log, nil
}

// SaveAgent upserts an agent definition.
func (s *SQLiteStore) SaveAgent(ctx context.Context, a *models.Agent) error {
	tools, err := json.Marshal(a.Tools)
	if err != nil {
		return fmt.Errorf("encoding tools: %w", err)
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, user_id, name, description, system_prompt, provider, model, tools, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			system_prompt = excluded.system_prompt,
			provider = excluded.provider,
			model = excluded.model,
			tools = excluded.tools,
			updated_at = excluded.updated_at`,
		a.ID, a.UserID, a.Name, a.Description, a.SystemPrompt, a.Provider,
		a.Model, string(tools), a.CreatedAt, a.UpdatedAt)
	return err
}

// GetAgent returns one agent.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, system_prompt, provider, model, tools, created_at, updated_at
		FROM agents WHERE id = ?`, id)
	var a models.Agent
	var tools sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Description, &a.SystemPrompt,
		&a.Provider, &a.Model, &tools, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if tools.Valid && tools.String != "" {
		if err := json.Unmarshal([]byte(tools.String), &a.Tools); err != nil {
			return nil, fmt.Errorf("decoding tools: %w", err)
		}
	}
	return &a, nil
}

// ListAgents returns a user's agents by name.
func (s *SQLiteStore) ListAgents(ctx context.Context, userID string) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM agents WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*models.Agent, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAgent(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// DeleteAgent removes an agent.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveWorkflow upserts a workflow definition.
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, w *models.Workflow) error {
	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, user_id, name, description, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			definition = excluded.definition,
			updated_at = excluded.updated_at`,
		w.ID, w.UserID, w.Name, w.Description, w.Definition, w.CreatedAt, w.UpdatedAt)
	return err
}

// GetWorkflow returns one workflow.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, definition, created_at, updated_at
		FROM workflows WHERE id = ?`, id)
	var w models.Workflow
	err := row.Scan(&w.ID, &w.UserID, &w.Name, &w.Description, &w.Definition,
		&w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkflows returns a user's workflows by name.
func (s *SQLiteStore) ListWorkflows(ctx context.Context, userID string) ([]*models.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, definition, created_at, updated_at
		FROM workflows WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		var w models.Workflow
		if err := rows.Scan(&w.ID, &w.UserID, &w.Name, &w.Description,
			&w.Definition, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// SaveGoal upserts a goal.
func (s *SQLiteStore) SaveGoal(ctx context.Context, g *models.Goal) error {
	now := time.Now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (id, user_id, title, notes, progress, completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			notes = excluded.notes,
			progress = excluded.progress,
			completed = excluded.completed,
			updated_at = excluded.updated_at`,
		g.ID, g.UserID, g.Title, g.Notes, g.Progress, g.Completed,
		g.CreatedAt, g.UpdatedAt)
	return err
}

// GetGoal returns one goal.
func (s *SQLiteStore) GetGoal(ctx context.Context, id string) (*models.Goal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, notes, progress, completed, created_at, updated_at
		FROM goals WHERE id = ?`, id)
	var g models.Goal
	err := row.Scan(&g.ID, &g.UserID, &g.Title, &g.Notes, &g.Progress,
		&g.Completed, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGoals returns a user's goals, most recently updated first.
func (s *SQLiteStore) ListGoals(ctx context.Context, userID string) ([]*models.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, notes, progress, completed, created_at, updated_at
		FROM goals WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Goal
	for rows.Next() {
		var g models.Goal
		if err := rows.Scan(&g.ID, &g.UserID, &g.Title, &g.Notes, &g.Progress,
			&g.Completed, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
