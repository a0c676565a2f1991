package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/praxisworks/praxis/pkg/models"
)

// MemoryStore implements Store in process memory. Everything is copied on
// the way in and out so callers can't mutate shared state.
type MemoryStore struct {
	mu            sync.RWMutex
	executions    map[string]*models.ExecutionRecord
	toolExecs     map[string][]*models.ToolExecutionRecord
	conversations map[string]*models.ConversationLog
	agents        map[string]*models.Agent
	workflows     map[string]*models.Workflow
	goals         map[string]*models.Goal
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		executions:    make(map[string]*models.ExecutionRecord),
		toolExecs:     make(map[string][]*models.ToolExecutionRecord),
		conversations: make(map[string]*models.ConversationLog),
		agents:        make(map[string]*models.Agent),
		workflows:     make(map[string]*models.Workflow),
		goals:         make(map[string]*models.Goal),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// SaveExecution upserts an execution record.
func (s *MemoryStore) SaveExecution(_ context.Context, rec *models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.executions[rec.ID] = &clone
	return nil
}

// GetExecution returns one execution record.
func (s *MemoryStore) GetExecution(_ context.Context, id string) (*models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

// ListExecutions returns the most recent executions for a conversation.
func (s *MemoryStore) ListExecutions(_ context.Context, conversationID string, limit int) ([]*models.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ExecutionRecord
	for _, rec := range s.executions {
		if rec.ConversationID == conversationID {
			clone := *rec
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveToolExecution appends or replaces a tool execution record.
func (s *MemoryStore) SaveToolExecution(_ context.Context, rec *models.ToolExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	recs := s.toolExecs[rec.ExecutionID]
	for i, existing := range recs {
		if existing.ID == rec.ID {
			recs[i] = &clone
			return nil
		}
	}
	s.toolExecs[rec.ExecutionID] = append(recs, &clone)
	return nil
}

// ListToolExecutions returns a run's tool calls in execution order.
func (s *MemoryStore) ListToolExecutions(_ context.Context, executionID string) ([]*models.ToolExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.toolExecs[executionID]
	out := make([]*models.ToolExecutionRecord, len(recs))
	for i, rec := range recs {
		clone := *rec
		out[i] = &clone
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// UpsertConversation writes a conversation transcript.
func (s *MemoryStore) UpsertConversation(_ context.Context, log *models.ConversationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := cloneConversation(log)
	if existing, ok := s.conversations[log.ID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = time.Now()
	}
	s.conversations[log.ID] = clone
	return nil
}

// GetConversation returns one conversation transcript.
func (s *MemoryStore) GetConversation(_ context.Context, id string) (*models.ConversationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(log), nil
}

// ListConversations returns a user's conversations, most recent first.
func (s *MemoryStore) ListConversations(_ context.Context, userID string, limit int) ([]*models.ConversationLog, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ConversationLog
	for _, log := range s.conversations {
		if log.UserID == userID {
			out = append(out, cloneConversation(log))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneConversation(log *models.ConversationLog) *models.ConversationLog {
	clone := *log
	clone.Messages = append([]models.Message(nil), log.Messages...)
	clone.ToolCalls = append([]models.ToolExecutionRecord(nil), log.ToolCalls...)
	clone.Errors = append([]string(nil), log.Errors...)
	return &clone
}

// SaveAgent upserts an agent.
func (s *MemoryStore) SaveAgent(_ context.Context, a *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *a
	clone.Tools = append([]string(nil), a.Tools...)
	now := time.Now()
	if existing, ok := s.agents[a.ID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.agents[a.ID] = &clone
	return nil
}

// GetAgent returns one agent.
func (s *MemoryStore) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *a
	clone.Tools = append([]string(nil), a.Tools...)
	return &clone, nil
}

// ListAgents returns a user's agents by name.
func (s *MemoryStore) ListAgents(_ context.Context, userID string) ([]*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Agent
	for _, a := range s.agents {
		if a.UserID == userID {
			clone := *a
			clone.Tools = append([]string(nil), a.Tools...)
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteAgent removes an agent.
func (s *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return ErrNotFound
	}
	delete(s.agents, id)
	return nil
}

// SaveWorkflow upserts a workflow.
func (s *MemoryStore) SaveWorkflow(_ context.Context, w *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *w
	now := time.Now()
	if existing, ok := s.workflows[w.ID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.workflows[w.ID] = &clone
	return nil
}

// GetWorkflow returns one workflow.
func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *w
	return &clone, nil
}

// ListWorkflows returns a user's workflows by name.
func (s *MemoryStore) ListWorkflows(_ context.Context, userID string) ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Workflow
	for _, w := range s.workflows {
		if w.UserID == userID {
			clone := *w
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveGoal upserts a goal.
func (s *MemoryStore) SaveGoal(_ context.Context, g *models.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *g
	now := time.Now()
	if existing, ok := s.goals[g.ID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.goals[g.ID] = &clone
	return nil
}

// GetGoal returns one goal.
func (s *MemoryStore) GetGoal(_ context.Context, id string) (*models.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *g
	return &clone, nil
}

// ListGoals returns a user's goals, most recently updated first.
func (s *MemoryStore) ListGoals(_ context.Context, userID string) ([]*models.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Goal
	for _, g := range s.goals {
		if g.UserID == userID {
			clone := *g
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
