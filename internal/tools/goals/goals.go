// Package goals provides the tool set for goal conversations: creating
// goals, recording progress, and listing what the user is working toward.
package goals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/praxisworks/praxis/internal/chat"
	"github.com/praxisworks/praxis/internal/storage"
	"github.com/praxisworks/praxis/pkg/models"
)

// Catalog builds the goal tool set over store.
func Catalog(store storage.Store) chat.Catalog {
	reg := chat.NewRegistry()
	reg.Register(createTool(store))
	reg.Register(listTool(store))
	reg.Register(progressTool(store))
	return reg
}

func createTool(store storage.Store) chat.Tool {
	return &chat.ToolFunc{
		ToolName:        "create_goal",
		ToolDescription: "Create a goal for the user to track.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string", "description": "Short statement of the goal"},
				"notes": {"type": "string", "description": "Context or plan for reaching it"}
			},
			"required": ["title"]
		}`),
		Fn: func(ctx context.Context, args json.RawMessage, rc *chat.RunContext) (string, error) {
			var params struct {
				Title string `json:"title"`
				Notes string `json:"notes"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			if strings.TrimSpace(params.Title) == "" {
				return "", fmt.Errorf("title is required")
			}
			goal := &models.Goal{
				ID:     uuid.NewString(),
				UserID: rc.UserID,
				Title:  params.Title,
				Notes:  params.Notes,
			}
			if err := store.SaveGoal(ctx, goal); err != nil {
				return "", fmt.Errorf("save goal: %w", err)
			}
			return marshal(map[string]any{"created": true, "goal": goal})
		},
	}
}

func listTool(store storage.Store) chat.Tool {
	return &chat.ToolFunc{
		ToolName:        "list_goals",
		ToolDescription: "List the user's goals with their progress.",
		ToolSchema:      json.RawMessage(`{"type": "object", "properties": {}}`),
		Fn: func(ctx context.Context, _ json.RawMessage, rc *chat.RunContext) (string, error) {
			goals, err := store.ListGoals(ctx, rc.UserID)
			if err != nil {
				return "", fmt.Errorf("list goals: %w", err)
			}
			return marshal(map[string]any{"goals": goals, "count": len(goals)})
		},
	}
}

func progressTool(store storage.Store) chat.Tool {
	return &chat.ToolFunc{
		ToolName:        "update_goal_progress",
		ToolDescription: "Record progress on a goal. Progress of 100 marks the goal completed.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"goal_id": {"type": "string", "description": "ID of the goal"},
				"progress": {"type": "integer", "description": "Progress percentage, 0 to 100", "minimum": 0, "maximum": 100},
				"notes": {"type": "string", "description": "Replacement notes, if they should change"}
			},
			"required": ["goal_id", "progress"]
		}`),
		Fn: func(ctx context.Context, args json.RawMessage, rc *chat.RunContext) (string, error) {
			var params struct {
				GoalID   string  `json:"goal_id"`
				Progress int     `json:"progress"`
				Notes    *string `json:"notes"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			if params.Progress < 0 || params.Progress > 100 {
				return "", fmt.Errorf("progress must be between 0 and 100")
			}
			goal, err := store.GetGoal(ctx, params.GoalID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return "", fmt.Errorf("goal %s not found", params.GoalID)
				}
				return "", fmt.Errorf("load goal: %w", err)
			}
			if goal.UserID != rc.UserID {
				return "", fmt.Errorf("goal %s not found", params.GoalID)
			}
			goal.Progress = params.Progress
			goal.Completed = params.Progress >= 100
			if params.Notes != nil {
				goal.Notes = *params.Notes
			}
			if err := store.SaveGoal(ctx, goal); err != nil {
				return "", fmt.Errorf("save goal: %w", err)
			}
			return marshal(map[string]any{"updated": true, "goal": goal})
		},
	}
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("format response: %w", err)
	}
	return string(data), nil
}
