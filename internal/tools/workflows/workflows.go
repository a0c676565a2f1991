// Package workflows provides the tool set for workflow conversations:
// creating, listing, and inspecting stored automation definitions.
package workflows

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

// Catalog builds the workflow tool set over store.
func Catalog(store storage.Store) chat.Catalog {
	reg := chat.NewRegistry()
	reg.Register(createTool(store))
	reg.Register(listTool(store))
	reg.Register(getTool(store))
	return reg
}

func createTool(store storage.Store) chat.Tool {
	return &chat.ToolFunc{
		ToolName:        "create_workflow",
		ToolDescription: "Create a workflow from a name and a step definition. The definition is stored verbatim and echoed back on get_workflow.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Workflow name"},
				"description": {"type": "string", "description": "What the workflow does"},
				"definition": {"type": "string", "description": "Serialized step definition, typically JSON or YAML"}
			},
			"required": ["name", "definition"]
		}`),
		Fn: func(ctx context.Context, args json.RawMessage, rc *chat.RunContext) (string, error) {
			var params struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				Definition  string `json:"definition"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			if strings.TrimSpace(params.Name) == "" {
				return "", fmt.Errorf("name is required")
			}
			if strings.TrimSpace(params.Definition) == "" {
				return "", fmt.Errorf("definition is required")
			}
			wf := &models.Workflow{
				ID:          uuid.NewString(),
				UserID:      rc.UserID,
				Name:        params.Name,
				Description: params.Description,
				Definition:  params.Definition,
			}
			if err := store.SaveWorkflow(ctx, wf); err != nil {
				return "", fmt.Errorf("save workflow: %w", err)
			}
			return marshal(map[string]any{"created": true, "workflow": wf})
		},
	}
}

func listTool(store storage.Store) chat.Tool {
	return &chat.ToolFunc{
		ToolName:        "list_workflows",
		ToolDescription: "List the user's workflows.",
		ToolSchema:      json.RawMessage(`{"type": "object", "properties": {}}`),
		Fn: func(ctx context.Context, _ json.RawMessage, rc *chat.RunContext) (string, error) {
			wfs, err := store.ListWorkflows(ctx, rc.UserID)
			if err != nil {
				return "", fmt.Errorf("list workflows: %w", err)
			}
			// Definitions can be large; the list shows summaries only.
			type summary struct {
				ID          string `json:"id"`
				Name        string `json:"name"`
				Description string `json:"description,omitempty"`
			}
			out := make([]summary, 0, len(wfs))
			for _, wf := range wfs {
				out = append(out, summary{ID: wf.ID, Name: wf.Name, Description: wf.Description})
			}
			return marshal(map[string]any{"workflows": out, "count": len(out)})
		},
	}
}

func getTool(store storage.Store) chat.Tool {
	return &chat.ToolFunc{
		ToolName:        "get_workflow",
		ToolDescription: "Get a workflow's full definition by ID.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"workflow_id": {"type": "string", "description": "ID of the workflow"}
			},
			"required": ["workflow_id"]
		}`),
		Fn: func(ctx context.Context, args json.RawMessage, rc *chat.RunContext) (string, error) {
			var params struct {
				WorkflowID string `json:"workflow_id"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			wf, err := store.GetWorkflow(ctx, params.WorkflowID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return "", fmt.Errorf("workflow %s not found", params.WorkflowID)
				}
				return "", fmt.Errorf("load workflow: %w", err)
			}
			if wf.UserID != rc.UserID {
				return "", fmt.Errorf("workflow %s not found", params.WorkflowID)
			}
			return marshal(map[string]any{"workflow": wf})
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
