// Package agents provides the tool set for agent-management conversations:
// creating, listing, updating, and deleting stored agent personas.
package agents

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

// Catalog builds the agent tool set over store.
func Catalog(store storage.Store) chat.Catalog {
	reg := chat.NewRegistry()
	reg.Register(createTool(store))
	reg.Register(listTool(store))
	reg.Register(updateTool(store))
	reg.Register(deleteTool(store))
	return reg
}

func createTool(store storage.Store) chat.Tool {
	return &chat.ToolFunc{
		ToolName:        "create_agent",
		ToolDescription: "Create a new agent persona with a name, system prompt, provider, and model.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Agent name"},
				"description": {"type": "string", "description": "What this agent is for"},
				"system_prompt": {"type": "string", "description": "Persona instructions injected into the agent's system prompt"},
				"provider": {"type": "string", "description": "LLM provider id, e.g. anthropic"},
				"model": {"type": "string", "description": "Model id the agent uses"},
				"tools": {"type": "array", "items": {"type": "string"}, "description": "Tool names the agent may use"}
			},
			"required": ["name", "provider", "model"]
		}`),
		Fn: func(ctx context.Context, args json.RawMessage, rc *chat.RunContext) (string, error) {
			var params struct {
				Name         string   `json:"name"`
				Description  string   `json:"description"`
				SystemPrompt string   `json:"system_prompt"`
				Provider     string   `json:"provider"`
				Model        string   `json:"model"`
				Tools        []string `json:"tools"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			if strings.TrimSpace(params.Name) == "" {
				return "", fmt.Errorf("name is required")
			}
			agent := &models.Agent{
				ID:           uuid.NewString(),
				UserID:       rc.UserID,
				Name:         params.Name,
				Description:  params.Description,
				SystemPrompt: params.SystemPrompt,
				Provider:     params.Provider,
				Model:        params.Model,
				Tools:        params.Tools,
			}
			if err := store.SaveAgent(ctx, agent); err != nil {
				return "", fmt.Errorf("save agent: %w", err)
			}
			return marshal(map[string]any{"created": true, "agent": agent})
		},
	}
}

func listTool(store storage.Store) chat.Tool {
	return &chat.ToolFunc{
		ToolName:        "list_agents",
		ToolDescription: "List the user's agents.",
		ToolSchema:      json.RawMessage(`{"type": "object", "properties": {}}`),
		Fn: func(ctx context.Context, _ json.RawMessage, rc *chat.RunContext) (string, error) {
			agents, err := store.ListAgents(ctx, rc.UserID)
			if err != nil {
				return "", fmt.Errorf("list agents: %w", err)
			}
			return marshal(map[string]any{"agents": agents, "count": len(agents)})
		},
	}
}

func updateTool(store storage.Store) chat.Tool {
	return &chat.ToolFunc{
		ToolName:        "update_agent",
		ToolDescription: "Update an existing agent. Only the provided fields change.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"agent_id": {"type": "string", "description": "ID of the agent to update"},
				"name": {"type": "string"},
				"description": {"type": "string"},
				"system_prompt": {"type": "string"},
				"provider": {"type": "string"},
				"model": {"type": "string"},
				"tools": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["agent_id"]
		}`),
		Fn: func(ctx context.Context, args json.RawMessage, rc *chat.RunContext) (string, error) {
			var params struct {
				AgentID      string    `json:"agent_id"`
				Name         *string   `json:"name"`
				Description  *string   `json:"description"`
				SystemPrompt *string   `json:"system_prompt"`
				Provider     *string   `json:"provider"`
				Model        *string   `json:"model"`
				Tools        *[]string `json:"tools"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			agent, err := store.GetAgent(ctx, params.AgentID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return "", fmt.Errorf("agent %s not found", params.AgentID)
				}
				return "", fmt.Errorf("load agent: %w", err)
			}
			if agent.UserID != rc.UserID {
				return "", fmt.Errorf("agent %s not found", params.AgentID)
			}
			if params.Name != nil {
				agent.Name = *params.Name
			}
			if params.Description != nil {
				agent.Description = *params.Description
			}
			if params.SystemPrompt != nil {
				agent.SystemPrompt = *params.SystemPrompt
			}
			if params.Provider != nil {
				agent.Provider = *params.Provider
			}
			if params.Model != nil {
				agent.Model = *params.Model
			}
			if params.Tools != nil {
				agent.Tools = *params.Tools
			}
			if err := store.SaveAgent(ctx, agent); err != nil {
				return "", fmt.Errorf("save agent: %w", err)
			}
			return marshal(map[string]any{"updated": true, "agent": agent})
		},
	}
}

func deleteTool(store storage.Store) chat.Tool {
	return &chat.ToolFunc{
		ToolName:        "delete_agent",
		ToolDescription: "Delete an agent by ID.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"agent_id": {"type": "string", "description": "ID of the agent to delete"}
			},
			"required": ["agent_id"]
		}`),
		Fn: func(ctx context.Context, args json.RawMessage, rc *chat.RunContext) (string, error) {
			var params struct {
				AgentID string `json:"agent_id"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			agent, err := store.GetAgent(ctx, params.AgentID)
			if err != nil || agent.UserID != rc.UserID {
				return "", fmt.Errorf("agent %s not found", params.AgentID)
			}
			if err := store.DeleteAgent(ctx, params.AgentID); err != nil {
				return "", fmt.Errorf("delete agent: %w", err)
			}
			return marshal(map[string]any{"deleted": true, "agent_id": params.AgentID})
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
