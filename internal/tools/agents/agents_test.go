package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/praxisworks/praxis/internal/chat"
	"github.com/praxisworks/praxis/internal/storage"
	"github.com/praxisworks/praxis/pkg/models"
)

func run(t *testing.T, cat chat.Catalog, rc *chat.RunContext, name, args string) (string, error) {
	t.Helper()
	tool, ok := cat.Resolve(name)
	if !ok {
		t.Fatalf("tool %s not in catalog", name)
	}
	return tool.Execute(context.Background(), json.RawMessage(args), rc)
}

func TestCreateListUpdateDelete(t *testing.T) {
	store := storage.NewMemory()
	cat := Catalog(store)
	rc := chat.NewRunContext("c1", "u1", "fake", "fake-1", models.ChatAgent)

	out, err := run(t, cat, rc, "create_agent",
		`{"name":"researcher","provider":"anthropic","model":"claude-3-5-sonnet-20241022","system_prompt":"You research."}`)
	if err != nil {
		t.Fatal(err)
	}
	var created struct {
		Created bool         `json:"created"`
		Agent   models.Agent `json:"agent"`
	}
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatal(err)
	}
	if !created.Created || created.Agent.ID == "" || created.Agent.UserID != "u1" {
		t.Fatalf("created = %+v", created)
	}

	out, err = run(t, cat, rc, "list_agents", `{}`)
	if err != nil {
		t.Fatal(err)
	}
	var listed struct {
		Agents []models.Agent `json:"agents"`
		Count  int            `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatal(err)
	}
	if listed.Count != 1 || listed.Agents[0].Name != "researcher" {
		t.Fatalf("listed = %+v", listed)
	}

	out, err = run(t, cat, rc, "update_agent",
		fmt.Sprintf(`{"agent_id":%q,"name":"archivist"}`, created.Agent.ID))
	if err != nil {
		t.Fatal(err)
	}
	var updated struct {
		Agent models.Agent `json:"agent"`
	}
	json.Unmarshal([]byte(out), &updated)
	if updated.Agent.Name != "archivist" {
		t.Errorf("name = %q", updated.Agent.Name)
	}
	// Fields not named in the update survive.
	if updated.Agent.SystemPrompt != "You research." {
		t.Errorf("system prompt = %q, want unchanged", updated.Agent.SystemPrompt)
	}

	if _, err := run(t, cat, rc, "delete_agent",
		fmt.Sprintf(`{"agent_id":%q}`, created.Agent.ID)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetAgent(context.Background(), created.Agent.ID); err == nil {
		t.Error("agent still present after delete")
	}
}

func TestCreateRequiresName(t *testing.T) {
	cat := Catalog(storage.NewMemory())
	rc := chat.NewRunContext("c1", "u1", "fake", "fake-1", models.ChatAgent)
	_, err := run(t, cat, rc, "create_agent", `{"name":"  ","provider":"p","model":"m"}`)
	if err == nil || !strings.Contains(err.Error(), "name is required") {
		t.Errorf("err = %v", err)
	}
}

func TestUpdateHidesOtherUsersAgents(t *testing.T) {
	store := storage.NewMemory()
	store.SaveAgent(context.Background(), &models.Agent{
		ID: "a1", UserID: "someone-else", Name: "theirs", Provider: "p", Model: "m",
	})
	cat := Catalog(store)
	rc := chat.NewRunContext("c1", "u1", "fake", "fake-1", models.ChatAgent)

	// Another user's agent reads as not found, not as forbidden.
	_, err := run(t, cat, rc, "update_agent", `{"agent_id":"a1","name":"mine now"}`)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("update err = %v", err)
	}
	_, err = run(t, cat, rc, "delete_agent", `{"agent_id":"a1"}`)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("delete err = %v", err)
	}
}
