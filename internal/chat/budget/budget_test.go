package budget

import (
	"fmt"
	"strings"
	"testing"

	"github.com/praxisworks/praxis/pkg/models"
)

func userMsg(tag string, chars int) models.Message {
	prefix := tag + " "
	return models.Message{
		Role:    models.RoleUser,
		Content: prefix + strings.Repeat("x", chars-len(prefix)),
	}
}

func TestEstimateTokens(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: strings.Repeat("a", 24)},
		{Role: models.RoleAssistant, Content: strings.Repeat("b", 44)},
	}
	// (100 + 24+16 + 44+16) / 4
	if got := EstimateTokens(msgs, 100); got != 50 {
		t.Errorf("EstimateTokens = %d, want 50", got)
	}
}

func TestBuildGroupsPairsCallsWithResults(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "go"},
		{Role: models.RoleAssistant, Content: "on it", ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "lookup"},
			{ID: "c2", Name: "lookup"},
		}},
		{Role: models.RoleTool, Content: `{"a":1}`, ToolCallID: "c1"},
		{Role: models.RoleTool, Content: `{"b":2}`, ToolCallID: "c2"},
		{Role: models.RoleUser, Content: "thanks"},
	}
	groups := buildGroups(msgs)
	if len(groups) != 4 {
		t.Fatalf("groups = %d, want 4", len(groups))
	}
	if !groups[0].system {
		t.Error("first group not marked system")
	}
	if len(groups[2].msgs) != 3 {
		t.Errorf("tool group size = %d, want 3 (call + 2 results)", len(groups[2].msgs))
	}
	if len(groups[3].msgs) != 1 || groups[3].msgs[0].Content != "thanks" {
		t.Errorf("trailing group = %+v", groups[3].msgs)
	}
}

func TestManageUnderBudgetPassthrough(t *testing.T) {
	m := New()
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	}
	res := m.Manage(msgs, 128000, 0)
	if res.WasManaged {
		t.Error("WasManaged = true for a transcript that fits")
	}
	if len(res.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(res.Messages))
	}
	if res.ManagedTokens != res.OriginalTokens {
		t.Errorf("tokens changed without management: %d != %d",
			res.ManagedTokens, res.OriginalTokens)
	}
}

func TestManageZeroLimitUsesDefault(t *testing.T) {
	m := New()
	res := m.Manage([]models.Message{{Role: models.RoleUser, Content: "hi"}}, 0, 0)
	if res.TokenLimit != DefaultTokenLimit {
		t.Errorf("limit = %d, want %d", res.TokenLimit, DefaultTokenLimit)
	}
}

func TestManageDropsOldestFirst(t *testing.T) {
	m := New(WithReserve(0), WithKeepRecent(2))
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "be helpful"},
	}
	for i := 1; i <= 4; i++ {
		msgs = append(msgs, userMsg(fmt.Sprintf("u%d", i), 401))
	}

	// System is ~6 tokens, each user group ~104; the whole transcript is
	// ~422 tokens, so a 300 limit forces exactly u1 and u2 out.
	res := m.Manage(msgs, 300, 0)
	if !res.WasManaged {
		t.Fatal("WasManaged = false")
	}
	if len(res.Messages) != 3 {
		t.Fatalf("messages = %d, want 3: %+v", len(res.Messages), roles(res.Messages))
	}
	if res.Messages[0].Role != models.RoleSystem {
		t.Errorf("first kept message is %s, want system", res.Messages[0].Role)
	}
	for i, want := range []string{"u3", "u4"} {
		if !strings.HasPrefix(res.Messages[i+1].Content, want) {
			t.Errorf("messages[%d] = %q..., want prefix %q",
				i+1, res.Messages[i+1].Content[:8], want)
		}
	}
	if res.ManagedTokens >= res.OriginalTokens {
		t.Errorf("managed %d >= original %d", res.ManagedTokens, res.OriginalTokens)
	}
}

func TestManageSystemNeverDropped(t *testing.T) {
	m := New(WithReserve(0), WithKeepRecent(0))
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "identity prompt"},
	}
	for i := 1; i <= 6; i++ {
		msgs = append(msgs, userMsg(fmt.Sprintf("u%d", i), 400))
	}

	res := m.Manage(msgs, 10, 0)
	if !res.WasManaged {
		t.Fatal("WasManaged = false")
	}
	if len(res.Messages) != 1 || res.Messages[0].Role != models.RoleSystem {
		t.Fatalf("kept = %v, want only the system message", roles(res.Messages))
	}
}

func TestManageToolGroupDroppedWhole(t *testing.T) {
	m := New(WithReserve(0), WithKeepRecent(1))
	msgs := []models.Message{
		userMsg("old", 401),
		{Role: models.RoleAssistant, Content: "checking", ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "lookup", Arguments: []byte(strings.Repeat("a", 200))},
		}},
		{Role: models.RoleTool, Content: strings.Repeat("r", 300), ToolCallID: "c1"},
		{Role: models.RoleTool, Content: strings.Repeat("s", 300), ToolCallID: "c1"},
		{Role: models.RoleUser, Content: "done"},
	}

	res := m.Manage(msgs, 100, 0)
	if !res.WasManaged {
		t.Fatal("WasManaged = false")
	}
	if len(res.Messages) != 1 || res.Messages[0].Content != "done" {
		t.Fatalf("kept = %v, want only the trailing user message", roles(res.Messages))
	}
	for _, msg := range res.Messages {
		if msg.IsToolRole() || msg.HasToolCalls() {
			t.Errorf("tool fragment survived a group drop: %+v", msg)
		}
	}
}

func TestManageToolGroupKeptWhole(t *testing.T) {
	m := New(WithReserve(0), WithKeepRecent(1))
	msgs := []models.Message{
		userMsg("old", 401),
		{Role: models.RoleAssistant, Content: "checking", ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "lookup", Arguments: []byte(strings.Repeat("a", 200))},
		}},
		{Role: models.RoleTool, Content: strings.Repeat("r", 300), ToolCallID: "c1"},
		{Role: models.RoleTool, Content: strings.Repeat("s", 300), ToolCallID: "c1"},
		{Role: models.RoleUser, Content: "done"},
	}

	// 250 tokens is enough once the old user message goes; the tool group
	// must survive intact.
	res := m.Manage(msgs, 250, 0)
	if !res.WasManaged {
		t.Fatal("WasManaged = false")
	}
	if len(res.Messages) != 4 {
		t.Fatalf("kept = %v, want assistant + 2 results + user", roles(res.Messages))
	}
	if !res.Messages[0].HasToolCalls() {
		t.Fatalf("first kept message = %+v, want the tool-calling assistant", res.Messages[0])
	}
	for i := 1; i <= 2; i++ {
		if res.Messages[i].ToolCallID != "c1" {
			t.Errorf("messages[%d].ToolCallID = %q, want c1", i, res.Messages[i].ToolCallID)
		}
	}
}

func TestManageNothingDroppable(t *testing.T) {
	// Both groups fall inside the protected tail, so nothing can go; the
	// transcript is sent as-is.
	m := New(WithReserve(0))
	msgs := []models.Message{
		userMsg("u1", 4000),
		userMsg("u2", 4000),
	}
	res := m.Manage(msgs, 100, 0)
	if res.WasManaged {
		t.Error("WasManaged = true with nothing droppable")
	}
	if len(res.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(res.Messages))
	}
	if res.ManagedTokens != res.OriginalTokens {
		t.Errorf("tokens changed: %d != %d", res.ManagedTokens, res.OriginalTokens)
	}
}

func roles(msgs []models.Message) []models.Role {
	out := make([]models.Role, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Role
	}
	return out
}
