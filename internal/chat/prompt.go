package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/praxisworks/praxis/pkg/models"
)

// PromptProfile is the caller-supplied flavor of the system prompt. An agent
// chat injects the agent's persona; other kinds get standing guidance.
type PromptProfile struct {
	// Persona overrides the base identity paragraph when set.
	Persona string
	// Extra is appended verbatim after the standard sections.
	Extra string
}

// BuildSystemPrompt assembles the system prompt for one run: identity, the
// current date, the active model, chat-kind guidance, and a summary of the
// available tools. Tool schemas are not inlined; providers carry those in
// their native declaration format.
func BuildSystemPrompt(rc *RunContext, catalog Catalog, profile PromptProfile, now time.Time) string {
	var b strings.Builder

	if profile.Persona != "" {
		b.WriteString(strings.TrimSpace(profile.Persona))
	} else {
		b.WriteString("You are a capable assistant that completes tasks using the tools available to you.")
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Current date: %s\n", now.Format("Monday, January 2, 2006"))
	fmt.Fprintf(&b, "Model: %s (%s)\n", rc.Model, rc.Provider)

	switch rc.ChatKind {
	case models.ChatAgent:
		b.WriteString("\nThis conversation manages and runs configured agents. Use the agent tools to list, inspect, create, update, and execute agents on the user's behalf.\n")
	case models.ChatWorkflow:
		b.WriteString("\nThis conversation works with stored workflows. Use the workflow tools to list, inspect, and run workflows; report each run's outcome.\n")
	case models.ChatGoal:
		b.WriteString("\nThis conversation tracks the user's goals. Use the goal tools to review and update progress; keep updates concrete.\n")
	}

	if tools := catalog.Tools(); len(tools) > 0 {
		b.WriteString("\nAvailable tools:\n")
		for _, t := range tools {
			desc := t.Description()
			if i := strings.IndexByte(desc, '\n'); i >= 0 {
				desc = desc[:i]
			}
			fmt.Fprintf(&b, "- %s: %s\n", t.Name(), desc)
		}
		b.WriteString("\nLarge tool outputs may be replaced with reference tokens like {{DATA_REF:id}} or {{IMAGE_REF:id}}. Pass these tokens unchanged to other tools when you need to act on the underlying content; they resolve automatically.\n")
	}

	if profile.Extra != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(profile.Extra))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// SanitizeHistory normalizes inbound transcript messages before a run:
// roles are mapped onto the known set, empty non-tool messages are dropped,
// and tool call/result pairing is repaired in both directions. Orphaned tool
// results are removed, and assistant tool calls that were never answered are
// stripped, so providers don't reject the transcript.
func SanitizeHistory(history []models.Message) []models.Message {
	declared := make(map[string]bool)
	answered := make(map[string]bool)
	for _, m := range history {
		role := models.NormalizeRole(string(m.Role))
		switch role {
		case models.RoleAssistant:
			for _, tc := range m.ToolCalls {
				declared[tc.ID] = true
			}
		case models.RoleTool:
			if m.ToolCallID != "" {
				answered[m.ToolCallID] = true
			}
		}
	}

	seen := make(map[string]bool)
	out := make([]models.Message, 0, len(history))
	for _, m := range history {
		m.Role = models.NormalizeRole(string(m.Role))
		switch m.Role {
		case models.RoleAssistant:
			kept := m.ToolCalls[:0:0]
			for _, tc := range m.ToolCalls {
				if answered[tc.ID] {
					kept = append(kept, tc)
				}
			}
			m.ToolCalls = kept
			if len(m.ToolCalls) == 0 && strings.TrimSpace(m.Content) == "" {
				continue
			}
		case models.RoleTool:
			if m.ToolCallID == "" || !declared[m.ToolCallID] || seen[m.ToolCallID] {
				continue
			}
			seen[m.ToolCallID] = true
		default:
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
