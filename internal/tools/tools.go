// Package tools assembles tool catalogs. The native set is shared by every
// conversation; chat-kind sets are layered on top for agent, workflow, and
// goal conversations.
package tools

import (
	"fmt"

	"github.com/praxisworks/praxis/internal/chat"
	"github.com/praxisworks/praxis/internal/storage"
	"github.com/praxisworks/praxis/internal/tools/agents"
	"github.com/praxisworks/praxis/internal/tools/files"
	"github.com/praxisworks/praxis/internal/tools/goals"
	"github.com/praxisworks/praxis/internal/tools/timeinfo"
	"github.com/praxisworks/praxis/internal/tools/websearch"
	"github.com/praxisworks/praxis/internal/tools/workflows"
	"github.com/praxisworks/praxis/pkg/models"
)

// Native builds the tool set every conversation gets: web search and fetch,
// workspace file access, and the clock.
func Native(workspaceDir string) (chat.Catalog, error) {
	ws, err := files.NewWorkspace(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("tool workspace: %w", err)
	}
	reg := chat.NewRegistry()
	reg.Register(websearch.NewSearchTool())
	reg.Register(websearch.NewFetchTool())
	reg.Register(files.NewReadTool(ws))
	reg.Register(files.NewWriteTool(ws))
	reg.Register(timeinfo.New())
	return reg, nil
}

// Selector hands out the catalog for a conversation's chat kind.
type Selector struct {
	native  chat.Catalog
	plugins chat.Catalog
	store   storage.Store
}

// NewSelector creates a selector. plugins may be nil when no plugin
// directory is configured.
func NewSelector(native chat.Catalog, plugins chat.Catalog, store storage.Store) *Selector {
	return &Selector{native: native, plugins: plugins, store: store}
}

// CatalogFor returns the catalog a conversation of the given kind sees.
// Kind-specific tools shadow native and plugin tools of the same name.
func (s *Selector) CatalogFor(kind models.ChatKind) chat.Catalog {
	base := chat.MultiCatalog{s.native}
	if s.plugins != nil {
		base = append(base, s.plugins)
	}
	switch kind {
	case models.ChatAgent:
		return append(chat.MultiCatalog{agents.Catalog(s.store)}, base...)
	case models.ChatWorkflow:
		return append(chat.MultiCatalog{workflows.Catalog(s.store)}, base...)
	case models.ChatGoal:
		return append(chat.MultiCatalog{goals.Catalog(s.store)}, base...)
	default:
		return base
	}
}
