package chat

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/praxisworks/praxis/internal/offload"
	"github.com/praxisworks/praxis/pkg/models"
)

// TokenResolver resolves delegated third-party credentials for a user.
// Implementations return an error mentioning the provider when the user has
// not connected it, so tools can surface an actionable message.
type TokenResolver interface {
	ResolveAccessToken(ctx context.Context, userID, service string) (string, error)
}

// RunContext carries the per-run state every tool and loop phase needs. It is
// built once at run start and passed explicitly; nothing in it hides inside a
// context.Context value.
type RunContext struct {
	RunID          string
	ConversationID string
	UserID         string

	Provider string
	Model    string

	ChatKind models.ChatKind

	// AgentID, WorkflowID and GoalID scope the chat-kind tool sets. At most
	// one is set, matching ChatKind.
	AgentID    string
	WorkflowID string
	GoalID     string

	// Preserved holds content offloaded during this run. It dies with the run.
	Preserved *offload.Store

	// Scanner performs offload scrubbing and reference resolution against
	// Preserved.
	Scanner *offload.Scanner

	// Tokens resolves delegated credentials; may be nil when identity is
	// not configured.
	Tokens TokenResolver

	Logger *slog.Logger
}

// NewRunContext creates a RunContext with a fresh run id and an empty
// preserved content store. The scanner is attached by the orchestrator once
// the event sink exists.
func NewRunContext(conversationID, userID, provider, model string, kind models.ChatKind) *RunContext {
	if kind == "" {
		kind = models.ChatGeneral
	}
	return &RunContext{
		RunID:          uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Provider:       provider,
		Model:          model,
		ChatKind:       kind,
		Preserved:      offload.NewStore(),
		Logger:         slog.Default(),
	}
}

// AccessToken resolves a delegated credential for service, returning a
// ToolError with the auth class when identity is unavailable or the user has
// not connected the service.
func (rc *RunContext) AccessToken(ctx context.Context, service string) (string, error) {
	if rc.Tokens == nil {
		return "", NewToolError(service, nil).
			WithClass(ToolErrorAuth).
			WithMessage(service + " is not connected; connect it in settings to use this tool")
	}
	tok, err := rc.Tokens.ResolveAccessToken(ctx, rc.UserID, service)
	if err != nil {
		return "", NewToolError(service, err).WithClass(ToolErrorAuth)
	}
	return tok, nil
}
