// Package gateway is the HTTP surface: a streaming chat endpoint plus REST
// reads over persisted conversations and runs.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"github.com/praxisworks/praxis/internal/chat"
	"github.com/praxisworks/praxis/internal/identity"
	"github.com/praxisworks/praxis/internal/observability"
	"github.com/praxisworks/praxis/internal/storage"
	"github.com/praxisworks/praxis/internal/tools"
	"github.com/praxisworks/praxis/pkg/models"
)

// maxRequestBodySize caps inbound chat request bodies (1MB).
const maxRequestBodySize = 1 << 20

// Server wires the orchestrator, tool selection, and storage behind HTTP.
type Server struct {
	orchestrator    *chat.Orchestrator
	selector        *tools.Selector
	store           storage.Store
	identity        *identity.Service
	metrics         *observability.Metrics
	logger          *slog.Logger
	defaultProvider string
	defaultModels   map[string]string
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics attaches HTTP metrics collection.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDefaultProvider sets the provider used when a chat request names none.
func WithDefaultProvider(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.defaultProvider = name
		}
	}
}

// WithDefaultModel maps a provider to the model used when a request names
// none.
func WithDefaultModel(provider, model string) Option {
	return func(s *Server) { s.defaultModels[provider] = model }
}

// WithIdentity enables the delegated connection endpoints.
func WithIdentity(svc *identity.Service) Option {
	return func(s *Server) { s.identity = svc }
}

// NewServer creates the HTTP server.
func NewServer(orchestrator *chat.Orchestrator, selector *tools.Selector, store storage.Store, opts ...Option) *Server {
	s := &Server{
		orchestrator:    orchestrator,
		selector:        selector,
		store:           store,
		logger:          slog.Default(),
		defaultProvider: "anthropic",
		defaultModels:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/conversations", s.handleListConversations)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("GET /v1/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /v1/executions/{id}/tools", s.handleListToolExecutions)
	if s.identity != nil {
		mux.HandleFunc("GET /v1/connections", s.handleListConnections)
		mux.HandleFunc("POST /v1/connections", s.handleConnect)
		mux.HandleFunc("DELETE /v1/connections/{service}", s.handleDisconnect)
	}
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return s.instrument(mux)
}

// chatRequest is the POST /v1/chat body.
type chatRequest struct {
	ConversationID string           `json:"conversation_id"`
	UserID         string           `json:"user_id"`
	Provider       string           `json:"provider"`
	Model          string           `json:"model"`
	ChatKind       models.ChatKind  `json:"chat_kind"`
	AgentID        string           `json:"agent_id,omitempty"`
	WorkflowID     string           `json:"workflow_id,omitempty"`
	GoalID         string           `json:"goal_id,omitempty"`
	Messages       []models.Message `json:"messages"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
}

// handleChat runs one conversation turn, streaming engine events as SSE.
// The stream always ends with a done event, run failures included.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req chatRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "messages is required")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if req.ChatKind == "" {
		req.ChatKind = models.ChatGeneral
	}
	if req.Provider == "" {
		req.Provider = s.defaultProvider
	}
	if req.Model == "" {
		req.Model = s.defaultModels[req.Provider]
	}
	if req.Model == "" {
		s.writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	runReq := &chat.Request{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Provider:       req.Provider,
		Model:          req.Model,
		ChatKind:       req.ChatKind,
		AgentID:        req.AgentID,
		WorkflowID:     req.WorkflowID,
		GoalID:         req.GoalID,
		Messages:       req.Messages,
		Catalog:        s.selector.CatalogFor(req.ChatKind),
		MaxTokens:      req.MaxTokens,
	}

	// An agent conversation adopts the agent's persona and model unless the
	// request pins its own.
	if req.ChatKind == models.ChatAgent && req.AgentID != "" {
		if agent, err := s.store.GetAgent(r.Context(), req.AgentID); err == nil && agent.UserID == req.UserID {
			runReq.Prompt.Persona = agent.SystemPrompt
			if req.Provider == s.defaultProvider && agent.Provider != "" {
				runReq.Provider = agent.Provider
			}
			if agent.Model != "" && req.Model == s.defaultModels[req.Provider] {
				runReq.Model = agent.Model
			}
		}
	}

	stream, err := newSSEStream(w)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveStreams.Inc()
		defer s.metrics.ActiveStreams.Dec()
	}

	result := s.orchestrator.Run(r.Context(), runReq, stream)
	s.logger.Info("chat run finished",
		"run_id", result.RunID,
		"conversation_id", req.ConversationID,
		"phase", result.Phase,
		"rounds", result.Rounds)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	conversations, err := s.store.ListConversations(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list conversations failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conversation, err := s.store.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conversation)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	execution, err := s.store.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, execution)
}

func (s *Server) handleListToolExecutions(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListToolExecutions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list tool executions failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tool_executions": records})
}

// connectRequest is the POST /v1/connections body. Tokens arrive from the
// frontend's OAuth callback; the gateway never runs the authorization flow
// itself.
type connectRequest struct {
	UserID       string    `json:"user_id"`
	Service      string    `json:"service"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Service) == "" {
		s.writeError(w, http.StatusBadRequest, "user_id and service are required")
		return
	}
	if req.AccessToken == "" {
		s.writeError(w, http.StatusBadRequest, "access_token is required")
		return
	}

	s.identity.Connect(req.UserID, req.Service, &oauth2.Token{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		Expiry:       req.ExpiresAt,
	})
	s.logger.Info("service connected", "user_id", req.UserID, "service", req.Service)
	s.writeJSON(w, http.StatusOK, map[string]any{"service": req.Service, "connected": true})
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}
	services := s.identity.Connected(userID)
	if services == nil {
		services = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"connections": services})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}
	s.identity.Disconnect(userID, r.PathValue("service"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.writeError(w, http.StatusInternalServerError, "storage error")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
