package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/praxisworks/praxis/internal/chat/budget"
	"github.com/praxisworks/praxis/internal/offload"
	"github.com/praxisworks/praxis/pkg/models"
)

// DefaultMaxRounds caps how many tool rounds one run may take.
const DefaultMaxRounds = 10

// apologyMessage is the assistant text shown when the safety net catches an
// unrecoverable failure. The client sees a normal message and a clean stream
// close, never a broken connection.
const apologyMessage = "I apologize, but I ran into an unexpected problem while working on your request. Please try again."

// RecordStore persists execution telemetry and conversation transcripts.
// The storage package provides SQLite and in-memory implementations.
type RecordStore interface {
	SaveExecution(ctx context.Context, rec *models.ExecutionRecord) error
	SaveToolExecution(ctx context.Context, rec *models.ToolExecutionRecord) error
	UpsertConversation(ctx context.Context, log *models.ConversationLog) error
}

// Observer receives orchestration measurements. The observability package
// provides a Prometheus-backed implementation.
type Observer interface {
	RunStarted(provider, model string, kind models.ChatKind)
	RunFinished(provider string, phase Phase, rounds int, d time.Duration)
	ToolExecuted(tool string, success bool, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) RunStarted(string, string, models.ChatKind)    {}
func (nopObserver) RunFinished(string, Phase, int, time.Duration) {}
func (nopObserver) ToolExecuted(string, bool, time.Duration)      {}

// Request describes one orchestration run.
type Request struct {
	ConversationID string
	UserID         string
	Provider       string
	Model          string
	ChatKind       models.ChatKind

	// AgentID, WorkflowID, GoalID scope chat-kind tool sets; at most one is
	// set, matching ChatKind.
	AgentID    string
	WorkflowID string
	GoalID     string

	// Messages is the inbound transcript including the new user message.
	Messages []models.Message

	// Catalog is the tool set this run may call. Assembled by the caller
	// from native tools, chat-kind sets, and plugins.
	Catalog Catalog

	// Prompt customizes the system prompt (agent persona, extra guidance).
	Prompt PromptProfile

	// MaxTokens caps the reply length; 0 uses the provider default.
	MaxTokens int

	// OffloadThreshold overrides the large-field offload threshold; 0 uses
	// the default.
	OffloadThreshold int
}

// RunResult is the settled outcome of one run. It is always returned, even
// when the run failed: failures surface as an apologetic final message and a
// failed execution record.
type RunResult struct {
	RunID        string
	Phase        Phase
	FinalContent string
	Messages     []models.Message
	Rounds       int
	ToolCalls    []models.ToolExecutionRecord
	Usage        Usage
	Error        string
}

// Orchestrator drives conversations through the model/tool loop.
type Orchestrator struct {
	providers *ProviderRegistry
	budget    *budget.Manager
	store     RecordStore
	observer  Observer
	tokens    TokenResolver
	logger    *slog.Logger

	maxRounds    int
	executorOpts []ExecutorOption
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxRounds sets the tool round cap.
func WithMaxRounds(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithRecordStore sets the telemetry store.
func WithRecordStore(s RecordStore) OrchestratorOption {
	return func(o *Orchestrator) {
		if s != nil {
			o.store = s
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(obs Observer) OrchestratorOption {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithBudget sets the context budget manager.
func WithBudget(b *budget.Manager) OrchestratorOption {
	return func(o *Orchestrator) {
		if b != nil {
			o.budget = b
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithExecutorOptions forwards options to the per-run tool executor.
func WithExecutorOptions(opts ...ExecutorOption) OrchestratorOption {
	return func(o *Orchestrator) {
		o.executorOpts = append(o.executorOpts, opts...)
	}
}

// WithTokenResolver sets the delegated credential resolver attached to each
// run.
func WithTokenResolver(t TokenResolver) OrchestratorOption {
	return func(o *Orchestrator) { o.tokens = t }
}

// NewOrchestrator creates an orchestrator over the given providers.
func NewOrchestrator(providers *ProviderRegistry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		providers: providers,
		budget:    budget.New(),
		observer:  nopObserver{},
		logger:    slog.Default(),
		maxRounds: DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one conversation turn to completion. The sink receives the
// event stream; pass nil to discard it. Run never panics and never leaves
// the stream without a done event: unrecoverable failures become an
// apologetic assistant message, a failed execution record, and a clean
// close.
func (o *Orchestrator) Run(ctx context.Context, req *Request, sink Sink) *RunResult {
	if sink == nil {
		sink = discardSink{}
	}
	start := time.Now()

	rc := NewRunContext(req.ConversationID, req.UserID, req.Provider, req.Model, req.ChatKind)
	rc.AgentID, rc.WorkflowID, rc.GoalID = req.AgentID, req.WorkflowID, req.GoalID
	rc.Tokens = o.tokens
	rc.Logger = o.logger.With("run_id", rc.RunID, "conversation_id", rc.ConversationID)
	rc.Scanner = offload.NewScanner(rc.Preserved, req.OffloadThreshold, offloadEmitter(sink), rc.Logger)

	record := &models.ExecutionRecord{
		ID:             rc.RunID,
		ConversationID: rc.ConversationID,
		UserID:         rc.UserID,
		Provider:       req.Provider,
		Model:          req.Model,
		ChatKind:       rc.ChatKind,
		Status:         models.ExecutionStarted,
		StartedAt:      start,
	}
	o.saveExecution(ctx, record)
	o.observer.RunStarted(req.Provider, req.Model, rc.ChatKind)

	sink.Send(Event{Type: EventConversationStarted, Data: map[string]any{
		"run_id":          rc.RunID,
		"conversation_id": rc.ConversationID,
		"chat_kind":       string(rc.ChatKind),
		"provider":        req.Provider,
		"model":           req.Model,
	}})
	if rc.ChatKind == models.ChatAgent && rc.AgentID != "" {
		sink.Send(Event{Type: EventAgentExecStarted, Data: map[string]any{
			"agent_id": rc.AgentID, "run_id": rc.RunID,
		}})
	}

	res := o.runProtected(ctx, req, rc, record, sink)
	res.RunID = rc.RunID

	if res.Phase == PhaseErrorRecovered {
		record.Status = models.ExecutionFailed
		record.Error = res.Error
		sink.Send(Event{Type: EventError, Data: map[string]any{
			"message":   apologyMessage,
			"recovered": true,
		}})
		sink.Send(Event{Type: EventAssistantMessage, Data: map[string]any{
			"content": res.FinalContent,
		}})
	} else {
		record.Status = models.ExecutionCompleted
	}
	record.Rounds = res.Rounds
	record.ToolCallCount = len(res.ToolCalls)
	record.FinishedAt = time.Now()
	o.saveExecution(ctx, record)

	o.upsertConversation(ctx, req, rc, res)

	if rc.ChatKind == models.ChatAgent && rc.AgentID != "" {
		sink.Send(Event{Type: EventAgentExecCompleted, Data: map[string]any{
			"agent_id": rc.AgentID,
			"run_id":   rc.RunID,
			"status":   string(record.Status),
		}})
	}
	sink.Send(Event{Type: EventFinalContent, Data: map[string]any{
		"content": res.FinalContent,
	}})
	sink.Send(Event{Type: EventDone, Data: map[string]any{
		"run_id": rc.RunID,
		"rounds": res.Rounds,
		"status": string(record.Status),
	}})

	o.observer.RunFinished(req.Provider, res.Phase, res.Rounds, time.Since(start))
	return res
}

// runProtected wraps the loop body in the top-level safety net.
func (o *Orchestrator) runProtected(ctx context.Context, req *Request, rc *RunContext, record *models.ExecutionRecord, sink Sink) (res *RunResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestration panic recovered",
				"run_id", rc.RunID, "panic", fmt.Sprint(r))
			res = o.recovered(res, fmt.Sprintf("panic: %v", r))
		}
	}()
	var err error
	res, err = o.loop(ctx, req, rc, record, sink)
	if err != nil {
		o.logger.Error("orchestration failed",
			"run_id", rc.RunID, "error", err)
		res = o.recovered(res, err.Error())
	}
	return res
}

// recovered converts a failed run into the apologetic terminal result.
func (o *Orchestrator) recovered(res *RunResult, errMsg string) *RunResult {
	if res == nil {
		res = &RunResult{}
	}
	res.Phase = PhaseErrorRecovered
	res.Error = errMsg
	res.FinalContent = apologyMessage
	res.Messages = append(res.Messages, models.Message{
		Role:    models.RoleAssistant,
		Content: apologyMessage,
	})
	return res
}

// loop is the state machine: init, first call, tool rounds, done.
func (o *Orchestrator) loop(ctx context.Context, req *Request, rc *RunContext, record *models.ExecutionRecord, sink Sink) (*RunResult, error) {
	res := &RunResult{Phase: PhaseInit}

	provider, err := o.providers.Get(req.Provider)
	if err != nil {
		return res, &LoopError{Phase: PhaseInit, Cause: err}
	}

	catalog := req.Catalog
	if catalog == nil {
		catalog = NewRegistry()
	}
	executor := NewExecutor(catalog, append([]ExecutorOption{WithExecutorLogger(rc.Logger)}, o.executorOpts...)...)

	messages := scrubInboundImages(SanitizeHistory(req.Messages), rc.Scanner)
	system := BuildSystemPrompt(rc, catalog, req.Prompt, time.Now())
	schemas := Schemas(catalog)

	// Tool support is a model property; unsupported models run tool-free
	// with an explicit notification rather than a provider error.
	limit := 0
	toolsAllowed := true
	if m, ok := LookupModel(provider, req.Model); ok {
		limit = m.ContextWindow
		toolsAllowed = m.SupportsTools
	}
	if !toolsAllowed && len(schemas) > 0 {
		sink.Send(Event{Type: EventToolsSkipped, Data: map[string]any{
			"reason": fmt.Sprintf("model %s does not support tool calling", req.Model),
			"count":  len(schemas),
		}})
		schemas = nil
	}

	overheadChars := len(system)
	for _, s := range schemas {
		overheadChars += len(s.Name) + len(s.Description) + len(s.Parameters)
	}

	res.Messages = messages
	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return res, &LoopError{Phase: res.Phase, Round: round, Cause: err}
		}

		phase := PhaseToolRound
		if round == 0 {
			phase = PhaseFirstCall
		}
		res.Phase = phase

		// On the last permitted call the model gets no tools, so it must
		// answer in text instead of opening another round.
		reqSchemas := schemas
		if round >= o.maxRounds {
			reqSchemas = nil
			sink.Send(Event{Type: EventToolsSkipped, Data: map[string]any{
				"reason": "maximum tool rounds reached",
				"round":  round,
			}})
		}

		managed := o.budget.Manage(res.Messages, limit, overheadChars)
		sink.Send(Event{Type: EventContextStatus, Data: map[string]any{
			"round":       round,
			"tokens":      managed.ManagedTokens,
			"token_limit": managed.TokenLimit,
			"managed":     managed.WasManaged,
		}})
		if managed.WasManaged {
			sink.Send(Event{Type: EventContextManaged, Data: map[string]any{
				"round":           round,
				"original_tokens": managed.OriginalTokens,
				"managed_tokens":  managed.ManagedTokens,
				"token_limit":     managed.TokenLimit,
			}})
		}
		res.Messages = managed.Messages

		ch, err := provider.Stream(ctx, &StreamRequest{
			Model:     req.Model,
			System:    system,
			Messages:  res.Messages,
			Tools:     reqSchemas,
			MaxTokens: req.MaxTokens,
		})
		if err != nil {
			return res, &LoopError{Phase: phase, Round: round, Message: "starting completion", Cause: err}
		}
		outcome, err := CollectStream(ctx, ch, func(delta string) {
			sink.Send(Event{Type: EventContentDelta, Data: map[string]any{"delta": delta}})
		})
		if err != nil {
			return res, &LoopError{Phase: phase, Round: round, Message: "streaming completion", Cause: err}
		}
		res.Usage.InputTokens += outcome.Usage.InputTokens
		res.Usage.OutputTokens += outcome.Usage.OutputTokens

		if len(outcome.Invalid) > 0 {
			sink.Send(Event{Type: EventInvalidToolCalls, Data: map[string]any{
				"round": round,
				"calls": outcome.Invalid,
			}})
		}
		if outcome.ToolCallError != "" {
			sink.Send(Event{Type: EventToolsSkipped, Data: map[string]any{
				"reason": outcome.ToolCallError,
				"round":  round,
			}})
		}

		// The cap is a hard bound, not a hint. A model that emits tool calls
		// even after tools were withheld gets its calls dropped and the run
		// terminates on this turn's text.
		if round >= o.maxRounds && len(outcome.Message.ToolCalls) > 0 {
			rc.Logger.Warn("round cap exceeded, dropping tool calls",
				"round", round, "dropped_calls", len(outcome.Message.ToolCalls))
			sink.Send(Event{Type: EventError, Data: map[string]any{
				"message":    ErrMaxRounds.Error(),
				"round":      round,
				"max_rounds": o.maxRounds,
			}})
			outcome.Message.ToolCalls = nil
		}

		res.Messages = append(res.Messages, outcome.Message)
		sink.Send(Event{Type: EventAssistantMessage, Data: map[string]any{
			"content":    outcome.Message.Content,
			"tool_calls": len(outcome.Message.ToolCalls),
			"round":      round,
		}})

		if len(outcome.Message.ToolCalls) == 0 {
			res.FinalContent = outcome.Message.Content
			res.Rounds = round
			res.Phase = PhaseDone
			return res, nil
		}

		res.Rounds = round + 1
		record.Status = models.ExecutionRunning
		record.Rounds = res.Rounds
		o.saveExecution(ctx, record)

		outcomes := executor.ExecuteRound(ctx, outcome.Message.ToolCalls, round+1, rc, sink)
		summary := make([]map[string]any, 0, len(outcomes))
		for i := range outcomes {
			oc := &outcomes[i]
			rec := models.ToolExecutionRecord{
				ID:          uuid.NewString(),
				ExecutionID: rc.RunID,
				ToolCallID:  oc.Call.ID,
				ToolName:    oc.Call.Name,
				Round:       round + 1,
				Arguments:   string(oc.Call.Arguments),
				Result:      oc.Result,
				Status:      models.ExecutionCompleted,
				StartedAt:   oc.StartedAt,
				FinishedAt:  oc.FinishedAt,
			}
			if oc.Err != nil {
				rec.Status = models.ExecutionFailed
				rec.Error = oc.Err.Message
			}
			res.ToolCalls = append(res.ToolCalls, rec)
			o.saveToolExecution(ctx, &rec)
			o.observer.ToolExecuted(oc.Call.Name, oc.Succeeded(), oc.FinishedAt.Sub(oc.StartedAt))
			summary = append(summary, map[string]any{
				"tool_call_id": oc.Call.ID,
				"tool":         oc.Call.Name,
				"success":      oc.Succeeded(),
			})
		}
		sink.Send(Event{Type: EventToolExecutions, Data: map[string]any{
			"round": round + 1,
			"calls": summary,
		}})

		res.Messages = append(res.Messages, ToolMessages(outcomes)...)
	}
}

// scrubInboundImages runs the image extractor once over the inbound history
// at run start. Base64 images carried over from earlier turns are preserved
// in the run's store and replaced with reference tokens before the first
// model call, so raw image data never reaches the provider or the token
// budget. Round 0 marks payloads extracted from history.
func scrubInboundImages(msgs []models.Message, scanner *offload.Scanner) []models.Message {
	for i := range msgs {
		msgs[i].Content = scanner.ExtractImages(msgs[i].Content, 0)
	}
	return msgs
}

func (o *Orchestrator) saveExecution(ctx context.Context, rec *models.ExecutionRecord) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveExecution(ctx, rec); err != nil {
		o.logger.Warn("saving execution record", "execution_id", rec.ID, "error", err)
	}
}

func (o *Orchestrator) saveToolExecution(ctx context.Context, rec *models.ToolExecutionRecord) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveToolExecution(ctx, rec); err != nil {
		o.logger.Warn("saving tool execution record", "tool", rec.ToolName, "error", err)
	}
}

func (o *Orchestrator) upsertConversation(ctx context.Context, req *Request, rc *RunContext, res *RunResult) {
	if o.store == nil {
		return
	}
	log := &models.ConversationLog{
		ID:            rc.ConversationID,
		UserID:        rc.UserID,
		ChatKind:      rc.ChatKind,
		Messages:      res.Messages,
		FinalResponse: res.FinalContent,
		ToolCalls:     res.ToolCalls,
		UpdatedAt:     time.Now(),
	}
	if res.Error != "" {
		log.Errors = []string{res.Error}
	}
	if err := o.store.UpsertConversation(ctx, log); err != nil {
		o.logger.Warn("upserting conversation log", "conversation_id", log.ID, "error", err)
	}
}
