package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/praxisworks/praxis/pkg/models"
)

const (
	// DefaultMaxConcurrentTools bounds tool fan-out within one round.
	DefaultMaxConcurrentTools = 5

	// DefaultToolTimeout is the per-call execution deadline.
	DefaultToolTimeout = 60 * time.Second
)

// ToolOutcome is the settled result of one tool call. Result is always valid
// JSON; failures are encoded, never raised.
type ToolOutcome struct {
	Call       models.ToolCall
	Result     string
	Err        *ToolError
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether the call completed without a structured failure.
func (o *ToolOutcome) Succeeded() bool { return o.Err == nil }

// Executor runs tool calls against a catalog with bounded concurrency. It
// never returns an error for a tool failure: every call settles into a JSON
// result the model can read and react to.
type Executor struct {
	catalog        Catalog
	validator      *argValidator
	maxConcurrency int
	timeout        time.Duration
	logger         *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMaxConcurrency bounds simultaneous tool executions per round.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithToolTimeout sets the per-call deadline.
func WithToolTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an executor over the given catalog.
func NewExecutor(catalog Catalog, opts ...ExecutorOption) *Executor {
	e := &Executor{
		catalog:        catalog,
		validator:      newArgValidator(),
		maxConcurrency: DefaultMaxConcurrentTools,
		timeout:        DefaultToolTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteRound runs all calls of one round concurrently, bounded by the
// concurrency limit, and returns outcomes in the order the model issued the
// calls regardless of completion order.
func (e *Executor) ExecuteRound(ctx context.Context, calls []models.ToolCall, round int, rc *RunContext, sink Sink) []ToolOutcome {
	if sink == nil {
		sink = discardSink{}
	}
	outcomes := make([]ToolOutcome, len(calls))
	sem := make(chan struct{}, e.maxConcurrency)
	done := make(chan int, len(calls))

	for i, call := range calls {
		go func(idx int, call models.ToolCall) {
			defer func() { done <- idx }()
			sem <- struct{}{}
			defer func() { <-sem }()

			sink.Send(Event{Type: EventToolStart, Data: map[string]any{
				"tool_call_id": call.ID,
				"tool":         call.Name,
				"round":        round,
			}})
			outcomes[idx] = e.executeOne(ctx, call, round, rc)
			o := &outcomes[idx]
			end := map[string]any{
				"tool_call_id": call.ID,
				"tool":         call.Name,
				"round":        round,
				"success":      o.Succeeded(),
				"duration_ms":  o.FinishedAt.Sub(o.StartedAt).Milliseconds(),
			}
			if o.Err != nil {
				end["error"] = o.Err.Message
				end["error_type"] = string(o.Err.Class)
			}
			sink.Send(Event{Type: EventToolEnd, Data: end})
		}(i, call)
	}
	for range calls {
		<-done
	}
	return outcomes
}

// executeOne runs the full per-call pipeline: reference resolution, catalog
// lookup, schema validation, panic-safe invocation, output recovery, and
// offload scrubbing.
func (e *Executor) executeOne(ctx context.Context, call models.ToolCall, round int, rc *RunContext) ToolOutcome {
	out := ToolOutcome{Call: call, StartedAt: time.Now()}
	defer func() { out.FinishedAt = time.Now() }()

	fail := func(te *ToolError) ToolOutcome {
		te = te.WithToolCallID(call.ID)
		out.Err = te
		out.Result = failureResult(te)
		out.FinishedAt = time.Now()
		e.logger.Warn("tool call failed",
			"tool", call.Name, "tool_call_id", call.ID,
			"round", round, "error_type", string(te.Class), "error", te.Message)
		return out
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		return fail(NewToolError(call.Name, nil).
			WithClass(ToolErrorArguments).
			WithMessage("tool call arguments are not valid JSON"))
	}

	if rc != nil && rc.Scanner != nil {
		resolved, unknown := rc.Scanner.Resolve(args)
		if len(unknown) > 0 {
			e.logger.Warn("tool call references unknown content",
				"tool", call.Name, "refs", unknown)
		}
		args = resolved
	}

	tool, ok := e.catalog.Resolve(call.Name)
	if !ok {
		return fail(NewToolError(call.Name, ErrToolNotFound).
			WithClass(ToolErrorNotFound).
			WithMessage(fmt.Sprintf("tool %q is not available", call.Name)))
	}

	if err := e.validator.Validate(call.Name, tool.Schema(), args); err != nil {
		return fail(NewToolError(call.Name, err).WithClass(ToolErrorValidation))
	}

	raw, err := e.invoke(ctx, tool, args, rc)
	if err != nil {
		te, ok := GetToolError(err)
		if !ok {
			te = NewToolError(call.Name, err)
		}
		te.ToolName = call.Name
		return fail(te)
	}

	result := recoverToolOutput(raw)
	if rc != nil && rc.Scanner != nil {
		result = rc.Scanner.ScrubToolResult(result, round)
	}
	out.Result = result
	out.FinishedAt = time.Now()
	return out
}

// invoke runs the tool with a deadline and panic recovery.
func (e *Executor) invoke(ctx context.Context, tool Tool, args json.RawMessage, rc *RunContext) (result string, err error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = NewToolError(tool.Name(), fmt.Errorf("%w: %v", ErrToolPanic, r)).
				WithClass(ToolErrorPanic).
				WithMessage(fmt.Sprintf("tool panicked: %v", r))
		}
	}()
	result, err = tool.Execute(ctx, args, rc)
	if err == nil && ctx.Err() != nil {
		err = NewToolError(tool.Name(), ctx.Err()).WithClass(ToolErrorTimeout)
	}
	return result, err
}

// failureResult encodes a tool failure as the JSON the model sees.
func failureResult(te *ToolError) string {
	out, err := json.Marshal(map[string]any{
		"success":    false,
		"error":      te.Message,
		"error_type": string(te.Class),
		"retryable":  te.Class.IsRetryable(),
	})
	if err != nil {
		return `{"success":false,"error":"internal error encoding tool failure"}`
	}
	return string(out)
}

// ToolMessages converts settled outcomes into tool-role messages, one per
// call, in call order.
func ToolMessages(outcomes []ToolOutcome) []models.Message {
	msgs := make([]models.Message, 0, len(outcomes))
	for _, o := range outcomes {
		msgs = append(msgs, models.Message{
			Role:       models.RoleTool,
			Content:    o.Result,
			ToolCallID: o.Call.ID,
			Name:       o.Call.Name,
		})
	}
	return msgs
}
