package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/praxisworks/praxis/pkg/models"
)

func decodeFailure(t *testing.T, result string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(result), &out); err != nil {
		t.Fatalf("result is not valid JSON: %v\n%s", err, result)
	}
	return out
}

func TestExecuteRoundSuccess(t *testing.T) {
	catalog := NewRegistry()
	catalog.Register(echoTool())
	e := NewExecutor(catalog)

	calls := []models.ToolCall{
		{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"value":"one"}`)},
	}
	outcomes := e.ExecuteRound(context.Background(), calls, 1, nil, nil)

	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	o := outcomes[0]
	if !o.Succeeded() {
		t.Fatalf("outcome failed: %v", o.Err)
	}
	if !strings.Contains(o.Result, `"echoed":"one"`) {
		t.Errorf("result = %q", o.Result)
	}
	if o.FinishedAt.Before(o.StartedAt) {
		t.Error("finished before started")
	}
}

func TestExecuteRoundPreservesCallOrder(t *testing.T) {
	catalog := NewRegistry()
	catalog.Register(&ToolFunc{
		ToolName: "sleepy",
		Fn: func(_ context.Context, args json.RawMessage, _ *RunContext) (string, error) {
			var in struct {
				ID    string `json:"id"`
				Delay int    `json:"delay"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", err
			}
			time.Sleep(time.Duration(in.Delay) * time.Millisecond)
			return fmt.Sprintf(`{"id":%q}`, in.ID), nil
		},
	})
	e := NewExecutor(catalog)

	// The first call is slowest; outcomes must still come back in call order.
	calls := []models.ToolCall{
		{ID: "a", Name: "sleepy", Arguments: json.RawMessage(`{"id":"a","delay":60}`)},
		{ID: "b", Name: "sleepy", Arguments: json.RawMessage(`{"id":"b","delay":10}`)},
		{ID: "c", Name: "sleepy", Arguments: json.RawMessage(`{"id":"c","delay":1}`)},
	}
	outcomes := e.ExecuteRound(context.Background(), calls, 1, nil, nil)

	for i, want := range []string{"a", "b", "c"} {
		if outcomes[i].Call.ID != want {
			t.Errorf("outcomes[%d] = call %s, want %s", i, outcomes[i].Call.ID, want)
		}
		if !strings.Contains(outcomes[i].Result, fmt.Sprintf(`"id":%q`, want)) {
			t.Errorf("outcomes[%d] result = %q", i, outcomes[i].Result)
		}
	}

	msgs := ToolMessages(outcomes)
	for i, want := range []string{"a", "b", "c"} {
		if msgs[i].ToolCallID != want {
			t.Errorf("msgs[%d].ToolCallID = %s, want %s", i, msgs[i].ToolCallID, want)
		}
		if msgs[i].Role != models.RoleTool {
			t.Errorf("msgs[%d].Role = %s", i, msgs[i].Role)
		}
	}
}

func TestExecuteRoundBoundsConcurrency(t *testing.T) {
	var (
		mu          sync.Mutex
		count, peak int
	)

	catalog := NewRegistry()
	catalog.Register(&ToolFunc{
		ToolName: "busy",
		Fn: func(_ context.Context, _ json.RawMessage, _ *RunContext) (string, error) {
			mu.Lock()
			count++
			if count > peak {
				peak = count
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			count--
			mu.Unlock()
			return `{}`, nil
		},
	})
	e := NewExecutor(catalog, WithMaxConcurrency(2))

	calls := make([]models.ToolCall, 6)
	for i := range calls {
		calls[i] = models.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "busy", Arguments: json.RawMessage(`{}`)}
	}
	e.ExecuteRound(context.Background(), calls, 1, nil, nil)

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestExecuteRoundUnknownTool(t *testing.T) {
	e := NewExecutor(NewRegistry())
	outcomes := e.ExecuteRound(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "nope", Arguments: json.RawMessage(`{}`)},
	}, 1, nil, nil)

	o := outcomes[0]
	if o.Succeeded() {
		t.Fatal("expected failure")
	}
	if o.Err.Class != ToolErrorNotFound {
		t.Errorf("class = %s, want %s", o.Err.Class, ToolErrorNotFound)
	}
	failure := decodeFailure(t, o.Result)
	if failure["success"] != false {
		t.Errorf("result success = %v, want false", failure["success"])
	}
	if failure["error_type"] != "not_found" {
		t.Errorf("error_type = %v", failure["error_type"])
	}
	if failure["retryable"] != false {
		t.Errorf("retryable = %v, want false", failure["retryable"])
	}
}

func TestExecuteRoundMalformedArguments(t *testing.T) {
	catalog := NewRegistry()
	catalog.Register(echoTool())
	e := NewExecutor(catalog)

	outcomes := e.ExecuteRound(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{broken`)},
	}, 1, nil, nil)

	o := outcomes[0]
	if o.Succeeded() {
		t.Fatal("expected failure")
	}
	if o.Err.Class != ToolErrorArguments {
		t.Errorf("class = %s, want %s", o.Err.Class, ToolErrorArguments)
	}
}

func TestExecuteRoundSchemaValidation(t *testing.T) {
	catalog := NewRegistry()
	catalog.Register(echoTool())
	e := NewExecutor(catalog)

	// echo requires "value"; an empty object must fail validation, and the
	// failure text names the violation so the model can correct itself.
	outcomes := e.ExecuteRound(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{}`)},
	}, 1, nil, nil)

	o := outcomes[0]
	if o.Succeeded() {
		t.Fatal("expected validation failure")
	}
	if o.Err.Class != ToolErrorValidation {
		t.Errorf("class = %s, want %s", o.Err.Class, ToolErrorValidation)
	}
	failure := decodeFailure(t, o.Result)
	if msg, _ := failure["error"].(string); !strings.Contains(msg, "value") {
		t.Errorf("error message %q does not name the missing property", msg)
	}
}

func TestExecuteRoundToolPanic(t *testing.T) {
	catalog := NewRegistry()
	catalog.Register(&ToolFunc{
		ToolName: "bomb",
		Fn: func(_ context.Context, _ json.RawMessage, _ *RunContext) (string, error) {
			panic("kaboom")
		},
	})
	e := NewExecutor(catalog)

	outcomes := e.ExecuteRound(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "bomb", Arguments: json.RawMessage(`{}`)},
	}, 1, nil, nil)

	o := outcomes[0]
	if o.Succeeded() {
		t.Fatal("expected failure")
	}
	if o.Err.Class != ToolErrorPanic {
		t.Errorf("class = %s, want %s", o.Err.Class, ToolErrorPanic)
	}
	if !strings.Contains(o.Err.Message, "kaboom") {
		t.Errorf("message = %q", o.Err.Message)
	}
}

func TestExecuteRoundTimeout(t *testing.T) {
	catalog := NewRegistry()
	catalog.Register(&ToolFunc{
		ToolName: "slow",
		Fn: func(ctx context.Context, _ json.RawMessage, _ *RunContext) (string, error) {
			// Ignores ctx on purpose; the executor still reports a timeout.
			time.Sleep(80 * time.Millisecond)
			return `{"late":true}`, nil
		},
	})
	e := NewExecutor(catalog, WithToolTimeout(10*time.Millisecond))

	outcomes := e.ExecuteRound(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "slow", Arguments: json.RawMessage(`{}`)},
	}, 1, nil, nil)

	o := outcomes[0]
	if o.Succeeded() {
		t.Fatal("expected timeout failure")
	}
	if o.Err.Class != ToolErrorTimeout {
		t.Errorf("class = %s, want %s", o.Err.Class, ToolErrorTimeout)
	}
	failure := decodeFailure(t, o.Result)
	if failure["retryable"] != true {
		t.Errorf("retryable = %v, want true", failure["retryable"])
	}
}

func TestExecuteRoundExecutionError(t *testing.T) {
	catalog := NewRegistry()
	catalog.Register(&ToolFunc{
		ToolName: "flaky",
		Fn: func(_ context.Context, _ json.RawMessage, _ *RunContext) (string, error) {
			return "", errors.New("backend exploded")
		},
	})
	e := NewExecutor(catalog)

	outcomes := e.ExecuteRound(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "flaky", Arguments: json.RawMessage(`{}`)},
	}, 1, nil, nil)

	o := outcomes[0]
	if o.Err == nil || o.Err.Class != ToolErrorExecution {
		t.Fatalf("err = %v, want execution class", o.Err)
	}
	if o.Err.ToolCallID != "c1" {
		t.Errorf("tool call id = %q, want c1", o.Err.ToolCallID)
	}
}

func TestExecuteRoundEmptyArgumentsNormalized(t *testing.T) {
	catalog := NewRegistry()
	catalog.Register(&ToolFunc{
		ToolName:   "noargs",
		ToolSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Fn: func(_ context.Context, args json.RawMessage, _ *RunContext) (string, error) {
			if string(args) != "{}" {
				return "", fmt.Errorf("args = %s, want {}", args)
			}
			return `{"ok":true}`, nil
		},
	})
	e := NewExecutor(catalog)

	outcomes := e.ExecuteRound(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "noargs"},
	}, 1, nil, nil)

	if !outcomes[0].Succeeded() {
		t.Fatalf("outcome failed: %v", outcomes[0].Err)
	}
}

func TestExecuteRoundEmitsToolEvents(t *testing.T) {
	catalog := NewRegistry()
	catalog.Register(echoTool())
	e := NewExecutor(catalog)

	sink := &eventRecorder{}
	e.ExecuteRound(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"value":"x"}`)},
		{ID: "c2", Name: "missing", Arguments: json.RawMessage(`{}`)},
	}, 3, nil, sink)

	if sink.count(EventToolStart) != 2 || sink.count(EventToolEnd) != 2 {
		t.Fatalf("tool events = %d starts / %d ends, want 2/2",
			sink.count(EventToolStart), sink.count(EventToolEnd))
	}
	// The failed call's end event carries the error class.
	found := false
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, ev := range sink.events {
		if ev.Type != EventToolEnd {
			continue
		}
		data := ev.Data.(map[string]any)
		if data["tool_call_id"] == "c2" {
			found = true
			if data["error_type"] != "not_found" {
				t.Errorf("error_type = %v", data["error_type"])
			}
		}
	}
	if !found {
		t.Error("no tool_end event for the failed call")
	}
}
