package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/praxisworks/praxis/pkg/models"
)

// fakeProvider replays scripted responses. Each Stream call consumes the
// next script; requests are recorded for assertions.
type fakeProvider struct {
	mu       sync.Mutex
	name     string
	models   []Model
	scripts  [][]*StreamChunk
	requests []*StreamRequest
	err      error
	panics   bool
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Models() []Model { return p.models }

func (p *fakeProvider) Stream(_ context.Context, req *StreamRequest) (<-chan *StreamChunk, error) {
	if p.panics {
		panic("provider exploded")
	}
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var script []*StreamChunk
	if len(p.scripts) > 0 {
		script = p.scripts[0]
		p.scripts = p.scripts[1:]
	}
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan *StreamChunk, len(script))
	for _, chunk := range script {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func newFakeProvider(scripts ...[]*StreamChunk) *fakeProvider {
	return &fakeProvider{
		name: "fake",
		models: []Model{
			{ID: "fake-1", Name: "Fake One", ContextWindow: 128000, SupportsTools: true},
			{ID: "fake-notools", Name: "Fake NoTools", ContextWindow: 8192},
		},
		scripts: scripts,
	}
}

func textScript(parts ...string) []*StreamChunk {
	var chunks []*StreamChunk
	for _, p := range parts {
		chunks = append(chunks, &StreamChunk{Text: p})
	}
	chunks = append(chunks, &StreamChunk{Usage: &Usage{InputTokens: 10, OutputTokens: 5}})
	return chunks
}

func toolCallScript(calls ...models.ToolCall) []*StreamChunk {
	var chunks []*StreamChunk
	for i := range calls {
		chunks = append(chunks, &StreamChunk{ToolCall: &calls[i]})
	}
	return chunks
}

// eventRecorder is a Sink that captures events; safe for concurrent sends.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Send(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) count(t EventType) int {
	n := 0
	for _, typ := range r.types() {
		if typ == t {
			n++
		}
	}
	return n
}

func (r *eventRecorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}

// fakeRecordStore captures persisted records in memory.
type fakeRecordStore struct {
	mu            sync.Mutex
	executions    map[string]models.ExecutionRecord
	toolExecs     []models.ToolExecutionRecord
	conversations map[string]models.ConversationLog
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		executions:    make(map[string]models.ExecutionRecord),
		conversations: make(map[string]models.ConversationLog),
	}
}

func (s *fakeRecordStore) SaveExecution(_ context.Context, rec *models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[rec.ID] = *rec
	return nil
}

func (s *fakeRecordStore) SaveToolExecution(_ context.Context, rec *models.ToolExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolExecs = append(s.toolExecs, *rec)
	return nil
}

func (s *fakeRecordStore) UpsertConversation(_ context.Context, log *models.ConversationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[log.ID] = *log
	return nil
}

func echoTool() Tool {
	return &ToolFunc{
		ToolName:        "echo",
		ToolDescription: "Echoes its input back.",
		ToolSchema:      json.RawMessage(`{"type":"object","properties":{"value":{"type":"string"}},"required":["value"]}`),
		Fn: func(_ context.Context, args json.RawMessage, _ *RunContext) (string, error) {
			var in struct {
				Value string `json:"value"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", err
			}
			out, _ := json.Marshal(map[string]string{"echoed": in.Value})
			return string(out), nil
		},
	}
}

func userMessages(content string) []models.Message {
	return []models.Message{{Role: models.RoleUser, Content: content}}
}

func TestRunPlainAnswer(t *testing.T) {
	provider := newFakeProvider(textScript("Hello ", "world"))
	registry := NewProviderRegistry()
	registry.Register(provider)
	store := newFakeRecordStore()
	o := NewOrchestrator(registry, WithRecordStore(store))

	sink := &eventRecorder{}
	res := o.Run(context.Background(), &Request{
		ConversationID: "c1",
		UserID:         "u1",
		Provider:       "fake",
		Model:          "fake-1",
		ChatKind:       models.ChatGeneral,
		Messages:       userMessages("hi"),
	}, sink)

	if res.Phase != PhaseDone {
		t.Fatalf("phase = %s, want %s (error: %s)", res.Phase, PhaseDone, res.Error)
	}
	if res.FinalContent != "Hello world" {
		t.Errorf("final content = %q, want %q", res.FinalContent, "Hello world")
	}
	if res.Rounds != 0 {
		t.Errorf("rounds = %d, want 0", res.Rounds)
	}
	if res.Usage.InputTokens != 10 || res.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v, want 10/5", res.Usage)
	}

	if sink.count(EventContentDelta) != 2 {
		t.Errorf("content_delta count = %d, want 2", sink.count(EventContentDelta))
	}
	if last := sink.last(); last.Type != EventDone {
		t.Errorf("last event = %s, want %s", last.Type, EventDone)
	}
	if sink.count(EventToolStart) != 0 {
		t.Errorf("unexpected tool events in a plain answer")
	}

	rec, ok := store.executions[res.RunID]
	if !ok {
		t.Fatalf("no execution record saved")
	}
	if rec.Status != models.ExecutionCompleted {
		t.Errorf("execution status = %s, want %s", rec.Status, models.ExecutionCompleted)
	}
	conv, ok := store.conversations["c1"]
	if !ok {
		t.Fatalf("no conversation log saved")
	}
	if conv.FinalResponse != "Hello world" {
		t.Errorf("conversation final response = %q", conv.FinalResponse)
	}
}

func TestRunSingleToolRound(t *testing.T) {
	provider := newFakeProvider(
		toolCallScript(models.ToolCall{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{"value":"hi"}`)}),
		textScript("All done."),
	)
	registry := NewProviderRegistry()
	registry.Register(provider)
	store := newFakeRecordStore()
	o := NewOrchestrator(registry, WithRecordStore(store))

	catalog := NewRegistry()
	catalog.Register(echoTool())

	sink := &eventRecorder{}
	res := o.Run(context.Background(), &Request{
		ConversationID: "c1",
		UserID:         "u1",
		Provider:       "fake",
		Model:          "fake-1",
		Messages:       userMessages("echo hi"),
		Catalog:        catalog,
	}, sink)

	if res.Phase != PhaseDone {
		t.Fatalf("phase = %s, want %s (error: %s)", res.Phase, PhaseDone, res.Error)
	}
	if res.Rounds != 1 {
		t.Errorf("rounds = %d, want 1", res.Rounds)
	}
	if res.FinalContent != "All done." {
		t.Errorf("final content = %q", res.FinalContent)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].ToolName != "echo" {
		t.Fatalf("tool calls = %+v, want one echo", res.ToolCalls)
	}
	if res.ToolCalls[0].Status != models.ExecutionCompleted {
		t.Errorf("tool call status = %s", res.ToolCalls[0].Status)
	}

	// The second model call must carry the tool result message.
	provider.mu.Lock()
	second := provider.requests[1]
	provider.mu.Unlock()
	last := second.Messages[len(second.Messages)-1]
	if last.Role != models.RoleTool || last.ToolCallID != "call_1" {
		t.Fatalf("last message of second request = %+v, want tool result for call_1", last)
	}
	if !strings.Contains(last.Content, `"echoed":"hi"`) {
		t.Errorf("tool result content = %q", last.Content)
	}

	for _, typ := range []EventType{EventToolStart, EventToolEnd, EventToolExecutions} {
		if sink.count(typ) != 1 {
			t.Errorf("%s count = %d, want 1", typ, sink.count(typ))
		}
	}
	if len(store.toolExecs) != 1 {
		t.Errorf("tool execution records = %d, want 1", len(store.toolExecs))
	}
}

func TestRunRoundCapStripsTools(t *testing.T) {
	// The provider keeps calling tools while tools are offered, and answers
	// in text only once they're withheld.
	provider := &fakeProvider{name: "fake"}
	provider.models = []Model{{ID: "fake-1", ContextWindow: 128000, SupportsTools: true}}
	scripted := func(req *StreamRequest) []*StreamChunk {
		if len(req.Tools) > 0 {
			return toolCallScript(models.ToolCall{
				ID: "call_n", Name: "echo", Arguments: json.RawMessage(`{"value":"again"}`),
			})
		}
		return textScript("Stopping here.")
	}
	// Wrap via scripts replenished per request.
	wrapped := &scriptedProvider{inner: provider, script: scripted}

	registry := NewProviderRegistry()
	registry.Register(wrapped)

	catalog := NewRegistry()
	catalog.Register(echoTool())

	sink := &eventRecorder{}
	o := NewOrchestrator(registry, WithMaxRounds(2))
	res := o.Run(context.Background(), &Request{
		ConversationID: "c1",
		UserID:         "u1",
		Provider:       "fake",
		Model:          "fake-1",
		Messages:       userMessages("loop forever"),
		Catalog:        catalog,
	}, sink)

	if res.Phase != PhaseDone {
		t.Fatalf("phase = %s, want %s (error: %s)", res.Phase, PhaseDone, res.Error)
	}
	if res.FinalContent != "Stopping here." {
		t.Errorf("final content = %q", res.FinalContent)
	}
	if res.Rounds != 2 {
		t.Errorf("rounds = %d, want 2", res.Rounds)
	}
	if sink.count(EventToolsSkipped) != 1 {
		t.Errorf("tools_skipped count = %d, want 1", sink.count(EventToolsSkipped))
	}
}

// scriptedProvider computes each response from the request.
type scriptedProvider struct {
	inner  *fakeProvider
	script func(*StreamRequest) []*StreamChunk
}

func (p *scriptedProvider) Name() string    { return p.inner.Name() }
func (p *scriptedProvider) Models() []Model { return p.inner.Models() }

func (p *scriptedProvider) Stream(_ context.Context, req *StreamRequest) (<-chan *StreamChunk, error) {
	chunks := p.script(req)
	ch := make(chan *StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func TestRunProviderFailureRecovered(t *testing.T) {
	provider := newFakeProvider()
	provider.err = errors.New("upstream on fire")
	registry := NewProviderRegistry()
	registry.Register(provider)
	store := newFakeRecordStore()
	o := NewOrchestrator(registry, WithRecordStore(store))

	sink := &eventRecorder{}
	res := o.Run(context.Background(), &Request{
		ConversationID: "c1",
		UserID:         "u1",
		Provider:       "fake",
		Model:          "fake-1",
		Messages:       userMessages("hi"),
	}, sink)

	if res.Phase != PhaseErrorRecovered {
		t.Fatalf("phase = %s, want %s", res.Phase, PhaseErrorRecovered)
	}
	if res.FinalContent != apologyMessage {
		t.Errorf("final content = %q, want apology", res.FinalContent)
	}
	if !strings.Contains(res.Error, "upstream on fire") {
		t.Errorf("error = %q", res.Error)
	}
	if last := sink.last(); last.Type != EventDone {
		t.Errorf("last event = %s, want %s even on failure", last.Type, EventDone)
	}
	if sink.count(EventError) != 1 {
		t.Errorf("error event count = %d, want 1", sink.count(EventError))
	}
	rec := store.executions[res.RunID]
	if rec.Status != models.ExecutionFailed {
		t.Errorf("execution status = %s, want %s", rec.Status, models.ExecutionFailed)
	}
}

func TestRunPanicRecovered(t *testing.T) {
	provider := newFakeProvider()
	provider.panics = true
	registry := NewProviderRegistry()
	registry.Register(provider)
	o := NewOrchestrator(registry)

	sink := &eventRecorder{}
	res := o.Run(context.Background(), &Request{
		ConversationID: "c1",
		UserID:         "u1",
		Provider:       "fake",
		Model:          "fake-1",
		Messages:       userMessages("hi"),
	}, sink)

	if res.Phase != PhaseErrorRecovered {
		t.Fatalf("phase = %s, want %s", res.Phase, PhaseErrorRecovered)
	}
	if !strings.Contains(res.Error, "panic") {
		t.Errorf("error = %q, want panic mention", res.Error)
	}
	if last := sink.last(); last.Type != EventDone {
		t.Errorf("last event = %s, want %s", last.Type, EventDone)
	}
}

func TestRunUnknownProviderRecovered(t *testing.T) {
	o := NewOrchestrator(NewProviderRegistry())
	res := o.Run(context.Background(), &Request{
		ConversationID: "c1",
		UserID:         "u1",
		Provider:       "missing",
		Model:          "m",
		Messages:       userMessages("hi"),
	}, nil)

	if res.Phase != PhaseErrorRecovered {
		t.Fatalf("phase = %s, want %s", res.Phase, PhaseErrorRecovered)
	}
	if !strings.Contains(res.Error, "no provider configured") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestRunModelWithoutToolSupport(t *testing.T) {
	provider := newFakeProvider(textScript("No tools for me."))
	registry := NewProviderRegistry()
	registry.Register(provider)
	o := NewOrchestrator(registry)

	catalog := NewRegistry()
	catalog.Register(echoTool())

	sink := &eventRecorder{}
	res := o.Run(context.Background(), &Request{
		ConversationID: "c1",
		UserID:         "u1",
		Provider:       "fake",
		Model:          "fake-notools",
		Messages:       userMessages("hi"),
		Catalog:        catalog,
	}, sink)

	if res.Phase != PhaseDone {
		t.Fatalf("phase = %s (error: %s)", res.Phase, res.Error)
	}
	if sink.count(EventToolsSkipped) != 1 {
		t.Errorf("tools_skipped count = %d, want 1", sink.count(EventToolsSkipped))
	}
	provider.mu.Lock()
	defer provider.mu.Unlock()
	if len(provider.requests[0].Tools) != 0 {
		t.Errorf("request carried %d tools, want 0", len(provider.requests[0].Tools))
	}
}

func TestRunInvalidToolCallsFiltered(t *testing.T) {
	provider := newFakeProvider(
		[]*StreamChunk{
			{ToolCall: &models.ToolCall{ID: "bad1", Name: "", Arguments: json.RawMessage(`{}`)}},
			{ToolCall: &models.ToolCall{ID: "good", Name: "echo", Arguments: json.RawMessage(`{"value":"x"}`)}},
			{ToolCall: &models.ToolCall{ID: "bad2", Name: "echo", Arguments: json.RawMessage(`{not json`)}},
		},
		textScript("Handled the valid one."),
	)
	registry := NewProviderRegistry()
	registry.Register(provider)
	o := NewOrchestrator(registry)

	catalog := NewRegistry()
	catalog.Register(echoTool())

	sink := &eventRecorder{}
	res := o.Run(context.Background(), &Request{
		ConversationID: "c1",
		UserID:         "u1",
		Provider:       "fake",
		Model:          "fake-1",
		Messages:       userMessages("go"),
		Catalog:        catalog,
	}, sink)

	if res.Phase != PhaseDone {
		t.Fatalf("phase = %s (error: %s)", res.Phase, res.Error)
	}
	if sink.count(EventInvalidToolCalls) != 1 {
		t.Errorf("invalid_tool_calls count = %d, want 1", sink.count(EventInvalidToolCalls))
	}
	// Only the structurally valid call executes.
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].ToolCallID != "good" {
		t.Fatalf("tool calls = %+v, want only the valid call", res.ToolCalls)
	}
}

func TestRunContextCanceled(t *testing.T) {
	provider := newFakeProvider(textScript("never seen"))
	registry := NewProviderRegistry()
	registry.Register(provider)
	o := NewOrchestrator(registry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := o.Run(ctx, &Request{
		ConversationID: "c1",
		UserID:         "u1",
		Provider:       "fake",
		Model:          "fake-1",
		Messages:       userMessages("hi"),
	}, nil)

	if res.Phase != PhaseErrorRecovered {
		t.Fatalf("phase = %s, want %s", res.Phase, PhaseErrorRecovered)
	}
	if !strings.Contains(res.Error, "context canceled") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestRunScrubsInboundImages(t *testing.T) {
	provider := newFakeProvider(textScript("Noted."))
	registry := NewProviderRegistry()
	registry.Register(provider)
	o := NewOrchestrator(registry)

	img := "data:image/png;base64,iVBORw0KGgoAAAANSUhEUg=="
	sink := &eventRecorder{}
	res := o.Run(context.Background(), &Request{
		ConversationID: "c1",
		UserID:         "u1",
		Provider:       "fake",
		Model:          "fake-1",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "look at this: " + img},
			{Role: models.RoleUser, Content: "what is it?"},
		},
	}, sink)

	if res.Phase != PhaseDone {
		t.Fatalf("phase = %s, want %s (error: %s)", res.Phase, PhaseDone, res.Error)
	}

	provider.mu.Lock()
	first := provider.requests[0]
	provider.mu.Unlock()
	got := first.Messages[0].Content
	if strings.Contains(got, ";base64,") {
		t.Errorf("raw image data reached the provider: %q", got)
	}
	if !strings.Contains(got, "{{IMAGE_REF:") {
		t.Errorf("history message carries no image reference: %q", got)
	}

	if sink.count(EventImageGenerated) != 1 {
		t.Fatalf("image_generated count = %d, want 1", sink.count(EventImageGenerated))
	}
	sink.mu.Lock()
	var imgEvent Event
	for _, e := range sink.events {
		if e.Type == EventImageGenerated {
			imgEvent = e
			break
		}
	}
	sink.mu.Unlock()
	data, ok := imgEvent.Data.(map[string]any)
	if !ok {
		t.Fatalf("image event data = %T", imgEvent.Data)
	}
	if data["payload"] != img {
		t.Errorf("event payload = %v, want the original data URL", data["payload"])
	}
	// Extraction from inbound history is marked round 0.
	if data["round"] != 0 {
		t.Errorf("event round = %v, want 0", data["round"])
	}
}

func TestRunRoundCapIsHardBound(t *testing.T) {
	// The provider keeps emitting tool calls even after tools are withheld.
	inner := &fakeProvider{name: "fake"}
	inner.models = []Model{{ID: "fake-1", ContextWindow: 128000, SupportsTools: true}}
	seq := 0
	defiant := &scriptedProvider{inner: inner, script: func(*StreamRequest) []*StreamChunk {
		seq++
		return toolCallScript(models.ToolCall{
			ID:        fmt.Sprintf("call_%d", seq),
			Name:      "echo",
			Arguments: json.RawMessage(`{"value":"again"}`),
		})
	}}

	registry := NewProviderRegistry()
	registry.Register(defiant)

	catalog := NewRegistry()
	catalog.Register(echoTool())

	sink := &eventRecorder{}
	o := NewOrchestrator(registry, WithMaxRounds(2))
	res := o.Run(context.Background(), &Request{
		ConversationID: "c1",
		UserID:         "u1",
		Provider:       "fake",
		Model:          "fake-1",
		Messages:       userMessages("loop forever"),
		Catalog:        catalog,
	}, sink)

	if res.Phase != PhaseDone {
		t.Fatalf("phase = %s, want %s (error: %s)", res.Phase, PhaseDone, res.Error)
	}
	if res.Rounds != 2 {
		t.Errorf("rounds = %d, want 2", res.Rounds)
	}
	if len(res.ToolCalls) != 2 {
		t.Errorf("tool executions = %d, want one per permitted round", len(res.ToolCalls))
	}
	if sink.count(EventToolsSkipped) != 1 {
		t.Errorf("tools_skipped count = %d, want 1", sink.count(EventToolsSkipped))
	}
	if sink.count(EventError) != 1 {
		t.Fatalf("error count = %d, want 1", sink.count(EventError))
	}
	sink.mu.Lock()
	var errEvent Event
	for _, e := range sink.events {
		if e.Type == EventError {
			errEvent = e
			break
		}
	}
	sink.mu.Unlock()
	data, ok := errEvent.Data.(map[string]any)
	if !ok {
		t.Fatalf("error event data = %T", errEvent.Data)
	}
	msg, _ := data["message"].(string)
	if !strings.Contains(msg, "maximum tool rounds") {
		t.Errorf("error message = %q", msg)
	}
	if last := sink.last(); last.Type != EventDone {
		t.Errorf("last event = %s, want %s", last.Type, EventDone)
	}
}
