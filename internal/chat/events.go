package chat

import "github.com/praxisworks/praxis/internal/offload"

// EventType names the events emitted over a conversation's stream. Clients
// key their rendering off these names; they are part of the public contract.
type EventType string

const (
	EventConversationStarted EventType = "conversation_started"
	EventAssistantMessage    EventType = "assistant_message"
	EventContentDelta        EventType = "content_delta"
	EventToolStart           EventType = "tool_start"
	EventToolEnd             EventType = "tool_end"
	EventToolExecutions      EventType = "tool_executions"
	EventImageGenerated      EventType = "image_generated"
	EventDataOffloaded       EventType = "data_offloaded"
	EventDataContent         EventType = "data_content"
	EventContextStatus       EventType = "context_status"
	EventContextManaged      EventType = "context_managed"
	EventToolsSkipped        EventType = "tools_skipped"
	EventInvalidToolCalls    EventType = "invalid_tool_calls"
	EventError               EventType = "error"
	EventFinalContent        EventType = "final_content"
	EventAgentExecStarted    EventType = "agent_execution_started"
	EventAgentExecCompleted  EventType = "agent_execution_completed"
	EventDone                EventType = "done"
)

// Event is one streamed notification. Data is any JSON-marshalable value;
// the transport layer owns serialization.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// Sink receives events in emission order. Implementations must tolerate
// being called after the client went away; the loop never checks.
type Sink interface {
	Send(Event)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(Event)

// Send implements Sink.
func (f SinkFunc) Send(e Event) { f(e) }

// discardSink drops everything; used when no client is streaming.
type discardSink struct{}

func (discardSink) Send(Event) {}

// offloadEmitter bridges scanner notifications onto the event stream. An
// offloaded field produces two events: data_offloaded announces the
// replacement with reference metadata only, and data_content is the side
// channel carrying the preserved payload's full value to the client.
// Extracted images keep their single image_generated event with the payload
// inline.
func offloadEmitter(sink Sink) offload.EmitFunc {
	return func(e offload.Event) {
		if e.Type == offload.EventImageGenerated {
			sink.Send(Event{Type: EventImageGenerated, Data: map[string]any{
				"ref_id":    e.RefID,
				"payload":   e.Payload,
				"mime_type": e.MIMEType,
				"field":     e.Field,
				"round":     e.Round,
			}})
			return
		}
		sink.Send(Event{Type: EventDataOffloaded, Data: map[string]any{
			"ref_id": e.RefID,
			"field":  e.Field,
			"round":  e.Round,
			"bytes":  len(e.Payload),
		}})
		sink.Send(Event{Type: EventDataContent, Data: map[string]any{
			"ref_id":  e.RefID,
			"payload": e.Payload,
			"field":   e.Field,
			"round":   e.Round,
		}})
	}
}
