// Package models provides wire types shared by the trialchat server and its clients.
package models

// StreamEvent is one event of a turn stream.
//
// Exactly one payload is set for a given Type:
//   - run_start and run_done carry no payload
//   - message_delta carries Delta
//   - message_done carries Message
//   - error carries Error
//
// Within a run the sequence is always
// run_start, message_delta*, (message_done | error), run_done.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Delta   *DeltaPayload   `json:"delta,omitempty"`
	Message *ChatMessage    `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StreamEventType identifies the kind of stream event.
type StreamEventType string

const (
	StreamEventRunStart     StreamEventType = "run_start"
	StreamEventMessageDelta StreamEventType = "message_delta"
	StreamEventMessageDone  StreamEventType = "message_done"
	StreamEventError        StreamEventType = "error"
	StreamEventRunDone      StreamEventType = "run_done"
)

// DeltaPayload carries one incremental text fragment.
type DeltaPayload struct {
	Content string `json:"content"`
}

// RunStartEvent opens a turn stream.
func RunStartEvent() StreamEvent {
	return StreamEvent{Type: StreamEventRunStart}
}

// MessageDeltaEvent carries a text fragment in production order.
func MessageDeltaEvent(content string) StreamEvent {
	return StreamEvent{Type: StreamEventMessageDelta, Delta: &DeltaPayload{Content: content}}
}

// MessageDoneEvent carries the final assistant message.
func MessageDoneEvent(content string) StreamEvent {
	return StreamEvent{
		Type:    StreamEventMessageDone,
		Message: &ChatMessage{Role: RoleAssistant, Content: content},
	}
}

// ErrorEvent replaces message_done when the run fails.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: StreamEventError, Error: message}
}

// RunDoneEvent terminates every turn stream.
func RunDoneEvent() StreamEvent {
	return StreamEvent{Type: StreamEventRunDone}
}

// IsTerminal reports whether the event ends the outcome phase of a run.
func (e StreamEvent) IsTerminal() bool {
	return e.Type == StreamEventMessageDone || e.Type == StreamEventError
}
