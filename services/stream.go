package services

import "context"

// Stream event types delivered to the client. The terminal event
// (done) is always emitted last; error and session_end precede it.
const (
	EventChunk      = "chunk"
	EventError      = "error"
	EventSessionEnd = "session_end"
	EventDone       = "done"
)

type StreamEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// EventSink receives stream events for one request. Emit is best-effort:
// implementations must swallow transport failures (a disconnected client)
// rather than panic, so producers never block on a dead consumer.
type EventSink interface {
	Emit(ev StreamEvent)
}

// StreamPatientReply drives one streaming completion round. Chunks are
// forwarded to the sink in arrival order; on upstream failure an error
// event is emitted in-band. endAfter appends a session_end signal after
// the reply. The done event terminates the stream on every path. Returns
// the accumulated reply text.
func StreamPatientReply(ctx context.Context, c Completer, system, prompt string, endAfter bool, sink EventSink) (string, error) {
	full, err := c.StreamText(ctx, system, prompt, func(delta string) {
		sink.Emit(StreamEvent{Type: EventChunk, Content: delta})
	})
	if err != nil {
		sink.Emit(StreamEvent{Type: EventError, Content: "An error occurred with the AI service."})
		sink.Emit(StreamEvent{Type: EventDone})
		return "", err
	}

	if endAfter {
		sink.Emit(StreamEvent{Type: EventSessionEnd, Summary: ClosingSummary})
	}
	sink.Emit(StreamEvent{Type: EventDone})
	return full, nil
}
