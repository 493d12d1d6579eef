package normalize

// EventKind discriminates the NormalizedStreamEvent sum. Every consumer
// switches on this exhaustively; a missing case is a bug, not a default.
type EventKind string

const (
	EventStart         EventKind = "start"
	EventDelta         EventKind = "delta"
	EventToolCallDelta EventKind = "tool_call_delta"
	EventUsage         EventKind = "usage"
	EventEnd           EventKind = "end"
	EventError         EventKind = "error"
)

// Delta carries incremental text for a choice. Role is only ever set on
// the first delta of a choice; Content is the text fragment.
type Delta struct {
	Role    *Role  `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ToolCallFunctionDelta carries incremental tool-call identity and
// argument fragments. Name and ID are replayed on every fragment by some
// dialects; consumers must tolerate repetition and key accumulation by
// (Index, ToolCallIndex) rather than by presence of ID.
type ToolCallFunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamEvent is the tagged sum over Start/Delta/ToolCallDelta/Usage/End/
// Error. Exactly the fields relevant to Kind are populated; the rest are
// zero value.
type StreamEvent struct {
	Kind EventKind

	// Start
	ID    string
	Model string

	// Delta / ToolCallDelta
	Index         int
	ToolCallIndex int
	ToolCallID    string
	Delta         *Delta
	ToolCall      *ToolCallFunctionDelta

	// Usage
	Usage *Usage

	// End
	FinishReason *FinishReason

	// Error
	ErrKind string
	ErrMsg  string
}

// StartEvent builds the always-first event of a stream.
func StartEvent(id, model string) StreamEvent {
	return StreamEvent{Kind: EventStart, ID: id, Model: model}
}

// DeltaEvent builds an incremental text event for the given choice index.
func DeltaEvent(index int, d Delta) StreamEvent {
	return StreamEvent{Kind: EventDelta, Index: index, Delta: &d}
}

// ToolCallDeltaEvent builds an incremental tool-call event.
func ToolCallDeltaEvent(index, toolCallIndex int, id string, fn ToolCallFunctionDelta) StreamEvent {
	return StreamEvent{
		Kind:          EventToolCallDelta,
		Index:         index,
		ToolCallIndex: toolCallIndex,
		ToolCallID:    id,
		ToolCall:      &fn,
	}
}

// UsageEvent builds a token-accounting event.
func UsageEvent(u Usage) StreamEvent {
	return StreamEvent{Kind: EventUsage, Usage: &u}
}

// EndEvent builds the terminal, per-choice completion event.
func EndEvent(reason FinishReason) StreamEvent {
	return StreamEvent{Kind: EventEnd, FinishReason: &reason}
}

// ErrorEvent builds a terminal error event; no further events follow it.
func ErrorEvent(kind, msg string) StreamEvent {
	return StreamEvent{Kind: EventError, ErrKind: kind, ErrMsg: msg}
}
