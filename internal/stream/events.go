// Package stream implements the SSE Pipeline (C5): transforming an
// upstream Google-format event stream into Anthropic-format events, and
// optionally re-framing those into OpenAI-format chunks.
package stream

import "ccbridge/internal/protocol"

// EventType enumerates the Anthropic SSE event names spec.md §4.5 lists.
type EventType string

const (
	EventMessageStart      EventType = "message_start"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventMessageDelta      EventType = "message_delta"
	EventMessageStop       EventType = "message_stop"
	EventError             EventType = "error"
)

// DeltaType enumerates the content_block_delta/message_delta payload kinds.
type DeltaType string

const (
	DeltaText        DeltaType = "text_delta"
	DeltaInputJSON    DeltaType = "input_json_delta"
	DeltaThinking     DeltaType = "thinking_delta"
	DeltaSignature    DeltaType = "signature_delta"
)

// Event is the single wire shape every Anthropic SSE event marshals
// through. Only the fields relevant to Type are populated; omitempty
// keeps the emitted JSON matching what a real Anthropic stream sends.
type Event struct {
	Type EventType `json:"type"`

	Index *int `json:"index,omitempty"`

	Message *MessageStartPayload `json:"message,omitempty"`

	ContentBlock *protocol.AnthropicContentBlock `json:"content_block,omitempty"`

	Delta *Delta `json:"delta,omitempty"`

	Usage *protocol.AnthropicUsage `json:"usage,omitempty"`

	Error *ErrorPayload `json:"error,omitempty"`
}

// MessageStartPayload is message_start's embedded "message" object.
type MessageStartPayload struct {
	ID         string                          `json:"id"`
	Type       string                          `json:"type"`
	Role       string                          `json:"role"`
	Model      string                          `json:"model"`
	Content    []protocol.AnthropicContentBlock `json:"content"`
	StopReason *string                         `json:"stop_reason"`
	Usage      protocol.AnthropicUsage         `json:"usage"`
}

// Delta is the shared payload for content_block_delta and message_delta.
type Delta struct {
	Type DeltaType `json:"type,omitempty"`

	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`

	// message_delta fields (Type is empty on this event's Delta)
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

// ErrorPayload is the error event body (spec.md §7: emitted as a final SSE
// event when an error occurs after message_start).
type ErrorPayload struct {
	Kind    string `json:"type"`
	Message string `json:"message"`
}

// Sink receives one Anthropic event at a time, in order. Implementations
// may write SSE bytes immediately, buffer, or re-frame — the pipeline
// itself doesn't care, matching spec.md §9's "lazy event producer" note:
// push callback, pull iterator, or channel delivery are all equivalent.
type Sink interface {
	Emit(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Emit(e Event) error { return f(e) }
