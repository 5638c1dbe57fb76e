// Package protocol implements the three-way wire translation between the
// OpenAI Chat Completions dialect, the Anthropic Messages dialect, and the
// Google-generative-AI-shaped upstream dialect ("Cloud Code").
//
// The canonical Message/Block types below are the intermediate
// representation every translation passes through: OpenAI and Anthropic
// requests are both parsed into these types, and upstream Google responses
// are built back up into these types before being rendered into whichever
// client dialect the caller spoke.
package protocol

import "encoding/json"

// Role is the canonical message role. System is legal only on input; it is
// always lifted out of Messages into Request.System before translation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// BlockType discriminates the tagged union of content block variants.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockThinking   BlockType = "thinking"
)

// ImageSourceKind distinguishes an inline base64 image from a remote URL.
type ImageSourceKind string

const (
	ImageSourceBase64 ImageSourceKind = "base64"
	ImageSourceURL    ImageSourceKind = "url"
)

// ImageSource is the source of an image block, one of the two kinds above.
type ImageSource struct {
	Kind      ImageSourceKind
	MediaType string // IANA media type, required when Kind == base64
	Data      string // base64 payload, present when Kind == base64
	URL       string // present when Kind == url
}

// Block is a single tagged content unit. Exactly the fields relevant to
// Type are populated; this mirrors the source's dynamic block variants as
// an explicit Go sum type rather than stringly-typed dispatch.
type Block struct {
	Type BlockType

	// text
	Text string

	// image
	Image ImageSource

	// tool_use (assistant only)
	ToolUseID        string
	ToolName         string
	ToolInput        json.RawMessage
	ThoughtSignature string // opaque, base64-encoded when carried across the wire

	// tool_result (user only)
	ToolResultID      string
	ToolResultContent string

	// thinking (assistant only, streaming-constructed)
	Thinking          string
	ThinkingSignature string
}

// Message is one turn of the canonical conversation.
type Message struct {
	Role    Role
	Content []Block // a plain string input is represented as a single Block{Type: text}
}

// ToolChoiceKind selects how the model may use tools.
type ToolChoiceKind string

const (
	ToolChoiceAuto ToolChoiceKind = "auto"
	ToolChoiceAny  ToolChoiceKind = "any"
	ToolChoiceTool ToolChoiceKind = "tool"
	// ToolChoiceNone is not a wire value; it marks "tools omitted entirely",
	// the collapse target for OpenAI's tool_choice: none (spec.md §3).
	ToolChoiceNone ToolChoiceKind = "none"
)

// ToolChoice selects which, if any, tool the model must call.
type ToolChoice struct {
	Kind ToolChoiceKind
	Name string // populated when Kind == tool
}

// ToolSchema is one callable tool definition.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Thinking configures extended-thinking behavior.
type Thinking struct {
	Enabled     bool
	BudgetTokens int
}

// Request is the canonical, dialect-neutral request shape.
type Request struct {
	Model         string
	Messages      []Message
	System        string
	MaxTokens     int
	Temperature   *float64
	TopP          *float64
	StopSequences []string
	Tools         []ToolSchema
	ToolChoice    *ToolChoice
	Thinking      *Thinking
	Stream        bool
}

// StopReason is the canonical Anthropic-shaped stop reason.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// Usage is the canonical, Anthropic-shaped token accounting.
type Usage struct {
	InputTokens             int
	OutputTokens            int
	CacheReadInputTokens    int
	CacheCreationInputTokens int
}

// Response is the canonical non-streaming response shape (Anthropic form,
// per spec.md §3 — the OpenAI non-streaming body is derived from this one).
type Response struct {
	ID           string
	Model        string
	Role         Role
	Content      []Block
	StopReason   StopReason
	StopSequence *string
	Usage        Usage
}
