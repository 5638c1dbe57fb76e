package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Hand-rolled Anthropic Messages wire structs, mirroring the approach
// openai.go takes: the canonical Request/Response types already carry
// Anthropic's shape (spec.md §3), so these are thin (de)serialization
// adapters rather than a second translation engine.

type AnthropicContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *AnthropicImageSource `json:"source,omitempty"`

	ID               string          `json:"id,omitempty"`
	Name             string          `json:"name,omitempty"`
	Input            json.RawMessage `json:"input,omitempty"`
	ThoughtSignature string          `json:"thought_signature,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type AnthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []AnthropicContentBlock
}

type AnthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type AnthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type AnthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// AnthropicRequest is the inbound POST /v1/messages body.
type AnthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []AnthropicMessage `json:"messages"`
	System        any                `json:"system,omitempty"` // string or []AnthropicContentBlock
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Tools         []AnthropicTool    `json:"tools,omitempty"`
	ToolChoice    *AnthropicToolChoice `json:"tool_choice,omitempty"`
	Thinking      *AnthropicThinking `json:"thinking,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

// AnthropicResponse is the non-streaming POST /v1/messages body.
type AnthropicResponse struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Role         string                  `json:"role"`
	Model        string                  `json:"model"`
	Content      []AnthropicContentBlock `json:"content"`
	StopReason   string                  `json:"stop_reason"`
	StopSequence *string                 `json:"stop_sequence"`
	Usage        AnthropicUsage          `json:"usage"`
}

type AnthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// ParseAnthropicRequest decodes raw JSON into an AnthropicRequest.
func ParseAnthropicRequest(raw []byte) (*AnthropicRequest, error) {
	var req AnthropicRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode anthropic request: %w", err)
	}
	return &req, nil
}

// ToCanonical converts the wire request into the canonical Request. This
// is close to the identity transform — the canonical shape follows
// Anthropic's directly — except for decoding content blocks and lifting
// the top-level "system" field.
func (a *AnthropicRequest) ToCanonical() (*Request, error) {
	req := &Request{
		Model:         a.Model,
		MaxTokens:     a.MaxTokens,
		Temperature:   a.Temperature,
		TopP:          a.TopP,
		StopSequences: a.StopSequences,
		Stream:        a.Stream,
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 4096
	}

	req.System = anthropicSystemToString(a.System)

	for _, m := range a.Messages {
		blocks, err := decodeAnthropicContent(m.Content)
		if err != nil {
			return nil, err
		}
		role := RoleUser
		if strings.EqualFold(m.Role, "assistant") {
			role = RoleAssistant
		}
		req.Messages = append(req.Messages, Message{Role: role, Content: blocks})
	}

	for _, t := range a.Tools {
		req.Tools = append(req.Tools, ToolSchema{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	if a.ToolChoice != nil {
		kind := ToolChoiceAuto
		switch a.ToolChoice.Type {
		case "any":
			kind = ToolChoiceAny
		case "tool":
			kind = ToolChoiceTool
		case "none":
			kind = ToolChoiceNone
		}
		req.ToolChoice = &ToolChoice{Kind: kind, Name: a.ToolChoice.Name}
	}

	if a.Thinking != nil && a.Thinking.Type == "enabled" {
		budget := a.Thinking.BudgetTokens
		if budget == 0 {
			budget = 16000
		}
		req.Thinking = &Thinking{Enabled: true, BudgetTokens: budget}
	}

	return req, nil
}

func anthropicSystemToString(system any) string {
	switch v := system.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for i, item := range v {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if i > 0 {
				sb.WriteString("\n\n")
			}
			if text, ok := block["text"].(string); ok {
				sb.WriteString(text)
			}
		}
		return sb.String()
	default:
		return ""
	}
}

func decodeAnthropicContent(content any) ([]Block, error) {
	switch v := content.(type) {
	case string:
		return []Block{{Type: BlockText, Text: v}}, nil
	case []any:
		var blocks []Block
		for _, item := range v {
			raw, err := json.Marshal(item)
			if err != nil {
				return nil, err
			}
			var block AnthropicContentBlock
			if err := json.Unmarshal(raw, &block); err != nil {
				return nil, err
			}
			converted, err := block.toCanonical()
			if err != nil {
				return nil, err
			}
			if converted != nil {
				blocks = append(blocks, *converted)
			} else {
				log.Warn().Str("block_type", block.Type).Msg("dropping unrecognised anthropic content block")
			}
		}
		return blocks, nil
	case nil:
		return nil, nil
	default:
		return nil, nil
	}
}

func (b *AnthropicContentBlock) toCanonical() (*Block, error) {
	switch b.Type {
	case "text":
		return &Block{Type: BlockText, Text: b.Text}, nil
	case "image":
		if b.Source == nil {
			return nil, NewTranslationError("invalid_image_block", "image block missing source")
		}
		src := ImageSource{}
		switch b.Source.Type {
		case "base64":
			src = ImageSource{Kind: ImageSourceBase64, MediaType: b.Source.MediaType, Data: b.Source.Data}
		case "url":
			src = ImageSource{Kind: ImageSourceURL, URL: b.Source.URL}
		}
		return &Block{Type: BlockImage, Image: src}, nil
	case "tool_use":
		return &Block{
			Type:             BlockToolUse,
			ToolUseID:        b.ID,
			ToolName:         b.Name,
			ToolInput:        b.Input,
			ThoughtSignature: b.ThoughtSignature,
		}, nil
	case "tool_result":
		if b.ToolUseID == "" {
			return nil, NewTranslationError("dangling_tool_result", "tool_result missing tool_use_id")
		}
		return &Block{Type: BlockToolResult, ToolResultID: b.ToolUseID, ToolResultContent: b.Content}, nil
	case "thinking":
		return &Block{Type: BlockThinking, Thinking: b.Thinking, ThinkingSignature: b.Signature}, nil
	default:
		// unrecognised block types are dropped with a warning at the call
		// site (spec.md §4.2); returning nil here signals "drop".
		return nil, nil
	}
}

// RenderAnthropicResponse implements the wire-level side of C3's
// Google→Anthropic output (spec.md §4.3): it's the canonical Response,
// already Anthropic-shaped, serialized into the wire block representation.
func RenderAnthropicResponse(resp *Response) *AnthropicResponse {
	out := &AnthropicResponse{
		ID:           resp.ID,
		Type:         "message",
		Role:         "assistant",
		Model:        resp.Model,
		StopReason:   string(resp.StopReason),
		StopSequence: resp.StopSequence,
		Usage: AnthropicUsage{
			InputTokens:              resp.Usage.InputTokens,
			OutputTokens:             resp.Usage.OutputTokens,
			CacheReadInputTokens:     resp.Usage.CacheReadInputTokens,
			CacheCreationInputTokens: resp.Usage.CacheCreationInputTokens,
		},
	}
	for _, b := range resp.Content {
		out.Content = append(out.Content, blockToWire(b))
	}
	return out
}

func blockToWire(b Block) AnthropicContentBlock {
	switch b.Type {
	case BlockText:
		return AnthropicContentBlock{Type: "text", Text: b.Text}
	case BlockImage:
		src := &AnthropicImageSource{}
		if b.Image.Kind == ImageSourceBase64 {
			src.Type = "base64"
			src.MediaType = b.Image.MediaType
			src.Data = b.Image.Data
		} else {
			src.Type = "url"
			src.URL = b.Image.URL
		}
		return AnthropicContentBlock{Type: "image", Source: src}
	case BlockToolUse:
		input := b.ToolInput
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return AnthropicContentBlock{
			Type:             "tool_use",
			ID:               b.ToolUseID,
			Name:             b.ToolName,
			Input:            input,
			ThoughtSignature: b.ThoughtSignature,
		}
	case BlockToolResult:
		return AnthropicContentBlock{Type: "tool_result", ToolUseID: b.ToolResultID, Content: b.ToolResultContent}
	case BlockThinking:
		return AnthropicContentBlock{Type: "thinking", Thinking: b.Thinking, Signature: b.ThinkingSignature}
	default:
		return AnthropicContentBlock{}
	}
}

// NewToolUseID synthesizes an id for a tool_use block that lacked one,
// matching the "call.id ?? generated" rule in spec.md §4.2.
func NewToolUseID() string {
	return "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
