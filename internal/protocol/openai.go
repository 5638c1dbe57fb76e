package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Hand-rolled OpenAI Chat Completions wire structs. These are built to
// accept/emit arbitrary client/upstream JSON directly rather than going
// through openai-go/v2's outbound-oriented param types, which are meant for
// constructing a call to OpenAI's own API, not for parsing a third party's
// request body or rendering an arbitrary response — the pattern this
// module's reference ccproxy-style implementations use throughout.

// OpenAIMessage is one input message. Content is `any` because OpenAI
// allows both a plain string and a content-block array.
type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content,omitempty"`
	Name       string           `json:"name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
}

type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIToolCallFunc `json:"function"`
}

type OpenAIToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type OpenAIFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type OpenAITool struct {
	Type     string            `json:"type"`
	Function OpenAIFunctionDef `json:"function"`
}

// OpenAIChatRequest is the inbound POST /v1/chat/completions body.
type OpenAIChatRequest struct {
	Model             string          `json:"model"`
	Messages          []OpenAIMessage `json:"messages"`
	MaxTokens         *int            `json:"max_tokens,omitempty"`
	MaxCompletionTok  *int            `json:"max_completion_tokens,omitempty"`
	Temperature       *float64        `json:"temperature,omitempty"`
	TopP              *float64        `json:"top_p,omitempty"`
	Stop              any             `json:"stop,omitempty"`
	Tools             []OpenAITool    `json:"tools,omitempty"`
	ToolChoice        any             `json:"tool_choice,omitempty"`
	Functions         []OpenAIFunctionDef `json:"functions,omitempty"`
	FunctionCall      any             `json:"function_call,omitempty"`
	Stream            bool            `json:"stream,omitempty"`
	Thinking          any             `json:"thinking,omitempty"`
}

// OpenAIChatResponse is the non-streaming POST /v1/chat/completions body.
type OpenAIChatResponse struct {
	ID                string         `json:"id"`
	Object            string         `json:"object"`
	Created           int64          `json:"created"`
	Model             string         `json:"model"`
	Choices           []OpenAIChoice `json:"choices"`
	Usage             OpenAIUsage    `json:"usage"`
	SystemFingerprint string         `json:"system_fingerprint"`
}

type OpenAIChoice struct {
	Index        int                  `json:"index"`
	Message      OpenAIResponseMsg    `json:"message"`
	FinishReason string               `json:"finish_reason"`
}

type OpenAIResponseMsg struct {
	Role      string           `json:"role"`
	Content   *string          `json:"content"`
	ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ParseOpenAIRequest decodes raw JSON into an OpenAIChatRequest.
func ParseOpenAIRequest(raw []byte) (*OpenAIChatRequest, error) {
	var req OpenAIChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode openai request: %w", err)
	}
	return &req, nil
}

// ToCanonical implements the OpenAI→Anthropic half of C2 (spec.md §4.2),
// producing the dialect-neutral Request every downstream step consumes.
func (o *OpenAIChatRequest) ToCanonical() (*Request, error) {
	req := &Request{
		Model:     o.Model,
		MaxTokens: resolveMaxTokens(o.MaxCompletionTok, o.MaxTokens),
		Temperature: o.Temperature,
		TopP:        o.TopP,
		Stream:      o.Stream,
	}

	var systemParts []string
	for _, m := range o.Messages {
		role := strings.ToLower(m.Role)
		if role == "system" || role == "developer" {
			systemParts = append(systemParts, contentAsString(m.Content))
			continue
		}

		msg, err := convertOpenAIMessage(m)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, msg)
	}
	req.System = strings.Join(systemParts, "\n\n")

	if seqs := stopSequences(o.Stop); len(seqs) > 0 {
		req.StopSequences = seqs
	}

	tools := o.Tools
	if len(tools) == 0 && len(o.Functions) > 0 {
		for _, f := range o.Functions {
			tools = append(tools, OpenAITool{Type: "function", Function: f})
		}
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, ToolSchema{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	choice := o.ToolChoice
	if choice == nil {
		choice = o.FunctionCall
	}
	if tc, ok := convertToolChoice(choice); ok {
		req.ToolChoice = tc
	}

	if thinkingEnabled, budget := convertThinking(o.Thinking, o.Model); thinkingEnabled {
		req.Thinking = &Thinking{Enabled: true, BudgetTokens: budget}
	}

	return req, nil
}

func resolveMaxTokens(maxCompletion, maxTokens *int) int {
	if maxCompletion != nil {
		return *maxCompletion
	}
	if maxTokens != nil {
		return *maxTokens
	}
	return 4096
}

func stopSequences(stop any) []string {
	switch v := stop.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var out []string
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// convertToolChoice maps OpenAI tool_choice onto the canonical ToolChoice
// per spec.md §3: "none" collapses to "tools omitted", "required" maps to
// "any", "auto" maps to auto, an object form names a specific tool. Any
// other value leaves ToolChoice unset (ok=false), which ToGoogleRequest
// renders as AUTO when tools are present.
func convertToolChoice(choice any) (*ToolChoice, bool) {
	switch v := choice.(type) {
	case nil:
		return nil, false
	case string:
		switch v {
		case "none":
			return &ToolChoice{Kind: ToolChoiceNone}, true
		case "required":
			return &ToolChoice{Kind: ToolChoiceAny}, true
		case "auto":
			return &ToolChoice{Kind: ToolChoiceAuto}, true
		default:
			return nil, false
		}
	case map[string]any:
		fn, _ := v["function"].(map[string]any)
		if fn == nil {
			if name, ok := v["name"].(string); ok {
				return &ToolChoice{Kind: ToolChoiceTool, Name: name}, true
			}
			return nil, false
		}
		name, _ := fn["name"].(string)
		return &ToolChoice{Kind: ToolChoiceTool, Name: name}, true
	default:
		return nil, false
	}
}

// convertThinking handles the `thinking` request extension plus the
// model-name heuristic (spec.md §4.2: name contains "thinking" or
// "gemini-3" implies a 16,000-token default budget).
func convertThinking(thinking any, model string) (bool, int) {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "thinking") || strings.Contains(lower, "gemini-3") {
		return true, 16000
	}
	switch v := thinking.(type) {
	case bool:
		if v {
			return true, 16000
		}
	case map[string]any:
		if typ, _ := v["type"].(string); typ == "enabled" {
			budget := 16000
			if b, ok := v["budget_tokens"].(float64); ok {
				budget = int(b)
			}
			return true, budget
		}
	}
	return false, 0
}

func contentAsString(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, item := range v {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := block["type"].(string); t == "text" {
				if text, ok := block["text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
		return sb.String()
	default:
		return ""
	}
}

// convertOpenAIMessage converts one non-system OpenAI message into its
// canonical form, per spec.md §4.2's re-roling and block-sequence rules.
func convertOpenAIMessage(m OpenAIMessage) (Message, error) {
	role := strings.ToLower(m.Role)

	switch role {
	case "tool", "function":
		toolUseID := m.ToolCallID
		if toolUseID == "" {
			toolUseID = m.Name
		}
		if toolUseID == "" {
			toolUseID = NewToolUseID()
		}
		return Message{
			Role: RoleUser,
			Content: []Block{{
				Type:              BlockToolResult,
				ToolResultID:      toolUseID,
				ToolResultContent: contentAsString(m.Content),
			}},
		}, nil

	case "assistant":
		var blocks []Block
		if text := contentAsString(m.Content); text != "" {
			blocks = append(blocks, Block{Type: BlockText, Text: text})
		}
		for _, call := range m.ToolCalls {
			input, err := parseToolArguments(call.Function.Arguments)
			if err != nil {
				return Message{}, NewTranslationError("invalid_tool_arguments", fmt.Sprintf("tool call %q: %v", call.Function.Name, err))
			}
			id := call.ID
			if id == "" {
				id = NewToolUseID()
			}
			blocks = append(blocks, Block{
				Type:      BlockToolUse,
				ToolUseID: id,
				ToolName:  call.Function.Name,
				ToolInput: input,
			})
		}
		return Message{Role: RoleAssistant, Content: blocks}, nil

	default:
		blocks, err := convertOpenAIContentBlocks(m.Content)
		if err != nil {
			return Message{}, err
		}
		return Message{Role: RoleUser, Content: blocks}, nil
	}
}

// parseToolArguments parses the JSON-encoded string carried in a tool call's
// arguments field; an empty string becomes {}. OpenAIToolCallFunc.Arguments
// is a string, so a request whose arguments field is a JSON object is not
// accepted as already-decoded input: it fails to decode in
// ParseOpenAIRequest.
func parseToolArguments(arguments string) (json.RawMessage, error) {
	arguments = strings.TrimSpace(arguments)
	if arguments == "" {
		return json.RawMessage("{}"), nil
	}
	var v any
	if err := json.Unmarshal([]byte(arguments), &v); err != nil {
		return nil, err
	}
	return json.RawMessage(arguments), nil
}

// convertOpenAIContentBlocks converts a user-message content value (string
// or content-block array) into canonical blocks, splitting data: URIs into
// base64 image sources per spec.md §4.2.
func convertOpenAIContentBlocks(content any) ([]Block, error) {
	switch v := content.(type) {
	case string:
		return []Block{{Type: BlockText, Text: v}}, nil
	case []any:
		var blocks []Block
		for _, item := range v {
			part, ok := item.(map[string]any)
			if !ok {
				continue
			}
			switch t, _ := part["type"].(string); t {
			case "text":
				text, _ := part["text"].(string)
				blocks = append(blocks, Block{Type: BlockText, Text: text})
			case "image_url":
				urlObj, _ := part["image_url"].(map[string]any)
				url, _ := urlObj["url"].(string)
				blocks = append(blocks, Block{Type: BlockImage, Image: parseImageURL(url)})
			}
		}
		return blocks, nil
	case nil:
		return nil, nil
	default:
		return nil, nil
	}
}

// parseImageURL splits a data: URI into a base64 source; anything else
// becomes a URL source (spec.md §4.2).
func parseImageURL(url string) ImageSource {
	const prefix = "data:"
	if strings.HasPrefix(url, prefix) {
		rest := url[len(prefix):]
		semi := strings.IndexByte(rest, ';')
		comma := strings.IndexByte(rest, ',')
		if semi > 0 && comma > semi {
			mediaType := rest[:semi]
			data := rest[comma+1:]
			return ImageSource{Kind: ImageSourceBase64, MediaType: mediaType, Data: data}
		}
	}
	return ImageSource{Kind: ImageSourceURL, URL: url}
}

// RenderOpenAIResponse implements the Anthropic→OpenAI half of C3
// (spec.md §4.3, non-streaming).
func RenderOpenAIResponse(resp *Response) (*OpenAIChatResponse, error) {
	var text strings.Builder
	var toolCalls []OpenAIToolCall
	for _, b := range resp.Content {
		switch b.Type {
		case BlockText:
			text.WriteString(b.Text)
		case BlockToolUse:
			args, err := json.Marshal(decodeRawOrEmpty(b.ToolInput))
			if err != nil {
				return nil, fmt.Errorf("marshal tool input: %w", err)
			}
			toolCalls = append(toolCalls, OpenAIToolCall{
				ID:   b.ToolUseID,
				Type: "function",
				Function: OpenAIToolCallFunc{
					Name:      b.ToolName,
					Arguments: string(args),
				},
			})
		}
	}

	var content *string
	if s := text.String(); s != "" || len(toolCalls) == 0 {
		content = &s
	}

	return &OpenAIChatResponse{
		ID:      "chatcmpl-" + randomHex(16),
		Object:  "chat.completion",
		Model:   resp.Model,
		Choices: []OpenAIChoice{{
			Index: 0,
			Message: OpenAIResponseMsg{
				Role:      "assistant",
				Content:   content,
				ToolCalls: toolCalls,
			},
			FinishReason: openAIFinishReason(resp.StopReason),
		}},
		Usage: OpenAIUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		SystemFingerprint: "fp_" + randomHex(8),
	}, nil
}

// openAIFinishReason implements spec.md §4.3's stop_reason → finish_reason
// table.
func openAIFinishReason(reason StopReason) string {
	switch reason {
	case StopToolUse:
		return "tool_calls"
	case StopMaxTokens:
		return "length"
	default:
		return "stop"
	}
}

func decodeRawOrEmpty(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{}
	}
	return v
}
