package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	genai "google.golang.org/genai"

	"ccbridge/internal/schema"
	"ccbridge/internal/sigcache"
)

// ToGoogleRequest implements the Anthropic→Google half of C2 (spec.md
// §4.2): the canonical Request, already Anthropic-shaped, becomes the
// genai wire types the upstream Cloud Code service expects. cache supplies
// signature re-injection for tool_use blocks the client stripped a
// signature from; modelFamily is the fallback namespace key.
func ToGoogleRequest(req *Request, cache *sigcache.Cache, modelFamily string) (contents []*genai.Content, cfg *genai.GenerateContentConfig, err error) {
	contents, err = toGoogleContents(req.Messages, cache, modelFamily)
	if err != nil {
		return nil, nil, err
	}

	cfg = &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if req.TopP != nil {
		p := float32(*req.TopP)
		cfg.TopP = &p
	}
	if len(req.StopSequences) > 0 {
		cfg.StopSequences = req.StopSequences
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		tools, toolCfg, terr := toGoogleTools(req.Tools, req.ToolChoice)
		if terr != nil {
			return nil, nil, terr
		}
		cfg.Tools = tools
		cfg.ToolConfig = toolCfg
	}
	if req.Thinking != nil && req.Thinking.Enabled {
		cfg.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  int32Ptr(int32(req.Thinking.BudgetTokens)),
		}
	}

	return contents, cfg, nil
}

func int32Ptr(v int32) *int32 { return &v }

// toGoogleContents converts canonical messages into genai Content,
// re-injecting thinking signatures from the cache where a tool_use block
// lacks one (spec.md §4.2 "Signature re-injection"). toolNamesByID is built
// up as assistant tool_use blocks are encountered, in message order, and
// consulted when a later tool_result block needs to resolve its
// functionResponse name — mirroring the teacher's toContents, which builds
// this same map incrementally rather than requiring a separate pre-pass.
func toGoogleContents(msgs []Message, cache *sigcache.Cache, modelFamily string) ([]*genai.Content, error) {
	toolNamesByID := make(map[string]string)
	var lastToolName string

	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
			for _, b := range m.Content {
				if b.Type == BlockToolUse && b.ToolUseID != "" && b.ToolName != "" {
					toolNamesByID[b.ToolUseID] = b.ToolName
				}
				if b.Type == BlockToolUse && strings.TrimSpace(b.ToolName) != "" {
					lastToolName = b.ToolName
				}
			}
		}

		var parts []*genai.Part
		for _, b := range m.Content {
			part, err := blockToGooglePart(b, role, cache, modelFamily, toolNamesByID, lastToolName)
			if err != nil {
				return nil, err
			}
			if part != nil {
				parts = append(parts, part)
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, nil
}

func blockToGooglePart(b Block, role string, cache *sigcache.Cache, modelFamily string, toolNamesByID map[string]string, lastToolName string) (*genai.Part, error) {
	switch b.Type {
	case BlockText:
		if strings.TrimSpace(b.Text) == "" {
			return nil, nil
		}
		return &genai.Part{Text: b.Text}, nil

	case BlockImage:
		if b.Image.Kind != ImageSourceBase64 {
			// Fetching a remote image is an explicit resolution of
			// spec.md §9's open question (b): ccbridge rejects rather
			// than fetches (see DESIGN.md Open Questions).
			return nil, NewTranslationError("unsupported_image_source", "remote image URLs are not fetched; supply a base64 source")
		}
		data, err := base64.StdEncoding.DecodeString(b.Image.Data)
		if err != nil {
			return nil, NewTranslationError("invalid_image_data", err.Error())
		}
		return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: b.Image.MediaType}}, nil

	case BlockToolUse:
		if role != genai.RoleModel {
			return nil, nil
		}
		var args map[string]any
		if len(b.ToolInput) > 0 {
			if err := json.Unmarshal(b.ToolInput, &args); err != nil {
				return nil, NewTranslationError("invalid_tool_arguments", err.Error())
			}
		}
		part := genai.NewPartFromFunctionCall(b.ToolName, args)
		if part.FunctionCall != nil {
			part.FunctionCall.ID = b.ToolUseID
		}
		sig := b.ThoughtSignature
		if sig == "" && cache != nil {
			if cached, ok := cache.Resolve(b.ToolUseID, modelFamily); ok {
				sig = cached
			}
		}
		if sigBytes, ok := decodeThoughtSignature(sig); ok {
			part.ThoughtSignature = sigBytes
		}
		return part, nil

	case BlockToolResult:
		name := toolNamesByID[b.ToolResultID]
		if name == "" {
			name = lastToolName
			if name == "" {
				name = "tool_response"
			}
		}
		respMap := map[string]any{}
		if trimmed := strings.TrimSpace(b.ToolResultContent); trimmed != "" {
			if err := json.Unmarshal([]byte(trimmed), &respMap); err != nil {
				respMap = map[string]any{"output": b.ToolResultContent}
			}
		}
		part := genai.NewPartFromFunctionResponse(name, respMap)
		part.FunctionResponse.ID = b.ToolResultID
		// Gemini 3 guidance: a thought_signature must never be attached to
		// a FunctionResponse part — observed to trigger 5xx upstream.
		return part, nil

	case BlockThinking:
		return nil, nil

	default:
		return nil, nil
	}
}

// decodeThoughtSignature decodes a cached/carried signature string into
// the raw bytes genai.Part.ThoughtSignature wants. Rejects empty/corrupted
// strings; prefers base64, falls back to raw bytes.
func decodeThoughtSignature(sig string) ([]byte, bool) {
	sig = strings.TrimSpace(sig)
	if len(sig) < sigcache.MinSignatureLength {
		return nil, false
	}
	if strings.ContainsRune(sig, '�') {
		return nil, false
	}
	if decoded, err := base64.StdEncoding.DecodeString(sig); err == nil {
		return decoded, true
	}
	return []byte(sig), true
}

// toGoogleTools builds the upstream tool declarations and tool_choice
// config (spec.md §4.2).
func toGoogleTools(tools []ToolSchema, choice *ToolChoice) ([]*genai.Tool, *genai.ToolConfig, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		if strings.TrimSpace(t.Name) == "" {
			return nil, nil, NewTranslationError("invalid_tool_schema", "tool name required")
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema.Sanitize(t.InputSchema),
		})
	}

	cfg := &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto}}
	if choice != nil {
		switch choice.Kind {
		case ToolChoiceAny:
			cfg.FunctionCallingConfig.Mode = genai.FunctionCallingConfigModeAny
		case ToolChoiceTool:
			cfg.FunctionCallingConfig.Mode = genai.FunctionCallingConfigModeAny
			cfg.FunctionCallingConfig.AllowedFunctionNames = []string{choice.Name}
		case ToolChoiceNone:
			return nil, nil, nil
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, cfg, nil
}

// FromGoogleResponse implements the Google→Anthropic half of C3 (spec.md
// §4.3, non-streaming): the single upstream candidate becomes a canonical
// Response.
func FromGoogleResponse(resp *genai.GenerateContentResponse, model string) (*Response, error) {
	if len(resp.Candidates) == 0 {
		return nil, NewTranslationError("empty_response", "upstream returned no candidates")
	}
	candidate := resp.Candidates[0]

	out := &Response{
		ID:    "msg_" + randomHex(16),
		Model: model,
		Role:  RoleAssistant,
	}

	sawToolUse := false
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			block, isToolUse, err := googlePartToBlock(part)
			if err != nil {
				return nil, err
			}
			if block == nil {
				continue
			}
			out.Content = append(out.Content, *block)
			if isToolUse {
				sawToolUse = true
			}
		}
	}

	out.StopReason = googleFinishReason(candidate.FinishReason, sawToolUse)

	if resp.UsageMetadata != nil {
		prompt := int(resp.UsageMetadata.PromptTokenCount)
		cached := int(resp.UsageMetadata.CachedContentTokenCount)
		out.Usage = Usage{
			InputTokens:          prompt - cached,
			OutputTokens:         int(resp.UsageMetadata.CandidatesTokenCount),
			CacheReadInputTokens: cached,
		}
	}

	return out, nil
}

// googlePartToBlock converts a single upstream part; text parts marked
// `Thought: true` become canonical thinking blocks, matching §3's part
// shapes.
func googlePartToBlock(part *genai.Part) (*Block, bool, error) {
	switch {
	case part.FunctionCall != nil:
		args, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			return nil, false, fmt.Errorf("marshal function call args: %w", err)
		}
		id := part.FunctionCall.ID
		if id == "" {
			id = NewToolUseID()
		}
		sig := ""
		if len(part.ThoughtSignature) > 0 {
			sig = base64.StdEncoding.EncodeToString(part.ThoughtSignature)
		}
		return &Block{
			Type:             BlockToolUse,
			ToolUseID:        id,
			ToolName:         part.FunctionCall.Name,
			ToolInput:        args,
			ThoughtSignature: sig,
		}, true, nil

	case part.InlineData != nil:
		return &Block{
			Type: BlockImage,
			Image: ImageSource{
				Kind:      ImageSourceBase64,
				MediaType: part.InlineData.MIMEType,
				Data:      base64.StdEncoding.EncodeToString(part.InlineData.Data),
			},
		}, false, nil

	case part.Thought:
		sig := ""
		if len(part.ThoughtSignature) > 0 {
			sig = base64.StdEncoding.EncodeToString(part.ThoughtSignature)
		}
		return &Block{Type: BlockThinking, Thinking: part.Text, ThinkingSignature: sig}, false, nil

	case part.Text != "":
		return &Block{Type: BlockText, Text: part.Text}, false, nil

	default:
		return nil, false, nil
	}
}

// googleFinishReason implements spec.md §4.3's finishReason mapping: a
// tool call anywhere in the candidate overrides STOP with tool_use.
func googleFinishReason(reason genai.FinishReason, sawToolUse bool) StopReason {
	if sawToolUse {
		return StopToolUse
	}
	switch reason {
	case genai.FinishReasonMaxTokens:
		return StopMaxTokens
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		log.Warn().Str("finish_reason", string(reason)).Msg("upstream finish reason mapped to end_turn")
		return StopEndTurn
	default:
		return StopEndTurn
	}
}
