package stream

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	genai "google.golang.org/genai"

	"ccbridge/internal/protocol"
	"ccbridge/internal/sigcache"
)

// Pipeline implements the Google→Anthropic half of C5 (spec.md §4.5): it
// walks upstream genai.GenerateContentResponse chunks in arrival order and
// emits the corresponding Anthropic SSE events to Sink. One Pipeline is
// used for exactly one request/response stream — it is not reusable.
type Pipeline struct {
	sink  Sink
	cache *sigcache.Cache

	model       string
	modelFamily string
	messageID   string

	hasEmittedStart  bool
	blockIndex       int
	currentBlockType protocol.BlockType // "" means no block currently open
	pendingSignature string

	inputTokens  int
	outputTokens int
	cacheTokens  int
	stopReason   protocol.StopReason
	sawToolUse   bool
}

// NewPipeline constructs a Pipeline for a single request. cache may be nil
// to disable signature caching (tests exercising translation in isolation).
func NewPipeline(sink Sink, cache *sigcache.Cache, model, modelFamily, messageID string) *Pipeline {
	return &Pipeline{
		sink:        sink,
		cache:       cache,
		model:       model,
		modelFamily: modelFamily,
		messageID:   messageID,
		stopReason:  protocol.StopEndTurn,
	}
}

// HandleChunk processes one upstream chunk, emitting zero or more events.
func (p *Pipeline) HandleChunk(chunk *genai.GenerateContentResponse) error {
	if chunk.UsageMetadata != nil {
		p.inputTokens = int(chunk.UsageMetadata.PromptTokenCount) - int(chunk.UsageMetadata.CachedContentTokenCount)
		p.cacheTokens = int(chunk.UsageMetadata.CachedContentTokenCount)
		p.outputTokens = int(chunk.UsageMetadata.CandidatesTokenCount)
	}

	if len(chunk.Candidates) == 0 {
		return nil
	}
	candidate := chunk.Candidates[0]

	if candidate.Content != nil && len(candidate.Content.Parts) > 0 {
		if err := p.ensureStarted(); err != nil {
			return err
		}
		for _, part := range candidate.Content.Parts {
			if err := p.handlePart(part); err != nil {
				return err
			}
		}
	}

	if candidate.FinishReason != "" && candidate.FinishReason != genai.FinishReasonUnspecified {
		p.applyFinishReason(candidate.FinishReason)
	}

	return nil
}

// Close flushes any open block and emits the terminal message_delta/
// message_stop pair. Must be called exactly once, after the last chunk.
//
// If the stream never emitted a single part (message_start never went
// out), Close returns an "empty_response" *protocol.TranslationError
// instead of fabricating a successful empty turn — spec.md §4.5's
// streaming Empty-response rule, mirroring dispatchNonStreaming's
// non-streaming retry-once behavior. The caller (httpapi.runPipeline) is
// expected to reissue the upstream stream once before surfacing this to
// the client.
func (p *Pipeline) Close() error {
	if !p.hasEmittedStart {
		return protocol.NewTranslationError("empty_response", "upstream stream produced no parts")
	}
	if err := p.closeCurrentBlock(); err != nil {
		return err
	}

	stop := string(p.stopReason)
	if err := p.sink.Emit(Event{
		Type: EventMessageDelta,
		Delta: &Delta{StopReason: stop},
		Usage: &protocol.AnthropicUsage{OutputTokens: p.outputTokens},
	}); err != nil {
		return err
	}
	return p.sink.Emit(Event{Type: EventMessageStop})
}

// EmitError sends a terminal error event. The streaming handlers write the
// SSE response headers before the first upstream chunk arrives, so every
// streaming failure reaches the client as this event, including one that
// happens before message_start (such as a second empty upstream stream);
// none of them is turned into an HTTP error status.
func (p *Pipeline) EmitError(kind, message string) error {
	return p.sink.Emit(Event{Type: EventError, Error: &ErrorPayload{Kind: kind, Message: message}})
}

// HasStarted reports whether this pipeline has ever emitted message_start.
// Callers use this to decide whether a failed attempt is still safe to
// retry against a different upstream model: once the client has seen any
// event, a retry would duplicate message_start downstream.
func (p *Pipeline) HasStarted() bool {
	return p.hasEmittedStart
}

func (p *Pipeline) ensureStarted() error {
	if p.hasEmittedStart {
		return nil
	}
	p.hasEmittedStart = true
	return p.sink.Emit(Event{
		Type: EventMessageStart,
		Message: &MessageStartPayload{
			ID:      p.messageID,
			Type:    "message",
			Role:    "assistant",
			Model:   p.model,
			Content: []protocol.AnthropicContentBlock{},
			Usage: protocol.AnthropicUsage{
				InputTokens:          p.inputTokens,
				CacheReadInputTokens: p.cacheTokens,
			},
		},
	})
}

func (p *Pipeline) handlePart(part *genai.Part) error {
	switch {
	case part.Thought:
		return p.handleThought(part)
	case part.FunctionCall != nil:
		return p.handleFunctionCall(part)
	case part.InlineData != nil:
		return p.handleInlineData(part)
	case part.Text != "":
		return p.handleText(part)
	default:
		return nil
	}
}

func (p *Pipeline) handleThought(part *genai.Part) error {
	if p.currentBlockType != protocol.BlockThinking {
		if err := p.closeCurrentBlock(); err != nil {
			return err
		}
		if err := p.openBlock(protocol.BlockThinking, protocol.AnthropicContentBlock{Type: "thinking", Thinking: ""}); err != nil {
			return err
		}
	}
	if len(part.ThoughtSignature) > 0 {
		sig := base64.StdEncoding.EncodeToString(part.ThoughtSignature)
		if len(sig) >= sigcache.MinSignatureLength {
			p.pendingSignature = sig
			if p.cache != nil {
				p.cache.PutModelFamily(p.modelFamily, sig)
			}
		}
	}
	if part.Text == "" {
		return nil
	}
	return p.sink.Emit(Event{
		Type:  EventContentBlockDelta,
		Index: intPtr(p.blockIndex),
		Delta: &Delta{Type: DeltaThinking, Thinking: part.Text},
	})
}

func (p *Pipeline) handleText(part *genai.Part) error {
	if p.currentBlockType == protocol.BlockThinking {
		if err := p.closeCurrentBlock(); err != nil {
			return err
		}
	}
	if p.currentBlockType != protocol.BlockText {
		if err := p.openBlock(protocol.BlockText, protocol.AnthropicContentBlock{Type: "text", Text: ""}); err != nil {
			return err
		}
	}
	return p.sink.Emit(Event{
		Type:  EventContentBlockDelta,
		Index: intPtr(p.blockIndex),
		Delta: &Delta{Type: DeltaText, Text: part.Text},
	})
}

func (p *Pipeline) handleFunctionCall(part *genai.Part) error {
	if err := p.closeCurrentBlock(); err != nil {
		return err
	}
	p.sawToolUse = true
	p.stopReason = protocol.StopToolUse

	id := part.FunctionCall.ID
	if id == "" {
		id = protocol.NewToolUseID()
	}

	block := protocol.AnthropicContentBlock{Type: "tool_use", ID: id, Name: part.FunctionCall.Name, Input: json.RawMessage("{}")}
	sig := ""
	if len(part.ThoughtSignature) > 0 {
		sig = base64.StdEncoding.EncodeToString(part.ThoughtSignature)
		if len(sig) >= sigcache.MinSignatureLength {
			block.ThoughtSignature = sig
			if p.cache != nil {
				p.cache.PutToolID(id, sig)
			}
		}
	}

	if err := p.openBlock(protocol.BlockToolUse, block); err != nil {
		return err
	}

	args, err := json.Marshal(part.FunctionCall.Args)
	if err != nil {
		args = []byte("{}")
	}
	return p.sink.Emit(Event{
		Type:  EventContentBlockDelta,
		Index: intPtr(p.blockIndex),
		Delta: &Delta{Type: DeltaInputJSON, PartialJSON: string(args)},
	})
}

func (p *Pipeline) handleInlineData(part *genai.Part) error {
	if err := p.closeCurrentBlock(); err != nil {
		return err
	}
	block := protocol.AnthropicContentBlock{
		Type: "image",
		Source: &protocol.AnthropicImageSource{
			Type:      "base64",
			MediaType: part.InlineData.MIMEType,
			Data:      base64.StdEncoding.EncodeToString(part.InlineData.Data),
		},
	}
	if err := p.openBlock(protocol.BlockImage, block); err != nil {
		return err
	}
	return p.closeCurrentBlock()
}

// openBlock emits content_block_start and marks blockType current. Callers
// must have already closed any previously open block.
func (p *Pipeline) openBlock(blockType protocol.BlockType, block protocol.AnthropicContentBlock) error {
	p.currentBlockType = blockType
	return p.sink.Emit(Event{
		Type:         EventContentBlockStart,
		Index:        intPtr(p.blockIndex),
		ContentBlock: &block,
	})
}

// closeCurrentBlock flushes a pending thinking signature, if any, then
// emits content_block_stop and advances blockIndex. A no-op when no block
// is open.
func (p *Pipeline) closeCurrentBlock() error {
	if p.currentBlockType == "" {
		return nil
	}
	if p.currentBlockType == protocol.BlockThinking && p.pendingSignature != "" {
		if err := p.sink.Emit(Event{
			Type:  EventContentBlockDelta,
			Index: intPtr(p.blockIndex),
			Delta: &Delta{Type: DeltaSignature, Signature: p.pendingSignature},
		}); err != nil {
			return err
		}
		p.pendingSignature = ""
	}
	if err := p.sink.Emit(Event{Type: EventContentBlockStop, Index: intPtr(p.blockIndex)}); err != nil {
		return err
	}
	p.blockIndex++
	p.currentBlockType = ""
	return nil
}

func (p *Pipeline) applyFinishReason(reason genai.FinishReason) {
	if p.sawToolUse {
		return
	}
	switch reason {
	case genai.FinishReasonMaxTokens:
		p.stopReason = protocol.StopMaxTokens
	case genai.FinishReasonStop:
		p.stopReason = protocol.StopEndTurn
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonMalformedFunctionCall:
		p.stopReason = protocol.StopEndTurn
	}
}

func intPtr(v int) *int { return &v }

// ModelFamily reduces an upstream model id to its base name (e.g.
// "gemini-2.5-pro" from "gemini-2.5-pro-latest-001") by stripping trailing
// "-latest"/"-NNN" numeric segments. The pipeline's sigcache fallback key is
// not derived from it: that is the modelFamily passed to NewPipeline (the
// router's Entry.Family, e.g. "gemini-2.5").
func ModelFamily(upstreamModel string) string {
	parts := strings.Split(upstreamModel, "-")
	for len(parts) > 2 {
		last := parts[len(parts)-1]
		if last == "latest" || isAllDigits(last) {
			parts = parts[:len(parts)-1]
			continue
		}
		break
	}
	return strings.Join(parts, "-")
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
