package stream

import (
	"crypto/rand"
	"encoding/hex"

	"ccbridge/internal/protocol"
)

// ReframeSink implements Sink, consuming the same Anthropic-shaped Event
// stream Pipeline produces and re-emitting it as OpenAI
// chat.completion.chunk frames (spec.md §4.5's second state machine: "turn
// Anthropic SSE events into OpenAI SSE chunks" — run after, not instead of,
// the Google→Anthropic translation, so there is exactly one state machine
// that understands the upstream wire format).
type ReframeSink struct {
	out   ChunkWriter
	model string

	id          string
	fingerprint string

	toolCallIndex int
	inToolCall    bool
	sentRole      bool
}

// ChunkWriter is the minimal surface ReframeSink needs; *RawChunkWriter
// satisfies it.
type ChunkWriter interface {
	WriteChunk(v any) error
}

func NewReframeSink(out ChunkWriter, model string) *ReframeSink {
	return &ReframeSink{
		out:         out,
		model:       model,
		id:          "chatcmpl-" + randomHexID(16),
		fingerprint: "fp_" + randomHexID(8),
	}
}

type openAIChunk struct {
	ID                string                 `json:"id"`
	Object            string                 `json:"object"`
	Model             string                 `json:"model"`
	SystemFingerprint string                 `json:"system_fingerprint"`
	Choices           []openAIChunkChoice    `json:"choices"`
	Usage             *protocol.OpenAIUsage `json:"usage,omitempty"`
}

type openAIChunkChoice struct {
	Index        int              `json:"index"`
	Delta        openAIChunkDelta `json:"delta"`
	FinishReason *string          `json:"finish_reason"`
}

type openAIChunkDelta struct {
	Role      string                `json:"role,omitempty"`
	Content   string                `json:"content,omitempty"`
	ToolCalls []openAIChunkToolCall `json:"tool_calls,omitempty"`
}

type openAIChunkToolCall struct {
	Index    int                     `json:"index"`
	ID       string                  `json:"id,omitempty"`
	Type     string                  `json:"type,omitempty"`
	Function openAIChunkToolFunction `json:"function"`
}

type openAIChunkToolFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

func (s *ReframeSink) Emit(e Event) error {
	switch e.Type {
	case EventMessageStart:
		s.sentRole = true
		return s.emit(openAIChunkDelta{Role: "assistant"}, nil)

	case EventContentBlockStart:
		if e.ContentBlock != nil && e.ContentBlock.Type == "tool_use" {
			s.inToolCall = true
			call := openAIChunkToolCall{
				Index: s.toolCallIndex,
				ID:    e.ContentBlock.ID,
				Type:  "function",
				Function: openAIChunkToolFunction{
					Name:      e.ContentBlock.Name,
					Arguments: "",
				},
			}
			s.toolCallIndex++
			return s.emit(openAIChunkDelta{ToolCalls: []openAIChunkToolCall{call}}, nil)
		}
		return nil

	case EventContentBlockDelta:
		if e.Delta == nil {
			return nil
		}
		switch e.Delta.Type {
		case DeltaText:
			return s.emit(openAIChunkDelta{Content: e.Delta.Text}, nil)
		case DeltaThinking, DeltaSignature:
			// spec.md §4.5's OpenAI re-framing table: thinking_delta and
			// signature_delta have no OpenAI representation and are
			// dropped (§1 Non-goals: "thinking blocks... silently dropped").
			return nil
		case DeltaInputJSON:
			call := openAIChunkToolCall{
				Index:    s.toolCallIndex - 1,
				Function: openAIChunkToolFunction{Arguments: e.Delta.PartialJSON},
			}
			return s.emit(openAIChunkDelta{ToolCalls: []openAIChunkToolCall{call}}, nil)
		default:
			return nil
		}

	case EventContentBlockStop:
		s.inToolCall = false
		return nil

	case EventMessageDelta:
		reason := openAIFinishReasonFromAnthropic(string(e.Delta.StopReason))
		var usage *protocol.OpenAIUsage
		if e.Usage != nil {
			usage = &protocol.OpenAIUsage{
				PromptTokens:     e.Usage.InputTokens,
				CompletionTokens: e.Usage.OutputTokens,
				TotalTokens:      e.Usage.InputTokens + e.Usage.OutputTokens,
			}
		}
		return s.emitWithUsage(openAIChunkDelta{}, &reason, usage)

	case EventMessageStop, EventError:
		return nil

	default:
		return nil
	}
}

func (s *ReframeSink) emit(delta openAIChunkDelta, finishReason *string) error {
	return s.emitWithUsage(delta, finishReason, nil)
}

func (s *ReframeSink) emitWithUsage(delta openAIChunkDelta, finishReason *string, usage *protocol.OpenAIUsage) error {
	return s.out.WriteChunk(openAIChunk{
		ID:                s.id,
		Object:            "chat.completion.chunk",
		Model:             s.model,
		SystemFingerprint: s.fingerprint,
		Choices: []openAIChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
		Usage: usage,
	})
}

func openAIFinishReasonFromAnthropic(stopReason string) string {
	switch stopReason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	case "stop_sequence":
		return "stop"
	default:
		return "stop"
	}
}

func randomHexID(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		for i := range b {
			b[i] = byte(i)
		}
	}
	return hex.EncodeToString(b)
}
