package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccbridge/internal/protocol"
)

type recordingChunkWriter struct {
	chunks []openAIChunk
}

func (r *recordingChunkWriter) WriteChunk(v any) error {
	r.chunks = append(r.chunks, v.(openAIChunk))
	return nil
}

func TestReframeSink_TextDeltaBecomesContentChunk(t *testing.T) {
	out := &recordingChunkWriter{}
	sink := NewReframeSink(out, "gpt-4o")

	require.NoError(t, sink.Emit(Event{Type: EventMessageStart}))
	require.NoError(t, sink.Emit(Event{Type: EventContentBlockStart, ContentBlock: nil}))
	require.NoError(t, sink.Emit(Event{Type: EventContentBlockDelta, Delta: &Delta{Type: DeltaText, Text: "hi"}}))
	require.NoError(t, sink.Emit(Event{Type: EventMessageDelta, Delta: &Delta{StopReason: "end_turn"}}))

	require.Len(t, out.chunks, 3)
	assert.Equal(t, "assistant", out.chunks[0].Choices[0].Delta.Role)
	assert.Equal(t, "hi", out.chunks[1].Choices[0].Delta.Content)
	require.NotNil(t, out.chunks[2].Choices[0].FinishReason)
	assert.Equal(t, "stop", *out.chunks[2].Choices[0].FinishReason)
}

func TestReframeSink_ToolUseBecomesToolCallDeltas(t *testing.T) {
	out := &recordingChunkWriter{}
	sink := NewReframeSink(out, "gpt-4o")

	block := protocol.AnthropicContentBlock{Type: "tool_use", ID: "toolu_1", Name: "get_weather"}
	require.NoError(t, sink.Emit(Event{Type: EventMessageStart}))
	require.NoError(t, sink.Emit(Event{Type: EventContentBlockStart, ContentBlock: &block}))
	require.NoError(t, sink.Emit(Event{Type: EventContentBlockDelta, Delta: &Delta{Type: DeltaInputJSON, PartialJSON: `{"city":"nyc"}`}}))
	require.NoError(t, sink.Emit(Event{Type: EventMessageDelta, Delta: &Delta{StopReason: "tool_use"}}))

	require.Len(t, out.chunks, 4)
	require.Len(t, out.chunks[1].Choices[0].Delta.ToolCalls, 1)
	assert.Equal(t, "toolu_1", out.chunks[1].Choices[0].Delta.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", out.chunks[1].Choices[0].Delta.ToolCalls[0].Function.Name)
	require.Len(t, out.chunks[2].Choices[0].Delta.ToolCalls, 1)
	assert.Equal(t, `{"city":"nyc"}`, out.chunks[2].Choices[0].Delta.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool_calls", *out.chunks[3].Choices[0].FinishReason)
}

func TestReframeSink_ThinkingAndSignatureDeltasAreDropped(t *testing.T) {
	out := &recordingChunkWriter{}
	sink := NewReframeSink(out, "gemini-3-pro")

	require.NoError(t, sink.Emit(Event{Type: EventContentBlockDelta, Delta: &Delta{Type: DeltaThinking, Thinking: "hmm"}}))
	require.NoError(t, sink.Emit(Event{Type: EventContentBlockDelta, Delta: &Delta{Type: DeltaSignature, Signature: "sig"}}))
	assert.Empty(t, out.chunks, "thinking/signature deltas have no OpenAI representation and must not produce a chunk")
}

func TestReframeSink_MessageDeltaCarriesUsage(t *testing.T) {
	out := &recordingChunkWriter{}
	sink := NewReframeSink(out, "gpt-4o")

	require.NoError(t, sink.Emit(Event{
		Type:  EventMessageDelta,
		Delta: &Delta{StopReason: "end_turn"},
		Usage: &protocol.AnthropicUsage{InputTokens: 10, OutputTokens: 5},
	}))

	require.Len(t, out.chunks, 1)
	require.NotNil(t, out.chunks[0].Usage)
	assert.Equal(t, 10, out.chunks[0].Usage.PromptTokens)
	assert.Equal(t, 5, out.chunks[0].Usage.CompletionTokens)
	assert.Equal(t, 15, out.chunks[0].Usage.TotalTokens)
}

func TestOpenAIFinishReasonFromAnthropic(t *testing.T) {
	assert.Equal(t, "tool_calls", openAIFinishReasonFromAnthropic("tool_use"))
	assert.Equal(t, "length", openAIFinishReasonFromAnthropic("max_tokens"))
	assert.Equal(t, "stop", openAIFinishReasonFromAnthropic("end_turn"))
	assert.Equal(t, "stop", openAIFinishReasonFromAnthropic("stop_sequence"))
}
