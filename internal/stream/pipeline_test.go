package stream

import (
	"testing"

	genai "google.golang.org/genai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccbridge/internal/protocol"
	"ccbridge/internal/sigcache"
)

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Emit(e Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) typesOf() []EventType {
	var out []EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func TestPipeline_TextOnlyStream(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink, nil, "gemini-2.5-pro", "gemini-2.5", "msg_1")

	require.NoError(t, p.HandleChunk(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: "hello "}}}}},
	}))
	require.NoError(t, p.HandleChunk(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: "world"}}}, FinishReason: genai.FinishReasonStop}},
	}))
	require.NoError(t, p.Close())

	assert.Equal(t, []EventType{
		EventMessageStart,
		EventContentBlockStart,
		EventContentBlockDelta,
		EventContentBlockDelta,
		EventContentBlockStop,
		EventMessageDelta,
		EventMessageStop,
	}, sink.typesOf())

	assert.Equal(t, "end_turn", sink.events[5].Delta.StopReason)
}

func TestPipeline_ThinkingThenTextEmitsSignatureDeltaOnTransition(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink, nil, "gemini-3-pro", "gemini-3", "msg_1")

	sig := make([]byte, 12)
	for i := range sig {
		sig[i] = byte(i + 1)
	}

	require.NoError(t, p.HandleChunk(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{Thought: true, Text: "thinking...", ThoughtSignature: sig},
		}}}},
	}))
	require.NoError(t, p.HandleChunk(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: "the answer"}}}, FinishReason: genai.FinishReasonStop}},
	}))
	require.NoError(t, p.Close())

	types := sink.typesOf()
	// message_start, content_block_start(thinking), content_block_delta(thinking_delta),
	// content_block_delta(signature_delta), content_block_stop, content_block_start(text),
	// content_block_delta(text_delta), content_block_stop, message_delta, message_stop
	require.Len(t, types, 10)
	assert.Equal(t, EventContentBlockDelta, types[3])
	assert.Equal(t, DeltaSignature, sink.events[3].Delta.Type)
	assert.Equal(t, EventContentBlockStart, types[5])
	assert.Equal(t, "text", sink.events[5].ContentBlock.Type)
}

func TestPipeline_FunctionCallSetsToolUseStopReason(t *testing.T) {
	sink := &recordingSink{}
	cache := sigcache.New(16)
	p := NewPipeline(sink, cache, "gemini-2.5-pro", "gemini-2.5", "msg_1")

	require.NoError(t, p.HandleChunk(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{FunctionCall: &genai.FunctionCall{ID: "call_1", Name: "get_weather", Args: map[string]any{"city": "nyc"}}},
		}}, FinishReason: genai.FinishReasonStop}},
	}))
	require.NoError(t, p.Close())

	var sawToolUseBlock, sawDelta bool
	for _, e := range sink.events {
		if e.Type == EventContentBlockStart && e.ContentBlock.Type == "tool_use" {
			sawToolUseBlock = true
			assert.Equal(t, "get_weather", e.ContentBlock.Name)
		}
		if e.Type == EventContentBlockDelta && e.Delta.Type == DeltaInputJSON {
			sawDelta = true
			assert.JSONEq(t, `{"city":"nyc"}`, e.Delta.PartialJSON)
		}
		if e.Type == EventMessageDelta {
			assert.Equal(t, "tool_use", e.Delta.StopReason)
		}
	}
	assert.True(t, sawToolUseBlock)
	assert.True(t, sawDelta)
}

func TestPipeline_InlineDataEmitsSelfContainedBlock(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink, nil, "gemini-2.5-pro", "gemini-2.5", "msg_1")

	require.NoError(t, p.HandleChunk(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: []byte("fakepngbytes"), MIMEType: "image/png"}},
		}}, FinishReason: genai.FinishReasonStop}},
	}))
	require.NoError(t, p.Close())

	types := sink.typesOf()
	require.Contains(t, types, EventContentBlockStart)
	// inline data block opens and closes immediately, before message_delta/stop
	idx := 0
	for i, ty := range types {
		if ty == EventContentBlockStart {
			idx = i
			break
		}
	}
	assert.Equal(t, EventContentBlockStop, types[idx+1])
	assert.Equal(t, "image", sink.events[idx].ContentBlock.Type)
}

func TestPipeline_CloseWithoutAnyPartsReturnsEmptyResponse(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(sink, nil, "gemini-2.5-pro", "gemini-2.5", "msg_1")

	require.NoError(t, p.HandleChunk(&genai.GenerateContentResponse{}))

	err := p.Close()
	require.Error(t, err)
	var terr *protocol.TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "empty_response", terr.Code)
	assert.Empty(t, sink.events, "Close must not fabricate message_start/message_stop on an empty stream")
}

func TestModelFamily_StripsLatestAndVersionSuffixes(t *testing.T) {
	assert.Equal(t, "gemini-2.5-pro", ModelFamily("gemini-2.5-pro-latest"))
	assert.Equal(t, "gemini-2.5-pro", ModelFamily("gemini-2.5-pro-001"))
	assert.Equal(t, "gemini-2.5-pro", ModelFamily("gemini-2.5-pro"))
}
