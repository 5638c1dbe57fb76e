package protocol

import (
	"testing"

	genai "google.golang.org/genai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccbridge/internal/sigcache"
)

func TestToGoogleRequest_SystemInstruction(t *testing.T) {
	req := &Request{
		Model:     "gemini-2.5-pro",
		MaxTokens: 2048,
		System:    "be terse",
		Messages:  []Message{{Role: RoleUser, Content: []Block{{Type: BlockText, Text: "hi"}}}},
	}
	contents, cfg, err := ToGoogleRequest(req, nil, "gemini-2.5")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	require.NotNil(t, cfg.SystemInstruction)
	require.Len(t, cfg.SystemInstruction.Parts, 1)
	assert.Equal(t, "be terse", cfg.SystemInstruction.Parts[0].Text)
	assert.Equal(t, int32(2048), cfg.MaxOutputTokens)
}

func TestToGoogleRequest_SignatureReinjectionFromToolID(t *testing.T) {
	cache := sigcache.New(16)
	cache.PutToolID("toolu_1", "c2lnbmF0dXJlYnl0ZXNsb25nZW5vdWdo")

	req := &Request{
		Model:     "gemini-2.5-pro",
		MaxTokens: 1024,
		Messages: []Message{
			{Role: RoleAssistant, Content: []Block{{
				Type:      BlockToolUse,
				ToolUseID: "toolu_1",
				ToolName:  "get_weather",
			}}},
		},
	}
	contents, _, err := ToGoogleRequest(req, cache, "gemini-2.5")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	require.Len(t, contents[0].Parts, 1)
	assert.NotEmpty(t, contents[0].Parts[0].ThoughtSignature)
}

func TestToGoogleRequest_SignatureReinjectionFallsBackToModelFamily(t *testing.T) {
	cache := sigcache.New(16)
	cache.PutModelFamily("gemini-2.5", "c2lnbmF0dXJlYnl0ZXNsb25nZW5vdWdo")

	req := &Request{
		Model:     "gemini-2.5-pro",
		MaxTokens: 1024,
		Messages: []Message{
			{Role: RoleAssistant, Content: []Block{{
				Type:      BlockToolUse,
				ToolUseID: "toolu_unknown",
				ToolName:  "get_weather",
			}}},
		},
	}
	contents, _, err := ToGoogleRequest(req, cache, "gemini-2.5")
	require.NoError(t, err)
	assert.NotEmpty(t, contents[0].Parts[0].ThoughtSignature)
}

func TestToGoogleRequest_RemoteImageRejected(t *testing.T) {
	req := &Request{
		Model:     "gemini-2.5-pro",
		MaxTokens: 1024,
		Messages: []Message{
			{Role: RoleUser, Content: []Block{{Type: BlockImage, Image: ImageSource{Kind: ImageSourceURL, URL: "https://example.com/a.png"}}}},
		},
	}
	_, _, err := ToGoogleRequest(req, nil, "gemini-2.5")
	require.Error(t, err)
	var terr *TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "unsupported_image_source", terr.Code)
}

func TestToGoogleRequest_ToolResultResolvesNameFromPrecedingToolUse(t *testing.T) {
	req := &Request{
		Model:     "gemini-2.5-pro",
		MaxTokens: 1024,
		Messages: []Message{
			{Role: RoleAssistant, Content: []Block{{
				Type:      BlockToolUse,
				ToolUseID: "toolu_1",
				ToolName:  "get_weather",
			}}},
			{Role: RoleUser, Content: []Block{{
				Type:              BlockToolResult,
				ToolResultID:      "toolu_1",
				ToolResultContent: `{"temp": 72}`,
			}}},
		},
	}
	contents, _, err := ToGoogleRequest(req, nil, "gemini-2.5")
	require.NoError(t, err)
	require.Len(t, contents, 2)
	require.Len(t, contents[1].Parts, 1)
	fr := contents[1].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "get_weather", fr.Name)
	assert.Equal(t, "toolu_1", fr.ID)
}

func TestFromGoogleResponse_ToolUseOverridesStopReason(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{FunctionCall: &genai.FunctionCall{ID: "call_1", Name: "get_weather", Args: map[string]any{"city": "nyc"}}},
			}},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:        100,
			CandidatesTokenCount:    20,
			CachedContentTokenCount: 10,
		},
	}
	out, err := FromGoogleResponse(resp, "gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, StopToolUse, out.StopReason)
	require.Len(t, out.Content, 1)
	assert.Equal(t, BlockToolUse, out.Content[0].Type)
	assert.Equal(t, 90, out.Usage.InputTokens)
	assert.Equal(t, 20, out.Usage.OutputTokens)
	assert.Equal(t, 10, out.Usage.CacheReadInputTokens)
}

func TestFromGoogleResponse_EmptyCandidatesErrors(t *testing.T) {
	_, err := FromGoogleResponse(&genai.GenerateContentResponse{}, "gemini-2.5-pro")
	require.Error(t, err)
}

func TestFromGoogleResponse_MaxTokensFinishReason(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "partial"}}},
			FinishReason: genai.FinishReasonMaxTokens,
		}},
	}
	out, err := FromGoogleResponse(resp, "gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, StopMaxTokens, out.StopReason)
}

func TestGooglePartToBlock_ThoughtPriorityOverText(t *testing.T) {
	block, isToolUse, err := googlePartToBlock(&genai.Part{Thought: true, Text: "reasoning..."})
	require.NoError(t, err)
	assert.False(t, isToolUse)
	assert.Equal(t, BlockThinking, block.Type)
	assert.Equal(t, "reasoning...", block.Thinking)
}
