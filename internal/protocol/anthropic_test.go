package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicToCanonical_SystemString(t *testing.T) {
	req := &AnthropicRequest{
		Model:     "claude-sonnet-4",
		MaxTokens: 1024,
		System:    "be helpful",
		Messages:  []AnthropicMessage{{Role: "user", Content: "hi"}},
	}
	canon, err := req.ToCanonical()
	require.NoError(t, err)
	assert.Equal(t, "be helpful", canon.System)
	assert.Equal(t, 1024, canon.MaxTokens)
}

func TestAnthropicToCanonical_SystemBlockArray(t *testing.T) {
	req := &AnthropicRequest{
		Model:    "claude-sonnet-4",
		System:   []any{map[string]any{"type": "text", "text": "A"}, map[string]any{"type": "text", "text": "B"}},
		Messages: []AnthropicMessage{{Role: "user", Content: "hi"}},
	}
	canon, err := req.ToCanonical()
	require.NoError(t, err)
	assert.Equal(t, "A\n\nB", canon.System)
}

func TestAnthropicToCanonical_DefaultMaxTokens(t *testing.T) {
	req := &AnthropicRequest{Model: "claude-sonnet-4", Messages: []AnthropicMessage{{Role: "user", Content: "hi"}}}
	canon, err := req.ToCanonical()
	require.NoError(t, err)
	assert.Equal(t, 4096, canon.MaxTokens)
}

func TestAnthropicContentBlock_ToolUseRoundTrip(t *testing.T) {
	raw := []byte(`{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"nyc"},"thought_signature":"c2lnbmF0dXJlYnl0ZXM="}`)
	var block AnthropicContentBlock
	require.NoError(t, json.Unmarshal(raw, &block))
	canon, err := block.toCanonical()
	require.NoError(t, err)
	assert.Equal(t, BlockToolUse, canon.Type)
	assert.Equal(t, "toolu_1", canon.ToolUseID)
	assert.Equal(t, "c2lnbmF0dXJlYnl0ZXM=", canon.ThoughtSignature)
}

func TestAnthropicContentBlock_DanglingToolResultErrors(t *testing.T) {
	block := AnthropicContentBlock{Type: "tool_result", Content: "result"}
	_, err := block.toCanonical()
	require.Error(t, err)
	var terr *TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "dangling_tool_result", terr.Code)
}

func TestAnthropicContentBlock_ImageMissingSourceErrors(t *testing.T) {
	block := AnthropicContentBlock{Type: "image"}
	_, err := block.toCanonical()
	require.Error(t, err)
}

func TestAnthropicContentBlock_ImageBase64(t *testing.T) {
	block := AnthropicContentBlock{Type: "image", Source: &AnthropicImageSource{Type: "base64", MediaType: "image/png", Data: "QUJD"}}
	canon, err := block.toCanonical()
	require.NoError(t, err)
	assert.Equal(t, ImageSourceBase64, canon.Image.Kind)
	assert.Equal(t, "QUJD", canon.Image.Data)
}

func TestRenderAnthropicResponse_RoundTrip(t *testing.T) {
	resp := &Response{
		ID:         "msg_1",
		Model:      "claude-sonnet-4",
		Role:       RoleAssistant,
		StopReason: StopToolUse,
		Content: []Block{
			{Type: BlockText, Text: "let me check"},
			{Type: BlockToolUse, ToolUseID: "toolu_1", ToolName: "get_weather", ToolInput: json.RawMessage(`{"city":"nyc"}`), ThoughtSignature: "sig"},
		},
		Usage: Usage{InputTokens: 20, OutputTokens: 8},
	}
	wire := RenderAnthropicResponse(resp)
	assert.Equal(t, "message", wire.Type)
	assert.Equal(t, "tool_use", wire.StopReason)
	require.Len(t, wire.Content, 2)
	assert.Equal(t, "text", wire.Content[0].Type)
	assert.Equal(t, "tool_use", wire.Content[1].Type)
	assert.Equal(t, "sig", wire.Content[1].ThoughtSignature)
	assert.Equal(t, 20, wire.Usage.InputTokens)
}

func TestNewToolUseID_HasExpectedPrefix(t *testing.T) {
	id := NewToolUseID()
	assert.True(t, strings.HasPrefix(id, "toolu_"))
	assert.NotContains(t, id, "-")
}
