package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/core"
)

// -------------------- Response Mapping Tests --------------------

func TestMapResponse_Text(t *testing.T) {
	resp := &anthropic.Message{
		StopReason: "end_turn",
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "hello "},
			{Type: "text", Text: "world"},
		},
		Usage: anthropic.Usage{InputTokens: 8, OutputTokens: 3},
	}

	out := mapResponse(resp, nil)
	assert.Equal(t, "hello world", out.Content)
	assert.Nil(t, out.Parsed)
	assert.Equal(t, "end_turn", out.FinishReason)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 8, out.Usage.PromptTokens)
	assert.Equal(t, 11, out.Usage.TotalTokens)
}

func TestMapResponse_ToolUse(t *testing.T) {
	resp := &anthropic.Message{
		StopReason: "tool_use",
		Content: []anthropic.ContentBlockUnion{
			{
				Type:  "tool_use",
				ID:    "toolu_1",
				Name:  "search",
				Input: json.RawMessage(`{"query":"go"}`),
			},
		},
	}

	out := mapResponse(resp, nil)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "toolu_1", out.ToolCalls[0].ID)
	assert.Equal(t, "search", out.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"go"}`, out.ToolCalls[0].Arguments)
	assert.Equal(t, core.ToolCallStarted, out.ToolCalls[0].Status)
}

func TestMapResponse_StructuredOutput(t *testing.T) {
	resp := &anthropic.Message{
		StopReason: "end_turn",
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "```json\n{\"city\":\"Paris\"}\n```"},
		},
	}

	out := mapResponse(resp, map[string]any{"type": "object"})
	parsed, ok := out.Parsed.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Paris", parsed["city"])
}

func TestMapResponse_EmptyStopReason(t *testing.T) {
	out := mapResponse(&anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "hi"}},
	}, nil)
	assert.Equal(t, "stop", out.FinishReason)
}
