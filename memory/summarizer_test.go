package memory

import (
	"context"
	"testing"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePairs() []MessagePair {
	return []MessagePair{
		{
			User:      core.NewUserMessage("I am planning a trip to Kyoto in spring"),
			Assistant: core.NewAssistantMessage("Spring is ideal for Kyoto, especially early April."),
		},
	}
}

func TestSummarizer_Run(t *testing.T) {
	m := model.NewMockModel("summarizer").
		AddTextTurn(`{"summary": "The user plans a spring trip to Kyoto.", "topics": ["travel", "Kyoto"]}`)
	s := NewSummarizer(m, nil)

	summary, err := s.Run(context.Background(), samplePairs())
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "The user plans a spring trip to Kyoto.", summary.Summary)
	assert.Equal(t, []string{"travel", "Kyoto"}, summary.Topics)
	assert.False(t, summary.UpdatedAt.IsZero())
}

func TestSummarizer_StripsCodeFences(t *testing.T) {
	m := model.NewMockModel("summarizer").
		AddTextTurn("```json\n{\"summary\": \"Trip planning.\"}\n```")
	s := NewSummarizer(m, nil)

	summary, err := s.Run(context.Background(), samplePairs())
	require.NoError(t, err)
	assert.Equal(t, "Trip planning.", summary.Summary)
}

func TestSummarizer_EmptyPairs(t *testing.T) {
	s := NewSummarizer(model.NewMockModel("summarizer"), nil)

	summary, err := s.Run(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, summary)
}

func TestSummarizer_PromptContainsConversation(t *testing.T) {
	m := model.NewMockModel("summarizer").AddTextTurn(`{"summary": "s"}`)
	s := NewSummarizer(m, nil)

	_, err := s.Run(context.Background(), samplePairs())
	require.NoError(t, err)

	require.Len(t, m.Requests, 1)
	prompt := m.Requests[0].Messages[0].Content
	assert.Contains(t, prompt, "User: I am planning a trip to Kyoto in spring")
	assert.Contains(t, prompt, "Assistant: Spring is ideal for Kyoto")
	assert.Contains(t, prompt, "<json_fields>")
}

func TestSummarizer_StructuredOutputs(t *testing.T) {
	m := model.NewMockModel("summarizer").
		AddParsedTurn("", &SessionSummary{Summary: "Structured.", Topics: []string{"x"}})
	s := NewSummarizer(m, nil)
	s.UseStructuredOutputs = true

	summary, err := s.Run(context.Background(), samplePairs())
	require.NoError(t, err)
	assert.Equal(t, "Structured.", summary.Summary)

	// Structured mode sends a response schema and skips the JSON instructions.
	require.Len(t, m.Requests, 1)
	assert.NotNil(t, m.Requests[0].ResponseSchema)
	assert.NotContains(t, m.Requests[0].Messages[0].Content, "<json_fields>")
}

func TestSummarizer_InvalidJSON(t *testing.T) {
	m := model.NewMockModel("summarizer").AddTextTurn("sorry, I cannot do that")
	s := NewSummarizer(m, nil)

	_, err := s.Run(context.Background(), samplePairs())
	assert.Error(t, err)
}
