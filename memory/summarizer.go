package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/logging"
	"github.com/agentloop/agentloop/model"
)

// SessionSummary is the compressed representation of a conversation.
type SessionSummary struct {
	// Summary of the session. Provide a concise summary of the session,
	// focusing on important information that would be helpful for future
	// interactions.
	Summary string `json:"summary"`
	// Topics discussed in the session.
	Topics    []string  `json:"topics,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessagePair is one user turn and the assistant response that answered it.
type MessagePair struct {
	User      core.Message
	Assistant core.Message
}

// sessionSummarySchema is the response schema sent to models that support
// structured outputs natively.
var sessionSummarySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary": map[string]any{
			"type":        "string",
			"description": "Provide a concise summary of the session, focusing on important information that would be helpful for future interactions.",
		},
		"topics": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "List the topics discussed in the session.",
		},
	},
	"required": []string{"summary"},
}

// Summarizer compresses conversation history into a SessionSummary with a
// single model call.
type Summarizer struct {
	model  model.Model
	logger logging.Logger

	// UseStructuredOutputs requests a native structured response instead of
	// prompting for raw JSON.
	UseStructuredOutputs bool
}

// NewSummarizer constructs a Summarizer backed by the given model.
func NewSummarizer(m model.Model, logger logging.Logger) *Summarizer {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Summarizer{model: m, logger: logger}
}

func (s *Summarizer) systemMessage(pairs []MessagePair) core.Message {
	var b strings.Builder
	b.WriteString("Analyze the following conversation between a user and an assistant, and extract the following details:\n")
	b.WriteString("  - Summary: Provide a concise summary of the session, focusing on important information that would be helpful for future interactions.\n")
	b.WriteString("  - Topics: List the topics discussed in the session.\n")
	b.WriteString("Please ignore any frivolous information.\n\n")
	b.WriteString("Conversation:\n")
	for _, pair := range pairs {
		fmt.Fprintf(&b, "User: %s\n", pair.User.ContentString())
		fmt.Fprintf(&b, "Assistant: %s\n", pair.Assistant.ContentString())
	}

	if !s.UseStructuredOutputs {
		b.WriteString("\nProvide your output as a JSON object containing the following fields:\n")
		b.WriteString("<json_fields>\n[\"summary\", \"topics\"]\n</json_fields>\n")
		b.WriteString("Start your response with `{` and end it with `}`.\n")
		b.WriteString("Make sure it only contains valid JSON.")
	}
	return core.NewSystemMessage(b.String())
}

// Run summarizes the given message pairs. It returns nil with no error when
// there is nothing to summarize.
func (s *Summarizer) Run(ctx context.Context, pairs []MessagePair) (*SessionSummary, error) {
	if len(pairs) == 0 {
		s.logger.Debug("no message pairs provided for summarization")
		return nil, nil
	}

	req := model.Request{Messages: []core.Message{s.systemMessage(pairs)}}
	if s.UseStructuredOutputs {
		req.ResponseSchema = sessionSummarySchema
	}

	resp, err := s.model.Invoke(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("memory: summarize session: %w", err)
	}

	if s.UseStructuredOutputs && resp.Parsed != nil {
		if summary, ok := resp.Parsed.(*SessionSummary); ok {
			summary.UpdatedAt = time.Now()
			return summary, nil
		}
	}

	var summary SessionSummary
	content := sanitizeJSON(resp.Content)
	if err := json.Unmarshal([]byte(content), &summary); err != nil {
		return nil, fmt.Errorf("memory: parse session summary: %w", err)
	}

	summary.UpdatedAt = time.Now()
	return &summary, nil
}

// sanitizeJSON strips markdown code fences models sometimes wrap around JSON.
func sanitizeJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}
