package model

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/agentloop/agentloop/core"
)

// ResponseEvent tags a streamed Response chunk.
type ResponseEvent string

const (
	// EventAssistantResponse carries a content delta.
	EventAssistantResponse ResponseEvent = "assistant_response"
	// EventToolCallStarted announces a provider-issued tool call; arguments
	// may still be partial.
	EventToolCallStarted ResponseEvent = "tool_call_started"
	// EventToolCallCompleted carries the terminal payload of a tool call
	// (complete arguments).
	EventToolCallCompleted ResponseEvent = "tool_call_completed"
)

// ToolChoice is the tool-choice policy forwarded to the provider.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide whether to call tools.
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceNone forbids tool calls for this request.
	ToolChoiceNone ToolChoice = "none"
	// ToolChoiceRequired forces at least one tool call.
	ToolChoiceRequired ToolChoice = "required"
)

// FunctionDefinition describes an individual function (tool) exposed to the
// model. Parameters is a JSON Schema object (draft agnostic, minimal subset
// expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// Usage captures token usage statistics for a response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request captures the normalized model input produced by the run loop.
type Request struct {
	Messages   []core.Message   `json:"messages"`
	Tools      []ToolDefinition `json:"tools,omitempty"`
	ToolChoice ToolChoice       `json:"tool_choice,omitempty"`
	// ResponseSchema, when set, asks the provider for structured output
	// conforming to the given JSON schema. Adapters that cannot honor it
	// fall back to plain text.
	ResponseSchema map[string]any `json:"response_schema,omitempty"`
}

// Response is a complete model result (non-streaming) or one tagged chunk of
// a streamed result.
//
// Non-streaming: Content holds the final text, Parsed the structured output
// (if requested and returned), ToolCalls any requested tool invocations.
//
// Streaming: Event tags the chunk; EventAssistantResponse carries a Content
// delta, the tool call events carry ToolCall.
type Response struct {
	Event        ResponseEvent   `json:"event,omitempty"`
	Content      string          `json:"content,omitempty"`
	Parsed       any             `json:"parsed,omitempty"`
	Audio        any             `json:"audio,omitempty"`
	ToolCall     *core.ToolCall  `json:"tool_call,omitempty"`
	ToolCalls    []core.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Info contains metadata about a model implementation.
type Info struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", ...
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by the run loop to drive
// generation. Invoke blocks for a single complete response; InvokeStream
// yields tagged chunks in provider order and must not buffer unboundedly
// ahead of a slow consumer. Both honor ctx cancellation.
type Model interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
	InvokeStream(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ParseStructured decodes a structured-output payload the provider returned
// as text. Adapters call it when the request carried a response schema so
// Response.Parsed holds the decoded object alongside the raw content.
// Markdown code fences are tolerated. Returns nil when the content is not a
// JSON object, leaving the caller to fall back to the raw text.
func ParseStructured(content string) any {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil
	}
	return parsed
}

// Cloner is implemented by models that can produce a fresh instance with the
// same model id. The reasoning step uses it to derive a reasoning model from
// the primary model when none is configured.
type Cloner interface {
	Clone() Model
}
