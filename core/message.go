package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

// Conversation roles understood by model adapters.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MediaKind categorizes an attached media reference.
type MediaKind string

// Supported media kinds.
const (
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Media is a reference to an image, audio or video payload attached to a
// message. Either URL or Base64 is set; adapters decide what their provider
// supports.
type Media struct {
	Kind     MediaKind `json:"kind"`
	URL      string    `json:"url,omitempty"`
	Base64   string    `json:"base64,omitempty"`
	MimeType string    `json:"mime_type,omitempty"`
}

// Metrics captures per-message generation statistics reported by the model
// adapter.
type Metrics struct {
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	TotalTokens      int           `json:"total_tokens,omitempty"`
	TimeToFirstToken time.Duration `json:"time_to_first_token,omitempty"`
	Duration         time.Duration `json:"duration,omitempty"`
}

// Message is one conversation turn. A message is immutable once appended to a
// Run transcript; during streaming the assistant message under construction
// is the only message whose Content grows.
//
// Contract:
//   - A message with Role == RoleTool always carries a ToolCallID referencing
//     a previously issued ToolCall.
//   - AddToMemory controls whether the message participates in long-term
//     memory extraction; reasoning transcripts set it to false.
//   - FromHistory marks a message replayed from a previous run. Replayed
//     messages are never replayed again and never re-enter the session
//     transcript, so history cannot compound across runs.
type Message struct {
	Role        Role       `json:"role"`
	Content     string     `json:"content,omitempty"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID  string     `json:"tool_call_id,omitempty"`
	Media       []Media    `json:"media,omitempty"`
	Audio       any        `json:"audio,omitempty"`
	Metrics     Metrics    `json:"metrics,omitempty"`
	AddToMemory bool       `json:"add_to_memory"`
	FromHistory bool       `json:"from_history,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, AddToMemory: true, CreatedAt: time.Now().UTC()}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, AddToMemory: true, CreatedAt: time.Now().UTC()}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, AddToMemory: true, CreatedAt: time.Now().UTC()}
}

// NewToolMessage creates a tool result message referencing the originating
// tool call id.
func NewToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID, AddToMemory: true, CreatedAt: time.Now().UTC()}
}

// ContentString renders the message content for prompt assembly. Non-string
// structured payloads elsewhere in the system are serialized before they
// reach a Message, so this is the identity for now; kept as a method so
// future structured content has one rendering point.
func (m Message) ContentString() string { return m.Content }

// String implements fmt.Stringer for debug logging.
func (m Message) String() string {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("message[%s]", m.Role)
	}
	return string(b)
}
