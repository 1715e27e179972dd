package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunEvent tags a RunResponse with the kind of progress it reports.
type RunEvent string

// Run response event kinds, in the order a typical run emits them.
const (
	EventRunStarted         RunEvent = "run_started"
	EventReasoningStarted   RunEvent = "reasoning_started"
	EventReasoningStep      RunEvent = "reasoning_step"
	EventReasoningCompleted RunEvent = "reasoning_completed"
	EventRunResponse        RunEvent = "run_response"
	EventToolCallStarted    RunEvent = "tool_call_started"
	EventToolCallCompleted  RunEvent = "tool_call_completed"
	EventRunCompleted       RunEvent = "run_completed"
	EventRunError           RunEvent = "run_error"
)

// RunResponse is the caller-facing progress/result unit of a run. In
// streaming mode many RunResponses are yielded (content deltas, tool call
// lifecycle, reasoning steps); in non-streaming mode exactly one final
// response is returned.
type RunResponse struct {
	RunID          string          `json:"run_id"`
	SessionID      string          `json:"session_id,omitempty"`
	AgentID        string          `json:"agent_id,omitempty"`
	Event          RunEvent        `json:"event"`
	Content        any             `json:"content,omitempty"`
	ContentType    string          `json:"content_type,omitempty"`
	Audio          any             `json:"audio,omitempty"`
	Messages       []Message       `json:"messages,omitempty"`
	Tools          []ToolCall      `json:"tools,omitempty"`
	ReasoningSteps []ReasoningStep `json:"reasoning_steps,omitempty"`
	Metrics        Metrics         `json:"metrics,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ContentAsString renders the response content for display or memory input.
func (r RunResponse) ContentAsString() string {
	if s, ok := r.Content.(string); ok {
		return s
	}
	if r.Content == nil {
		return ""
	}
	return toJSONString(r.Content)
}

// Run is the persisted record of one complete request/response cycle,
// including tool round trips and reasoning. It is owned by the orchestrator
// until handed to storage and immutable afterwards.
type Run struct {
	RunID          string          `json:"run_id"`
	SessionID      string          `json:"session_id,omitempty"`
	AgentID        string          `json:"agent_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Message        Message         `json:"message"`
	Response       *RunResponse    `json:"response,omitempty"`
	Tools          []ToolCall      `json:"tools,omitempty"`
	ReasoningSteps []ReasoningStep `json:"reasoning_steps,omitempty"`
	Messages       []Message       `json:"messages,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewRun creates a Run owned by the orchestrator for a fresh invocation.
func NewRun(sessionID, agentID, userID string, input Message) *Run {
	now := time.Now().UTC()
	runID := NewID()
	return &Run{
		RunID:     runID,
		SessionID: sessionID,
		AgentID:   agentID,
		UserID:    userID,
		Message:   input,
		Response: &RunResponse{
			RunID:     runID,
			SessionID: sessionID,
			AgentID:   agentID,
			Event:     EventRunStarted,
			CreatedAt: now,
		},
		CreatedAt: now,
	}
}

func toJSONString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
