package core

import "time"

// ToolCallStatus tracks the lifecycle of a model-requested tool invocation.
type ToolCallStatus string

const (
	// ToolCallPending means the provider is still streaming argument deltas.
	ToolCallPending ToolCallStatus = "pending"
	// ToolCallStarted means the arguments are complete and execution is due.
	ToolCallStarted ToolCallStatus = "started"
	// ToolCallCompleted means the call was executed; Result or Error is set.
	ToolCallCompleted ToolCallStatus = "completed"
)

// ToolCall is a model-requested invocation of a registered tool, identified
// by the provider-issued id. At most one instance exists per id within a Run.
//
// A ToolCall that reaches ToolCallCompleted always carries a non-empty Result
// or an explicit Error.
type ToolCall struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Arguments   string         `json:"arguments,omitempty"` // serialized JSON
	Status      ToolCallStatus `json:"status"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}

// Complete returns a copy of the call marked completed with the given result.
func (tc ToolCall) Complete(result string) ToolCall {
	tc.Status = ToolCallCompleted
	tc.Result = result
	tc.CompletedAt = time.Now().UTC()
	return tc
}

// Fail returns a copy of the call marked completed with an error payload.
func (tc ToolCall) Fail(err error) ToolCall {
	tc.Status = ToolCallCompleted
	tc.Error = err.Error()
	tc.CompletedAt = time.Now().UTC()
	return tc
}
