package core

import (
	"context"
	"time"

	"github.com/agentloop/agentloop/logging"
)

// RunContext is the narrow capability handed to the individual run steps
// (reason, respond, tool execution). It carries the ambient cancellation
// context, run identity, the Run record being built, and the emit path for
// streaming consumers. Steps never see the owning agent; everything they may
// touch is here.
//
// The tool call list on the Run is indexed by id so streaming completion
// events can overwrite the matching entry in O(1).
type RunContext struct {
	Context context.Context
	Run     *Run

	// StreamIntermediateSteps controls whether reasoning/tool lifecycle
	// events are emitted in addition to content deltas.
	StreamIntermediateSteps bool

	// Limiter bounds the number of model calls within this run.
	Limiter *ModelLimiter

	emit      func(RunResponse) error
	toolIndex map[string]int

	*loggerAdapter
}

// NewRunContext constructs a RunContext for one run invocation. A nil emit
// discards streamed responses, which is what the synchronous path uses.
func NewRunContext(
	ctx context.Context,
	run *Run,
	limiter *ModelLimiter,
	emit func(RunResponse) error,
	logger logging.Logger,
) *RunContext {
	if emit == nil {
		emit = func(RunResponse) error { return nil }
	}
	return &RunContext{
		Context:       ctx,
		Run:           run,
		Limiter:       limiter,
		emit:          emit,
		toolIndex:     map[string]int{},
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// Emit forwards a RunResponse to the streaming consumer, honoring
// cancellation.
func (rc *RunContext) Emit(rr RunResponse) error {
	select {
	case <-rc.Context.Done():
		return rc.Context.Err()
	default:
	}
	return rc.emit(rr)
}

// EmitIntermediate emits an event carrying intermediate progress, but only
// when the caller requested intermediate-step streaming.
func (rc *RunContext) EmitIntermediate(event RunEvent, content any) error {
	if !rc.StreamIntermediateSteps {
		return nil
	}
	return rc.Emit(rc.NewResponse(event, content))
}

// NewResponse builds a RunResponse stamped with this run's identity.
func (rc *RunContext) NewResponse(event RunEvent, content any) RunResponse {
	return RunResponse{
		RunID:     rc.Run.RunID,
		SessionID: rc.Run.SessionID,
		AgentID:   rc.Run.AgentID,
		Event:     event,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// AddToolCall appends a tool call to the run's tool list, creating the list
// if absent, and records its index for later completion. A duplicate id is
// ignored: at most one instance exists per provider-issued id.
func (rc *RunContext) AddToolCall(tc ToolCall) {
	if _, exists := rc.toolIndex[tc.ID]; exists {
		return
	}
	rc.toolIndex[tc.ID] = len(rc.Run.Tools)
	rc.Run.Tools = append(rc.Run.Tools, tc)
}

// UpdateToolCall overwrites the tool call with the matching id. It reports
// whether an entry existed.
func (rc *RunContext) UpdateToolCall(tc ToolCall) bool {
	idx, ok := rc.toolIndex[tc.ID]
	if !ok {
		return false
	}
	rc.Run.Tools[idx] = tc
	return true
}

// PendingToolCalls returns the run's tool calls that still await execution,
// in first-seen order.
func (rc *RunContext) PendingToolCalls() []ToolCall {
	var pending []ToolCall
	for _, tc := range rc.Run.Tools {
		if tc.Status != ToolCallCompleted {
			pending = append(pending, tc)
		}
	}
	return pending
}
