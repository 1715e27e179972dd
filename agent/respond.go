package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/model"
)

// respond issues one primary model call. In streaming mode content deltas
// are emitted as they arrive and tool lifecycle chunks update the run's tool
// list in arrival order; the folded result is returned either way so the
// round-trip loop sees the same shape in both modes.
func (a *Agent) respond(rc *core.RunContext, messages []core.Message, stream bool) (*model.Response, error) {
	if err := rc.Limiter.Increment(); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	req := model.Request{Messages: messages}
	if a.tools.Len() > 0 {
		req.Tools = a.tools.Definitions()
		req.ToolChoice = model.ToolChoiceAuto
	}
	if a.opts.ResponseSchema != nil && a.opts.StructuredOutputs {
		req.ResponseSchema = a.opts.ResponseSchema
	}

	if !stream {
		resp, err := a.llm.Invoke(rc.Context, req)
		if err != nil {
			return nil, fmt.Errorf("agent: model call: %w", err)
		}
		for _, tc := range resp.ToolCalls {
			rc.AddToolCall(normalizeToolCall(tc))
		}
		if resp.CreatedAt.IsZero() {
			resp.CreatedAt = time.Now().UTC()
		}
		return resp, nil
	}

	return a.respondStream(rc, req)
}

func (a *Agent) respondStream(rc *core.RunContext, req model.Request) (*model.Response, error) {
	chunks, errCh := a.llm.InvokeStream(rc.Context, req)

	var (
		content   strings.Builder
		folded    = model.Response{CreatedAt: time.Now().UTC()}
		toolCalls []core.ToolCall
	)

	for ck := range chunks {
		switch ck.Event {
		case model.EventAssistantResponse:
			if ck.Content != "" {
				content.WriteString(ck.Content)
				rc.Run.Response.Content = content.String()
				rc.Run.Response.CreatedAt = ck.CreatedAt

				delta := rc.NewResponse(core.EventRunResponse, ck.Content)
				delta.CreatedAt = ck.CreatedAt
				if err := rc.Emit(delta); err != nil {
					return nil, err
				}
			}
			if ck.Parsed != nil {
				folded.Parsed = ck.Parsed
			}
			if ck.Audio != nil {
				folded.Audio = ck.Audio
			}
		case model.EventToolCallStarted:
			if ck.ToolCall == nil {
				continue
			}
			tc := *ck.ToolCall
			if tc.Status == "" {
				tc.Status = core.ToolCallPending
			}
			if tc.StartedAt.IsZero() {
				tc.StartedAt = time.Now().UTC()
			}
			rc.AddToolCall(tc)

			if rc.StreamIntermediateSteps {
				ev := rc.NewResponse(core.EventToolCallStarted, ck.Content)
				ev.Tools = []core.ToolCall{tc}
				if err := rc.Emit(ev); err != nil {
					return nil, err
				}
			}
		case model.EventToolCallCompleted:
			if ck.ToolCall == nil {
				continue
			}
			tc := normalizeToolCall(*ck.ToolCall)
			if !rc.UpdateToolCall(tc) {
				rc.AddToolCall(tc)
			}
			toolCalls = append(toolCalls, tc)

			if rc.StreamIntermediateSteps {
				ev := rc.NewResponse(core.EventToolCallCompleted, ck.Content)
				ev.Tools = []core.ToolCall{tc}
				if err := rc.Emit(ev); err != nil {
					return nil, err
				}
			}
		}
		if ck.Usage != nil {
			folded.Usage = ck.Usage
		}
		if ck.FinishReason != "" {
			folded.FinishReason = ck.FinishReason
		}
	}

	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("agent: model stream: %w", err)
	}

	folded.Content = content.String()
	folded.ToolCalls = toolCalls
	return &folded, nil
}

// normalizeToolCall stamps the arguments-complete state on a provider tool
// call so it is ready for execution.
func normalizeToolCall(tc core.ToolCall) core.ToolCall {
	if tc.Status == "" || tc.Status == core.ToolCallPending {
		tc.Status = core.ToolCallStarted
	}
	if tc.StartedAt.IsZero() {
		tc.StartedAt = time.Now().UTC()
	}
	return tc
}
