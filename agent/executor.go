package agent

import (
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentloop/agentloop/core"
)

// executeToolCalls runs one round trip's tool calls, concurrently when more
// than one is pending, and returns the tool result messages in the calls'
// first-seen order. Each result is re-associated with its originating call id
// before being re-submitted to the model; concurrency never reorders which
// result maps to which id.
//
// Tool failures are never fatal: the error text becomes the tool message
// content so the model can retry or explain. Panics inside a tool are
// recovered the same way.
func (a *Agent) executeToolCalls(rc *core.RunContext, calls []core.ToolCall) []core.Message {
	if len(calls) == 0 {
		return nil
	}

	results := make([]core.ToolCall, len(calls))

	g, ctx := errgroup.WithContext(rc.Context)
	if a.opts.MaxParallelToolCalls > 0 {
		g.SetLimit(a.opts.MaxParallelToolCalls)
	}

	for i, call := range calls {
		g.Go(func() error {
			start := time.Now()
			res := func() (res toolResult) {
				defer func() {
					if r := recover(); r != nil {
						a.logger.Error("tool panicked",
							"tool", call.Name, "tool_call_id", call.ID, "recover", r)
						debug.PrintStack()
						res.err = fmt.Errorf("tool %s panicked: %v", call.Name, r)
					}
				}()
				out := a.tools.Execute(ctx, call.ID, call.Name, call.Arguments)
				return toolResult{content: out.Content, err: out.Err}
			}()

			a.logger.Debug("tool executed",
				"tool", call.Name,
				"tool_call_id", call.ID,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", res.err != nil,
			)

			if res.err != nil {
				results[i] = call.Fail(res.err)
			} else {
				results[i] = call.Complete(res.content)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers report failure through results

	msgs := make([]core.Message, 0, len(calls))
	for _, tc := range results {
		rc.UpdateToolCall(tc)

		content := tc.Result
		if tc.Error != "" {
			content = tc.Error
		}
		msgs = append(msgs, core.NewToolMessage(tc.ID, content))
	}
	return msgs
}

type toolResult struct {
	content string
	err     error
}
