package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reasoningTurn(title string, next core.NextAction) *core.ReasoningSteps {
	return &core.ReasoningSteps{Steps: []core.ReasoningStep{{
		Title:      title,
		Action:     "I will analyze the problem.",
		Result:     "Analyzed.",
		Reasoning:  "Working through it.",
		NextAction: next,
		Confidence: 0.9,
	}}}
}

// -------------------- Reasoning Tests --------------------

func TestAgent_ReasoningTerminatesOnFinalAnswer(t *testing.T) {
	reasoner := model.NewMockModel("reasoner").
		AddParsedTurn("", reasoningTurn("Step 1", core.NextActionContinue)).
		AddParsedTurn("", reasoningTurn("Step 2", core.NextActionFinalAnswer))

	primary := model.NewMockModel("primary").AddTextTurn("the answer is 42")
	a := New("thinker", primary, func(o *Options) {
		o.Reasoning = true
		o.ReasoningModel = reasoner
	})

	resp, err := a.Run(context.Background(), "What is the answer?")
	require.NoError(t, err)
	assert.Equal(t, "the answer is 42", resp.Content)

	require.Len(t, resp.ReasoningSteps, 2)
	assert.Equal(t, "Step 1", resp.ReasoningSteps[0].Title)
	assert.Equal(t, core.NextActionFinalAnswer, resp.ReasoningSteps[1].NextAction)
	assert.Len(t, reasoner.Requests, 2)
}

// With the model always asking to continue, the loop runs exactly max_steps
// iterations and stops.
func TestAgent_ReasoningBoundedByMaxSteps(t *testing.T) {
	reasoner := model.NewMockModel("reasoner")
	for i := 0; i < 5; i++ {
		reasoner.AddParsedTurn("", reasoningTurn("Step", core.NextActionContinue))
	}

	primary := model.NewMockModel("primary").AddTextTurn("done")
	a := New("thinker", primary, func(o *Options) {
		o.Reasoning = true
		o.ReasoningModel = reasoner
		o.ReasoningMaxSteps = 3
	})

	resp, err := a.Run(context.Background(), "Think hard")
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)

	assert.Len(t, reasoner.Requests, 3)
	assert.Len(t, resp.ReasoningSteps, 3)
}

func TestAgent_ReasoningTranscriptSplicedIntoMessages(t *testing.T) {
	reasoner := model.NewMockModel("reasoner").
		AddParsedTurn("", reasoningTurn("Step 1", core.NextActionFinalAnswer))

	primary := model.NewMockModel("primary").AddTextTurn("42")
	a := New("thinker", primary, func(o *Options) {
		o.Reasoning = true
		o.ReasoningModel = reasoner
	})

	_, err := a.Run(context.Background(), "What is the answer?")
	require.NoError(t, err)

	// The primary model saw the bracketed reasoning transcript.
	require.Len(t, primary.Requests, 1)
	msgs := primary.Requests[0].Messages

	var openIdx, closeIdx = -1, -1
	for i, msg := range msgs {
		if strings.Contains(msg.Content, "I have worked through this problem in-depth") {
			openIdx = i
		}
		if strings.Contains(msg.Content, "Now I will summarize my reasoning") {
			closeIdx = i
		}
	}
	require.GreaterOrEqual(t, openIdx, 0)
	require.Greater(t, closeIdx, openIdx)

	// Bracketed messages never reach long-term memory.
	for _, msg := range msgs[openIdx : closeIdx+1] {
		assert.False(t, msg.AddToMemory)
	}
}

func TestAgent_ReasoningThreadsTranscriptAcrossIterations(t *testing.T) {
	reasoner := model.NewMockModel("reasoner").
		AddParsedTurn("", reasoningTurn("Step 1", core.NextActionContinue)).
		AddParsedTurn("", reasoningTurn("Step 2", core.NextActionFinalAnswer))

	primary := model.NewMockModel("primary").AddTextTurn("done")
	a := New("thinker", primary, func(o *Options) {
		o.Reasoning = true
		o.ReasoningModel = reasoner
	})

	_, err := a.Run(context.Background(), "Think")
	require.NoError(t, err)

	require.Len(t, reasoner.Requests, 2)
	// The second iteration carries the first iteration's assistant output.
	first := reasoner.Requests[0].Messages
	second := reasoner.Requests[1].Messages
	assert.Greater(t, len(second), len(first))
	assert.Equal(t, core.RoleAssistant, second[len(second)-1].Role)
}

// A failing reasoning phase degrades to regular generation: the output is the
// same the agent would produce with reasoning disabled.
func TestAgent_ReasoningFailureFallsThrough(t *testing.T) {
	// The reasoner yields an empty response, which aborts the loop.
	reasoner := model.NewMockModel("reasoner").
		AddTurn(model.Response{Event: model.EventAssistantResponse})

	primary := model.NewMockModel("primary").AddTextTurn("4")
	a := New("thinker", primary, func(o *Options) {
		o.Reasoning = true
		o.ReasoningModel = reasoner
	})

	resp, err := a.Run(context.Background(), "What is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, "4", resp.Content)
	assert.Empty(t, resp.ReasoningSteps)

	baseline := New("plain", model.NewMockModel("primary").AddTextTurn("4"))
	baseResp, err := baseline.Run(context.Background(), "What is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, baseResp.Content, resp.Content)
}

func TestAgent_ReasoningStepsParsedFromText(t *testing.T) {
	// A reasoner without native structured outputs answers with JSON text.
	reasoner := model.NewMockModel("reasoner").
		AddTextTurn("```json\n{\"reasoning_steps\": [{\"title\": \"Step 1\", \"next_action\": \"final_answer\", \"confidence\": 1}]}\n```")

	primary := model.NewMockModel("primary").AddTextTurn("done")
	a := New("thinker", primary, func(o *Options) {
		o.Reasoning = true
		o.ReasoningModel = reasoner
	})

	resp, err := a.Run(context.Background(), "Think")
	require.NoError(t, err)
	require.Len(t, resp.ReasoningSteps, 1)
	assert.Equal(t, "Step 1", resp.ReasoningSteps[0].Title)
}

func TestAgent_ReasoningEventsOnStream(t *testing.T) {
	reasoner := model.NewMockModel("reasoner").
		AddParsedTurn("", reasoningTurn("Step 1", core.NextActionFinalAnswer))

	primary := model.NewMockModel("primary").AddTextTurn("done")
	a := New("thinker", primary, func(o *Options) {
		o.Reasoning = true
		o.ReasoningModel = reasoner
		o.StreamIntermediateSteps = true
	})

	events, err := collectStream(t, a, "Think")
	require.NoError(t, err)

	kinds := make([]core.RunEvent, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Event)
	}
	assert.Contains(t, kinds, core.EventReasoningStarted)
	assert.Contains(t, kinds, core.EventReasoningStep)
	assert.Contains(t, kinds, core.EventReasoningCompleted)

	for _, ev := range events {
		if ev.Event == core.EventReasoningStep {
			assert.Equal(t, "ReasoningStep", ev.ContentType)
			step, ok := ev.Content.(core.ReasoningStep)
			require.True(t, ok)
			assert.Equal(t, "Step 1", step.Title)
		}
	}
}

func TestAgent_ReasoningUsesPrimaryModelClone(t *testing.T) {
	// Without an explicit reasoning model the primary model's clone is used.
	// A mock clone has no scripted turns, so reasoning degrades gracefully.
	primary := model.NewMockModel("primary").AddTextTurn("fine")
	a := New("thinker", primary, func(o *Options) {
		o.Reasoning = true
	})

	resp, err := a.Run(context.Background(), "Think")
	require.NoError(t, err)
	assert.Equal(t, "fine", resp.Content)
	assert.Empty(t, resp.ReasoningSteps)
}
