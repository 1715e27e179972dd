package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/internal/util"
	"github.com/agentloop/agentloop/model"
)

const (
	reasoningOpenBracket = "I have worked through this problem in-depth, running all necessary tools and have included my raw, step by step research. "

	reasoningCloseBracket = "Now I will summarize my reasoning and provide a final answer. I will skip any tool calls already executed and steps that are not relevant to the final answer."

	reasoningDescription = "You are a meticulous and thoughtful assistant that solves a problem by thinking through it step-by-step."
)

func reasoningInstructions(minSteps int) []string {
	return []string{
		"First - Carefully analyze the task by spelling it out loud.",
		"Then, break down the problem by thinking through it step by step and develop multiple strategies to solve the problem.",
		"Then, examine the user's intent and develop a step by step plan to solve the problem.",
		"Work through your plan step-by-step, executing any tools as needed. For each step, provide:\n" +
			"  1. Title: A clear, concise title that encapsulates the step's main focus or objective.\n" +
			"  2. Action: Describe the action you will take in the first person (e.g., 'I will...').\n" +
			"  3. Result: Execute the action by running any necessary tools or providing an answer. Summarize the outcome.\n" +
			"  4. Reasoning: Explain the logic behind this step in the first person.\n" +
			"  5. Next Action: Decide on the next step: continue, validate, or final_answer.\n" +
			"     Note: you must always validate the answer before providing the final answer.\n" +
			"  6. Confidence score: A score from 0.0 to 1.0 reflecting your certainty about the action and its outcome.",
		"Handling Next Actions:\n" +
			"  - If next_action is continue, proceed to the next step in your analysis.\n" +
			"  - If next_action is validate, validate the result and provide the final answer.\n" +
			"  - If next_action is final_answer, stop reasoning.",
		"Additional Guidelines:\n" +
			"  - Remember to run any tools you need to solve the problem.\n" +
			fmt.Sprintf("  - Take at least %d steps to solve the problem.\n", minSteps) +
			"  - If you have all the information you need, provide the final answer.\n" +
			"  - IMPORTANT: IF AT ANY TIME THE RESULT IS WRONG, RESET AND START OVER.",
	}
}

// reason runs the chain-of-thought sub-agent loop before the primary
// response and splices its transcript into messages between two bracketing
// assistant messages, excluded from long-term memory. Every failure mode is
// absorbed: a warning is logged and control falls through to regular
// generation.
func (a *Agent) reason(rc *core.RunContext, systemMessage *core.Message, userMessages []core.Message, messages *[]core.Message) {
	rc.EmitIntermediate(core.EventReasoningStarted, "Reasoning started") //nolint:errcheck

	rm := a.opts.ReasoningModel
	if rm == nil {
		if cloner, ok := a.llm.(model.Cloner); ok {
			rm = cloner.Clone()
		}
	}
	if rm == nil {
		a.logger.Warn("reasoning model unavailable, continuing regular generation")
		return
	}

	sub := a.newReasoningAgent(rm, systemMessage)
	base := append([]core.Message(nil), userMessages...)

	var (
		allSteps   []core.ReasoningStep
		transcript []core.Message
	)

	a.logger.Debug("reasoning started", "run_id", rc.Run.RunID, "max_steps", a.opts.ReasoningMaxSteps)

	stepCount := 0
	next := core.NextActionContinue
	for next == core.NextActionContinue && stepCount < a.opts.ReasoningMaxSteps {
		stepCount++

		if err := rc.Err(); err != nil {
			a.logger.Warn("reasoning cancelled, continuing regular generation", "error", err)
			break
		}

		resp, err := sub.runMessages(rc.Context, append(base, transcript...))
		if err != nil {
			a.logger.Warn("reasoning error, continuing regular generation", "error", err)
			break
		}

		steps := parseReasoningSteps(resp)
		if len(steps) == 0 {
			a.logger.Warn("reasoning response has no steps, continuing regular generation")
			break
		}
		allSteps = append(allSteps, steps...)

		if rc.StreamIntermediateSteps {
			for _, step := range steps {
				ev := rc.NewResponse(core.EventReasoningStep, step)
				ev.ContentType = "ReasoningStep"
				rc.Emit(ev) //nolint:errcheck
			}
		}

		// Thread the sub-agent transcript explicitly: everything from its
		// first assistant message on feeds the next iteration; the framing
		// system and user messages before it are discarded.
		transcript = fromFirstAssistant(resp.Messages)

		next = nextAction(steps[len(steps)-1], a.logger)
	}

	a.logger.Debug("reasoning finished", "steps", len(allSteps), "iterations", stepCount)

	if len(allSteps) == 0 {
		return
	}

	open := core.NewAssistantMessage(reasoningOpenBracket)
	open.AddToMemory = false
	*messages = append(*messages, open)
	for i := range transcript {
		transcript[i].AddToMemory = false
	}
	*messages = append(*messages, transcript...)
	closing := core.NewAssistantMessage(reasoningCloseBracket)
	closing.AddToMemory = false
	*messages = append(*messages, closing)

	rc.Run.ReasoningSteps = allSteps
	rc.EmitIntermediate(core.EventReasoningCompleted, core.ReasoningSteps{Steps: allSteps}) //nolint:errcheck
}

// newReasoningAgent builds the sub-agent that produces structured
// ReasoningSteps. It shares the primary agent's tools but never streams and
// never touches memory or storage.
func (a *Agent) newReasoningAgent(rm model.Model, systemMessage *core.Message) *Agent {
	return New(a.name+"-reasoner", rm, func(o *Options) {
		o.Description = reasoningDescription
		o.Instructions = reasoningInstructions(a.opts.ReasoningMinSteps)
		if systemMessage != nil {
			o.AdditionalContext = systemMessage.Content
		}
		o.Tools = a.opts.Tools
		o.MaxToolRoundTrips = a.opts.MaxToolRoundTrips
		o.ResponseModel = "ReasoningSteps"
		o.ResponseSchema = util.CreateSchema(core.ReasoningSteps{})
		o.StructuredOutputs = true
		o.NumHistoryResponses = 0
		o.Logger = a.logger
	})
}

// runMessages executes the respond loop over an explicit transcript, without
// history replay, reasoning, memory updates or persistence. Used by the
// reasoning sub-agent where state is threaded by the caller.
func (a *Agent) runMessages(ctx context.Context, msgs []core.Message) (*core.RunResponse, error) {
	input := core.Message{Role: core.RoleUser}
	if len(msgs) > 0 {
		input = msgs[len(msgs)-1]
	}
	run := core.NewRun(a.opts.SessionID, a.opts.AgentID, a.opts.UserID, input)
	rc := core.NewRunContext(ctx, run, a.limiter(), nil, a.logger)

	full := msgs
	if sm := a.systemMessage(ctx); sm != nil {
		full = append([]core.Message{*sm}, msgs...)
	}

	resp, err := a.respondLoop(rc, full, false)
	if err != nil {
		return nil, err
	}
	a.finalizeResponse(rc, resp)
	return run.Response, nil
}

// fromFirstAssistant returns the tail of msgs starting at the first
// assistant message, discarding the sub-agent's initial framing.
func fromFirstAssistant(msgs []core.Message) []core.Message {
	for i, m := range msgs {
		if m.Role == core.RoleAssistant {
			return append([]core.Message(nil), msgs[i:]...)
		}
	}
	return nil
}

// nextAction extracts the last step's next action; anything unparseable
// terminates the loop as final_answer.
func nextAction(step core.ReasoningStep, logger interface{ Warn(string, ...any) }) core.NextAction {
	if step.NextAction == "" {
		return core.NextActionFinalAnswer
	}
	action, err := core.ParseNextAction(string(step.NextAction))
	if err != nil {
		logger.Warn("invalid next action, stopping reasoning", "next_action", step.NextAction)
	}
	return action
}

// parseReasoningSteps extracts steps from a sub-agent response: a structured
// payload when the model supports it, otherwise JSON in the text content.
func parseReasoningSteps(resp *core.RunResponse) []core.ReasoningStep {
	switch v := resp.Content.(type) {
	case *core.ReasoningSteps:
		return v.Steps
	case core.ReasoningSteps:
		return v.Steps
	case string:
		var rs core.ReasoningSteps
		if err := json.Unmarshal([]byte(stripFences(v)), &rs); err == nil {
			return rs.Steps
		}
	case map[string]any:
		// Adapter structured outputs decode to a generic map.
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var rs core.ReasoningSteps
		if err := json.Unmarshal(data, &rs); err == nil {
			return rs.Steps
		}
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}
