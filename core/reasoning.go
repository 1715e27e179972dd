package core

import "fmt"

// NextAction is the reasoning sub-agent's decision after a step.
type NextAction string

const (
	// NextActionContinue requests another reasoning step.
	NextActionContinue NextAction = "continue"
	// NextActionValidate requests validation of a candidate answer.
	NextActionValidate NextAction = "validate"
	// NextActionFinalAnswer terminates the reasoning loop.
	NextActionFinalAnswer NextAction = "final_answer"
)

// ParseNextAction converts a model-emitted string into a NextAction. An
// unknown or empty value maps to NextActionFinalAnswer so a confused model
// can never keep the loop alive; the error lets callers log the condition.
func ParseNextAction(s string) (NextAction, error) {
	switch NextAction(s) {
	case NextActionContinue, NextActionValidate, NextActionFinalAnswer:
		return NextAction(s), nil
	case "":
		return NextActionFinalAnswer, nil
	default:
		return NextActionFinalAnswer, fmt.Errorf("invalid next action: %q", s)
	}
}

// ReasoningStep is one structured step produced by the reasoning sub-agent.
// Ordering is significant: steps form a sequential plan.
type ReasoningStep struct {
	Title      string     `json:"title"`
	Action     string     `json:"action,omitempty"`
	Result     string     `json:"result,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
	NextAction NextAction `json:"next_action"`
	Confidence float64    `json:"confidence"` // in [0,1]
}

// ReasoningSteps is the structured output schema the reasoning sub-agent is
// constrained to.
type ReasoningSteps struct {
	Steps []ReasoningStep `json:"reasoning_steps"`
}
