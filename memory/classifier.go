package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/logging"
	"github.com/agentloop/agentloop/model"
)

// Classifier decides whether a user message contains information worth
// storing as a long-term memory. It is a single constrained model call, so
// the answer is a judgment call rather than a deterministic rule.
type Classifier struct {
	model  model.Model
	logger logging.Logger

	// ExistingMemories is consulted so the model can skip facts that are
	// already captured. Set by AgentMemory before each run.
	ExistingMemories []Memory
	// SystemPrompt overrides the built-in classification prompt when set.
	SystemPrompt string
}

// NewClassifier constructs a Classifier backed by the given model.
func NewClassifier(m model.Model, logger logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Classifier{model: m, logger: logger}
}

func (c *Classifier) systemMessage() core.Message {
	if c.SystemPrompt != "" {
		return core.NewSystemMessage(c.SystemPrompt)
	}

	var b strings.Builder
	b.WriteString("Your task is to identify if the user's message contains information that is worth remembering for future conversations.\n")
	b.WriteString("This includes details that could personalize ongoing interactions with the user, such as:\n")
	b.WriteString("  - Personal facts: name, age, occupation, location, interests, preferences, etc.\n")
	b.WriteString("  - Significant life events or experiences shared by the user\n")
	b.WriteString("  - Important context about the user's current situation, challenges or goals\n")
	b.WriteString("  - What the user likes or dislikes, their opinions, beliefs, values, etc.\n")
	b.WriteString("  - Any other details that provide valuable insights into the user's personality, perspective or needs\n")
	b.WriteString("Your task is to decide whether the user input contains any of the above information worth remembering.\n")
	b.WriteString("If the user input contains any information worth remembering for future conversations, respond with 'yes'.\n")
	b.WriteString("If the input does not contain any important details worth saving, respond with 'no' to disregard it.\n")
	b.WriteString("You will also be provided with a list of existing memories to help you decide if the input is new or already known.\n")
	b.WriteString("If the memory already exists that matches the input, respond with 'no' to keep it as is.\n")
	b.WriteString("If a memory exists that needs to be updated or deleted, respond with 'yes' to update/delete it.\n")
	b.WriteString("You must only respond with 'yes' or 'no'. Nothing else will be considered as a valid response.")

	if len(c.ExistingMemories) > 0 {
		b.WriteString("\n\nExisting memories:\n<existing_memories>\n")
		for _, m := range c.ExistingMemories {
			fmt.Fprintf(&b, "  - %s\n", m.Memory)
		}
		b.WriteString("</existing_memories>")
	}
	return core.NewSystemMessage(b.String())
}

// Run classifies the input, returning true when it deserves a memory update.
// Any answer other than "yes" counts as no.
func (c *Classifier) Run(ctx context.Context, input string) (bool, error) {
	resp, err := c.model.Invoke(ctx, model.Request{
		Messages: []core.Message{c.systemMessage(), core.NewUserMessage(input)},
	})
	if err != nil {
		return false, fmt.Errorf("memory: classify input: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Content))
	c.logger.Debug("memory classifier decision", "answer", answer)
	return answer == "yes", nil
}
