package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentloop/agentloop/core"
)

// composeMessages assembles the transcript for the primary model call:
// system message, replayed history bounded by NumHistoryResponses, and the
// new user message. It also returns the user-facing messages and the system
// message separately for the reasoning sub-agent.
func (a *Agent) composeMessages(ctx context.Context, input core.Message) (messages, userMessages []core.Message, systemMessage *core.Message) {
	if sm := a.systemMessage(ctx); sm != nil {
		messages = append(messages, *sm)
		systemMessage = sm
	}

	if a.opts.Memory != nil && a.opts.NumHistoryResponses > 0 {
		history := a.opts.Memory.GetMessagesFromLastNRuns(a.opts.NumHistoryResponses, core.RoleSystem)
		for i := range history {
			history[i].FromHistory = true
		}
		messages = append(messages, history...)
	}

	messages = append(messages, input)
	userMessages = []core.Message{input}
	return messages, userMessages, systemMessage
}

// systemMessage builds the system prompt from the agent's description,
// instructions, additional context and, when enabled, memories, session
// summary and the current datetime. Returns nil when every section is empty.
func (a *Agent) systemMessage(ctx context.Context) *core.Message {
	var b strings.Builder

	if a.opts.Description != "" {
		b.WriteString(a.opts.Description)
		b.WriteString("\n")
	}

	if len(a.opts.Instructions) > 0 {
		b.WriteString("\n## Instructions\n")
		for _, instruction := range a.opts.Instructions {
			fmt.Fprintf(&b, "- %s\n", instruction)
		}
	}

	if a.opts.AddDatetimeToInstructions {
		fmt.Fprintf(&b, "\nThe current time is %s.\n", time.Now().Format(time.RFC1123))
	}

	if mem := a.opts.Memory; mem != nil && mem.CreateUserMemories {
		if err := mem.LoadUserMemories(ctx); err == nil {
			if memories := mem.Memories(); len(memories) > 0 {
				b.WriteString("\nYou have access to memories from previous interactions with the user:\n<memories_from_previous_interactions>\n")
				for _, m := range memories {
					fmt.Fprintf(&b, "- %s\n", m.Memory)
				}
				b.WriteString("</memories_from_previous_interactions>\n")
				b.WriteString("Note: this information is from previous interactions and may be updated in this conversation. You should always prefer information from this conversation over the past memories.\n")
			}
		}
	}

	if mem := a.opts.Memory; mem != nil && mem.CreateSessionSummary {
		if summary := mem.Summary(); summary != nil && summary.Summary != "" {
			b.WriteString("\nHere is a brief summary of your previous interactions:\n<summary_of_previous_interactions>\n")
			b.WriteString(summary.Summary)
			b.WriteString("\n</summary_of_previous_interactions>\n")
			b.WriteString("Note: this information is from previous interactions and may be outdated. You should ALWAYS prefer information from this conversation over the past summary.\n")
		}
	}

	if a.opts.AdditionalContext != "" {
		b.WriteString("\n")
		b.WriteString(a.opts.AdditionalContext)
		b.WriteString("\n")
	}

	content := strings.TrimSpace(b.String())
	if content == "" {
		return nil
	}
	msg := core.NewSystemMessage(content)
	return &msg
}
