package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/logging"
	"github.com/agentloop/agentloop/model"
	"github.com/agentloop/agentloop/tool"
)

// Manager is the read/write authority over the memory store. It exposes four
// CRUD operations as tool functions and lets the model choose which of them
// to call, zero or more times, in a single turn.
//
// Store failures never escape a tool function: each call converts errors into
// a status string returned to the model as tool output, so the model itself
// decides whether to retry within the turn.
type Manager struct {
	model  model.Model
	db     Db
	userID string
	logger logging.Logger

	// SystemPrompt overrides the built-in manager prompt when set.
	SystemPrompt string
}

// NewManager constructs a Manager writing memories for userID through db.
func NewManager(m model.Model, db Db, userID string, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Manager{model: m, db: db, userID: userID, logger: logger}
}

// SetUserID changes the user the Manager writes memories for.
func (mg *Manager) SetUserID(userID string) { mg.userID = userID }

// AddMemory stores a new memory extracted from input. Errors are converted to
// a status string.
func (mg *Manager) AddMemory(ctx context.Context, memory, input string) string {
	if mg.db != nil {
		err := mg.db.UpsertMemory(ctx, MemoryRow{
			UserID: mg.userID,
			Memory: Memory{Memory: memory, Input: input},
		})
		if err != nil {
			mg.logger.Warn("error storing memory in db", "error", err)
			return fmt.Sprintf("Error adding memory: %v", err)
		}
	}
	return "Memory added successfully"
}

// UpdateMemory replaces the memory stored under id. Errors are converted to a
// status string.
func (mg *Manager) UpdateMemory(ctx context.Context, id, memory, input string) string {
	if mg.db != nil {
		err := mg.db.UpsertMemory(ctx, MemoryRow{
			ID:     id,
			UserID: mg.userID,
			Memory: Memory{Memory: memory, Input: input},
		})
		if err != nil {
			mg.logger.Warn("error updating memory in db", "error", err)
			return fmt.Sprintf("Error updating memory: %v", err)
		}
	}
	return "Memory updated successfully"
}

// DeleteMemory removes the memory stored under id. Errors are converted to a
// status string.
func (mg *Manager) DeleteMemory(ctx context.Context, id string) string {
	if mg.db != nil {
		if err := mg.db.DeleteMemory(ctx, id); err != nil {
			mg.logger.Warn("error deleting memory in db", "error", err)
			return fmt.Sprintf("Error deleting memory: %v", err)
		}
	}
	return "Memory deleted successfully"
}

// ClearMemory removes all memories. Errors are converted to a status string.
func (mg *Manager) ClearMemory(ctx context.Context) string {
	if mg.db != nil {
		if err := mg.db.Clear(ctx); err != nil {
			mg.logger.Warn("error clearing memory in db", "error", err)
			return fmt.Sprintf("Error clearing memory: %v", err)
		}
	}
	return "Memory cleared successfully"
}

// registry builds the four CRUD tools with the current input message bound in.
func (mg *Manager) registry(input string) *tool.Registry {
	stringParam := func(name, desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}

	addTool := tool.NewFunctionTool(
		"add_memory",
		"Use this function to add a memory to the database.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"memory": stringParam("memory", "The memory to be stored."),
			},
			"required": []string{"memory"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			memory, _ := args["memory"].(string)
			return mg.AddMemory(ctx, memory, input), nil
		},
	)

	updateTool := tool.NewFunctionTool(
		"update_memory",
		"Use this function to update a memory in the database.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":     stringParam("id", "The id of the memory to be updated."),
				"memory": stringParam("memory", "The updated memory."),
			},
			"required": []string{"id", "memory"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			id, _ := args["id"].(string)
			memory, _ := args["memory"].(string)
			return mg.UpdateMemory(ctx, id, memory, input), nil
		},
	)

	deleteTool := tool.NewFunctionTool(
		"delete_memory",
		"Use this function to delete a memory from the database.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": stringParam("id", "The id of the memory to be deleted."),
			},
			"required": []string{"id"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			id, _ := args["id"].(string)
			return mg.DeleteMemory(ctx, id), nil
		},
	)

	clearTool := tool.NewFunctionTool(
		"clear_memory",
		"Use this function to clear all memories from the database. Use this with extreme caution, as it will remove all memories from the database.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			return mg.ClearMemory(ctx), nil
		},
	)

	return tool.NewRegistry(addTool, updateTool, deleteTool, clearTool)
}

func (mg *Manager) systemMessage(ctx context.Context) core.Message {
	if mg.SystemPrompt != "" {
		return core.NewSystemMessage(mg.SystemPrompt)
	}

	lines := []string{
		"Your task is to generate a concise memory for the user's message. " +
			"Create a memory that captures the key information provided by the user, as if you were storing it for future reference. " +
			"The memory should be a brief, third-person statement that encapsulates the most important aspect of the user's input, without adding any extraneous details. " +
			"This memory will be used to enhance the user's experience in subsequent conversations.",
		"You will also be provided with a list of existing memories. You may:",
		"  1. Add a new memory using the `add_memory` tool.",
		"  2. Update a memory using the `update_memory` tool.",
		"  3. Delete a memory using the `delete_memory` tool.",
		"  4. Clear all memories using the `clear_memory` tool. Use this with extreme caution, as it will remove all memories from the database.",
	}

	if mg.db != nil {
		rows, err := mg.db.ReadMemories(ctx, mg.userID, 0, SortAsc)
		if err != nil {
			mg.logger.Warn("error reading existing memories", "error", err)
		} else if len(rows) > 0 {
			var b strings.Builder
			b.WriteString("\nExisting memories:\n<existing_memories>\n")
			for _, row := range rows {
				fmt.Fprintf(&b, "  - id: %s | memory: %s\n", row.ID, row.Memory.Memory)
			}
			b.WriteString("</existing_memories>")
			lines = append(lines, b.String())
		}
	}

	return core.NewSystemMessage(strings.Join(lines, "\n"))
}

// Run performs a single manager turn: build the system prompt listing
// existing memories, let the model invoke the CRUD tools, feed the tool
// results back once, and return the model's final text.
func (mg *Manager) Run(ctx context.Context, message string) (string, error) {
	mg.logger.Debug("memory manager start", "user_id", mg.userID)

	registry := mg.registry(message)
	messages := []core.Message{mg.systemMessage(ctx), core.NewUserMessage(message)}

	req := model.Request{
		Messages:   messages,
		Tools:      registry.Definitions(),
		ToolChoice: model.ToolChoiceAuto,
	}

	resp, err := mg.model.Invoke(ctx, req)
	if err != nil {
		return "", fmt.Errorf("memory: manager model call: %w", err)
	}

	if len(resp.ToolCalls) == 0 {
		mg.logger.Debug("memory manager end", "tool_calls", 0)
		return resp.Content, nil
	}

	assistant := core.NewAssistantMessage(resp.Content)
	assistant.ToolCalls = resp.ToolCalls
	messages = append(messages, assistant)

	for _, call := range resp.ToolCalls {
		res := registry.Execute(ctx, call.ID, call.Name, call.Arguments)
		content := res.Content
		if res.Err != nil {
			content = res.Err.Error()
		}
		messages = append(messages, core.NewToolMessage(call.ID, content))
	}

	final, err := mg.model.Invoke(ctx, model.Request{Messages: messages})
	if err != nil {
		return "", fmt.Errorf("memory: manager follow-up call: %w", err)
	}

	mg.logger.Debug("memory manager end", "tool_calls", len(resp.ToolCalls))
	return final.Content, nil
}
