package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentloop/agentloop/model"
)

// Registry stores the tools available to an agent and dispatches model
// requested tool calls to them.
//
// Tools are kept in registration order so the function declarations sent to a
// model are stable across runs. Execution is tracked per call ID: a call ID
// that has already been executed returns its recorded result instead of
// running the tool again, which keeps retried model turns from producing
// duplicate side effects.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	names    []string
	tools    map[string]Tool
	executed map[string]ExecutionResult
}

// ExecutionResult captures the outcome of a single tool call dispatch.
type ExecutionResult struct {
	CallID  string
	Name    string
	Content string
	Err     error
}

// NewRegistry returns an empty Registry.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{
		tools:    make(map[string]Tool),
		executed: make(map[string]ExecutionResult),
	}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any previous registration with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.names = append(r.names, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Definitions returns the function declarations for every registered tool, in
// registration order, ready to pass on a model request.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]model.ToolDefinition, 0, len(r.names))
	for _, name := range r.names {
		t := r.tools[name]
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute dispatches a single tool call.
//
// The arguments are decoded from the raw JSON the model produced. Unknown
// tools and malformed argument payloads are reported through the returned
// ExecutionResult's Err field rather than a panic, so the orchestrator can
// surface them to the model as tool output. Results that are not already
// strings are JSON encoded.
//
// A callID that was executed before returns the recorded result without
// invoking the tool again.
func (r *Registry) Execute(ctx context.Context, callID, name, arguments string) ExecutionResult {
	if callID != "" {
		r.mu.RLock()
		prev, done := r.executed[callID]
		r.mu.RUnlock()
		if done {
			return prev
		}
	}

	res := r.execute(ctx, callID, name, arguments)

	if callID != "" {
		r.mu.Lock()
		// First writer wins if two goroutines raced the same call ID.
		if prev, done := r.executed[callID]; done {
			res = prev
		} else {
			r.executed[callID] = res
		}
		r.mu.Unlock()
	}
	return res
}

func (r *Registry) execute(ctx context.Context, callID, name, arguments string) ExecutionResult {
	res := ExecutionResult{CallID: callID, Name: name}

	t, ok := r.Get(name)
	if !ok {
		res.Err = fmt.Errorf("tool %q is not registered", name)
		return res
	}

	args := map[string]any{}
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			res.Err = fmt.Errorf("invalid arguments for tool %q: %w", name, err)
			return res
		}
	}

	out, err := t.Call(ctx, args)
	if err != nil {
		res.Err = err
		return res
	}

	res.Content = encodeResult(out)
	return res
}

func encodeResult(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
