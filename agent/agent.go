package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/logging"
	"github.com/agentloop/agentloop/memory"
	"github.com/agentloop/agentloop/model"
	"github.com/agentloop/agentloop/storage"
	"github.com/agentloop/agentloop/tool"
)

// ErrEmptyResponse is returned when the primary model call yields neither
// content nor tool calls; the caller receives an explicit failure instead of
// a silently empty answer.
var ErrEmptyResponse = errors.New("agent: model returned an empty response")

// Options configures an Agent instance.
//
// Use functional options with New to override defaults.
type Options struct {
	// AgentID, SessionID and UserID identify the agent, conversation and
	// user on every Run record. Empty IDs are generated.
	AgentID   string
	SessionID string
	UserID    string

	// Description and Instructions shape the system message.
	Description  string
	Instructions []string
	// AdditionalContext is appended verbatim to the system message.
	AdditionalContext string
	// AddDatetimeToInstructions appends the current date and time to the
	// system message.
	AddDatetimeToInstructions bool

	// Tools the model may call.
	Tools []tool.Tool
	// MaxParallelToolCalls bounds concurrent tool executions within one
	// round trip. 0 means unbounded.
	MaxParallelToolCalls int
	// MaxToolRoundTrips caps the respond -> execute -> respond loop.
	MaxToolRoundTrips int
	// MaxModelCalls caps the total model calls in one run. 0 means no cap.
	MaxModelCalls int

	// Reasoning enables the chain-of-thought sub-agent before the primary
	// response.
	Reasoning         bool
	ReasoningModel    model.Model
	ReasoningMinSteps int
	ReasoningMaxSteps int

	// StreamIntermediateSteps emits reasoning and tool lifecycle events on
	// the stream in addition to content deltas.
	StreamIntermediateSteps bool

	// ResponseModel names the expected structured output type and
	// ResponseSchema carries its JSON schema. StructuredOutputs requests
	// native structured output support from the provider.
	ResponseModel     string
	ResponseSchema    map[string]any
	StructuredOutputs bool

	// Memory holds session history and the user-memory pipeline.
	Memory *memory.AgentMemory
	// NumHistoryResponses bounds how many prior runs are replayed into the
	// transcript.
	NumHistoryResponses int

	// Storage persists finished runs. Nil disables persistence.
	Storage storage.RunStorage

	Logger logging.Logger
}

// Agent is the user-facing entity owning a model, tool set, memory
// configuration and storage, and exposing the run entrypoints.
type Agent struct {
	name  string
	llm   model.Model
	opts  Options
	tools *tool.Registry

	logger logging.Logger
}

// New creates an agent with sensible defaults: ten tool round trips, ten
// reasoning steps, history replay of the last three runs.
func New(name string, llm model.Model, optFns ...func(o *Options)) *Agent {
	opts := Options{
		MaxToolRoundTrips:   10,
		ReasoningMinSteps:   1,
		ReasoningMaxSteps:   10,
		NumHistoryResponses: 3,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.AgentID == "" {
		opts.AgentID = core.NewID()
	}
	if opts.SessionID == "" {
		opts.SessionID = core.NewID()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Memory == nil {
		opts.Memory = memory.NewAgentMemory()
	}

	registry := tool.NewRegistry(opts.Tools...)

	return &Agent{
		name:   name,
		llm:    llm,
		opts:   opts,
		tools:  registry,
		logger: opts.Logger,
	}
}

// Name returns the agent's display name.
func (a *Agent) Name() string { return a.name }

// SessionID returns the session this agent writes runs under.
func (a *Agent) SessionID() string { return a.opts.SessionID }

// Memory returns the agent's memory aggregate.
func (a *Agent) Memory() *memory.AgentMemory { return a.opts.Memory }

// RegisterTool adds a tool to the agent's capability set.
func (a *Agent) RegisterTool(t tool.Tool) { a.tools.Register(t) }

// Run executes one full request/response cycle synchronously and returns the
// final response. Model failures on the primary call and persistence failures
// are returned as errors; reasoning and memory failures are absorbed.
func (a *Agent) Run(ctx context.Context, message string) (*core.RunResponse, error) {
	return a.RunMessage(ctx, core.NewUserMessage(message))
}

// RunMessage is Run on a caller-built user message, for inputs that carry
// media attachments or other message-level fields.
func (a *Agent) RunMessage(ctx context.Context, message core.Message) (*core.RunResponse, error) {
	run := core.NewRun(a.opts.SessionID, a.opts.AgentID, a.opts.UserID, message)
	rc := core.NewRunContext(ctx, run, a.limiter(), nil, a.logger)

	if err := a.execute(rc, false); err != nil {
		return nil, err
	}
	return run.Response, nil
}

// RunStream executes one run, yielding RunResponses as they are produced.
// The response channel is closed when the run finishes; a terminal error, if
// any, is delivered on the error channel. The persisted Run record is the
// same as the synchronous path would produce.
func (a *Agent) RunStream(ctx context.Context, message string) (<-chan core.RunResponse, <-chan error) {
	out := make(chan core.RunResponse, 16)
	errCh := make(chan error, 1)

	run := a.newRun(message)
	emit := func(rr core.RunResponse) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- rr:
			return nil
		}
	}

	rc := core.NewRunContext(ctx, run, a.limiter(), emit, a.logger)
	rc.StreamIntermediateSteps = a.opts.StreamIntermediateSteps

	go func() {
		defer close(out)
		defer close(errCh)
		if err := a.execute(rc, true); err != nil {
			rc.Emit(rc.NewResponse(core.EventRunError, err.Error())) //nolint:errcheck
			errCh <- err
		}
	}()
	return out, errCh
}

func (a *Agent) newRun(message string) *core.Run {
	input := core.NewUserMessage(message)
	return core.NewRun(a.opts.SessionID, a.opts.AgentID, a.opts.UserID, input)
}

func (a *Agent) limiter() *core.ModelLimiter {
	return core.NewModelLimiter(a.opts.MaxModelCalls)
}

// execute drives the run state machine: compose messages, optional
// reasoning, respond with tool round trips, memory update, persist.
func (a *Agent) execute(rc *core.RunContext, stream bool) error {
	run := rc.Run
	logger := a.logger

	logger.Debug("run started", "run_id", run.RunID, "session_id", run.SessionID)
	if err := rc.EmitIntermediate(core.EventRunStarted, "Run started"); err != nil {
		return err
	}

	messages, userMessages, systemMessage := a.composeMessages(rc.Context, run.Message)

	if a.opts.Reasoning {
		a.reason(rc, systemMessage, userMessages, &messages)
	}

	resp, err := a.respondLoop(rc, messages, stream)
	if err != nil {
		run.Response.Event = core.EventRunError
		run.Response.Content = err.Error()
		return err
	}

	a.finalizeResponse(rc, resp)

	a.recordRun(rc)

	if err := a.updateMemory(rc); err != nil {
		// Memory failures never propagate past this boundary.
		logger.Warn("memory update failed", "run_id", run.RunID, "error", err)
	}

	if a.opts.Storage != nil {
		if err := a.opts.Storage.Upsert(rc.Context, run); err != nil {
			return fmt.Errorf("agent: persist run %s: %w", run.RunID, err)
		}
	}

	if stream {
		final := rc.NewResponse(core.EventRunCompleted, run.Response.Content)
		final.ContentType = run.Response.ContentType
		final.Tools = run.Tools
		final.ReasoningSteps = run.ReasoningSteps
		if err := rc.Emit(final); err != nil {
			return err
		}
	}

	logger.Debug("run completed", "run_id", run.RunID, "model_calls", rc.Limiter.Count())
	return nil
}

// respondLoop issues the primary model call and drives tool round trips
// until the model produces a turn with no further tool calls or a safeguard
// triggers.
func (a *Agent) respondLoop(rc *core.RunContext, messages []core.Message, stream bool) (*model.Response, error) {
	for trip := 0; ; trip++ {
		if trip > a.opts.MaxToolRoundTrips {
			return nil, fmt.Errorf("agent: exceeded %d tool round trips", a.opts.MaxToolRoundTrips)
		}

		resp, err := a.respond(rc, messages, stream)
		if err != nil {
			return nil, err
		}

		pending := rc.PendingToolCalls()
		if len(pending) == 0 {
			if resp.Content == "" && resp.Parsed == nil && len(resp.ToolCalls) == 0 {
				return nil, ErrEmptyResponse
			}
			rc.Run.Messages = append(rc.Run.Messages, messages...)
			rc.Run.Messages = append(rc.Run.Messages, core.NewAssistantMessage(resp.Content))
			return resp, nil
		}

		assistant := core.NewAssistantMessage(resp.Content)
		assistant.ToolCalls = pending
		messages = append(messages, assistant)
		messages = append(messages, a.executeToolCalls(rc, pending)...)
	}
}

// finalizeResponse fixes the caller-facing content on the Run record.
func (a *Agent) finalizeResponse(rc *core.RunContext, resp *model.Response) {
	run := rc.Run
	run.Response.Event = core.EventRunCompleted

	if a.opts.ResponseModel != "" && a.opts.StructuredOutputs && resp.Parsed != nil {
		run.Response.Content = resp.Parsed
		run.Response.ContentType = a.opts.ResponseModel
	} else {
		run.Response.Content = resp.Content
		run.Response.ContentType = "str"
	}
	if resp.Audio != nil {
		run.Response.Audio = resp.Audio
	}
	if resp.Usage != nil {
		run.Response.Metrics.PromptTokens += resp.Usage.PromptTokens
		run.Response.Metrics.CompletionTokens += resp.Usage.CompletionTokens
		run.Response.Metrics.TotalTokens += resp.Usage.TotalTokens
	}
	run.Response.Messages = run.Messages
	run.Response.Tools = run.Tools
	run.Response.ReasoningSteps = run.ReasoningSteps
	run.Response.CreatedAt = resp.CreatedAt
}

// updateMemory runs the classify/manage/summarize pipeline after the final
// content is known. With the async policy the write happens in a detached
// goroutine and never blocks response delivery.
func (a *Agent) updateMemory(rc *core.RunContext) error {
	mem := a.opts.Memory
	if mem == nil {
		return nil
	}

	input := rc.Run.Message.ContentString()

	update := func(ctx context.Context) error {
		if mem.CreateUserMemories {
			if _, err := mem.UpdateMemory(ctx, input, false); err != nil {
				return err
			}
		}
		if mem.ShouldSummarize() {
			if _, err := mem.UpdateSummary(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	if mem.UpdateUserMemoriesAfterRun == memory.UpdateAsync {
		go func() {
			// The run's context may be cancelled right after delivery.
			if err := update(context.Background()); err != nil {
				a.logger.Warn("async memory update failed", "run_id", rc.Run.RunID, "error", err)
			}
		}()
		return nil
	}
	return update(rc.Context)
}

// recordRun appends the finished run to session memory for history replay.
func (a *Agent) recordRun(rc *core.RunContext) {
	mem := a.opts.Memory
	if mem == nil {
		return
	}
	mem.AddRun(rc.Run)

	for _, msg := range rc.Run.Messages {
		if !msg.AddToMemory || msg.FromHistory {
			continue
		}
		if msg.Role == core.RoleSystem {
			mem.AddSystemMessage(msg)
			continue
		}
		mem.AddMessages(msg)
	}
}
