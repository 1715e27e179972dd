package memory

import (
	"context"
	"sync"
	"time"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/logging"
)

// Retrieval selects which stored memories are loaded into context.
type Retrieval string

const (
	RetrievalLastN  Retrieval = "last_n"
	RetrievalFirstN Retrieval = "first_n"
)

// UpdatePolicy controls when user memories are written relative to response
// delivery. Sync writes before the run returns; Async writes in a detached
// goroutine after the response content is already fixed.
type UpdatePolicy string

const (
	UpdateSync  UpdatePolicy = "sync"
	UpdateAsync UpdatePolicy = "async"
)

// SummaryThreshold decides when the running conversation should be
// compressed into a session summary. Zero values disable that dimension.
type SummaryThreshold struct {
	// MaxMessages triggers summarization once the transcript holds at least
	// this many messages.
	MaxMessages int
	// MaxAge triggers summarization once the oldest unsummarized message is
	// older than this.
	MaxAge time.Duration
}

// AgentMemory aggregates everything an agent remembers: the per-session run
// history and transcript, the optional session summary, and the user's
// long-term memories with the model-backed components that maintain them.
//
// It is safe for concurrent use; asynchronous memory updates may run while
// the next run is already being composed.
type AgentMemory struct {
	mu sync.RWMutex

	runs     []*core.Run
	messages []core.Message
	summary  *SessionSummary
	memories []Memory

	firstMessageAt time.Time

	// CreateSessionSummary enables the Summarizer.
	CreateSessionSummary bool
	// CreateUserMemories enables the Classifier/Manager pipeline.
	CreateUserMemories bool
	// UpdateUserMemoriesAfterRun selects sync or async memory writes.
	UpdateUserMemoriesAfterRun UpdatePolicy
	// Threshold gates session summarization.
	Threshold SummaryThreshold

	Db          Db
	UserID      string
	Retrieval   Retrieval
	NumMemories int

	Classifier *Classifier
	Manager    *Manager
	Summarizer *Summarizer

	Logger logging.Logger
}

// NewAgentMemory returns an AgentMemory with defaults: last_n retrieval,
// synchronous updates, everything disabled until switched on.
func NewAgentMemory() *AgentMemory {
	return &AgentMemory{
		Retrieval:                  RetrievalLastN,
		UpdateUserMemoriesAfterRun: UpdateSync,
		Logger:                     logging.NoOpLogger{},
	}
}

func (am *AgentMemory) logger() logging.Logger {
	if am.Logger == nil {
		return logging.NoOpLogger{}
	}
	return am.Logger
}

// AddRun appends a completed run to the session history.
func (am *AgentMemory) AddRun(run *core.Run) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.runs = append(am.runs, run)
}

// Runs returns a copy of the recorded runs.
func (am *AgentMemory) Runs() []*core.Run {
	am.mu.RLock()
	defer am.mu.RUnlock()
	out := make([]*core.Run, len(am.runs))
	copy(out, am.runs)
	return out
}

// AddSystemMessage inserts or refreshes the transcript's system message. The
// first run seeds it; later runs replace it in place when the content
// changed.
func (am *AgentMemory) AddSystemMessage(msg core.Message) {
	am.mu.Lock()
	defer am.mu.Unlock()

	for i, m := range am.messages {
		if m.Role == core.RoleSystem {
			if m.Content != msg.Content {
				am.messages[i] = msg
			}
			return
		}
	}
	am.messages = append([]core.Message{msg}, am.messages...)
	am.touchLocked()
}

// AddMessages appends messages to the session transcript.
func (am *AgentMemory) AddMessages(msgs ...core.Message) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.messages = append(am.messages, msgs...)
	am.touchLocked()
}

func (am *AgentMemory) touchLocked() {
	if am.firstMessageAt.IsZero() {
		am.firstMessageAt = time.Now()
	}
}

// Messages returns a copy of the session transcript.
func (am *AgentMemory) Messages() []core.Message {
	am.mu.RLock()
	defer am.mu.RUnlock()
	out := make([]core.Message, len(am.messages))
	copy(out, am.messages)
	return out
}

// GetMessagesFromLastNRuns returns the transcript messages of the trailing
// lastN runs. lastN <= 0 means all runs. Messages with skipRole are omitted,
// as are messages that were themselves replayed from an earlier run; without
// that exclusion every replay would re-replay the previous replay.
func (am *AgentMemory) GetMessagesFromLastNRuns(lastN int, skipRole core.Role) []core.Message {
	am.mu.RLock()
	defer am.mu.RUnlock()

	runs := am.runs
	if lastN > 0 && len(runs) > lastN {
		runs = runs[len(runs)-lastN:]
	}

	var out []core.Message
	for _, run := range runs {
		if run.Response == nil {
			continue
		}
		for _, msg := range run.Response.Messages {
			if skipRole != "" && msg.Role == skipRole {
				continue
			}
			if msg.FromHistory {
				continue
			}
			out = append(out, msg)
		}
	}
	return out
}

// GetMessagePairs extracts (user, assistant) pairs from the run history: the
// first user message of each run paired with its last assistant response.
// Replayed history messages are ignored so a run's pair reflects its own
// turn, not a prior run's.
func (am *AgentMemory) GetMessagePairs() []MessagePair {
	am.mu.RLock()
	defer am.mu.RUnlock()

	var pairs []MessagePair
	for _, run := range am.runs {
		if run.Response == nil || len(run.Response.Messages) == 0 {
			continue
		}
		msgs := run.Response.Messages

		var user, assistant *core.Message
		for i := range msgs {
			if msgs[i].Role == core.RoleUser && !msgs[i].FromHistory {
				user = &msgs[i]
				break
			}
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == core.RoleAssistant {
				assistant = &msgs[i]
				break
			}
		}

		if user != nil && assistant != nil {
			pairs = append(pairs, MessagePair{User: *user, Assistant: *assistant})
		}
	}
	return pairs
}

// LoadUserMemories refreshes the in-context memory list from the store.
func (am *AgentMemory) LoadUserMemories(ctx context.Context) error {
	if am.Db == nil {
		return nil
	}

	order := SortDesc
	if am.Retrieval == RetrievalFirstN {
		order = SortAsc
	}

	rows, err := am.Db.ReadMemories(ctx, am.UserID, am.NumMemories, order)
	if err != nil {
		am.logger().Debug("error reading memories", "error", err)
		return err
	}

	memories := make([]Memory, 0, len(rows))
	for _, row := range rows {
		memories = append(memories, row.Memory)
	}

	am.mu.Lock()
	am.memories = memories
	am.mu.Unlock()
	return nil
}

// Memories returns a copy of the loaded user memories.
func (am *AgentMemory) Memories() []Memory {
	am.mu.RLock()
	defer am.mu.RUnlock()
	out := make([]Memory, len(am.memories))
	copy(out, am.memories)
	return out
}

// Summary returns the current session summary, or nil.
func (am *AgentMemory) Summary() *SessionSummary {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.summary
}

// ShouldUpdateMemory asks the Classifier whether input deserves a memory
// update. Classifier failures are treated as no.
func (am *AgentMemory) ShouldUpdateMemory(ctx context.Context, input string) bool {
	if am.Classifier == nil {
		return false
	}

	am.Classifier.ExistingMemories = am.Memories()
	yes, err := am.Classifier.Run(ctx, input)
	if err != nil {
		am.logger().Warn("memory classification failed", "error", err)
		return false
	}
	return yes
}

// UpdateMemory runs the classify-then-manage pipeline for input. When force
// is true the Classifier is skipped. The Manager's final text is returned;
// store and model failures surface as the error, never as a panic or a
// partial write outside the Manager's tool boundary.
func (am *AgentMemory) UpdateMemory(ctx context.Context, input string, force bool) (string, error) {
	if am.Db == nil {
		am.logger().Warn("memory db not provided")
		return "Please provide a db to store memories", nil
	}
	if input == "" {
		return "Invalid message content", nil
	}

	if !force && !am.ShouldUpdateMemory(ctx, input) {
		am.logger().Debug("memory update not required")
		return "Memory update not required", nil
	}

	if am.Manager == nil {
		return "", nil
	}
	am.Manager.SetUserID(am.UserID)

	response, err := am.Manager.Run(ctx, input)
	if err != nil {
		return "", err
	}

	if err := am.LoadUserMemories(ctx); err != nil {
		am.logger().Warn("reloading memories after update failed", "error", err)
	}
	return response, nil
}

// ShouldSummarize reports whether the transcript has crossed the configured
// summary threshold.
func (am *AgentMemory) ShouldSummarize() bool {
	if !am.CreateSessionSummary {
		return false
	}

	am.mu.RLock()
	defer am.mu.RUnlock()

	if am.Threshold.MaxMessages > 0 && len(am.messages) >= am.Threshold.MaxMessages {
		return true
	}
	if am.Threshold.MaxAge > 0 && !am.firstMessageAt.IsZero() &&
		time.Since(am.firstMessageAt) >= am.Threshold.MaxAge {
		return true
	}
	return false
}

// UpdateSummary regenerates the session summary from the run history.
func (am *AgentMemory) UpdateSummary(ctx context.Context) (*SessionSummary, error) {
	if am.Summarizer == nil {
		return nil, nil
	}

	summary, err := am.Summarizer.Run(ctx, am.GetMessagePairs())
	if err != nil {
		return nil, err
	}

	am.mu.Lock()
	am.summary = summary
	am.mu.Unlock()
	return summary, nil
}

// Clear drops the session history, transcript, summary and loaded memories.
// Stored rows in the Db are untouched.
func (am *AgentMemory) Clear() {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.runs = nil
	am.messages = nil
	am.summary = nil
	am.memories = nil
	am.firstMessageAt = time.Time{}
}
