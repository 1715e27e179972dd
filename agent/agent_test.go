package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/memory"
	"github.com/agentloop/agentloop/model"
	"github.com/agentloop/agentloop/storage"
	"github.com/agentloop/agentloop/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupTool(t *testing.T, result string) *tool.FunctionTool {
	t.Helper()
	return tool.NewFunctionTool(
		"lookup",
		"Look up the value of a variable.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []string{"query"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			return result, nil
		},
	)
}

// -------------------- Run Tests --------------------

func TestAgent_Run(t *testing.T) {
	m := model.NewMockModel("primary").AddTextTurn("4")
	a := New("calculator", m)

	resp, err := a.Run(context.Background(), "What is 2+2?")
	require.NoError(t, err)

	assert.Equal(t, core.EventRunCompleted, resp.Event)
	assert.Equal(t, "4", resp.Content)
	assert.Equal(t, "str", resp.ContentType)
	assert.Empty(t, resp.Tools)
	assert.Empty(t, resp.ReasoningSteps)

	runs := a.Memory().Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "What is 2+2?", runs[0].Message.Content)
}

func TestAgent_RunWithToolRoundTrip(t *testing.T) {
	m := model.NewMockModel("primary").
		AddToolCallTurn(core.ToolCall{
			ID:        "call_1",
			Name:      "lookup",
			Arguments: `{"query": "X"}`,
		}).
		AddTextTurn("X is 42")

	a := New("researcher", m, func(o *Options) {
		o.Tools = []tool.Tool{lookupTool(t, "X=42")}
	})

	resp, err := a.Run(context.Background(), "What is X?")
	require.NoError(t, err)
	assert.Equal(t, "X is 42", resp.Content)

	require.Len(t, resp.Tools, 1)
	tc := resp.Tools[0]
	assert.Equal(t, "call_1", tc.ID)
	assert.Equal(t, core.ToolCallCompleted, tc.Status)
	assert.Equal(t, "X=42", tc.Result)
	assert.Empty(t, tc.Error)

	// The tool result travelled back to the model on the second call.
	require.Len(t, m.Requests, 2)
	second := m.Requests[1].Messages
	var toolMsg *core.Message
	for i := range second {
		if second[i].Role == core.RoleTool {
			toolMsg = &second[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Equal(t, "X=42", toolMsg.Content)

	// Tool declarations were on the first request.
	require.Len(t, m.Requests[0].Tools, 1)
	assert.Equal(t, "lookup", m.Requests[0].Tools[0].Function.Name)
	assert.Equal(t, model.ToolChoiceAuto, m.Requests[0].ToolChoice)
}

func TestAgent_RunToolFailureSurfacesToModel(t *testing.T) {
	failing := tool.NewFunctionTool(
		"lookup",
		"Always fails.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("upstream unavailable")
		},
	)

	m := model.NewMockModel("primary").
		AddToolCallTurn(core.ToolCall{ID: "call_1", Name: "lookup", Arguments: `{}`}).
		AddTextTurn("The lookup service is unavailable right now.")

	a := New("researcher", m, func(o *Options) {
		o.Tools = []tool.Tool{failing}
	})

	resp, err := a.Run(context.Background(), "What is X?")
	require.NoError(t, err)
	assert.Equal(t, "The lookup service is unavailable right now.", resp.Content)

	require.Len(t, resp.Tools, 1)
	assert.Equal(t, core.ToolCallCompleted, resp.Tools[0].Status)
	assert.Contains(t, resp.Tools[0].Error, "upstream unavailable")
}

func TestAgent_RunToolPanicIsRecovered(t *testing.T) {
	panicky := tool.NewFunctionTool(
		"lookup",
		"Panics.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(ctx context.Context, args map[string]any) (any, error) {
			panic("boom")
		},
	)

	m := model.NewMockModel("primary").
		AddToolCallTurn(core.ToolCall{ID: "call_1", Name: "lookup", Arguments: `{}`}).
		AddTextTurn("Something went wrong with the lookup.")

	a := New("researcher", m, func(o *Options) {
		o.Tools = []tool.Tool{panicky}
	})

	resp, err := a.Run(context.Background(), "What is X?")
	require.NoError(t, err)
	require.Len(t, resp.Tools, 1)
	assert.Contains(t, resp.Tools[0].Error, "panicked")
}

func TestAgent_RunEmptyResponse(t *testing.T) {
	m := model.NewMockModel("primary").
		AddTurn(model.Response{Event: model.EventAssistantResponse})
	a := New("quiet", m)

	_, err := a.Run(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAgent_RunModelError(t *testing.T) {
	m := model.NewMockModel("primary")
	m.InvokeErr = errors.New("rate limited")
	a := New("unlucky", m)

	_, err := a.Run(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

// -------------------- Safeguard Tests --------------------

func TestAgent_MaxToolRoundTrips(t *testing.T) {
	m := model.NewMockModel("primary").
		AddToolCallTurn(core.ToolCall{ID: "call_1", Name: "lookup", Arguments: `{"query": "a"}`}).
		AddToolCallTurn(core.ToolCall{ID: "call_2", Name: "lookup", Arguments: `{"query": "b"}`})

	a := New("looping", m, func(o *Options) {
		o.Tools = []tool.Tool{lookupTool(t, "more")}
		o.MaxToolRoundTrips = 1
	})

	_, err := a.Run(context.Background(), "keep going")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded 1 tool round trips")
}

func TestAgent_MaxModelCalls(t *testing.T) {
	m := model.NewMockModel("primary").
		AddToolCallTurn(core.ToolCall{ID: "call_1", Name: "lookup", Arguments: `{"query": "a"}`}).
		AddTextTurn("never reached")

	a := New("capped", m, func(o *Options) {
		o.Tools = []tool.Tool{lookupTool(t, "value")}
		o.MaxModelCalls = 1
	})

	_, err := a.Run(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded max model calls")
}

// -------------------- System Message Tests --------------------

func TestAgent_SystemMessageComposition(t *testing.T) {
	m := model.NewMockModel("primary").AddTextTurn("ok")
	a := New("helper", m, func(o *Options) {
		o.Description = "You are a helpful assistant."
		o.Instructions = []string{"Be brief.", "Answer in English."}
		o.AdditionalContext = "The user is a beginner."
	})

	_, err := a.Run(context.Background(), "hi")
	require.NoError(t, err)

	require.Len(t, m.Requests, 1)
	first := m.Requests[0].Messages[0]
	assert.Equal(t, core.RoleSystem, first.Role)
	assert.Contains(t, first.Content, "You are a helpful assistant.")
	assert.Contains(t, first.Content, "## Instructions")
	assert.Contains(t, first.Content, "- Be brief.")
	assert.Contains(t, first.Content, "The user is a beginner.")
}

func TestAgent_NoSystemMessageWhenEmpty(t *testing.T) {
	m := model.NewMockModel("primary").AddTextTurn("ok")
	a := New("bare", m)

	_, err := a.Run(context.Background(), "hi")
	require.NoError(t, err)

	first := m.Requests[0].Messages[0]
	assert.Equal(t, core.RoleUser, first.Role)
}

// -------------------- History Tests --------------------

func TestAgent_HistoryReplay(t *testing.T) {
	m := model.NewMockModel("primary").
		AddTextTurn("answer one").
		AddTextTurn("answer two")
	a := New("historian", m)

	_, err := a.Run(context.Background(), "question one")
	require.NoError(t, err)
	_, err = a.Run(context.Background(), "question two")
	require.NoError(t, err)

	require.Len(t, m.Requests, 2)
	second := m.Requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, "question one", second[0].Content)
	assert.Equal(t, "answer one", second[1].Content)
	assert.Equal(t, core.RoleAssistant, second[1].Role)
	assert.Equal(t, "question two", second[2].Content)
}

func TestAgent_RunMessageCarriesMedia(t *testing.T) {
	m := model.NewMockModel("primary").AddTextTurn("a tabby cat")
	a := New("describer", m)

	input := core.NewUserMessage("what is in this picture?")
	input.Media = []core.Media{{Kind: core.MediaImage, URL: "https://example.com/cat.png"}}

	resp, err := a.RunMessage(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "a tabby cat", resp.Content)

	require.Len(t, m.Requests, 1)
	last := m.Requests[0].Messages[len(m.Requests[0].Messages)-1]
	require.Len(t, last.Media, 1)
	assert.Equal(t, core.MediaImage, last.Media[0].Kind)
	assert.Equal(t, "https://example.com/cat.png", last.Media[0].URL)
}

func TestAgent_HistoryReplayDoesNotCompound(t *testing.T) {
	m := model.NewMockModel("primary").
		AddTextTurn("answer one").
		AddTextTurn("answer two").
		AddTextTurn("answer three")
	mem := memory.NewAgentMemory()
	a := New("historian", m, func(o *Options) {
		o.Memory = mem
	})

	for _, q := range []string{"question one", "question two", "question three"} {
		_, err := a.Run(context.Background(), q)
		require.NoError(t, err)
	}

	require.Len(t, m.Requests, 3)
	third := m.Requests[2].Messages
	require.Len(t, third, 5)
	want := []string{"answer one", "answer two", "question one", "question three", "question two"}
	for _, content := range want {
		count := 0
		for _, msg := range third {
			if msg.Content == content {
				count++
			}
		}
		assert.Equal(t, 1, count, "message %q replayed %d times", content, count)
	}
	assert.Equal(t, "question one", third[0].Content)
	assert.Equal(t, "answer two", third[3].Content)
	assert.Equal(t, "question three", third[4].Content)
	assert.False(t, third[4].FromHistory)
	for _, msg := range third[:4] {
		assert.True(t, msg.FromHistory)
	}

	// Replayed copies must not re-enter the session transcript.
	assert.Len(t, mem.Messages(), 6)
}

func TestAgent_HistoryDisabled(t *testing.T) {
	m := model.NewMockModel("primary").
		AddTextTurn("answer one").
		AddTextTurn("answer two")
	a := New("amnesiac", m, func(o *Options) {
		o.NumHistoryResponses = 0
	})

	_, err := a.Run(context.Background(), "question one")
	require.NoError(t, err)
	_, err = a.Run(context.Background(), "question two")
	require.NoError(t, err)

	second := m.Requests[1].Messages
	require.Len(t, second, 1)
	assert.Equal(t, "question two", second[0].Content)
}

// -------------------- Structured Output Tests --------------------

type weatherReport struct {
	City    string `json:"city"`
	Celsius int    `json:"celsius"`
}

func TestAgent_StructuredOutputs(t *testing.T) {
	parsed := &weatherReport{City: "Berlin", Celsius: 21}
	m := model.NewMockModel("primary").
		AddParsedTurn(`{"city": "Berlin", "celsius": 21}`, parsed)

	a := New("weather", m, func(o *Options) {
		o.ResponseModel = "weatherReport"
		o.ResponseSchema = map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city":    map[string]any{"type": "string"},
				"celsius": map[string]any{"type": "integer"},
			},
			"required": []string{"city", "celsius"},
		}
		o.StructuredOutputs = true
	})

	resp, err := a.Run(context.Background(), "Weather in Berlin?")
	require.NoError(t, err)
	assert.Equal(t, "weatherReport", resp.ContentType)
	assert.Same(t, parsed, resp.Content)

	require.Len(t, m.Requests, 1)
	assert.NotNil(t, m.Requests[0].ResponseSchema)
}

// -------------------- Persistence Tests --------------------

func TestAgent_PersistsRun(t *testing.T) {
	store := storage.NewInMemoryStorage()
	m := model.NewMockModel("primary").AddTextTurn("done")
	a := New("persistent", m, func(o *Options) {
		o.SessionID = "s1"
		o.UserID = "u1"
		o.Storage = store
	})

	_, err := a.Run(context.Background(), "hello")
	require.NoError(t, err)

	require.Equal(t, 1, store.Len())
	runID := a.Memory().Runs()[0].RunID
	run, err := store.Read(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, "s1", run.SessionID)
	assert.Equal(t, "done", run.Response.Content)

	ids, err := store.SessionIDs(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}

type brokenStorage struct{}

func (brokenStorage) Upsert(context.Context, *core.Run) error { return errors.New("disk full") }
func (brokenStorage) Read(context.Context, string) (*core.Run, error) {
	return nil, storage.ErrNotFound
}
func (brokenStorage) SessionIDs(context.Context, string) ([]string, error) { return nil, nil }

func TestAgent_PersistFailureIsFatal(t *testing.T) {
	m := model.NewMockModel("primary").AddTextTurn("done")
	a := New("persistent", m, func(o *Options) {
		o.Storage = brokenStorage{}
	})

	_, err := a.Run(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist run")
}

// -------------------- Memory Pipeline Tests --------------------

func TestAgent_UserMemoryPipeline(t *testing.T) {
	db := memory.NewInMemoryDb()

	mem := memory.NewAgentMemory()
	mem.Db = db
	mem.UserID = "u1"
	mem.CreateUserMemories = true
	mem.Classifier = memory.NewClassifier(
		model.NewMockModel("classifier").AddTextTurn("yes"), nil)
	mem.Manager = memory.NewManager(
		model.NewMockModel("manager").
			AddToolCallTurn(core.ToolCall{
				ID:        "call_1",
				Name:      "add_memory",
				Arguments: `{"memory": "The user likes coffee"}`,
			}).
			AddTextTurn("Stored."),
		db, "u1", nil)

	m := model.NewMockModel("primary").AddTextTurn("Noted, you like coffee!")
	a := New("barista", m, func(o *Options) {
		o.UserID = "u1"
		o.Memory = mem
	})

	resp, err := a.Run(context.Background(), "I like coffee")
	require.NoError(t, err)
	assert.Equal(t, "Noted, you like coffee!", resp.Content)

	assert.Equal(t, 1, db.Len())
	memories := mem.Memories()
	require.Len(t, memories, 1)
	assert.Equal(t, "The user likes coffee", memories[0].Memory)
}

func TestAgent_MemoriesInjectedIntoSystemMessage(t *testing.T) {
	db := memory.NewInMemoryDb()
	require.NoError(t, db.UpsertMemory(context.Background(), memory.MemoryRow{
		UserID: "u1",
		Memory: memory.Memory{Memory: "The user likes coffee"},
	}))

	mem := memory.NewAgentMemory()
	mem.Db = db
	mem.UserID = "u1"
	mem.CreateUserMemories = true
	mem.Classifier = memory.NewClassifier(
		model.NewMockModel("classifier").AddTextTurn("no"), nil)

	m := model.NewMockModel("primary").AddTextTurn("A flat white, then.")
	a := New("barista", m, func(o *Options) {
		o.UserID = "u1"
		o.Memory = mem
	})

	_, err := a.Run(context.Background(), "Recommend a drink")
	require.NoError(t, err)

	first := m.Requests[0].Messages[0]
	require.Equal(t, core.RoleSystem, first.Role)
	assert.Contains(t, first.Content, "<memories_from_previous_interactions>")
	assert.Contains(t, first.Content, "The user likes coffee")
}

func TestAgent_MemoryFailureDoesNotFailRun(t *testing.T) {
	mem := memory.NewAgentMemory()
	mem.Db = memory.NewInMemoryDb()
	mem.CreateUserMemories = true
	// Classifier says yes but the manager model has no scripted turns, so the
	// pipeline errors out.
	mem.Classifier = memory.NewClassifier(
		model.NewMockModel("classifier").AddTextTurn("yes"), nil)
	mem.Manager = memory.NewManager(model.NewMockModel("manager"), mem.Db, "u1", nil)

	m := model.NewMockModel("primary").AddTextTurn("still fine")
	a := New("resilient", m, func(o *Options) {
		o.Memory = mem
	})

	resp, err := a.Run(context.Background(), "I like coffee")
	require.NoError(t, err)
	assert.Equal(t, "still fine", resp.Content)
}

func TestAgent_SessionSummaryAfterThreshold(t *testing.T) {
	mem := memory.NewAgentMemory()
	mem.CreateSessionSummary = true
	mem.Threshold = memory.SummaryThreshold{MaxMessages: 1}
	mem.Summarizer = memory.NewSummarizer(
		model.NewMockModel("summarizer").
			AddTextTurn(`{"summary": "Small talk about coffee.", "topics": ["coffee"]}`),
		nil)

	m := model.NewMockModel("primary").
		AddTextTurn("I love coffee too").
		AddTextTurn("Espresso it is")
	a := New("summarizing", m, func(o *Options) {
		o.Memory = mem
	})

	// First run records messages; threshold not yet crossed before the run.
	_, err := a.Run(context.Background(), "I like coffee")
	require.NoError(t, err)
	require.NotNil(t, mem.Summary())
	assert.Equal(t, "Small talk about coffee.", mem.Summary().Summary)

	// The second run's system message carries the summary.
	_, err = a.Run(context.Background(), "Which coffee should I order?")
	require.NoError(t, err)
	first := m.Requests[1].Messages[0]
	require.Equal(t, core.RoleSystem, first.Role)
	assert.Contains(t, first.Content, "<summary_of_previous_interactions>")
	assert.Contains(t, first.Content, "Small talk about coffee.")
}
