package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentloop/agentloop/core"
)

// MockModel is a scripted in-memory Model for tests and examples. Turns are
// consumed in FIFO order: each Invoke/InvokeStream pops one turn. A streamed
// turn yields its chunks one by one; Invoke folds the same chunks into a
// single Response, so streaming and non-streaming calls over the same script
// produce identical final content.
type MockModel struct {
	mu    sync.Mutex
	info  Info
	turns [][]Response

	// Requests records every request received, for assertions.
	Requests []Request

	// InvokeErr, when set, is returned by the next Invoke/InvokeStream call.
	InvokeErr error
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(id string) *MockModel {
	return &MockModel{
		info: Info{ID: id, Provider: "mock", SupportsTools: true},
	}
}

// AddTurn appends a scripted turn made of raw Response chunks.
func (m *MockModel) AddTurn(chunks ...Response) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, chunks)
	return m
}

// AddTextTurn appends a turn that streams the given text in rune-sized
// content deltas.
func (m *MockModel) AddTextTurn(text string) *MockModel {
	var chunks []Response
	for _, r := range text {
		chunks = append(chunks, Response{Event: EventAssistantResponse, Content: string(r)})
	}
	return m.AddTurn(chunks...)
}

// AddToolCallTurn appends a turn that requests the given tool calls: one
// started/completed event pair per call, in order.
func (m *MockModel) AddToolCallTurn(calls ...core.ToolCall) *MockModel {
	var chunks []Response
	for i := range calls {
		started := calls[i]
		started.Status = core.ToolCallPending
		completed := calls[i]
		completed.Status = core.ToolCallStarted
		chunks = append(chunks,
			Response{Event: EventToolCallStarted, ToolCall: &started},
			Response{Event: EventToolCallCompleted, ToolCall: &completed},
		)
	}
	return m.AddTurn(chunks...)
}

// AddParsedTurn appends a turn whose final response carries a structured
// output payload alongside its serialized content.
func (m *MockModel) AddParsedTurn(content string, parsed any) *MockModel {
	return m.AddTurn(Response{Event: EventAssistantResponse, Content: content, Parsed: parsed})
}

func (m *MockModel) nextTurn(req Request) ([]Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.InvokeErr != nil {
		err := m.InvokeErr
		return nil, err
	}
	if len(m.turns) == 0 {
		return nil, fmt.Errorf("mock model: no scripted turns remaining")
	}
	turn := m.turns[0]
	m.turns = m.turns[1:]
	return turn, nil
}

// Invoke implements Model by folding one scripted turn into a single
// Response.
func (m *MockModel) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	turn, err := m.nextTurn(req)
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	resp := Response{CreatedAt: time.Now().UTC()}
	for _, ck := range turn {
		switch ck.Event {
		case EventAssistantResponse:
			content.WriteString(ck.Content)
			if ck.Parsed != nil {
				resp.Parsed = ck.Parsed
			}
			if ck.Audio != nil {
				resp.Audio = ck.Audio
			}
		case EventToolCallCompleted:
			if ck.ToolCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, *ck.ToolCall)
			}
		}
		if ck.FinishReason != "" {
			resp.FinishReason = ck.FinishReason
		}
		if ck.Usage != nil {
			resp.Usage = ck.Usage
		}
	}
	resp.Content = content.String()
	if resp.FinishReason == "" {
		if len(resp.ToolCalls) > 0 {
			resp.FinishReason = "tool_calls"
		} else {
			resp.FinishReason = "stop"
		}
	}
	return &resp, nil
}

// InvokeStream implements Model by replaying one scripted turn chunk by
// chunk.
func (m *MockModel) InvokeStream(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 16)
	errCh := make(chan error, 1)

	turn, err := m.nextTurn(req)
	if err != nil {
		close(out)
		errCh <- err
		close(errCh)
		return out, errCh
	}

	go func() {
		defer close(out)
		defer close(errCh)
		for _, ck := range turn {
			ck.CreatedAt = time.Now().UTC()
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- ck:
			}
		}
	}()
	return out, errCh
}

// Info implements the Model interface.
func (m *MockModel) Info() Info { return m.info }

// Clone implements Cloner returning a fresh mock with the same id and no
// scripted turns.
func (m *MockModel) Clone() Model { return NewMockModel(m.info.ID) }
