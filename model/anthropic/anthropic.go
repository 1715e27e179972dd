// Package anthropic implements model.Model on the Anthropic Messages API,
// including streaming and tool use.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/model"
)

// Options configures the Anthropic model adapter (model id, temperature,
// max tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model
// interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// New creates an Anthropic model using the official client.
func New(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewFromClient creates an Anthropic model from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Invoke implements model.Model with a single non-streaming message call.
func (m *Model) Invoke(ctx context.Context, req model.Request) (*model.Response, error) {
	params := m.buildParams(req)

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}
	return mapResponse(resp, req.ResponseSchema), nil
}

// mapResponse converts a message result into the normalized response. When a
// response schema was requested the returned text is also decoded into
// Parsed.
func mapResponse(resp *anthropic.Message, schema map[string]any) *model.Response {
	out := &model.Response{
		Event:        model.EventAssistantResponse,
		FinishReason: string(resp.StopReason),
		Usage: &model.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
		CreatedAt: time.Now().UTC(),
	}
	if out.FinishReason == "" {
		out.FinishReason = "stop"
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			args := ""
			if block.Input != nil {
				if data, err := json.Marshal(block.Input); err == nil {
					args = string(data)
				}
			}
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
				Status:    core.ToolCallStarted,
				StartedAt: time.Now().UTC(),
			})
		}
	}
	if schema != nil && out.Content != "" {
		out.Parsed = model.ParseStructured(out.Content)
	}
	return out
}

// InvokeStream implements model.Model, forwarding text deltas and tool use
// lifecycle events in provider arrival order.
func (m *Model) InvokeStream(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	params := m.buildParams(req)

	go func() {
		defer close(out)
		defer close(errCh)

		stream := m.client.Messages.NewStreaming(ctx, params)

		type toolUse struct {
			id, name string
			args     string
		}
		active := map[int64]*toolUse{}
		var text strings.Builder

		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if variant.ContentBlock.Type == "tool_use" {
					active[variant.Index] = &toolUse{
						id:   variant.ContentBlock.ID,
						name: variant.ContentBlock.Name,
					}
					out <- model.Response{
						Event: model.EventToolCallStarted,
						ToolCall: &core.ToolCall{
							ID:        variant.ContentBlock.ID,
							Name:      variant.ContentBlock.Name,
							Status:    core.ToolCallPending,
							StartedAt: time.Now().UTC(),
						},
						CreatedAt: time.Now().UTC(),
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					text.WriteString(delta.Text)
					out <- model.Response{
						Event:     model.EventAssistantResponse,
						Content:   delta.Text,
						CreatedAt: time.Now().UTC(),
					}
				case anthropic.InputJSONDelta:
					if tu, ok := active[variant.Index]; ok {
						tu.args += delta.PartialJSON
					}
				}
			case anthropic.ContentBlockStopEvent:
				if tu, ok := active[variant.Index]; ok {
					out <- model.Response{
						Event: model.EventToolCallCompleted,
						ToolCall: &core.ToolCall{
							ID:        tu.id,
							Name:      tu.name,
							Arguments: tu.args,
							Status:    core.ToolCallStarted,
						},
						CreatedAt: time.Now().UTC(),
					}
					delete(active, variant.Index)
				}
			case anthropic.MessageDeltaEvent:
				if variant.Delta.StopReason != "" {
					finish := model.Response{
						Event:        model.EventAssistantResponse,
						FinishReason: string(variant.Delta.StopReason),
						CreatedAt:    time.Now().UTC(),
					}
					if req.ResponseSchema != nil {
						finish.Parsed = model.ParseStructured(text.String())
					}
					out <- finish
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		}
	}()
	return out, errCh
}

// buildParams assembles the message request: system blocks are lifted out of
// the transcript, tool results become user-side tool_result blocks.
func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req.Messages),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}

	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem && msg.Content != "" {
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		}
	}

	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

func buildMessages(msgs []core.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			continue
		case core.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						input = tc.Arguments
					}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				out = append(out, anthropic.NewAssistantMessage(content...))
			}
		case core.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))
		default:
			if msg.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}
	return out
}

func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if params := t.Function.Parameters; params != nil {
			if properties, ok := params["properties"]; ok {
				inputSchema.Properties = properties
			}
			switch required := params["required"].(type) {
			case []string:
				inputSchema.Required = required
			case []any:
				for _, r := range required {
					if s, ok := r.(string); ok {
						inputSchema.Required = append(inputSchema.Required, s)
					}
				}
			}
		}
		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, t.Function.Name)
	}
	return out
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		ID:            string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}

// Clone returns a fresh adapter on the same client and options.
func (m *Model) Clone() model.Model {
	clone := *m
	return &clone
}

var _ interface {
	model.Model
	model.Cloner
} = (*Model)(nil)
