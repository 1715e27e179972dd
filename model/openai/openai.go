// Package openai implements model.Model on the OpenAI Chat Completions API,
// including streaming, function/tool calling and structured outputs. It
// adapts the normalized Request/Response structures into the SDK's message
// format and back.
package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/model"
)

// aggCall aggregates partial tool call streaming deltas (id, name,
// arguments) allowing reconstruction of complete calls when the finish
// reason is emitted.
type aggCall struct{ id, name, args string }

// Options configure the OpenAI model adapter. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model
// interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// New creates an OpenAI model using the default client (API key from the
// environment).
func New(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates an OpenAI model from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Invoke implements model.Model with a single non-streaming completion.
func (m *Model) Invoke(ctx context.Context, req model.Request) (*model.Response, error) {
	params := m.buildParams(req)

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	return mapResponse(resp, req.ResponseSchema)
}

// mapResponse converts a completion into the normalized response. When a
// response schema was requested the returned content is also decoded into
// Parsed.
func mapResponse(resp *openai.ChatCompletion, schema map[string]any) (*model.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	choice := resp.Choices[0]
	out := &model.Response{
		Event:        model.EventAssistantResponse,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: &model.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		CreatedAt: time.Now().UTC(),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
			Status:    core.ToolCallStarted,
			StartedAt: time.Now().UTC(),
		})
	}
	if schema != nil && out.Content != "" {
		out.Parsed = model.ParseStructured(out.Content)
	}
	return out, nil
}

// InvokeStream implements model.Model, forwarding content deltas and tool
// call lifecycle events in provider arrival order.
func (m *Model) InvokeStream(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	params := m.buildParams(req)

	go func() {
		defer close(out)
		defer close(errCh)

		stream := m.client.Chat.Completions.NewStreaming(ctx, params)
		toolAgg := map[int64]*aggCall{}
		var order []int64
		var text strings.Builder

		for stream.Next() {
			ck := stream.Current()
			for _, choice := range ck.Choices {
				if choice.Delta.Content != "" {
					text.WriteString(choice.Delta.Content)
					out <- model.Response{
						Event:     model.EventAssistantResponse,
						Content:   choice.Delta.Content,
						CreatedAt: time.Now().UTC(),
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{}
						toolAgg[tc.Index] = ac
						order = append(order, tc.Index)
					}
					firstSight := ac.id == "" && tc.ID != ""
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					ac.args += tc.Function.Arguments

					if firstSight {
						out <- model.Response{
							Event: model.EventToolCallStarted,
							ToolCall: &core.ToolCall{
								ID:        ac.id,
								Name:      ac.name,
								Status:    core.ToolCallPending,
								StartedAt: time.Now().UTC(),
							},
							CreatedAt: time.Now().UTC(),
						}
					}
				}
				if choice.FinishReason != "" {
					for _, idx := range order {
						ac := toolAgg[idx]
						out <- model.Response{
							Event: model.EventToolCallCompleted,
							ToolCall: &core.ToolCall{
								ID:        ac.id,
								Name:      ac.name,
								Arguments: ac.args,
								Status:    core.ToolCallStarted,
							},
							FinishReason: string(choice.FinishReason),
							CreatedAt:    time.Now().UTC(),
						}
					}
					if len(order) == 0 {
						finish := model.Response{
							Event:        model.EventAssistantResponse,
							FinishReason: string(choice.FinishReason),
							CreatedAt:    time.Now().UTC(),
						}
						if req.ResponseSchema != nil {
							finish.Parsed = model.ParseStructured(text.String())
						}
						out <- finish
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai streaming error: %w", err)
		}
	}()
	return out, errCh
}

// buildParams assembles the request parameters, converting messages, tool
// definitions, tool choice and the optional response schema.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req.Messages),
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, tdef := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: shared.FunctionDefinitionParam{
					Name:        tdef.Function.Name,
					Description: openai.String(tdef.Function.Description),
					Parameters:  tdef.Function.Parameters,
				},
			}
		}
		params.Tools = tools

		if req.ToolChoice != "" && req.ToolChoice != model.ToolChoiceAuto {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String(string(req.ToolChoice)),
			}
		}
	}

	if req.ResponseSchema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response",
					Schema: req.ResponseSchema,
					Strict: openai.Bool(true),
				},
			},
		}
	}
	return params
}

// buildMessages converts the normalized transcript into OpenAI chat
// messages. Assistant tool calls and their tool result messages keep their
// original relative order.
func buildMessages(msgs []core.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case core.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case core.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			if len(msg.Media) > 0 {
				if parts := userParts(msg); len(parts) > 0 {
					out = append(out, openai.UserMessage(parts))
				}
				continue
			}
			if msg.Content != "" {
				out = append(out, openai.UserMessage(msg.Content))
			}
		}
	}
	return out
}

// userParts renders a user message carrying media attachments as multimodal
// content parts. Images go by URL, or as a data URL when only base64 payload
// is present; audio goes inline. Video has no chat-completion part type and
// is skipped.
func userParts(msg core.Message) []openai.ChatCompletionContentPartUnionParam {
	var parts []openai.ChatCompletionContentPartUnionParam
	if msg.Content != "" {
		parts = append(parts, openai.TextContentPart(msg.Content))
	}
	for _, m := range msg.Media {
		switch m.Kind {
		case core.MediaImage:
			url := m.URL
			if url == "" && m.Base64 != "" {
				mime := m.MimeType
				if mime == "" {
					mime = "image/png"
				}
				url = "data:" + mime + ";base64," + m.Base64
			}
			if url == "" {
				continue
			}
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		case core.MediaAudio:
			if m.Base64 == "" {
				continue
			}
			format := "wav"
			if m.MimeType == "audio/mpeg" || m.MimeType == "audio/mp3" {
				format = "mp3"
			}
			parts = append(parts, openai.InputAudioContentPart(openai.ChatCompletionContentPartInputAudioInputAudioParam{
				Data:   m.Base64,
				Format: format,
			}))
		}
	}
	return parts
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		ID:            m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}

// Clone returns a fresh adapter on the same client and options, used to
// derive a reasoning model from the primary one.
func (m *Model) Clone() model.Model {
	clone := *m
	return &clone
}

var _ interface {
	model.Model
	model.Cloner
} = (*Model)(nil)
