// Package anthropic provides a model.LanguageModel backed by the Anthropic
// Claude Messages API. It translates the internal message history (including
// tool results embedded inside assistant messages) into Messages API turns
// and maps the streaming wire events into the stream-event alphabet.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"golang.org/x/time/rate"

	"github.com/strandlabs/strand/model"
)

const defaultMaxTokens = 4096

type (
	// MessagesClient captures the subset of the Anthropic SDK used by the
	// adapter. Satisfied by *sdk.MessageService; tests pass a mock.
	MessagesClient interface {
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures the adapter.
	Options struct {
		// Model is the Claude model identifier. Required.
		Model string

		// MaxTokens caps completion length. Defaults to 4096.
		MaxTokens int

		// Temperature controls sampling when positive.
		Temperature float64

		// RequestsPerSecond paces outgoing requests when positive. Useful for
		// graphs that fan out many concurrent steps against one API key.
		RequestsPerSecond float64
	}

	// Client implements model.LanguageModel on top of Claude Messages.
	Client struct {
		msg     MessagesClient
		model   string
		maxTok  int
		temp    float64
		limiter *rate.Limiter
	}
)

// New builds an adapter from an Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = defaultMaxTokens
	}
	c := &Client{msg: msg, model: opts.Model, maxTok: maxTok, temp: opts.Temperature}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

// NewFromAPIKey constructs an adapter using the default Anthropic HTTP
// client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// StreamEvents implements model.LanguageModel.
func (c *Client) StreamEvents(ctx context.Context, req *model.Request) (model.EventStream, error) {
	params, err := c.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	stream := c.msg.NewStreaming(ctx, *params)
	return newEventStream(stream), nil
}

func (c *Client) encodeRequest(req *model.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := &sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.maxTok),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	return params, nil
}

func encodeMessages(msgs []*model.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.RoleSystem {
			if text := m.Text(); text != "" {
				system = append(system, sdk.TextBlockParam{Text: text})
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		var results []sdk.ContentBlockParamUnion
		for _, part := range m.Parts {
			switch v := part.(type) {
			case *model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case *model.ReasoningPart:
				// Thinking blocks must round-trip with their signature for
				// multi-turn verification; unsigned reasoning is dropped.
				if v.Text != "" && v.Signature != "" {
					blocks = append(blocks, sdk.NewThinkingBlock(v.Signature, v.Text))
				}
			case *model.ToolPart:
				args := v.ToolArgs
				if args == "" {
					args = "{}"
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ToolCallID, json.RawMessage(args), v.ToolName))
				if v.Status == model.ToolStatusResult || v.Status == model.ToolStatusError {
					results = append(results, encodeToolResult(v))
				}
			default:
				// Hook and structured-output parts are runtime artefacts, not
				// provider content.
			}
		}
		if len(blocks) == 0 && len(results) == 0 {
			continue
		}
		switch m.Role {
		case model.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case model.RoleAssistant:
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}
			// Tool results ride on a user turn immediately after the
			// assistant turn that requested them.
			if len(results) > 0 {
				conversation = append(conversation, sdk.NewUserMessage(results...))
			}
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeToolResult(v *model.ToolPart) sdk.ContentBlockParamUnion {
	var content string
	switch r := v.Result.(type) {
	case nil:
		content = "null"
	case string:
		content = r
	default:
		if data, err := json.Marshal(r); err == nil {
			content = string(data)
		} else {
			content = fmt.Sprint(r)
		}
	}
	return sdk.NewToolResultBlock(v.ToolCallID, content, v.Status == model.ToolStatusError)
}

func encodeTools(defs []model.ToolDef) ([]sdk.ToolUnionParam, error) {
	tools := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		schema, err := toolInputSchema(def.ParamSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		tools = append(tools, u)
	}
	return tools, nil
}

func toolInputSchema(raw json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}
