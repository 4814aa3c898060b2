// Package openai provides a model.LanguageModel backed by the OpenAI Chat
// Completions API (and compatible gateways). It maps the internal message
// history into chat messages — tool results embedded in assistant messages
// become tool-role turns — and folds streaming deltas into the stream-event
// alphabet.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/strandlabs/strand/model"
)

type (
	// ChatClient captures the subset of the go-openai client used by the
	// adapter. Satisfied by *openai.Client; tests pass a mock.
	ChatClient interface {
		CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
	}

	// Options configures the adapter.
	Options struct {
		// Model is the model identifier. Required.
		Model string

		// BaseURL overrides the API endpoint for OpenAI-compatible gateways.
		BaseURL string

		// MaxTokens caps completion length when positive.
		MaxTokens int

		// Temperature controls sampling when positive.
		Temperature float32

		// RequestsPerSecond paces outgoing requests when positive.
		RequestsPerSecond float64
	}

	// Client implements model.LanguageModel via Chat Completions streaming.
	Client struct {
		chat    ChatClient
		model   string
		maxTok  int
		temp    float32
		limiter *rate.Limiter
	}
)

// New builds an adapter from a chat client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	c := &Client{chat: chat, model: opts.Model, maxTok: opts.MaxTokens, temp: opts.Temperature}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

// NewFromAPIKey constructs an adapter using the default go-openai HTTP
// client, honoring Options.BaseURL for OpenAI-compatible gateways.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return New(openai.NewClientWithConfig(cfg), opts)
}

// StreamEvents implements model.LanguageModel.
func (c *Client) StreamEvents(ctx context.Context, req *model.Request) (model.EventStream, error) {
	request, err := c.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	stream, err := c.chat.CreateChatCompletionStream(ctx, *request)
	if err != nil {
		return nil, fmt.Errorf("openai: create stream: %w", err)
	}
	return newEventStream(stream), nil
}

func (c *Client) encodeRequest(req *model.Request) (*openai.ChatCompletionRequest, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	request := &openai.ChatCompletionRequest{
		Model:         c.model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if c.maxTok > 0 {
		request.MaxTokens = c.maxTok
	}
	if c.temp > 0 {
		request.Temperature = c.temp
	}
	if len(req.Tools) > 0 {
		request.Tools = encodeTools(req.Tools)
	}
	return request, nil
}

func encodeMessages(msgs []*model.Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Text(),
			})
		case model.RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Text(),
			})
		case model.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Text(),
			}
			var results []openai.ChatCompletionMessage
			for _, tc := range m.ToolCalls() {
				args := tc.ToolArgs
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ToolCallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.ToolName,
						Arguments: args,
					},
				})
				if tc.Status == model.ToolStatusResult || tc.Status == model.ToolStatusError {
					results = append(results, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						ToolCallID: tc.ToolCallID,
						Content:    encodeToolResult(tc),
					})
				}
			}
			out = append(out, msg)
			out = append(out, results...)
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func encodeToolResult(tc *model.ToolPart) string {
	switch r := tc.Result.(type) {
	case nil:
		return "null"
	case string:
		return r
	default:
		if data, err := json.Marshal(r); err == nil {
			return string(data)
		}
		return fmt.Sprint(r)
	}
}

func encodeTools(defs []model.ToolDef) []openai.Tool {
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.ParamSchema,
			},
		})
	}
	return tools
}
