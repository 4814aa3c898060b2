package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// ToolDef is the tool surface consumed by provider adapters: name,
	// description, and the JSON Schema for parameters. No callable.
	ToolDef struct {
		// Name is the tool identifier as seen by the model.
		Name string

		// Description tells the model when to call the tool.
		Description string

		// ParamSchema is the JSON Schema for the tool parameters.
		ParamSchema json.RawMessage
	}

	// OutputSpec requests validated structured output. After the final
	// snapshot, the message text is parsed as JSON, validated against Schema,
	// and attached as a StructuredOutputPart.
	OutputSpec struct {
		// Name names the output type for downstream consumers.
		Name string

		// Schema is the JSON Schema the output must satisfy.
		Schema json.RawMessage
	}

	// Request captures the inputs for a model invocation.
	Request struct {
		// Messages is the ordered transcript, including tool results embedded
		// inside assistant messages. Adapters map it to the provider's native
		// format.
		Messages []*Message

		// Tools lists the tool definitions available to the model.
		Tools []ToolDef

		// Output optionally requests structured output.
		Output *OutputSpec
	}

	// EventStream delivers stream events from a provider adapter. The
	// sequence is finite and not restartable; callers drain until Recv
	// returns io.EOF, then Close.
	EventStream interface {
		// Recv returns the next event, or io.EOF when the sequence ends.
		Recv() (StreamEvent, error)

		// Close releases resources associated with the stream.
		Close() error
	}

	// LanguageModel is the provider contract the runtime consumes.
	// Implementations translate Requests into provider calls and map the
	// provider's wire events into the StreamEvent alphabet.
	LanguageModel interface {
		// StreamEvents starts a streaming invocation.
		StreamEvents(ctx context.Context, req *Request) (EventStream, error)
	}

	// MessageStream folds an EventStream through a Handler, delivering one
	// Message snapshot per event. Obtained from Stream.
	MessageStream struct {
		events EventStream
		h      *Handler
		output *OutputSpec
	}
)

// ErrNoStructuredOutput indicates an output type was requested but the final
// message carried no text. Text that is not valid JSON is reported by a
// separate error.
var ErrNoStructuredOutput = errors.New("model: no structured output in final message")

// Stream starts a streaming invocation and returns the snapshot stream. Each
// Recv consumes one provider event and returns the refined message snapshot;
// the final snapshot has IsDone true and, when req.Output is set, carries a
// validated StructuredOutputPart.
func Stream(ctx context.Context, lm LanguageModel, req *Request) (*MessageStream, error) {
	events, err := lm.StreamEvents(ctx, req)
	if err != nil {
		return nil, err
	}
	return &MessageStream{events: events, h: NewHandler(), output: req.Output}, nil
}

// Recv returns the next snapshot, or io.EOF when the stream is exhausted.
func (s *MessageStream) Recv() (*Message, error) {
	ev, err := s.events.Recv()
	if err != nil {
		return nil, err
	}
	msg, err := s.h.HandleEvent(ev)
	if err != nil {
		return nil, err
	}
	if _, final := ev.(MessageDone); final && s.output != nil {
		if err := ApplyStructuredOutput(msg, s.output); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// Close releases the underlying event stream.
func (s *MessageStream) Close() error {
	return s.events.Close()
}

// Buffer drains a streaming invocation and returns the final message.
func Buffer(ctx context.Context, lm LanguageModel, req *Request) (*Message, error) {
	stream, err := Stream(ctx, lm, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close() //nolint:errcheck

	var last *Message
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		last = msg
	}
	if last == nil {
		return nil, errors.New("model: stream produced no messages")
	}
	return last, nil
}

// ApplyStructuredOutput parses the message text as JSON, validates it against
// the spec's schema, and appends a StructuredOutputPart. It is applied to the
// final snapshot only.
func ApplyStructuredOutput(msg *Message, spec *OutputSpec) error {
	text := msg.Text()
	if text == "" {
		return ErrNoStructuredOutput
	}
	var data any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return fmt.Errorf("model: structured output is not valid JSON: %w", err)
	}
	if err := ValidateJSON(data, spec.Schema); err != nil {
		return fmt.Errorf("model: structured output: %w", err)
	}
	msg.Parts = append(msg.Parts, &StructuredOutputPart{Data: data, OutputTypeName: spec.Name})
	return nil
}

// ValidateJSON validates a decoded JSON value against a JSON Schema document.
// An empty schema accepts everything.
func ValidateJSON(value any, schema json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	sch, err := CompileSchema(schema)
	if err != nil {
		return err
	}
	return sch.Validate(value)
}

// CompileSchema compiles a JSON Schema document.
func CompileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}
