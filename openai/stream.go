package openai

import (
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/strandlabs/strand/model"
)

const textBlockID = "text-0"

// eventStream folds Chat Completions deltas into the stream-event alphabet.
// Chat deltas carry no explicit block boundaries, so starts are synthesized
// on first sight and everything still open closes at the finish reason (or at
// end of stream, whichever arrives first).
type eventStream struct {
	stream *openai.ChatCompletionStream

	queue    []model.StreamEvent
	textOpen bool
	textDone bool

	// toolIDs maps the provider's tool-call index to its call id; argument
	// fragments after the first carry only the index.
	toolIDs   map[int]string
	toolOrder []int

	usage *model.Usage
	done  bool
	err   error
}

func newEventStream(stream *openai.ChatCompletionStream) *eventStream {
	return &eventStream{stream: stream, toolIDs: make(map[int]string)}
}

// Recv implements model.EventStream.
func (s *eventStream) Recv() (model.StreamEvent, error) {
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			return ev, nil
		}
		if s.err != nil {
			return nil, s.err
		}
		if s.done {
			return nil, io.EOF
		}

		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.closeOpenBlocks()
			s.push(model.MessageDone{Usage: s.usage})
			s.done = true
			continue
		}
		if err != nil {
			s.err = fmt.Errorf("openai: stream: %w", err)
			return nil, s.err
		}
		s.handle(response)
	}
}

// Close implements model.EventStream.
func (s *eventStream) Close() error {
	s.stream.Close()
	return nil
}

func (s *eventStream) handle(response openai.ChatCompletionStreamResponse) {
	if response.Usage != nil {
		s.usage = &model.Usage{
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
			TotalTokens:  response.Usage.TotalTokens,
		}
	}
	if len(response.Choices) == 0 {
		return
	}
	choice := response.Choices[0]
	delta := choice.Delta

	if delta.Content != "" {
		if !s.textOpen && !s.textDone {
			s.textOpen = true
			s.push(model.TextStart{BlockID: textBlockID})
		}
		if s.textOpen {
			s.push(model.TextDelta{BlockID: textBlockID, Delta: delta.Content})
		}
	}

	for _, tc := range delta.ToolCalls {
		index := 0
		if tc.Index != nil {
			index = *tc.Index
		}
		id, known := s.toolIDs[index]
		if !known {
			if tc.ID == "" {
				// Fragment for a call we never saw the head of; nothing to
				// attribute it to.
				continue
			}
			id = tc.ID
			s.toolIDs[index] = id
			s.toolOrder = append(s.toolOrder, index)
			s.push(model.ToolStart{ToolCallID: id, ToolName: tc.Function.Name})
		}
		if tc.Function.Arguments != "" {
			s.push(model.ToolArgsDelta{ToolCallID: id, Delta: tc.Function.Arguments})
		}
	}

	if choice.FinishReason != "" {
		s.closeOpenBlocks()
	}
}

func (s *eventStream) closeOpenBlocks() {
	if s.textOpen {
		s.textOpen = false
		s.textDone = true
		s.push(model.TextEnd{BlockID: textBlockID})
	}
	for _, index := range s.toolOrder {
		s.push(model.ToolEnd{ToolCallID: s.toolIDs[index]})
		delete(s.toolIDs, index)
	}
	s.toolOrder = nil
}

func (s *eventStream) push(ev model.StreamEvent) {
	s.queue = append(s.queue, ev)
}
