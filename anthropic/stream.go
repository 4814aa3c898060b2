package anthropic

import (
	"fmt"
	"io"
	"strconv"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/strandlabs/strand/model"
)

// eventStream adapts an Anthropic Messages SSE stream to the stream-event
// alphabet. One provider event can expand to zero or more events (signature
// deltas buffer silently, block stops close the owning block), so a small
// queue sits between the SDK iterator and Recv.
//
// Non-tool blocks are classified lazily from their first delta rather than
// from the content_block_start payload: the start union varies across block
// flavours while deltas are unambiguous, and empty blocks then simply never
// surface.
type eventStream struct {
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	queue  []model.StreamEvent
	blocks map[int]*blockState
	usage  *model.Usage
	done   bool
	err    error
}

type blockKind int

const (
	kindUnknown blockKind = iota
	kindText
	kindThinking
	kindTool
)

type blockState struct {
	kind      blockKind
	id        string
	signature string
}

func newEventStream(stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *eventStream {
	return &eventStream{stream: stream, blocks: make(map[int]*blockState)}
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
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.err = fmt.Errorf("anthropic: stream: %w", err)
				return nil, s.err
			}
			// The stream ended without a message_stop; synthesize the
			// terminator so the handler finalises open blocks.
			s.done = true
			return model.MessageDone{Usage: s.usage}, nil
		}
		if err := s.handle(s.stream.Current()); err != nil {
			s.err = err
			return nil, err
		}
	}
}

// Close implements model.EventStream.
func (s *eventStream) Close() error {
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *eventStream) handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		return nil

	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if tool, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			if tool.ID == "" {
				return fmt.Errorf("anthropic: tool use block missing id")
			}
			if tool.Name == "" {
				return fmt.Errorf("anthropic: tool use block %q missing name", tool.ID)
			}
			s.blocks[idx] = &blockState{kind: kindTool, id: tool.ID}
			s.push(model.ToolStart{ToolCallID: tool.ID, ToolName: tool.Name})
			return nil
		}
		s.blocks[idx] = &blockState{kind: kindUnknown, id: blockID(idx)}
		return nil

	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		b := s.blocks[idx]
		if b == nil {
			return fmt.Errorf("anthropic: delta for unknown block %d", idx)
		}
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			if b.kind == kindUnknown {
				b.kind = kindText
				s.push(model.TextStart{BlockID: b.id})
			}
			s.push(model.TextDelta{BlockID: b.id, Delta: delta.Text})
		case sdk.ThinkingDelta:
			if delta.Thinking == "" {
				return nil
			}
			if b.kind == kindUnknown {
				b.kind = kindThinking
				s.push(model.ReasoningStart{BlockID: b.id})
			}
			s.push(model.ReasoningDelta{BlockID: b.id, Delta: delta.Thinking})
		case sdk.SignatureDelta:
			if b.kind == kindUnknown {
				b.kind = kindThinking
				s.push(model.ReasoningStart{BlockID: b.id})
			}
			b.signature += delta.Signature
		case sdk.InputJSONDelta:
			if delta.PartialJSON != "" && b.kind == kindTool {
				s.push(model.ToolArgsDelta{ToolCallID: b.id, Delta: delta.PartialJSON})
			}
		}
		return nil

	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		b := s.blocks[idx]
		if b == nil {
			return nil
		}
		delete(s.blocks, idx)
		switch b.kind {
		case kindText:
			s.push(model.TextEnd{BlockID: b.id})
		case kindThinking:
			s.push(model.ReasoningEnd{BlockID: b.id, Signature: b.signature})
		case kindTool:
			s.push(model.ToolEnd{ToolCallID: b.id})
		case kindUnknown:
			// Block produced no content; it never surfaced, so there is
			// nothing to close.
		}
		return nil

	case sdk.MessageDeltaEvent:
		s.usage = &model.Usage{
			InputTokens:  int(ev.Usage.InputTokens),
			OutputTokens: int(ev.Usage.OutputTokens),
			TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
		}
		return nil

	case sdk.MessageStopEvent:
		s.done = true
		s.push(model.MessageDone{Usage: s.usage})
		return nil
	}
	return nil
}

func (s *eventStream) push(ev model.StreamEvent) {
	s.queue = append(s.queue, ev)
}

func blockID(idx int) string {
	return "block-" + strconv.Itoa(idx)
}
