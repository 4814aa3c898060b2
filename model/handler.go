package model

import (
	"fmt"
)

type (
	// Handler accumulates stream events and produces Message snapshots with
	// stateful parts. It is the normalisation layer between provider adapters
	// and the rest of the system: every event yields the current state of the
	// whole message, with exactly one part per observed block or tool call, in
	// the insertion order of each block's first event.
	//
	// Handler does not enforce content semantics; structured-output validation
	// is a post-processing step applied to the final snapshot.
	//
	// Handler is not safe for concurrent use. A single adapter goroutine feeds
	// events in order.
	Handler struct {
		messageID string
		role      Role

		blocks []*block
		byKey  map[string]*block

		usage *Usage
		done  bool
	}

	// HandlerOption customises a Handler.
	HandlerOption func(*Handler)

	blockKind int

	block struct {
		kind blockKind

		// id is the block id for text/reasoning blocks, or the tool call id.
		id string

		// name is the tool name for tool blocks.
		name string

		text      string
		signature string
		done      bool

		// delta holds the fragment from the most recent event when this block
		// is the active one; cleared on every new event.
		delta string
	}
)

const (
	blockText blockKind = iota
	blockReasoning
	blockTool
)

// WithMessageID fixes the snapshot message id. Useful for deterministic
// replays and tests; by default a fresh id is generated.
func WithMessageID(id string) HandlerOption {
	return func(h *Handler) { h.messageID = id }
}

// NewHandler returns a handler that emits assistant message snapshots.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		messageID: NewID(),
		role:      RoleAssistant,
		byKey:     make(map[string]*block),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Done reports whether MessageDone has been observed.
func (h *Handler) Done() bool { return h.done }

// HandleEvent folds one event into the accumulated state and returns the
// resulting snapshot. The snapshot shares no parts with previously returned
// snapshots, so callers may retain or mutate them independently.
//
// A delta for an unseen or already closed block is an error, as is any event
// after MessageDone.
func (h *Handler) HandleEvent(ev StreamEvent) (*Message, error) {
	if h.done {
		return nil, fmt.Errorf("stream: event %T after message done", ev)
	}

	// Deltas are point-in-time: whatever the previous event set is stale now.
	h.clearDeltas()

	switch e := ev.(type) {
	case TextStart:
		if err := h.start(blockText, e.BlockID, ""); err != nil {
			return nil, err
		}
	case TextDelta:
		if err := h.appendDelta(blockText, e.BlockID, e.Delta); err != nil {
			return nil, err
		}
	case TextEnd:
		if err := h.end(blockText, e.BlockID, ""); err != nil {
			return nil, err
		}
	case ReasoningStart:
		if err := h.start(blockReasoning, e.BlockID, ""); err != nil {
			return nil, err
		}
	case ReasoningDelta:
		if err := h.appendDelta(blockReasoning, e.BlockID, e.Delta); err != nil {
			return nil, err
		}
	case ReasoningEnd:
		if err := h.end(blockReasoning, e.BlockID, e.Signature); err != nil {
			return nil, err
		}
	case ToolStart:
		if err := h.start(blockTool, e.ToolCallID, e.ToolName); err != nil {
			return nil, err
		}
	case ToolArgsDelta:
		if err := h.appendDelta(blockTool, e.ToolCallID, e.Delta); err != nil {
			return nil, err
		}
	case ToolEnd:
		if err := h.end(blockTool, e.ToolCallID, ""); err != nil {
			return nil, err
		}
	case MessageDone:
		for _, b := range h.blocks {
			b.done = true
		}
		h.usage = e.Usage
		h.done = true
	default:
		return nil, fmt.Errorf("stream: unknown event type %T", ev)
	}

	return h.Message(), nil
}

// Message returns the current snapshot without consuming an event.
func (h *Handler) Message() *Message {
	msg := &Message{ID: h.messageID, Role: h.role, Usage: h.usage}
	msg.Parts = make([]Part, 0, len(h.blocks))
	for _, b := range h.blocks {
		state := PartStateStreaming
		if b.done {
			state = PartStateDone
		}
		switch b.kind {
		case blockText:
			msg.Parts = append(msg.Parts, &TextPart{Text: b.text, State: state, Delta: b.delta})
		case blockReasoning:
			msg.Parts = append(msg.Parts, &ReasoningPart{
				Text:      b.text,
				Signature: b.signature,
				State:     state,
				Delta:     b.delta,
			})
		case blockTool:
			msg.Parts = append(msg.Parts, &ToolPart{
				ToolCallID: b.id,
				ToolName:   b.name,
				ToolArgs:   b.text,
				Status:     ToolStatusPending,
				State:      state,
				ArgsDelta:  b.delta,
			})
		}
	}
	return msg
}

func (h *Handler) start(kind blockKind, id, name string) error {
	if id == "" {
		return fmt.Errorf("stream: %s start missing block id", kindName(kind))
	}
	key := blockKey(kind, id)
	if _, dup := h.byKey[key]; dup {
		return fmt.Errorf("stream: duplicate %s block %q", kindName(kind), id)
	}
	// Providers stream at most one text and one reasoning block at a time;
	// overlapping blocks of the same kind indicate a broken adapter.
	if kind != blockTool {
		for _, b := range h.blocks {
			if b.kind == kind && !b.done {
				return fmt.Errorf("stream: %s block %q started while %q is still streaming", kindName(kind), id, b.id)
			}
		}
	}
	b := &block{kind: kind, id: id, name: name}
	h.blocks = append(h.blocks, b)
	h.byKey[key] = b
	return nil
}

func (h *Handler) appendDelta(kind blockKind, id, delta string) error {
	b, ok := h.byKey[blockKey(kind, id)]
	if !ok {
		return fmt.Errorf("stream: delta for unknown %s block %q", kindName(kind), id)
	}
	if b.done {
		return fmt.Errorf("stream: delta for closed %s block %q", kindName(kind), id)
	}
	b.text += delta
	b.delta = delta
	return nil
}

func (h *Handler) end(kind blockKind, id, signature string) error {
	b, ok := h.byKey[blockKey(kind, id)]
	if !ok {
		return fmt.Errorf("stream: end for unknown %s block %q", kindName(kind), id)
	}
	if b.done {
		return fmt.Errorf("stream: %s block %q already closed", kindName(kind), id)
	}
	b.done = true
	if signature != "" {
		b.signature = signature
	}
	return nil
}

func (h *Handler) clearDeltas() {
	for _, b := range h.blocks {
		b.delta = ""
	}
}

func blockKey(kind blockKind, id string) string {
	return fmt.Sprintf("%d:%s", kind, id)
}

func kindName(kind blockKind) string {
	switch kind {
	case blockText:
		return "text"
	case blockReasoning:
		return "reasoning"
	default:
		return "tool"
	}
}
