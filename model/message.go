package model

import (
	"strings"

	"github.com/google/uuid"
)

type (
	// Role identifies the speaker for a message.
	Role string

	// Usage reports token consumption for a model call. The runtime passes it
	// through without interpretation.
	Usage struct {
		// InputTokens is the number of tokens consumed by inputs.
		InputTokens int `json:"input_tokens"`

		// OutputTokens is the number of tokens produced by outputs.
		OutputTokens int `json:"output_tokens"`

		// TotalTokens is the total number of tokens for the call.
		TotalTokens int `json:"total_tokens"`
	}

	// Message is a single chat message built from ordered typed parts.
	//
	// A message id is stable across every snapshot yielded during its
	// production; each snapshot is a monotonic refinement of the previous one
	// (parts grow in number and content, states only move streaming to done,
	// tool status only moves pending to result or error).
	Message struct {
		// ID identifies the message across snapshots.
		ID string

		// Role identifies the speaker.
		Role Role

		// Parts are the ordered content blocks.
		Parts []Part

		// Label is an optional caller-chosen tag, useful for multiplexing
		// several producers into one stream.
		Label string

		// Usage carries provider-reported token usage when available. Set on
		// the final snapshot only.
		Usage *Usage
	}
)

const (
	// RoleUser is the role for user messages.
	RoleUser Role = "user"

	// RoleAssistant is the role for assistant messages.
	RoleAssistant Role = "assistant"

	// RoleSystem is the role for system messages.
	RoleSystem Role = "system"
)

// NewID returns a short unique identifier for messages and hook emissions.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NewMessage builds a message with a fresh id.
func NewMessage(role Role, parts ...Part) *Message {
	return &Message{ID: NewID(), Role: role, Parts: parts}
}

// MakeMessages is a convenience builder for the common system + user pattern.
// The system message is omitted when system is empty.
func MakeMessages(system, user string) []*Message {
	var msgs []*Message
	if system != "" {
		msgs = append(msgs, NewMessage(RoleSystem, &TextPart{Text: system, State: PartStateDone}))
	}
	return append(msgs, NewMessage(RoleUser, &TextPart{Text: user, State: PartStateDone}))
}

// IsDone reports whether no part is still streaming.
func (m *Message) IsDone() bool {
	for _, p := range m.Parts {
		switch v := p.(type) {
		case *TextPart:
			if v.State == PartStateStreaming {
				return false
			}
		case *ReasoningPart:
			if v.State == PartStateStreaming {
				return false
			}
		case *ToolPart:
			if v.State == PartStateStreaming {
				return false
			}
		}
	}
	return true
}

// Text returns the first text part's content, or "".
func (m *Message) Text() string {
	for _, p := range m.Parts {
		if v, ok := p.(*TextPart); ok {
			return v.Text
		}
	}
	return ""
}

// TextDelta returns the current text delta, or "".
func (m *Message) TextDelta() string {
	for _, p := range m.Parts {
		if v, ok := p.(*TextPart); ok && v.Delta != "" {
			return v.Delta
		}
	}
	return ""
}

// Reasoning returns the first reasoning part's content, or "".
func (m *Message) Reasoning() string {
	for _, p := range m.Parts {
		if v, ok := p.(*ReasoningPart); ok {
			return v.Text
		}
	}
	return ""
}

// ReasoningDelta returns the current reasoning delta, or "".
func (m *Message) ReasoningDelta() string {
	for _, p := range m.Parts {
		if v, ok := p.(*ReasoningPart); ok && v.Delta != "" {
			return v.Delta
		}
	}
	return ""
}

// ToolCalls returns all tool parts in order.
func (m *Message) ToolCalls() []*ToolPart {
	var calls []*ToolPart
	for _, p := range m.Parts {
		if v, ok := p.(*ToolPart); ok {
			calls = append(calls, v)
		}
	}
	return calls
}

// ToolCall returns the tool part with the given call id, or nil.
func (m *Message) ToolCall(toolCallID string) *ToolPart {
	for _, p := range m.Parts {
		if v, ok := p.(*ToolPart); ok && v.ToolCallID == toolCallID {
			return v
		}
	}
	return nil
}

// Hook returns the hook part with the given id, or the first hook part when
// hookID is empty. Returns nil when no hook part matches.
func (m *Message) Hook(hookID string) *HookPart {
	for _, p := range m.Parts {
		if v, ok := p.(*HookPart); ok {
			if hookID == "" || v.HookID == hookID {
				return v
			}
		}
	}
	return nil
}

// StructuredOutput returns the structured output part, or nil.
func (m *Message) StructuredOutput() *StructuredOutputPart {
	for _, p := range m.Parts {
		if v, ok := p.(*StructuredOutputPart); ok {
			return v
		}
	}
	return nil
}

// Clone returns a deep copy of the message. The runtime hands clones to the
// external consumer so later in-place part mutation cannot be observed
// retroactively.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := &Message{ID: m.ID, Role: m.Role, Label: m.Label}
	if m.Usage != nil {
		u := *m.Usage
		c.Usage = &u
	}
	if len(m.Parts) > 0 {
		c.Parts = make([]Part, len(m.Parts))
		for i, p := range m.Parts {
			c.Parts[i] = p.clonePart()
		}
	}
	return c
}
