package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Part kind values used as the wire discriminator for message parts.
const (
	kindText             = "text"
	kindReasoning        = "reasoning"
	kindTool             = "tool"
	kindHook             = "hook"
	kindStructuredOutput = "structured_output"
)

type (
	messageWire struct {
		ID    string            `json:"id"`
		Role  Role              `json:"role"`
		Parts []json.RawMessage `json:"parts"`
		Label string            `json:"label,omitempty"`
		Usage *Usage            `json:"usage,omitempty"`
	}

	textWire struct {
		Type  string    `json:"type"`
		Text  string    `json:"text"`
		State PartState `json:"state,omitempty"`
		Delta string    `json:"delta,omitempty"`
	}

	reasoningWire struct {
		Type      string    `json:"type"`
		Text      string    `json:"text"`
		Signature string    `json:"signature,omitempty"`
		State     PartState `json:"state,omitempty"`
		Delta     string    `json:"delta,omitempty"`
	}

	toolWire struct {
		Type       string     `json:"type"`
		ToolCallID string     `json:"tool_call_id"`
		ToolName   string     `json:"tool_name"`
		ToolArgs   string     `json:"tool_args"`
		Status     ToolStatus `json:"status"`
		Result     any        `json:"result,omitempty"`
		State      PartState  `json:"state,omitempty"`
		ArgsDelta  string     `json:"args_delta,omitempty"`
	}

	hookWire struct {
		Type       string         `json:"type"`
		HookID     string         `json:"hook_id"`
		HookType   string         `json:"hook_type"`
		Status     HookStatus     `json:"status"`
		Metadata   map[string]any `json:"metadata,omitempty"`
		Resolution map[string]any `json:"resolution,omitempty"`
	}

	structuredOutputWire struct {
		Type           string `json:"type"`
		Data           any    `json:"data"`
		OutputTypeName string `json:"output_type_name"`
	}
)

// MarshalJSON encodes the message with an explicit type discriminator per
// part so round-trips through JSON do not lose concrete part types.
func (m Message) MarshalJSON() ([]byte, error) {
	wire := messageWire{ID: m.ID, Role: m.Role, Label: m.Label, Usage: m.Usage}
	if len(m.Parts) > 0 {
		wire.Parts = make([]json.RawMessage, 0, len(m.Parts))
		for i, p := range m.Parts {
			raw, err := encodePart(p)
			if err != nil {
				return nil, fmt.Errorf("encode parts[%d]: %w", i, err)
			}
			wire.Parts = append(wire.Parts, raw)
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the message, materializing concrete part types from
// their discriminators. Streaming state decodes to its zero (absent) value
// when the field is missing, which is how restored messages are marked.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.ID = wire.ID
	m.Role = wire.Role
	m.Label = wire.Label
	m.Usage = wire.Usage
	m.Parts = nil
	if len(wire.Parts) == 0 {
		return nil
	}
	m.Parts = make([]Part, 0, len(wire.Parts))
	for i, raw := range wire.Parts {
		p, err := decodePart(raw)
		if err != nil {
			return fmt.Errorf("decode parts[%d]: %w", i, err)
		}
		m.Parts = append(m.Parts, p)
	}
	return nil
}

func encodePart(p Part) (json.RawMessage, error) {
	switch v := p.(type) {
	case *TextPart:
		return json.Marshal(textWire{Type: kindText, Text: v.Text, State: v.State, Delta: v.Delta})
	case *ReasoningPart:
		return json.Marshal(reasoningWire{
			Type:      kindReasoning,
			Text:      v.Text,
			Signature: v.Signature,
			State:     v.State,
			Delta:     v.Delta,
		})
	case *ToolPart:
		return json.Marshal(toolWire{
			Type:       kindTool,
			ToolCallID: v.ToolCallID,
			ToolName:   v.ToolName,
			ToolArgs:   v.ToolArgs,
			Status:     v.Status,
			Result:     v.Result,
			State:      v.State,
			ArgsDelta:  v.ArgsDelta,
		})
	case *HookPart:
		return json.Marshal(hookWire{
			Type:       kindHook,
			HookID:     v.HookID,
			HookType:   v.HookType,
			Status:     v.Status,
			Metadata:   v.Metadata,
			Resolution: v.Resolution,
		})
	case *StructuredOutputPart:
		return json.Marshal(structuredOutputWire{
			Type:           kindStructuredOutput,
			Data:           v.Data,
			OutputTypeName: v.OutputTypeName,
		})
	default:
		return nil, fmt.Errorf("unknown part type %T", p)
	}
}

func decodePart(raw json.RawMessage) (Part, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode part discriminator: %w", err)
	}
	switch probe.Type {
	case kindText:
		var w textWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode text part: %w", err)
		}
		return &TextPart{Text: w.Text, State: w.State, Delta: w.Delta}, nil
	case kindReasoning:
		var w reasoningWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode reasoning part: %w", err)
		}
		return &ReasoningPart{Text: w.Text, Signature: w.Signature, State: w.State, Delta: w.Delta}, nil
	case kindTool:
		var w toolWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode tool part: %w", err)
		}
		if w.ToolCallID == "" {
			return nil, errors.New("tool part requires tool_call_id")
		}
		status := w.Status
		if status == "" {
			status = ToolStatusPending
		}
		return &ToolPart{
			ToolCallID: w.ToolCallID,
			ToolName:   w.ToolName,
			ToolArgs:   w.ToolArgs,
			Status:     status,
			Result:     w.Result,
			State:      w.State,
			ArgsDelta:  w.ArgsDelta,
		}, nil
	case kindHook:
		var w hookWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode hook part: %w", err)
		}
		if w.HookID == "" {
			return nil, errors.New("hook part requires hook_id")
		}
		return &HookPart{
			HookID:     w.HookID,
			HookType:   w.HookType,
			Status:     w.Status,
			Metadata:   w.Metadata,
			Resolution: w.Resolution,
		}, nil
	case kindStructuredOutput:
		var w structuredOutputWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode structured output part: %w", err)
		}
		return &StructuredOutputPart{Data: w.Data, OutputTypeName: w.OutputTypeName}, nil
	case "":
		return nil, errors.New("part missing type discriminator")
	default:
		return nil, fmt.Errorf("unknown part kind %q", probe.Type)
	}
}
