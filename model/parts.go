// Package model defines the provider-agnostic message types used by the
// runtime, adapters, and author graphs. It models messages as typed parts
// (text, reasoning, tool calls, hooks, structured output) with explicit
// streaming state, plus the stream-event alphabet adapters produce and the
// handler that folds events into message snapshots.
package model

import "maps"

type (
	// Part is a marker interface implemented by all message parts. Concrete
	// implementations capture assistant text, provider-issued reasoning, tool
	// invocations, hook suspension points, and validated structured output.
	//
	// Parts are always held by pointer inside a Message so that in-place
	// updates (a tool result arriving, a hook resolving) are reflected by the
	// next emitted snapshot. Consumers receive deep copies via Message.Clone.
	Part interface {
		isPart()

		// clonePart returns a deep copy of the part.
		clonePart() Part
	}

	// PartState tracks the streaming lifecycle of a part. The zero value
	// means the part was restored from storage and was never observed live.
	PartState string

	// ToolStatus tracks the execution lifecycle of a tool call.
	ToolStatus string

	// HookStatus tracks the lifecycle of a hook suspension point.
	HookStatus string

	// TextPart is assistant free text.
	TextPart struct {
		// Text is the accumulated content for this part.
		Text string

		// State is the streaming state of the part.
		State PartState

		// Delta is the most recent fragment appended to Text. It is non-empty
		// only while the part is streaming and this part produced the latest
		// event.
		Delta string
	}

	// ReasoningPart is hidden chain-of-thought content. Some providers attach
	// a signature that must be preserved and echoed back in multi-turn
	// conversations; it is opaque to the runtime.
	ReasoningPart struct {
		// Text is the accumulated reasoning content.
		Text string

		// Signature is the provider-issued verifier for Text when present.
		Signature string

		// State is the streaming state of the part.
		State PartState

		// Delta is the most recent reasoning fragment. Non-empty only while
		// streaming.
		Delta string
	}

	// ToolPart is a model-requested tool invocation. The part is mutated in
	// place as execution progresses: arguments accumulate while streaming and
	// the result (or error) is attached when the call completes.
	ToolPart struct {
		// ToolCallID uniquely identifies this invocation within the message.
		ToolCallID string

		// ToolName is the registry name of the requested tool.
		ToolName string

		// ToolArgs is the accumulated JSON arguments string.
		ToolArgs string

		// Status is pending until a result or error is attached.
		Status ToolStatus

		// Result is the tool output on success, or a descriptive message when
		// Status is ToolStatusError.
		Result any

		// State is the streaming state of the arguments.
		State PartState

		// ArgsDelta is the most recent arguments fragment. Non-empty only
		// while the arguments are streaming.
		ArgsDelta string
	}

	// HookPart marks a hook suspension point in the message stream. A pending
	// part is emitted when the graph reaches an unresolved hook; a second
	// emission with the same hook id reports the resolution or cancellation.
	HookPart struct {
		// HookID identifies the suspension point. It equals the hook label so
		// resolutions can be correlated across process re-entries.
		HookID string

		// HookType is the declared hook type name.
		HookType string

		// Status is pending, resolved, or cancelled.
		Status HookStatus

		// Metadata carries caller-provided context for whoever resolves the
		// hook (UI, operator, policy engine).
		Metadata map[string]any

		// Resolution is the validated payload once the hook is resolved.
		Resolution map[string]any
	}

	// StructuredOutputPart carries a validated object produced by the
	// structured-output path. It is appended to the final snapshot after the
	// text has been validated against the requested schema.
	StructuredOutputPart struct {
		// Data is the decoded JSON value.
		Data any

		// OutputTypeName names the requested output type.
		OutputTypeName string
	}
)

const (
	// PartStateStreaming marks a part that is still receiving deltas.
	PartStateStreaming PartState = "streaming"

	// PartStateDone marks a part whose content is final.
	PartStateDone PartState = "done"
)

const (
	// ToolStatusPending marks a tool call awaiting execution.
	ToolStatusPending ToolStatus = "pending"

	// ToolStatusResult marks a tool call that completed successfully.
	ToolStatusResult ToolStatus = "result"

	// ToolStatusError marks a tool call that failed validation or execution.
	ToolStatusError ToolStatus = "error"
)

const (
	// HookStatusPending marks a hook awaiting resolution.
	HookStatusPending HookStatus = "pending"

	// HookStatusResolved marks a hook that received a payload.
	HookStatusResolved HookStatus = "resolved"

	// HookStatusCancelled marks a hook whose awaiter was cancelled.
	HookStatusCancelled HookStatus = "cancelled"
)

// SetResult attaches a successful result and marks the call completed.
func (p *ToolPart) SetResult(result any) {
	p.Status = ToolStatusResult
	p.Result = result
	p.State = PartStateDone
	p.ArgsDelta = ""
}

// SetError attaches a failure message and marks the call completed.
func (p *ToolPart) SetError(message string) {
	p.Status = ToolStatusError
	p.Result = message
	p.State = PartStateDone
	p.ArgsDelta = ""
}

func (*TextPart) isPart()             {}
func (*ReasoningPart) isPart()        {}
func (*ToolPart) isPart()             {}
func (*HookPart) isPart()             {}
func (*StructuredOutputPart) isPart() {}

func (p *TextPart) clonePart() Part {
	c := *p
	return &c
}

func (p *ReasoningPart) clonePart() Part {
	c := *p
	return &c
}

func (p *ToolPart) clonePart() Part {
	c := *p
	c.Result = cloneValue(p.Result)
	return &c
}

func (p *HookPart) clonePart() Part {
	c := *p
	c.Metadata = maps.Clone(p.Metadata)
	c.Resolution = maps.Clone(p.Resolution)
	return &c
}

func (p *StructuredOutputPart) clonePart() Part {
	c := *p
	c.Data = cloneValue(p.Data)
	return &c
}

// cloneValue deep-copies the JSON-compatible subset of values (maps, slices,
// scalars). Other values are returned as-is; tool results that are plain Go
// structs are treated as immutable by convention.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
