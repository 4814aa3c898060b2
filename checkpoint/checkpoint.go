// Package checkpoint defines the serialisable record of completed steps, tool
// executions, and resolved hooks for a run. A checkpoint is sufficient to
// replay an agent graph past every recorded event without re-executing
// external effects: steps replay positionally, tools by call id, hooks by
// label.
//
// Checkpoints are opaque to the runtime beyond these semantics; callers
// persist them wherever they like (the runtime never touches storage).
package checkpoint

import (
	"encoding/json"
	"fmt"

	"github.com/strandlabs/strand/model"
)

type (
	// StepEvent records a completed step's final message output. Steps are
	// indexed by their dynamic invocation order within the run; replay is
	// positional.
	StepEvent struct {
		// Index is the zero-based position of the step in the run.
		Index int `json:"index"`

		// Messages are the messages the step yielded, in order. The recorded
		// messages reflect their state at serialisation time, so in-place
		// tool-part mutations that happened after the step completed are
		// included.
		Messages []*model.Message `json:"messages"`
	}

	// ToolEvent records a successful tool execution. Failed executions are
	// not recorded: errors are embedded in the conversation for the model to
	// react to and must re-execute on replay.
	ToolEvent struct {
		// ToolCallID correlates the event with the ToolPart that requested it.
		ToolCallID string `json:"tool_call_id"`

		// Result is the JSON-serialisable tool output.
		Result any `json:"result"`
	}

	// HookEvent records a resolved hook.
	HookEvent struct {
		// Label is the caller-chosen hook label, unique within a run.
		Label string `json:"label"`

		// Resolution is the validated payload the hook resolved with.
		Resolution map[string]any `json:"resolution"`
	}

	// Checkpoint is the append-only record for a run. Ordering of each event
	// list is preserved across serialisation.
	Checkpoint struct {
		Steps []StepEvent `json:"steps"`
		Tools []ToolEvent `json:"tools"`
		Hooks []HookEvent `json:"hooks"`
	}
)

// New returns an empty checkpoint.
func New() *Checkpoint {
	return &Checkpoint{}
}

// Clone returns a deep copy via the JSON wire shape. Cloning decouples a
// restored checkpoint from the run that appends to it; note that non-JSON
// native values (e.g. int tool results) round-trip to their JSON equivalents,
// which is the documented representation for everything a checkpoint holds.
func (c *Checkpoint) Clone() (*Checkpoint, error) {
	if c == nil {
		return New(), nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: clone marshal: %w", err)
	}
	var out Checkpoint
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("checkpoint: clone unmarshal: %w", err)
	}
	return &out, nil
}

// ToolResult returns the recorded result for a tool call id.
func (c *Checkpoint) ToolResult(toolCallID string) (any, bool) {
	for _, ev := range c.Tools {
		if ev.ToolCallID == toolCallID {
			return ev.Result, true
		}
	}
	return nil, false
}

// HookResolution returns the recorded resolution for a hook label.
func (c *Checkpoint) HookResolution(label string) (map[string]any, bool) {
	for _, ev := range c.Hooks {
		if ev.Label == label {
			return ev.Resolution, true
		}
	}
	return nil, false
}
