package model

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type blockPlan struct {
	Kind      int
	Fragments []string
}

// TestHandlerSnapshotRefinementProperty verifies the core stream invariant:
// for any well-formed event sequence, snapshots have non-decreasing part
// counts, every part's state transitions monotonically from streaming to
// done, accumulated content equals the concatenation of its fragments, and
// the final snapshot reports done.
func TestHandlerSnapshotRefinementProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genPlan := gen.Struct(reflect.TypeOf(blockPlan{}), map[string]gopter.Gen{
		"Kind":      gen.IntRange(0, 2),
		"Fragments": gen.SliceOf(gen.AlphaString()),
	})

	properties.Property("snapshots refine monotonically", prop.ForAll(
		func(plans []blockPlan) bool {
			events := planEvents(plans)
			h := NewHandler()

			prevParts := 0
			prevStates := map[int]PartState{}
			var last *Message
			for _, ev := range events {
				msg, err := h.HandleEvent(ev)
				if err != nil {
					return false
				}
				if len(msg.Parts) < prevParts {
					return false
				}
				prevParts = len(msg.Parts)
				for i, p := range msg.Parts {
					state := partState(p)
					if prev, ok := prevStates[i]; ok {
						if prev == PartStateDone && state != PartStateDone {
							return false
						}
					}
					prevStates[i] = state
				}
				last = msg
			}
			if last == nil || !last.IsDone() {
				return false
			}
			return contentMatches(last, plans)
		},
		gen.SliceOf(genPlan),
	))

	properties.TestingRun(t)
}

// planEvents serialises block plans into a well-formed sequence: blocks of
// the same kind never overlap, and the sequence terminates with MessageDone.
func planEvents(plans []blockPlan) []StreamEvent {
	var events []StreamEvent
	for i, plan := range plans {
		id := fmt.Sprintf("b%d", i)
		switch plan.Kind {
		case 0:
			events = append(events, TextStart{BlockID: id})
			for _, f := range plan.Fragments {
				events = append(events, TextDelta{BlockID: id, Delta: f})
			}
			events = append(events, TextEnd{BlockID: id})
		case 1:
			events = append(events, ReasoningStart{BlockID: id})
			for _, f := range plan.Fragments {
				events = append(events, ReasoningDelta{BlockID: id, Delta: f})
			}
			events = append(events, ReasoningEnd{BlockID: id})
		default:
			events = append(events, ToolStart{ToolCallID: id, ToolName: "tool"})
			for _, f := range plan.Fragments {
				events = append(events, ToolArgsDelta{ToolCallID: id, Delta: f})
			}
			events = append(events, ToolEnd{ToolCallID: id})
		}
	}
	return append(events, MessageDone{})
}

func partState(p Part) PartState {
	switch v := p.(type) {
	case *TextPart:
		return v.State
	case *ReasoningPart:
		return v.State
	case *ToolPart:
		return v.State
	default:
		return PartStateDone
	}
}

func contentMatches(msg *Message, plans []blockPlan) bool {
	if len(msg.Parts) != len(plans) {
		return false
	}
	for i, plan := range plans {
		want := strings.Join(plan.Fragments, "")
		switch v := msg.Parts[i].(type) {
		case *TextPart:
			if plan.Kind != 0 || v.Text != want {
				return false
			}
		case *ReasoningPart:
			if plan.Kind != 1 || v.Text != want {
				return false
			}
		case *ToolPart:
			if plan.Kind != 2 || v.ToolArgs != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}
