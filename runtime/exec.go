package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/strandlabs/strand/model"
	"github.com/strandlabs/strand/tools"
)

// ExecuteTool runs a pending tool call from the registry and mutates the
// owning message's ToolPart in place so the next emitted snapshot reflects
// completion. msg may be nil when the caller holds only the part.
//
// Failure policy: argument validation failures and tool execution errors are
// captured on the part (status error) and embedded in the conversation for
// the model to react to; the graph continues. An unregistered tool aborts the
// graph. Successful executions are recorded in the checkpoint and replayed by
// tool_call_id on re-entry without re-invoking the tool.
func ExecuteTool(ctx context.Context, call *model.ToolPart, msg *model.Message) (any, error) {
	rt := FromContext(ctx)
	if rt == nil {
		return nil, ErrNoRuntime
	}

	if result, ok := rt.replayToolResult(call.ToolCallID); ok {
		rt.log.Debug(ctx, "tool replayed from checkpoint", "tool", call.ToolName, "tool_call_id", call.ToolCallID)
		applyResult(call, msg, result)
		return result, nil
	}

	t, ok := tools.Lookup(call.ToolName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, call.ToolName)
	}

	args := call.ToolArgs
	if args == "" {
		args = "{}"
	}
	if err := t.Validate([]byte(args)); err != nil {
		rt.log.Warn(ctx, "tool arguments rejected", "tool", call.ToolName, "tool_call_id", call.ToolCallID, "err", err)
		applyError(call, msg, fmt.Sprintf("invalid arguments: %s", err))
		return nil, nil
	}

	tctx, span := rt.tracer.StartSpan(ctx, "strand.tool", "tool", call.ToolName, "tool_call_id", call.ToolCallID)
	rt.log.Debug(ctx, "executing tool", "tool", call.ToolName, "tool_call_id", call.ToolCallID)
	result, err := t.Call(tctx, json.RawMessage(args))
	if err != nil {
		span.RecordError(err)
		span.End()
		rt.log.Warn(ctx, "tool execution failed", "tool", call.ToolName, "tool_call_id", call.ToolCallID, "err", err)
		applyError(call, msg, err.Error())
		return nil, nil
	}
	span.End()

	applyResult(call, msg, result)
	rt.recordTool(call.ToolCallID, result)
	return result, nil
}

func applyResult(call *model.ToolPart, msg *model.Message, result any) {
	call.SetResult(result)
	if part := matchingPart(call, msg); part != nil {
		part.SetResult(result)
	}
}

func applyError(call *model.ToolPart, msg *model.Message, message string) {
	call.SetError(message)
	if part := matchingPart(call, msg); part != nil {
		part.SetError(message)
	}
}

// matchingPart finds the message's own part for the call when the caller
// passed a part that is not aliased into the message.
func matchingPart(call *model.ToolPart, msg *model.Message) *model.ToolPart {
	if msg == nil {
		return nil
	}
	part := msg.ToolCall(call.ToolCallID)
	if part == nil || part == call {
		return nil
	}
	return part
}
