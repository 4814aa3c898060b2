package runtime

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRuntime indicates a step, tool execution, or hook was reached
	// outside an active Run.
	ErrNoRuntime = errors.New("runtime: no active runtime in context (must be called within Run)")

	// ErrToolNotFound indicates the model requested a tool that is not in the
	// registry. This aborts the graph: there is no result to embed in the
	// conversation.
	ErrToolNotFound = errors.New("runtime: tool not found")

	// ErrUnknownHookLabel indicates Resolve or Cancel named a label with no
	// pending hook.
	ErrUnknownHookLabel = errors.New("runtime: no pending hook")
)

type (
	// HookPendingError reports that the graph reached an unresolved hook in
	// stateless mode. Run absorbs it: the run completes normally with the
	// hook recorded in RunResult.PendingHooks, ready for external resolution
	// and re-entry.
	HookPendingError struct {
		// Label is the hook label awaiting resolution.
		Label string

		// HookType is the declared hook type name.
		HookType string

		// Metadata is the caller-provided context attached at Create.
		Metadata map[string]any
	}

	// HookCancelledError reports that a pending hook's awaiter was cancelled
	// via Cancel.
	HookCancelledError struct {
		// Label is the cancelled hook's label.
		Label string

		// Reason is the optional cancellation reason.
		Reason string
	}
)

// Error implements error.
func (e *HookPendingError) Error() string {
	return fmt.Sprintf("hook pending: %s:%s", e.HookType, e.Label)
}

// Error implements error.
func (e *HookCancelledError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("hook %q cancelled", e.Label)
	}
	return fmt.Sprintf("hook %q cancelled: %s", e.Label, e.Reason)
}
