// Package runtime implements the cooperative scheduler at the heart of the
// system. A Run owns two queues: the step queue, fed by the author graph
// submitting producers, and the message queue, fed sideband by streaming
// tools, hooks, and nested producers. The run loop fuses both into the single
// ordered message stream the consumer iterates, while resolving per-step
// futures so the graph can await aggregated results.
//
// Concurrency model: one logical consumer per run. Producers run as
// goroutines in a structured group, but the queues serialise everything the
// consumer observes; ordering follows the order of put and yield operations.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/strandlabs/strand/checkpoint"
	"github.com/strandlabs/strand/model"
	"github.com/strandlabs/strand/telemetry"
)

type (
	// Runtime is the per-run coordinator. It is created by Run and reached
	// from author code via FromContext; it is never serialised.
	Runtime struct {
		steps    *mailbox[stepItem]
		messages *mailbox[*model.Message]

		mu        sync.Mutex
		pending   map[string]*hookWaiter
		order     []string
		stepIndex int

		// cp is the active checkpoint: a deep copy of the restored one,
		// appended to as the run progresses. replaySteps is the number of
		// restored step events; restoredTools and restoredHooks index the
		// restored events for replay lookups.
		cp            *checkpoint.Checkpoint
		replaySteps   int
		restoredTools map[string]any
		restoredHooks map[string]map[string]any

		cancelOnHooks bool

		resMu     sync.Mutex
		resources []resource

		log    telemetry.Logger
		tracer telemetry.Tracer
	}

	// PendingHook describes an unresolved hook surfaced by a stateless run.
	PendingHook struct {
		// HookType is the declared hook type name.
		HookType string `json:"hook_type"`

		// Metadata is the context attached at Create.
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	stepItem struct {
		// fn is nil for the completion sentinel the graph task enqueues when
		// it returns.
		fn     StepFunc
		future chan stepOutcome
	}

	stepOutcome struct {
		result *StreamResult
		err    error
	}

	hookWaiter struct {
		label    string
		hookType string
		metadata map[string]any

		// msgID keeps the pending and resolved emissions on one message id so
		// consumers observe the status transition as a refinement.
		msgID string

		ch chan hookOutcome
	}

	hookOutcome struct {
		resolution map[string]any
		err        error
	}

	resource struct {
		key   string
		value any
		close func(context.Context) error
	}

	ctxKey struct{}
)

var (
	activeMu      sync.Mutex
	activeRuntime *Runtime
)

func newRuntime(cp *checkpoint.Checkpoint, cancelOnHooks bool, log telemetry.Logger, tracer telemetry.Tracer) (*Runtime, error) {
	restored, err := cp.Clone()
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		steps:         newMailbox[stepItem](),
		messages:      newMailbox[*model.Message](),
		pending:       make(map[string]*hookWaiter),
		cp:            restored,
		replaySteps:   len(restored.Steps),
		restoredTools: make(map[string]any, len(restored.Tools)),
		restoredHooks: make(map[string]map[string]any, len(restored.Hooks)),
		cancelOnHooks: cancelOnHooks,
		log:           log,
		tracer:        tracer,
	}
	for _, ev := range restored.Tools {
		rt.restoredTools[ev.ToolCallID] = ev.Result
	}
	for _, ev := range restored.Hooks {
		rt.restoredHooks[ev.Label] = ev.Resolution
	}
	return rt, nil
}

// ContextWithRuntime returns a context carrying the runtime. Run installs it
// for the graph task; tools and nested producers inherit it.
func ContextWithRuntime(ctx context.Context, rt *Runtime) context.Context {
	return context.WithValue(ctx, ctxKey{}, rt)
}

// FromContext returns the runtime carried by the context, or nil.
func FromContext(ctx context.Context) *Runtime {
	rt, _ := ctx.Value(ctxKey{}).(*Runtime)
	return rt
}

// Active returns the runtime of the run currently executing in this process,
// or nil. It exists for resolvers that live outside the graph's call chain
// (the consumer loop, an HTTP handler collecting an operator decision).
func Active() *Runtime {
	activeMu.Lock()
	defer activeMu.Unlock()
	return activeRuntime
}

func setActive(rt *Runtime) (prev *Runtime) {
	activeMu.Lock()
	defer activeMu.Unlock()
	prev = activeRuntime
	activeRuntime = rt
	return prev
}

// PutMessage enqueues a sideband message for the consumer. Streaming tools
// and hook emissions use this to interleave with step output.
func (rt *Runtime) PutMessage(msg *model.Message) {
	rt.messages.put(msg)
}

// signalDone tells the run loop no more steps will be submitted.
func (rt *Runtime) signalDone() {
	rt.steps.put(stepItem{})
}

// Checkpoint returns the active checkpoint. Read-only for replayed events,
// append-only for new ones.
func (rt *Runtime) Checkpoint() *checkpoint.Checkpoint {
	return rt.cp
}

func (rt *Runtime) tryReplayStep() (*StreamResult, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.stepIndex >= rt.replaySteps {
		return nil, false
	}
	ev := rt.cp.Steps[rt.stepIndex]
	rt.stepIndex++
	return &StreamResult{Messages: ev.Messages}, true
}

func (rt *Runtime) recordStep(res *StreamResult) {
	rt.mu.Lock()
	rt.cp.Steps = append(rt.cp.Steps, checkpoint.StepEvent{Index: rt.stepIndex, Messages: res.Messages})
	rt.stepIndex++
	rt.mu.Unlock()
}

func (rt *Runtime) replayToolResult(toolCallID string) (any, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	res, ok := rt.restoredTools[toolCallID]
	return res, ok
}

func (rt *Runtime) recordTool(toolCallID string, result any) {
	rt.mu.Lock()
	rt.cp.Tools = append(rt.cp.Tools, checkpoint.ToolEvent{ToolCallID: toolCallID, Result: result})
	rt.mu.Unlock()
}

// ReplayHookResolution returns the restored resolution for a hook label, if
// the checkpoint recorded one. Hook.Create consults this before anything
// else so replayed hooks yield their value without outside state.
func (rt *Runtime) ReplayHookResolution(label string) (map[string]any, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	res, ok := rt.restoredHooks[label]
	return res, ok
}

// AwaitHook registers a pending hook and emits its pending part. In
// long-running mode it blocks until the hook is resolved or cancelled; in
// stateless mode it returns a HookPendingError immediately, leaving the hook
// registered for RunResult.PendingHooks.
//
// The waiter is registered before the pending message is emitted so a
// resolution racing the emission cannot be lost.
func (rt *Runtime) AwaitHook(ctx context.Context, hookType, label string, metadata map[string]any) (map[string]any, error) {
	rt.mu.Lock()
	if _, dup := rt.pending[label]; dup {
		rt.mu.Unlock()
		return nil, fmt.Errorf("runtime: hook label %q already pending", label)
	}
	w := &hookWaiter{
		label:    label,
		hookType: hookType,
		metadata: metadata,
		msgID:    model.NewID(),
		ch:       make(chan hookOutcome, 1),
	}
	rt.pending[label] = w
	rt.order = append(rt.order, label)
	rt.mu.Unlock()

	rt.log.Debug(ctx, "hook pending", "hook_type", hookType, "label", label)
	rt.PutMessage(hookMessage(w, model.HookStatusPending, nil))

	if rt.cancelOnHooks {
		return nil, &HookPendingError{Label: label, HookType: hookType, Metadata: metadata}
	}

	select {
	case out := <-w.ch:
		return out.resolution, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolveHook completes a pending hook with a validated resolution, emits the
// resolved part, and records the HookEvent. Payload validation happens in the
// hook type before this is called.
func (rt *Runtime) ResolveHook(label string, resolution map[string]any) error {
	rt.mu.Lock()
	w, ok := rt.pending[label]
	if !ok {
		rt.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownHookLabel, label)
	}
	delete(rt.pending, label)
	rt.cp.Hooks = append(rt.cp.Hooks, checkpoint.HookEvent{Label: label, Resolution: resolution})
	rt.mu.Unlock()

	rt.PutMessage(hookMessage(w, model.HookStatusResolved, resolution))
	w.ch <- hookOutcome{resolution: resolution}
	return nil
}

// CancelHook cancels a pending hook's awaiter.
func (rt *Runtime) CancelHook(label, reason string) error {
	rt.mu.Lock()
	w, ok := rt.pending[label]
	if !ok {
		rt.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownHookLabel, label)
	}
	delete(rt.pending, label)
	rt.mu.Unlock()

	rt.PutMessage(hookMessage(w, model.HookStatusCancelled, nil))
	w.ch <- hookOutcome{err: &HookCancelledError{Label: label, Reason: reason}}
	return nil
}

// RecordResolvedHook records a HookEvent and emits a resolved part for a hook
// that never went pending (a pre-registered resolution consumed at Create).
func (rt *Runtime) RecordResolvedHook(hookType, label string, metadata, resolution map[string]any) {
	rt.mu.Lock()
	rt.cp.Hooks = append(rt.cp.Hooks, checkpoint.HookEvent{Label: label, Resolution: resolution})
	rt.mu.Unlock()

	w := &hookWaiter{label: label, hookType: hookType, metadata: metadata, msgID: model.NewID()}
	rt.PutMessage(hookMessage(w, model.HookStatusResolved, resolution))
}

// CancelOnHooks reports whether the run is in stateless mode.
func (rt *Runtime) CancelOnHooks() bool {
	return rt.cancelOnHooks
}

// PendingHooks returns the currently unresolved hooks keyed by label. The map
// carries no creation order.
func (rt *Runtime) PendingHooks() map[string]PendingHook {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make(map[string]PendingHook, len(rt.pending))
	for _, label := range rt.order {
		if w, ok := rt.pending[label]; ok {
			out[label] = PendingHook{HookType: w.hookType, Metadata: w.metadata}
		}
	}
	return out
}

// SetResource stores a per-run resource under a key, with an optional closer
// invoked (in reverse registration order) when the run exits. Used for
// connection pools whose lifecycle is tied to the run.
func (rt *Runtime) SetResource(key string, value any, closer func(context.Context) error) {
	rt.resMu.Lock()
	rt.resources = append(rt.resources, resource{key: key, value: value, close: closer})
	rt.resMu.Unlock()
}

// Resource returns the most recently stored resource for the key.
func (rt *Runtime) Resource(key string) (any, bool) {
	rt.resMu.Lock()
	defer rt.resMu.Unlock()
	for i := len(rt.resources) - 1; i >= 0; i-- {
		if rt.resources[i].key == key {
			return rt.resources[i].value, true
		}
	}
	return nil, false
}

func (rt *Runtime) closeResources(ctx context.Context) {
	rt.resMu.Lock()
	resources := rt.resources
	rt.resources = nil
	rt.resMu.Unlock()
	for i := len(resources) - 1; i >= 0; i-- {
		if resources[i].close == nil {
			continue
		}
		if err := resources[i].close(ctx); err != nil {
			rt.log.Warn(ctx, "closing run resource failed", "key", resources[i].key, "err", err)
		}
	}
}

func hookMessage(w *hookWaiter, status model.HookStatus, resolution map[string]any) *model.Message {
	return &model.Message{
		ID:   w.msgID,
		Role: model.RoleAssistant,
		Parts: []model.Part{&model.HookPart{
			HookID:     w.label,
			HookType:   w.hookType,
			Status:     status,
			Metadata:   w.metadata,
			Resolution: resolution,
		}},
	}
}
