// Package hooks implements named suspension points for human-in-the-loop
// workflows. A hook type is declared with a payload struct; the graph calls
// Create to suspend until a payload arrives, and anything holding the hook
// type calls Resolve or Cancel to complete it.
//
// Two modes exist per run. In long-running mode Create blocks on a live
// resolution. In stateless mode (runtime.WithCancelOnHooks) Create returns a
// HookPendingError immediately; the caller persists the checkpoint, collects
// the decision out-of-band, and re-enters with the resolution pre-registered
// via Resolve before the next run. Resolved hooks are recorded in the
// checkpoint so further re-entries replay without any outside state.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/strandlabs/strand/model"
	"github.com/strandlabs/strand/runtime"
)

type (
	// Type is a declared hook type with payload type T. Labels passed to
	// Create are caller-chosen identifiers unique within a run; the same
	// label used on re-entry is how a persisted decision finds its awaiter.
	Type[T any] struct {
		name      string
		schema    json.RawMessage
		validator *jsonschema.Schema
	}

	// PayloadError reports a resolution payload that failed validation
	// against the hook's declared schema. The hook remains pending.
	PayloadError struct {
		// Label is the hook label the payload was meant for.
		Label string

		// Err is the underlying validation failure.
		Err error
	}

	// CreateOption configures a single Create call.
	CreateOption func(*createConfig)

	createConfig struct {
		metadata map[string]any
	}
)

// Pre-registered resolutions: payloads delivered while no run was active,
// consumed by Create at the exact moment of labelling on the next run.
var (
	preMu sync.Mutex
	pre   = make(map[string]map[string]any)
)

// Error implements error.
func (e *PayloadError) Error() string {
	return fmt.Sprintf("hooks: invalid payload for %q: %s", e.Label, e.Err)
}

// Unwrap returns the underlying validation error.
func (e *PayloadError) Unwrap() error { return e.Err }

// WithMetadata attaches context for whoever resolves the hook (typically
// rendered by a UI: the tool being approved, the resource at stake).
func WithMetadata(metadata map[string]any) CreateOption {
	return func(c *createConfig) { c.metadata = metadata }
}

// New declares a hook type named name with payload type T. The payload
// schema is derived from T's fields and json tags and validates every
// resolution.
func New[T any](name string) (*Type[T], error) {
	if name == "" {
		return nil, fmt.Errorf("hooks: type name is required")
	}
	schema, err := deriveSchema[T]()
	if err != nil {
		return nil, fmt.Errorf("hooks: %q payload schema: %w", name, err)
	}
	validator, err := model.CompileSchema(schema)
	if err != nil {
		return nil, fmt.Errorf("hooks: %q validator: %w", name, err)
	}
	return &Type[T]{name: name, schema: schema, validator: validator}, nil
}

// MustNew is New, panicking on declaration errors.
func MustNew[T any](name string) *Type[T] {
	h, err := New[T](name)
	if err != nil {
		panic(err)
	}
	return h
}

// Name returns the declared hook type name.
func (h *Type[T]) Name() string { return h.name }

// Schema returns the payload JSON Schema.
func (h *Type[T]) Schema() json.RawMessage { return h.schema }

// Create registers a suspension point under label and waits for its typed
// payload. Resolution sources, in order:
//
//  1. The run's checkpoint (replay): returns immediately and silently.
//  2. A pre-registered resolution: consumed now, recorded in the checkpoint,
//     and the resolved part is emitted once; no pending part appears.
//  3. A live Resolve (long-running mode): a pending part is emitted and
//     Create blocks. Cancel fails the wait with a HookCancelledError.
//
// In stateless mode an unresolved hook returns a *runtime.HookPendingError
// instead of blocking; propagate it out of the graph.
func (h *Type[T]) Create(ctx context.Context, label string, opts ...CreateOption) (T, error) {
	var zero T
	rt := runtime.FromContext(ctx)
	if rt == nil {
		return zero, runtime.ErrNoRuntime
	}
	var cfg createConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if resolution, ok := rt.ReplayHookResolution(label); ok {
		return decodePayload[T](label, resolution)
	}

	if resolution, ok := takePreRegistered(label); ok {
		if err := h.validate(label, resolution); err != nil {
			return zero, err
		}
		rt.RecordResolvedHook(h.name, label, cfg.metadata, resolution)
		return decodePayload[T](label, resolution)
	}

	resolution, err := rt.AwaitHook(ctx, h.name, label, cfg.metadata)
	if err != nil {
		return zero, err
	}
	return decodePayload[T](label, resolution)
}

// Resolve delivers a payload for label. The payload is validated against the
// declared schema first; on failure the hook stays pending and the error is
// returned to the resolver.
//
// With an active run, an unknown label is an error. With no active run, the
// payload is recorded for pre-registered consumption by the next run.
func (h *Type[T]) Resolve(label string, payload any) error {
	resolution, err := toResolution(payload)
	if err != nil {
		return &PayloadError{Label: label, Err: err}
	}
	if err := h.validate(label, resolution); err != nil {
		return err
	}
	if rt := runtime.Active(); rt != nil {
		return rt.ResolveHook(label, resolution)
	}
	preMu.Lock()
	pre[label] = resolution
	preMu.Unlock()
	return nil
}

// Cancel cancels the pending hook with the given label; its awaiter observes
// a HookCancelledError. Unknown labels are an error.
func (h *Type[T]) Cancel(label, reason string) error {
	rt := runtime.Active()
	if rt == nil {
		return fmt.Errorf("%w: %q", runtime.ErrUnknownHookLabel, label)
	}
	return rt.CancelHook(label, reason)
}

func (h *Type[T]) validate(label string, resolution map[string]any) error {
	// Round-trip through JSON so numbers validate in their wire form.
	data, err := json.Marshal(resolution)
	if err != nil {
		return &PayloadError{Label: label, Err: err}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &PayloadError{Label: label, Err: err}
	}
	if err := h.validator.Validate(doc); err != nil {
		return &PayloadError{Label: label, Err: err}
	}
	return nil
}

func takePreRegistered(label string) (map[string]any, bool) {
	preMu.Lock()
	defer preMu.Unlock()
	resolution, ok := pre[label]
	if ok {
		delete(pre, label)
	}
	return resolution, ok
}

func toResolution(payload any) (map[string]any, error) {
	if m, ok := payload.(map[string]any); ok {
		return maps.Clone(m), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return m, nil
}

func decodePayload[T any](label string, resolution map[string]any) (T, error) {
	var out T
	data, err := json.Marshal(resolution)
	if err != nil {
		return out, &PayloadError{Label: label, Err: err}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, &PayloadError{Label: label, Err: err}
	}
	return out, nil
}

func deriveSchema[T any]() (json.RawMessage, error) {
	reflector := &invopop.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	var t T
	schema := reflector.Reflect(&t)
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	delete(m, "$schema")
	delete(m, "$id")
	delete(m, "version")
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	return json.Marshal(m)
}
