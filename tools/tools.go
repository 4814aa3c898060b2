// Package tools defines declarative tool definitions: a JSON Schema derived
// from a typed Go arguments struct, a compiled validator for model-supplied
// arguments, and the async callable the runtime invokes. Tools register
// themselves in a process-wide registry at declaration time.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/strandlabs/strand/model"
)

type (
	// Schema is what the model sees: name, description, and the JSON Schema
	// for parameters, plus the declared return type name for documentation.
	Schema struct {
		// Name is the registry and model-visible tool identifier.
		Name string `json:"name"`

		// Description tells the model when to call the tool.
		Description string `json:"description"`

		// ParamSchema is the JSON Schema for the arguments object.
		ParamSchema json.RawMessage `json:"param_schema"`

		// ReturnType names the Go result type.
		ReturnType string `json:"return_type,omitempty"`
	}

	// Tool pairs a schema with an async callable and a compiled validator.
	// Invoke through the runtime (runtime.ExecuteTool) so that checkpoint
	// replay, validation, and message mutation all apply.
	Tool struct {
		schema    Schema
		fn        func(ctx context.Context, args json.RawMessage) (any, error)
		validator *jsonschema.Schema
	}
)

// New builds a tool from a typed async function. The parameter schema is
// derived from P's fields and json tags: fields without omitempty are
// required; optional parameters carry omitempty or a jsonschema default tag.
//
// The runtime is not part of the schema: tools that need the active runtime
// retrieve it from the context (runtime.FromContext), mirroring the
// injected-parameter pattern.
//
//	type DoubleArgs struct {
//	    X int `json:"x"`
//	}
//	double := tools.MustNew("double", "Double a number.",
//	    func(ctx context.Context, args DoubleArgs) (int, error) {
//	        return args.X * 2, nil
//	    })
func New[P, R any](name, description string, fn func(context.Context, P) (R, error)) (*Tool, error) {
	if name == "" {
		return nil, fmt.Errorf("tools: name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("tools: %q function is required", name)
	}
	paramSchema, err := deriveSchema[P]()
	if err != nil {
		return nil, fmt.Errorf("tools: %q parameter schema: %w", name, err)
	}
	validator, err := model.CompileSchema(paramSchema)
	if err != nil {
		return nil, fmt.Errorf("tools: %q validator: %w", name, err)
	}
	var r R
	t := &Tool{
		schema: Schema{
			Name:        name,
			Description: description,
			ParamSchema: paramSchema,
			ReturnType:  typeName(reflect.TypeOf(&r).Elem()),
		},
		validator: validator,
		fn: func(ctx context.Context, args json.RawMessage) (any, error) {
			var p P
			if len(args) > 0 {
				if err := json.Unmarshal(args, &p); err != nil {
					return nil, fmt.Errorf("decode arguments: %w", err)
				}
			}
			return fn(ctx, p)
		},
	}
	Register(t)
	return t, nil
}

// MustNew is New, panicking on declaration errors. Tool declarations are
// typically package-level and a bad schema is a programming error.
func MustNew[P, R any](name, description string, fn func(context.Context, P) (R, error)) *Tool {
	t, err := New(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

// NewRaw builds a tool from a pre-built schema and a raw-JSON callable. Used
// by wrappers that dispatch elsewhere (MCP servers, durable executors) and
// already hold a schema. The schema is compiled for argument validation; an
// empty ParamSchema accepts any arguments.
func NewRaw(schema Schema, fn func(ctx context.Context, args json.RawMessage) (any, error)) (*Tool, error) {
	if schema.Name == "" {
		return nil, fmt.Errorf("tools: name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("tools: %q function is required", schema.Name)
	}
	var validator *jsonschema.Schema
	if len(schema.ParamSchema) > 0 {
		v, err := model.CompileSchema(schema.ParamSchema)
		if err != nil {
			return nil, fmt.Errorf("tools: %q validator: %w", schema.Name, err)
		}
		validator = v
	}
	t := &Tool{schema: schema, fn: fn, validator: validator}
	Register(t)
	return t, nil
}

// Name returns the registry name.
func (t *Tool) Name() string { return t.schema.Name }

// Description returns the model-facing description.
func (t *Tool) Description() string { return t.schema.Description }

// Schema returns the full tool schema.
func (t *Tool) Schema() Schema { return t.schema }

// Definition returns the adapter-facing tool surface.
func (t *Tool) Definition() model.ToolDef {
	return model.ToolDef{
		Name:        t.schema.Name,
		Description: t.schema.Description,
		ParamSchema: t.schema.ParamSchema,
	}
}

// Validate checks a JSON arguments document against the parameter schema.
func (t *Tool) Validate(args []byte) error {
	if t.validator == nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return fmt.Errorf("parse arguments: %w", err)
	}
	return t.validator.Validate(doc)
}

// Call invokes the tool function with raw JSON arguments. Validation is the
// caller's responsibility (the runtime validates before calling).
func (t *Tool) Call(ctx context.Context, args json.RawMessage) (any, error) {
	return t.fn(ctx, args)
}

// deriveSchema reflects P into an inline JSON Schema object without $schema,
// $id, or $ref indirection, the shape model providers expect for tool
// parameters.
func deriveSchema[P any]() (json.RawMessage, error) {
	reflector := &invopop.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	var p P
	schema := reflector.Reflect(&p)
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
	// A property with a default value is optional to the caller.
	if props, ok := m["properties"].(map[string]any); ok {
		if req, ok := m["required"].([]any); ok {
			kept := make([]any, 0, len(req))
			for _, name := range req {
				if p, ok := props[fmt.Sprint(name)].(map[string]any); ok {
					if _, hasDefault := p["default"]; hasDefault {
						continue
					}
				}
				kept = append(kept, name)
			}
			m["required"] = kept
		}
	}
	return json.Marshal(m)
}

func typeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Ptr {
		return "*" + typeName(t.Elem())
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
