package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherArgs struct {
	City  string `json:"city"`
	Units string `json:"units,omitempty"`
}

func TestNewDerivesSchema(t *testing.T) {
	tool, err := New("get_weather", "Get current weather for a city.",
		func(_ context.Context, args weatherArgs) (string, error) {
			return "sunny in " + args.City, nil
		})
	require.NoError(t, err)
	t.Cleanup(func() { Unregister("get_weather") })

	assert.Equal(t, "get_weather", tool.Name())
	assert.Equal(t, "Get current weather for a city.", tool.Description())
	assert.Equal(t, "string", tool.Schema().ReturnType)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(tool.Schema().ParamSchema, &schema))
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "city")
	assert.Contains(t, props, "units")

	// Fields without omitempty are required; optional ones are not.
	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Contains(t, required, "city")
	assert.NotContains(t, required, "units")

	assert.NotContains(t, schema, "$schema")
	assert.NotContains(t, schema, "$id")
}

func TestToolValidate(t *testing.T) {
	tool := MustNew("validate_me", "Validation target.",
		func(_ context.Context, args weatherArgs) (string, error) {
			return args.City, nil
		})
	t.Cleanup(func() { Unregister("validate_me") })

	assert.NoError(t, tool.Validate([]byte(`{"city": "Oslo"}`)))
	assert.NoError(t, tool.Validate([]byte(`{"city": "Oslo", "units": "celsius"}`)))
	assert.Error(t, tool.Validate([]byte(`{}`)), "missing required field")
	assert.Error(t, tool.Validate([]byte(`{"city": 42}`)), "wrong type")
	assert.Error(t, tool.Validate([]byte(`not json`)))
}

func TestToolCallDecodesArguments(t *testing.T) {
	tool := MustNew("echo_city", "Echo.",
		func(_ context.Context, args weatherArgs) (string, error) {
			return args.City, nil
		})
	t.Cleanup(func() { Unregister("echo_city") })

	result, err := tool.Call(context.Background(), json.RawMessage(`{"city": "Berlin"}`))
	require.NoError(t, err)
	assert.Equal(t, "Berlin", result)
}

func TestToolCallPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	tool := MustNew("failing", "Always fails.",
		func(_ context.Context, _ struct{}) (string, error) {
			return "", boom
		})
	t.Cleanup(func() { Unregister("failing") })

	_, err := tool.Call(context.Background(), json.RawMessage(`{}`))
	require.ErrorIs(t, err, boom)
}

func TestRegistryReplaceOnCollision(t *testing.T) {
	first := MustNew("collide", "First registration.",
		func(_ context.Context, _ struct{}) (string, error) {
			return "first", nil
		})
	t.Cleanup(func() { Unregister("collide") })

	// The durable-wrapper pattern: a second registration with the same name
	// replaces the first while keeping the model-visible schema.
	wrapper, err := NewRaw(first.Schema(), func(context.Context, json.RawMessage) (any, error) {
		return "wrapped", nil
	})
	require.NoError(t, err)

	got, ok := Lookup("collide")
	require.True(t, ok)
	assert.Same(t, wrapper, got)

	result, err := got.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "wrapped", result)
}

func TestDefinitions(t *testing.T) {
	a := MustNew("def_a", "A.", func(_ context.Context, _ struct{}) (int, error) { return 1, nil })
	b := MustNew("def_b", "B.", func(_ context.Context, _ struct{}) (int, error) { return 2, nil })
	t.Cleanup(func() {
		Unregister("def_a")
		Unregister("def_b")
	})

	defs := Definitions(a, b)
	require.Len(t, defs, 2)
	assert.Equal(t, "def_a", defs[0].Name)
	assert.Equal(t, "A.", defs[0].Description)
	assert.NotEmpty(t, defs[0].ParamSchema)
	assert.Equal(t, "def_b", defs[1].Name)
}
