package hooks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type confirmPayload struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

func TestNewDerivesPayloadSchema(t *testing.T) {
	h, err := New[confirmPayload]("Confirmation")
	require.NoError(t, err)
	assert.Equal(t, "Confirmation", h.Name())

	var schema map[string]any
	require.NoError(t, json.Unmarshal(h.Schema(), &schema))
	assert.Equal(t, "object", schema["type"])

	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "approved")
	assert.Contains(t, props, "reason")

	required := schema["required"].([]any)
	assert.Contains(t, required, "approved")
	assert.NotContains(t, required, "reason")
}

func TestResolveValidatesBeforeDelivery(t *testing.T) {
	h := MustNew[confirmPayload]("StrictConfirmation")

	var perr *PayloadError
	err := h.Resolve("some-label", map[string]any{"approved": "not-a-bool"})
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "some-label", perr.Label)

	err = h.Resolve("some-label", map[string]any{})
	require.ErrorAs(t, err, &perr, "missing required field is rejected")

	// Invalid payloads must not be pre-registered.
	_, ok := takePreRegistered("some-label")
	assert.False(t, ok)
}

func TestResolveWithoutRuntimePreRegisters(t *testing.T) {
	h := MustNew[confirmPayload]("OfflineConfirmation")

	require.NoError(t, h.Resolve("offline-1", confirmPayload{Approved: true, Reason: "ok"}))

	resolution, ok := takePreRegistered("offline-1")
	require.True(t, ok)
	assert.Equal(t, true, resolution["approved"])
	assert.Equal(t, "ok", resolution["reason"])

	// Consumed exactly once.
	_, ok = takePreRegistered("offline-1")
	assert.False(t, ok)
}

func TestResolveRejectsNonObjectPayload(t *testing.T) {
	h := MustNew[confirmPayload]("ScalarConfirmation")

	var perr *PayloadError
	err := h.Resolve("x", 42)
	require.ErrorAs(t, err, &perr)
	assert.ErrorContains(t, err, "JSON object")
}

func TestDecodePayloadTypes(t *testing.T) {
	payload, err := decodePayload[confirmPayload]("l", map[string]any{"approved": true, "reason": "fine"})
	require.NoError(t, err)
	assert.True(t, payload.Approved)
	assert.Equal(t, "fine", payload.Reason)
}
