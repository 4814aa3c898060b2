package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlabs/strand/model"
)

func TestEncodeMessagesSystemAndRoles(t *testing.T) {
	msgs := model.MakeMessages("be brief", "hello")

	conversation, system, err := encodeMessages(msgs)
	require.NoError(t, err)

	require.Len(t, system, 1)
	assert.Equal(t, "be brief", system[0].Text)

	require.Len(t, conversation, 1)
	assert.Equal(t, sdk.MessageParamRoleUser, conversation[0].Role)
}

func TestEncodeMessagesToolResultsRideUserTurn(t *testing.T) {
	msgs := []*model.Message{
		model.NewMessage(model.RoleUser, &model.TextPart{Text: "double 5"}),
		model.NewMessage(model.RoleAssistant,
			&model.ToolPart{
				ToolCallID: "tc-1",
				ToolName:   "double",
				ToolArgs:   `{"x":5}`,
				Status:     model.ToolStatusResult,
				Result:     10,
			},
		),
	}

	conversation, _, err := encodeMessages(msgs)
	require.NoError(t, err)

	// user prompt, assistant tool_use turn, user tool_result turn.
	require.Len(t, conversation, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, conversation[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, conversation[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, conversation[2].Role)
}

func TestEncodeMessagesRejectsUnknownRole(t *testing.T) {
	msgs := []*model.Message{{ID: "m", Role: model.Role("tool"), Parts: []model.Part{&model.TextPart{Text: "x"}}}}
	_, _, err := encodeMessages(msgs)
	require.ErrorContains(t, err, "unsupported message role")
}

func TestEncodeMessagesRequiresConversation(t *testing.T) {
	msgs := []*model.Message{model.NewMessage(model.RoleSystem, &model.TextPart{Text: "sys"})}
	_, _, err := encodeMessages(msgs)
	require.ErrorContains(t, err, "at least one user/assistant message")
}

func TestEncodeToolsBuildsInputSchema(t *testing.T) {
	defs := []model.ToolDef{{
		Name:        "double",
		Description: "Double a number.",
		ParamSchema: []byte(`{"type":"object","properties":{"x":{"type":"integer"}},"required":["x"]}`),
	}}
	encoded, err := encodeTools(defs)
	require.NoError(t, err)
	require.Len(t, encoded, 1)
	require.NotNil(t, encoded[0].OfTool)
	assert.Equal(t, "double", encoded[0].OfTool.Name)
	assert.Contains(t, encoded[0].OfTool.InputSchema.ExtraFields, "properties")
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(stubMessages{}, Options{})
	require.ErrorContains(t, err, "model identifier is required")
}

type stubMessages struct{}

func (stubMessages) NewStreaming(context.Context, sdk.MessageNewParams, ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	return nil
}
