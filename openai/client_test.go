package openai

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlabs/strand/model"
)

func TestEncodeMessagesSplitsToolResults(t *testing.T) {
	msgs := []*model.Message{
		model.NewMessage(model.RoleSystem, &model.TextPart{Text: "be brief"}),
		model.NewMessage(model.RoleUser, &model.TextPart{Text: "double 5"}),
		model.NewMessage(model.RoleAssistant,
			&model.TextPart{Text: ""},
			&model.ToolPart{
				ToolCallID: "tc-1",
				ToolName:   "double",
				ToolArgs:   `{"x":5}`,
				Status:     model.ToolStatusResult,
				Result:     10,
			},
		),
	}

	encoded, err := encodeMessages(msgs)
	require.NoError(t, err)
	require.Len(t, encoded, 4)

	assert.Equal(t, openai.ChatMessageRoleSystem, encoded[0].Role)
	assert.Equal(t, "be brief", encoded[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, encoded[1].Role)

	assistant := encoded[2]
	assert.Equal(t, openai.ChatMessageRoleAssistant, assistant.Role)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "tc-1", assistant.ToolCalls[0].ID)
	assert.Equal(t, "double", assistant.ToolCalls[0].Function.Name)
	assert.Equal(t, `{"x":5}`, assistant.ToolCalls[0].Function.Arguments)

	result := encoded[3]
	assert.Equal(t, openai.ChatMessageRoleTool, result.Role)
	assert.Equal(t, "tc-1", result.ToolCallID)
	assert.Equal(t, "10", result.Content)
}

func TestEncodeMessagesPendingToolHasNoResultTurn(t *testing.T) {
	msgs := []*model.Message{
		model.NewMessage(model.RoleUser, &model.TextPart{Text: "go"}),
		model.NewMessage(model.RoleAssistant,
			&model.ToolPart{ToolCallID: "tc-1", ToolName: "double", ToolArgs: `{}`, Status: model.ToolStatusPending},
		),
	}
	encoded, err := encodeMessages(msgs)
	require.NoError(t, err)
	require.Len(t, encoded, 2)
	assert.Empty(t, encoded[1].ToolCallID)
}

func TestEncodeTools(t *testing.T) {
	defs := []model.ToolDef{{
		Name:        "double",
		Description: "Double a number.",
		ParamSchema: []byte(`{"type":"object","properties":{"x":{"type":"integer"}}}`),
	}}
	tools := encodeTools(defs)
	require.Len(t, tools, 1)
	assert.Equal(t, openai.ToolTypeFunction, tools[0].Type)
	assert.Equal(t, "double", tools[0].Function.Name)
	assert.Equal(t, "Double a number.", tools[0].Function.Description)
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(&openai.Client{}, Options{})
	require.ErrorContains(t, err, "model identifier is required")
}
