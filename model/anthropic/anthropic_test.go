package anthropic

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessages_GroupsToolResults(t *testing.T) {
	msgs := buildMessages([]core.Message{
		core.SystemMessage("sys"),
		core.UserMessage("compare"),
		core.AssistantToolCallMessage("checking", []core.ToolCallRef{
			{Index: 0, ID: "toolu_a", Name: "lookup", Arguments: `{"q":"a"}`},
			{Index: 1, ID: "toolu_b", Name: "lookup", Arguments: ``},
		}),
		core.ToolResultMessage("lookup", core.ToolResult{CallID: "toolu_a", Content: "1"}),
		core.ToolResultMessage("lookup", core.ToolResult{CallID: "toolu_b", Content: "boom", Status: core.ToolStatusError}),
		core.AssistantMessage("done"),
	})

	require.Len(t, msgs, 4)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].Content, 3)

	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	require.Len(t, msgs[2].Content, 2)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "toolu_a", msgs[2].Content[0].OfToolResult.ToolUseID)
	assert.Equal(t, "toolu_b", msgs[2].Content[1].OfToolResult.ToolUseID)

	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[3].Role)
}

func TestCollectSystem(t *testing.T) {
	assert.Equal(t, "a\n\nb", collectSystem([]core.Message{core.SystemMessage("a"), core.UserMessage("x"), core.SystemMessage(" b ")}))
}

func TestBuildTools_Required(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{{
		Name: "lookup",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"q": map[string]any{"type": "string"}},
			"required":   []any{"q"},
		},
	}})

	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "lookup", tools[0].OfTool.Name)
	assert.Equal(t, []string{"q"}, tools[0].OfTool.InputSchema.Required)
}

func TestMapStopReason(t *testing.T) {
	assert.Equal(t, model.FinishToolCalls, mapStopReason("tool_use"))
	assert.Equal(t, model.FinishStop, mapStopReason("end_turn"))
	assert.Equal(t, model.FinishStop, mapStopReason("stop_sequence"))
	assert.Equal(t, model.FinishLength, mapStopReason("max_tokens"))
	assert.Equal(t, model.FinishError, mapStopReason("refusal"))
}

func TestToolInput(t *testing.T) {
	assert.JSONEq(t, `{}`, string(toolInput("")))
	assert.JSONEq(t, `{}`, string(toolInput(`{"broken`)))
	assert.JSONEq(t, `{"q":1}`, string(toolInput(`{"q":1}`)))
}
