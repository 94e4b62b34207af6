package openai

import (
	"testing"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/model"
	"github.com/hupe1980/taskmesh/stream"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessages_ToolRound(t *testing.T) {
	msgs := buildMessages([]core.Message{
		core.SystemMessage("sys"),
		core.UserMessage("what is 2+2"),
		core.AssistantToolCallMessage("", []core.ToolCallRef{{Index: 0, ID: "call_1", Name: "calculate", Arguments: `{"expression":"2+2"}`}}),
		core.ToolResultMessage("calculate", core.ToolResult{CallID: "call_1", Content: "4"}),
		core.AssistantMessage("4"),
	})

	require.Len(t, msgs, 5)
	require.NotNil(t, msgs[0].OfSystem)
	require.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[2].OfAssistant.ToolCalls[0].ID)
	assert.Equal(t, "calculate", msgs[2].OfAssistant.ToolCalls[0].Function.Name)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "call_1", msgs[3].OfTool.ToolCallID)
	require.NotNil(t, msgs[4].OfAssistant)
}

func TestBuildParams_Tools(t *testing.T) {
	client := openai.NewClient()
	m := NewModelFromClient(&client, func(o *Options) { o.Model = "gpt-test" })

	params := m.buildParams(model.Request{Tools: []model.ToolDefinition{{
		Name:        "calculate",
		Description: "Evaluate an arithmetic expression",
		Parameters:  map[string]any{"type": "object"},
	}}}, nil)

	assert.EqualValues(t, "gpt-test", params.Model)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "calculate", params.Tools[0].Function.Name)
}

func TestMapFinishReason(t *testing.T) {
	assert.Equal(t, model.FinishStop, mapFinishReason("stop"))
	assert.Equal(t, model.FinishToolCalls, mapFinishReason("tool_calls"))
	assert.Equal(t, model.FinishLength, mapFinishReason("length"))
	assert.Equal(t, model.FinishError, mapFinishReason("content_filter"))
	assert.Equal(t, model.FinishReason("other"), mapFinishReason("other"))
}

func TestInfo(t *testing.T) {
	client := openai.NewClient()
	info := NewModelFromClient(&client).Info()

	assert.Equal(t, "openai", info.Provider)
	assert.EqualValues(t, openai.ChatModelGPT4oMini, info.Name)
}

func TestToolArguments(t *testing.T) {
	assert.Equal(t, "{}", toolArguments(""))
	assert.Equal(t, "{}", toolArguments("  "))
	assert.Equal(t, `{"a":1}`, toolArguments(`{"a":1}`))
}

func TestCallTracker_FillsMissingArguments(t *testing.T) {
	deltas := []model.ToolCallDelta{
		{Index: 0, ID: "call_0", NameDelta: "now"},
		{Index: 1, ID: "call_1", NameDelta: "echo"},
		{Index: 1, ArgumentsDelta: `{"text":`},
		{Index: 1, ArgumentsDelta: `"hi"}`},
		{Index: 2, ID: "call_2", NameDelta: "ping"},
	}

	calls := newCallTracker()
	acc := stream.NewAccumulator(nil)

	for _, d := range deltas {
		calls.observe(d)
		require.NoError(t, acc.Append(d))
	}

	pending := calls.withoutArguments()
	require.Len(t, pending, 2)
	assert.Equal(t, 0, pending[0].Index)
	assert.Equal(t, 2, pending[1].Index)

	for _, d := range pending {
		assert.Equal(t, "{}", d.ArgumentsDelta)
		require.NoError(t, acc.Append(d))
	}

	finalized, err := acc.Finalize()
	require.NoError(t, err)
	require.Len(t, finalized, 3)
	assert.Equal(t, "now", finalized[0].Name())
	assert.Equal(t, "{}", finalized[0].Arguments())
	assert.Equal(t, `{"text":"hi"}`, finalized[1].Arguments())
	assert.Equal(t, "{}", finalized[2].Arguments())
}
