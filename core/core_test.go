package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_IncrementRetryNeverExceedsMax(t *testing.T) {
	task := NewTask("describe", func(t *Task) { t.MaxRetries = 2 })

	require.NoError(t, task.IncrementRetry())
	require.NoError(t, task.IncrementRetry())
	assert.ErrorIs(t, task.IncrementRetry(), ErrRetriesExhausted)
	assert.Equal(t, 2, task.RetryCount())
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{"ok", NewTask("x"), false},
		{"empty description", NewTask(""), true},
		{"bad format", NewTask("x", func(t *Task) { t.Format = "yaml" }), true},
		{"negative retries", NewTask("x", func(t *Task) { t.MaxRetries = -1 }), true},
		{"duplicate field", NewTask("x", func(t *Task) {
			t.Schema = []Field{RequiredField("a", TypeString, ""), OptionalField("a", TypeNumber, "")}
		}), true},
		{"unknown nested type", NewTask("x", func(t *Task) {
			t.Schema = []Field{ObjectField("o", true, "", Field{Name: "x", Type: "date"})}
		}), true},
		{"array of objects", NewTask("x", func(t *Task) {
			t.Schema = []Field{ArrayField("items", Field{Type: TypeObject, Fields: []Field{RequiredField("id", TypeInteger, "")}}, true, "")}
		}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToolCall_Lifecycle(t *testing.T) {
	c := NewToolCall(0)
	assert.Equal(t, ToolCallPending, c.State())

	require.NoError(t, c.AppendName("calc"))
	require.NoError(t, c.AppendName("ulate"))
	assert.Equal(t, ToolCallNameKnown, c.State())
	assert.Equal(t, "calculate", c.Name())

	require.NoError(t, c.AppendArguments(`{"a":`))
	require.NoError(t, c.AppendArguments(`1}`))
	assert.Equal(t, ToolCallArgsStreaming, c.State())

	require.NoError(t, c.MarkComplete())
	assert.Error(t, c.AppendArguments(" "))
	assert.Equal(t, `{"a":1}`, c.Arguments())

	require.NoError(t, c.MarkExecuted(ToolStatusOK))
	assert.Equal(t, ToolCallExecuted, c.State())
	assert.Error(t, c.MarkExecuted(ToolStatusOK), "executed at most once")
}

func TestToolCall_ExecuteRequiresComplete(t *testing.T) {
	c := NewToolCall(3)
	assert.Error(t, c.MarkExecuted(ToolStatusOK))

	require.NoError(t, c.MarkComplete())
	require.NoError(t, c.MarkExecuted(ToolStatusError))
	assert.Equal(t, ToolCallFailed, c.State())
}

func TestErrors_Unwrap(t *testing.T) {
	var err error = &TaskFailedError{
		TaskID: "t1",
		Reason: "boom",
		Err:    fmt.Errorf("round trip: %w", NewToolCallProtocolError(2, "id changed")),
	}

	assert.True(t, errors.Is(err, ErrStreamProtocol))

	var spe *StreamProtocolError
	require.True(t, errors.As(err, &spe))
	assert.Equal(t, 2, spe.Index)

	transport := &TransportError{Err: context.DeadlineExceeded}
	assert.ErrorIs(t, transport, ErrTransport)
	assert.ErrorIs(t, transport, context.DeadlineExceeded)

	assert.ErrorIs(t, &ToolRoundLimitError{Limit: 3}, ErrToolRoundLimit)
}

func TestTaskFailedError_ListsViolations(t *testing.T) {
	err := &TaskFailedError{
		TaskID:               "t1",
		Reason:               "validation failed",
		LastValidationErrors: []FieldError{{Field: "price", Message: "expected number"}},
	}

	assert.Contains(t, err.Error(), "field 'price': expected number")
}

func TestRoundLimiter(t *testing.T) {
	l := NewRoundLimiter(2)
	require.NoError(t, l.Increment())
	require.NoError(t, l.Increment())
	assert.Equal(t, 0, l.Remaining())

	err := l.Increment()

	var limitErr *ToolRoundLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 2, limitErr.Limit)

	l.Reset()
	assert.Equal(t, 0, l.Count())

	assert.Error(t, NewRoundLimiter(0).Increment())
}

type recordingGateway struct {
	stored []map[string]any
}

func (g *recordingGateway) Retrieve(context.Context, string, string, string) ([]MemoryItem, error) {
	return []MemoryItem{{Content: "a"}, {Content: "b"}, {Content: "c"}}, nil
}

func (g *recordingGateway) Store(_ context.Context, _ string, _ MemoryType, _ string, md map[string]any) error {
	g.stored = append(g.stored, md)
	return nil
}

func TestToolContext_Memory(t *testing.T) {
	gw := &recordingGateway{}
	tc := NewToolContext(context.Background(), ToolContextConfig{TaskID: "t1", Memory: gw}, "call-1", "notes")

	items, err := tc.RecallMemory("q", 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	require.NoError(t, tc.StoreMemory("fact", MemorySemantic, nil))
	require.Len(t, gw.stored, 1)
	assert.Equal(t, "t1", gw.stored[0]["task_id"])
	assert.Equal(t, "notes", gw.stored[0]["tool"])

	bare := NewToolContext(context.Background(), ToolContextConfig{}, "call-2", "notes")
	_, err = bare.RecallMemory("q", 1)
	assert.ErrorIs(t, err, ErrNoMemory)
}

func TestResult_ToolsUsed(t *testing.T) {
	r := Result{ToolCallLog: []ToolCallRecord{{Name: "a"}, {Name: "b"}, {Name: "a"}}}
	assert.Equal(t, []string{"a", "b"}, r.ToolsUsed())
}
