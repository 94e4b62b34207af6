package flow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type teMockTool struct {
	name     string
	delay    time.Duration
	result   any
	err      error
	panicMsg any
	onCall   func()
}

func (mt *teMockTool) Name() string { return mt.name }
func (mt *teMockTool) Description() string { return "mock tool" }
func (mt *teMockTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (mt *teMockTool) Call(tc *core.ToolContext, _ map[string]any) (any, error) {
	if mt.onCall != nil {
		mt.onCall()
	}

	if mt.delay > 0 {
		select {
		case <-time.After(mt.delay):
		case <-tc.Context().Done():
			return nil, tc.Context().Err()
		}
	}

	if mt.panicMsg != nil {
		panic(mt.panicMsg)
	}

	return mt.result, mt.err
}

// readyCall builds a call in the ArgsComplete state.
func readyCall(t *testing.T, index int, id, name, args string) *core.ToolCall {
	t.Helper()

	c := core.NewToolCall(index)
	c.ID = id
	require.NoError(t, c.AppendName(name))
	require.NoError(t, c.AppendArguments(args))
	require.NoError(t, c.MarkComplete())

	return c
}

func newTestExecutor(cfg FunctionExecutorConfig, tools ...tool.Tool) *FunctionExecutor {
	return NewFunctionExecutor(tool.MustRegistry(tools...), cfg, nil)
}

var testEnv = core.ToolContextConfig{TaskID: "task-1"}

func TestFunctionExecutor_Single(t *testing.T) {
	e := newTestExecutor(FunctionExecutorConfig{}, &teMockTool{name: "echo", result: map[string]any{"ok": true}})

	call := readyCall(t, 0, "call_0", "echo", `{}`)
	execs, err := e.Execute(context.Background(), testEnv, []*core.ToolCall{call})
	require.NoError(t, err)
	require.Len(t, execs, 1)

	assert.Equal(t, "call_0", execs[0].Result.CallID)
	assert.Equal(t, `{"ok":true}`, execs[0].Result.Content)
	assert.Equal(t, core.ToolStatusOK, execs[0].Result.Status)
	assert.Equal(t, core.ToolCallExecuted, call.State())
}

func TestFunctionExecutor_OrderedResults(t *testing.T) {
	e := newTestExecutor(FunctionExecutorConfig{},
		&teMockTool{name: "slow", delay: 60 * time.Millisecond, result: "slow"},
		&teMockTool{name: "fast", result: "fast"},
	)

	calls := []*core.ToolCall{
		readyCall(t, 0, "call_0", "slow", `{}`),
		readyCall(t, 1, "call_1", "fast", `{}`),
	}

	execs, err := e.Execute(context.Background(), testEnv, calls)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "slow", execs[0].Result.Content)
	assert.Equal(t, "fast", execs[1].Result.Content)
	assert.Equal(t, 0, execs[0].Call.Index)
	assert.Equal(t, 1, execs[1].Call.Index)
}

func TestFunctionExecutor_ErrorIsolation(t *testing.T) {
	e := newTestExecutor(FunctionExecutorConfig{},
		&teMockTool{name: "bad", err: errors.New("boom")},
		&teMockTool{name: "good", result: "fine"},
	)

	calls := []*core.ToolCall{
		readyCall(t, 0, "call_0", "bad", `{}`),
		readyCall(t, 1, "call_1", "good", `{}`),
		readyCall(t, 2, "call_2", "missing", `{}`),
		readyCall(t, 3, "call_3", "good", `[1,2]`),
	}

	execs, err := e.Execute(context.Background(), testEnv, calls)
	require.NoError(t, err)
	require.Len(t, execs, 4)

	assert.Equal(t, core.ToolStatusError, execs[0].Result.Status)
	assert.Contains(t, execs[0].Result.Content, "boom")
	assert.Equal(t, core.ToolCallFailed, calls[0].State())

	assert.Equal(t, core.ToolStatusOK, execs[1].Result.Status)
	assert.Equal(t, "fine", execs[1].Result.Content)

	assert.Equal(t, core.ToolStatusError, execs[2].Result.Status)
	assert.Contains(t, execs[2].Result.Content, tool.CodeNotFound)

	assert.Equal(t, core.ToolStatusError, execs[3].Result.Status)
	assert.Contains(t, execs[3].Result.Content, tool.CodeInvalidArguments)
}

func TestFunctionExecutor_PanicRecovery(t *testing.T) {
	e := newTestExecutor(FunctionExecutorConfig{}, &teMockTool{name: "panicky", panicMsg: "kaboom"})

	execs, err := e.Execute(context.Background(), testEnv, []*core.ToolCall{readyCall(t, 0, "call_0", "panicky", `{}`)})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, core.ToolStatusError, execs[0].Result.Status)
	assert.Contains(t, execs[0].Result.Content, tool.CodePanic)
	assert.Contains(t, execs[0].Result.Content, "kaboom")
}

func TestFunctionExecutor_Timeout(t *testing.T) {
	e := newTestExecutor(FunctionExecutorConfig{Timeout: 20 * time.Millisecond}, &teMockTool{name: "slow", delay: time.Second})

	execs, err := e.Execute(context.Background(), testEnv, []*core.ToolCall{readyCall(t, 0, "call_0", "slow", `{}`)})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, core.ToolStatusError, execs[0].Result.Status)
	assert.Contains(t, execs[0].Result.Content, tool.CodeTimeout)
}

func TestFunctionExecutor_BoundedParallelism(t *testing.T) {
	var (
		running int32
		peak    int32
	)

	track := func() {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
	}

	e := newTestExecutor(FunctionExecutorConfig{MaxParallel: 2}, &teMockTool{name: "work", result: "done", onCall: track})

	calls := make([]*core.ToolCall, 6)
	for i := range calls {
		calls[i] = readyCall(t, i, "call_"+string(rune('a'+i)), "work", `{}`)
	}

	execs, err := e.Execute(context.Background(), testEnv, calls)
	require.NoError(t, err)
	assert.Len(t, execs, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestFunctionExecutor_Cancellation(t *testing.T) {
	started := make(chan struct{})

	var once sync.Once

	e := newTestExecutor(FunctionExecutorConfig{MaxParallel: 1}, &teMockTool{
		name:   "block",
		delay:  time.Minute,
		onCall: func() { once.Do(func() { close(started) }) },
	})

	calls := []*core.ToolCall{
		readyCall(t, 0, "call_0", "block", `{}`),
		readyCall(t, 1, "call_1", "block", `{}`),
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-started
		cancel()
	}()

	execs, err := e.Execute(ctx, testEnv, calls)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, execs)
	assert.Equal(t, core.ToolCallArgsComplete, calls[1].State())
}

func TestFunctionExecutor_RejectsIncompleteCalls(t *testing.T) {
	e := newTestExecutor(FunctionExecutorConfig{}, &teMockTool{name: "echo"})

	c := core.NewToolCall(0)
	require.NoError(t, c.AppendName("echo"))

	_, err := e.Execute(context.Background(), testEnv, []*core.ToolCall{c})
	assert.ErrorIs(t, err, core.ErrStreamProtocol)
}

func TestParseArgumentsAndStringify(t *testing.T) {
	args, err := parseArguments("null")
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = parseArguments(`{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, args)

	_, err = parseArguments(`"str"`)
	assert.Error(t, err)

	assert.Equal(t, "plain", stringify("plain"))
	assert.Equal(t, "4", stringify(4))
	assert.Equal(t, "null", stringify(nil))
	assert.Equal(t, `["a","b"]`, stringify([]string{"a", "b"}))
}
