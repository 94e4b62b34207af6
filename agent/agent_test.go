package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/flow"
	"github.com/hupe1980/taskmesh/memory"
	"github.com/hupe1980/taskmesh/model"
	"github.com/hupe1980/taskmesh/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type echoArgs struct {
	Text string `json:"text" jsonschema:"description=Text to echo"`
}

func echoTool() tool.Tool {
	return tool.NewTypedTool("echo", "Echo the input", func(_ *core.ToolContext, in echoArgs) (any, error) {
		return in.Text, nil
	})
}

func TestNew_Validation(t *testing.T) {
	llm := model.NewScriptedModel()

	_, err := New("", llm)
	assert.Error(t, err)

	_, err = New("a", nil)
	assert.Error(t, err)

	_, err = New("a", llm, func(o *Options) { o.Tools = []tool.Tool{echoTool(), echoTool()} })
	assert.ErrorContains(t, err, "duplicate tool name")

	_, err = New("a", llm, func(o *Options) { o.EnableMemoryTool = true })
	assert.ErrorContains(t, err, "memory gateway")
}

func TestAgent_SystemInstructions(t *testing.T) {
	llm := model.NewScriptedModel(model.TextTurn("done"))

	a, err := New("calc", llm, func(o *Options) {
		o.Role = "Math helper"
		o.Description = "Solves arithmetic"
		o.Tools = []tool.Tool{echoTool()}
		o.Instruction = NewInstructionFromText("Answer in {{.unit}} units.")
	})
	require.NoError(t, err)
	assert.Equal(t, "calc", a.Name())
	assert.Equal(t, []string{"echo"}, a.Tools())

	task := core.NewTask("convert 3 miles", func(t *core.Task) { t.Vars = map[string]any{"unit": "metric"} })

	res, err := a.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "done", res.FinalContent)

	reqs := llm.Requests()
	require.Len(t, reqs, 1)

	system := reqs[0].Messages[0]
	assert.Equal(t, core.RoleSystem, system.Role)
	assert.True(t, strings.HasPrefix(system.Content, "You are calc, a specialized AI agent."))
	assert.Contains(t, system.Content, "- Role: Math helper")
	assert.Contains(t, system.Content, "- Description: Solves arithmetic")
	assert.Contains(t, system.Content, "- Tools: echo")
	assert.Contains(t, system.Content, "Answer in metric units.")
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "echo", reqs[0].Tools[0].Name)
}

func TestAgent_DynamicInstruction(t *testing.T) {
	llm := model.NewScriptedModel(model.TextTurn("ok"))

	a, err := New("dyn", llm, func(o *Options) {
		o.Instruction = NewInstructionFromFunc(func(task core.Task) (string, error) {
			return "Focus on: " + task.Description, nil
		})
	})
	require.NoError(t, err)
	assert.False(t, a.instruction.IsStatic())

	_, err = a.Run(context.Background(), core.NewTask("billing"))
	require.NoError(t, err)
	assert.Contains(t, llm.Requests()[0].Messages[0].Content, "Focus on: billing")
}

func TestAgent_InstructionError(t *testing.T) {
	llm := model.NewScriptedModel()
	boom := errors.New("boom")

	a, err := New("dyn", llm, func(o *Options) {
		o.Instruction = NewInstructionFromFunc(func(core.Task) (string, error) { return "", boom })
	})
	require.NoError(t, err)

	_, err = a.Run(context.Background(), core.NewTask("x"))

	var failed *core.TaskFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "invalid instructions", failed.Reason)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, llm.Calls())
}

func TestAgent_MemoryTool(t *testing.T) {
	store := memory.NewInMemoryStore()
	llm := model.NewScriptedModel(
		model.ToolCallTurn([2]string{"memory", `{"operation":"remember","content":"user likes tea"}`}),
		model.TextTurn("noted"),
	)

	a, err := New("mem", llm, func(o *Options) {
		o.EnableMemoryTool = true
		o.Loop = flow.Options{Memory: store}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"memory"}, a.Tools())

	res, err := a.Run(context.Background(), core.NewTask("remember my drink", func(t *core.Task) { t.UserID = "u1" }))
	require.NoError(t, err)
	assert.Equal(t, "noted", res.FinalContent)

	items, err := store.Retrieve(context.Background(), "tea", "u1", "")
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, "user likes tea", items[len(items)-1].Content)
}

func TestAgent_MemoryLimitDefault(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore(func(o *memory.InMemoryOptions) { o.Limit = 100 })

	for i := 0; i < 50; i++ {
		require.NoError(t, store.Store(ctx, fmt.Sprintf("tea note %d", i), core.MemorySemantic, "u1", nil))
	}

	llm := model.NewScriptedModel(model.TextTurn("ok"))

	a, err := New("mem", llm, func(o *Options) {
		o.Loop = flow.Options{Memory: store}
	})
	require.NoError(t, err)

	_, err = a.Run(ctx, core.NewTask("tea", func(t *core.Task) { t.UserID = "u1" }))
	require.NoError(t, err)

	reqs := llm.Requests()
	require.Len(t, reqs, 1)

	bullets := 0
	for _, msg := range reqs[0].Messages {
		bullets += strings.Count(msg.Content, "• ")
	}

	assert.Equal(t, flow.DefaultMemoryLimit, bullets)
}

type stubRunner struct {
	name  string
	delay time.Duration
	err   error

	running atomic.Int32
	peak    *atomic.Int32
}

func (s *stubRunner) Name() string { return s.name }

func (s *stubRunner) Run(ctx context.Context, task core.Task) (*core.Result, error) {
	n := s.running.Add(1)
	defer s.running.Add(-1)

	if s.peak != nil {
		for {
			p := s.peak.Load()
			if n <= p || s.peak.CompareAndSwap(p, n) {
				break
			}
		}
	}

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if s.err != nil {
		return nil, s.err
	}

	return &core.Result{TaskID: task.ID, FinalContent: s.name + ":" + task.Description}, nil
}

func TestRunSequential(t *testing.T) {
	boom := errors.New("boom")
	a := &stubRunner{name: "a"}
	b := &stubRunner{name: "b", err: boom}
	c := &stubRunner{name: "c"}

	results, err := RunSequential(context.Background(),
		Job{Agent: a, Task: core.NewTask("one")},
		Job{Agent: b, Task: core.NewTask("two")},
		Job{Agent: c, Task: core.NewTask("three")},
	)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "sequential execution failed at agent b")
	require.Len(t, results, 1)
	assert.Equal(t, "a:one", results[0].FinalContent)
}

func TestRunSequential_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := RunSequential(ctx, Job{Agent: &stubRunner{name: "a"}, Task: core.NewTask("x")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestRunParallel(t *testing.T) {
	boom := errors.New("boom")
	jobs := []Job{
		{Agent: &stubRunner{name: "slow", delay: 40 * time.Millisecond}, Task: core.NewTask("one")},
		{Agent: &stubRunner{name: "bad", err: boom}, Task: core.NewTask("two")},
		{Agent: &stubRunner{name: "fast"}, Task: core.NewTask("three")},
	}

	results, err := RunParallel(context.Background(), jobs)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "parallel execution failed for agent bad")
	require.Len(t, results, 3)
	assert.Equal(t, "slow:one", results[0].FinalContent)
	assert.Nil(t, results[1])
	assert.Equal(t, "fast:three", results[2].FinalContent)
}

func TestRunParallel_MaxConcurrency(t *testing.T) {
	var peak atomic.Int32

	shared := &stubRunner{name: "w", delay: 20 * time.Millisecond, peak: &peak}

	jobs := make([]Job, 6)
	for i := range jobs {
		jobs[i] = Job{Agent: shared, Task: core.NewTask("t")}
	}

	results, err := RunParallel(context.Background(), jobs, func(o *ParallelOptions) { o.MaxConcurrency = 2 })
	require.NoError(t, err)
	assert.Len(t, results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunParallel_RealAgents(t *testing.T) {
	newAgent := func(name, reply string) *Agent {
		a, err := New(name, model.NewScriptedModel(model.TextTurn(reply)))
		require.NoError(t, err)

		return a
	}

	results, err := RunParallel(context.Background(), []Job{
		{Agent: newAgent("researcher", "facts"), Task: core.NewTask("research")},
		{Agent: newAgent("writer", "prose"), Task: core.NewTask("write")},
	})
	require.NoError(t, err)
	assert.Equal(t, "facts", results[0].FinalContent)
	assert.Equal(t, "prose", results[1].FinalContent)
}
