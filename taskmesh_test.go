package taskmesh

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/taskmesh/agent"
	"github.com/hupe1980/taskmesh/config"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/memory"
	"github.com/hupe1980/taskmesh/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMesh_RegisterAndRun(t *testing.T) {
	store := memory.NewInMemoryStore()
	mesh := New(func(o *Options) { o.Memory = store })

	llm := model.NewScriptedModel(model.TextTurn("Paris"))
	_, err := mesh.RegisterAgent("geo", llm, func(o *agent.Options) { o.Role = "Geographer" })
	require.NoError(t, err)

	_, err = mesh.RegisterAgent("geo", llm)
	assert.ErrorContains(t, err, "already registered")
	assert.Equal(t, []string{"geo"}, mesh.Agents())

	res, err := mesh.Run(context.Background(), "geo", core.NewTask("capital of France", func(t *core.Task) { t.UserID = "u" }))
	require.NoError(t, err)
	assert.Equal(t, "Paris", res.FinalContent)

	items := store.List("u")
	require.Len(t, items, 1, "episodic record stored through the shared gateway")
	assert.Equal(t, core.MemoryEpisodic, items[0].Type)

	_, err = mesh.Run(context.Background(), "nobody", core.NewTask("x"))
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestMesh_RunAsync(t *testing.T) {
	mesh := New()
	_, err := mesh.RegisterAgent("a", model.NewScriptedModel(model.TextTurn("ok")))
	require.NoError(t, err)

	results, errs := mesh.RunAsync(context.Background(), "a", core.NewTask("go"))
	res := <-results
	require.NotNil(t, res)
	assert.Equal(t, "ok", res.FinalContent)
	assert.NoError(t, <-errs)

	results, errs = mesh.RunAsync(context.Background(), "missing", core.NewTask("go"))
	assert.Nil(t, <-results)
	assert.ErrorIs(t, <-errs, ErrAgentNotFound)
}

func TestMesh_Batches(t *testing.T) {
	mesh := New(func(o *Options) { o.MaxConcurrentRuns = 1 })

	_, err := mesh.RegisterAgent("r", model.NewScriptedModel(model.TextTurn("facts")))
	require.NoError(t, err)
	_, err = mesh.RegisterAgent("w", model.NewScriptedModel(model.TextTurn("prose"), model.TextTurn("more prose")))
	require.NoError(t, err)

	results, err := mesh.RunParallel(context.Background(),
		Job{Agent: "r", Task: core.NewTask("research")},
		Job{Agent: "w", Task: core.NewTask("write")},
	)
	require.NoError(t, err)
	assert.Equal(t, "facts", results[0].FinalContent)
	assert.Equal(t, "prose", results[1].FinalContent)

	results, err = mesh.RunSequential(context.Background(),
		Job{Agent: "w", Task: core.NewTask("write again")},
		Job{Agent: "r", Task: core.NewTask("research again")},
	)
	require.Error(t, err, "r has no scripted turns left")
	require.Len(t, results, 1)
	assert.Equal(t, "more prose", results[0].FinalContent)

	var failed *core.TaskFailedError
	assert.True(t, errors.As(err, &failed))

	_, err = mesh.RunParallel(context.Background(), Job{Agent: "ghost"})
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestMesh_RunCancelledWhileWaitingForSlot(t *testing.T) {
	mesh := New(func(o *Options) { o.MaxConcurrentRuns = 1 })
	_, err := mesh.RegisterAgent("a", model.NewScriptedModel(model.TextTurn("ok")))
	require.NoError(t, err)

	mesh.sem <- struct{}{}
	defer func() { <-mesh.sem }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = mesh.Run(ctx, "a", core.NewTask("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Provider.APIKey = "test"
	cfg.Agent.Name = "helper"
	cfg.Memory.Backend = config.MemoryInMemory

	mesh, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	defer mesh.Close()

	a, ok := mesh.Agent("helper")
	require.True(t, ok)
	assert.Equal(t, "Assistant", a.Role())
	assert.NotNil(t, mesh.opts.Memory)
}
