// Package taskmesh provides a high-level façade over agents, the shared
// services they use (memory, logging, metrics, streaming output) and task
// dispatch. Most applications interact with this package by:
//  1. Creating a Mesh via New() or FromConfig()
//  2. Registering one or more agents (RegisterAgent)
//  3. Running tasks synchronously (Run), asynchronously (RunAsync) or in
//     batches (RunSequential, RunParallel)
//
// Every registered agent shares the mesh memory gateway, logger, observer
// and sink unless its own options override them.
package taskmesh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/taskmesh/agent"
	"github.com/hupe1980/taskmesh/config"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/flow"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/model"
	"github.com/hupe1980/taskmesh/stream"
	"github.com/hupe1980/taskmesh/tool"
)

// ErrAgentNotFound is returned when a task names an unregistered agent.
var ErrAgentNotFound = errors.New("agent not found")

// Options configures the Mesh instance.
type Options struct {
	// MaxConcurrentRuns limits the number of tasks that can execute
	// simultaneously across all agents. Zero means unlimited.
	MaxConcurrentRuns int

	// Memory is shared by every agent (nil disables memory).
	Memory core.MemoryGateway
	// Observer receives loop notifications, e.g. a metrics.Observer.
	Observer flow.Observer
	// Sink receives streamed output.
	Sink stream.Sink

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// Loop holds loop defaults applied to every agent before its own options.
	Loop func(o *flow.Options)
}

// Mesh aggregates agents and the services they share.
type Mesh struct {
	opts Options
	sem  chan struct{}

	mu     sync.RWMutex
	agents map[string]*agent.Agent

	closers []func() error
}

// New creates a new Mesh instance with optional overrides.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	m := &Mesh{
		opts:   opts,
		agents: make(map[string]*agent.Agent),
	}

	if opts.MaxConcurrentRuns > 0 {
		m.sem = make(chan struct{}, opts.MaxConcurrentRuns)
	}

	return m
}

// FromConfig builds a Mesh from cfg: it opens the configured memory, builds
// the logger and registers the configured agent on the configured provider
// with the given tools. Close releases the memory backend.
func FromConfig(cfg *config.Config, tools []tool.Tool, optFns ...func(o *Options)) (*Mesh, error) {
	mem, closeMem, err := cfg.OpenMemory()
	if err != nil {
		return nil, err
	}

	logger := cfg.NewLogger()

	m := New(append([]func(o *Options){func(o *Options) {
		o.Memory = mem
		o.Logger = logger
		o.Loop = cfg.LoopOptions(mem, logger)
	}}, optFns...)...)
	m.closers = append(m.closers, closeMem)

	llm, err := cfg.NewModel()
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	_, err = m.RegisterAgent(cfg.Agent.Name, llm, func(o *agent.Options) {
		o.Role = cfg.Agent.Role
		o.Description = cfg.Agent.Description
		o.Instruction = agent.NewInstructionFromText(cfg.Agent.Instructions)
		o.Tools = tools
	})
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	return m, nil
}

// RegisterAgent creates an agent backed by llm with the mesh services
// pre-wired and registers it under name.
func (m *Mesh) RegisterAgent(name string, llm model.Model, optFns ...func(o *agent.Options)) (*agent.Agent, error) {
	shared := func(o *agent.Options) {
		if m.opts.Loop != nil {
			m.opts.Loop(&o.Loop)
		}

		o.Loop.Memory = m.opts.Memory
		o.Loop.Observer = m.opts.Observer
		o.Loop.Sink = m.opts.Sink
		o.Loop.Logger = m.opts.Logger
	}

	a, err := agent.New(name, llm, append([]func(o *agent.Options){shared}, optFns...)...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.agents[name]; dup {
		return nil, fmt.Errorf("agent %q already registered", name)
	}

	m.agents[name] = a

	return a, nil
}

// Agent returns the registered agent with the given name.
func (m *Mesh) Agent(name string) (*agent.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[name]

	return a, ok
}

// Agents returns the registered agent names in sorted order.
func (m *Mesh) Agents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.agents))
	for n := range m.agents {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Run executes task on the named agent, waiting for a free run slot first.
func (m *Mesh) Run(ctx context.Context, agentName string, task core.Task) (*core.Result, error) {
	a, ok := m.Agent(agentName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentName)
	}

	return m.limited(a).Run(ctx, task)
}

// RunAsync starts task in the background. The result channel receives the
// result on success; the error channel receives the failure. Both are
// closed when the run ends.
func (m *Mesh) RunAsync(ctx context.Context, agentName string, task core.Task) (<-chan *core.Result, <-chan error) {
	out := make(chan *core.Result, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		res, err := m.Run(ctx, agentName, task)
		if err != nil {
			errCh <- err
			return
		}

		out <- res
	}()

	return out, errCh
}

// Job names the agent and the task for batch dispatch.
type Job struct {
	Agent string
	Task  core.Task
}

// RunSequential runs jobs in order and stops at the first failure.
func (m *Mesh) RunSequential(ctx context.Context, jobs ...Job) ([]*core.Result, error) {
	resolved, err := m.resolve(jobs)
	if err != nil {
		return nil, err
	}

	return agent.RunSequential(ctx, resolved...)
}

// RunParallel runs jobs concurrently, bounded by MaxConcurrentRuns.
// Results are positional; failures are joined.
func (m *Mesh) RunParallel(ctx context.Context, jobs ...Job) ([]*core.Result, error) {
	resolved, err := m.resolve(jobs)
	if err != nil {
		return nil, err
	}

	return agent.RunParallel(ctx, resolved)
}

// Close releases resources opened by FromConfig.
func (m *Mesh) Close() error {
	var errs []error
	for _, fn := range m.closers {
		errs = append(errs, fn())
	}

	m.closers = nil

	return errors.Join(errs...)
}

func (m *Mesh) resolve(jobs []Job) ([]agent.Job, error) {
	out := make([]agent.Job, len(jobs))

	for i, j := range jobs {
		a, ok := m.Agent(j.Agent)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, j.Agent)
		}

		out[i] = agent.Job{Agent: m.limited(a), Task: j.Task}
	}

	return out, nil
}

func (m *Mesh) limited(a *agent.Agent) agent.Runner {
	if m.sem == nil {
		return a
	}

	return &limitedRunner{Agent: a, sem: m.sem}
}

// limitedRunner holds a mesh run slot for the duration of each run.
type limitedRunner struct {
	*agent.Agent
	sem chan struct{}
}

func (r *limitedRunner) Run(ctx context.Context, task core.Task) (*core.Result, error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.sem }()

	return r.Agent.Run(ctx, task)
}
