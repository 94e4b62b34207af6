package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/flow"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/model"
	"github.com/hupe1980/taskmesh/tool"
)

// Runner executes tasks. *Agent implements it; RunSequential and
// RunParallel accept any Runner.
type Runner interface {
	Name() string
	Run(ctx context.Context, task core.Task) (*core.Result, error)
}

// Options configures an Agent.
type Options struct {
	// Role and Description are rendered into the identity block of the
	// system instructions.
	Role        string
	Description string
	// Instruction is appended to the identity block.
	Instruction Instruction
	Tools       []tool.Tool
	// EnableMemoryTool registers the memory tool so the model can recall and
	// remember on its own. Requires Loop.Memory.
	EnableMemoryTool bool
	// Loop holds the conversation loop settings. Instructions is ignored;
	// the agent derives it per run.
	Loop flow.Options
}

// Agent is a named, tool-equipped task executor.
type Agent struct {
	name        string
	role        string
	description string
	instruction Instruction
	model       model.Model
	registry    *tool.Registry
	loop        flow.Options
}

// New creates an agent backed by llm. It fails on invalid tool sets
// (nil tools, empty or duplicate names).
func New(name string, llm model.Model, optFns ...func(o *Options)) (*Agent, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("agent name is required")
	}

	if llm == nil {
		return nil, errors.New("agent model is required")
	}

	opts := Options{
		Role: "Assistant",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	tools := opts.Tools
	if opts.EnableMemoryTool {
		if opts.Loop.Memory == nil {
			return nil, errors.New("memory tool requires a memory gateway")
		}

		tools = append(append([]tool.Tool(nil), tools...), tool.NewMemoryTool())
	}

	registry, err := tool.NewRegistry(tools...)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", name, err)
	}

	if tl, ok := opts.Loop.Logger.(*logging.TaskLogger); ok {
		opts.Loop.Logger = tl.WithComponent(name)
	}

	return &Agent{
		name:        name,
		role:        opts.Role,
		description: opts.Description,
		instruction: opts.Instruction,
		model:       llm,
		registry:    registry,
		loop:        opts.Loop,
	}, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Role returns the agent role.
func (a *Agent) Role() string { return a.role }

// Tools returns the names of the registered tools in sorted order.
func (a *Agent) Tools() []string { return a.registry.Names() }

// Run executes task with a fresh conversation loop.
func (a *Agent) Run(ctx context.Context, task core.Task) (*core.Result, error) {
	custom, err := a.instruction.Resolve(task)
	if err != nil {
		return nil, &core.TaskFailedError{TaskID: task.ID, Reason: "invalid instructions", Err: err}
	}

	loop := flow.NewLoop(a.model, a.registry, func(o *flow.Options) {
		*o = a.loop
		o.Instructions = a.systemInstructions(custom)
	})

	return loop.Run(ctx, task)
}

// systemInstructions prefixes the custom instructions with the agent identity.
func (a *Agent) systemInstructions(custom string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a specialized AI agent.\n\n", a.name)
	b.WriteString("ROLE AND CAPABILITIES:\n")
	fmt.Fprintf(&b, "- Role: %s\n", a.role)

	if a.description != "" {
		fmt.Fprintf(&b, "- Description: %s\n", a.description)
	}

	if names := a.registry.Names(); len(names) > 0 {
		fmt.Fprintf(&b, "- Tools: %s\n", strings.Join(names, ", "))
	}

	if custom = strings.TrimSpace(custom); custom != "" {
		b.WriteString("\n")
		b.WriteString(custom)
	}

	return b.String()
}
