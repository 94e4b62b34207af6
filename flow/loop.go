package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/model"
	"github.com/hupe1980/taskmesh/output"
	"github.com/hupe1980/taskmesh/stream"
	"github.com/hupe1980/taskmesh/tool"
)

// DefaultMemoryLimit caps the memories injected into the task prompt.
const DefaultMemoryLimit = 10

// Options configures a Loop.
type Options struct {
	// Instructions are the agent's system instructions. They may reference
	// task variables using text/template syntax.
	Instructions string
	// MaxParallelTools bounds concurrent tool invocations per turn (0 = all).
	MaxParallelTools int
	// RoundTripTimeout bounds one provider round trip (0 disables).
	RoundTripTimeout time.Duration
	// ToolTimeout bounds one tool invocation (0 disables).
	ToolTimeout time.Duration
	// MemoryLimit caps the memories rendered into the prompt. Zero selects DefaultMemoryLimit.
	MemoryLimit int
	// MaxDepth bounds nested schema validation. Zero selects output.DefaultMaxDepth.
	MaxDepth int
	// LogToolStarts logs a line when each tool invocation starts.
	LogToolStarts bool

	Memory   core.MemoryGateway
	Sink     stream.Sink
	Observer Observer
	Logger   logging.Logger
}

// Loop drives tasks to validated results. The registry and memory gateway
// are shared; all per-task state lives in the execution created by Run, so a
// Loop may serve concurrent tasks.
type Loop struct {
	model     model.Model
	registry  *tool.Registry
	executor  *FunctionExecutor
	consumer  *stream.Consumer
	validator *output.Validator
	opts      Options
}

// NewLoop creates a loop for model m calling tools from registry.
func NewLoop(m model.Model, registry *tool.Registry, optFns ...func(o *Options)) *Loop {
	opts := Options{
		MemoryLimit: DefaultMemoryLimit,
		MaxDepth:    output.DefaultMaxDepth,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MemoryLimit <= 0 {
		opts.MemoryLimit = DefaultMemoryLimit
	}

	if opts.MaxDepth <= 0 {
		opts.MaxDepth = output.DefaultMaxDepth
	}

	if opts.Sink == nil {
		opts.Sink = stream.NopSink{}
	}

	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Loop{
		model:    m,
		registry: registry,
		executor: NewFunctionExecutor(registry, FunctionExecutorConfig{
			MaxParallel:    opts.MaxParallelTools,
			Timeout:        opts.ToolTimeout,
			LogStartEvents: opts.LogToolStarts,
		}, opts.Logger),
		consumer:  stream.NewConsumer(opts.Sink, opts.Logger),
		validator: output.NewValidator(opts.MaxDepth),
		opts:      opts,
	}
}

// Run executes task to completion. Every failure is returned as a
// *core.TaskFailedError wrapping its cause, so errors.Is works against
// core.ErrStreamProtocol, core.ErrTransport, core.ErrToolRoundLimit,
// core.ErrRetriesExhausted and context errors.
func (l *Loop) Run(ctx context.Context, task core.Task) (*core.Result, error) {
	if task.ID == "" {
		task.ID = core.NewID()
	}

	if task.Format == "" {
		task.Format = core.FormatText
	}

	logger := l.opts.Logger
	if tl, ok := logger.(*logging.TaskLogger); ok {
		logger = tl.WithTask(task.ID)
	}

	x := &execution{
		loop:          l,
		task:          &task,
		limiter:       core.NewRoundLimiter(task.MaxToolRounds),
		logger:        logger,
		loggerAdapter: newLoggerAdapter(logger),
		start:         time.Now(),
	}

	res, err := x.run(ctx)
	if err != nil {
		x.transition(StateFailed)
		l.opts.Sink.OnError(err)
	}

	l.opts.Observer.OnTaskDone(res, err)

	return res, err
}

// execution is the state of one task run.
type execution struct {
	loop    *Loop
	task    *core.Task
	history *core.History
	limiter *core.RoundLimiter
	state   State
	logger  logging.Logger

	attempts   int
	toolRounds int
	usage      core.TokenUsage
	records    []core.ToolCallRecord
	start      time.Time

	*loggerAdapter
}

func (x *execution) transition(to State) {
	if x.state == to {
		return
	}

	from := x.state
	x.state = to

	x.LogDebug("loop.state.changed", "task_id", x.task.ID, "from", from.String(), "to", to.String())
	x.loop.opts.Observer.OnStateChange(x.task.ID, from, to)
}

func (x *execution) fail(reason string, violations []core.FieldError, err error) error {
	x.LogError("loop.task.failed", "task_id", x.task.ID, "reason", reason, "attempts", x.attempts, "error", err.Error())

	return &core.TaskFailedError{
		TaskID:               x.task.ID,
		Reason:               reason,
		Attempts:             x.attempts,
		LastValidationErrors: violations,
		Err:                  err,
	}
}

func (x *execution) run(ctx context.Context) (*core.Result, error) {
	if err := x.task.Validate(); err != nil {
		return nil, x.fail("invalid task", nil, err)
	}

	if err := x.seed(ctx); err != nil {
		return nil, x.fail("invalid instructions", nil, err)
	}

	x.LogInfo("loop.task.start", "task_id", x.task.ID, "format", string(x.task.Format), "max_retries", x.task.MaxRetries)

	for {
		x.attempts++
		x.limiter.Reset()

		candidate, err := x.converse(ctx)
		if err != nil {
			return nil, x.fail(failureReason(err), nil, err)
		}

		x.transition(StateFinalizing)

		vr := x.loop.validator.Validate(candidate, x.task)
		x.loop.opts.Observer.OnValidation(vr.Passed(), len(vr.Violations))
		x.logValidation(vr)

		if vr.Passed() {
			return x.finish(ctx, vr.Content), nil
		}

		if err := x.task.IncrementRetry(); err != nil {
			return nil, x.fail(
				fmt.Sprintf("output validation failed after %d attempts", x.attempts),
				vr.Violations,
				err,
			)
		}

		if err := x.history.Append(core.UserMessage(output.CorrectionMessage(vr.Violations))); err != nil {
			return nil, x.fail("history invariant violated", nil, err)
		}

		x.LogInfo("loop.task.retry", "task_id", x.task.ID, "retry", x.task.RetryCount(), "violations", len(vr.Violations))
		x.transition(StateIdle)
	}
}

// seed builds the initial history: system instructions, then the task
// prompt carrying any recalled memory.
func (x *execution) seed(ctx context.Context) error {
	system, err := buildSystemPrompt(x.loop.opts.Instructions, x.task)
	if err != nil {
		return err
	}

	prompt := buildTaskPrompt(x.task, x.recall(ctx))

	x.history, err = core.NewHistory(core.SystemMessage(system), core.UserMessage(prompt))

	return err
}

// recall retrieves memory context once per task. Failures degrade to an
// empty context.
func (x *execution) recall(ctx context.Context) string {
	gw := x.loop.opts.Memory
	if gw == nil {
		return ""
	}

	items, err := gw.Retrieve(ctx, x.task.Description, x.task.UserID, "task")
	if err != nil {
		x.LogWarn("loop.memory.retrieve_failed", "task_id", x.task.ID, "error", err.Error())
		return ""
	}

	items = selectMemories(items, x.loop.opts.MemoryLimit)
	x.LogDebug("loop.memory.retrieved", "task_id", x.task.ID, "count", len(items))

	return renderMemoryContext(items)
}

// converse round-trips with the model, executing requested tools, until the
// model produces a plain completion.
func (x *execution) converse(ctx context.Context) (string, error) {
	env := core.ToolContextConfig{
		TaskID: x.task.ID,
		UserID: x.task.UserID,
		Memory: x.loop.opts.Memory,
		Logger: x.logger,
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		x.transition(StateAwaitingResponse)

		turn, err := x.roundTrip(ctx)
		if err != nil {
			return "", err
		}

		if !turn.HasToolCalls() {
			if err := x.history.Append(core.AssistantMessage(turn.Content)); err != nil {
				return "", err
			}

			return turn.Content, nil
		}

		x.transition(StateHasToolCalls)

		if err := x.limiter.Increment(); err != nil {
			return "", err
		}

		x.transition(StateExecutingTools)

		execs, err := x.loop.executor.Execute(ctx, env, turn.ToolCalls)
		if err != nil {
			return "", err
		}

		x.toolRounds++

		refs := make([]core.ToolCallRef, len(execs))
		results := make([]core.Message, len(execs))

		for i, ex := range execs {
			refs[i] = ex.Call
			results[i] = core.ToolResultMessage(ex.Call.Name, ex.Result)

			rec := core.ToolCallRecord{
				Round:     x.toolRounds,
				Index:     ex.Call.Index,
				ID:        ex.Call.ID,
				Name:      ex.Call.Name,
				Arguments: ex.Call.Arguments,
				Result:    ex.Result.Content,
				Status:    ex.Result.Status,
				Duration:  ex.Duration,
			}

			x.records = append(x.records, rec)
			x.loop.opts.Sink.OnToolCallExecuted(rec)
			x.loop.opts.Observer.OnToolCall(rec)
		}

		if err := x.history.AppendToolRound(core.AssistantToolCallMessage(turn.Content, refs), results); err != nil {
			return "", err
		}

		x.LogDebug("loop.tool_round.complete", "task_id", x.task.ID, "round", x.limiter.Count(), "calls", len(execs))
	}
}

// roundTrip performs one provider request under the round-trip timeout. The
// derived context is always cancelled on return so an abandoned producer
// unblocks.
func (x *execution) roundTrip(ctx context.Context) (*stream.Turn, error) {
	var (
		rtCtx  context.Context
		cancel context.CancelFunc
	)

	timeout := x.loop.opts.RoundTripTimeout
	if timeout > 0 {
		rtCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		rtCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	req := model.Request{
		Messages: x.history.Messages(),
		Tools:    x.loop.registry.Definitions(),
	}

	start := time.Now()
	chunks, errs := x.loop.model.Generate(rtCtx, req)
	turn, err := x.loop.consumer.Consume(rtCtx, chunks, errs)
	dur := time.Since(start)

	var (
		finish model.FinishReason
		usage  core.TokenUsage
	)

	if turn != nil {
		finish = turn.FinishReason
		usage = turn.Usage
	}

	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("model round trip timed out after %s: %w", timeout, err)
	}

	x.loop.opts.Observer.OnRoundTrip(dur, finish, usage, err)

	if tl, ok := x.logger.(*logging.TaskLogger); ok {
		tl.LogRoundTrip(x.loop.model.Info().Name, usage.TotalTokens, dur, string(finish), err)
	} else {
		x.LogDebug("model.round_trip", "task_id", x.task.ID, "duration_ms", dur.Milliseconds(), "finish_reason", string(finish), "error", err != nil)
	}

	if err != nil {
		return nil, err
	}

	x.usage.Add(turn.Usage)

	return turn, nil
}

func (x *execution) logValidation(vr output.Result) {
	msgs := make([]string, len(vr.Violations))
	for i, v := range vr.Violations {
		msgs[i] = v.Error()
	}

	if tl, ok := x.logger.(*logging.TaskLogger); ok {
		tl.LogValidation(x.attempts, msgs)
		return
	}

	x.LogDebug("output.validation", "task_id", x.task.ID, "attempt", x.attempts, "violations", len(msgs))
}

// finish builds the result and records the task in episodic memory.
func (x *execution) finish(ctx context.Context, content string) *core.Result {
	x.transition(StateDone)

	res := &core.Result{
		TaskID:         x.task.ID,
		FinalContent:   content,
		Format:         x.task.Format,
		ToolCallLog:    x.records,
		RetryCountUsed: x.task.RetryCount(),
		Attempts:       x.attempts,
		ToolRounds:     x.toolRounds,
		Usage:          x.usage,
		Duration:       time.Since(x.start),
	}

	if gw := x.loop.opts.Memory; gw != nil {
		record := fmt.Sprintf("Task: %s\nResult: %s", x.task.Description, content)
		md := map[string]any{
			"task_id":    x.task.ID,
			"format":     string(x.task.Format),
			"attempts":   x.attempts,
			"tools_used": res.ToolsUsed(),
		}

		if err := gw.Store(ctx, record, core.MemoryEpisodic, x.task.UserID, md); err != nil {
			x.LogWarn("loop.memory.store_failed", "task_id", x.task.ID, "error", err.Error())
		}
	}

	x.loop.opts.Sink.OnFinal(content)
	x.LogInfo("loop.task.done", "task_id", x.task.ID, "attempts", x.attempts, "tool_rounds", x.toolRounds, "duration_ms", res.Duration.Milliseconds())

	return res
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, core.ErrStreamProtocol):
		return "stream protocol error"
	case errors.Is(err, core.ErrTransport):
		return "transport error"
	case errors.Is(err, core.ErrToolRoundLimit):
		return "tool round limit exceeded"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline exceeded"
	default:
		return "conversation failed"
	}
}
