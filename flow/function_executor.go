package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/tool"
)

// FunctionExecutorConfig configures the parallel executor.
type FunctionExecutorConfig struct {
	MaxParallel    int           // 0 or <1 => no explicit limit (len(calls))
	Timeout        time.Duration // per invocation; 0 disables
	LogStartEvents bool          // log a start line per function
}

// Execution is the outcome of one tool call of a batch.
type Execution struct {
	Call     core.ToolCallRef
	Result   core.ToolResult
	Duration time.Duration
}

// FunctionExecutor resolves completed tool calls against a registry and
// executes them. It:
//   - Respects ctx cancellation before and during each invocation
//   - Never panics (handler panics become Error results)
//   - Produces exactly one result per call, in ascending index order
//
// Handler failures of any kind are reported as Error-status results and
// never abort the batch; only cancellation does.
type FunctionExecutor struct {
	registry *tool.Registry
	cfg      FunctionExecutorConfig

	*loggerAdapter
}

// NewFunctionExecutor constructs a new executor with the given config.
func NewFunctionExecutor(registry *tool.Registry, cfg FunctionExecutorConfig, logger logging.Logger) *FunctionExecutor {
	return &FunctionExecutor{
		registry:      registry,
		cfg:           cfg,
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Lookup resolves a tool by name.
func (e *FunctionExecutor) Lookup(name string) (tool.Tool, bool) {
	return e.registry.Lookup(name)
}

// Execute runs a batch of completed calls with bounded parallelism and marks
// each call executed. Calls not started when ctx is cancelled produce no
// result; in that case the batch returns ctx.Err() and no executions.
func (e *FunctionExecutor) Execute(ctx context.Context, env core.ToolContextConfig, calls []*core.ToolCall) ([]Execution, error) {
	n := len(calls)
	if n == 0 {
		return nil, nil
	}

	for _, c := range calls {
		if c.State() != core.ToolCallArgsComplete {
			return nil, core.NewToolCallProtocolError(c.Index, "not ready for execution (state %s)", c.State())
		}
	}

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	results := make([]Execution, n)
	sem := make(chan struct{}, maxPar)

	var wg sync.WaitGroup

	batchStart := time.Now()

dispatch:
	for i := range calls {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		if ctx.Err() != nil { // pre-check cancellation
			<-sem
			break
		}

		wg.Add(1)

		go func(idx int, call *core.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			res, err := e.Invoke(ctx, env, call)

			if err != nil {
				return
			}

			results[idx] = Execution{Call: call.Ref(), Result: res, Duration: time.Since(start)}
		}(i, calls[i])
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		e.LogWarn("tool.batch.cancelled", "task_id", env.TaskID, "count", n, "error", err.Error())
		return nil, err
	}

	for i, c := range calls {
		if err := c.MarkExecuted(results[i].Result.Status); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(results, func(a, b int) bool { return results[a].Call.Index < results[b].Call.Index })

	e.LogDebug(
		"tool.batch.complete",
		"task_id", env.TaskID,
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results, nil
}

// Invoke executes a single completed call. Argument parse failures, unknown
// tools, handler errors, panics and invocation timeouts all yield an
// Error-status result. A non-nil error is returned only when ctx itself is
// done; the abandoned call then has no result.
func (e *FunctionExecutor) Invoke(ctx context.Context, env core.ToolContextConfig, call *core.ToolCall) (core.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return core.ToolResult{}, err
	}

	name := call.Name()
	log := e.logger
	if env.Logger != nil {
		log = env.Logger
	}

	if e.cfg.LogStartEvents {
		log.Info("tool.call.start", "tool", name, "call_id", call.ID, "index", call.Index)
	}

	start := time.Now()
	value, callErr := e.invoke(ctx, env, call)

	if ctx.Err() != nil {
		return core.ToolResult{}, ctx.Err()
	}

	dur := time.Since(start)

	if tl, ok := log.(*logging.TaskLogger); ok {
		tl.LogToolCall(name, dur, callErr == nil, callErr)
	} else {
		log.Info("tool.call.executed", "tool", name, "call_id", call.ID, "duration_ms", dur.Milliseconds(), "error", callErr != nil)
	}

	if callErr != nil {
		return core.ToolResult{CallID: call.ID, Content: callErr.Error(), Status: core.ToolStatusError}, nil
	}

	return core.ToolResult{CallID: call.ID, Content: stringify(value), Status: core.ToolStatusOK}, nil
}

type outcome struct {
	value any
	err   error
}

func (e *FunctionExecutor) invoke(ctx context.Context, env core.ToolContextConfig, call *core.ToolCall) (any, error) {
	name := call.Name()

	impl, ok := e.registry.Lookup(name)
	if !ok {
		return nil, tool.NewToolError(name, "tool not found", tool.CodeNotFound)
	}

	args, err := parseArguments(call.Arguments())
	if err != nil {
		return nil, tool.NewToolError(name, fmt.Sprintf("failed to parse arguments: %v", err), tool.CodeInvalidArguments)
	}

	var (
		invokeCtx context.Context
		cancel    context.CancelFunc
	)

	if e.cfg.Timeout > 0 {
		invokeCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
	} else {
		invokeCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan outcome, 1)

	go func() {
		var o outcome

		defer func() {
			if r := recover(); r != nil { // panic safety
				o = outcome{err: &tool.ToolError{
					Tool:    name,
					Message: fmt.Sprintf("panic recovered: %v", r),
					Code:    tool.CodePanic,
					Details: string(debug.Stack()),
				}}
				e.LogError("tool.call.panic", "tool", name, "call_id", call.ID, "recover", r)
			}
			done <- o
		}()

		o.value, o.err = impl.Call(core.NewToolContext(invokeCtx, env, call.ID, name), args)
	}()

	select {
	case o := <-done:
		if o.err != nil && invokeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, timeoutError(name, e.cfg.Timeout)
		}

		return o.value, o.err
	case <-invokeCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, timeoutError(name, e.cfg.Timeout)
	}
}

func timeoutError(name string, d time.Duration) error {
	return tool.NewToolError(name, fmt.Sprintf("timed out after %s", d), tool.CodeTimeout)
}

// parseArguments decodes the accumulated argument buffer.
func parseArguments(raw string) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}

	if args == nil {
		args = map[string]any{}
	}

	return args, nil
}

// stringify renders a tool return value as result content.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}

	return string(b)
}
