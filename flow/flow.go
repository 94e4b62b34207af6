// Package flow provides the conversation loop that drives a task to a
// validated result.
//
// A Loop round-trips with a model, executes the tool calls the model
// requests through a FunctionExecutor, feeds the results back and, once the
// model produces a plain completion, validates it against the task. Failed
// validation is retried with corrective feedback up to the task's retry
// bound.
package flow

import (
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/model"
)

// State is a named suspension point of the conversation loop.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateHasToolCalls
	StateExecutingTools
	StateFinalizing
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:             "idle",
	StateAwaitingResponse: "awaiting_response",
	StateHasToolCalls:     "has_tool_calls",
	StateExecutingTools:   "executing_tools",
	StateFinalizing:       "finalizing",
	StateDone:             "done",
	StateFailed:           "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return "unknown"
}

// Observer receives loop lifecycle notifications. Implementations must be
// safe for concurrent use when shared by several loops.
type Observer interface {
	OnStateChange(taskID string, from, to State)
	OnRoundTrip(dur time.Duration, finish model.FinishReason, usage core.TokenUsage, err error)
	OnToolCall(rec core.ToolCallRecord)
	OnValidation(passed bool, violations int)
	OnTaskDone(res *core.Result, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) OnStateChange(string, State, State) {}
func (NopObserver) OnRoundTrip(time.Duration, model.FinishReason, core.TokenUsage, error) {}
func (NopObserver) OnToolCall(core.ToolCallRecord) {}
func (NopObserver) OnValidation(bool, int) {}
func (NopObserver) OnTaskDone(*core.Result, error) {}

// loggerAdapter wraps a logging.Logger and exposes LogDebug/LogInfo/LogWarn/
// LogError. It substitutes a NoOpLogger when constructed with nil.
type loggerAdapter struct {
	logger logging.Logger
}

func newLoggerAdapter(l logging.Logger) *loggerAdapter {
	if l == nil {
		l = logging.NoOpLogger{}
	}

	return &loggerAdapter{logger: l}
}

// LogDebug logs a debug message.
func (l *loggerAdapter) LogDebug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// LogInfo logs an informational message.
func (l *loggerAdapter) LogInfo(msg string, args ...any) { l.logger.Info(msg, args...) }

// LogWarn logs a warning message.
func (l *loggerAdapter) LogWarn(msg string, args ...any) { l.logger.Warn(msg, args...) }

// LogError logs an error message.
func (l *loggerAdapter) LogError(msg string, args ...any) { l.logger.Error(msg, args...) }
