package core

import (
	"fmt"
	"strings"
	"time"
)

// ToolCallState tracks a streamed tool call from first fragment to execution.
type ToolCallState int

const (
	ToolCallPending ToolCallState = iota
	ToolCallNameKnown
	ToolCallArgsStreaming
	ToolCallArgsComplete
	ToolCallExecuted
	ToolCallFailed
)

// String returns the state name.
func (s ToolCallState) String() string {
	switch s {
	case ToolCallPending:
		return "pending"
	case ToolCallNameKnown:
		return "name_known"
	case ToolCallArgsStreaming:
		return "args_streaming"
	case ToolCallArgsComplete:
		return "args_complete"
	case ToolCallExecuted:
		return "executed"
	case ToolCallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ToolCall is a tool invocation request assembled from stream fragments.
// It is owned by a single goroutine at a time: the stream consumer while the
// turn is streaming, then the executor goroutine running it.
type ToolCall struct {
	Index int
	ID    string

	name  strings.Builder
	args  strings.Builder
	state ToolCallState
}

// NewToolCall creates a pending call for the given turn index.
func NewToolCall(index int) *ToolCall {
	return &ToolCall{Index: index}
}

// Name returns the accumulated function name.
func (c *ToolCall) Name() string { return c.name.String() }

// Arguments returns the accumulated arguments buffer.
func (c *ToolCall) Arguments() string { return c.args.String() }

// State returns the current lifecycle state.
func (c *ToolCall) State() ToolCallState { return c.state }

// AppendName appends a function name fragment.
func (c *ToolCall) AppendName(fragment string) error {
	if c.state >= ToolCallArgsComplete {
		return fmt.Errorf("tool call %d: name fragment after arguments completed", c.Index)
	}

	c.name.WriteString(fragment)

	if c.state == ToolCallPending {
		c.state = ToolCallNameKnown
	}

	return nil
}

// AppendArguments appends an arguments fragment. The buffer is closed once
// the call is marked complete.
func (c *ToolCall) AppendArguments(fragment string) error {
	if c.state >= ToolCallArgsComplete {
		return fmt.Errorf("tool call %d: arguments fragment after completion", c.Index)
	}

	c.args.WriteString(fragment)
	c.state = ToolCallArgsStreaming

	return nil
}

// MarkComplete closes the arguments buffer.
func (c *ToolCall) MarkComplete() error {
	if c.state >= ToolCallArgsComplete {
		return fmt.Errorf("tool call %d: already %s", c.Index, c.state)
	}

	c.state = ToolCallArgsComplete

	return nil
}

// MarkExecuted records the outcome of the single permitted execution.
func (c *ToolCall) MarkExecuted(status ToolStatus) error {
	if c.state != ToolCallArgsComplete {
		return fmt.Errorf("tool call %d: cannot execute in state %s", c.Index, c.state)
	}

	if status == ToolStatusError {
		c.state = ToolCallFailed
	} else {
		c.state = ToolCallExecuted
	}

	return nil
}

// Ref returns the completed call as attached to an assistant message.
func (c *ToolCall) Ref() ToolCallRef {
	return ToolCallRef{Index: c.Index, ID: c.ID, Name: c.Name(), Arguments: c.Arguments()}
}

// ToolStatus is the outcome of a tool invocation.
type ToolStatus int

const (
	ToolStatusOK ToolStatus = iota
	ToolStatusError
)

// String returns "ok" or "error".
func (s ToolStatus) String() string {
	if s == ToolStatusError {
		return "error"
	}

	return "ok"
}

// ToolResult answers one tool call. Errors are reported to the model as
// content, never raised to the loop.
type ToolResult struct {
	CallID  string
	Content string
	Status  ToolStatus
}

// ToolCallRecord is one entry of a task's tool call log.
type ToolCallRecord struct {
	Round     int           `json:"round"`
	Index     int           `json:"index"`
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Arguments string        `json:"arguments"`
	Result    string        `json:"result"`
	Status    ToolStatus    `json:"status"`
	Duration  time.Duration `json:"duration"`
}
