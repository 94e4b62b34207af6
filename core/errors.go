package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStreamProtocol marks a provider stream that broke the chunk protocol.
	ErrStreamProtocol = errors.New("stream protocol violation")
	// ErrTransport marks a failure reported by the provider transport.
	ErrTransport = errors.New("provider transport failure")
	// ErrToolRoundLimit marks a task that exceeded its tool round budget.
	ErrToolRoundLimit = errors.New("tool round limit exceeded")
	// ErrRetriesExhausted marks a task whose output never validated.
	ErrRetriesExhausted = errors.New("output validation retries exhausted")
)

// StreamProtocolError reports a malformed provider stream. Index is the tool
// call index involved, or -1.
type StreamProtocolError struct {
	Index  int
	Reason string
}

// NewStreamProtocolError creates a protocol error not tied to a tool call.
func NewStreamProtocolError(format string, args ...any) *StreamProtocolError {
	return &StreamProtocolError{Index: -1, Reason: fmt.Sprintf(format, args...)}
}

// NewToolCallProtocolError creates a protocol error for the given call index.
func NewToolCallProtocolError(index int, format string, args ...any) *StreamProtocolError {
	return &StreamProtocolError{Index: index, Reason: fmt.Sprintf(format, args...)}
}

func (e *StreamProtocolError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("stream protocol error: tool call %d: %s", e.Index, e.Reason)
	}

	return "stream protocol error: " + e.Reason
}

// Unwrap returns ErrStreamProtocol.
func (e *StreamProtocolError) Unwrap() error { return ErrStreamProtocol }

// TransportError wraps an error surfaced by the provider stream.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport error: " + e.Err.Error() }

// Unwrap returns the underlying transport error.
func (e *TransportError) Unwrap() error { return e.Err }

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ToolRoundLimitError reports that a task requested more tool rounds than allowed.
type ToolRoundLimitError struct {
	Limit int
}

func (e *ToolRoundLimitError) Error() string {
	return fmt.Sprintf("tool round limit exceeded: max %d", e.Limit)
}

// Unwrap returns ErrToolRoundLimit.
func (e *ToolRoundLimitError) Unwrap() error { return ErrToolRoundLimit }

// FieldError is one field-level violation found by output validation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field '%s': %s", e.Field, e.Message)
}

// TaskFailedError is the terminal failure of a task. Err is the cause and
// LastValidationErrors is set when the task failed validation.
type TaskFailedError struct {
	TaskID               string
	Reason               string
	Attempts             int
	LastValidationErrors []FieldError
	Err                  error
}

func (e *TaskFailedError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "task %s failed: %s", e.TaskID, e.Reason)

	if len(e.LastValidationErrors) > 0 {
		parts := make([]string, len(e.LastValidationErrors))
		for i, v := range e.LastValidationErrors {
			parts[i] = v.Error()
		}

		fmt.Fprintf(&b, " (%s)", strings.Join(parts, "; "))
	}

	return b.String()
}

// Unwrap returns the cause.
func (e *TaskFailedError) Unwrap() error { return e.Err }
