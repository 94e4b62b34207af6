package model

import (
	"context"

	"github.com/hupe1980/taskmesh/core"
)

// FinishReason tells why a provider ended a turn.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// ToolCallDelta is one streamed fragment of a tool call. Index identifies the
// call within the turn; ID and NameDelta typically arrive with the first
// fragment only.
type ToolCallDelta struct {
	Index          int    `json:"index"`
	ID             string `json:"id,omitempty"`
	NameDelta      string `json:"name_delta,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// Chunk is one streamed provider delta. A chunk carrying a FinishReason is
// the last one of its turn.
type Chunk struct {
	ContentDelta string           `json:"content_delta,omitempty"`
	ToolCalls    []ToolCallDelta  `json:"tool_calls,omitempty"`
	FinishReason FinishReason     `json:"finish_reason,omitempty"`
	Usage        *core.TokenUsage `json:"usage,omitempty"`
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the normalized provider input: the full conversation plus the
// tools the model may call.
type Request struct {
	Messages []core.Message  `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "scripted", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the provider boundary. Generate streams one turn: chunks arrive on
// the first channel, which is closed when the turn ends; a transport failure
// is delivered on the second channel before both are closed.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Send delivers c on out unless ctx is done first.
func Send(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- c:
		return true
	}
}
