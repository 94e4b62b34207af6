package testutil

import (
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/model"
)

// TurnBuilder provides a fluent helper for scripting one provider turn.
// Example:
//
//	turn := NewTurnBuilder().
//	  ToolStart(0, "call_0", "calculate").
//	  Args(0, `{"expression":`, `"2+2"}`).
//	  Finish(model.FinishToolCalls).
//	  Build()
//
// Chunks are emitted in the order the builder methods are called.
type TurnBuilder struct {
	chunks []model.Chunk
	err    error
	delay  time.Duration
}

// NewTurnBuilder creates an empty builder.
func NewTurnBuilder() *TurnBuilder { return &TurnBuilder{} }

// Text appends one content delta chunk per piece (chainable).
func (b *TurnBuilder) Text(pieces ...string) *TurnBuilder {
	for _, p := range pieces {
		b.chunks = append(b.chunks, model.Chunk{ContentDelta: p})
	}

	return b
}

// ToolStart appends a chunk introducing a tool call with its id and name (chainable).
func (b *TurnBuilder) ToolStart(index int, id, name string) *TurnBuilder {
	b.chunks = append(b.chunks, model.Chunk{ToolCalls: []model.ToolCallDelta{{Index: index, ID: id, NameDelta: name}}})
	return b
}

// Args appends one argument fragment chunk per fragment for the given index (chainable).
func (b *TurnBuilder) Args(index int, fragments ...string) *TurnBuilder {
	for _, f := range fragments {
		b.chunks = append(b.chunks, model.Chunk{ToolCalls: []model.ToolCallDelta{{Index: index, ArgumentsDelta: f}}})
	}

	return b
}

// Deltas appends a single chunk carrying several tool call deltas (chainable).
func (b *TurnBuilder) Deltas(deltas ...model.ToolCallDelta) *TurnBuilder {
	b.chunks = append(b.chunks, model.Chunk{ToolCalls: deltas})
	return b
}

// Finish appends the terminal chunk (chainable).
func (b *TurnBuilder) Finish(reason model.FinishReason) *TurnBuilder {
	b.chunks = append(b.chunks, model.Chunk{FinishReason: reason})
	return b
}

// FinishWithUsage appends a terminal chunk carrying token usage (chainable).
func (b *TurnBuilder) FinishWithUsage(reason model.FinishReason, prompt, completion int) *TurnBuilder {
	b.chunks = append(b.chunks, model.Chunk{FinishReason: reason, Usage: &core.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}})

	return b
}

// Error sets a transport error delivered after the chunks (chainable).
func (b *TurnBuilder) Error(err error) *TurnBuilder { b.err = err; return b }

// Delay sets a per-chunk delay (chainable).
func (b *TurnBuilder) Delay(d time.Duration) *TurnBuilder { b.delay = d; return b }

// Chunks returns the chunks built so far.
func (b *TurnBuilder) Chunks() []model.Chunk {
	out := make([]model.Chunk, len(b.chunks))
	copy(out, b.chunks)

	return out
}

// Build returns the scripted turn.
func (b *TurnBuilder) Build() model.Turn {
	return model.Turn{Chunks: b.Chunks(), Err: b.err, Delay: b.delay}
}

// SplitEvery splits s into fragments of at most n bytes.
func SplitEvery(s string, n int) []string {
	if n <= 0 || len(s) == 0 {
		return []string{s}
	}

	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}

	return append(out, s)
}
