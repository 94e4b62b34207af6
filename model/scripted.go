package model

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Turn is one scripted provider round trip. Err, if set, is delivered on the
// error channel after the chunks.
type Turn struct {
	Chunks []Chunk
	Err    error
	// Delay is slept before each chunk.
	Delay time.Duration
}

// ScriptedModel is a lightweight in-memory Model that replays scripted turns
// in order, one per Generate call. It records every request so tests can
// inspect what the loop sent. It is safe for concurrent use.
type ScriptedModel struct {
	info Info

	mu       sync.Mutex
	turns    []Turn
	next     int
	requests []Request
	// Responder, when set, produces turns once the script is exhausted.
	responder func(req Request, call int) Turn
}

// NewScriptedModel constructs a ScriptedModel replaying the given turns.
func NewScriptedModel(turns ...Turn) *ScriptedModel {
	return &ScriptedModel{
		info:  Info{Name: "scripted", Provider: "scripted", SupportsTools: true},
		turns: turns,
	}
}

// WithResponder sets a fallback producing turns after the script runs out.
func (m *ScriptedModel) WithResponder(fn func(req Request, call int) Turn) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responder = fn

	return m
}

// Requests returns copies of the requests received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Request, len(m.requests))
	copy(out, m.requests)

	return out
}

// Calls returns the number of Generate calls.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}

func (m *ScriptedModel) take(req Request) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := len(m.requests)
	m.requests = append(m.requests, req)

	if m.next < len(m.turns) {
		t := m.turns[m.next]
		m.next++

		return t, nil
	}

	if m.responder != nil {
		return m.responder(req, call), nil
	}

	return Turn{}, fmt.Errorf("scripted model: no turn left for call %d", call+1)
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, 16)
	errCh := make(chan error, 1)

	turn, err := m.take(req)

	go func() {
		defer close(out)
		defer close(errCh)

		if err != nil {
			errCh <- err
			return
		}

		for _, c := range turn.Chunks {
			if turn.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(turn.Delay):
				}
			}

			if !Send(ctx, out, c) {
				return
			}
		}

		if turn.Err != nil {
			errCh <- turn.Err
		}
	}()

	return out, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

// TextTurn scripts a plain completion streamed in the given pieces.
func TextTurn(pieces ...string) Turn {
	chunks := make([]Chunk, 0, len(pieces)+1)
	for _, p := range pieces {
		chunks = append(chunks, Chunk{ContentDelta: p})
	}

	chunks = append(chunks, Chunk{FinishReason: FinishStop})

	return Turn{Chunks: chunks}
}

// ToolCallTurn scripts a turn requesting one tool call per (name, args) pair,
// each with its arguments delivered whole.
func ToolCallTurn(calls ...[2]string) Turn {
	chunks := make([]Chunk, 0, len(calls)+1)
	for i, c := range calls {
		chunks = append(chunks, Chunk{ToolCalls: []ToolCallDelta{{
			Index:          i,
			ID:             fmt.Sprintf("call_%d", i),
			NameDelta:      c[0],
			ArgumentsDelta: c[1],
		}}})
	}

	chunks = append(chunks, Chunk{FinishReason: FinishToolCalls})

	return Turn{Chunks: chunks}
}
