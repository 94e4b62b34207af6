package core

import (
	"fmt"
)

// History is the ordered message log of one task execution. Append enforces
// tool result ordering: after an assistant message carrying tool calls, the
// next messages must be exactly one tool result per call, in the order the
// calls were attached, before any other message.
//
// A History belongs to a single conversation loop and is not safe for
// concurrent use.
type History struct {
	messages []Message
	pending  []ToolCallRef
}

// NewHistory creates a history seeded with the given messages.
func NewHistory(seed ...Message) (*History, error) {
	h := &History{}

	for _, m := range seed {
		if err := h.Append(m); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// Append adds a message, rejecting anything that breaks tool result ordering.
func (h *History) Append(m Message) error {
	if len(h.pending) > 0 {
		next := h.pending[0]
		if m.Role != RoleTool {
			return fmt.Errorf("history: %s message while awaiting result for tool call %q", m.Role, next.ID)
		}

		if m.ToolCallID != next.ID {
			return fmt.Errorf("history: tool result for %q out of order, expected %q", m.ToolCallID, next.ID)
		}

		h.pending = h.pending[1:]
		h.messages = append(h.messages, m)

		return nil
	}

	if m.Role == RoleTool {
		return fmt.Errorf("history: unexpected tool result for %q", m.ToolCallID)
	}

	if m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
		h.pending = append([]ToolCallRef(nil), m.ToolCalls...)
	}

	h.messages = append(h.messages, m)

	return nil
}

// AppendToolRound appends an assistant tool-call message followed by its
// results. Either the whole round is appended or nothing is.
func (h *History) AppendToolRound(assistant Message, results []Message) error {
	if len(assistant.ToolCalls) != len(results) {
		return fmt.Errorf("history: %d tool calls but %d results", len(assistant.ToolCalls), len(results))
	}

	snapshot := len(h.messages)

	if err := h.Append(assistant); err != nil {
		return err
	}

	for _, r := range results {
		if err := h.Append(r); err != nil {
			h.messages = h.messages[:snapshot]
			h.pending = nil

			return err
		}
	}

	return nil
}

// AwaitingToolResults reports whether tool results are still owed.
func (h *History) AwaitingToolResults() bool { return len(h.pending) > 0 }

// Len returns the number of messages.
func (h *History) Len() int { return len(h.messages) }

// Messages returns a copy of the log.
func (h *History) Messages() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)

	return out
}
