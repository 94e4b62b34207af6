package stream

import (
	"sort"
	"strings"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/model"
	"github.com/tidwall/gjson"
)

// Accumulator assembles the tool calls of one turn from streamed fragments.
// Fragments for different indices may interleave arbitrarily. A fresh
// Accumulator is used per turn.
type Accumulator struct {
	calls map[int]*core.ToolCall
	ids   map[string]int
	sink  Sink
}

// NewAccumulator creates an empty accumulator notifying sink (may be nil).
func NewAccumulator(sink Sink) *Accumulator {
	if sink == nil {
		sink = NopSink{}
	}

	return &Accumulator{
		calls: map[int]*core.ToolCall{},
		ids:   map[string]int{},
		sink:  sink,
	}
}

// Append applies one delta, creating the call on first sight of its index.
func (a *Accumulator) Append(d model.ToolCallDelta) error {
	if d.Index < 0 {
		return core.NewToolCallProtocolError(d.Index, "negative index")
	}

	call, ok := a.calls[d.Index]
	if !ok {
		call = core.NewToolCall(d.Index)
		a.calls[d.Index] = call
	}

	if d.ID != "" && d.ID != call.ID {
		if call.ID != "" {
			return core.NewToolCallProtocolError(d.Index, "call id changed from %q to %q", call.ID, d.ID)
		}

		if other, dup := a.ids[d.ID]; dup {
			return core.NewToolCallProtocolError(d.Index, "call id %q already used by index %d", d.ID, other)
		}

		call.ID = d.ID
		a.ids[d.ID] = d.Index
	}

	if d.NameDelta != "" {
		announce := call.Name() == ""
		if err := call.AppendName(d.NameDelta); err != nil {
			return core.NewToolCallProtocolError(d.Index, "%v", err)
		}

		if announce {
			a.sink.OnToolCallStart(d.Index, call.ID, call.Name())
		}
	}

	if d.ArgumentsDelta == "" {
		return nil
	}

	if call.State() >= core.ToolCallArgsComplete {
		if strings.TrimSpace(d.ArgumentsDelta) == "" {
			return nil
		}

		return core.NewToolCallProtocolError(d.Index, "arguments continued after a complete JSON value")
	}

	if err := call.AppendArguments(d.ArgumentsDelta); err != nil {
		return core.NewToolCallProtocolError(d.Index, "%v", err)
	}

	a.sink.OnToolCallArguments(d.Index, d.ArgumentsDelta)

	if isCompleteJSON(call.Arguments()) {
		if err := call.MarkComplete(); err != nil {
			return core.NewToolCallProtocolError(d.Index, "%v", err)
		}

		a.sink.OnToolCallReady(d.Index, call.ID, call.Name(), call.Arguments())
	}

	return nil
}

// IsComplete reports whether the arguments buffer at index holds a complete
// JSON object or array. It is never true for a strict prefix of one.
func (a *Accumulator) IsComplete(index int) bool {
	call, ok := a.calls[index]
	if !ok {
		return false
	}

	return isCompleteJSON(call.Arguments())
}

func isCompleteJSON(buf string) bool {
	buf = strings.TrimSpace(buf)
	if buf == "" || (buf[0] != '{' && buf[0] != '[') {
		return false
	}

	return gjson.Valid(buf)
}

// Len returns the number of tracked calls.
func (a *Accumulator) Len() int { return len(a.calls) }

// Finalize closes the turn after a tool_calls finish. Every call must be
// complete and named. Calls are returned in ascending index order; calls the
// provider left without an id get a synthesized one.
func (a *Accumulator) Finalize() ([]*core.ToolCall, error) {
	calls := a.Calls()

	for _, c := range calls {
		if c.Name() == "" {
			return nil, core.NewToolCallProtocolError(c.Index, "turn finished without a function name")
		}

		if c.State() != core.ToolCallArgsComplete {
			return nil, core.NewToolCallProtocolError(c.Index, "turn finished with incomplete arguments %q", c.Arguments())
		}

		if c.ID == "" {
			c.ID = "call_" + core.NewID()
		}
	}

	return calls, nil
}

// Calls returns the tracked calls sorted by index.
func (a *Accumulator) Calls() []*core.ToolCall {
	calls := make([]*core.ToolCall, 0, len(a.calls))
	for _, c := range a.calls {
		calls = append(calls, c)
	}

	sort.Slice(calls, func(i, j int) bool { return calls[i].Index < calls[j].Index })

	return calls
}
