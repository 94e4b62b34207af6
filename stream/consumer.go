package stream

import (
	"context"
	"strings"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/model"
)

// Turn is the outcome of one provider round trip.
type Turn struct {
	Content      string
	FinishReason model.FinishReason
	// ToolCalls are complete and sorted by index; set only for a
	// tool_calls finish.
	ToolCalls []*core.ToolCall
	Usage     core.TokenUsage
	Chunks    int
}

// HasToolCalls reports whether the turn requested tool execution.
func (t *Turn) HasToolCalls() bool { return len(t.ToolCalls) > 0 }

// Consumer drains provider streams. It holds no per-turn state and may be
// shared by concurrent tasks as long as its Sink is safe for concurrent use.
type Consumer struct {
	sink   Sink
	logger logging.Logger
}

// NewConsumer creates a consumer forwarding display notifications to sink.
func NewConsumer(sink Sink, logger logging.Logger) *Consumer {
	if sink == nil {
		sink = NopSink{}
	}

	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	return &Consumer{sink: sink, logger: logger}
}

// Consume reads chunks until a finish reason arrives and returns the turn.
// Content deltas reach the sink as they arrive. Every wait observes ctx.
func (c *Consumer) Consume(ctx context.Context, chunks <-chan model.Chunk, errs <-chan error) (*Turn, error) {
	var (
		acc     = NewAccumulator(c.sink)
		content strings.Builder
		turn    = &Turn{}
	)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}

			if err != nil {
				return nil, &core.TransportError{Err: err}
			}

		case chunk, ok := <-chunks:
			if !ok {
				if err := c.pendingError(ctx, errs); err != nil {
					return nil, err
				}

				return nil, core.NewStreamProtocolError("stream closed without a finish reason")
			}

			turn.Chunks++

			if chunk.ContentDelta != "" {
				content.WriteString(chunk.ContentDelta)
				c.sink.OnContent(chunk.ContentDelta)
			}

			for _, d := range chunk.ToolCalls {
				if err := acc.Append(d); err != nil {
					return nil, err
				}
			}

			if chunk.Usage != nil {
				turn.Usage.Add(*chunk.Usage)
			}

			if chunk.FinishReason == "" {
				continue
			}

			turn.Content = content.String()
			turn.FinishReason = chunk.FinishReason

			if err := c.finish(turn, acc); err != nil {
				return nil, err
			}

			c.logger.Debug("stream.turn.complete",
				"finish_reason", string(turn.FinishReason),
				"chunks", turn.Chunks,
				"tool_calls", len(turn.ToolCalls),
				"content_len", len(turn.Content),
			)

			return turn, nil
		}
	}
}

func (c *Consumer) finish(turn *Turn, acc *Accumulator) error {
	switch turn.FinishReason {
	case model.FinishToolCalls:
		calls, err := acc.Finalize()
		if err != nil {
			return err
		}

		if len(calls) == 0 {
			return core.NewStreamProtocolError("finish reason tool_calls without any tool call")
		}

		turn.ToolCalls = calls

		return nil
	case model.FinishStop, model.FinishLength:
		if acc.Len() > 0 {
			return core.NewStreamProtocolError("finish reason %s with %d tracked tool calls", turn.FinishReason, acc.Len())
		}

		return nil
	case model.FinishError:
		return core.NewStreamProtocolError("provider reported an error finish")
	default:
		return core.NewStreamProtocolError("unknown finish reason %q", turn.FinishReason)
	}
}

// pendingError collects a transport error sent just before the chunk
// channel closed.
func (c *Consumer) pendingError(ctx context.Context, errs <-chan error) error {
	if errs == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-errs:
		if ok && err != nil {
			return &core.TransportError{Err: err}
		}

		return nil
	}
}
