// Package anthropic provides a model wrapper for the Anthropic Claude API.
// The Messages stream is translated into model.Chunk values: text deltas
// become content deltas, each tool_use block becomes one tool call index and
// its input_json deltas become argument fragments.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/model"
)

// DefaultModel is used when Options.Model is empty.
const DefaultModel = anthropic.Model("claude-sonnet-4-5")

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:       DefaultModel,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return opts
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns)}
}

// Generate streams one turn.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		m.handleStreaming(ctx, m.buildParams(req), out, errCh)
	}()

	return out, errCh
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
		Messages:    buildMessages(req.Messages),
	}

	if system := collectSystem(req.Messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	return params
}

func collectSystem(msgs []core.Message) string {
	var parts []string

	for _, msg := range msgs {
		if msg.Role == core.RoleSystem && strings.TrimSpace(msg.Content) != "" {
			parts = append(parts, strings.TrimSpace(msg.Content))
		}
	}

	return strings.Join(parts, "\n\n")
}

// buildMessages converts history into Anthropic messages. Tool results are
// tool_result blocks of a user message; consecutive results share one message.
func buildMessages(msgs []core.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))

	var results []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			continue
		case core.RoleTool:
			results = append(results, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError))
		case core.RoleUser:
			flushResults()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case core.RoleAssistant:
			flushResults()

			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}

			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolInput(tc.Arguments), tc.Name))
			}

			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(""))
			}

			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}

	flushResults()

	return out
}

func toolInput(args string) json.RawMessage {
	args = strings.TrimSpace(args)
	if args == "" || !json.Valid([]byte(args)) {
		return json.RawMessage(`{}`)
	}

	return json.RawMessage(args)
}

func buildTools(defs []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))

	for _, def := range defs {
		var required []string

		switch r := def.Parameters["required"].(type) {
		case []string:
			required = r
		case []any:
			for _, v := range r {
				if s, ok := v.(string); ok {
					required = append(required, s)
				}
			}
		}

		param := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Type: "object", Properties: def.Parameters["properties"], Required: required},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}

	return out
}

// handleStreaming forwards deltas while accumulating the message so the stop
// reason and usage can be reported on the final chunk.
func (m *Model) handleStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	out chan<- model.Chunk,
	errCh chan<- error,
) {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}

	// content block index -> tool call ordinal within the turn
	toolIndex := map[int64]int{}
	argsSeen := map[int]bool{}

	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			errCh <- fmt.Errorf("anthropic stream accumulate: %w", err)
			return
		}

		var chunk model.Chunk

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if variant.ContentBlock.Type != "tool_use" {
				continue
			}

			idx := len(toolIndex)
			toolIndex[variant.Index] = idx
			delta := model.ToolCallDelta{Index: idx, ID: variant.ContentBlock.ID, NameDelta: variant.ContentBlock.Name}

			if variant.ContentBlock.Input != nil {
				if b, err := json.Marshal(variant.ContentBlock.Input); err == nil {
					raw := strings.TrimSpace(string(b))
					if raw != "" && raw != "{}" && raw != "null" {
						delta.ArgumentsDelta = raw
						argsSeen[idx] = true
					}
				}
			}

			chunk.ToolCalls = []model.ToolCallDelta{delta}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				chunk.ContentDelta = delta.Text
			case anthropic.InputJSONDelta:
				idx, ok := toolIndex[variant.Index]
				if !ok || delta.PartialJSON == "" {
					continue
				}

				argsSeen[idx] = true
				chunk.ToolCalls = []model.ToolCallDelta{{Index: idx, ArgumentsDelta: delta.PartialJSON}}
			}
		case anthropic.ContentBlockStopEvent:
			idx, ok := toolIndex[variant.Index]
			if !ok || argsSeen[idx] {
				continue
			}

			// A tool without parameters streams no input at all.
			argsSeen[idx] = true
			chunk.ToolCalls = []model.ToolCallDelta{{Index: idx, ArgumentsDelta: "{}"}}
		}

		if chunk.ContentDelta == "" && len(chunk.ToolCalls) == 0 {
			continue
		}

		if !model.Send(ctx, out, chunk) {
			return
		}
	}

	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		return
	}

	model.Send(ctx, out, model.Chunk{
		FinishReason: mapStopReason(msg.StopReason),
		Usage: &core.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	})
}

func mapStopReason(reason anthropic.StopReason) model.FinishReason {
	switch reason {
	case "tool_use":
		return model.FinishToolCalls
	case "end_turn", "stop_sequence":
		return model.FinishStop
	case "max_tokens":
		return model.FinishLength
	case "refusal":
		return model.FinishError
	default:
		return model.FinishReason(reason)
	}
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
