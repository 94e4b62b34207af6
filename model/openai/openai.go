// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API. Streamed deltas (content, tool call fragments, finish
// reason, usage) are forwarded as model.Chunk values without reassembly.
package openai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// APIKey and BaseURL override the client's environment defaults.
	APIKey  string
	BaseURL string
	// DisableStreaming issues a single non-streaming completion and replays
	// it as one chunk.
	DisableStreaming bool
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return opts
}

// NewModel creates a new OpenAI model using the official client. Without
// Options.APIKey the client reads OPENAI_API_KEY from the environment.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := openai.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns)}
}

// Generate streams one turn.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := m.buildParams(req, buildMessages(req.Messages))
		if m.opts.DisableStreaming {
			m.handleNonStreaming(ctx, params, out, errCh)
			return
		}

		m.handleStreaming(ctx, params, out, errCh)
	}()

	return out, errCh
}

// buildMessages converts conversation history into OpenAI chat messages.
// Tool results map to tool messages keyed by call id.
func buildMessages(msgs []core.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case core.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case core.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}

			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: toToolCallParams(msg.ToolCalls),
			}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}

			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		}
	}

	return messages
}

func toToolCallParams(calls []core.ToolCallRef) []openai.ChatCompletionMessageToolCallParam {
	params := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
	for i, c := range calls {
		params[i] = openai.ChatCompletionMessageToolCallParam{
			ID:   c.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		}
	}

	return params
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(
	req model.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}

	if !m.opts.DisableStreaming {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	}

	if len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}

	params.Tools = tools

	return params
}

// handleStreaming forwards every delta as it arrives. The finish reason is
// held back until the stream ends so the trailing usage chunk can ride on
// the final chunk.
func (m *Model) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- model.Chunk,
	errCh chan<- error,
) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		finish model.FinishReason
		usage  *core.TokenUsage
		calls  = newCallTracker()
	)

	for stream.Next() {
		ck := stream.Current()

		if ck.Usage.TotalTokens > 0 {
			usage = &core.TokenUsage{
				PromptTokens:     int(ck.Usage.PromptTokens),
				CompletionTokens: int(ck.Usage.CompletionTokens),
				TotalTokens:      int(ck.Usage.TotalTokens),
			}
		}

		for _, ch := range ck.Choices {
			if ch.Index != 0 {
				continue
			}

			chunk := model.Chunk{ContentDelta: ch.Delta.Content}
			for _, tc := range ch.Delta.ToolCalls {
				delta := model.ToolCallDelta{
					Index:          int(tc.Index),
					ID:             tc.ID,
					NameDelta:      tc.Function.Name,
					ArgumentsDelta: tc.Function.Arguments,
				}
				calls.observe(delta)
				chunk.ToolCalls = append(chunk.ToolCalls, delta)
			}

			if chunk.ContentDelta != "" || len(chunk.ToolCalls) > 0 {
				if !model.Send(ctx, out, chunk) {
					return
				}
			}

			if ch.FinishReason != "" {
				finish = mapFinishReason(ch.FinishReason)
			}
		}
	}

	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("openai streaming error: %w", err)
		return
	}

	if finish != "" {
		if pending := calls.withoutArguments(); len(pending) > 0 {
			if !model.Send(ctx, out, model.Chunk{ToolCalls: pending}) {
				return
			}
		}

		model.Send(ctx, out, model.Chunk{FinishReason: finish, Usage: usage})
	}
}

// callTracker records which streamed tool calls received argument fragments.
type callTracker struct {
	argsSeen map[int]bool
}

func newCallTracker() *callTracker {
	return &callTracker{argsSeen: make(map[int]bool)}
}

func (c *callTracker) observe(d model.ToolCallDelta) {
	if _, ok := c.argsSeen[d.Index]; !ok {
		c.argsSeen[d.Index] = false
	}

	if d.ArgumentsDelta != "" {
		c.argsSeen[d.Index] = true
	}
}

// withoutArguments returns an empty-object fragment for every call that
// never streamed arguments.
func (c *callTracker) withoutArguments() []model.ToolCallDelta {
	var deltas []model.ToolCallDelta

	for idx, seen := range c.argsSeen {
		if !seen {
			deltas = append(deltas, model.ToolCallDelta{Index: idx, ArgumentsDelta: "{}"})
		}
	}

	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Index < deltas[j].Index })

	return deltas
}

// toolArguments maps an empty argument string to an empty object.
func toolArguments(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "{}"
	}

	return raw
}

// handleNonStreaming replays a normal completion as a single chunk.
func (m *Model) handleNonStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- model.Chunk,
	errCh chan<- error,
) {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		errCh <- fmt.Errorf("openai api error: %w", err)
		return
	}

	if len(resp.Choices) == 0 {
		errCh <- fmt.Errorf("no choices returned")
		return
	}

	ch0 := resp.Choices[0]
	chunk := model.Chunk{
		ContentDelta: ch0.Message.Content,
		FinishReason: mapFinishReason(ch0.FinishReason),
		Usage: &core.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}

	for i, tc := range ch0.Message.ToolCalls {
		chunk.ToolCalls = append(chunk.ToolCalls, model.ToolCallDelta{
			Index:          i,
			ID:             tc.ID,
			NameDelta:      tc.Function.Name,
			ArgumentsDelta: toolArguments(tc.Function.Arguments),
		})
	}

	model.Send(ctx, out, chunk)
}

func mapFinishReason(reason string) model.FinishReason {
	switch reason {
	case "stop":
		return model.FinishStop
	case "tool_calls", "function_call":
		return model.FinishToolCalls
	case "length":
		return model.FinishLength
	case "content_filter":
		return model.FinishError
	default:
		return model.FinishReason(reason)
	}
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
