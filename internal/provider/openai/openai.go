// Package openai adapts the OpenAI Chat Completions streaming API
// (github.com/openai/openai-go) to provider.Client, using the streaming
// variant since the pipeline requires incremental chunks rather than
// one-shot completions.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	wprovider "github.com/workbench/server/internal/provider"
)

// NewFactory returns a provider.Factory that builds OpenAI clients for the
// given API key.
func NewFactory(apiKey string) wprovider.Factory {
	return func(model string) (wprovider.Client, error) {
		if apiKey == "" {
			return nil, wprovider.ErrMissingCredential
		}
		client := openai.NewClient(option.WithAPIKey(apiKey))
		return &Client{sdk: &client, model: model}, nil
	}
}

// Client implements provider.Client on top of the OpenAI SDK.
type Client struct {
	sdk   *openai.Client
	model string
}

// Stream starts a streaming chat completion and adapts it to provider.Streamer.
func (c *Client) Stream(ctx context.Context, req wprovider.Request) (wprovider.Streamer, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: encodeMessages(req.System, req.Messages, req.ToolResults),
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}

	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}
	return newStreamer(ctx, stream), nil
}

func encodeMessages(system string, msgs []wprovider.Message, results []wprovider.ToolResult) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+2)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range msgs {
		if m.Role == "assistant" {
			out = append(out, openai.AssistantMessage(m.Content))
		} else {
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	for _, r := range results {
		out = append(out, openai.ToolMessage(r.Content, r.ToolCallID))
	}
	return out
}

func encodeTools(specs []wprovider.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, t := range specs {
		var schema map[string]any
		_ = json.Unmarshal(t.InputSchema, &schema)
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  schema,
			},
		})
	}
	return out
}

// streamer accumulates OpenAI chat completion chunk deltas into
// provider.Chunks, tracking per-index tool call argument buffers the way
// the Chat Completions streaming protocol requires (arguments arrive as
// fragments keyed by tool_call index, not by id).
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[openai.ChatCompletionChunk]

	names map[int64]string
	ids   map[int64]string
	args  map[int64]*[]byte

	// pending holds fully-assembled tool calls once a finish_reason of
	// "tool_calls" arrives; Recv drains them one chunk at a time so a turn
	// with parallel tool calls loses none of them.
	pending []wprovider.ToolCall
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	return &streamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		names:  make(map[int64]string),
		ids:    make(map[int64]string),
		args:   make(map[int64]*[]byte),
	}
}

func (s *streamer) Recv() (wprovider.Chunk, error) {
	select {
	case <-s.ctx.Done():
		return wprovider.Chunk{}, s.ctx.Err()
	default:
	}

	if len(s.pending) > 0 {
		call := s.pending[0]
		s.pending = s.pending[1:]
		return wprovider.Chunk{ToolCall: &call}, nil
	}

	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			return wprovider.Chunk{Text: delta.Content}, nil
		}
		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			if tc.ID != "" {
				s.ids[idx] = tc.ID
			}
			if tc.Function.Name != "" {
				s.names[idx] = tc.Function.Name
			}
			if s.args[idx] == nil {
				buf := make([]byte, 0, 256)
				s.args[idx] = &buf
			}
			*s.args[idx] = append(*s.args[idx], tc.Function.Arguments...)
		}

		if choice.FinishReason == "tool_calls" {
			indices := make([]int64, 0, len(s.args))
			for idx := range s.args {
				indices = append(indices, idx)
			}
			sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
			for _, idx := range indices {
				s.pending = append(s.pending, wprovider.ToolCall{
					ID:    s.ids[idx],
					Name:  s.names[idx],
					Input: json.RawMessage(*s.args[idx]),
				})
			}
			s.args = make(map[int64]*[]byte)
			if len(s.pending) > 0 {
				call := s.pending[0]
				s.pending = s.pending[1:]
				return wprovider.Chunk{ToolCall: &call}, nil
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return wprovider.Chunk{}, fmt.Errorf("openai stream: %w", err)
	}
	return wprovider.Chunk{Done: true}, nil
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}
