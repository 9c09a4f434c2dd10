// Package anthropic adapts the Anthropic Messages streaming API
// (github.com/anthropics/anthropic-sdk-go) to provider.Client, emitting
// this service's two chunk kinds (text, tool call).
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/workbench/server/internal/provider"
)

// NewFactory returns a provider.Factory that builds Anthropic clients for
// the given API key. If apiKey is empty the returned factory always fails
// with provider.ErrMissingCredential, deferring the failure to request
// time where the pipeline reports it as an error frame.
func NewFactory(apiKey string) provider.Factory {
	return func(model string) (provider.Client, error) {
		if apiKey == "" {
			return nil, provider.ErrMissingCredential
		}
		client := sdk.NewClient(option.WithAPIKey(apiKey))
		return &Client{sdk: &client, model: model}, nil
	}
}

// Client implements provider.Client on top of the Anthropic SDK.
type Client struct {
	sdk   *sdk.Client
	model string
}

// Stream starts a streaming Messages request and adapts it to provider.Streamer.
func (c *Client) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: 4096,
		Messages:  encodeMessages(req.Messages, req.ToolResults),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}

	stream := c.sdk.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}
	return newStreamer(ctx, stream), nil
}

func encodeMessages(msgs []provider.Message, results []provider.ToolResult) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs)+1)
	for _, m := range msgs {
		if m.Role == "assistant" {
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		} else {
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	if len(results) > 0 {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(results))
		for _, r := range results {
			blocks = append(blocks, sdk.NewToolResultBlock(r.ToolCallID, r.Content, r.IsError))
		}
		out = append(out, sdk.NewUserMessage(blocks...))
	}
	return out
}

func encodeTools(specs []provider.ToolSpec) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(specs))
	for _, t := range specs {
		var schema map[string]any
		_ = json.Unmarshal(t.InputSchema, &schema)
		// Carry the whole JSON schema through ExtraFields so `required`
		// and friends survive, not just the property map.
		out = append(out, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				InputSchema: sdk.ToolInputSchemaParam{
					ExtraFields: schema,
				},
			},
		})
	}
	return out
}

// streamer pumps Anthropic SSE events into a buffered provider.Chunk
// channel consumed through Recv.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan provider.Chunk

	mu       sync.Mutex
	finalErr error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		chunks: make(chan provider.Chunk, 32),
	}
	go s.run()
	return s
}

func (s *streamer) Recv() (provider.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return provider.Chunk{}, err
		}
		return provider.Chunk{Done: true}, nil
	case <-s.ctx.Done():
		s.setErr(s.ctx.Err())
		return provider.Chunk{}, s.ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) run() {
	defer close(s.chunks)

	toolNames := map[int64]string{}
	toolIDs := map[int64]string{}
	toolBuf := map[int64]*[]byte{}

	for s.stream.Next() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		event := s.stream.Current()
		switch variant := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if toolUse, ok := variant.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				idx := variant.Index
				toolNames[idx] = toolUse.Name
				toolIDs[idx] = toolUse.ID
				buf := make([]byte, 0, 256)
				toolBuf[idx] = &buf
			}
		case sdk.ContentBlockDeltaEvent:
			idx := variant.Index
			switch delta := variant.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if !s.emit(provider.Chunk{Text: delta.Text}) {
					return
				}
			case sdk.InputJSONDelta:
				if buf, ok := toolBuf[idx]; ok {
					*buf = append(*buf, delta.PartialJSON...)
				}
			}
		case sdk.ContentBlockStopEvent:
			idx := variant.Index
			if buf, ok := toolBuf[idx]; ok {
				call := &provider.ToolCall{
					ID:    toolIDs[idx],
					Name:  toolNames[idx],
					Input: json.RawMessage(*buf),
				}
				if !s.emit(provider.Chunk{ToolCall: call}) {
					return
				}
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		s.setErr(err)
	}
}

func (s *streamer) emit(c provider.Chunk) bool {
	select {
	case s.chunks <- c:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *streamer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalErr == nil {
		s.finalErr = err
	}
}

func (s *streamer) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalErr
}
