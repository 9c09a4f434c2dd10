// Package bedrock adapts the AWS Bedrock Converse streaming API
// (github.com/aws/aws-sdk-go-v2/service/bedrockruntime) to provider.Client,
// offering Anthropic models hosted on Bedrock as a third backend. Uses
// ConverseStream with tool configuration, translating text and tool_use
// events into this service's two chunk kinds.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	wprovider "github.com/workbench/server/internal/provider"
)

// NewFactory returns a provider.Factory that builds Bedrock clients. Unlike
// the API-key providers, Bedrock credentials come from the standard AWS SDK
// credential chain; hasCredentials reports whether that chain resolved
// anything usable at startup, so the factory can fail fast the same way the
// other two providers do when their API key is blank.
func NewFactory(hasCredentials bool) wprovider.Factory {
	return func(model string) (wprovider.Client, error) {
		if !hasCredentials {
			return nil, wprovider.ErrMissingCredential
		}
		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
		}
		return &Client{runtime: bedrockruntime.NewFromConfig(cfg), model: model}, nil
	}
}

// Client implements provider.Client on top of Bedrock's Converse API.
type Client struct {
	runtime *bedrockruntime.Client
	model   string
}

// Stream starts a ConverseStream call and adapts it to provider.Streamer.
func (c *Client) Stream(ctx context.Context, req wprovider.Request) (wprovider.Streamer, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(c.model),
		Messages: encodeMessages(req.Messages, req.ToolResults),
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = encodeTools(req.Tools)
	}

	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse stream: %w", err)
	}
	return newStreamer(ctx, out), nil
}

func encodeMessages(msgs []wprovider.Message, results []wprovider.ToolResult) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(msgs)+1)
	for _, m := range msgs {
		role := brtypes.ConversationRoleUser
		if m.Role == "assistant" {
			role = brtypes.ConversationRoleAssistant
		}
		out = append(out, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}
	if len(results) > 0 {
		blocks := make([]brtypes.ContentBlock, 0, len(results))
		for _, r := range results {
			status := brtypes.ToolResultStatusSuccess
			if r.IsError {
				status = brtypes.ToolResultStatusError
			}
			blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{
				Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(r.ToolCallID),
					Status:    status,
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: r.Content},
					},
				},
			})
		}
		out = append(out, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: blocks})
	}
	return out
}

func encodeTools(specs []wprovider.ToolSpec) *brtypes.ToolConfiguration {
	tools := make([]brtypes.Tool, 0, len(specs))
	for _, t := range specs {
		var schema map[string]any
		_ = json.Unmarshal(t.InputSchema, &schema)
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}
}

// streamer adapts Bedrock's ConverseStream event stream to provider.Chunks.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    *bedrockruntime.ConverseStreamOutput

	toolName string
	toolID   string
	toolBuf  []byte
	inTool   bool
}

func newStreamer(ctx context.Context, out *bedrockruntime.ConverseStreamOutput) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	return &streamer{ctx: cctx, cancel: cancel, out: out}
}

func (s *streamer) Recv() (wprovider.Chunk, error) {
	select {
	case <-s.ctx.Done():
		return wprovider.Chunk{}, s.ctx.Err()
	default:
	}

	stream := s.out.GetStream()
	for event := range stream.Events() {
		switch v := event.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockStart:
			if start, ok := v.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
				s.inTool = true
				s.toolName = aws.ToString(start.Value.Name)
				s.toolID = aws.ToString(start.Value.ToolUseId)
				s.toolBuf = s.toolBuf[:0]
			}
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			switch d := v.Value.Delta.(type) {
			case *brtypes.ContentBlockDeltaMemberText:
				return wprovider.Chunk{Text: d.Value}, nil
			case *brtypes.ContentBlockDeltaMemberToolUse:
				s.toolBuf = append(s.toolBuf, []byte(aws.ToString(d.Value.Input))...)
			}
		case *brtypes.ConverseStreamOutputMemberContentBlockStop:
			if s.inTool {
				s.inTool = false
				// toolBuf is reused across tool blocks, so the returned
				// input gets its own copy.
				input := make(json.RawMessage, len(s.toolBuf))
				copy(input, s.toolBuf)
				return wprovider.Chunk{ToolCall: &wprovider.ToolCall{
					ID:    s.toolID,
					Name:  s.toolName,
					Input: input,
				}}, nil
			}
		}
	}
	if err := stream.Err(); err != nil {
		return wprovider.Chunk{}, fmt.Errorf("bedrock stream: %w", err)
	}
	return wprovider.Chunk{Done: true}, nil
}

func (s *streamer) Close() error {
	s.cancel()
	return s.out.GetStream().Close()
}
