package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"atrium/internal/config"
	"atrium/internal/gateway"
)

type anthropicBackend struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	log       *slog.Logger
}

func newAnthropic(cfg config.BackendConfig, apiKey string, log *slog.Logger) *anthropicBackend {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &anthropicBackend{
		client:    &client,
		model:     anthropic.Model(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
		log:       log,
	}
}

func (b *anthropicBackend) Name() string { return "anthropic/" + string(b.model) }

func (b *anthropicBackend) Stream(ctx context.Context, turn Turn) (<-chan Event, <-chan error) {
	out := make(chan Event, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:     b.model,
			MaxTokens: b.maxTokens,
			Messages:  buildAnthropicMessages(turn.Messages),
		}
		if turn.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: turn.System}}
		}
		if len(turn.Tools) > 0 {
			params.Tools = buildAnthropicTools(turn.Tools)
		}

		stream := b.client.Messages.NewStreaming(ctx, params)
		var (
			full    strings.Builder
			message anthropic.Message
		)
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				errCh <- fmt.Errorf("accumulating stream event: %w", err)
				return
			}
			deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			textDelta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta)
			if !ok || textDelta.Text == "" {
				continue
			}
			full.WriteString(textDelta.Text)
			select {
			case out <- Event{Kind: EventChunk, Text: textDelta.Text}:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic stream: %w", err)
			return
		}

		for _, block := range message.Content {
			if block.Type != "tool_use" {
				continue
			}
			tu := block.AsToolUse()
			args := "{}"
			if tu.Input != nil {
				if raw, err := json.Marshal(tu.Input); err == nil {
					args = string(raw)
				}
			}
			out <- Event{Kind: EventToolCall, Call: ToolCall{
				ID:        tu.ID,
				Name:      tu.Name,
				Arguments: args,
			}}
		}

		out <- Event{
			Kind:       EventDone,
			Text:       full.String(),
			StopReason: string(message.StopReason),
		}
	}()

	return out, errCh
}

func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	var params []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						input = tc.Arguments
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, WireName(tc.Name)))
			}
			if len(blocks) > 0 {
				params = append(params, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			params = append(params, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolID, m.Content, false),
			))
		default:
			if m.Content != "" {
				params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}
	return params
}

func buildAnthropicTools(tools []gateway.ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, def := range tools {
		schema := toolSchema(def)
		inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := schema["properties"]; ok {
			inputSchema.Properties = props
		}
		if req, ok := schema["required"].([]string); ok {
			inputSchema.Required = req
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, WireName(def.Name))
		if desc := describeTool(def); desc != "" {
			tool.OfTool.Description = anthropic.String(desc)
		}
		out[i] = tool
	}
	return out
}
