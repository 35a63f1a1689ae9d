package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"atrium/internal/config"
	"atrium/internal/gateway"
)

// aggCall aggregates partial tool call deltas until the finish reason
// arrives; the stream delivers id, name, and argument fragments separately.
type aggCall struct{ id, name, args string }

type openaiBackend struct {
	client    *openai.Client
	model     string
	maxTokens int64
	log       *slog.Logger
}

func newOpenAI(cfg config.BackendConfig, apiKey string, log *slog.Logger) *openaiBackend {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(clientOpts...)
	return &openaiBackend{
		client:    &client,
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		log:       log,
	}
}

func (b *openaiBackend) Name() string { return "openai/" + b.model }

func (b *openaiBackend) Stream(ctx context.Context, turn Turn) (<-chan Event, <-chan error) {
	out := make(chan Event, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := openai.ChatCompletionNewParams{
			Model:               b.model,
			Messages:            buildOpenAIMessages(turn),
			MaxCompletionTokens: openai.Int(b.maxTokens),
		}
		if len(turn.Tools) > 0 {
			params.Tools = buildOpenAITools(turn.Tools)
		}

		stream := b.client.Chat.Completions.NewStreaming(ctx, params)
		var (
			full       strings.Builder
			toolAgg    = map[int64]*aggCall{}
			stopReason string
		)
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					full.WriteString(choice.Delta.Content)
					select {
					case out <- Event{Kind: EventChunk, Text: choice.Delta.Content}:
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{}
						toolAgg[tc.Index] = ac
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					ac.args += tc.Function.Arguments
				}
				if choice.FinishReason != "" {
					stopReason = choice.FinishReason
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai stream: %w", err)
			return
		}

		indexes := make([]int64, 0, len(toolAgg))
		for i := range toolAgg {
			indexes = append(indexes, i)
		}
		sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })
		for _, i := range indexes {
			ac := toolAgg[i]
			args := ac.args
			if args == "" {
				args = "{}"
			}
			out <- Event{Kind: EventToolCall, Call: ToolCall{
				ID:        ac.id,
				Name:      ac.name,
				Arguments: args,
			}}
		}

		out <- Event{Kind: EventDone, Text: full.String(), StopReason: stopReason}
	}()

	return out, errCh
}

func buildOpenAIMessages(turn Turn) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if turn.System != "" {
		messages = append(messages, openai.SystemMessage(turn.System))
	}
	for _, m := range turn.Messages {
		switch m.Role {
		case "assistant":
			if len(m.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(m.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      WireName(tc.Name),
						Arguments: tc.Arguments,
					},
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
		case "tool":
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolID))
		default:
			if m.Content != "" {
				messages = append(messages, openai.UserMessage(m.Content))
			}
		}
	}
	return messages
}

func buildOpenAITools(tools []gateway.ToolDef) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, def := range tools {
		out[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        WireName(def.Name),
				Description: openai.String(describeTool(def)),
				Parameters:  openai.FunctionParameters(toolSchema(def)),
			},
		}
	}
	return out
}
