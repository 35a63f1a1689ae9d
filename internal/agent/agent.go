// Package agent adapts hosted model APIs behind a single streaming Backend
// interface. Adapters emit incremental text deltas and complete tool calls;
// the session layer turns those into rows and gateway executions.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"atrium/internal/config"
	"atrium/internal/gateway"
)

// Message is one prior exchange in a turn, already rendered to plain text.
type Message struct {
	Role      string // "user", "assistant", or "tool"
	Content   string
	ToolCalls []ToolCall // set on assistant messages that invoked tools
	ToolID    string     // set on tool messages: the call this responds to
}

// ToolCall is a complete model-issued tool invocation. Arguments is the raw
// JSON the model produced.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Turn is everything a backend needs for one generation.
type Turn struct {
	System   string
	Messages []Message
	Tools    []gateway.ToolDef
}

// EventKind discriminates streaming events.
type EventKind int

const (
	// EventChunk carries an incremental text delta.
	EventChunk EventKind = iota
	// EventToolCall carries one complete tool call.
	EventToolCall
	// EventDone closes the turn and carries the full accumulated text.
	EventDone
)

// Event is one streaming update from a backend. Exactly one EventDone is
// emitted per successful turn, always last.
type Event struct {
	Kind       EventKind
	Text       string   // EventChunk delta, or EventDone full text
	Call       ToolCall // set when Kind is EventToolCall
	StopReason string   // set when Kind is EventDone
}

// Backend streams one model turn. The error channel carries at most one
// error; when it does, the event channel closes without an EventDone.
type Backend interface {
	Name() string
	Stream(ctx context.Context, turn Turn) (<-chan Event, <-chan error)
}

// New builds the configured backend. The API key is read from the
// environment variable the config names, never from the config file itself.
func New(cfg config.BackendConfig, log *slog.Logger) (Backend, error) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("environment variable %s is empty", cfg.APIKeyEnv)
		}
	}

	switch cfg.Kind {
	case "anthropic":
		return newAnthropic(cfg, apiKey, log), nil
	case "openai":
		return newOpenAI(cfg, apiKey, log), nil
	case "":
		return nil, fmt.Errorf("no backend configured")
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}

// WireName is the tool name sent to model APIs, which restrict names to
// [A-Za-z0-9_-]. The provider separator folds to a double underscore.
func WireName(name string) string {
	return strings.ReplaceAll(name, ":", "__")
}

// ResolveWireName maps a model-issued tool name back to its catalog entry.
func ResolveWireName(tools []gateway.ToolDef, wire string) (gateway.ToolDef, bool) {
	for _, def := range tools {
		if WireName(def.Name) == wire {
			return def, true
		}
	}
	return gateway.ToolDef{}, false
}

func describeTool(def gateway.ToolDef) string {
	switch {
	case def.FallbackText == "":
		return def.Description
	case def.Description == "":
		return def.FallbackText
	default:
		return def.Description + "\n\n" + def.FallbackText
	}
}

// toolSchema renders a ToolDef's parameters as the generic JSON-schema map
// both SDKs accept. Tools with degraded parameters get a bare object schema.
func toolSchema(def gateway.ToolDef) map[string]any {
	if def.Parameters == nil {
		return map[string]any{"type": "object"}
	}

	properties := make(map[string]any, len(def.Parameters.Properties))
	for name, p := range def.Parameters.Properties {
		properties[name] = paramSchema(p)
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(def.Parameters.Required) > 0 {
		schema["required"] = def.Parameters.Required
	}
	return schema
}

func paramSchema(p gateway.Param) map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Items != nil {
		out["items"] = paramSchema(*p.Items)
	}
	return out
}
