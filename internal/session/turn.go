package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"atrium/internal/agent"
	"atrium/internal/compose"
	"atrium/internal/gateway"
	"atrium/internal/store"
)

const (
	turnTimeout  = 5 * time.Minute
	pollInterval = 200 * time.Millisecond
)

// startTurn spawns an agent turn for one mentioned agent. The turn binds to
// the coordinator's root context: the session that typed the mention may
// disconnect mid-stream and the turn still finishes for everyone else.
func (c *Coordinator) startTurn(roomID string, agentThing *store.Thing, trigger store.Row) {
	if c.backend == nil {
		ctx, cancel := context.WithTimeout(c.root, 5*time.Second)
		defer cancel()
		_, _ = c.hub.Append(ctx, store.RowInput{
			RoomID:  roomID,
			Content: fmt.Sprintf("%s cannot answer: no model backend is configured", agentThing.Name),
			Method:  store.MethodNotice,
			Author:  agentThing.Name,
		})
		return
	}

	c.turns.Add(1)
	go func() {
		defer c.turns.Done()
		ctx, cancel := context.WithTimeout(c.root, turnTimeout)
		defer cancel()
		c.runTurn(ctx, roomID, agentThing, trigger)
	}()
}

func (c *Coordinator) runTurn(ctx context.Context, roomID string, agentThing *store.Thing, trigger store.Row) {
	var catalog []gateway.ToolDef
	if c.gw != nil {
		catalog = c.gw.Catalog()
	}

	snap, err := compose.BuildSnapshot(ctx, c.db, catalog, compose.Scope{
		RoomID:  roomID,
		AgentID: agentThing.ID,
	}, c.cfg.HistoryLimit)
	if err != nil {
		c.turnFailed(ctx, roomID, agentThing.Name, trigger.ID, err)
		return
	}
	snap.WorldName = c.cfg.WorldName

	res, err := compose.Compose(snap, c.cfg.Budget)
	if err != nil {
		c.turnFailed(ctx, roomID, agentThing.Name, trigger.ID, err)
		return
	}

	turn := agent.Turn{
		System: res.Preamble + "\n\n" + res.Context,
		Messages: []agent.Message{
			{Role: "user", Content: trigger.Author + ": " + trigger.Content},
		},
		Tools: res.Tools,
	}

	for round := 0; ; round++ {
		text, calls, err := c.streamOnce(ctx, roomID, agentThing.Name, trigger.ID, turn)
		if err != nil {
			c.turnFailed(ctx, roomID, agentThing.Name, trigger.ID, err)
			return
		}
		if len(calls) == 0 {
			return
		}
		if round >= c.cfg.ToolRounds {
			_, _ = c.hub.Append(ctx, store.RowInput{
				RoomID:      roomID,
				Content:     fmt.Sprintf("%s stopped after %d tool rounds", agentThing.Name, c.cfg.ToolRounds),
				Method:      store.MethodNotice,
				ParentRowID: trigger.ID,
				Author:      agentThing.Name,
			})
			return
		}

		assistant := agent.Message{Role: "assistant", Content: text}
		var toolMsgs []agent.Message
		for _, call := range calls {
			resolvedName, reply := c.runToolCall(ctx, roomID, agentThing.Name, turn.Tools, call)
			assistant.ToolCalls = append(assistant.ToolCalls, agent.ToolCall{
				ID:        call.ID,
				Name:      resolvedName,
				Arguments: call.Arguments,
			})
			toolMsgs = append(toolMsgs, agent.Message{Role: "tool", ToolID: call.ID, Content: reply})
		}
		turn.Messages = append(turn.Messages, assistant)
		turn.Messages = append(turn.Messages, toolMsgs...)
	}
}

// streamOnce drives one backend generation, appending chunk rows as deltas
// arrive and one chunk-end row carrying the full message. It returns the
// accumulated text and any tool calls the model issued.
func (c *Coordinator) streamOnce(ctx context.Context, roomID, agentName string, triggerID int64, turn agent.Turn) (string, []agent.ToolCall, error) {
	events, errCh := c.backend.Stream(ctx, turn)

	var (
		text  string
		calls []agent.ToolCall
	)
	for ev := range events {
		switch ev.Kind {
		case agent.EventChunk:
			if _, err := c.hub.Append(ctx, store.RowInput{
				RoomID:      roomID,
				Content:     ev.Text,
				Method:      store.MethodChunk,
				ParentRowID: triggerID,
				Author:      agentName,
			}); err != nil {
				c.log.Error("appending chunk row", "room", roomID, "error", err)
			}
		case agent.EventToolCall:
			calls = append(calls, ev.Call)
		case agent.EventDone:
			text = ev.Text
			if text == "" {
				continue
			}
			if _, err := c.hub.Append(ctx, store.RowInput{
				RoomID:      roomID,
				Content:     text,
				Method:      store.MethodChunkEnd,
				ParentRowID: triggerID,
				Author:      agentName,
			}); err != nil {
				c.log.Error("appending final chunk row", "room", roomID, "error", err)
			}
		}
	}
	if err := <-errCh; err != nil {
		return "", nil, err
	}
	return text, calls, nil
}

// runToolCall appends the tool-call row, routes the call through the
// gateway, and polls to a terminal status. The returned reply is what the
// model sees as the tool response; the catalog name comes back so the
// conversation replay uses it consistently.
func (c *Coordinator) runToolCall(ctx context.Context, roomID, agentName string, tools []gateway.ToolDef, call agent.ToolCall) (string, string) {
	def, ok := agent.ResolveWireName(tools, call.Name)
	if !ok {
		_, _ = c.hub.Append(ctx, store.RowInput{
			RoomID:  roomID,
			Content: fmt.Sprintf("%s is not a tool available this turn", call.Name),
			Method:  store.MethodToolError,
			Author:  agentName,
		})
		return call.Name, fmt.Sprintf("error: %s is not among the tools available this turn", call.Name)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		// Degraded-schema tools may produce non-object arguments.
		args = map[string]any{"input": call.Arguments}
	}

	callRow, err := c.hub.Append(ctx, store.RowInput{
		RoomID:  roomID,
		Content: def.Name + " " + call.Arguments,
		Method:  store.MethodToolCall,
		Author:  agentName,
	})
	if err != nil {
		return def.Name, "error: the tool call could not be recorded"
	}

	reqID, err := c.gw.Call(def.Provider, def.Tool, args, roomID, callRow.ID)
	if err != nil {
		_, _ = c.hub.Append(ctx, store.RowInput{
			RoomID:      roomID,
			Content:     err.Error(),
			Method:      store.MethodToolError,
			ParentRowID: callRow.ID,
			Author:      "gateway",
		})
		return def.Name, "error: " + err.Error()
	}

	for {
		result, status, err := c.gw.Poll(reqID)
		if err != nil {
			return def.Name, "error: " + err.Error()
		}
		if status.Terminal() {
			_ = c.gw.Clear(reqID)
			switch status {
			case gateway.StatusComplete:
				return def.Name, result
			case gateway.StatusTimeout:
				return def.Name, "error: the tool call timed out"
			default:
				return def.Name, "error: " + result
			}
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return def.Name, "error: the turn was cancelled while waiting for the tool"
		}
	}
}

// turnFailed surfaces a turn failure as a visible error row. The connection
// that triggered the turn is unaffected.
func (c *Coordinator) turnFailed(ctx context.Context, roomID, agentName string, triggerID int64, err error) {
	c.log.Warn("agent turn failed", "room", roomID, "agent", agentName, "error", err)
	if ctx.Err() != nil {
		// The turn context itself expired; use a short detached window so
		// the failure still lands in the log.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(c.root, 5*time.Second)
		defer cancel()
	}
	_, _ = c.hub.Append(ctx, store.RowInput{
		RoomID:      roomID,
		Content:     fmt.Sprintf("%s could not answer: %v", agentName, err),
		Method:      store.MethodError,
		ParentRowID: triggerID,
		Author:      agentName,
	})
}
