package mcp

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"atrium/internal/compose"
	"atrium/internal/fault"
	"atrium/internal/gateway"
	"atrium/internal/store"
)

type ListToolsInput struct{}

type ToolEntryOutput struct {
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Description string `json:"description,omitempty"`
	Degraded    bool   `json:"degraded,omitempty"`
}

type ListToolsOutput struct {
	Tools []ToolEntryOutput `json:"tools"`
}

type CallToolInput struct {
	Name   string         `json:"name" jsonschema:"namespaced tool name, provider:tool"`
	Args   map[string]any `json:"args,omitempty" jsonschema:"tool arguments"`
	Room   string         `json:"room,omitempty" jsonschema:"room to record the call in, by qualified name or id"`
	Author string         `json:"author,omitempty" jsonschema:"author recorded on the call row"`
}

type CallToolOutput struct {
	RequestID string `json:"request_id"`
}

type PollToolInput struct {
	RequestID string `json:"request_id" jsonschema:"id returned by call_tool"`
	Clear     bool   `json:"clear,omitempty" jsonschema:"evict the request once terminal"`
}

type PollToolOutput struct {
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

type ComposePreviewInput struct {
	Room   string `json:"room" jsonschema:"room qualified name or id"`
	Agent  string `json:"agent,omitempty" jsonschema:"agent qualified name or id"`
	Budget int    `json:"budget,omitempty" jsonschema:"token budget override"`
}

type LayerCostOutput struct {
	Name   string `json:"name"`
	Tokens int    `json:"tokens"`
}

type ComposePreviewOutput struct {
	Preamble string            `json:"preamble"`
	Context  string            `json:"context"`
	Tools    []string          `json:"tools"`
	Layers   []LayerCostOutput `json:"layers"`
}

type SendMessageInput struct {
	Room    string `json:"room" jsonschema:"room qualified name or id"`
	Content string `json:"content" jsonschema:"message text"`
	Author  string `json:"author" jsonschema:"author name"`
}

type SendMessageOutput struct {
	RowID int64 `json:"row_id"`
}

type ReadHistoryInput struct {
	Room     string `json:"room" jsonschema:"room qualified name or id"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum rows, most recent first"`
	BeforeID int64  `json:"before_id,omitempty" jsonschema:"page back from this row id"`
}

type RowOutput struct {
	ID          int64  `json:"id"`
	Content     string `json:"content"`
	Method      string `json:"method"`
	ParentRowID int64  `json:"parent_row_id,omitempty"`
	Author      string `json:"author"`
	CreatedAt   string `json:"created_at"`
}

type ReadHistoryOutput struct {
	Rows []RowOutput `json:"rows"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_tools",
		Description: "List the connected providers' tools",
	}, s.handleListTools)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "call_tool",
		Description: "Invoke a downstream tool asynchronously",
	}, s.handleCallTool)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "poll_tool",
		Description: "Poll an in-flight tool call for its result",
	}, s.handlePollTool)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "compose_preview",
		Description: "Assemble the bounded prompt for a room and agent without side effects",
	}, s.handleComposePreview)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "send_message",
		Description: "Append a chat message to a room log",
	}, s.handleSendMessage)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "read_history",
		Description: "Read a room's log, most recent first",
	}, s.handleReadHistory)
}

func (s *Server) handleListTools(ctx context.Context, req *sdk.CallToolRequest, input ListToolsInput) (*sdk.CallToolResult, ListToolsOutput, error) {
	defs := s.gw.Catalog()
	out := make([]ToolEntryOutput, 0, len(defs))
	for _, def := range defs {
		out = append(out, ToolEntryOutput{
			Name:        def.Name,
			Provider:    def.Provider,
			Description: def.Description,
			Degraded:    def.Parameters == nil,
		})
	}
	return nil, ListToolsOutput{Tools: out}, nil
}

func (s *Server) handleCallTool(ctx context.Context, req *sdk.CallToolRequest, input CallToolInput) (*sdk.CallToolResult, CallToolOutput, error) {
	if input.Name == "" {
		return nil, CallToolOutput{}, fmt.Errorf("name is required")
	}
	provider, tool, ok := gateway.SplitName(input.Name)
	if !ok {
		return nil, CallToolOutput{}, fmt.Errorf("name must be provider:tool, got %q", input.Name)
	}

	roomID := ""
	var callRowID int64
	if input.Room != "" {
		room, err := s.resolveRoom(ctx, input.Room)
		if err != nil {
			return nil, CallToolOutput{}, err
		}
		roomID = room.ID
		author := input.Author
		if author == "" {
			author = "mcp"
		}
		callRowID, err = s.rows.AppendRow(ctx, store.RowInput{
			RoomID:  roomID,
			Content: input.Name,
			Method:  store.MethodToolCall,
			Author:  author,
		})
		if err != nil {
			return nil, CallToolOutput{}, err
		}
	}

	reqID, err := s.gw.Call(provider, tool, input.Args, roomID, callRowID)
	if err != nil {
		return nil, CallToolOutput{}, err
	}
	return nil, CallToolOutput{RequestID: reqID}, nil
}

func (s *Server) handlePollTool(ctx context.Context, req *sdk.CallToolRequest, input PollToolInput) (*sdk.CallToolResult, PollToolOutput, error) {
	if input.RequestID == "" {
		return nil, PollToolOutput{}, fmt.Errorf("request_id is required")
	}
	result, status, err := s.gw.Poll(input.RequestID)
	if err != nil {
		return nil, PollToolOutput{}, err
	}
	if input.Clear && status.Terminal() {
		if err := s.gw.Clear(input.RequestID); err != nil {
			return nil, PollToolOutput{}, err
		}
	}
	return nil, PollToolOutput{Status: string(status), Result: result}, nil
}

func (s *Server) handleComposePreview(ctx context.Context, req *sdk.CallToolRequest, input ComposePreviewInput) (*sdk.CallToolResult, ComposePreviewOutput, error) {
	if input.Room == "" {
		return nil, ComposePreviewOutput{}, fmt.Errorf("room is required")
	}
	room, err := s.resolveRoom(ctx, input.Room)
	if err != nil {
		return nil, ComposePreviewOutput{}, err
	}

	scope := compose.Scope{RoomID: room.ID}
	if input.Agent != "" {
		agentThing, err := s.resolveThing(ctx, input.Agent, store.KindAgent)
		if err != nil {
			return nil, ComposePreviewOutput{}, err
		}
		scope.AgentID = agentThing.ID
	}

	snap, err := compose.BuildSnapshot(ctx, s.db, s.gw.Catalog(), scope, s.opts.HistoryLimit)
	if err != nil {
		return nil, ComposePreviewOutput{}, err
	}
	snap.WorldName = s.opts.WorldName

	budget := input.Budget
	if budget <= 0 {
		budget = s.opts.Budget
	}
	res, err := compose.Compose(snap, budget)
	if err != nil {
		return nil, ComposePreviewOutput{}, err
	}

	out := ComposePreviewOutput{
		Preamble: res.Preamble,
		Context:  res.Context,
		Tools:    make([]string, 0, len(res.Tools)),
		Layers:   make([]LayerCostOutput, 0, len(res.Layers)),
	}
	for _, def := range res.Tools {
		out.Tools = append(out.Tools, def.Name)
	}
	for _, l := range res.Layers {
		out.Layers = append(out.Layers, LayerCostOutput{Name: l.Name, Tokens: l.Tokens})
	}
	return nil, out, nil
}

func (s *Server) handleSendMessage(ctx context.Context, req *sdk.CallToolRequest, input SendMessageInput) (*sdk.CallToolResult, SendMessageOutput, error) {
	if input.Room == "" || input.Content == "" || input.Author == "" {
		return nil, SendMessageOutput{}, fmt.Errorf("room, content, and author are required")
	}
	room, err := s.resolveRoom(ctx, input.Room)
	if err != nil {
		return nil, SendMessageOutput{}, err
	}
	id, err := s.rows.AppendRow(ctx, store.RowInput{
		RoomID:  room.ID,
		Content: input.Content,
		Method:  store.MethodChat,
		Author:  input.Author,
	})
	if err != nil {
		return nil, SendMessageOutput{}, err
	}
	return nil, SendMessageOutput{RowID: id}, nil
}

func (s *Server) handleReadHistory(ctx context.Context, req *sdk.CallToolRequest, input ReadHistoryInput) (*sdk.CallToolResult, ReadHistoryOutput, error) {
	if input.Room == "" {
		return nil, ReadHistoryOutput{}, fmt.Errorf("room is required")
	}
	room, err := s.resolveRoom(ctx, input.Room)
	if err != nil {
		return nil, ReadHistoryOutput{}, err
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.GetRows(ctx, room.ID, limit, input.BeforeID)
	if err != nil {
		return nil, ReadHistoryOutput{}, err
	}

	out := make([]RowOutput, 0, len(rows))
	for _, r := range rows {
		out = append(out, RowOutput{
			ID:          r.ID,
			Content:     r.Content,
			Method:      r.Method,
			ParentRowID: r.ParentRowID,
			Author:      r.Author,
			CreatedAt:   r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return nil, ReadHistoryOutput{Rows: out}, nil
}

func (s *Server) resolveRoom(ctx context.Context, target string) (*store.Thing, error) {
	return s.resolveThing(ctx, target, store.KindRoom)
}

func (s *Server) resolveThing(ctx context.Context, target string, kind store.Kind) (*store.Thing, error) {
	t, err := s.db.GetByQualifiedName(ctx, target)
	if err != nil {
		if !errors.Is(err, fault.ErrNotFound) {
			return nil, err
		}
		if t, err = s.db.GetThing(ctx, target); err != nil {
			return nil, err
		}
	}
	if t.Kind != kind && kind != "" {
		return nil, fmt.Errorf("%s is a %s, not a %s: %w", target, t.Kind, kind, fault.ErrNotFound)
	}
	return t, nil
}
