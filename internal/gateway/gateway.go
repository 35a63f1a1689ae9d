// Package gateway is the tool-proxy between agent callers and downstream MCP
// tool providers. It presents one namespaced catalog, tracks the lifecycle of
// asynchronous calls in a bounded live table, and mirrors terminal outcomes
// into the room log for audit.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"atrium/internal/fault"
	"atrium/internal/store"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
	StatusTimeout  Status = "timeout"
)

func (s Status) Terminal() bool {
	return s != StatusPending
}

// Request is one tracked tool call. Entries live in memory only; a terminal
// request is mirrored into a Row for audit and evicted when the caller clears
// it or the sweeper reaps it.
type Request struct {
	ID        string
	Provider  string
	Tool      string
	Args      map[string]any
	Status    Status
	Result    string
	CreatedAt time.Time
	Deadline  time.Time

	// RoomID and CallRowID locate the originating tool-call Row so the
	// terminal outcome can be linked back via parent_row_id. RoomID may be
	// empty for calls made outside any room (e.g. the MCP surface).
	RoomID    string
	CallRowID int64
}

// toolCaller is the downstream slice of an MCP client session the gateway
// uses. Tests substitute a scripted implementation.
type toolCaller interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close() error
}

type provider struct {
	name    string
	caller  toolCaller
	thingID string
	tools   []ToolDef
}

// RowSink appends audit rows to room logs. The store satisfies it directly;
// the server installs the broadcast hub instead so terminal tool outcomes
// reach live subscribers, not just the log.
type RowSink interface {
	AppendRow(ctx context.Context, in store.RowInput) (int64, error)
}

type Gateway struct {
	db   store.Store
	rows RowSink
	log  *slog.Logger

	callTimeout   time.Duration
	sweepInterval time.Duration

	// baseCtx bounds in-flight executions independently of any caller's
	// context, so a disconnecting session does not abort a call other room
	// members are waiting on.
	baseCtx context.Context

	mu        sync.Mutex
	providers map[string]*provider
	requests  map[string]*Request
}

func New(baseCtx context.Context, db store.Store, log *slog.Logger, callTimeout, sweepInterval time.Duration) *Gateway {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Second
	}
	return &Gateway{
		db:            db,
		rows:          db,
		log:           log,
		callTimeout:   callTimeout,
		sweepInterval: sweepInterval,
		baseCtx:       baseCtx,
		providers:     make(map[string]*provider),
		requests:      make(map[string]*Request),
	}
}

// UseRowSink redirects audit row appends, typically to the broadcast hub.
// Call before any provider connects.
func (g *Gateway) UseRowSink(sink RowSink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rows = sink
}

// Catalog returns the namespaced union of every connected provider's tools,
// sorted by name. Collisions across providers never merge; the provider
// prefix disambiguates.
func (g *Gateway) Catalog() []ToolDef {
	g.mu.Lock()
	defer g.mu.Unlock()

	var defs []ToolDef
	for _, p := range g.providers {
		defs = append(defs, p.tools...)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Call registers a request and starts executing it against the downstream
// provider. It returns the request id immediately; progress is observed via
// Poll.
func (g *Gateway) Call(providerName, toolName string, args map[string]any, roomID string, callRowID int64) (string, error) {
	g.mu.Lock()
	p, ok := g.providers[providerName]
	if !ok {
		g.mu.Unlock()
		return "", fmt.Errorf("provider %q: %w", providerName, fault.ErrUnavailable)
	}
	found := false
	for _, def := range p.tools {
		if def.Tool == toolName {
			found = true
			break
		}
	}
	if !found {
		g.mu.Unlock()
		return "", fmt.Errorf("tool %s:%s: %w", providerName, toolName, fault.ErrNotFound)
	}

	now := time.Now().UTC()
	req := &Request{
		ID:        uuid.NewString(),
		Provider:  providerName,
		Tool:      toolName,
		Args:      args,
		Status:    StatusPending,
		CreatedAt: now,
		Deadline:  now.Add(g.callTimeout),
		RoomID:    roomID,
		CallRowID: callRowID,
	}
	g.requests[req.ID] = req
	caller := p.caller
	g.mu.Unlock()

	go g.execute(caller, req.ID)

	return req.ID, nil
}

func (g *Gateway) execute(caller toolCaller, reqID string) {
	g.mu.Lock()
	req, ok := g.requests[reqID]
	if !ok || req.Status.Terminal() {
		g.mu.Unlock()
		return
	}
	deadline := req.Deadline
	params := &mcp.CallToolParams{Name: req.Tool, Arguments: req.Args}
	g.mu.Unlock()

	ctx, cancel := context.WithDeadline(g.baseCtx, deadline)
	defer cancel()

	res, err := caller.CallTool(ctx, params)
	switch {
	case err != nil:
		// A sweep may already have timed the request out; finalize is a
		// no-op then.
		g.finalize(reqID, StatusError, err.Error())
	case res.IsError:
		g.finalize(reqID, StatusError, textContent(res))
	default:
		g.finalize(reqID, StatusComplete, textContent(res))
	}
}

// finalize transitions a request Pending -> terminal exactly once and mirrors
// the outcome into the room log.
func (g *Gateway) finalize(reqID string, status Status, result string) {
	g.mu.Lock()
	req, ok := g.requests[reqID]
	if !ok || req.Status.Terminal() {
		g.mu.Unlock()
		return
	}
	req.Status = status
	req.Result = result
	roomID, callRowID := req.RoomID, req.CallRowID
	provider, tool := req.Provider, req.Tool
	g.mu.Unlock()

	g.log.Debug("tool request finalized",
		"request_id", reqID, "tool", provider+":"+tool, "status", string(status))

	if roomID == "" {
		return
	}

	method := store.MethodToolResult
	switch status {
	case StatusError:
		method = store.MethodToolError
	case StatusTimeout:
		method = store.MethodToolTimeout
	}

	audit, err := json.Marshal(map[string]any{
		"request_id": reqID,
		"tool":       provider + ":" + tool,
		"result":     result,
	})
	if err != nil {
		audit = []byte(result)
	}

	ctx, cancel := context.WithTimeout(g.baseCtx, 5*time.Second)
	defer cancel()
	if _, err := g.rows.AppendRow(ctx, store.RowInput{
		RoomID:      roomID,
		Content:     string(audit),
		Method:      method,
		ParentRowID: callRowID,
		Author:      "gateway",
	}); err != nil {
		g.log.Error("appending tool outcome row", "request_id", reqID, "error", err)
	}
}

// Poll reports a request's result and status. Unknown ids return
// fault.ErrNotFound; a terminal request keeps answering identically until
// Clear evicts it.
func (g *Gateway) Poll(reqID string) (string, Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.requests[reqID]
	if !ok {
		return "", "", fmt.Errorf("request %s: %w", reqID, fault.ErrNotFound)
	}
	return req.Result, req.Status, nil
}

// Clear evicts a terminal request from the live table. Clearing a pending
// request is refused so an in-flight call cannot be orphaned.
func (g *Gateway) Clear(reqID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.requests[reqID]
	if !ok {
		return fmt.Errorf("request %s: %w", reqID, fault.ErrNotFound)
	}
	if !req.Status.Terminal() {
		return fmt.Errorf("request %s still pending: %w", reqID, fault.ErrConflict)
	}
	delete(g.requests, reqID)
	return nil
}

// Sweep ticks between provider availability refreshes.
const refreshEvery = 6

// Run drives the timeout sweep and the periodic provider availability
// refresh until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.sweepInterval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.Sweep(time.Now().UTC())
			tick++
			if tick%refreshEvery == 0 {
				g.RefreshProviders(ctx)
			}
		}
	}
}

// Sweep flips every expired pending request to Timeout. Exposed for tests
// and called periodically by Run; hitting the same request twice is a no-op
// because finalize only acts on pending entries.
func (g *Gateway) Sweep(now time.Time) {
	g.mu.Lock()
	var expired []string
	for id, req := range g.requests {
		if req.Status == StatusPending && now.After(req.Deadline) {
			expired = append(expired, id)
		}
	}
	g.mu.Unlock()

	for _, id := range expired {
		g.finalize(id, StatusTimeout, fmt.Sprintf("no response within %s", g.callTimeout))
	}
}

// PendingCount reports the live table size (pending entries only).
func (g *Gateway) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, req := range g.requests {
		if req.Status == StatusPending {
			n++
		}
	}
	return n
}

func textContent(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
