// Package mcp exposes the world to agent-side callers over the Model
// Context Protocol: the gateway's tool catalog, call/poll, prompt preview,
// and the room log.
package mcp

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"atrium/internal/gateway"
	"atrium/internal/store"
)

// Options carries the composition defaults the compose_preview tool falls
// back to when the caller does not override them.
type Options struct {
	WorldName    string
	Budget       int
	HistoryLimit int
}

type Server struct {
	db   store.Store
	gw   *gateway.Gateway
	rows gateway.RowSink
	opts Options
	mcp  *sdk.Server
}

// NewServer builds the MCP surface. rows is where appends land; the serve
// command passes the broadcast hub so MCP-originated messages reach live
// sessions, the standalone agent command passes the store.
func NewServer(db store.Store, gw *gateway.Gateway, rows gateway.RowSink, opts Options, version string) *Server {
	if opts.Budget <= 0 {
		opts.Budget = 8000
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 200
	}
	s := &Server{
		db:   db,
		gw:   gw,
		rows: rows,
		opts: opts,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "atrium",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}
