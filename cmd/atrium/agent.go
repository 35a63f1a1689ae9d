package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"atrium/internal/config"
	"atrium/internal/gateway"
	"atrium/internal/logging"
	"atrium/internal/mcp"
)

func agentCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Expose the world to agent callers over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "atrium.yaml", "Config file path")
	return cmd
}

func runAgent(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// stdout is the MCP wire; logs go to stderr.
	log := logging.New("info", os.Stderr)

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close(context.Background())
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	gw := gateway.New(ctx, db, log, cfg.Gateway.CallTimeout.Std(), cfg.Gateway.SweepInterval.Std())
	for _, p := range cfg.Providers {
		if err := gw.ConnectProvider(ctx, p); err != nil {
			log.Error("connecting provider", "provider", p.Name, "error", err)
		}
	}
	go func() {
		if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("gateway sweeper stopped", "error", err)
		}
	}()

	server := mcp.NewServer(db, gw, db, mcp.Options{
		WorldName:    cfg.World,
		Budget:       cfg.Compose.Budget,
		HistoryLimit: cfg.Compose.HistoryLimit,
	}, version)
	return server.Run(ctx, &sdk.StdioTransport{})
}
