package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"atrium/internal/agent"
	"atrium/internal/config"
	"atrium/internal/gateway"
	"atrium/internal/logging"
	"atrium/internal/session"
	"atrium/internal/store"
)

func serveCmd() *cobra.Command {
	var configPath string
	var logLevel string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the collaboration server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, logLevel)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "atrium.yaml", "Config file path")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	return cmd
}

func runServe(configPath, logLevel string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(logLevel, os.Stderr)

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close(context.Background())
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	hub := session.NewHub(db, log)

	gw := gateway.New(ctx, db, log, cfg.Gateway.CallTimeout.Std(), cfg.Gateway.SweepInterval.Std())
	gw.UseRowSink(hub)
	for _, p := range cfg.Providers {
		if err := gw.ConnectProvider(ctx, p); err != nil {
			// A dead provider keeps its tools marked unavailable; the
			// server still comes up.
			log.Error("connecting provider", "provider", p.Name, "error", err)
		}
	}
	go func() {
		if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("gateway sweeper stopped", "error", err)
		}
	}()

	var backend agent.Backend
	if cfg.Backend.Kind != "" {
		if backend, err = agent.New(cfg.Backend, log); err != nil {
			return err
		}
		log.Info("model backend ready", "backend", backend.Name())
	} else {
		log.Warn("no model backend configured; agent mentions will be refused")
	}

	coord := session.NewCoordinator(ctx, db, hub, gw, backend, log, session.Config{
		WorldName:    cfg.World,
		Budget:       cfg.Compose.Budget,
		HistoryLimit: cfg.Compose.HistoryLimit,
	})

	ln, err := net.Listen("tcp", cfg.Listen.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen.Addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	log.Info("listening", "addr", cfg.Listen.Addr, "world", cfg.World)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("accepting connection", "error", err)
			continue
		}
		go handleConn(ctx, coord, conn, log)
	}

	log.Info("shutting down, waiting for in-flight turns")
	coord.Wait()
	return nil
}

func handleConn(ctx context.Context, coord *session.Coordinator, conn net.Conn, log *slog.Logger) {
	defer conn.Close()

	fmt.Fprint(conn, "name? ")
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}
	name := strings.TrimSpace(scanner.Text())
	if name == "" {
		name = "guest"
	}

	s := coord.Open(name)
	defer s.Close()

	go func() {
		for ev := range s.Events() {
			writeEvent(conn, ev)
		}
	}()

	fmt.Fprintf(conn, "hello %s. /help lists commands.\n", name)
	for scanner.Scan() {
		if err := s.Submit(ctx, scanner.Text()); err != nil {
			log.Warn("processing input", "session", s.ID, "error", err)
			fmt.Fprintln(conn, "* something went wrong; try again")
		}
	}
}

// writeEvent renders one event for a line-oriented client. Streamed chunks
// print as they arrive; the terminal chunk just closes the line, since its
// content repeats the accumulated deltas.
func writeEvent(conn net.Conn, ev session.Event) {
	switch {
	case ev.Notice != "":
		fmt.Fprintf(conn, "* %s\n", ev.Notice)
	case ev.Row == nil:
	case ev.Row.Method == store.MethodChunk:
		fmt.Fprint(conn, ev.Row.Content)
	case ev.Row.Method == store.MethodChunkEnd:
		fmt.Fprintln(conn)
	case ev.Row.Method == store.MethodNotice:
		fmt.Fprintf(conn, "* %s\n", ev.Row.Content)
	case ev.Row.Method == store.MethodError:
		fmt.Fprintf(conn, "! %s\n", ev.Row.Content)
	default:
		fmt.Fprintf(conn, "%s: %s\n", ev.Row.Author, ev.Row.Content)
	}
}
