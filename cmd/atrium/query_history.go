package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"atrium/internal/config"
	"atrium/internal/store"
)

func queryHistoryCmd() *cobra.Command {
	var configPath string
	var limit int
	var beforeID int64
	cmd := &cobra.Command{
		Use:   "history <room>",
		Short: "Print a room's recent log entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueryHistory(configPath, args[0], limit, beforeID)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "atrium.yaml", "Config file path")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to print")
	cmd.Flags().Int64Var(&beforeID, "before", 0, "Only rows older than this row id")
	return cmd
}

func runQueryHistory(configPath, room string, limit int, beforeID int64) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close(ctx)

	roomThing, err := lookupThing(ctx, db, room)
	if err != nil {
		return err
	}
	rows, err := db.GetRows(ctx, roomThing.ID, limit, beforeID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "No history.")
		return nil
	}
	// Rows arrive most recent first; print oldest first for reading.
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if r.Method == store.MethodChunk {
			continue
		}
		fmt.Fprintf(os.Stdout, "%6d %s [%s] %s: %s\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Method, r.Author, r.Content)
	}
	return nil
}
