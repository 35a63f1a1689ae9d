package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"atrium/internal/config"
)

func queryExitsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "exits <room>",
		Short: "List the exits leading out of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueryExits(configPath, args[0])
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "atrium.yaml", "Config file path")
	return cmd
}

func runQueryExits(configPath, room string) error {
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
	exits, err := db.GetExits(ctx, roomThing.ID)
	if err != nil {
		return err
	}
	if len(exits) == 0 {
		fmt.Fprintln(os.Stdout, "No exits.")
		return nil
	}
	for _, e := range exits {
		dest := e.ToRoomID
		if to, err := db.GetThing(ctx, e.ToRoomID); err == nil {
			dest = to.Name
		}
		fmt.Fprintf(os.Stdout, "%-10s -> %s\n", e.Direction, dest)
	}
	return nil
}
