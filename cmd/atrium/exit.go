package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"atrium/internal/config"
	"atrium/internal/store"
)

func exitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exit",
		Short: "Manage exits between rooms",
	}
	cmd.AddCommand(exitCreateCmd())
	cmd.AddCommand(exitDeleteCmd())
	return cmd
}

func exitCreateCmd() *cobra.Command {
	var configPath string
	var both bool
	cmd := &cobra.Command{
		Use:   "create <from-room> <direction> <to-room>",
		Short: "Create an exit, optionally with its reverse",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExitCreate(configPath, args[0], args[1], args[2], both)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "atrium.yaml", "Config file path")
	cmd.Flags().BoolVar(&both, "both", false, "Also create the reverse exit")
	return cmd
}

func runExitCreate(configPath, from, direction, to string, both bool) error {
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

	fromRoom, err := lookupThing(ctx, db, from)
	if err != nil {
		return err
	}
	toRoom, err := lookupThing(ctx, db, to)
	if err != nil {
		return err
	}

	if both {
		if store.ReverseDirection(direction) == "" {
			return fmt.Errorf("no conventional reverse for %q; create each direction separately", direction)
		}
		if err := store.CreateBidirectionalExit(ctx, db, fromRoom.ID, direction, toRoom.ID); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Created %s --%s--> %s and its reverse.\n", fromRoom.Name, direction, toRoom.Name)
		return nil
	}

	if err := db.CreateExit(ctx, fromRoom.ID, direction, toRoom.ID); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Created %s --%s--> %s.\n", fromRoom.Name, direction, toRoom.Name)
	return nil
}

func exitDeleteCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "delete <from-room> <direction>",
		Short: "Soft-delete one direction of an exit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExitDelete(configPath, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "atrium.yaml", "Config file path")
	return cmd
}

func runExitDelete(configPath, from, direction string) error {
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

	fromRoom, err := lookupThing(ctx, db, from)
	if err != nil {
		return err
	}
	if err := db.DeleteExit(ctx, fromRoom.ID, direction); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Deleted %s --%s--> (reverse, if any, untouched).\n", fromRoom.Name, direction)
	return nil
}
