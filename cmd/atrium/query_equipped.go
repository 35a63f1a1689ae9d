package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"atrium/internal/config"
	"atrium/internal/store"
)

func queryEquippedCmd() *cobra.Command {
	var configPath string
	var agent string
	var kind string
	cmd := &cobra.Command{
		Use:   "equipped <room>",
		Short: "List things equipped in a room, merged with an agent's own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueryEquipped(configPath, args[0], agent, kind)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "atrium.yaml", "Config file path")
	cmd.Flags().StringVar(&agent, "agent", "", "Agent whose equipment overrides the room's")
	cmd.Flags().StringVar(&kind, "kind", "", "Kind filter (tool, prompt, resource)")
	return cmd
}

func runQueryEquipped(configPath, room, agent, kind string) error {
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
	contexts := []string{roomThing.ID}
	if agent != "" {
		agentThing, err := lookupThing(ctx, db, agent)
		if err != nil {
			return err
		}
		contexts = append(contexts, agentThing.ID)
	}

	equipped, err := db.GetEquippedMerged(ctx, contexts, store.Kind(kind))
	if err != nil {
		return err
	}
	if len(equipped) == 0 {
		fmt.Fprintln(os.Stdout, "Nothing equipped.")
		return nil
	}
	for _, e := range equipped {
		origin := "room"
		if e.ContextID != roomThing.ID {
			origin = "agent"
		}
		fmt.Fprintf(os.Stdout, "%-8s %-10s p%-3d %s (%s)\n", origin, e.Kind, e.Priority, e.Name, e.ID)
	}
	return nil
}
