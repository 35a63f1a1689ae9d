package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"atrium/internal/config"
)

func gcCmd() *cobra.Command {
	var configPath string
	var olderThan time.Duration
	var orphansOnly bool
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Purge soft-deleted records past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGC(configPath, olderThan, orphansOnly)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "atrium.yaml", "Config file path")
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Retention window for soft-deleted records")
	cmd.Flags().BoolVar(&orphansOnly, "orphans", false, "Only report orphaned things, purge nothing")
	return cmd
}

func runGC(configPath string, olderThan time.Duration, orphansOnly bool) error {
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

	if !orphansOnly {
		purged, err := db.PurgeDeleted(ctx, olderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Purged %d records deleted more than %s ago.\n", purged, olderThan)
	}

	orphans, err := db.ListOrphaned(ctx)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		fmt.Fprintln(os.Stdout, "No orphaned things.")
		return nil
	}
	fmt.Fprintf(os.Stdout, "%d orphaned things (parent deleted or purged):\n", len(orphans))
	for _, o := range orphans {
		fmt.Fprintf(os.Stdout, "  %s %s (%s)\n", o.ID, o.Name, o.Kind)
	}
	return nil
}
