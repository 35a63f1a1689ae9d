package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"atrium/internal/config"
	"atrium/internal/store"
)

func initCmd() *cobra.Command {
	var worldName string
	var dsn string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new atrium world",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(worldName) == "" {
				return fmt.Errorf("--name is required")
			}
			return runInit(worldName, dsn)
		},
	}
	cmd.Flags().StringVar(&worldName, "name", "", "World name")
	cmd.Flags().StringVar(&dsn, "dsn", "sqlite://atrium.db", "Database DSN")
	return cmd
}

func runInit(worldName, dsn string) error {
	configPath := "atrium.yaml"
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}

	contents := fmt.Sprintf(`world: %s
version: 1

database:
  dsn: %s

listen:
  addr: ":4000"

backend:
  kind: ""
  model: ""
  api_key_env: ""

compose:
  budget: 8000
  history_limit: 200

gateway:
  call_timeout: 30s
  sweep_interval: 5s

providers: []
`, worldName, dsn)
	if err := os.WriteFile(configPath, []byte(contents), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", configPath, err)
	}

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
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	rootID, err := db.InsertThing(ctx, store.ThingInput{
		Kind:          store.KindContainer,
		Name:          worldName,
		QualifiedName: "container/root",
	})
	if err != nil {
		return fmt.Errorf("seeding root container: %w", err)
	}
	if _, err := db.InsertThing(ctx, store.ThingInput{
		ParentID:      rootID,
		Kind:          store.KindRoom,
		Name:          "lobby",
		QualifiedName: "room/lobby",
		Content:       "A quiet entry hall. Rooms branch off from here.",
	}); err != nil {
		return fmt.Errorf("seeding lobby: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Initialized %s: wrote %s and seeded room/lobby.\n", worldName, configPath)
	return nil
}
