package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"atrium/internal/config"
	"atrium/internal/fault"
	"atrium/internal/store"
)

func queryThingCmd() *cobra.Command {
	var configPath string
	var children bool
	var kind string
	cmd := &cobra.Command{
		Use:   "thing <qualified-name-or-id>",
		Short: "Show a thing and optionally its children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueryThing(configPath, args[0], children, kind)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "atrium.yaml", "Config file path")
	cmd.Flags().BoolVar(&children, "children", false, "List the thing's children")
	cmd.Flags().StringVar(&kind, "kind", "", "Kind filter for --children")
	return cmd
}

func runQueryThing(configPath, target string, children bool, kind string) error {
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

	thing, err := lookupThing(ctx, db, target)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%s (%s)\n", thing.Name, thing.Kind)
	fmt.Fprintf(os.Stdout, "  id: %s\n", thing.ID)
	if thing.QualifiedName != "" {
		fmt.Fprintf(os.Stdout, "  qualified_name: %s\n", thing.QualifiedName)
	}
	if thing.ParentID != "" {
		fmt.Fprintf(os.Stdout, "  parent: %s\n", thing.ParentID)
	}
	if thing.Content != "" {
		fmt.Fprintf(os.Stdout, "  content: %s\n", thing.Content)
	}
	if thing.URI != "" {
		fmt.Fprintf(os.Stdout, "  uri: %s\n", thing.URI)
	}
	fmt.Fprintf(os.Stdout, "  available: %t\n", thing.Available)

	if !children {
		return nil
	}
	kids, err := db.GetChildren(ctx, thing.ID, store.Kind(kind))
	if err != nil {
		return err
	}
	if len(kids) == 0 {
		fmt.Fprintln(os.Stdout, "No children.")
		return nil
	}
	for _, k := range kids {
		fmt.Fprintf(os.Stdout, "  - %s (%s) %s\n", k.Name, k.Kind, k.ID)
	}
	return nil
}

// lookupThing accepts a qualified name first, then a raw id.
func lookupThing(ctx context.Context, db store.Store, target string) (*store.Thing, error) {
	thing, err := db.GetByQualifiedName(ctx, target)
	if err == nil {
		return thing, nil
	}
	if !errors.Is(err, fault.ErrNotFound) {
		return nil, err
	}
	return db.GetThing(ctx, target)
}
