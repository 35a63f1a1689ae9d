package main

import "github.com/spf13/cobra"

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Inspect the world from the CLI",
	}
	cmd.AddCommand(queryThingCmd())
	cmd.AddCommand(queryEquippedCmd())
	cmd.AddCommand(queryExitsCmd())
	cmd.AddCommand(queryHistoryCmd())
	return cmd
}
