package db

import "github.com/spf13/cobra"

// DBCmd is the root for database maintenance subcommands.
var DBCmd = &cobra.Command{
	Use:   "db",
	Short: "Initialize and inspect the configured database",
}
