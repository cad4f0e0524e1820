package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pezi/treedb/cmd/archive"
	backupcmd "github.com/pezi/treedb/cmd/backup"
	"github.com/pezi/treedb/cmd/cmdutil"
	dbcmd "github.com/pezi/treedb/cmd/db"
	restorecmd "github.com/pezi/treedb/cmd/restore"
)

var rootCmd = &cobra.Command{
	Use:   "treedb",
	Short: "Back up and restore TreeDB configuration databases",
	Long: `treedb exports a TreeDB database, or a single domain of it, into a
self-describing TDEF archive and restores such archives into another database.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cmdutil.LogLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.AddCommand(backupcmd.BackupCmd)
	rootCmd.AddCommand(restorecmd.RestoreCmd)
	rootCmd.AddCommand(archive.ShowCmd)
	rootCmd.AddCommand(archive.VerifyCmd)
	rootCmd.AddCommand(dbcmd.DBCmd)
}
