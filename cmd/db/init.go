package db

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pezi/treedb/cmd/cmdutil"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the TreeDB tables if they are missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cmdutil.Load()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "db:init - opening %s store...\n", cfg.Storage.Driver)
		_, st, err := cmdutil.Open(context.Background(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		b := st.Backend()
		fmt.Fprintf(os.Stderr, "db:init - schema ready (%s via %s)\n", b.Database, b.Implementation)
		return nil
	},
}

func init() {
	DBCmd.AddCommand(initCmd)
}
