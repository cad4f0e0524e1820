package archive

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pezi/treedb/cmd/cmdutil"
	bkp "github.com/pezi/treedb/internal/backup"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/tdef"
)

var flagVerifyJSON bool

var errVerify = errors.New("archive verification failed")

// VerifyCmd decodes every batch of an archive and checks it against the
// manifest.
var VerifyCmd = &cobra.Command{
	Use:   "verify <archive>",
	Short: "Check record counts, batch numbering and file entries of an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cmdutil.Load(); err != nil {
			return err
		}
		ar, err := tdef.Open(args[0])
		if err != nil {
			return err
		}
		defer ar.Close()
		inv, err := bkp.Verify(ar, registry.Default())
		if err != nil {
			return err
		}
		if flagVerifyJSON {
			if err := cmdutil.PrintJSON(map[string]any{"ok": inv.OK(), "inventory": inv}); err != nil {
				return err
			}
		} else {
			printTypes(inv, true)
		}
		if !inv.OK() {
			return errVerify
		}
		if !flagVerifyJSON {
			fmt.Fprintf(os.Stderr, "%s: ok\n", args[0])
		}
		return nil
	},
}

func init() {
	VerifyCmd.Flags().BoolVar(&flagVerifyJSON, "json", false, "Output JSON")
}
