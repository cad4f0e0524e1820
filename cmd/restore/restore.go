package restore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pezi/treedb/cmd/cmdutil"
	bkp "github.com/pezi/treedb/internal/backup"
)

var (
	flagPurge bool
	flagYes   bool
	flagJSON  bool
)

// RestoreCmd imports an archive into the configured database.
var RestoreCmd = &cobra.Command{
	Use:   "restore <archive>",
	Short: "Import a TDEF archive into the configured database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		cfg, err := cmdutil.Load()
		if err != nil {
			return err
		}
		if flagPurge && !flagYes {
			ok, err := confirm(os.Stdin, os.Stderr, fmt.Sprintf("About to delete every row in the %s database before restoring %s. Type 'yes' to confirm: ", cfg.Storage.Driver, path))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(os.Stderr, "aborted")
				return nil
			}
		}
		ctx := context.Background()
		reg, st, err := cmdutil.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := bkp.NewImporter(reg, st, bkp.RestoreOptions{Purge: flagPurge, FetchSize: cfg.Export.FetchSize}).FullRestore(ctx, path)
		if err != nil {
			return err
		}
		if flagJSON {
			return cmdutil.PrintJSON(map[string]any{
				"exportId": res.Manifest.ExportID,
				"kind":     res.Manifest.Kind,
				"records":  res.Records,
				"purged":   res.Purged,
				"files":    res.Files,
				"bytes":    res.Bytes,
			})
		}
		var total int64
		for _, n := range res.Records {
			total += n
		}
		fmt.Fprintf(os.Stderr, "restored %d records and %d files (%s) from %s\n",
			total, res.Files, humanize.Bytes(uint64(res.Bytes)), path)
		return nil
	},
}

func init() {
	RestoreCmd.Flags().BoolVar(&flagPurge, "purge", false, "Delete all existing rows first")
	RestoreCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "Do not prompt before purging")
	RestoreCmd.Flags().BoolVar(&flagJSON, "json", false, "Output JSON summary")
}

var errNoTerminal = errors.New("refusing to purge without confirmation: stdin is not a terminal, pass --yes")

// confirm prompts on in, which must be a terminal.
func confirm(in *os.File, out io.Writer, prompt string) (bool, error) {
	if !term.IsTerminal(int(in.Fd())) {
		return false, errNoTerminal
	}
	fmt.Fprint(out, prompt)
	return readAnswer(in)
}

// readAnswer reads one line and reports whether it says yes. Input that ends
// before a full line is not a confirmation.
func readAnswer(in io.Reader) (bool, error) {
	s, err := bufio.NewReader(in).ReadString('\n')
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	return strings.TrimSpace(strings.ToLower(s)) == "yes", nil
}
