// Package archive holds the commands that read TDEF archives without a
// database: show and verify.
package archive

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pezi/treedb/cmd/cmdutil"
	bkp "github.com/pezi/treedb/internal/backup"
	"github.com/pezi/treedb/internal/tdef"
)

var flagShowJSON bool

// ShowCmd prints the manifest and the per-type content of an archive.
var ShowCmd = &cobra.Command{
	Use:   "show <archive>",
	Short: "Print the manifest and entry counts of an archive",
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
		inv, err := bkp.Inspect(ar)
		if err != nil {
			return err
		}
		if flagShowJSON {
			return cmdutil.PrintJSON(inv)
		}
		printManifest(inv.Manifest)
		printTypes(inv, false)
		return nil
	},
}

func init() {
	ShowCmd.Flags().BoolVar(&flagShowJSON, "json", false, "Output JSON")
}

func printManifest(m *tdef.Manifest) {
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"FIELD", "VALUE"})
	tw.SetAutoWrapText(false)
	rows := [][]string{
		{"export id", m.ExportID},
		{"kind", string(m.Kind)},
		{"schema", m.SchemaVersion},
		{"serialization", string(m.Serialization)},
		{"compression", string(m.Compression)},
		{"source", fmt.Sprintf("%s / %s / %s", m.PersistenceLayer, m.Implementation, m.Database)},
		{"host", fmt.Sprintf("%s (%s %s)", m.Hostname, m.OS, m.Platform)},
		{"started", m.Started().Format(time.RFC3339)},
		{"took", m.Ended().Sub(m.Started()).Round(time.Millisecond).String()},
		{"fetch size", strconv.Itoa(m.FetchSize)},
		{"active only", strconv.FormatBool(m.ActiveOnly)},
	}
	if m.Incremental() {
		rows = append(rows, []string{"modified since", m.Since().UTC().Format(time.RFC3339)})
	}
	if m.Kind == tdef.KindDomain {
		rows = append(rows, []string{"domain", strconv.Itoa(int(m.DomainID))})
		for _, d := range m.Descriptions {
			rows = append(rows, []string{"description (" + d.Lang + ")", d.Text})
		}
	}
	for _, r := range rows {
		tw.Append(r)
	}
	tw.Render()
}

func printTypes(inv *bkp.Inventory, verified bool) {
	tw := tablewriter.NewWriter(os.Stdout)
	header := []string{"TYPE", "TAG", "RECORDS", "BATCHES", "FILES", "SIZE"}
	if verified {
		header = append(header, "FOUND", "PROBLEM")
	}
	tw.SetHeader(header)
	for _, t := range inv.Types {
		row := []string{
			t.Name,
			strconv.FormatUint(uint64(t.Tag), 10),
			humanize.Comma(t.Expected),
			strconv.Itoa(t.Batches),
			strconv.Itoa(t.Files),
			humanize.Bytes(uint64(t.Bytes)),
		}
		if verified {
			row = append(row, humanize.Comma(t.Found), t.Problem)
		}
		tw.Append(row)
	}
	tw.SetFooter(footer(inv, verified))
	tw.Render()
	for _, o := range inv.Orphans {
		fmt.Fprintf(os.Stderr, "orphan entry: %s\n", o)
	}
}

func footer(inv *bkp.Inventory, verified bool) []string {
	var total int64
	for _, t := range inv.Types {
		total += t.Expected
	}
	f := []string{"TOTAL", "", humanize.Comma(total), "", strconv.Itoa(inv.Files), humanize.Bytes(uint64(inv.Bytes))}
	if verified {
		f = append(f, "", "")
	}
	return f
}
