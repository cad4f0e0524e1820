package db

import (
	"context"
	"os"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pezi/treedb/cmd/cmdutil"
	"github.com/pezi/treedb/internal/registry"
	"github.com/pezi/treedb/internal/store"
)

var flagCountJSON bool

// typeCount is one row of the count output.
type typeCount struct {
	Type   string `json:"type"`
	Tag    uint32 `json:"tag"`
	Total  int64  `json:"total"`
	Active int64  `json:"active"`
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count rows per entity type",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cmdutil.Load()
		if err != nil {
			return err
		}
		ctx := context.Background()
		reg, st, err := cmdutil.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		var counts []typeCount
		err = store.InTx(ctx, st, func(tx store.Tx) error {
			var err error
			counts, err = countTypes(ctx, tx, reg)
			return err
		})
		if err != nil {
			return err
		}
		if flagCountJSON {
			return cmdutil.PrintJSON(counts)
		}
		tw := tablewriter.NewWriter(os.Stdout)
		tw.SetHeader([]string{"TYPE", "TAG", "TOTAL", "ACTIVE"})
		for _, c := range counts {
			tw.Append([]string{c.Type, strconv.FormatUint(uint64(c.Tag), 10), humanize.Comma(c.Total), humanize.Comma(c.Active)})
		}
		tw.Render()
		return nil
	},
}

func init() {
	DBCmd.AddCommand(countCmd)
	countCmd.Flags().BoolVar(&flagCountJSON, "json", false, "Output JSON")
}

// countTypes counts the rows of every concrete entity type, ordered by tag.
func countTypes(ctx context.Context, tx store.Tx, reg *registry.Registry) ([]typeCount, error) {
	types := reg.Types()
	sort.Slice(types, func(i, j int) bool { return types[i].Tag < types[j].Tag })
	var out []typeCount
	for _, t := range types {
		if t.Abstract || t.Infrastructure {
			continue
		}
		total, err := tx.Count(ctx, store.Query{Type: t.Name})
		if err != nil {
			return nil, err
		}
		active, err := tx.Count(ctx, store.Query{Type: t.Name, ActiveOnly: true})
		if err != nil {
			return nil, err
		}
		out = append(out, typeCount{Type: t.Name, Tag: t.Tag, Total: total, Active: active})
	}
	return out, nil
}
