package backup

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pezi/treedb/cmd/cmdutil"
	bkp "github.com/pezi/treedb/internal/backup"
	"github.com/pezi/treedb/internal/paths"
	"github.com/pezi/treedb/internal/privacy"
	"github.com/pezi/treedb/internal/tdef"
)

var (
	flagOut        string
	flagDomain     int32
	flagFormat     string
	flagKeep       []string
	flagNoUsers    bool
	flagActiveOnly bool
	flagSince      string
	flagJSON       bool
)

// BackupCmd writes a full or domain backup archive.
var BackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export the database, or one domain, into a TDEF archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cmdutil.Load()
		if err != nil {
			return err
		}
		opt, err := bkp.OptionsFromConfig(cfg.Export)
		if err != nil {
			return err
		}
		if flagFormat != "" {
			if opt.Serialization, err = tdef.ParseSerialization(flagFormat); err != nil {
				return err
			}
		}
		if flagActiveOnly {
			opt.ActiveOnly = true
		}
		if flagNoUsers {
			opt.IncludeUsers = false
		}
		if flagSince != "" {
			t, err := time.Parse(time.RFC3339, flagSince)
			if err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			opt.ModifiedSince = t
		}
		keep, err := privacy.ParseFlags(flagKeep)
		if err != nil {
			return err
		}
		out := strings.TrimSpace(flagOut)
		if out == "" {
			if out, err = paths.DefaultArchive(time.Now()); err != nil {
				return err
			}
		}

		ctx := context.Background()
		reg, st, err := cmdutil.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		x := bkp.NewExporter(reg, st, opt)
		var m *tdef.Manifest
		if flagDomain != 0 {
			m, err = x.BackupDomain(ctx, out, flagDomain, &privacy.Filter{Keep: keep})
		} else {
			m, err = x.Backup(ctx, out)
		}
		if err != nil {
			return err
		}
		counts, err := m.CountMap()
		if err != nil {
			return err
		}
		var size int64
		if fi, err := os.Stat(out); err == nil {
			size = fi.Size()
		}
		if flagJSON {
			return cmdutil.PrintJSON(map[string]any{
				"path":     out,
				"exportId": m.ExportID,
				"kind":     m.Kind,
				"bytes":    size,
				"counts":   counts,
			})
		}
		var total int64
		for _, n := range counts {
			total += n
		}
		fmt.Fprintf(os.Stderr, "%s backup %s: %d records, %s, took %s\n",
			strings.ToLower(string(m.Kind)), out, total, humanize.Bytes(uint64(size)),
			m.Ended().Sub(m.Started()).Round(time.Millisecond))
		return nil
	},
}

func init() {
	BackupCmd.Flags().StringVarP(&flagOut, "out", "o", "", "Archive path (default $TREEDB_HOME/backups/treedb-<time>.tdef)")
	BackupCmd.Flags().Int32Var(&flagDomain, "domain", 0, "Export only this domain (historization ID)")
	BackupCmd.Flags().StringVar(&flagFormat, "format", "", "Record serialization: json|xml|binary (default from config)")
	BackupCmd.Flags().StringSliceVar(&flagKeep, "keep", nil, "Domain backups: user fields to keep (name,phone,mobile,external)")
	BackupCmd.Flags().BoolVar(&flagNoUsers, "no-users", false, "Domain backups: do not export referenced users")
	BackupCmd.Flags().BoolVar(&flagActiveOnly, "active-only", false, "Export only active rows")
	BackupCmd.Flags().StringVar(&flagSince, "since", "", "Export only rows modified at or after this RFC3339 time; the archive cannot be restored on its own when those rows reference unmodified ones")
	BackupCmd.Flags().BoolVar(&flagJSON, "json", false, "Output JSON summary")
}
