package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"kicad-bakery/internal/backup"
	"kicad-bakery/internal/config"
	"kicad-bakery/internal/journal"
	"kicad-bakery/internal/libtable"
	"kicad-bakery/internal/localize"

	"github.com/cockroachdb/errors"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newTable(out io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

func renderReferences(out io.Writer, report *localize.Report, format string) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report.References)
	}

	t := newTable(out, table.Row{"Category", "Reference", "File", "Line", "Column"})
	for _, ref := range report.References {
		file := ref.File
		if rel, err := filepath.Rel(report.ProjectDir, ref.File); err == nil {
			file = rel
		}
		t.AppendRow(table.Row{ref.Category, ref.Value, file, ref.Line, ref.Column})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(report.References)})
	t.Render()

	if len(report.Skipped) > 0 {
		s := newTable(out, table.Row{"Category", "Item", "Reason"})
		for _, sk := range report.Skipped {
			s.AppendRow(table.Row{sk.Category, sk.Item, sk.Reason})
		}
		s.Render()
	}
	return nil
}

func backupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backups <file>",
		Short: "List the backups of a file, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := backup.Find(args[0])
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), table.Row{"Backup", "Created"})
			for _, r := range records {
				t.AppendRow(table.Row{filepath.Base(r.Backup), r.CreatedAt.Format(time.DateTime)})
			}
			t.Render()
			return nil
		},
	}
}

func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Copy a backup over its original file",
		Long: `Restores a <file>.bak_YYYYMMDD_HHMMSS backup. The current content of the
original is backed up first, so a restore can itself be undone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve %s: %w", args[0], err)
			}
			rec, ok := backup.Parse(path)
			if !ok {
				return errors.WithHint(errors.Newf("%s is not a backup file", args[0]),
					"backup files are named <file>.bak_YYYYMMDD_HHMMSS; list them with `bakery backups <file>`")
			}
			if err := backup.NewManager(nil).Restore(rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", rec.Original)
			return nil
		},
	}
}

func libtableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "libtable",
		Short: "Inspect and edit fp-lib-table and sym-lib-table files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <table-file>",
		Short: "List the libraries registered in a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := loadTable(args[0])
			if err != nil {
				return err
			}
			out := newTable(cmd.OutOrStdout(), table.Row{"Name", "Type", "URI", "Description"})
			for _, e := range t.Entries() {
				out.AppendRow(table.Row{e.Name, e.Type, e.URI, e.Descr})
			}
			out.Render()
			return nil
		},
	})

	add := &cobra.Command{
		Use:   "add <table-file>",
		Short: "Register a library; an identical entry is left as is",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLibtableAdd(cmd.OutOrStdout(), args[0], entryFlags(cmd))
		},
	}
	addEntryFlags(add)
	cmd.AddCommand(add)

	set := &cobra.Command{
		Use:   "set <table-file>",
		Short: "Register a library, overwriting an entry with the same name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLibtableSet(cmd.OutOrStdout(), args[0], entryFlags(cmd))
		},
	}
	addEntryFlags(set)
	cmd.AddCommand(set)

	remove := &cobra.Command{
		Use:   "remove <table-file>",
		Short: "Unregister a library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			return runLibtableRemove(cmd.OutOrStdout(), args[0], name)
		},
	}
	remove.Flags().String("name", "", "Library nickname")
	_ = remove.MarkFlagRequired("name")
	cmd.AddCommand(remove)

	return cmd
}

func addEntryFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "Library nickname")
	cmd.Flags().String("uri", "", "Library location, e.g. ${KIPRJMOD}/MyLib.pretty")
	cmd.Flags().String("type", "KiCad", "Library type")
	cmd.Flags().String("options", "", "Library options")
	cmd.Flags().String("descr", "", "Description")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("uri")
}

func entryFlags(cmd *cobra.Command) libtable.Entry {
	var e libtable.Entry
	e.Name, _ = cmd.Flags().GetString("name")
	e.URI, _ = cmd.Flags().GetString("uri")
	e.Type, _ = cmd.Flags().GetString("type")
	e.Options, _ = cmd.Flags().GetString("options")
	e.Descr, _ = cmd.Flags().GetString("descr")
	return e
}

// tableKind infers the table format from its file name.
func tableKind(path string) (libtable.Kind, error) {
	switch filepath.Base(path) {
	case libtable.Footprint.FileName():
		return libtable.Footprint, nil
	case libtable.Symbol.FileName():
		return libtable.Symbol, nil
	}
	return "", errors.WithHintf(errors.Newf("cannot tell the table kind of %s", path),
		"the file must be named %s or %s", libtable.Footprint.FileName(), libtable.Symbol.FileName())
}

func loadTable(path string) (*libtable.Table, error) {
	kind, err := tableKind(path)
	if err != nil {
		return nil, err
	}
	return libtable.Load(path, kind)
}

func runLibtableAdd(out io.Writer, path string, e libtable.Entry) error {
	if err := libtable.ValidateName(e.Name); err != nil {
		return err
	}
	t, err := loadTable(path)
	if err != nil {
		return err
	}
	added, err := t.Add(e)
	if err != nil {
		return err
	}
	if !added {
		fmt.Fprintf(out, "%s is already registered\n", e.Name)
		return nil
	}
	if err := t.Save(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Registered %s in %s\n", e.Name, path)
	return nil
}

func runLibtableSet(out io.Writer, path string, e libtable.Entry) error {
	if err := libtable.ValidateName(e.Name); err != nil {
		return err
	}
	t, err := loadTable(path)
	if err != nil {
		return err
	}
	t.Set(e)
	if err := t.Save(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Set %s in %s\n", e.Name, path)
	return nil
}

func runLibtableRemove(out io.Writer, path, name string) error {
	t, err := loadTable(path)
	if err != nil {
		return err
	}
	if !t.Remove(name) {
		return errors.WithHintf(errors.Newf("%s is not registered in %s", name, path),
			"list the registered libraries with `bakery libtable list %s`", path)
	}
	if err := t.Save(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed %s from %s\n", name, path)
	return nil
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent journaled runs (needs DATABASE_URL)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			export, _ := cmd.Flags().GetString("export")
			return runHistory(cmd, limit, export)
		},
	}

	cmd.Flags().Int("limit", 20, "Number of runs to show")
	cmd.Flags().String("export", "", "Write the runs to this JSON file instead of printing them")

	return cmd
}

// runHistory handles the `history` command.
func runHistory(cmd *cobra.Command, limit int, export string) error {
	ctx, cancel := setupContext()
	defer cancel()

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return errors.WithHint(errors.New("no run journal configured"), "set DATABASE_URL to a PostgreSQL connection string")
	}

	store, err := initJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if export != "" {
		return store.ExportJSON(ctx, export, limit)
	}

	runs, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	renderRuns(cmd.OutOrStdout(), runs)
	return nil
}

func renderRuns(out io.Writer, runs []journal.Run) {
	t := newTable(out, table.Row{"Run", "Project", "Started", "Copied", "Reused", "Failed", "Rewrites", "Status"})
	for _, r := range runs {
		status := "ok"
		switch {
		case r.Aborted:
			status = "aborted: " + r.AbortReason
		case r.Failed > 0:
			status = "failures"
		}
		t.AppendRow(table.Row{r.RunID, r.ProjectDir, r.StartedAt.Local().Format(time.DateTime), r.Copied, r.Reused, r.Failed, r.Substitutions, status})
	}
	t.Render()
}
