package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/pahproject/catalogdb/internal/catalog"
	"github.com/pahproject/catalogdb/internal/histogram"
	"github.com/pahproject/catalogdb/internal/progress"
	"github.com/pahproject/catalogdb/internal/storage"
	"github.com/pahproject/catalogdb/pkg/types"
)

// FilesGroup contains files catalog operations.
type FilesGroup struct {
	Ingest FilesIngestCmd `cmd:"" help:"Ingest a listing of frame paths into the files table"`
	Count  FilesCountCmd  `cmd:"" help:"Count catalogued files"`
}

// OverlapsGroup contains overlaps table operations.
type OverlapsGroup struct {
	Init  OverlapsInitCmd  `cmd:"" help:"Create the overlaps table"`
	Add   OverlapsAddCmd   `cmd:"" help:"Record an overlapping file pair"`
	List  OverlapsListCmd  `cmd:"" help:"List recorded overlaps"`
	Dedup OverlapsDedupCmd `cmd:"" help:"Delete repeated file pairs, keeping the lowest overlap_id"`
}

// TableGroup contains table lifecycle operations.
type TableGroup struct {
	Create TableCreateCmd `cmd:"" help:"Create a catalog table"`
	Drop   TableDropCmd   `cmd:"" help:"Drop a table if it exists"`
	List   TableListCmd   `cmd:"" help:"List tables and row counts"`
}

// ColumnGroup contains column migration operations.
type ColumnGroup struct {
	Add  ColumnAddCmd  `cmd:"" help:"Add a column to a table"`
	Drop ColumnDropCmd `cmd:"" help:"Remove a column, preserving the other columns and rows"`
	List ColumnListCmd `cmd:"" help:"List the columns of a table"`
}

// withStore opens the named database for the duration of fn
func (a *App) withStore(name string, fn func(*storage.Store) error) error {
	store, err := catalog.OpenDatabase(a.ctx, a.cfg, name)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close catalog database")
		}
	}()
	return fn(store)
}

var heading = lipgloss.NewStyle().Bold(true)

// FilesIngestCmd ingests a listing into the files table.
type FilesIngestCmd struct {
	DB            string `arg:"" help:"Database name"`
	Listing       string `arg:"" help:"Listing file path or s3://bucket/key"`
	Filter        string `help:"Substring a line must contain to be ingested (default from config)"`
	SkipMalformed bool   `name:"skip-malformed" help:"Skip entries too short to parse instead of aborting"`
	Quiet         bool   `short:"q" help:"Do not report progress"`
	LogProgress   bool   `name:"log-progress" help:"Log progress in tenths instead of drawing bars"`
}

func (c *FilesIngestCmd) Run(app *App) error {
	if c.Filter != "" {
		app.cfg.Ingest.Filter = c.Filter
	}
	if c.SkipMalformed {
		app.cfg.Ingest.SkipMalformed = true
	}

	reporters := catalog.Progress{
		Download: progress.NewBar(os.Stderr, "fetch", 40),
		Ingest:   progress.NewBar(os.Stderr, "ingest", 40),
	}
	switch {
	case c.Quiet:
		reporters = catalog.Progress{Download: progress.Nop{}, Ingest: progress.Nop{}}
	case c.LogProgress:
		reporters = catalog.Progress{Download: progress.Steps("fetch"), Ingest: progress.Steps("ingest")}
	}

	report, err := catalog.CreateFileDatabase(app.ctx, app.cfg, c.DB, c.Listing, reporters)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.out, "Inserted %d of %d matching lines (%d read, %d skipped) in %s\n",
		report.Inserted, report.Matched, report.Lines, report.Skipped, report.Duration.Round(time.Millisecond))
	return nil
}

// FilesCountCmd prints the number of catalogued files.
type FilesCountCmd struct {
	DB string `arg:"" help:"Database name"`
}

func (c *FilesCountCmd) Run(app *App) error {
	return app.withStore(c.DB, func(s *storage.Store) error {
		n, err := s.CountRows(app.ctx, storage.FilesTableName)
		if err != nil {
			return err
		}
		fmt.Fprintln(app.out, n)
		return nil
	})
}

// OverlapsInitCmd creates the overlaps table.
type OverlapsInitCmd struct {
	DB string `arg:"" help:"Database name"`
}

func (c *OverlapsInitCmd) Run(app *App) error {
	if err := catalog.CreateOverlapsDatabase(app.ctx, app.cfg, c.DB); err != nil {
		return err
	}
	fmt.Fprintf(app.out, "Table %s ready\n", storage.OverlapsTableName)
	return nil
}

// OverlapsAddCmd inserts one overlap row.
type OverlapsAddCmd struct {
	DB          string   `arg:"" help:"Database name"`
	File1       int64    `arg:"" help:"id of the first file"`
	File2       int64    `arg:"" help:"id of the second file"`
	Background1 *float64 `name:"background1" help:"Background level of the first file"`
	Background2 *float64 `name:"background2" help:"Background level of the second file"`
}

func (c *OverlapsAddCmd) Run(app *App) error {
	return app.withStore(c.DB, func(s *storage.Store) error {
		id, err := s.InsertOverlap(app.ctx, types.OverlapRecord{
			File1ID:     c.File1,
			File2ID:     c.File2,
			Background1: c.Background1,
			Background2: c.Background2,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(app.out, "Inserted overlap %d\n", id)
		return nil
	})
}

// OverlapsListCmd prints the rows of an overlaps table.
type OverlapsListCmd struct {
	DB    string `arg:"" help:"Database name"`
	Table string `default:"overlaps" help:"Overlaps table to list"`
}

func (c *OverlapsListCmd) Run(app *App) error {
	return app.withStore(c.DB, func(s *storage.Store) error {
		rows, err := s.ListOverlaps(app.ctx, c.Table)
		if err != nil {
			return err
		}
		fmt.Fprintln(app.out, heading.Render(fmt.Sprintf("%10s %10s %10s %12s %12s", "ID", "FILE1", "FILE2", "BACKGROUND1", "BACKGROUND2")))
		for _, r := range rows {
			fmt.Fprintf(app.out, "%10d %10d %10d %12s %12s\n",
				r.OverlapID, r.File1ID, r.File2ID, formatBackground(r.Background1), formatBackground(r.Background2))
		}
		return nil
	})
}

func formatBackground(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// OverlapsDedupCmd removes duplicate overlap pairs.
type OverlapsDedupCmd struct {
	DB    string `arg:"" help:"Database name"`
	Table string `default:"overlaps" help:"Overlaps table to deduplicate"`
}

func (c *OverlapsDedupCmd) Run(app *App) error {
	return app.withStore(c.DB, func(s *storage.Store) error {
		n, err := s.RemoveDuplicates(app.ctx, c.Table)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.out, "Removed %d duplicate rows from %s\n", n, c.Table)
		return nil
	})
}

// TableCreateCmd creates one of the catalog tables.
type TableCreateCmd struct {
	DB   string `arg:"" help:"Database name"`
	Name string `arg:"" enum:"files,overlaps" help:"Table to create (files or overlaps)"`
}

func (c *TableCreateCmd) Run(app *App) error {
	def, ok := storage.LookupDefinition(c.Name)
	if !ok {
		return fmt.Errorf("unknown table %q", c.Name)
	}
	return app.withStore(c.DB, func(s *storage.Store) error {
		if err := s.CreateTable(app.ctx, def); err != nil {
			return err
		}
		fmt.Fprintf(app.out, "Table %s ready\n", def.Name)
		return nil
	})
}

// TableDropCmd drops a table.
type TableDropCmd struct {
	DB    string `arg:"" help:"Database name"`
	Table string `arg:"" help:"Table to drop"`
}

func (c *TableDropCmd) Run(app *App) error {
	return app.withStore(c.DB, func(s *storage.Store) error {
		if err := s.RemoveTable(app.ctx, c.Table); err != nil {
			return err
		}
		fmt.Fprintf(app.out, "Dropped %s\n", c.Table)
		return nil
	})
}

// TableListCmd lists tables with their row counts.
type TableListCmd struct {
	DB string `arg:"" help:"Database name"`
}

func (c *TableListCmd) Run(app *App) error {
	return app.withStore(c.DB, func(s *storage.Store) error {
		names, err := s.Tables(app.ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(app.out, heading.Render(fmt.Sprintf("%-32s %12s", "TABLE", "ROWS")))
		for _, name := range names {
			n, err := s.CountRows(app.ctx, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.out, "%-32s %12d\n", name, n)
		}
		return nil
	})
}

// ColumnAddCmd adds a column.
type ColumnAddCmd struct {
	DB      string `arg:"" help:"Database name"`
	Table   string `arg:"" help:"Table to alter"`
	Column  string `arg:"" help:"New column name"`
	Type    string `arg:"" help:"Column type, e.g. INTEGER, TEXT or DECIMAL"`
	NotNull bool   `name:"not-null" help:"Add a NOT NULL constraint (requires --default)"`
	Default string `help:"Default value literal, e.g. 0, 1.5, 'text' or NULL"`
}

func (c *ColumnAddCmd) Run(app *App) error {
	col := storage.ColumnDef{Name: c.Column, Type: c.Type, NotNull: c.NotNull}
	if c.Default != "" {
		lit, err := storage.LiteralDefault(storage.ParseLiteral(c.Default))
		if err != nil {
			return err
		}
		col.Default = lit
	}
	return app.withStore(c.DB, func(s *storage.Store) error {
		if err := s.AddColumn(app.ctx, c.Table, col); err != nil {
			return err
		}
		fmt.Fprintf(app.out, "Added %s.%s\n", c.Table, c.Column)
		return nil
	})
}

// ColumnDropCmd removes a column.
type ColumnDropCmd struct {
	DB     string `arg:"" help:"Database name"`
	Table  string `arg:"" help:"Table to alter"`
	Column string `arg:"" help:"Column to remove"`
}

func (c *ColumnDropCmd) Run(app *App) error {
	return app.withStore(c.DB, func(s *storage.Store) error {
		if err := s.RemoveColumn(app.ctx, c.Table, c.Column); err != nil {
			return err
		}
		fmt.Fprintf(app.out, "Removed %s.%s\n", c.Table, c.Column)
		return nil
	})
}

// ColumnListCmd lists the columns of a table.
type ColumnListCmd struct {
	DB    string `arg:"" help:"Database name"`
	Table string `arg:"" help:"Table to describe"`
}

func (c *ColumnListCmd) Run(app *App) error {
	return app.withStore(c.DB, func(s *storage.Store) error {
		cols, err := s.Columns(app.ctx, c.Table)
		if err != nil {
			return err
		}
		fmt.Fprintln(app.out, heading.Render(fmt.Sprintf("%-24s %-16s %-8s %-4s %s", "COLUMN", "TYPE", "NOTNULL", "PK", "DEFAULT")))
		for _, col := range cols {
			def := ""
			if col.DefaultValue != nil {
				def = *col.DefaultValue
			}
			fmt.Fprintf(app.out, "%-24s %-16s %-8t %-4d %s\n", col.Name, col.Type, col.NotNull, col.PrimaryKey, def)
		}
		return nil
	})
}

// UpdateCmd updates rows.
type UpdateCmd struct {
	DB    string            `arg:"" help:"Database name"`
	Table string            `arg:"" help:"Table to update"`
	Set   map[string]string `required:"" help:"Assignment column=value; repeatable"`
	Where map[string]string `required:"" help:"Condition column=value; repeatable, all must match"`
}

func (c *UpdateCmd) Run(app *App) error {
	set := storage.Assignments{}
	for k, v := range c.Set {
		set[k] = storage.ParseLiteral(v)
	}
	where := storage.Conditions{}
	for k, v := range c.Where {
		where[k] = storage.ParseLiteral(v)
	}

	return app.withStore(c.DB, func(s *storage.Store) error {
		n, err := s.UpdateEntry(app.ctx, c.Table, set, where)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.out, "Updated %d rows in %s (set %s)\n", n, c.Table, strings.Join(sortedNames(c.Set), ", "))
		return nil
	})
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// HistogramCmd prints a histogram of a numeric column.
type HistogramCmd struct {
	DB        string `arg:"" help:"Database name"`
	Table     string `arg:"" help:"Table to read"`
	Column    string `default:"file1_id" help:"Integer column to histogram"`
	Threshold *int64 `help:"Exclude values at or above this, 0 keeps every value (default from config)"`
	Bins      *int   `help:"Number of equal-width bins (default from config)"`
	Format    string `default:"text" enum:"text,csv" help:"Output format (text or csv)"`
	Width     int    `default:"50" help:"Longest bar in text output"`
}

func (c *HistogramCmd) Run(app *App) error {
	opts := histogram.Options{
		Threshold: app.cfg.Histogram.Threshold,
		Bins:      app.cfg.Histogram.Bins,
	}
	if c.Threshold != nil {
		opts.Threshold = *c.Threshold
	}
	if c.Bins != nil {
		opts.Bins = *c.Bins
	}
	if opts.Threshold < 0 || opts.Bins <= 0 {
		return fmt.Errorf("threshold must not be negative and bins must be positive")
	}

	return app.withStore(c.DB, func(s *storage.Store) error {
		values, err := s.ColumnValues(app.ctx, c.Table, c.Column)
		if err != nil {
			return err
		}
		h := histogram.Compute(values, opts)
		return histogram.Render(app.out, h, histogram.RenderOptions{Width: c.Width, Format: c.Format})
	})
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(app *App) error {
	fmt.Fprintf(app.out, "catalogdb %s\n", version)
	return nil
}
