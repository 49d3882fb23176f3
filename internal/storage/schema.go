package storage

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Table names of the catalog
const (
	FilesTableName    = "files"
	OverlapsTableName = "overlaps"
)

// ColumnDef declares one column of a table
type ColumnDef struct {
	Name       string
	Type       string
	PrimaryKey bool
	NotNull    bool
	// Default is a SQL literal; build it with LiteralDefault. Empty means no default.
	Default string
}

// IndexDef declares a secondary index
type IndexDef struct {
	Name    string
	Columns []string
}

// TableDefinition declares a table and its indexes
type TableDefinition struct {
	Name    string
	Columns []ColumnDef
	Indexes []IndexDef
}

// FilesTable is the catalog of image frames
var FilesTable = TableDefinition{
	Name: FilesTableName,
	Columns: []ColumnDef{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "prefix", Type: "TEXT", NotNull: true},
		{Name: "band", Type: "INTEGER", NotNull: true},
	},
}

// OverlapsTable records pairwise overlaps between catalogued frames
var OverlapsTable = TableDefinition{
	Name: OverlapsTableName,
	Columns: []ColumnDef{
		{Name: "overlap_id", Type: "INTEGER", PrimaryKey: true},
		{Name: "file1_id", Type: "INTEGER", NotNull: true},
		{Name: "file2_id", Type: "INTEGER", NotNull: true},
		{Name: "background1", Type: "DECIMAL"},
		{Name: "background2", Type: "DECIMAL"},
	},
	Indexes: []IndexDef{
		{Name: "idx_overlaps_pair", Columns: []string{"file1_id", "file2_id"}},
	},
}

// Definitions lists the tables this package knows how to create
var Definitions = map[string]TableDefinition{
	FilesTableName:    FilesTable,
	OverlapsTableName: OverlapsTable,
}

// LookupDefinition returns the registered definition for a table name
func LookupDefinition(name string) (TableDefinition, bool) {
	def, ok := Definitions[name]
	return def, ok
}

// Validate checks every identifier and type in the definition
func (d TableDefinition) Validate() error {
	if err := validateIdentifier(d.Name); err != nil {
		return err
	}
	if len(d.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", d.Name)
	}
	seen := make(map[string]bool, len(d.Columns))
	for _, c := range d.Columns {
		if err := c.Validate(); err != nil {
			return err
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return fmt.Errorf("%w: %s declared twice in %s", ErrColumnExists, c.Name, d.Name)
		}
		seen[key] = true
	}
	for _, idx := range d.Indexes {
		if err := validateIdentifier(idx.Name); err != nil {
			return err
		}
		if len(idx.Columns) == 0 {
			return fmt.Errorf("index %s has no columns", idx.Name)
		}
		for _, col := range idx.Columns {
			if !seen[strings.ToLower(col)] {
				return fmt.Errorf("%w: index %s references %s", ErrColumnNotFound, idx.Name, col)
			}
		}
	}
	return nil
}

// Validate checks the column name, type and default
func (c ColumnDef) Validate() error {
	if err := validateIdentifier(c.Name); err != nil {
		return err
	}
	if err := validateColumnType(c.Type); err != nil {
		return err
	}
	if c.Default != "" && !isLiteral(c.Default) {
		return fmt.Errorf("invalid default for column %s: %q is not a literal", c.Name, c.Default)
	}
	return nil
}

// createTableSQL renders CREATE TABLE IF NOT EXISTS for a validated definition
func (d TableDefinition) createTableSQL() string {
	cols := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		cols = append(cols, c.sql())
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quoteIdent(d.Name), strings.Join(cols, ",\n\t"))
}

func (d TableDefinition) createIndexSQL(idx IndexDef) string {
	cols := make([]string, 0, len(idx.Columns))
	for _, c := range idx.Columns {
		cols = append(cols, quoteIdent(c))
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(idx.Name), quoteIdent(d.Name), strings.Join(cols, ", "))
}

func (c ColumnDef) sql() string {
	var b strings.Builder
	b.WriteString(quoteIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(strings.TrimSpace(c.Type))
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	return b.String()
}

var (
	numericLiteral = regexp.MustCompile(`^[+-]?([0-9]+(\.[0-9]*)?|\.[0-9]+)([eE][+-]?[0-9]+)?$`)
	stringLiteral  = regexp.MustCompile(`^'([^']|'')*'$`)
)

func isLiteral(s string) bool {
	switch strings.ToUpper(s) {
	case "NULL", "CURRENT_TIME", "CURRENT_DATE", "CURRENT_TIMESTAMP", "TRUE", "FALSE":
		return true
	}
	return numericLiteral.MatchString(s) || stringLiteral.MatchString(s)
}

// LiteralDefault renders a Go value as a SQL literal usable as a column default
func LiteralDefault(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return "", fmt.Errorf("unsupported default value %v", val)
		}
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case bool:
		if val {
			return "1", nil
		}
		return "0", nil
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'", nil
	default:
		return "", fmt.Errorf("unsupported default value type %T", v)
	}
}
